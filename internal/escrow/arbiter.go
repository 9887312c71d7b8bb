package escrow

import (
	"context"
	"errors"
	"strings"

	"gigledger/internal/apperr"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
	"gigledger/internal/notify"
	"gigledger/internal/repo"
)

// ArbiterRelease pays out the escrow of contractID to the worker with the
// arbiter key and completes the gig.
func (o *Orchestrator) ArbiterRelease(ctx context.Context, contractID, arbiterID string) (domain.Gig, error) {
	g, err := o.arbitrable(ctx, contractID)
	if err != nil {
		return domain.Gig{}, err
	}
	receipt, err := o.Gateway.ExecutePrivileged(ctx, contractID, ledger.FnArbiterRelease, nil, o.Config.Escrow.CallGas)
	if err != nil {
		return domain.Gig{}, apperr.External("arbiter release", err).With("contract_id", contractID)
	}
	next, err := o.settle(ctx, g, domain.GigCompletedByArbiter, domain.EscrowReleased, arbiterID, "arbiter.release", events.Payload{
		"contract_id": contractID, "transaction_id": receipt.TransactionID,
	})
	if err != nil {
		return domain.Gig{}, err
	}
	o.notifyRelease(ctx, next)
	return next, nil
}

// ArbiterCancel refunds the escrow of contractID to the client with the
// arbiter key and cancels the gig.
func (o *Orchestrator) ArbiterCancel(ctx context.Context, contractID, arbiterID string) (domain.Gig, error) {
	g, err := o.arbitrable(ctx, contractID)
	if err != nil {
		return domain.Gig{}, err
	}
	receipt, err := o.Gateway.ExecutePrivileged(ctx, contractID, ledger.FnArbiterCancel, nil, o.Config.Escrow.CallGas)
	if err != nil {
		return domain.Gig{}, apperr.External("arbiter cancel", err).With("contract_id", contractID)
	}
	next, err := o.settle(ctx, g, domain.GigCancelledByArbiter, domain.EscrowCancelled, arbiterID, "arbiter.cancel", events.Payload{
		"contract_id": contractID, "transaction_id": receipt.TransactionID,
	})
	if err != nil {
		return domain.Gig{}, err
	}
	if o.Notifier != nil {
		o.Notifier.Notify(notify.GigCancelled(o.profileEmail(ctx, next.ClientID), next.Title))
		if next.AssignedFreelancerID != nil {
			o.Notifier.Notify(notify.GigCancelled(o.profileEmail(ctx, *next.AssignedFreelancerID), next.Title))
		}
	}
	return next, nil
}

func (o *Orchestrator) arbitrable(ctx context.Context, contractID string) (domain.Gig, error) {
	if _, err := ledger.ParseEntityID(strings.TrimSpace(contractID)); err != nil {
		return domain.Gig{}, apperr.Validation("contract id: %v", err)
	}
	g, err := o.Repo.GetGigByContract(ctx, contractID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Gig{}, apperr.NotFound("escrow contract", contractID)
	}
	if err != nil {
		return domain.Gig{}, err
	}
	if err := requireStatus(g, domain.GigInProgress, domain.EscrowInProgress, domain.EscrowLocked); err != nil {
		return domain.Gig{}, err
	}
	return g, nil
}
