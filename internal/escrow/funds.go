package escrow

import (
	"context"
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"

	"gigledger/internal/apperr"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
	"gigledger/internal/notify"
)

// PrepareLock builds the payable deposit call funding the gig's escrow.
func (o *Orchestrator) PrepareLock(ctx context.Context, ref, clientID string, amount decimal.Decimal) (ledger.Envelope, error) {
	g, err := o.lockable(ctx, ref, clientID)
	if err != nil {
		return ledger.Envelope{}, err
	}
	units, err := o.toUnits(amount)
	if err != nil {
		return ledger.Envelope{}, err
	}
	contractID, err := contractOf(g)
	if err != nil {
		return ledger.Envelope{}, err
	}
	tx, err := o.builder().ContractCall(clientID, contractID, ledger.FnDeposit, o.Config.Escrow.CallGas, units)
	if err != nil {
		return ledger.Envelope{}, apperr.Validation("%v", err)
	}
	return tx.Envelope()
}

type RecordCallInput struct {
	ClientID     string
	SubmissionID string
	// Amount is required when recording a lock.
	Amount decimal.Decimal
}

// RecordLock confirms the deposit and marks the escrow LOCKED. The gig
// status is unchanged.
func (o *Orchestrator) RecordLock(ctx context.Context, ref string, in RecordCallInput) (domain.Gig, error) {
	if strings.TrimSpace(in.SubmissionID) == "" {
		return domain.Gig{}, apperr.Validation("submission id is required")
	}
	g, err := o.lockable(ctx, ref, in.ClientID)
	if err != nil {
		return domain.Gig{}, err
	}
	if _, err := o.toUnits(in.Amount); err != nil {
		return domain.Gig{}, err
	}
	contractID, err := contractOf(g)
	if err != nil {
		return domain.Gig{}, err
	}
	if err := o.Resolver.ConfirmCall(ctx, in.SubmissionID, contractID); err != nil {
		return domain.Gig{}, err
	}
	next := g
	next.EscrowStatus = domain.EscrowLocked
	amount := in.Amount
	next.EscrowAmount = &amount
	seq, err := o.publish(ctx, domain.GigUpdateEvent{GigRefID: ref, EscrowStatus: &next.EscrowStatus, EscrowAmount: &amount})
	if err != nil {
		return domain.Gig{}, err
	}
	next.LogSeq = seq
	next.UpdatedAt = o.stamp()
	if err := o.commit(ctx, next, g, in.ClientID, "escrow.lock", events.Payload{
		"contract_id": contractID, "amount": amount.String(), "submission_id": in.SubmissionID,
	}, nil); err != nil {
		return domain.Gig{}, err
	}
	o.logger().Info("escrow locked", "gig_ref_id", ref, "contract_id", contractID, "amount", amount.String())
	return next, nil
}

func (o *Orchestrator) lockable(ctx context.Context, ref, clientID string) (domain.Gig, error) {
	g, err := o.ownedGig(ctx, ref, clientID)
	if err != nil {
		return domain.Gig{}, err
	}
	if err := requireStatus(g, domain.GigInProgress, domain.EscrowInProgress); err != nil {
		return domain.Gig{}, err
	}
	return g, nil
}

// PrepareRelease builds the client's release call.
func (o *Orchestrator) PrepareRelease(ctx context.Context, ref, clientID string) (ledger.Envelope, error) {
	g, err := o.releasable(ctx, ref, clientID)
	if err != nil {
		return ledger.Envelope{}, err
	}
	contractID, err := contractOf(g)
	if err != nil {
		return ledger.Envelope{}, err
	}
	tx, err := o.builder().ContractCall(clientID, contractID, ledger.FnRelease, o.Config.Escrow.CallGas, 0)
	if err != nil {
		return ledger.Envelope{}, apperr.Validation("%v", err)
	}
	return tx.Envelope()
}

// RecordRelease confirms the release, completes the gig and credits the
// worker's XP with the integer part of the budget.
func (o *Orchestrator) RecordRelease(ctx context.Context, ref string, in RecordCallInput) (domain.Gig, error) {
	if strings.TrimSpace(in.SubmissionID) == "" {
		return domain.Gig{}, apperr.Validation("submission id is required")
	}
	g, err := o.releasable(ctx, ref, in.ClientID)
	if err != nil {
		return domain.Gig{}, err
	}
	contractID, err := contractOf(g)
	if err != nil {
		return domain.Gig{}, err
	}
	if err := o.Resolver.ConfirmCall(ctx, in.SubmissionID, contractID); err != nil {
		return domain.Gig{}, err
	}
	next, err := o.settle(ctx, g, domain.GigCompleted, domain.EscrowReleased, in.ClientID, "escrow.release", events.Payload{
		"contract_id": contractID, "submission_id": in.SubmissionID,
	})
	if err != nil {
		return domain.Gig{}, err
	}
	o.notifyRelease(ctx, next)
	return next, nil
}

func (o *Orchestrator) releasable(ctx context.Context, ref, clientID string) (domain.Gig, error) {
	g, err := o.ownedGig(ctx, ref, clientID)
	if err != nil {
		return domain.Gig{}, err
	}
	if err := requireStatus(g, domain.GigInProgress, domain.EscrowLocked); err != nil {
		return domain.Gig{}, err
	}
	return g, nil
}

// settle publishes and commits a terminal transition. Releases credit the
// assigned worker's XP in the same transaction.
func (o *Orchestrator) settle(ctx context.Context, g domain.Gig, status domain.GigStatus, escrow domain.EscrowStatus, actorID, evtType string, payload events.Payload) (domain.Gig, error) {
	next := g
	next.Status = status
	next.EscrowStatus = escrow
	seq, err := o.publish(ctx, domain.GigUpdateEvent{GigRefID: g.RefID, Status: &next.Status, EscrowStatus: &next.EscrowStatus})
	if err != nil {
		return domain.Gig{}, err
	}
	next.LogSeq = seq
	next.UpdatedAt = o.stamp()

	var credit func(tx *sql.Tx) error
	if escrow == domain.EscrowReleased && next.AssignedFreelancerID != nil {
		worker := *next.AssignedFreelancerID
		xp := next.Budget.XPValue()
		if xp > 0 {
			payload["xp_awarded"] = xp
			credit = func(tx *sql.Tx) error {
				_, err := o.Repo.IncrementXPTx(ctx, tx, worker, xp, next.UpdatedAt)
				return err
			}
		}
	}
	if err := o.commit(ctx, next, g, actorID, evtType, payload, credit); err != nil {
		return domain.Gig{}, err
	}
	o.logger().Info("gig settled", "gig_ref_id", g.RefID, "status", status, "escrow_status", escrow, "log_seq", seq)
	return next, nil
}

func (o *Orchestrator) notifyRelease(ctx context.Context, g domain.Gig) {
	if o.Notifier == nil || g.AssignedFreelancerID == nil {
		return
	}
	amount := g.Budget.String()
	if g.EscrowAmount != nil {
		amount = g.EscrowAmount.String() + " " + g.Budget.Currency
	}
	o.Notifier.Notify(notify.GigCompleted(o.profileEmail(ctx, *g.AssignedFreelancerID), g.Title, amount))
}
