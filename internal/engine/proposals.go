package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gigledger/internal/apperr"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/repo"
)

type ApplyInput struct {
	GigRefID     string
	FreelancerID string
	CoverLetter  string
	ProposedRate *decimal.Decimal
}

// Apply files a PENDING application on a public OPEN gig. A freelancer
// applies at most once per gig.
func (e Engine) Apply(ctx context.Context, in ApplyInput) (domain.Application, error) {
	if strings.TrimSpace(in.CoverLetter) == "" {
		return domain.Application{}, apperr.Validation("cover letter is required")
	}
	if in.ProposedRate != nil && !in.ProposedRate.IsPositive() {
		return domain.Application{}, apperr.Validation("proposed rate must be positive")
	}
	now := e.stamp()
	a := domain.Application{
		ID:           uuid.NewString(),
		GigRefID:     in.GigRefID,
		FreelancerID: in.FreelancerID,
		CoverLetter:  in.CoverLetter,
		ProposedRate: in.ProposedRate,
		Status:       domain.ProposalPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		g, err := e.gig(ctx, tx, in.GigRefID)
		if err != nil {
			return err
		}
		if g.Visibility != domain.VisibilityPublic {
			return apperr.StateConflict("gig visibility", g.RefID, []string{string(domain.VisibilityPublic)}, string(g.Visibility))
		}
		if err := requireOpen(g); err != nil {
			return err
		}
		if err := e.requireFreelancer(ctx, tx, in.FreelancerID, g); err != nil {
			return err
		}
		if err := e.Repo.InsertApplicationTx(ctx, tx, a); err != nil {
			return conflict(err, "account %s already applied to gig %s", in.FreelancerID, g.RefID)
		}
		return e.Events.Append(ctx, tx, "application.create", "application", a.ID, in.FreelancerID, events.Payload{"gig_ref_id": g.RefID})
	})
	if err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// requireFreelancer checks that accountID is a registered freelancer other
// than the gig's client.
func (e Engine) requireFreelancer(ctx context.Context, tx *sql.Tx, accountID string, g domain.Gig) error {
	p, err := e.profile(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if p.Role != domain.RoleFreelancer {
		return apperr.Authorization("account %s is not a freelancer", accountID).With("role", p.Role)
	}
	if accountID == g.ClientID {
		return apperr.Validation("a client cannot take on their own gig")
	}
	return nil
}

// ListApplications returns every application of ref to its owner, and only
// the caller's own application to anyone else.
func (e Engine) ListApplications(ctx context.Context, ref, callerID string) ([]domain.Application, error) {
	if strings.TrimSpace(callerID) == "" {
		return nil, apperr.Validation("caller id is required")
	}
	g, err := e.gig(ctx, nil, ref)
	if err != nil {
		return nil, err
	}
	all, err := e.Repo.ListApplications(ctx, ref)
	if err != nil {
		return nil, err
	}
	if g.ClientID == callerID {
		return all, nil
	}
	out := []domain.Application{}
	for _, a := range all {
		if a.FreelancerID == callerID {
			out = append(out, a)
		}
	}
	return out, nil
}

type AcceptResult[T any] struct {
	Accepted T     `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// AcceptApplication accepts a PENDING application and rejects its PENDING
// siblings in the same transaction.
func (e Engine) AcceptApplication(ctx context.Context, id, clientID string) (AcceptResult[domain.Application], error) {
	var out AcceptResult[domain.Application]
	now := e.stamp()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		a, g, err := e.ownedApplication(ctx, tx, id, clientID)
		if err != nil {
			return err
		}
		if _, err := e.Repo.AcceptedInvitationTx(ctx, tx, g.RefID); err == nil {
			return apperr.Conflict("gig %s already has an accepted invitation", g.RefID).With("gig_ref_id", g.RefID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		rejected, err := e.Repo.AcceptApplicationTx(ctx, tx, a, now)
		if err != nil {
			return conflict(err, "gig %s already has an accepted application", g.RefID)
		}
		a.Status, a.UpdatedAt = domain.ProposalAccepted, now
		out = AcceptResult[domain.Application]{Accepted: a, Rejected: rejected}
		return e.Events.Append(ctx, tx, "application.accept", "application", a.ID, clientID, events.Payload{
			"gig_ref_id": g.RefID, "freelancer_id": a.FreelancerID, "rejected": rejected,
		})
	})
	if err != nil {
		return AcceptResult[domain.Application]{}, err
	}
	e.logger().Info("application accepted", "gig_ref_id", out.Accepted.GigRefID, "application_id", id, "rejected", out.Rejected)
	return out, nil
}

func (e Engine) RejectApplication(ctx context.Context, id, clientID string) (domain.Application, error) {
	var out domain.Application
	now := e.stamp()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		a, g, err := e.ownedApplication(ctx, tx, id, clientID)
		if err != nil {
			return err
		}
		if err := e.Repo.RejectApplicationTx(ctx, tx, a.ID, now); err != nil {
			return conflict(err, "application %s is no longer pending", a.ID)
		}
		a.Status, a.UpdatedAt = domain.ProposalRejected, now
		out = a
		return e.Events.Append(ctx, tx, "application.reject", "application", a.ID, clientID, events.Payload{"gig_ref_id": g.RefID})
	})
	return out, err
}

// ownedApplication loads a PENDING application on an OPEN gig owned by
// clientID.
func (e Engine) ownedApplication(ctx context.Context, tx *sql.Tx, id, clientID string) (domain.Application, domain.Gig, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Application{}, domain.Gig{}, apperr.Validation("application id is required")
	}
	a, err := e.Repo.GetApplicationTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return a, domain.Gig{}, apperr.NotFound("application", id)
	}
	if err != nil {
		return a, domain.Gig{}, err
	}
	g, err := e.gig(ctx, tx, a.GigRefID)
	if err != nil {
		return a, g, err
	}
	if g.ClientID != clientID {
		return a, g, apperr.Authorization("account %s does not own gig %s", clientID, g.RefID).With("gig_ref_id", g.RefID)
	}
	if err := requireOpen(g); err != nil {
		return a, g, err
	}
	if a.Status != domain.ProposalPending {
		return a, g, apperr.StateConflict("application", a.ID, []string{string(domain.ProposalPending)}, string(a.Status))
	}
	return a, g, nil
}

type InviteInput struct {
	GigRefID     string
	ClientID     string
	FreelancerID string
	Message      string
}

// Invite offers a private OPEN gig to a freelancer.
func (e Engine) Invite(ctx context.Context, in InviteInput) (domain.Invitation, error) {
	now := e.stamp()
	inv := domain.Invitation{
		ID:           uuid.NewString(),
		GigRefID:     in.GigRefID,
		ClientID:     in.ClientID,
		FreelancerID: in.FreelancerID,
		Message:      in.Message,
		Status:       domain.ProposalPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		g, err := e.gig(ctx, tx, in.GigRefID)
		if err != nil {
			return err
		}
		if g.ClientID != in.ClientID {
			return apperr.Authorization("account %s does not own gig %s", in.ClientID, g.RefID).With("gig_ref_id", g.RefID)
		}
		if g.Visibility != domain.VisibilityPrivate {
			return apperr.StateConflict("gig visibility", g.RefID, []string{string(domain.VisibilityPrivate)}, string(g.Visibility))
		}
		if err := requireOpen(g); err != nil {
			return err
		}
		if err := e.requireFreelancer(ctx, tx, in.FreelancerID, g); err != nil {
			return err
		}
		if err := e.Repo.InsertInvitationTx(ctx, tx, inv); err != nil {
			return conflict(err, "account %s is already invited to gig %s", in.FreelancerID, g.RefID)
		}
		return e.Events.Append(ctx, tx, "invitation.create", "invitation", inv.ID, in.ClientID, events.Payload{
			"gig_ref_id": g.RefID, "freelancer_id": in.FreelancerID,
		})
	})
	if err != nil {
		return domain.Invitation{}, err
	}
	return inv, nil
}

// ListInvitations lists invitations of a gig to its owner, or the pending
// and past invitations addressed to a freelancer when ref is empty.
func (e Engine) ListInvitations(ctx context.Context, ref, callerID string) ([]domain.Invitation, error) {
	if strings.TrimSpace(callerID) == "" {
		return nil, apperr.Validation("caller id is required")
	}
	if ref == "" {
		return e.Repo.ListInvitations(ctx, "", callerID)
	}
	g, err := e.gig(ctx, nil, ref)
	if err != nil {
		return nil, err
	}
	if g.ClientID == callerID {
		return e.Repo.ListInvitations(ctx, ref, "")
	}
	return e.Repo.ListInvitations(ctx, ref, callerID)
}

// AcceptInvitation accepts a PENDING invitation on behalf of its invitee and
// rejects the gig's other PENDING invitations.
func (e Engine) AcceptInvitation(ctx context.Context, id, freelancerID string) (AcceptResult[domain.Invitation], error) {
	var out AcceptResult[domain.Invitation]
	now := e.stamp()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		inv, g, err := e.addressedInvitation(ctx, tx, id, freelancerID)
		if err != nil {
			return err
		}
		if _, err := e.Repo.AcceptedApplicationTx(ctx, tx, g.RefID); err == nil {
			return apperr.Conflict("gig %s already has an accepted application", g.RefID).With("gig_ref_id", g.RefID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		rejected, err := e.Repo.AcceptInvitationTx(ctx, tx, inv, now)
		if err != nil {
			return conflict(err, "gig %s already has an accepted invitation", g.RefID)
		}
		inv.Status, inv.UpdatedAt = domain.ProposalAccepted, now
		out = AcceptResult[domain.Invitation]{Accepted: inv, Rejected: rejected}
		return e.Events.Append(ctx, tx, "invitation.accept", "invitation", inv.ID, freelancerID, events.Payload{
			"gig_ref_id": g.RefID, "rejected": rejected,
		})
	})
	if err != nil {
		return AcceptResult[domain.Invitation]{}, err
	}
	e.logger().Info("invitation accepted", "gig_ref_id", out.Accepted.GigRefID, "invitation_id", id, "rejected", out.Rejected)
	return out, nil
}

func (e Engine) DeclineInvitation(ctx context.Context, id, freelancerID string) (domain.Invitation, error) {
	var out domain.Invitation
	now := e.stamp()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		inv, g, err := e.addressedInvitation(ctx, tx, id, freelancerID)
		if err != nil {
			return err
		}
		if err := e.Repo.DeclineInvitationTx(ctx, tx, inv.ID, now); err != nil {
			return conflict(err, "invitation %s is no longer pending", inv.ID)
		}
		inv.Status, inv.UpdatedAt = domain.ProposalRejected, now
		out = inv
		return e.Events.Append(ctx, tx, "invitation.decline", "invitation", inv.ID, freelancerID, events.Payload{"gig_ref_id": g.RefID})
	})
	return out, err
}

func (e Engine) addressedInvitation(ctx context.Context, tx *sql.Tx, id, freelancerID string) (domain.Invitation, domain.Gig, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Invitation{}, domain.Gig{}, apperr.Validation("invitation id is required")
	}
	inv, err := e.Repo.GetInvitationTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return inv, domain.Gig{}, apperr.NotFound("invitation", id)
	}
	if err != nil {
		return inv, domain.Gig{}, err
	}
	if inv.FreelancerID != freelancerID {
		return inv, domain.Gig{}, apperr.Authorization("invitation %s is not addressed to %s", id, freelancerID).With("invitation_id", id)
	}
	g, err := e.gig(ctx, tx, inv.GigRefID)
	if err != nil {
		return inv, g, err
	}
	if err := requireOpen(g); err != nil {
		return inv, g, err
	}
	if inv.Status != domain.ProposalPending {
		return inv, g, apperr.StateConflict("invitation", inv.ID, []string{string(domain.ProposalPending)}, string(inv.Status))
	}
	return inv, g, nil
}
