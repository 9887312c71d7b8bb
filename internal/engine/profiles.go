package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"gigledger/internal/apperr"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
	"gigledger/internal/repo"
)

type RegisterInput struct {
	AccountID string
	Name      string
	Skills    []string
	Portfolio string
	Email     string
	Role      domain.Role
}

// RegisterProfile creates a profile directly in the store, without a
// PROFILE_CREATE round trip through the ledger.
func (e Engine) RegisterProfile(ctx context.Context, in RegisterInput) (domain.Profile, error) {
	if _, err := ledger.ParseEntityID(in.AccountID); err != nil {
		return domain.Profile{}, apperr.Validation("account id: %v", err)
	}
	evt := domain.ProfileCreateEvent{
		Type:      domain.EventProfileCreate,
		AccountID: in.AccountID,
		Name:      strings.TrimSpace(in.Name),
		Skills:    in.Skills,
		Portfolio: in.Portfolio,
		Email:     in.Email,
		Role:      in.Role,
	}
	if err := events.ValidateProfileCreate(evt); err != nil {
		return domain.Profile{}, apperr.Validation("%v", err)
	}
	p := evt.Profile(e.stamp())
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertProfileTx(ctx, tx, p); err != nil {
			return conflict(err, "profile %s already exists", p.AccountID)
		}
		return e.Events.Append(ctx, tx, "profile.register", "profile", p.AccountID, p.AccountID, events.Payload{"role": p.Role})
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func (e Engine) GetProfile(ctx context.Context, accountID string) (domain.Profile, error) {
	return e.profile(ctx, nil, accountID)
}

func (e Engine) ListProfiles(ctx context.Context, role domain.Role, limit int) ([]domain.Profile, error) {
	if role != "" && !role.Valid() {
		return nil, apperr.Validation("unknown role %q", role)
	}
	return e.Repo.ListProfiles(ctx, role, limit)
}

func (e Engine) GetGig(ctx context.Context, ref string) (domain.Gig, error) {
	return e.gig(ctx, nil, ref)
}

type GigQuery struct {
	Status       domain.GigStatus
	ClientID     string
	FreelancerID string
	Visibility   domain.Visibility
	Limit        int
	Cursor       string
}

// GigPage is one page of a gig listing. Next is empty on the last page.
type GigPage struct {
	Gigs []domain.Gig `json:"gigs"`
	Next string       `json:"next_cursor,omitempty"`
}

func (e Engine) ListGigs(ctx context.Context, q GigQuery) (GigPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return GigPage{}, apperr.Validation("unknown gig status %q", q.Status)
	}
	if q.Visibility != "" && !q.Visibility.Valid() {
		return GigPage{}, apperr.Validation("unknown visibility %q", q.Visibility)
	}
	gigs, next, err := e.Repo.ListGigs(ctx, repo.GigFilters{
		Status:       q.Status,
		ClientID:     q.ClientID,
		FreelancerID: q.FreelancerID,
		Visibility:   q.Visibility,
		Limit:        q.Limit,
		Cursor:       q.Cursor,
	})
	if errors.Is(err, repo.ErrInvalidCursor) {
		return GigPage{}, apperr.Validation("invalid cursor")
	}
	if err != nil {
		return GigPage{}, err
	}
	if gigs == nil {
		gigs = []domain.Gig{}
	}
	return GigPage{Gigs: gigs, Next: next}, nil
}

// ListActivity returns the local journal, newest first.
func (e Engine) ListActivity(ctx context.Context, entityKind, entityID string, limit int) ([]domain.Activity, error) {
	return e.Repo.ListActivity(ctx, entityKind, entityID, limit)
}

func (e Engine) ListSyncRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	return e.Repo.ListSyncRuns(ctx, limit)
}
