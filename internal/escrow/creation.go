package escrow

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"

	"gigledger/internal/apperr"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
	"gigledger/internal/repo"
)

type ProfileInput struct {
	AccountID string
	Name      string
	Skills    []string
	Portfolio string
	Email     string
	Role      domain.Role
}

// PreparedEvent pairs an unsigned channel message with the canonical event
// it carries. The caller hands the event back to the matching record call.
type PreparedEvent[T any] struct {
	Unsigned ledger.Envelope `json:"unsigned"`
	Event    T               `json:"event"`
}

// PrepareProfileCreation builds a PROFILE_CREATE message paid by the account
// itself.
func (o *Orchestrator) PrepareProfileCreation(ctx context.Context, in ProfileInput) (PreparedEvent[domain.ProfileCreateEvent], error) {
	var out PreparedEvent[domain.ProfileCreateEvent]
	if _, err := ledger.ParseEntityID(in.AccountID); err != nil {
		return out, apperr.Validation("account id: %v", err)
	}
	evt := domain.ProfileCreateEvent{
		Type:      domain.EventProfileCreate,
		AccountID: in.AccountID,
		Name:      strings.TrimSpace(in.Name),
		Skills:    in.Skills,
		Portfolio: in.Portfolio,
		Email:     in.Email,
		Role:      in.Role,
		Timestamp: o.stamp(),
	}
	if evt.Skills == nil {
		evt.Skills = []string{}
	}
	if err := events.ValidateProfileCreate(evt); err != nil {
		return out, apperr.Validation("%v", err)
	}
	if _, err := o.Repo.GetProfile(ctx, in.AccountID); err == nil {
		return out, apperr.Conflict("profile %s already exists", in.AccountID).With("account_id", in.AccountID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return out, err
	}
	unsigned, err := o.message(in.AccountID, o.Config.Channels.Profile, evt)
	if err != nil {
		return out, err
	}
	out.Unsigned, out.Event = unsigned, evt
	return out, nil
}

// RecordProfileCreation stores the profile carried by a submitted
// PROFILE_CREATE payload.
func (o *Orchestrator) RecordProfileCreation(ctx context.Context, payload []byte) (domain.Profile, error) {
	evt, err := decodeAs(payload, domain.EventProfileCreate)
	if err != nil {
		return domain.Profile{}, err
	}
	p := evt.ProfileCreate.Profile(o.stamp())
	tx, err := o.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	// Profiles are immutable once created; only replay overwrites them.
	existing, err := o.Repo.GetProfileTx(ctx, tx, p.AccountID)
	switch {
	case err == nil:
		if !sameProfile(existing, p) {
			return domain.Profile{}, apperr.Conflict("profile %s already exists", p.AccountID).With("account_id", p.AccountID)
		}
		return existing, nil
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Profile{}, err
	}
	if err := o.Repo.InsertProfileTx(ctx, tx, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Profile{}, apperr.Conflict("profile %s already exists", p.AccountID).With("account_id", p.AccountID)
		}
		return domain.Profile{}, err
	}
	if err := o.Events.Append(ctx, tx, "profile.create", "profile", p.AccountID, p.AccountID, events.Payload{"role": p.Role}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return o.Repo.GetProfile(ctx, p.AccountID)
}

// sameProfile reports whether b carries the same registration as a, so a
// record that replay already materialized is accepted as a no-op.
func sameProfile(a, b domain.Profile) bool {
	return a.Name == b.Name && a.Role == b.Role && a.Email == b.Email &&
		a.Portfolio == b.Portfolio && slices.Equal(a.Skills, b.Skills)
}

type GigInput struct {
	ClientID    string
	Title       string
	Description string
	Budget      domain.Budget
	Duration    string
	Visibility  domain.Visibility
}

// PrepareGigCreation assigns a fresh gig ref id and builds the GIG_CREATE
// message paid by the client.
func (o *Orchestrator) PrepareGigCreation(ctx context.Context, in GigInput) (PreparedEvent[domain.GigCreateEvent], error) {
	var out PreparedEvent[domain.GigCreateEvent]
	if strings.TrimSpace(in.ClientID) == "" {
		return out, apperr.Validation("client id is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return out, apperr.Validation("title is required")
	}
	if err := events.ValidateTitle(in.Title); err != nil {
		return out, apperr.Validation("%v", err)
	}
	if err := in.Budget.Validate(); err != nil {
		return out, apperr.Validation("%v", err)
	}
	if in.Visibility == "" {
		in.Visibility = domain.VisibilityPublic
	}
	if !in.Visibility.Valid() {
		return out, apperr.Validation("visibility must be PUBLIC or PRIVATE")
	}
	if _, err := o.Repo.GetProfile(ctx, in.ClientID); errors.Is(err, repo.ErrNotFound) {
		return out, apperr.NotFound("profile", in.ClientID)
	} else if err != nil {
		return out, err
	}
	evt := domain.GigCreateEvent{
		Type:        domain.EventGigCreate,
		GigRefID:    uuid.NewString(),
		ClientID:    in.ClientID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Budget:      in.Budget,
		Duration:    in.Duration,
		Visibility:  in.Visibility,
		Timestamp:   o.stamp(),
	}
	unsigned, err := o.message(in.ClientID, o.Config.Channels.Gig, evt)
	if err != nil {
		return out, err
	}
	out.Unsigned, out.Event = unsigned, evt
	return out, nil
}

// RecordGigCreation stores the gig carried by a submitted GIG_CREATE payload.
// Recording a gig that replay already materialized returns the stored gig.
func (o *Orchestrator) RecordGigCreation(ctx context.Context, payload []byte, sequence int64) (domain.Gig, error) {
	if sequence <= 0 {
		return domain.Gig{}, apperr.Validation("sequence number must be positive")
	}
	evt, err := decodeAs(payload, domain.EventGigCreate)
	if err != nil {
		return domain.Gig{}, err
	}
	if err := events.ValidateTitle(evt.GigCreate.Title); err != nil {
		return domain.Gig{}, apperr.Validation("%v", err)
	}
	// The sequence comes from the caller and is not checked against the
	// ledger, so it must not gate replay: the first replay sets log_seq.
	g := domain.NewGigFromCreate(*evt.GigCreate, 0, o.stamp())
	tx, err := o.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gig{}, err
	}
	defer tx.Rollback()
	inserted, err := o.Repo.InsertGigTx(ctx, tx, g)
	if err != nil {
		return domain.Gig{}, err
	}
	if inserted {
		if err := o.Events.Append(ctx, tx, "gig.create", "gig", g.RefID, g.ClientID, events.Payload{
			"budget": g.Budget.String(), "visibility": g.Visibility, "sequence": sequence,
		}); err != nil {
			return domain.Gig{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Gig{}, err
	}
	return o.Repo.GetGig(ctx, g.RefID)
}

func (o *Orchestrator) message(payer, channel string, evt any) (ledger.Envelope, error) {
	raw, err := events.Encode(evt)
	if err != nil {
		return ledger.Envelope{}, err
	}
	tx, err := o.builder().TopicMessage(payer, channel, raw)
	if err != nil {
		return ledger.Envelope{}, apperr.Validation("%v", err)
	}
	return tx.Envelope()
}

func decodeAs(payload []byte, want string) (events.Decoded, error) {
	if len(payload) == 0 {
		return events.Decoded{}, apperr.Validation("event payload is required")
	}
	evt, err := events.Decode(payload)
	if err != nil {
		return events.Decoded{}, apperr.Validation("%v", err)
	}
	if evt.Type != want {
		return events.Decoded{}, apperr.Validation("expected %s payload, got %s", want, evt.Type)
	}
	return evt, nil
}
