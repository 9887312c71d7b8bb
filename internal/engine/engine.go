// Package engine is the Gig Lifecycle Controller: the application and
// invitation sub-protocol of OPEN gigs, reviews on finished gigs, XP
// rewards, gig messages and the read side of profiles and gigs.
//
// State changes that move escrowed funds live in package escrow; every
// other gig-scoped write goes through here.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gigledger/internal/apperr"
	"gigledger/internal/config"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
	"gigledger/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Builder ledger.Builder
	Logger  *slog.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	e.Events = events.Writer{Now: e.now}
	if cfg != nil {
		e.Builder = ledger.Builder{NodeAccountID: cfg.Ledger.NodeAccountID}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) gig(ctx context.Context, tx *sql.Tx, ref string) (domain.Gig, error) {
	if strings.TrimSpace(ref) == "" {
		return domain.Gig{}, apperr.Validation("gig ref id is required")
	}
	g, err := e.Repo.GetGigTx(ctx, tx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Gig{}, apperr.NotFound("gig", ref)
	}
	return g, err
}

func (e Engine) profile(ctx context.Context, tx *sql.Tx, accountID string) (domain.Profile, error) {
	if strings.TrimSpace(accountID) == "" {
		return domain.Profile{}, apperr.Validation("account id is required")
	}
	p, err := e.Repo.GetProfileTx(ctx, tx, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Profile{}, apperr.NotFound("profile", accountID)
	}
	return p, err
}

func requireOpen(g domain.Gig) error {
	if g.Status != domain.GigOpen {
		return apperr.StateConflict("gig", g.RefID, []string{string(domain.GigOpen)}, string(g.Status))
	}
	return nil
}

// conflict maps a store uniqueness or guard failure to a StateConflict.
func conflict(err error, format string, args ...any) error {
	if errors.Is(err, repo.ErrConflict) {
		return apperr.Conflict(format, args...)
	}
	return err
}
