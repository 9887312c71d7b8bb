// Package resolver maps a submitted operation's client-side transaction id
// to the ledger entity it produced, waiting out indexer lag.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gigledger/internal/apperr"
	"gigledger/internal/ledger"
	"gigledger/internal/metrics"
)

const (
	DefaultAttempts = 5
	DefaultInterval = 2 * time.Second
)

// Resolver polls the indexer with a fixed interval and attempt budget, so
// the worst-case wait is Attempts * Interval.
type Resolver struct {
	Indexer  ledger.Indexer
	Attempts int
	Interval time.Duration
	// Sleep waits d or until ctx is done. Tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

func New(idx ledger.Indexer, attempts int, interval time.Duration, logger *slog.Logger) *Resolver {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if interval < 0 {
		interval = DefaultInterval
	}
	return &Resolver{Indexer: idx, Attempts: attempts, Interval: interval, Logger: logger}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ResolveContract returns the id of the contract created by submissionID.
// A result that carries no contract id means the creation failed and is
// reported at once, without spending the remaining attempts.
func (r *Resolver) ResolveContract(ctx context.Context, submissionID string) (string, error) {
	res, err := r.poll(ctx, submissionID)
	if err != nil {
		return "", err
	}
	if res.ContractID == "" {
		return "", apperr.External("resolve "+submissionID, fmt.Errorf("indexer result has no contract id (result=%s %s)", res.Result, res.ErrorMessage)).
			With("submission_id", submissionID)
	}
	if res.Result != "" && res.Result != ledger.StatusSuccess {
		return "", apperr.External("resolve "+submissionID, fmt.Errorf("contract creation finished with %s %s", res.Result, res.ErrorMessage)).
			With("submission_id", submissionID)
	}
	return res.ContractID, nil
}

// ConfirmCall waits for submissionID to be indexed as a successful call of
// contractID.
func (r *Resolver) ConfirmCall(ctx context.Context, submissionID, contractID string) error {
	res, err := r.poll(ctx, submissionID)
	if err != nil {
		return err
	}
	if res.ContractID == "" {
		return apperr.External("confirm "+submissionID, fmt.Errorf("indexer result has no contract id")).With("submission_id", submissionID)
	}
	if res.ContractID != contractID {
		return apperr.Validation("submission %s called contract %s, expected %s", submissionID, res.ContractID, contractID).
			With("submission_id", submissionID)
	}
	if res.Result != ledger.StatusSuccess {
		return apperr.External("confirm "+submissionID, fmt.Errorf("call finished with %s %s", res.Result, res.ErrorMessage)).
			With("submission_id", submissionID)
	}
	return nil
}

func (r *Resolver) poll(ctx context.Context, submissionID string) (ledger.ContractResult, error) {
	id := ledger.NormalizeTransactionID(submissionID)
	if id == "" {
		return ledger.ContractResult{}, apperr.Validation("submission id is required")
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleep(ctx, r.Interval); err != nil {
			return ledger.ContractResult{}, err
		}
		metrics.ResolverAttempts.Inc()
		res, err := r.Indexer.ContractResult(ctx, id)
		if errors.Is(err, ledger.ErrNotIndexed) {
			r.logger().Debug("submission not indexed yet", "submission_id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return ledger.ContractResult{}, apperr.External("resolve "+id, err).With("submission_id", submissionID)
		}
		return res, nil
	}
	metrics.ResolverTimeouts.Inc()
	r.logger().Warn("submission not confirmed", "submission_id", id, "attempts", attempts)
	return ledger.ContractResult{}, apperr.ResolutionTimeout(submissionID, attempts)
}
