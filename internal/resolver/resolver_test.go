package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigledger/internal/apperr"
	"gigledger/internal/ledger"
	"gigledger/internal/ledger/ledgertest"
	"gigledger/internal/metrics"
)

const txID = "0.0.10@1700000000.000000001"

type sleepRecorder struct {
	total time.Duration
	calls int
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls++
	s.total += d
	return ctx.Err()
}

func newResolver(l *ledgertest.Ledger, rec *sleepRecorder) *Resolver {
	r := New(l, DefaultAttempts, DefaultInterval, nil)
	r.Sleep = rec.sleep
	return r
}

func TestResolveAfterIndexerLag(t *testing.T) {
	l := ledgertest.New()
	l.IndexLag = 3
	l.SetResult(txID, ledger.ContractResult{ContractID: "0.0.555", Result: ledger.StatusSuccess})
	rec := &sleepRecorder{}

	id, err := newResolver(l, rec).ResolveContract(context.Background(), txID)
	require.NoError(t, err)
	assert.Equal(t, "0.0.555", id)
	assert.Equal(t, 4, l.Polls(txID))
	assert.Equal(t, 8*time.Second, rec.total)
}

func TestResolveTimesOutAfterBudget(t *testing.T) {
	l := ledgertest.New()
	rec := &sleepRecorder{}
	before := testutil.ToFloat64(metrics.ResolverTimeouts)

	_, err := newResolver(l, rec).ResolveContract(context.Background(), txID)
	require.Error(t, err)
	assert.True(t, apperr.IsResolutionTimeout(err))
	assert.Equal(t, 5, l.Polls(txID))
	assert.Equal(t, 10*time.Second, rec.total)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ResolverTimeouts))
}

func TestResolveWallClockBound(t *testing.T) {
	l := ledgertest.New()
	r := New(l, 5, 20*time.Millisecond, nil)
	start := time.Now()
	_, err := r.ResolveContract(context.Background(), txID)
	elapsed := time.Since(start)
	require.True(t, apperr.IsResolutionTimeout(err))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestResolveMissingContractIDFailsFast(t *testing.T) {
	l := ledgertest.New()
	l.SetResult(txID, ledger.ContractResult{Result: "CONTRACT_REVERT_EXECUTED"})
	rec := &sleepRecorder{}

	_, err := newResolver(l, rec).ResolveContract(context.Background(), txID)
	require.Error(t, err)
	assert.True(t, apperr.IsExternalOperation(err))
	assert.Equal(t, 1, l.Polls(txID))
	assert.Equal(t, 1, rec.calls)
}

type failingIndexer struct{ ledger.Indexer }

func (failingIndexer) ContractResult(ctx context.Context, id string) (ledger.ContractResult, error) {
	return ledger.ContractResult{}, &ledger.NetworkError{Op: "GET", Err: errors.New("status=500")}
}

func TestResolveNonRetryableError(t *testing.T) {
	rec := &sleepRecorder{}
	r := New(failingIndexer{}, 5, time.Second, nil)
	r.Sleep = rec.sleep
	_, err := r.ResolveContract(context.Background(), txID)
	require.True(t, apperr.IsExternalOperation(err))
	assert.Equal(t, 1, rec.calls)
}

func TestResolveHonorsContext(t *testing.T) {
	l := ledgertest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(l, 5, time.Hour, nil)
	_, err := r.ResolveContract(ctx, txID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, l.Polls(txID))
}

func TestConfirmCall(t *testing.T) {
	l := ledgertest.New()
	rec := &sleepRecorder{}
	r := newResolver(l, rec)
	ctx := context.Background()

	l.SetResult(txID, ledger.ContractResult{ContractID: "0.0.555", Result: ledger.StatusSuccess})
	require.NoError(t, r.ConfirmCall(ctx, txID, "0.0.555"))

	err := r.ConfirmCall(ctx, txID, "0.0.556")
	assert.True(t, apperr.IsValidation(err))

	other := "0.0.10@1700000000.000000002"
	l.SetResult(other, ledger.ContractResult{ContractID: "0.0.555", Result: "CONTRACT_REVERT_EXECUTED"})
	err = r.ConfirmCall(ctx, other, "0.0.555")
	assert.True(t, apperr.IsExternalOperation(err))

	_, err = r.ResolveContract(ctx, "")
	assert.True(t, apperr.IsValidation(err))
}
