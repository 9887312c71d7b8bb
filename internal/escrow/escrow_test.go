package escrow_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigledger/internal/apperr"
	"gigledger/internal/config"
	"gigledger/internal/db"
	"gigledger/internal/domain"
	"gigledger/internal/escrow"
	"gigledger/internal/ledger"
	"gigledger/internal/ledger/ledgertest"
	"gigledger/internal/metrics"
	"gigledger/internal/migrate"
	"gigledger/internal/notify"
	"gigledger/internal/replicator"
	"gigledger/internal/repo"
	"gigledger/internal/resolver"
)

const (
	client = "0.0.10"
	worker = "0.0.20"
)

type mailbox struct {
	mu   sync.Mutex
	sent []notify.Mail
}

func (m *mailbox) Send(ctx context.Context, mail notify.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return nil
}

type testEnv struct {
	Ctx    context.Context
	Orch   *escrow.Orchestrator
	Ledger *ledgertest.Ledger
	Repo   repo.Repo
	Cfg    *config.Config
	Mail   *mailbox
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	l := ledgertest.New()
	res := resolver.New(l, 5, 0, nil)
	res.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	mail := &mailbox{}
	r := repo.Repo{DB: conn}
	orch := &escrow.Orchestrator{
		Repo:     r,
		Gateway:  l,
		Resolver: res,
		Builder:  ledger.Builder{NodeAccountID: cfg.Ledger.NodeAccountID},
		Notifier: notify.New(mail, nil),
		Config:   cfg,
		Bytecode: bytes.Repeat([]byte("60"), 5000),
	}
	env := testEnv{Ctx: context.Background(), Orch: orch, Ledger: l, Repo: r, Cfg: cfg, Mail: mail}
	env.profile(t, client, domain.RoleHirer, "cli@example.com")
	env.profile(t, worker, domain.RoleFreelancer, "bo@example.com")
	return env
}

func (e testEnv) submit(t *testing.T, u ledger.Envelope) ledger.Receipt {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(u.Payload)
	require.NoError(t, err)
	receipt, err := e.Ledger.SubmitSigned(e.Ctx, raw)
	require.NoError(t, err)
	return receipt
}

func (e testEnv) profile(t *testing.T, account string, role domain.Role, email string) {
	t.Helper()
	prep, err := e.Orch.PrepareProfileCreation(e.Ctx, escrow.ProfileInput{AccountID: account, Name: "acct " + account, Role: role, Email: email})
	require.NoError(t, err)
	e.submit(t, prep.Unsigned)
	raw, err := json.Marshal(prep.Event)
	require.NoError(t, err)
	_, err = e.Orch.RecordProfileCreation(e.Ctx, raw)
	require.NoError(t, err)
}

// gig creates a gig owned by client with an accepted application from worker.
func (e testEnv) gig(t *testing.T) domain.Gig {
	t.Helper()
	prep, err := e.Orch.PrepareGigCreation(e.Ctx, escrow.GigInput{
		ClientID: client, Title: "Logo", Budget: domain.Budget{Amount: decimal.NewFromInt(100), Currency: "HBAR"},
	})
	require.NoError(t, err)
	receipt := e.submit(t, prep.Unsigned)
	raw, err := json.Marshal(prep.Event)
	require.NoError(t, err)
	g, err := e.Orch.RecordGigCreation(e.Ctx, raw, receipt.TopicSequence)
	require.NoError(t, err)
	require.NoError(t, e.Repo.InsertApplicationTx(e.Ctx, nil, domain.Application{
		ID: "app-" + g.RefID, GigRefID: g.RefID, FreelancerID: worker, CoverLetter: "X",
		Status: domain.ProposalAccepted, CreatedAt: "t", UpdatedAt: "t",
	}))
	return g
}

func (e testEnv) assign(t *testing.T, g domain.Gig) domain.Gig {
	t.Helper()
	prep, err := e.Orch.PrepareAssignment(e.Ctx, g.RefID, client, worker)
	require.NoError(t, err)
	e.submit(t, prep.ContractCreate)
	e.submit(t, prep.StatusUpdate)
	update, err := json.Marshal(prep.Update)
	require.NoError(t, err)
	g, err = e.Orch.RecordAssignment(e.Ctx, g.RefID, escrow.RecordAssignmentInput{
		ClientID: client, WorkerID: worker, SubmissionID: prep.ContractCreate.TransactionID, Update: update,
	})
	require.NoError(t, err)
	return g
}

func (e testEnv) lock(t *testing.T, g domain.Gig) domain.Gig {
	t.Helper()
	amount := decimal.NewFromInt(100)
	u, err := e.Orch.PrepareLock(e.Ctx, g.RefID, client, amount)
	require.NoError(t, err)
	e.submit(t, u)
	g, err = e.Orch.RecordLock(e.Ctx, g.RefID, escrow.RecordCallInput{ClientID: client, SubmissionID: u.TransactionID, Amount: amount})
	require.NoError(t, err)
	return g
}

func TestEscrowLifecycle(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t)
	assert.Equal(t, domain.GigOpen, g.Status)
	assert.Nil(t, g.EscrowContractID)

	prep, err := env.Orch.PrepareAssignment(env.Ctx, g.RefID, client, worker)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindContractCreate, prep.ContractCreate.Kind)
	assert.Equal(t, ledger.KindTopicMessage, prep.StatusUpdate.Kind)
	assert.Len(t, env.Ledger.CallsOf("file_create"), 1)
	appends := env.Ledger.CallsOf("file_append")
	require.Len(t, appends, 2)
	assert.Len(t, appends[0].Payload, 4096)
	assert.Len(t, appends[1].Payload, 10000-2*4096)
	assert.Equal(t, env.Orch.Bytecode, env.Ledger.File(prep.BytecodeFileID))

	receipt := env.submit(t, prep.ContractCreate)
	assert.Equal(t, "0.0.555", receipt.ContractID)
	g, err = env.Orch.RecordAssignment(env.Ctx, g.RefID, escrow.RecordAssignmentInput{
		ClientID: client, WorkerID: worker, SubmissionID: prep.ContractCreate.TransactionID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.GigInProgress, g.Status)
	assert.Equal(t, domain.EscrowInProgress, g.EscrowStatus)
	require.NotNil(t, g.EscrowContractID)
	assert.Equal(t, "0.0.555", *g.EscrowContractID)
	require.NotNil(t, g.AssignedFreelancerID)
	assert.Equal(t, worker, *g.AssignedFreelancerID)

	u, err := env.Orch.PrepareLock(env.Ctx, g.RefID, client, decimal.NewFromInt(100))
	require.NoError(t, err)
	deposit, err := ledger.DecodeUnsigned(u.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 100*100_000_000, deposit.Amount)
	assert.Equal(t, "0.0.555", deposit.ContractID)
	env.submit(t, u)
	g, err = env.Orch.RecordLock(env.Ctx, g.RefID, escrow.RecordCallInput{ClientID: client, SubmissionID: u.TransactionID, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, domain.GigInProgress, g.Status)
	assert.Equal(t, domain.EscrowLocked, g.EscrowStatus)

	before := testutil.ToFloat64(metrics.EscrowTransitions.WithLabelValues(string(domain.EscrowReleased)))
	u, err = env.Orch.PrepareRelease(env.Ctx, g.RefID, client)
	require.NoError(t, err)
	env.submit(t, u)
	g, err = env.Orch.RecordRelease(env.Ctx, g.RefID, escrow.RecordCallInput{ClientID: client, SubmissionID: u.TransactionID})
	require.NoError(t, err)
	assert.Equal(t, domain.GigCompleted, g.Status)
	assert.Equal(t, domain.EscrowReleased, g.EscrowStatus)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EscrowTransitions.WithLabelValues(string(domain.EscrowReleased))))

	xp, err := env.Repo.GetXP(env.Ctx, worker)
	require.NoError(t, err)
	assert.EqualValues(t, 100, xp.XP)

	env.Orch.Notifier.Wait()
	require.Len(t, env.Mail.sent, 1)
	assert.Equal(t, "bo@example.com", env.Mail.sent[0].To)

	// a full replay reproduces the escrow linkage from the gig channel
	rep := &replicator.Replicator{Indexer: env.Ledger, Repo: env.Repo, Channels: replicator.Channels{
		Profile: env.Cfg.Channels.Profile, Gig: env.Cfg.Channels.Gig, Message: env.Cfg.Channels.Message,
	}}
	_, err = rep.SyncAll(env.Ctx)
	require.NoError(t, err)
	replayed, err := env.Repo.GetGig(env.Ctx, g.RefID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigCompleted, replayed.Status)
	require.NotNil(t, replayed.EscrowContractID)
	assert.Equal(t, "0.0.555", *replayed.EscrowContractID)
}

func TestPreconditionsFailBeforeLedger(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t)
	calls := len(env.Ledger.Calls())

	_, err := env.Orch.PrepareAssignment(env.Ctx, g.RefID, worker, worker)
	assert.True(t, apperr.IsAuthorization(err), "got %v", err)

	_, err = env.Orch.PrepareAssignment(env.Ctx, g.RefID, client, "0.0.77")
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	_, err = env.Orch.PrepareAssignment(env.Ctx, "missing", client, worker)
	assert.True(t, apperr.IsNotFound(err), "got %v", err)

	_, err = env.Orch.PrepareLock(env.Ctx, g.RefID, client, decimal.NewFromInt(1))
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	_, err = env.Orch.PrepareRelease(env.Ctx, g.RefID, client)
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	assert.Len(t, env.Ledger.Calls(), calls)
}

func TestStagingFailureAbortsPrepare(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t)
	env.Ledger.Fail("file_append", errors.New("BUSY"))

	_, err := env.Orch.PrepareAssignment(env.Ctx, g.RefID, client, worker)
	require.Error(t, err)
	assert.True(t, apperr.IsExternalOperation(err))

	got, err := env.Repo.GetGig(env.Ctx, g.RefID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigOpen, got.Status)
}

func TestRecordAssignmentTimeoutCommitsNothing(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t)
	published := len(env.Ledger.Messages(env.Cfg.Channels.Gig))

	_, err := env.Orch.RecordAssignment(env.Ctx, g.RefID, escrow.RecordAssignmentInput{
		ClientID: client, WorkerID: worker, SubmissionID: "0.0.10@1700000000.000000001",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsResolutionTimeout(err), "got %v", err)
	assert.Equal(t, 5, env.Ledger.Polls("0.0.10@1700000000.000000001"))

	got, err := env.Repo.GetGig(env.Ctx, g.RefID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigOpen, got.Status)
	assert.Nil(t, got.EscrowContractID)
	assert.Len(t, env.Ledger.Messages(env.Cfg.Channels.Gig), published)
}

func TestRecordAssignmentAfterReplayOfStatusUpdate(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t)
	prep, err := env.Orch.PrepareAssignment(env.Ctx, g.RefID, client, worker)
	require.NoError(t, err)
	env.submit(t, prep.ContractCreate)
	env.submit(t, prep.StatusUpdate)

	rep := &replicator.Replicator{Indexer: env.Ledger, Repo: env.Repo, Channels: replicator.Channels{Gig: env.Cfg.Channels.Gig}}
	_, err = rep.SyncGigs(env.Ctx)
	require.NoError(t, err)
	mid, err := env.Repo.GetGig(env.Ctx, g.RefID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigInProgress, mid.Status)
	assert.Nil(t, mid.EscrowContractID)

	g, err = env.Orch.RecordAssignment(env.Ctx, g.RefID, escrow.RecordAssignmentInput{
		ClientID: client, WorkerID: worker, SubmissionID: prep.ContractCreate.TransactionID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowInProgress, g.EscrowStatus)
}

func TestRecordAssignmentRejectsForeignUpdate(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t)
	_, err := env.Orch.RecordAssignment(env.Ctx, g.RefID, escrow.RecordAssignmentInput{
		ClientID: client, WorkerID: worker, SubmissionID: "0.0.10@1.2",
		Update: []byte(`{"type":"GIG_UPDATE","gigRefId":"other","status":"IN_PROGRESS","assignedFreelancerId":"0.0.20"}`),
	})
	assert.True(t, apperr.IsValidation(err), "got %v", err)
}

func TestArbiterPaths(t *testing.T) {
	env := newTestEnv(t)

	cancelled := env.assign(t, env.gig(t))
	g, err := env.Orch.ArbiterCancel(env.Ctx, *cancelled.EscrowContractID, "arbiter")
	require.NoError(t, err)
	assert.Equal(t, domain.GigCancelledByArbiter, g.Status)
	assert.Equal(t, domain.EscrowCancelled, g.EscrowStatus)
	_, err = env.Orch.ArbiterRelease(env.Ctx, *cancelled.EscrowContractID, "arbiter")
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	locked := env.lock(t, env.assign(t, env.gig(t)))
	g, err = env.Orch.ArbiterRelease(env.Ctx, *locked.EscrowContractID, "arbiter")
	require.NoError(t, err)
	assert.Equal(t, domain.GigCompletedByArbiter, g.Status)
	assert.Equal(t, domain.EscrowReleased, g.EscrowStatus)

	xp, err := env.Repo.GetXP(env.Ctx, worker)
	require.NoError(t, err)
	assert.EqualValues(t, 100, xp.XP)

	executed := env.Ledger.CallsOf("execute")
	require.Len(t, executed, 2)
	assert.Equal(t, ledger.FnArbiterCancel, executed[0].Function)
	assert.Equal(t, ledger.FnArbiterRelease, executed[1].Function)

	_, err = env.Orch.ArbiterCancel(env.Ctx, "0.0.999", "arbiter")
	assert.True(t, apperr.IsNotFound(err), "got %v", err)
}

func TestArbiterLedgerFailureLeavesGig(t *testing.T) {
	env := newTestEnv(t)
	g := env.assign(t, env.gig(t))
	env.Ledger.Fail("execute", &ledger.RejectedError{Op: "execute", Status: "CONTRACT_REVERT_EXECUTED"})

	_, err := env.Orch.ArbiterRelease(env.Ctx, *g.EscrowContractID, "arbiter")
	assert.True(t, apperr.IsExternalOperation(err), "got %v", err)
	got, err := env.Repo.GetGig(env.Ctx, g.RefID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigInProgress, got.Status)
}

func TestLockAmountPrecision(t *testing.T) {
	env := newTestEnv(t)
	g := env.assign(t, env.gig(t))
	_, err := env.Orch.PrepareLock(env.Ctx, g.RefID, client, decimal.RequireFromString("0.000000001"))
	assert.True(t, apperr.IsValidation(err), "got %v", err)
	_, err = env.Orch.PrepareLock(env.Ctx, g.RefID, client, decimal.Zero)
	assert.True(t, apperr.IsValidation(err), "got %v", err)
}

func TestProfileAndGigCreation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Orch.PrepareProfileCreation(env.Ctx, escrow.ProfileInput{AccountID: client, Name: "again", Role: domain.RoleHirer})
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)
	_, err = env.Orch.PrepareProfileCreation(env.Ctx, escrow.ProfileInput{AccountID: "0.0.30", Name: "x", Role: "boss"})
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	_, err = env.Orch.PrepareGigCreation(env.Ctx, escrow.GigInput{ClientID: "0.0.404", Title: "t",
		Budget: domain.Budget{Amount: decimal.NewFromInt(1), Currency: "HBAR"}})
	assert.True(t, apperr.IsNotFound(err), "got %v", err)
	_, err = env.Orch.PrepareGigCreation(env.Ctx, escrow.GigInput{ClientID: client, Title: "t",
		Budget: domain.Budget{Amount: decimal.NewFromInt(-1), Currency: "HBAR"}})
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	g := env.gig(t)
	assert.Equal(t, domain.VisibilityPublic, g.Visibility)
	raw := env.Ledger.Messages(env.Cfg.Channels.Gig)
	require.NotEmpty(t, raw)
	again, err := env.Orch.RecordGigCreation(env.Ctx, raw[len(raw)-1], 1)
	require.NoError(t, err)
	assert.Equal(t, g.RefID, again.RefID)

	_, err = env.Orch.RecordGigCreation(env.Ctx, []byte(`{"type":"MESSAGE"}`), 1)
	assert.True(t, apperr.IsValidation(err), "got %v", err)
}

func TestLoadBytecode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Escrow.bin")
	require.NoError(t, os.WriteFile(path, []byte("0x6080604052\n"), 0o644))
	code, err := escrow.LoadBytecode(path)
	require.NoError(t, err)
	assert.Equal(t, "6080604052", string(code))

	require.NoError(t, os.WriteFile(path, []byte("zz"), 0o644))
	_, err = escrow.LoadBytecode(path)
	require.Error(t, err)
}

func TestRecordProfileCreationKeepsExistingProfile(t *testing.T) {
	env := newTestEnv(t)
	before, err := env.Repo.GetProfile(env.Ctx, worker)
	require.NoError(t, err)

	forged, err := json.Marshal(domain.ProfileCreateEvent{
		Type: domain.EventProfileCreate, AccountID: worker, Name: "someone else",
		Role: domain.RoleHirer, Email: "other@example.com", Skills: []string{},
	})
	require.NoError(t, err)
	_, err = env.Orch.RecordProfileCreation(env.Ctx, forged)
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	after, err := env.Repo.GetProfile(env.Ctx, worker)
	require.NoError(t, err)
	assert.Equal(t, before.Name, after.Name)
	assert.Equal(t, domain.RoleFreelancer, after.Role)
	assert.Equal(t, "bo@example.com", after.Email)

	// Recording the same registration again, e.g. after replay stored it, is a no-op.
	same, err := json.Marshal(domain.ProfileCreateEvent{
		Type: domain.EventProfileCreate, AccountID: worker, Name: before.Name,
		Role: before.Role, Email: before.Email, Skills: []string{},
	})
	require.NoError(t, err)
	got, err := env.Orch.RecordProfileCreation(env.Ctx, same)
	require.NoError(t, err)
	assert.Equal(t, before.CreatedAt, got.CreatedAt)
}

func TestRecordedGigSequenceDoesNotBlockReplay(t *testing.T) {
	env := newTestEnv(t)
	prep, err := env.Orch.PrepareGigCreation(env.Ctx, escrow.GigInput{
		ClientID: client, Title: "Logo", Budget: domain.Budget{Amount: decimal.NewFromInt(100), Currency: "HBAR"},
	})
	require.NoError(t, err)
	env.submit(t, prep.Unsigned)
	raw, err := json.Marshal(prep.Event)
	require.NoError(t, err)
	g, err := env.Orch.RecordGigCreation(env.Ctx, raw, 1<<40)
	require.NoError(t, err)
	assert.EqualValues(t, 0, g.LogSeq)

	title := "Logo v2"
	seq := env.Ledger.Publish(env.Cfg.Channels.Gig, domain.GigUpdateEvent{
		Type: domain.EventGigUpdate, GigRefID: g.RefID, Title: &title,
	})
	rep := &replicator.Replicator{Indexer: env.Ledger, Repo: env.Repo, Channels: replicator.Channels{Gig: env.Cfg.Channels.Gig}}
	res, err := rep.SyncGigs(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	stored, err := env.Repo.GetGig(env.Ctx, g.RefID)
	require.NoError(t, err)
	assert.Equal(t, title, stored.Title)
	assert.Equal(t, seq, stored.LogSeq)
}

func TestGigTitleMustBeSingleLine(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Orch.PrepareGigCreation(env.Ctx, escrow.GigInput{
		ClientID: client, Title: "Logo\r\nBcc: victim@example.com",
		Budget: domain.Budget{Amount: decimal.NewFromInt(10), Currency: "HBAR"},
	})
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	raw, err := json.Marshal(domain.GigCreateEvent{
		Type: domain.EventGigCreate, GigRefID: "g-multiline", ClientID: client, Title: "Logo\nBcc: x",
		Budget: domain.Budget{Amount: decimal.NewFromInt(10), Currency: "HBAR"},
	})
	require.NoError(t, err)
	_, err = env.Orch.RecordGigCreation(env.Ctx, raw, 1)
	assert.True(t, apperr.IsValidation(err), "got %v", err)
}
