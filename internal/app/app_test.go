package app_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigledger/internal/app"
	"gigledger/internal/config"
	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/escrow"
	"gigledger/internal/ledger"
	"gigledger/internal/ledger/ledgertest"
	"gigledger/internal/notify"
)

const (
	client = "0.0.10"
	worker = "0.0.20"
	rival  = "0.0.21"
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

func (m *mailbox) To(addr string) []notify.Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Mail
	for _, mail := range m.sent {
		if mail.To == addr {
			out = append(out, mail)
		}
	}
	return out
}

type scenario struct {
	ctx    context.Context
	app    *app.App
	ledger *ledgertest.Ledger
	mail   *mailbox
}

func open(t *testing.T) scenario {
	t.Helper()
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "contracts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "contracts", "Escrow.bin"), []byte("0x"+strings.Repeat("60", 3000)), 0o644))

	l := ledgertest.New()
	mail := &mailbox{}
	a, err := app.Open(app.Options{
		Workspace:     workspace,
		Config:        config.Default(),
		Gateway:       l,
		Indexer:       l,
		Sender:        mail,
		ResolverSleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return scenario{ctx: context.Background(), app: a, ledger: l, mail: mail}
}

// sign stands in for the external wallet: the envelope payload goes to the
// ledger unchanged.
func (s scenario) sign(t *testing.T, env ledger.Envelope) ledger.Receipt {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(env.Payload)
	require.NoError(t, err)
	receipt, err := s.ledger.SubmitSigned(s.ctx, raw)
	require.NoError(t, err)
	return receipt
}

func (s scenario) profile(t *testing.T, account string, role domain.Role) {
	t.Helper()
	prep, err := s.app.Escrow.PrepareProfileCreation(s.ctx, escrow.ProfileInput{
		AccountID: account, Name: "acct " + account, Role: role, Email: account + "@example.com",
	})
	require.NoError(t, err)
	s.sign(t, prep.Unsigned)
	raw, err := json.Marshal(prep.Event)
	require.NoError(t, err)
	_, err = s.app.Escrow.RecordProfileCreation(s.ctx, raw)
	require.NoError(t, err)
}

func TestMarketplaceScenario(t *testing.T) {
	s := open(t)
	s.profile(t, client, domain.RoleHirer)
	s.profile(t, worker, domain.RoleFreelancer)
	s.profile(t, rival, domain.RoleFreelancer)

	prep, err := s.app.Escrow.PrepareGigCreation(s.ctx, escrow.GigInput{
		ClientID: client, Title: "Landing page", Description: "one pager",
		Budget: domain.Budget{Amount: decimal.NewFromInt(100), Currency: "HBAR"},
	})
	require.NoError(t, err)
	receipt := s.sign(t, prep.Unsigned)
	raw, err := json.Marshal(prep.Event)
	require.NoError(t, err)
	g, err := s.app.Escrow.RecordGigCreation(s.ctx, raw, receipt.TopicSequence)
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPublic, g.Visibility)

	mine, err := s.app.Engine.Apply(s.ctx, engine.ApplyInput{GigRefID: g.RefID, FreelancerID: worker, CoverLetter: "X"})
	require.NoError(t, err)
	theirs, err := s.app.Engine.Apply(s.ctx, engine.ApplyInput{GigRefID: g.RefID, FreelancerID: rival, CoverLetter: "Y"})
	require.NoError(t, err)
	accepted, err := s.app.Engine.AcceptApplication(s.ctx, mine.ID, client)
	require.NoError(t, err)
	assert.Equal(t, int64(1), accepted.Rejected)
	apps, err := s.app.Engine.ListApplications(s.ctx, g.RefID, client)
	require.NoError(t, err)
	for _, a := range apps {
		if a.ID == theirs.ID {
			assert.Equal(t, domain.ProposalRejected, a.Status)
		}
	}

	assignment, err := s.app.Escrow.PrepareAssignment(s.ctx, g.RefID, client, worker)
	require.NoError(t, err)
	s.sign(t, assignment.ContractCreate)
	s.sign(t, assignment.StatusUpdate)
	g, err = s.app.Escrow.RecordAssignment(s.ctx, g.RefID, escrow.RecordAssignmentInput{
		ClientID: client, WorkerID: worker, SubmissionID: assignment.ContractCreate.TransactionID,
	})
	require.NoError(t, err)
	require.NotNil(t, g.EscrowContractID)
	assert.Equal(t, "0.0.555", *g.EscrowContractID)
	assert.Equal(t, domain.GigInProgress, g.Status)

	amount := decimal.NewFromInt(100)
	lock, err := s.app.Escrow.PrepareLock(s.ctx, g.RefID, client, amount)
	require.NoError(t, err)
	s.sign(t, lock)
	g, err = s.app.Escrow.RecordLock(s.ctx, g.RefID, escrow.RecordCallInput{ClientID: client, SubmissionID: lock.TransactionID, Amount: amount})
	require.NoError(t, err)
	assert.Equal(t, domain.GigInProgress, g.Status)
	assert.Equal(t, domain.EscrowLocked, g.EscrowStatus)

	release, err := s.app.Escrow.PrepareRelease(s.ctx, g.RefID, client)
	require.NoError(t, err)
	s.sign(t, release)
	g, err = s.app.Escrow.RecordRelease(s.ctx, g.RefID, escrow.RecordCallInput{ClientID: client, SubmissionID: release.TransactionID})
	require.NoError(t, err)
	assert.Equal(t, domain.GigCompleted, g.Status)

	xp, err := s.app.Engine.GetXP(s.ctx, worker)
	require.NoError(t, err)
	assert.Equal(t, int64(100), xp.XP)

	s.app.Notifier.Wait()
	assert.Len(t, s.mail.To(worker+"@example.com"), 1)

	// A full replay of the ledger reproduces the store's view of the gig.
	_, err = s.app.Replicator.SyncAll(s.ctx)
	require.NoError(t, err)
	replayed, err := s.app.Engine.GetGig(s.ctx, g.RefID)
	require.NoError(t, err)
	assert.Equal(t, domain.GigCompleted, replayed.Status)
	assert.Equal(t, domain.EscrowReleased, replayed.EscrowStatus)
	require.NotNil(t, replayed.EscrowContractID)
	assert.Equal(t, "0.0.555", *replayed.EscrowContractID)
	require.NotNil(t, replayed.AssignedFreelancerID)
	assert.Equal(t, worker, *replayed.AssignedFreelancerID)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Channels.Gig = ""
	_, err := app.Open(app.Options{Workspace: t.TempDir(), Config: cfg, Gateway: ledgertest.New(), Indexer: ledgertest.New()})
	require.Error(t, err)
}

func TestHandlerBuilds(t *testing.T) {
	s := open(t)
	h, err := s.app.Handler()
	require.NoError(t, err)
	require.NotNil(t, h)
}
