package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigledger/internal/db"
	"gigledger/internal/domain"
	"gigledger/internal/migrate"
	"gigledger/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func seedGig(t *testing.T, r repo.Repo, ref string, createdAt string) domain.Gig {
	t.Helper()
	g := domain.NewGigFromCreate(domain.GigCreateEvent{
		GigRefID: ref,
		ClientID: "0.0.10",
		Title:    "Gig " + ref,
		Budget:   domain.Budget{Amount: decimal.NewFromInt(100), Currency: "HBAR"},
	}, 1, createdAt)
	inserted, err := r.InsertGigTx(context.Background(), nil, g)
	require.NoError(t, err)
	require.True(t, inserted)
	return g
}

func TestProfileInsertConflictAndUpsert(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	p := domain.Profile{AccountID: "0.0.10", Name: "Ada", Skills: []string{"go"}, Role: domain.RoleHirer, CreatedAt: "t0", UpdatedAt: "t0"}
	require.NoError(t, r.InsertProfileTx(ctx, nil, p))
	err := r.InsertProfileTx(ctx, nil, p)
	require.ErrorIs(t, err, repo.ErrConflict)

	p.Name = "Ada L."
	p.Skills = nil
	p.UpdatedAt = "t1"
	require.NoError(t, r.UpsertProfileTx(ctx, nil, p))
	got, err := r.GetProfile(ctx, "0.0.10")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.Name)
	assert.Empty(t, got.Skills)
	assert.Equal(t, "t0", got.CreatedAt)

	_, err = r.GetProfile(ctx, "0.0.99")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestApplicationUniquePerFreelancer(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", "2024-01-01T00:00:00Z")
	a := domain.Application{ID: "a1", GigRefID: "g1", FreelancerID: "0.0.20", CoverLetter: "X", Status: domain.ProposalPending, CreatedAt: "t", UpdatedAt: "t"}
	require.NoError(t, r.InsertApplicationTx(ctx, nil, a))
	a.ID = "a2"
	require.ErrorIs(t, r.InsertApplicationTx(ctx, nil, a), repo.ErrConflict)

	apps, err := r.ListApplications(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestAcceptApplicationRejectsSiblings(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", "2024-01-01T00:00:00Z")
	for i := 1; i <= 3; i++ {
		require.NoError(t, r.InsertApplicationTx(ctx, nil, domain.Application{
			ID: fmt.Sprintf("a%d", i), GigRefID: "g1", FreelancerID: fmt.Sprintf("0.0.2%d", i),
			CoverLetter: "X", Status: domain.ProposalPending, CreatedAt: "t", UpdatedAt: "t",
		}))
	}
	a1, err := r.GetApplication(ctx, "a1")
	require.NoError(t, err)

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	rejected, err := r.AcceptApplicationTx(ctx, tx, a1, "t2")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.EqualValues(t, 2, rejected)

	apps, err := r.ListApplications(ctx, "g1")
	require.NoError(t, err)
	statuses := map[string]domain.ProposalStatus{}
	for _, a := range apps {
		statuses[a.ID] = a.Status
	}
	assert.Equal(t, map[string]domain.ProposalStatus{"a1": domain.ProposalAccepted, "a2": domain.ProposalRejected, "a3": domain.ProposalRejected}, statuses)

	// a sibling that is no longer pending cannot be accepted
	a2, err := r.GetApplication(ctx, "a2")
	require.NoError(t, err)
	tx, err = r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = r.AcceptApplicationTx(ctx, tx, a2, "t3")
	require.ErrorIs(t, err, repo.ErrConflict)
}

func TestSecondAcceptedApplicationViolatesIndex(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", "2024-01-01T00:00:00Z")
	_, err := r.DB.ExecContext(ctx, `INSERT INTO applications(id,gig_ref_id,freelancer_id,cover_letter,status,created_at,updated_at) VALUES ('a1','g1','f1','x','ACCEPTED','t','t')`)
	require.NoError(t, err)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO applications(id,gig_ref_id,freelancer_id,cover_letter,status,created_at,updated_at) VALUES ('a2','g1','f2','x','ACCEPTED','t','t')`)
	require.Error(t, err)
}

func TestReviewAndRewardUniqueness(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedGig(t, r, "g1", "2024-01-01T00:00:00Z")
	rv := domain.Review{ID: "r1", GigRefID: "g1", ReviewerID: "0.0.10", RevieweeID: "0.0.20", Rating: 5, Type: domain.ReviewClientToFreelancer, CreatedAt: "t"}
	require.NoError(t, r.InsertReviewTx(ctx, nil, rv))
	rv.ID = "r2"
	require.ErrorIs(t, r.InsertReviewTx(ctx, nil, rv), repo.ErrConflict)

	rv.ID, rv.ReviewerID, rv.Rating = "r3", "0.0.30", 6
	err := r.InsertReviewTx(ctx, nil, rv)
	require.Error(t, err)
	assert.False(t, errors.Is(err, repo.ErrConflict))

	c := domain.RewardClaim{ID: "c1", AccountID: "0.0.20", RewardID: "bronze", XPAtClaim: 100, ClaimedAt: "t"}
	require.NoError(t, r.InsertRewardClaimTx(ctx, nil, c))
	c.ID = "c2"
	require.ErrorIs(t, r.InsertRewardClaimTx(ctx, nil, c), repo.ErrConflict)
}

func TestXPIncrements(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	total, err := r.IncrementXPTx(ctx, tx, "0.0.20", 100, "t")
	require.NoError(t, err)
	assert.EqualValues(t, 100, total)
	total, err = r.IncrementXPTx(ctx, tx, "0.0.20", 50, "t")
	require.NoError(t, err)
	assert.EqualValues(t, 150, total)
	_, err = r.IncrementXPTx(ctx, tx, "0.0.20", -5, "t")
	require.Error(t, err)
	require.NoError(t, tx.Commit())

	xp, err := r.GetXP(ctx, "0.0.20")
	require.NoError(t, err)
	assert.EqualValues(t, 150, xp.XP)
	xp, err = r.GetXP(ctx, "0.0.21")
	require.NoError(t, err)
	assert.Zero(t, xp.XP)
}

func TestUpsertGigFromLogHonorsSequence(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	g := seedGig(t, r, "g1", "2024-01-01T00:00:00Z")

	contract := "0.0.555"
	worker := "0.0.20"
	g.Status = domain.GigInProgress
	g.EscrowStatus = domain.EscrowInProgress
	g.EscrowContractID = &contract
	g.AssignedFreelancerID = &worker
	g.LogSeq = 9
	require.NoError(t, r.SaveGigTx(ctx, nil, g, domain.GigOpen, domain.EscrowOpen))

	stale := domain.NewGigFromCreate(domain.GigCreateEvent{GigRefID: "g1", ClientID: "0.0.10", Title: "Gig g1",
		Budget: domain.Budget{Amount: decimal.NewFromInt(100), Currency: "HBAR"}}, 1, "2024-01-01T00:00:00Z")
	require.NoError(t, r.UpsertGigFromLogTx(ctx, nil, stale))

	got, err := r.GetGig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.GigInProgress, got.Status)
	require.NotNil(t, got.EscrowContractID)
	assert.Equal(t, contract, *got.EscrowContractID)

	// stale expectations are rejected
	require.ErrorIs(t, r.SaveGigTx(ctx, nil, g, domain.GigOpen, domain.EscrowOpen), repo.ErrConflict)

	byContract, err := r.GetGigByContract(ctx, contract)
	require.NoError(t, err)
	assert.Equal(t, "g1", byContract.RefID)
}

func TestListGigsPaginates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedGig(t, r, fmt.Sprintf("g%d", i), fmt.Sprintf("2024-01-0%dT00:00:00Z", i+1))
	}
	page, next, err := r.ListGigs(ctx, repo.GigFilters{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "g4", page[0].RefID)
	require.NotEmpty(t, next)

	var seen []string
	for _, g := range page {
		seen = append(seen, g.RefID)
	}
	for next != "" {
		page, next, err = r.ListGigs(ctx, repo.GigFilters{Limit: 2, Cursor: next})
		require.NoError(t, err)
		for _, g := range page {
			seen = append(seen, g.RefID)
		}
	}
	assert.Equal(t, []string{"g4", "g3", "g2", "g1", "g0"}, seen)

	_, _, err = r.ListGigs(ctx, repo.GigFilters{Cursor: "!!"})
	require.Error(t, err)
}

func TestReplaceMessages(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, err := r.AppendMessageTx(ctx, nil, domain.Message{GigRefID: "g1", SenderID: "a", Content: "old", SentAt: "t"})
	require.NoError(t, err)

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.ReplaceMessagesTx(ctx, tx, []domain.Message{
		{GigRefID: "g1", SenderID: "a", Content: "one", SentAt: "t1", LogSeq: 1},
		{GigRefID: "g1", SenderID: "b", Content: "two", SentAt: "t2", LogSeq: 2},
	}))
	require.NoError(t, tx.Commit())

	msgs, err := r.ListMessages(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
}
