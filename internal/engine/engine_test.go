package engine_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigledger/internal/apperr"
	"gigledger/internal/config"
	"gigledger/internal/db"
	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/ledger"
	"gigledger/internal/migrate"
)

const (
	client   = "0.0.10"
	worker   = "0.0.20"
	worker2  = "0.0.21"
	worker3  = "0.0.22"
	outsider = "0.0.30"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	env := testEnv{Engine: eng, Ctx: context.Background()}
	env.register(t, client, domain.RoleHirer)
	for _, id := range []string{worker, worker2, worker3, outsider} {
		env.register(t, id, domain.RoleFreelancer)
	}
	return env
}

func (e testEnv) register(t *testing.T, account string, role domain.Role) {
	t.Helper()
	_, err := e.Engine.RegisterProfile(e.Ctx, engine.RegisterInput{AccountID: account, Name: "acct " + account, Role: role})
	require.NoError(t, err)
}

var gigSeq int64

func (e testEnv) gig(t *testing.T, vis domain.Visibility) domain.Gig {
	t.Helper()
	gigSeq++
	g := domain.NewGigFromCreate(domain.GigCreateEvent{
		GigRefID:   fmt.Sprintf("gig-%d", gigSeq),
		ClientID:   client,
		Title:      "Logo",
		Budget:     domain.Budget{Amount: decimal.NewFromInt(100), Currency: "HBAR"},
		Visibility: vis,
	}, gigSeq, fmt.Sprintf("2024-01-01T00:00:%02dZ", gigSeq%60))
	_, err := e.Engine.Repo.InsertGigTx(e.Ctx, nil, g)
	require.NoError(t, err)
	return g
}

// finish moves g to status with worker assigned, bypassing escrow.
func (e testEnv) finish(t *testing.T, g domain.Gig, status domain.GigStatus) domain.Gig {
	t.Helper()
	next := g
	next.Status = status
	next.EscrowStatus = domain.EscrowReleased
	w := worker
	next.AssignedFreelancerID = &w
	require.NoError(t, e.Engine.Repo.SaveGigTx(e.Ctx, nil, next, g.Status, g.EscrowStatus))
	return next
}

func (e testEnv) creditXP(t *testing.T, account string, xp int64) {
	t.Helper()
	tx, err := e.Engine.DB.BeginTx(e.Ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = e.Engine.Repo.IncrementXPTx(e.Ctx, tx, account, xp, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func (e testEnv) apply(t *testing.T, ref, freelancer string) domain.Application {
	t.Helper()
	a, err := e.Engine.Apply(e.Ctx, engine.ApplyInput{GigRefID: ref, FreelancerID: freelancer, CoverLetter: "X"})
	require.NoError(t, err)
	return a
}

func TestApplyAtMostOncePerFreelancer(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t, domain.VisibilityPublic)

	first := env.apply(t, g.RefID, worker)
	assert.Equal(t, domain.ProposalPending, first.Status)

	_, err := env.Engine.Apply(env.Ctx, engine.ApplyInput{GigRefID: g.RefID, FreelancerID: worker, CoverLetter: "again"})
	require.Error(t, err)
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	apps, err := env.Engine.ListApplications(env.Ctx, g.RefID, client)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, first.ID, apps[0].ID)
}

func TestApplyPreconditions(t *testing.T) {
	env := newTestEnv(t)
	public := env.gig(t, domain.VisibilityPublic)
	private := env.gig(t, domain.VisibilityPrivate)
	rate := decimal.NewFromInt(-5)

	cases := []struct {
		name  string
		in    engine.ApplyInput
		check func(error) bool
	}{
		{"blank cover letter", engine.ApplyInput{GigRefID: public.RefID, FreelancerID: worker}, apperr.IsValidation},
		{"negative rate", engine.ApplyInput{GigRefID: public.RefID, FreelancerID: worker, CoverLetter: "X", ProposedRate: &rate}, apperr.IsValidation},
		{"unknown gig", engine.ApplyInput{GigRefID: "nope", FreelancerID: worker, CoverLetter: "X"}, apperr.IsNotFound},
		{"private gig", engine.ApplyInput{GigRefID: private.RefID, FreelancerID: worker, CoverLetter: "X"}, apperr.IsStateConflict},
		{"hirer applies", engine.ApplyInput{GigRefID: public.RefID, FreelancerID: client, CoverLetter: "X"}, apperr.IsAuthorization},
		{"no profile", engine.ApplyInput{GigRefID: public.RefID, FreelancerID: "0.0.99", CoverLetter: "X"}, apperr.IsNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.Apply(env.Ctx, tc.in)
			require.Error(t, err)
			assert.True(t, tc.check(err), "got %v", err)
		})
	}

	done := env.finish(t, env.gig(t, domain.VisibilityPublic), domain.GigCompleted)
	_, err := env.Engine.Apply(env.Ctx, engine.ApplyInput{GigRefID: done.RefID, FreelancerID: worker2, CoverLetter: "X"})
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)
}

func TestAcceptApplicationRejectsPendingSiblings(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t, domain.VisibilityPublic)
	a1 := env.apply(t, g.RefID, worker)
	a2 := env.apply(t, g.RefID, worker2)
	a3 := env.apply(t, g.RefID, worker3)

	_, err := env.Engine.AcceptApplication(env.Ctx, a1.ID, outsider)
	assert.True(t, apperr.IsAuthorization(err), "got %v", err)

	res, err := env.Engine.AcceptApplication(env.Ctx, a1.ID, client)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalAccepted, res.Accepted.Status)
	assert.EqualValues(t, 2, res.Rejected)

	apps, err := env.Engine.ListApplications(env.Ctx, g.RefID, client)
	require.NoError(t, err)
	status := map[string]domain.ProposalStatus{}
	for _, a := range apps {
		status[a.ID] = a.Status
	}
	assert.Equal(t, domain.ProposalAccepted, status[a1.ID])
	assert.Equal(t, domain.ProposalRejected, status[a2.ID])
	assert.Equal(t, domain.ProposalRejected, status[a3.ID])

	_, err = env.Engine.AcceptApplication(env.Ctx, a2.ID, client)
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)
	_, err = env.Engine.RejectApplication(env.Ctx, a1.ID, client)
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	own, err := env.Engine.ListApplications(env.Ctx, g.RefID, worker2)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, a2.ID, own[0].ID)
}

func TestRejectApplication(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t, domain.VisibilityPublic)
	a := env.apply(t, g.RefID, worker)

	got, err := env.Engine.RejectApplication(env.Ctx, a.ID, client)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalRejected, got.Status)

	_, err = env.Engine.RejectApplication(env.Ctx, "missing", client)
	assert.True(t, apperr.IsNotFound(err), "got %v", err)
}

func TestInvitationFlow(t *testing.T) {
	env := newTestEnv(t)
	private := env.gig(t, domain.VisibilityPrivate)
	public := env.gig(t, domain.VisibilityPublic)

	_, err := env.Engine.Invite(env.Ctx, engine.InviteInput{GigRefID: public.RefID, ClientID: client, FreelancerID: worker})
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)
	_, err = env.Engine.Invite(env.Ctx, engine.InviteInput{GigRefID: private.RefID, ClientID: outsider, FreelancerID: worker})
	assert.True(t, apperr.IsAuthorization(err), "got %v", err)

	inv1, err := env.Engine.Invite(env.Ctx, engine.InviteInput{GigRefID: private.RefID, ClientID: client, FreelancerID: worker, Message: "hi"})
	require.NoError(t, err)
	inv2, err := env.Engine.Invite(env.Ctx, engine.InviteInput{GigRefID: private.RefID, ClientID: client, FreelancerID: worker2})
	require.NoError(t, err)
	inv3, err := env.Engine.Invite(env.Ctx, engine.InviteInput{GigRefID: private.RefID, ClientID: client, FreelancerID: worker3})
	require.NoError(t, err)
	_, err = env.Engine.Invite(env.Ctx, engine.InviteInput{GigRefID: private.RefID, ClientID: client, FreelancerID: worker})
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	_, err = env.Engine.AcceptInvitation(env.Ctx, inv1.ID, worker2)
	assert.True(t, apperr.IsAuthorization(err), "got %v", err)

	declined, err := env.Engine.DeclineInvitation(env.Ctx, inv3.ID, worker3)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalRejected, declined.Status)

	res, err := env.Engine.AcceptInvitation(env.Ctx, inv1.ID, worker)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Rejected)

	mine, err := env.Engine.ListInvitations(env.Ctx, "", worker2)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, inv2.ID, mine[0].ID)
	assert.Equal(t, domain.ProposalRejected, mine[0].Status)

	all, err := env.Engine.ListInvitations(env.Ctx, private.RefID, client)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReviewGating(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t, domain.VisibilityPublic)

	_, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{GigRefID: g.RefID, ReviewerID: client, Rating: 5})
	require.Error(t, err)
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	g = env.finish(t, g, domain.GigCompleted)

	_, err = env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{GigRefID: g.RefID, ReviewerID: client, Rating: 0})
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	byClient, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{GigRefID: g.RefID, ReviewerID: client, Rating: 5, Comment: "great"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewClientToFreelancer, byClient.Type)
	assert.Equal(t, worker, byClient.RevieweeID)

	byWorker, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{GigRefID: g.RefID, ReviewerID: worker, Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewFreelancerToClient, byWorker.Type)
	assert.Equal(t, client, byWorker.RevieweeID)

	_, err = env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{GigRefID: g.RefID, ReviewerID: client, Rating: 3})
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	_, err = env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{GigRefID: g.RefID, ReviewerID: outsider, Rating: 3})
	assert.True(t, apperr.IsAuthorization(err), "got %v", err)

	got, err := env.Engine.ListReviews(env.Ctx, worker)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "great", got[0].Comment)

	onGig, err := env.Engine.ListGigReviews(env.Ctx, g.RefID)
	require.NoError(t, err)
	assert.Len(t, onGig, 2)
}

func TestReviewAfterArbiterRelease(t *testing.T) {
	env := newTestEnv(t)
	g := env.finish(t, env.gig(t, domain.VisibilityPublic), domain.GigCompletedByArbiter)
	rv, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{GigRefID: g.RefID, ReviewerID: worker, Rating: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewFreelancerToClient, rv.Type)

	cancelled := env.finish(t, env.gig(t, domain.VisibilityPublic), domain.GigCancelledByArbiter)
	_, err = env.Engine.SubmitReview(env.Ctx, engine.ReviewInput{GigRefID: cancelled.RefID, ReviewerID: worker, Rating: 2})
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)
}

func TestClaimReward(t *testing.T) {
	env := newTestEnv(t)

	rewards := env.Engine.ListRewards()
	require.Len(t, rewards, 3)
	assert.Equal(t, "bronze", rewards[0].ID)
	assert.EqualValues(t, 1000, rewards[2].Threshold)

	_, err := env.Engine.ClaimReward(env.Ctx, worker, "bronze")
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)

	env.creditXP(t, worker, 150)
	claim, err := env.Engine.ClaimReward(env.Ctx, worker, "bronze")
	require.NoError(t, err)
	assert.EqualValues(t, 150, claim.XPAtClaim)

	_, err = env.Engine.ClaimReward(env.Ctx, worker, "bronze")
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)
	_, err = env.Engine.ClaimReward(env.Ctx, worker, "silver")
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)
	_, err = env.Engine.ClaimReward(env.Ctx, worker, "platinum")
	assert.True(t, apperr.IsNotFound(err), "got %v", err)

	claims, err := env.Engine.ListRewardClaims(env.Ctx, worker)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "bronze", claims[0].RewardID)

	xp, err := env.Engine.GetXP(env.Ctx, worker)
	require.NoError(t, err)
	assert.EqualValues(t, 150, xp.XP)
}

func TestMessagesAreParticipantOnly(t *testing.T) {
	env := newTestEnv(t)
	g := env.gig(t, domain.VisibilityPublic)

	_, err := env.Engine.PrepareMessage(env.Ctx, g.RefID, worker, "hello")
	assert.True(t, apperr.IsAuthorization(err), "got %v", err)

	prep, err := env.Engine.PrepareMessage(env.Ctx, g.RefID, client, "hello")
	require.NoError(t, err)
	assert.Equal(t, ledger.KindTopicMessage, prep.Unsigned.Kind)
	assert.Equal(t, client, prep.Unsigned.Payer)
	_, err = base64.StdEncoding.DecodeString(prep.Unsigned.Payload)
	require.NoError(t, err)

	raw, err := json.Marshal(prep.Event)
	require.NoError(t, err)
	_, err = env.Engine.RecordMessage(env.Ctx, raw, 0)
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	m, err := env.Engine.RecordMessage(env.Ctx, raw, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, m.LogSeq)

	msgs, err := env.Engine.ListMessages(env.Ctx, g.RefID, client)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	_, err = env.Engine.ListMessages(env.Ctx, g.RefID, outsider)
	assert.True(t, apperr.IsAuthorization(err), "got %v", err)

	g = env.finish(t, g, domain.GigCompleted)
	_, err = env.Engine.ListMessages(env.Ctx, g.RefID, worker)
	require.NoError(t, err)
}

func TestRegisterProfile(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.RegisterProfile(env.Ctx, engine.RegisterInput{AccountID: client, Name: "dup", Role: domain.RoleHirer})
	assert.True(t, apperr.IsStateConflict(err), "got %v", err)
	_, err = env.Engine.RegisterProfile(env.Ctx, engine.RegisterInput{AccountID: "alice", Name: "A", Role: domain.RoleHirer})
	assert.True(t, apperr.IsValidation(err), "got %v", err)
	_, err = env.Engine.RegisterProfile(env.Ctx, engine.RegisterInput{AccountID: "0.0.77", Name: "A", Role: "ADMIN"})
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	p, err := env.Engine.GetProfile(env.Ctx, worker)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleFreelancer, p.Role)
	_, err = env.Engine.GetProfile(env.Ctx, "0.0.404")
	assert.True(t, apperr.IsNotFound(err), "got %v", err)

	freelancers, err := env.Engine.ListProfiles(env.Ctx, domain.RoleFreelancer, 0)
	require.NoError(t, err)
	assert.Len(t, freelancers, 4)
}

func TestListGigsPages(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.gig(t, domain.VisibilityPublic)
	}
	env.gig(t, domain.VisibilityPrivate)

	page, err := env.Engine.ListGigs(env.Ctx, engine.GigQuery{Visibility: domain.VisibilityPublic, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Gigs, 2)
	require.NotEmpty(t, page.Next)

	rest, err := env.Engine.ListGigs(env.Ctx, engine.GigQuery{Visibility: domain.VisibilityPublic, Limit: 2, Cursor: page.Next})
	require.NoError(t, err)
	require.Len(t, rest.Gigs, 1)
	assert.Empty(t, rest.Next)

	_, err = env.Engine.ListGigs(env.Ctx, engine.GigQuery{Cursor: "%%%"})
	assert.True(t, apperr.IsValidation(err), "got %v", err)
	_, err = env.Engine.ListGigs(env.Ctx, engine.GigQuery{Status: "DONE"})
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	activity, err := env.Engine.ListActivity(env.Ctx, "profile", client, 10)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "profile.register", activity[0].Type)
}
