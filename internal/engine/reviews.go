package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"gigledger/internal/apperr"
	"gigledger/internal/domain"
	"gigledger/internal/events"
)

type ReviewInput struct {
	GigRefID   string
	ReviewerID string
	Rating     int
	Comment    string
}

// SubmitReview records a participant's review of the other side of a
// finished gig. The review type follows from which side the reviewer is.
func (e Engine) SubmitReview(ctx context.Context, in ReviewInput) (domain.Review, error) {
	if strings.TrimSpace(in.ReviewerID) == "" {
		return domain.Review{}, apperr.Validation("reviewer id is required")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return domain.Review{}, apperr.Validation("rating must be between 1 and 5, got %d", in.Rating)
	}
	var out domain.Review
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		g, err := e.gig(ctx, tx, in.GigRefID)
		if err != nil {
			return err
		}
		if !g.Status.Reviewable() {
			return apperr.StateConflict("gig", g.RefID,
				[]string{string(domain.GigCompleted), string(domain.GigCompletedByArbiter)}, string(g.Status))
		}
		typ, reviewee, err := reviewSide(g, in.ReviewerID)
		if err != nil {
			return err
		}
		out = domain.Review{
			ID:         uuid.NewString(),
			GigRefID:   g.RefID,
			ReviewerID: in.ReviewerID,
			RevieweeID: reviewee,
			Rating:     in.Rating,
			Comment:    strings.TrimSpace(in.Comment),
			Type:       typ,
			CreatedAt:  e.stamp(),
		}
		if err := e.Repo.InsertReviewTx(ctx, tx, out); err != nil {
			return conflict(err, "account %s already reviewed gig %s", in.ReviewerID, g.RefID)
		}
		return e.Events.Append(ctx, tx, "review.create", "gig", g.RefID, in.ReviewerID, events.Payload{
			"review_id": out.ID, "review_type": typ, "rating": in.Rating,
		})
	})
	if err != nil {
		return domain.Review{}, err
	}
	return out, nil
}

func reviewSide(g domain.Gig, reviewerID string) (domain.ReviewType, string, error) {
	worker := ""
	if g.AssignedFreelancerID != nil {
		worker = *g.AssignedFreelancerID
	}
	switch {
	case reviewerID == g.ClientID && worker != "":
		return domain.ReviewClientToFreelancer, worker, nil
	case worker != "" && reviewerID == worker:
		return domain.ReviewFreelancerToClient, g.ClientID, nil
	}
	return "", "", apperr.Authorization("account %s is not a participant of gig %s", reviewerID, g.RefID).With("gig_ref_id", g.RefID)
}

// ListReviews returns the reviews received by accountID.
func (e Engine) ListReviews(ctx context.Context, accountID string) ([]domain.Review, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperr.Validation("account id is required")
	}
	return e.Repo.ListReviewsByReviewee(ctx, accountID)
}

func (e Engine) ListGigReviews(ctx context.Context, ref string) ([]domain.Review, error) {
	if _, err := e.gig(ctx, nil, ref); err != nil {
		return nil, err
	}
	return e.Repo.ListReviewsByGig(ctx, ref)
}
