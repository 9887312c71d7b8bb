package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

const reviewColumns = `id,gig_ref_id,reviewer_id,reviewee_id,rating,COALESCE(comment,''),review_type,created_at`

func scanReview(row interface{ Scan(...any) error }) (domain.Review, error) {
	var rv domain.Review
	err := row.Scan(&rv.ID, &rv.GigRefID, &rv.ReviewerID, &rv.RevieweeID, &rv.Rating, &rv.Comment, &rv.Type, &rv.CreatedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	return rv, err
}

// InsertReviewTx stores a review; a second review by the same reviewer on
// the same gig yields ErrConflict.
func (r Repo) InsertReviewTx(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO reviews(id,gig_ref_id,reviewer_id,reviewee_id,rating,comment,review_type,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		rv.ID, rv.GigRefID, rv.ReviewerID, rv.RevieweeID, rv.Rating, nullable(rv.Comment), string(rv.Type), rv.CreatedAt)
	return mapWriteErr(err, "insert review")
}

func (r Repo) ListReviewsByReviewee(ctx context.Context, revieweeID string) ([]domain.Review, error) {
	return r.listReviews(ctx, `reviewee_id=?`, revieweeID)
}

func (r Repo) ListReviewsByGig(ctx context.Context, gigRefID string) ([]domain.Review, error) {
	return r.listReviews(ctx, `gig_ref_id=?`, gigRefID)
}

func (r Repo) listReviews(ctx context.Context, where string, arg string) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}
