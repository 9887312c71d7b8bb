package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

// InsertRewardClaimTx records a claim; a second claim of the same reward by
// the same account yields ErrConflict.
func (r Repo) InsertRewardClaimTx(ctx context.Context, tx *sql.Tx, c domain.RewardClaim) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO rewards(id,account_id,reward_id,xp_at_claim,claimed_at) VALUES (?,?,?,?,?)`,
		c.ID, c.AccountID, c.RewardID, c.XPAtClaim, c.ClaimedAt)
	return mapWriteErr(err, "insert reward claim")
}

func (r Repo) ListRewardClaims(ctx context.Context, accountID string) ([]domain.RewardClaim, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,account_id,reward_id,xp_at_claim,claimed_at FROM rewards WHERE account_id=? ORDER BY claimed_at, reward_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.RewardClaim{}
	for rows.Next() {
		var c domain.RewardClaim
		if err := rows.Scan(&c.ID, &c.AccountID, &c.RewardID, &c.XPAtClaim, &c.ClaimedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
