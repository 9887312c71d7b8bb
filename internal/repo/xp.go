package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gigledger/internal/domain"
)

// IncrementXPTx atomically adds delta to accountID's XP. XP never decreases.
func (r Repo) IncrementXPTx(ctx context.Context, tx *sql.Tx, accountID string, delta int64, ts string) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("xp delta must be positive, got %d", delta)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO xp(account_id,xp,updated_at) VALUES (?,?,?)
ON CONFLICT(account_id) DO UPDATE SET xp = xp + excluded.xp, updated_at = excluded.updated_at`, accountID, delta, ts); err != nil {
		return 0, fmt.Errorf("increment xp: %w", err)
	}
	var total int64
	if err := tx.QueryRowContext(ctx, `SELECT xp FROM xp WHERE account_id=?`, accountID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// GetXP returns zero XP for accounts that never earned any.
func (r Repo) GetXP(ctx context.Context, accountID string) (domain.XP, error) {
	return r.GetXPTx(ctx, nil, accountID)
}

func (r Repo) GetXPTx(ctx context.Context, tx *sql.Tx, accountID string) (domain.XP, error) {
	out := domain.XP{AccountID: accountID}
	err := r.q(tx).QueryRowContext(ctx, `SELECT xp,updated_at FROM xp WHERE account_id=?`, accountID).Scan(&out.XP, &out.UpdatedAt)
	if err == sql.ErrNoRows {
		return out, nil
	}
	return out, err
}
