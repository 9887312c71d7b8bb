package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gigledger/internal/domain"
)

const gigColumns = `ref_id,client_id,title,description,duration,budget_amount,budget_currency,visibility,status,escrow_status,escrow_contract_id,escrow_amount,assigned_freelancer_id,log_seq,created_at,updated_at`

func scanGig(row interface{ Scan(...any) error }) (domain.Gig, error) {
	var g domain.Gig
	var amount string
	var contract, escrowAmount, assignee sql.NullString
	err := row.Scan(&g.RefID, &g.ClientID, &g.Title, &g.Description, &g.Duration, &amount, &g.Budget.Currency,
		&g.Visibility, &g.Status, &g.EscrowStatus, &contract, &escrowAmount, &assignee, &g.LogSeq, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if g.Budget.Amount, err = decimal.NewFromString(amount); err != nil {
		return g, fmt.Errorf("gig %s budget: %w", g.RefID, err)
	}
	if g.EscrowAmount, err = decimalPtr(escrowAmount); err != nil {
		return g, fmt.Errorf("gig %s escrow amount: %w", g.RefID, err)
	}
	g.EscrowContractID = stringPtr(contract)
	g.AssignedFreelancerID = stringPtr(assignee)
	return g, nil
}

func gigArgs(g domain.Gig) []any {
	return []any{g.RefID, g.ClientID, g.Title, g.Description, g.Duration, g.Budget.Amount.String(), g.Budget.Currency,
		string(g.Visibility), string(g.Status), string(g.EscrowStatus), nullableStringPtr(g.EscrowContractID),
		nullableDecimal(g.EscrowAmount), nullableStringPtr(g.AssignedFreelancerID), g.LogSeq, g.CreatedAt, g.UpdatedAt}
}

// InsertGigTx records a freshly created gig. It reports false when the gig
// already exists, which happens when replay materialized it first.
func (r Repo) InsertGigTx(ctx context.Context, tx *sql.Tx, g domain.Gig) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO gigs(`+gigColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) ON CONFLICT(ref_id) DO NOTHING`, gigArgs(g)...)
	if err != nil {
		return false, mapWriteErr(err, "insert gig")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpsertGigFromLogTx writes replayed gig state. Rows whose stored log_seq is
// newer than g.LogSeq are left untouched, so a replay that started before a
// recorded orchestrator change cannot roll that change back.
func (r Repo) UpsertGigFromLogTx(ctx context.Context, tx *sql.Tx, g domain.Gig) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO gigs(`+gigColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(ref_id) DO UPDATE SET
  client_id=excluded.client_id,
  title=excluded.title,
  description=excluded.description,
  duration=excluded.duration,
  budget_amount=excluded.budget_amount,
  budget_currency=excluded.budget_currency,
  visibility=excluded.visibility,
  status=excluded.status,
  escrow_status=excluded.escrow_status,
  escrow_contract_id=excluded.escrow_contract_id,
  escrow_amount=excluded.escrow_amount,
  assigned_freelancer_id=excluded.assigned_freelancer_id,
  log_seq=excluded.log_seq,
  updated_at=excluded.updated_at
WHERE excluded.log_seq >= gigs.log_seq`, gigArgs(g)...)
	return mapWriteErr(err, "upsert gig")
}

// SaveGigTx persists g's mutable fields if the stored gig is still in the
// expected statuses. A concurrent transition yields ErrConflict.
func (r Repo) SaveGigTx(ctx context.Context, tx *sql.Tx, g domain.Gig, expectStatus domain.GigStatus, expectEscrow domain.EscrowStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE gigs SET
  title=?, description=?, duration=?, budget_amount=?, budget_currency=?, visibility=?,
  status=?, escrow_status=?, escrow_contract_id=?, escrow_amount=?, assigned_freelancer_id=?,
  log_seq=MAX(log_seq, ?), updated_at=?
WHERE ref_id=? AND status=? AND escrow_status=?`,
		g.Title, g.Description, g.Duration, g.Budget.Amount.String(), g.Budget.Currency, string(g.Visibility),
		string(g.Status), string(g.EscrowStatus), nullableStringPtr(g.EscrowContractID), nullableDecimal(g.EscrowAmount),
		nullableStringPtr(g.AssignedFreelancerID), g.LogSeq, g.UpdatedAt,
		g.RefID, string(expectStatus), string(expectEscrow))
	if err != nil {
		return mapWriteErr(err, "save gig")
	}
	return requireOneRow(res, "save gig "+g.RefID)
}

func (r Repo) GetGig(ctx context.Context, refID string) (domain.Gig, error) {
	return r.GetGigTx(ctx, nil, refID)
}

func (r Repo) GetGigTx(ctx context.Context, tx *sql.Tx, refID string) (domain.Gig, error) {
	return scanGig(r.q(tx).QueryRowContext(ctx, `SELECT `+gigColumns+` FROM gigs WHERE ref_id=?`, refID))
}

// GetGigByContract finds the gig linked to an escrow contract.
func (r Repo) GetGigByContract(ctx context.Context, contractID string) (domain.Gig, error) {
	return scanGig(r.DB.QueryRowContext(ctx, `SELECT `+gigColumns+` FROM gigs WHERE escrow_contract_id=?`, contractID))
}

type GigFilters struct {
	Status       domain.GigStatus
	ClientID     string
	FreelancerID string
	Visibility   domain.Visibility
	Limit        int
	Cursor       string
}

// ListGigs returns gigs newest first and a cursor for the next page, empty
// when there are no more rows.
func (r Repo) ListGigs(ctx context.Context, f GigFilters) ([]domain.Gig, string, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, string(f.Status))
	}
	if f.ClientID != "" {
		where = append(where, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.FreelancerID != "" {
		where = append(where, "assigned_freelancer_id=?")
		args = append(args, f.FreelancerID)
	}
	if f.Visibility != "" {
		where = append(where, "visibility=?")
		args = append(args, string(f.Visibility))
	}
	if f.Cursor != "" {
		createdAt, refID, err := DecodeCursor(f.Cursor)
		if err != nil {
			return nil, "", err
		}
		where = append(where, "(created_at < ? OR (created_at = ? AND ref_id < ?))")
		args = append(args, createdAt, createdAt, refID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + gigColumns + ` FROM gigs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, ref_id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []domain.Gig
	for rows.Next() {
		g, err := scanGig(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = EncodeCursor(last.CreatedAt, last.RefID)
	}
	return out, next, nil
}
