package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

const invitationColumns = `id,gig_ref_id,client_id,freelancer_id,message,status,created_at,updated_at`

func scanInvitation(row interface{ Scan(...any) error }) (domain.Invitation, error) {
	var inv domain.Invitation
	err := row.Scan(&inv.ID, &inv.GigRefID, &inv.ClientID, &inv.FreelancerID, &inv.Message, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	return inv, err
}

func (r Repo) InsertInvitationTx(ctx context.Context, tx *sql.Tx, inv domain.Invitation) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO invitations(`+invitationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		inv.ID, inv.GigRefID, inv.ClientID, inv.FreelancerID, inv.Message, string(inv.Status), inv.CreatedAt, inv.UpdatedAt)
	return mapWriteErr(err, "insert invitation")
}

func (r Repo) GetInvitation(ctx context.Context, id string) (domain.Invitation, error) {
	return r.GetInvitationTx(ctx, nil, id)
}

func (r Repo) GetInvitationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Invitation, error) {
	return scanInvitation(r.q(tx).QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id=?`, id))
}

func (r Repo) ListInvitations(ctx context.Context, gigRefID, freelancerID string) ([]domain.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE 1=1`
	var args []any
	if gigRefID != "" {
		query += ` AND gig_ref_id=?`
		args = append(args, gigRefID)
	}
	if freelancerID != "" {
		query += ` AND freelancer_id=?`
		args = append(args, freelancerID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r Repo) AcceptedInvitationTx(ctx context.Context, tx *sql.Tx, gigRefID string) (domain.Invitation, error) {
	return scanInvitation(r.q(tx).QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE gig_ref_id=? AND status='ACCEPTED'`, gigRefID))
}

// AcceptInvitationTx mirrors AcceptApplicationTx for invitations.
func (r Repo) AcceptInvitationTx(ctx context.Context, tx *sql.Tx, inv domain.Invitation, ts string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE invitations SET status='ACCEPTED', updated_at=? WHERE id=? AND status='PENDING'`, ts, inv.ID)
	if err != nil {
		return 0, mapWriteErr(err, "accept invitation")
	}
	if err := requireOneRow(res, "accept invitation "+inv.ID); err != nil {
		return 0, err
	}
	res, err = tx.ExecContext(ctx, `UPDATE invitations SET status='REJECTED', updated_at=? WHERE gig_ref_id=? AND status='PENDING' AND id<>?`, ts, inv.GigRefID, inv.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) DeclineInvitationTx(ctx context.Context, tx *sql.Tx, id, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE invitations SET status='REJECTED', updated_at=? WHERE id=? AND status='PENDING'`, ts, id)
	if err != nil {
		return err
	}
	return requireOneRow(res, "decline invitation "+id)
}
