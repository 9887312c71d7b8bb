package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

const applicationColumns = `id,gig_ref_id,freelancer_id,cover_letter,proposed_rate,status,created_at,updated_at`

func scanApplication(row interface{ Scan(...any) error }) (domain.Application, error) {
	var a domain.Application
	var rate sql.NullString
	err := row.Scan(&a.ID, &a.GigRefID, &a.FreelancerID, &a.CoverLetter, &rate, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ProposedRate, err = decimalPtr(rate)
	return a, err
}

// InsertApplicationTx stores a PENDING application. A second application by
// the same freelancer for the same gig yields ErrConflict.
func (r Repo) InsertApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO applications(`+applicationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.GigRefID, a.FreelancerID, a.CoverLetter, nullableDecimal(a.ProposedRate), string(a.Status), a.CreatedAt, a.UpdatedAt)
	return mapWriteErr(err, "insert application")
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return r.GetApplicationTx(ctx, nil, id)
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	return scanApplication(r.q(tx).QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id))
}

func (r Repo) ListApplications(ctx context.Context, gigRefID string) ([]domain.Application, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE gig_ref_id=? ORDER BY created_at, id`, gigRefID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcceptedApplicationTx returns the gig's accepted application, if any.
func (r Repo) AcceptedApplicationTx(ctx context.Context, tx *sql.Tx, gigRefID string) (domain.Application, error) {
	return scanApplication(r.q(tx).QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE gig_ref_id=? AND status='ACCEPTED'`, gigRefID))
}

// AcceptApplicationTx moves a PENDING application to ACCEPTED and rejects
// every other PENDING application on the same gig. It returns the number
// of rejected siblings. The status guard plus the one-accepted-per-gig index
// make a concurrent accept of a sibling fail with ErrConflict.
func (r Repo) AcceptApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application, ts string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status='ACCEPTED', updated_at=? WHERE id=? AND status='PENDING'`, ts, a.ID)
	if err != nil {
		return 0, mapWriteErr(err, "accept application")
	}
	if err := requireOneRow(res, "accept application "+a.ID); err != nil {
		return 0, err
	}
	res, err = tx.ExecContext(ctx, `UPDATE applications SET status='REJECTED', updated_at=? WHERE gig_ref_id=? AND status='PENDING' AND id<>?`, ts, a.GigRefID, a.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RejectApplicationTx rejects a PENDING application.
func (r Repo) RejectApplicationTx(ctx context.Context, tx *sql.Tx, id, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status='REJECTED', updated_at=? WHERE id=? AND status='PENDING'`, ts, id)
	if err != nil {
		return err
	}
	return requireOneRow(res, "reject application "+id)
}
