package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

const profileColumns = `account_id,name,skills_json,COALESCE(portfolio,''),COALESCE(email,''),role,created_at,updated_at`

func scanProfile(row interface{ Scan(...any) error }) (domain.Profile, error) {
	var p domain.Profile
	var skills string
	err := row.Scan(&p.AccountID, &p.Name, &skills, &p.Portfolio, &p.Email, &p.Role, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Skills = unmarshalStrings(skills)
	return p, err
}

// InsertProfileTx creates a profile; an existing account yields ErrConflict.
func (r Repo) InsertProfileTx(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO profiles(account_id,name,skills_json,portfolio,email,role,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.AccountID, p.Name, marshalStrings(p.Skills), nullable(p.Portfolio), nullable(p.Email), string(p.Role), p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err, "insert profile")
}

// UpsertProfileTx fully replaces the record for p.AccountID. The original
// created_at is kept.
func (r Repo) UpsertProfileTx(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO profiles(account_id,name,skills_json,portfolio,email,role,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(account_id) DO UPDATE SET
  name=excluded.name,
  skills_json=excluded.skills_json,
  portfolio=excluded.portfolio,
  email=excluded.email,
  role=excluded.role,
  updated_at=excluded.updated_at`,
		p.AccountID, p.Name, marshalStrings(p.Skills), nullable(p.Portfolio), nullable(p.Email), string(p.Role), p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err, "upsert profile")
}

func (r Repo) GetProfile(ctx context.Context, accountID string) (domain.Profile, error) {
	return r.GetProfileTx(ctx, nil, accountID)
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, accountID string) (domain.Profile, error) {
	return scanProfile(r.q(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE account_id=?`, accountID))
}

func (r Repo) ListProfiles(ctx context.Context, role domain.Role, limit int) ([]domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY account_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
