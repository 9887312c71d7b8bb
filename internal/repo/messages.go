package repo

import (
	"context"
	"database/sql"

	"gigledger/internal/domain"
)

func (r Repo) AppendMessageTx(ctx context.Context, tx *sql.Tx, m domain.Message) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO messages(gig_ref_id,sender_id,content,sent_at,log_seq) VALUES (?,?,?,?,?)`,
		m.GigRefID, m.SenderID, m.Content, m.SentAt, m.LogSeq)
	if err != nil {
		return 0, mapWriteErr(err, "insert message")
	}
	return res.LastInsertId()
}

// ReplaceMessagesTx drops every stored message and inserts msgs in order.
func (r Repo) ReplaceMessagesTx(ctx context.Context, tx *sql.Tx, msgs []domain.Message) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages(gig_ref_id,sender_id,content,sent_at,log_seq) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, m.GigRefID, m.SenderID, m.Content, m.SentAt, m.LogSeq); err != nil {
			return mapWriteErr(err, "insert message")
		}
	}
	return nil
}

// ListMessages returns a gig's messages oldest first.
func (r Repo) ListMessages(ctx context.Context, gigRefID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,gig_ref_id,sender_id,content,sent_at,log_seq FROM messages WHERE gig_ref_id=? ORDER BY id`, gigRefID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.GigRefID, &m.SenderID, &m.Content, &m.SentAt, &m.LogSeq); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r Repo) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
