package repo

import (
	"context"
	"time"

	"gigledger/internal/domain"
)

// ListActivity returns journal rows newest first, optionally narrowed to one entity.
func (r Repo) ListActivity(ctx context.Context, entityKind, entityID string, limit int) ([]domain.Activity, error) {
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM activity WHERE 1=1`
	var args []any
	if entityKind != "" {
		query += ` AND entity_kind=?`
		args = append(args, entityKind)
	}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Activity{}
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.TS, &a.Type, &a.EntityKind, &a.EntityID, &a.ActorID, &a.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertSyncRun records the outcome of one channel replay.
func (r Repo) InsertSyncRun(ctx context.Context, run domain.SyncRun) error {
	if run.FinishedAt == "" {
		run.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sync_runs(channel,started_at,finished_at,processed,skipped,error) VALUES (?,?,?,?,?,?)`,
		run.Channel, run.StartedAt, run.FinishedAt, run.Processed, run.Skipped, nullable(run.Error))
	return err
}

func (r Repo) ListSyncRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,channel,started_at,finished_at,processed,skipped,COALESCE(error,'') FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.SyncRun{}
	for rows.Next() {
		var s domain.SyncRun
		if err := rows.Scan(&s.ID, &s.Channel, &s.StartedAt, &s.FinishedAt, &s.Processed, &s.Skipped, &s.Error); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
