package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/evidenceflow/refscreen/internal/session"
)

// SessionStore adapts Store to the session.Store interface. One row per
// project; Save upserts.
type SessionStore struct {
	S *Store
}

func (ss SessionStore) Save(ctx context.Context, rec session.Record) error {
	queue, err := json.Marshal(rec.Queue)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	_, err = ss.S.DB.ExecContext(ctx, `INSERT INTO screening_sessions
		(project_id, user_id, status, mode, current_idx, total, queue, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (project_id) DO UPDATE SET
		  user_id=EXCLUDED.user_id, status=EXCLUDED.status, mode=EXCLUDED.mode,
		  current_idx=EXCLUDED.current_idx, total=EXCLUDED.total,
		  queue=EXCLUDED.queue, updated_at=EXCLUDED.updated_at`,
		rec.ProjectID, rec.UserID, rec.Status, rec.Mode, rec.Current, rec.Total, queue, rec.Timestamp)
	return err
}

func (ss SessionStore) Get(ctx context.Context, projectID string) (session.Record, bool, error) {
	var rec session.Record
	var queue []byte
	err := ss.S.DB.QueryRowContext(ctx, `SELECT project_id, user_id, status, mode, current_idx, total, queue, updated_at
		FROM screening_sessions WHERE project_id=$1`, projectID).
		Scan(&rec.ProjectID, &rec.UserID, &rec.Status, &rec.Mode, &rec.Current, &rec.Total, &queue, &rec.Timestamp)
	if err == sql.ErrNoRows {
		return session.Record{}, false, nil
	}
	if err != nil {
		return session.Record{}, false, err
	}
	if len(queue) > 0 {
		if err := json.Unmarshal(queue, &rec.Queue); err != nil {
			return session.Record{}, false, fmt.Errorf("decode queue: %w", err)
		}
	}
	return rec, true, nil
}

func (ss SessionStore) Delete(ctx context.Context, projectID string) error {
	_, err := ss.S.DB.ExecContext(ctx, `DELETE FROM screening_sessions WHERE project_id=$1`, projectID)
	return err
}
