package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/evidenceflow/refscreen/internal/screening"
)

const refColumns = `id, project_id, user_id, title, COALESCE(authors,''), COALESCE(abstract,''), COALESCE(year,0), COALESCE(doi,''),
	screening_status, ai_reviewer_1, ai_reviewer_2, dual_ai_completed, dual_ai_agreement,
	COALESCE(manual_decision,''), COALESCE(reviewer_notes,''), conflict_resolved, screening_date, created_at`

func (s *Store) CreateReference(ctx context.Context, ref screening.Reference) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO references_t (project_id, user_id, title, authors, abstract, year, doi, screening_status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,'pending') RETURNING id`,
		ref.ProjectID, ref.UserID, ref.Title, ref.Authors, ref.Abstract, ref.Year, ref.DOI).Scan(&id)
	return id, err
}

func (s *Store) GetReference(ctx context.Context, id string) (screening.Reference, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+refColumns+` FROM references_t WHERE id=$1`, id)
	ref, err := scanReference(row)
	if err == sql.ErrNoRows {
		return screening.Reference{}, false, nil
	}
	if err != nil {
		return screening.Reference{}, false, err
	}
	return ref, true, nil
}

// ListReferences returns a project's references, optionally filtered by
// screening status, oldest first.
func (s *Store) ListReferences(ctx context.Context, projectID, status string) ([]screening.Reference, error) {
	q := `SELECT ` + refColumns + ` FROM references_t WHERE project_id=$1`
	args := []interface{}{projectID}
	if status != "" {
		q += ` AND screening_status=$2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferences(rows)
}

// PendingReferencesByID resolves queue manifest ids to references that are
// still pending. Ids that have moved on simply do not come back.
func (s *Store) PendingReferencesByID(ctx context.Context, projectID string, ids []string) (map[string]screening.Reference, error) {
	if len(ids) == 0 {
		return map[string]screening.Reference{}, nil
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+refColumns+` FROM references_t WHERE project_id=$1 AND screening_status='pending' AND id = ANY($2)`,
		projectID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs, err := scanReferences(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]screening.Reference, len(refs))
	for _, r := range refs {
		out[r.ID] = r
	}
	return out, nil
}

// MarkInProgress flips the given references to in_progress in one statement.
func (s *Store) MarkInProgress(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE references_t SET screening_status='in_progress' WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

// Conflicts returns the project's unresolved conflicts ordered by creation time.
func (s *Store) Conflicts(ctx context.Context, projectID string) ([]screening.Reference, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+refColumns+` FROM references_t WHERE project_id=$1 AND screening_status='conflict' ORDER BY created_at`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferences(rows)
}

// ProjectStats aggregates screening counters for a project.
func (s *Store) ProjectStats(ctx context.Context, projectID string) (screening.Stats, error) {
	var st screening.Stats
	err := s.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE dual_ai_completed),
		COUNT(*) FILTER (WHERE dual_ai_agreement IS TRUE),
		COUNT(*) FILTER (WHERE screening_status='conflict'),
		COUNT(*) FILTER (WHERE conflict_resolved)
		FROM references_t WHERE project_id=$1`, projectID).
		Scan(&st.Total, &st.Processed, &st.Agreements, &st.Conflicts, &st.Resolved)
	return st, err
}

// UpdateScreening applies a partial screening update. Only set pointers
// touch their columns, so the coordinator's persist is one statement.
func (s *Store) UpdateScreening(ctx context.Context, refID string, upd screening.Update) error {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}

	if upd.ScreeningStatus != nil {
		add("screening_status", *upd.ScreeningStatus)
	}
	if upd.AIReviewer1 != nil {
		raw, err := json.Marshal(upd.AIReviewer1)
		if err != nil {
			return err
		}
		add("ai_reviewer_1", raw)
	}
	if upd.AIReviewer2 != nil {
		raw, err := json.Marshal(upd.AIReviewer2)
		if err != nil {
			return err
		}
		add("ai_reviewer_2", raw)
	}
	if upd.DualAICompleted != nil {
		add("dual_ai_completed", *upd.DualAICompleted)
	}
	if upd.DualAIAgreement != nil {
		add("dual_ai_agreement", *upd.DualAIAgreement)
	}
	if upd.ManualDecision != nil {
		add("manual_decision", *upd.ManualDecision)
	}
	if upd.ReviewerNotes != nil {
		add("reviewer_notes", *upd.ReviewerNotes)
	}
	if upd.ConflictResolved != nil {
		add("conflict_resolved", *upd.ConflictResolved)
	}
	if upd.ScreeningDate != nil {
		add("screening_date", *upd.ScreeningDate)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, refID)
	q := fmt.Sprintf(`UPDATE references_t SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReference(row rowScanner) (screening.Reference, error) {
	var r screening.Reference
	var rev1, rev2 []byte
	var agreement sql.NullBool
	var screeningDate sql.NullTime
	err := row.Scan(&r.ID, &r.ProjectID, &r.UserID, &r.Title, &r.Authors, &r.Abstract, &r.Year, &r.DOI,
		&r.ScreeningStatus, &rev1, &rev2, &r.DualAICompleted, &agreement,
		&r.ManualDecision, &r.ReviewerNotes, &r.ConflictResolved, &screeningDate, &r.CreatedAt)
	if err != nil {
		return screening.Reference{}, err
	}
	if len(rev1) > 0 {
		var v screening.Verdict
		if err := json.Unmarshal(rev1, &v); err != nil {
			return screening.Reference{}, fmt.Errorf("decode reviewer 1: %w", err)
		}
		r.AIReviewer1 = &v
	}
	if len(rev2) > 0 {
		var v screening.Verdict
		if err := json.Unmarshal(rev2, &v); err != nil {
			return screening.Reference{}, fmt.Errorf("decode reviewer 2: %w", err)
		}
		r.AIReviewer2 = &v
	}
	if agreement.Valid {
		b := agreement.Bool
		r.DualAIAgreement = &b
	}
	if screeningDate.Valid {
		t := screeningDate.Time
		r.ScreeningDate = &t
	}
	return r, nil
}

func scanReferences(rows *sql.Rows) ([]screening.Reference, error) {
	var out []screening.Reference
	for rows.Next() {
		r, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
