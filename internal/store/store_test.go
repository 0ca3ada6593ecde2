package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evidenceflow/refscreen/internal/screening"
	"github.com/evidenceflow/refscreen/internal/session"
	"github.com/evidenceflow/refscreen/internal/store"
)

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("refscreen"),
		tcPostgres.WithUsername("refscreen"),
		tcPostgres.WithPassword("refscreen"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://refscreen:refscreen@%s:%s/refscreen?sslmode=disable", host, port.Port())
	if err := applySchema(ctx, dsn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.DB.Close()

	// users
	if err := st.CreateUser(ctx, "reviewer@example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	userID, hash, err := st.GetUserByEmail(ctx, "reviewer@example.com")
	if err != nil || hash != "hash" {
		t.Fatalf("get user: %v hash=%q", err, hash)
	}

	// projects
	criteria := screening.Criteria{Population: "adults", InclusionKeywords: []string{"statin"}}
	projectID, err := st.CreateProject(ctx, userID, "Statins review", criteria, "batch", "@daily")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	proj, ok, err := st.GetProject(ctx, projectID, userID)
	if err != nil || !ok {
		t.Fatalf("get project: ok=%v err=%v", ok, err)
	}
	if proj.Criteria.Population != "adults" || proj.Mode != "batch" {
		t.Fatalf("project round trip: %+v", proj)
	}
	if _, ok, _ := st.GetProject(ctx, projectID, "00000000-0000-0000-0000-000000000000"); ok {
		t.Fatalf("project must be invisible to another user")
	}

	criteria.Outcome = "mortality"
	if err := st.UpdateProjectCriteria(ctx, projectID, userID, criteria); err != nil {
		t.Fatalf("update criteria: %v", err)
	}
	proj, _, _ = st.GetProject(ctx, projectID, userID)
	if proj.Criteria.Outcome != "mortality" {
		t.Fatalf("criteria update not persisted: %+v", proj.Criteria)
	}

	// references, oldest first
	var refIDs []string
	for i := 0; i < 3; i++ {
		id, err := st.CreateReference(ctx, screening.Reference{
			ProjectID: projectID, UserID: userID,
			Title: fmt.Sprintf("Trial %d", i), Abstract: "abstract", Year: 2020 + i,
		})
		if err != nil {
			t.Fatalf("create reference: %v", err)
		}
		refIDs = append(refIDs, id)
	}

	refs, err := st.ListReferences(ctx, projectID, screening.StatusPending)
	if err != nil || len(refs) != 3 {
		t.Fatalf("list pending: n=%d err=%v", len(refs), err)
	}
	if refs[0].ID != refIDs[0] {
		t.Fatalf("expected creation order, got %s first", refs[0].ID)
	}

	pending, err := st.PendingReferencesByID(ctx, projectID, refIDs)
	if err != nil || len(pending) != 3 {
		t.Fatalf("pending by id: n=%d err=%v", len(pending), err)
	}

	// partial screening update
	if err := st.MarkInProgress(ctx, refIDs[:1]); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	conflictStatus := screening.StatusConflict
	v1 := screening.Verdict{Recommendation: screening.RecommendInclude, Confidence: 0.9, Reasoning: "matches"}
	v2 := screening.Verdict{Recommendation: screening.RecommendExclude, Confidence: 0.8, Reasoning: "wrong population"}
	agree := false
	done := true
	if err := st.UpdateScreening(ctx, refIDs[0], screening.Update{
		ScreeningStatus: &conflictStatus,
		AIReviewer1:     &v1,
		AIReviewer2:     &v2,
		DualAICompleted: &done,
		DualAIAgreement: &agree,
	}); err != nil {
		t.Fatalf("update screening: %v", err)
	}

	got, ok, err := st.GetReference(ctx, refIDs[0])
	if err != nil || !ok {
		t.Fatalf("get reference: ok=%v err=%v", ok, err)
	}
	if got.ScreeningStatus != screening.StatusConflict || got.AIReviewer1 == nil || got.AIReviewer2 == nil {
		t.Fatalf("screening update not persisted: %+v", got)
	}
	if got.AIReviewer1.Recommendation != screening.RecommendInclude {
		t.Fatalf("reviewer 1 verdict: %+v", got.AIReviewer1)
	}
	if got.DualAIAgreement == nil || *got.DualAIAgreement {
		t.Fatalf("agreement flag: %+v", got.DualAIAgreement)
	}
	if got.ScreeningDate != nil {
		t.Fatalf("untouched column must stay null")
	}
	if got.Title != "Trial 0" {
		t.Fatalf("untouched column changed: %q", got.Title)
	}

	// processed references drop out of the pending set
	pending, err = st.PendingReferencesByID(ctx, projectID, refIDs)
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending after update: n=%d err=%v", len(pending), err)
	}

	conflicts, err := st.Conflicts(ctx, projectID)
	if err != nil || len(conflicts) != 1 || conflicts[0].ID != refIDs[0] {
		t.Fatalf("conflicts: %v err=%v", conflicts, err)
	}

	stats, err := st.ProjectStats(ctx, projectID)
	if err != nil {
		t.Fatalf("project stats: %v", err)
	}
	if stats.Total != 3 || stats.Processed != 1 || stats.Conflicts != 1 || stats.Agreements != 0 {
		t.Fatalf("stats: %+v", stats)
	}

	// unknown reference id
	if err := st.UpdateScreening(ctx, "00000000-0000-0000-0000-000000000000", screening.Update{ScreeningStatus: &conflictStatus}); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	testSessionStore(t, ctx, st, userID, projectID)
}

func testSessionStore(t *testing.T, ctx context.Context, st *store.Store, userID, projectID string) {
	ss := store.SessionStore{S: st}

	rec := session.Record{
		ProjectID: projectID,
		UserID:    userID,
		Status:    session.StatusProcessing,
		Mode:      "batch",
		Current:   2,
		Total:     10,
		Queue:     []session.QueueItem{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}},
		Timestamp: time.Now(),
	}
	if err := ss.Save(ctx, rec); err != nil {
		t.Fatalf("session save: %v", err)
	}

	// upsert replaces the row
	rec.Current = 4
	rec.Status = session.StatusPaused
	if err := ss.Save(ctx, rec); err != nil {
		t.Fatalf("session upsert: %v", err)
	}

	got, ok, err := ss.Get(ctx, projectID)
	if err != nil || !ok {
		t.Fatalf("session get: ok=%v err=%v", ok, err)
	}
	if got.Current != 4 || got.Status != session.StatusPaused || len(got.Queue) != 2 {
		t.Fatalf("session round trip: %+v", got)
	}
	if got.Queue[0].ID != "a" || got.Queue[1].Title != "B" {
		t.Fatalf("queue manifest mangled: %+v", got.Queue)
	}

	if err := ss.Delete(ctx, projectID); err != nil {
		t.Fatalf("session delete: %v", err)
	}
	if _, ok, _ := ss.Get(ctx, projectID); ok {
		t.Fatalf("session should be gone after delete")
	}
}

func applySchema(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaSQL := `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS users (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS projects (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  criteria JSONB NOT NULL DEFAULT '{}'::jsonb,
  mode TEXT NOT NULL DEFAULT 'parallel',
  schedule_cron TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS references_t (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  authors TEXT,
  abstract TEXT,
  year INT,
  doi TEXT,
  screening_status TEXT NOT NULL DEFAULT 'pending',
  ai_reviewer_1 JSONB,
  ai_reviewer_2 JSONB,
  dual_ai_completed BOOLEAN NOT NULL DEFAULT FALSE,
  dual_ai_agreement BOOLEAN,
  manual_decision TEXT,
  reviewer_notes TEXT,
  conflict_resolved BOOLEAN NOT NULL DEFAULT FALSE,
  screening_date TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS screening_sessions (
  project_id UUID PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  status TEXT NOT NULL DEFAULT 'idle',
  mode TEXT NOT NULL DEFAULT 'parallel',
  current_idx INT NOT NULL DEFAULT 0,
  total INT NOT NULL DEFAULT 0,
  queue JSONB NOT NULL DEFAULT '[]'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
