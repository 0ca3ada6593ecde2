package session

import (
	"context"
	"testing"
	"time"

	"github.com/evidenceflow/refscreen/internal/screening"
)

type stubRefs struct {
	pending map[string]screening.Reference
}

func (s *stubRefs) PendingReferencesByID(_ context.Context, _ string, ids []string) (map[string]screening.Reference, error) {
	out := make(map[string]screening.Reference)
	for _, id := range ids {
		if ref, ok := s.pending[id]; ok {
			out[id] = ref
		}
	}
	return out, nil
}

func newTestManager(pending map[string]screening.Reference) (*Manager, *InMemoryStore) {
	store := NewInMemoryStore()
	m := NewManager(store, &stubRefs{pending: pending}, nil)
	return m, store
}

func TestLoadDeletesStaleSession(t *testing.T) {
	m, store := newTestManager(nil)
	ctx := context.Background()

	rec := Record{ProjectID: "p1", UserID: "u1", Status: StatusPaused, Timestamp: time.Now().Add(-5 * time.Hour)}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, ok, err := m.Load(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("stale session should be reported absent")
	}
	if _, exists, _ := store.Get(ctx, "p1"); exists {
		t.Fatalf("stale session should be deleted from the store")
	}
}

func TestLoadKeepsFreshSession(t *testing.T) {
	m, store := newTestManager(nil)
	ctx := context.Background()

	rec := Record{ProjectID: "p1", UserID: "u1", Status: StatusPaused, Timestamp: time.Now().Add(-time.Hour)}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := m.Load(ctx, "u1", "p1")
	if err != nil || !ok {
		t.Fatalf("expected fresh session, ok=%v err=%v", ok, err)
	}
	if got.Status != StatusPaused {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestLoadIgnoresOtherUsersSession(t *testing.T) {
	m, store := newTestManager(nil)
	ctx := context.Background()

	rec := Record{ProjectID: "p1", UserID: "owner", Status: StatusPaused, Timestamp: time.Now()}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, ok, err := m.Load(ctx, "intruder", "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("other user's session must be invisible")
	}
	if _, exists, _ := store.Get(ctx, "p1"); !exists {
		t.Fatalf("other user's session must not be deleted")
	}
}

func TestLoadNeverDeletesOtherUsersStaleSession(t *testing.T) {
	m, store := newTestManager(nil)
	ctx := context.Background()

	rec := Record{ProjectID: "p1", UserID: "owner", Status: StatusPaused, Timestamp: time.Now().Add(-5 * time.Hour)}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, ok, err := m.Load(ctx, "intruder", "p1")
	if err != nil || ok {
		t.Fatalf("other user's session must be invisible, ok=%v err=%v", ok, err)
	}
	if _, exists, _ := store.Get(ctx, "p1"); !exists {
		t.Fatalf("a non-owner load must not expire another user's session")
	}

	// the owner's load still expires it
	if _, ok, _ := m.Load(ctx, "owner", "p1"); ok {
		t.Fatalf("stale session should be reported absent to the owner")
	}
	if _, exists, _ := store.Get(ctx, "p1"); exists {
		t.Fatalf("owner load should delete the stale session")
	}
}

func TestLoadQueueRevalidatesAgainstPending(t *testing.T) {
	pending := map[string]screening.Reference{
		"a": {ID: "a", Title: "A", ScreeningStatus: screening.StatusPending},
		"c": {ID: "c", Title: "C", ScreeningStatus: screening.StatusPending},
	}
	m, _ := newTestManager(pending)
	ctx := context.Background()

	rec := Record{
		ProjectID: "p1", UserID: "u1", Timestamp: time.Now(),
		Queue: []QueueItem{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}, {ID: "c", Title: "C"}},
	}
	refs, err := m.LoadQueue(ctx, rec)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 surviving references, got %d", len(refs))
	}
	if refs[0].ID != "a" || refs[1].ID != "c" {
		t.Fatalf("manifest order not preserved: %v", refs)
	}
}

func TestCheckForInterruption(t *testing.T) {
	pending := map[string]screening.Reference{
		"a": {ID: "a", ScreeningStatus: screening.StatusPending},
	}
	m, store := newTestManager(pending)
	ctx := context.Background()

	// no session at all
	intr, err := m.CheckForInterruption(ctx, "u1", "p1")
	if err != nil || intr.Interrupted || intr.Remaining != 0 {
		t.Fatalf("no session: %+v err=%v", intr, err)
	}

	// session with an empty (fully advanced) queue
	saved := time.Now().Add(-30 * time.Minute)
	rec := Record{ProjectID: "p1", UserID: "u1", Mode: "batch", Timestamp: saved, Queue: []QueueItem{{ID: "gone"}}}
	_ = store.Save(ctx, rec)
	intr, err = m.CheckForInterruption(ctx, "u1", "p1")
	if err != nil || intr.Interrupted {
		t.Fatalf("empty revalidated queue must not report interruption: %+v", intr)
	}

	// session with live pending work carries mode and timestamp
	rec.Queue = []QueueItem{{ID: "a"}}
	_ = store.Save(ctx, rec)
	intr, err = m.CheckForInterruption(ctx, "u1", "p1")
	if err != nil || !intr.Interrupted || intr.Remaining != 1 {
		t.Fatalf("expected interruption with 1 remaining: %+v err=%v", intr, err)
	}
	if intr.Mode != "batch" {
		t.Fatalf("mode = %q, want batch", intr.Mode)
	}
	if !intr.InterruptedAt.Equal(saved) {
		t.Fatalf("interrupted at = %v, want %v", intr.InterruptedAt, saved)
	}
}

func TestUpdateProgressIsIdempotent(t *testing.T) {
	m, store := newTestManager(nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := m.UpdateProgress(ctx, "u1", "p1", 3, 10, "batch"); err != nil {
			t.Fatalf("UpdateProgress: %v", err)
		}
	}
	rec, ok, _ := store.Get(ctx, "p1")
	if !ok {
		t.Fatalf("progress record missing")
	}
	if rec.Current != 3 || rec.Total != 10 || rec.Mode != "batch" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestUpdateProgressRejectsNonOwner(t *testing.T) {
	m, store := newTestManager(nil)
	ctx := context.Background()

	rec := Record{ProjectID: "p1", UserID: "owner", Timestamp: time.Now(), Current: 5, Total: 10}
	_ = store.Save(ctx, rec)

	if err := m.UpdateProgress(ctx, "intruder", "p1", 9, 10, "batch"); err == nil {
		t.Fatalf("non-owner progress update must be rejected")
	}
	got, _, _ := store.Get(ctx, "p1")
	if got.Current != 5 || got.UserID != "owner" {
		t.Fatalf("owner's record was overwritten: %+v", got)
	}
}

func TestUpdateProgressPreservesQueue(t *testing.T) {
	m, store := newTestManager(nil)
	ctx := context.Background()

	rec := Record{ProjectID: "p1", UserID: "u1", Timestamp: time.Now(), Queue: []QueueItem{{ID: "a"}}}
	_ = store.Save(ctx, rec)

	if err := m.UpdateProgress(ctx, "u1", "p1", 1, 1, "parallel"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, _, _ := store.Get(ctx, "p1")
	if len(got.Queue) != 1 || got.Queue[0].ID != "a" {
		t.Fatalf("queue manifest lost on progress update: %+v", got)
	}
}
