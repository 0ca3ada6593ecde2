package resolve

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/evidenceflow/refscreen/internal/screening"
)

// ErrNoConflicts is returned when the project has nothing left to resolve.
var ErrNoConflicts = errors.New("no unresolved conflicts")

// StoreAPI captures the store methods the workflow needs.
type StoreAPI interface {
	Conflicts(ctx context.Context, projectID string) ([]screening.Reference, error)
	UpdateScreening(ctx context.Context, refID string, upd screening.Update) error
}

// Workflow walks a project's conflicts one at a time. It holds a snapshot
// ordered by creation time; resolving advances the cursor, and running past
// the end reloads the snapshot from the store.
type Workflow struct {
	Store  StoreAPI
	Logger *log.Logger

	mu        sync.Mutex
	projectID string
	conflicts []screening.Reference
	index     int
	resolved  int
}

func NewWorkflow(store StoreAPI, projectID string, logger *log.Logger) *Workflow {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESOLVE] ", log.LstdFlags)
	}
	return &Workflow{Store: store, projectID: projectID, Logger: logger, index: -1}
}

// Load snapshots the project's unresolved conflicts and resets the cursor.
func (w *Workflow) Load(ctx context.Context) (int, error) {
	conflicts, err := w.Store.Conflicts(ctx, w.projectID)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conflicts = conflicts
	w.index = 0
	return len(conflicts), nil
}

// Current returns the conflict under the cursor. When the cursor has run
// past the snapshot (or nothing is loaded yet), the snapshot is reloaded
// and the cursor reset; an empty reload reports ErrNoConflicts.
func (w *Workflow) Current(ctx context.Context) (screening.Reference, error) {
	w.mu.Lock()
	needReload := w.index < 0 || w.index >= len(w.conflicts)
	w.mu.Unlock()

	if needReload {
		n, err := w.Load(ctx)
		if err != nil {
			return screening.Reference{}, err
		}
		if n == 0 {
			return screening.Reference{}, ErrNoConflicts
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.index >= len(w.conflicts) {
		return screening.Reference{}, ErrNoConflicts
	}
	return w.conflicts[w.index], nil
}

// Resolve records the manual decision for the current conflict and advances
// the cursor.
func (w *Workflow) Resolve(ctx context.Context, decision, notes string) error {
	if decision != screening.StatusInclude && decision != screening.StatusExclude && decision != screening.StatusMaybe {
		return errors.New("decision must be include, exclude or maybe")
	}
	ref, err := w.Current(ctx)
	if err != nil {
		return err
	}
	if err := w.ResolveByID(ctx, ref.ID, decision, notes); err != nil {
		return err
	}
	w.mu.Lock()
	w.index++
	w.mu.Unlock()
	return nil
}

// ResolveByID persists a manual decision for a specific conflicted
// reference without touching the cursor.
func (w *Workflow) ResolveByID(ctx context.Context, refID, decision, notes string) error {
	now := time.Now()
	resolved := true
	upd := screening.Update{
		ScreeningStatus:  &decision,
		ManualDecision:   &decision,
		ConflictResolved: &resolved,
		ScreeningDate:    &now,
	}
	if notes != "" {
		upd.ReviewerNotes = &notes
	}
	if err := w.Store.UpdateScreening(ctx, refID, upd); err != nil {
		return err
	}
	w.mu.Lock()
	w.resolved++
	w.mu.Unlock()
	w.Logger.Printf("conflict %s resolved as %s", refID, decision)
	return nil
}

// Resolved reports how many conflicts this workflow has resolved.
func (w *Workflow) Resolved() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resolved
}

// Remaining reports how many snapshot entries are left under the cursor.
func (w *Workflow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.index < 0 {
		return len(w.conflicts)
	}
	if w.index >= len(w.conflicts) {
		return 0
	}
	return len(w.conflicts) - w.index
}
