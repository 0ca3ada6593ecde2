package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/evidenceflow/refscreen/internal/screening"
)

// ReferenceSource resolves manifest ids back to live references. Only
// references still pending come back; the rest are silently absent.
type ReferenceSource interface {
	PendingReferencesByID(ctx context.Context, projectID string, ids []string) (map[string]screening.Reference, error)
}

// Manager applies the session lifecycle rules on top of a Store: staleness
// expiry, owner isolation, and queue revalidation.
type Manager struct {
	Store     Store
	Refs      ReferenceSource
	Staleness time.Duration
	Logger    *log.Logger
}

// NewManager builds a manager with the default 4h staleness window.
func NewManager(store Store, refs ReferenceSource, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	return &Manager{Store: store, Refs: refs, Staleness: 4 * time.Hour, Logger: logger}
}

// Save stamps and persists the record.
func (m *Manager) Save(ctx context.Context, rec Record) error {
	rec.Timestamp = time.Now()
	return m.Store.Save(ctx, rec)
}

// Load returns the caller's live session for the project, if any.
//
// A record owned by a different user is reported absent and left in place,
// whatever its age. The owner's record older than the staleness window is
// deleted as a side effect and reported absent.
func (m *Manager) Load(ctx context.Context, userID, projectID string) (Record, bool, error) {
	rec, ok, err := m.Store.Get(ctx, projectID)
	if err != nil || !ok {
		return Record{}, false, err
	}
	if rec.UserID != userID {
		return Record{}, false, nil
	}
	if time.Since(rec.Timestamp) > m.Staleness {
		m.Logger.Printf("dropping stale session for project %s (age %s)", projectID, time.Since(rec.Timestamp).Round(time.Minute))
		if err := m.Store.Delete(ctx, projectID); err != nil {
			return Record{}, false, fmt.Errorf("clear stale session: %w", err)
		}
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Clear removes the project's session record.
func (m *Manager) Clear(ctx context.Context, projectID string) error {
	return m.Store.Delete(ctx, projectID)
}

// SaveQueue snapshots the processing queue as an id+title manifest along
// with the mode and cursor.
func (m *Manager) SaveQueue(ctx context.Context, rec Record, refs []screening.Reference) error {
	items := make([]QueueItem, 0, len(refs))
	for _, r := range refs {
		items = append(items, QueueItem{ID: r.ID, Title: r.Title})
	}
	rec.Queue = items
	return m.Save(ctx, rec)
}

// LoadQueue revalidates a saved manifest against the live store: only
// references still pending survive, in manifest order.
func (m *Manager) LoadQueue(ctx context.Context, rec Record) ([]screening.Reference, error) {
	if len(rec.Queue) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rec.Queue))
	for _, it := range rec.Queue {
		ids = append(ids, it.ID)
	}
	live, err := m.Refs.PendingReferencesByID(ctx, rec.ProjectID, ids)
	if err != nil {
		return nil, fmt.Errorf("revalidate queue: %w", err)
	}
	out := make([]screening.Reference, 0, len(rec.Queue))
	for _, it := range rec.Queue {
		if ref, ok := live[it.ID]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// Interruption describes a resumable run: whether one exists, how much of
// the queue is left, and the mode and timestamp of the saved session so the
// caller can present "N remaining, last updated at T".
type Interruption struct {
	Interrupted   bool
	Remaining     int
	Mode          string
	InterruptedAt time.Time
}

// CheckForInterruption reports whether the user has a resumable run:
// a live session whose revalidated queue is non-empty.
func (m *Manager) CheckForInterruption(ctx context.Context, userID, projectID string) (Interruption, error) {
	rec, ok, err := m.Load(ctx, userID, projectID)
	if err != nil || !ok {
		return Interruption{}, err
	}
	refs, err := m.LoadQueue(ctx, rec)
	if err != nil {
		return Interruption{}, err
	}
	return Interruption{
		Interrupted:   len(refs) > 0,
		Remaining:     len(refs),
		Mode:          rec.Mode,
		InterruptedAt: rec.Timestamp,
	}, nil
}

// SetStatus updates the lifecycle status of an existing session record.
func (m *Manager) SetStatus(ctx context.Context, projectID, status string) error {
	rec, ok, err := m.Store.Get(ctx, projectID)
	if err != nil || !ok {
		return err
	}
	rec.Status = status
	return m.Save(ctx, rec)
}

// UpdateProgress upserts the cursor position; repeated calls with the same
// values are harmless. An existing record owned by another user is never
// overwritten.
func (m *Manager) UpdateProgress(ctx context.Context, userID, projectID string, current, total int, mode string) error {
	rec, ok, err := m.Store.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if ok && rec.UserID != userID {
		return fmt.Errorf("session for project %s belongs to another user", projectID)
	}
	if !ok {
		rec = Record{ProjectID: projectID, UserID: userID, Status: StatusProcessing}
	}
	rec.Current = current
	rec.Total = total
	rec.Mode = mode
	return m.Save(ctx, rec)
}
