package session

import (
	"context"
	"time"
)

// Session statuses.
const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
)

// QueueItem is one manifest entry: enough to re-fetch and display the
// reference without storing the full record in the session.
type QueueItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Record is a durable processing session for one project. A project has at
// most one record; UserID marks the owner.
type Record struct {
	ProjectID string      `json:"project_id"`
	UserID    string      `json:"user_id"`
	Status    string      `json:"status"`
	Mode      string      `json:"mode"`
	Current   int         `json:"current"`
	Total     int         `json:"total"`
	Queue     []QueueItem `json:"queue"`
	Timestamp time.Time   `json:"timestamp"`
}

// Store persists session records keyed by project. Implementations live in
// the store package (Postgres) and inmemory.go (tests).
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, projectID string) (Record, bool, error)
	Delete(ctx context.Context, projectID string) error
}
