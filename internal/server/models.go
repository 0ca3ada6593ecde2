package server

import (
	"time"

	"github.com/evidenceflow/refscreen/internal/screening"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// CreateProjectRequest represents a new screening project payload.
type CreateProjectRequest struct {
	Name         string             `json:"name"`
	Criteria     screening.Criteria `json:"criteria"`
	Mode         string             `json:"mode"`
	ScheduleCron string             `json:"schedule_cron"`
}

// ProjectResponse is a project view.
type ProjectResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Criteria     screening.Criteria `json:"criteria"`
	Mode         string             `json:"mode"`
	ScheduleCron string             `json:"schedule_cron,omitempty"`
}

// CreateReferenceRequest represents a single reference payload.
type CreateReferenceRequest struct {
	Title    string `json:"title"`
	Authors  string `json:"authors"`
	Abstract string `json:"abstract"`
	Year     int    `json:"year"`
	DOI      string `json:"doi"`
}

// StartScreeningRequest selects the processing mode for a run.
type StartScreeningRequest struct {
	Mode string `json:"mode"`
}

// ScreeningStatusResponse reports the live session and counters.
type ScreeningStatusResponse struct {
	Active    bool            `json:"active"`
	Status    string          `json:"status"`
	Mode      string          `json:"mode,omitempty"`
	Current   int             `json:"current"`
	Total     int             `json:"total"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	Stats     screening.Stats `json:"stats"`
}

// InterruptionResponse reports whether a run can be resumed and where the
// saved session left off.
type InterruptionResponse struct {
	Interrupted   bool       `json:"interrupted"`
	Remaining     int        `json:"remaining"`
	Mode          string     `json:"mode,omitempty"`
	InterruptedAt *time.Time `json:"interrupted_at,omitempty"`
}

// ResolveConflictRequest carries a manual decision for a conflict.
type ResolveConflictRequest struct {
	ReferenceID string `json:"reference_id"`
	Decision    string `json:"decision"`
	Notes       string `json:"notes"`
}
