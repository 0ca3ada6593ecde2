package runner

import "time"

// Mode names accepted from the API and stored on projects.
const (
	ModeParallel = "parallel"
	ModeBatch    = "batch"
)

// Mode is the processing strategy: how many references form a unit of work
// and how long to wait between units. Stops land only on unit boundaries.
type Mode interface {
	Name() string
	UnitSize() int
	Pacing() time.Duration
}

// ParallelMode screens one reference per unit with both reviewer calls in
// flight at once.
type ParallelMode struct {
	PacingDelay time.Duration
}

func (m ParallelMode) Name() string  { return ModeParallel }
func (m ParallelMode) UnitSize() int { return 1 }
func (m ParallelMode) Pacing() time.Duration {
	if m.PacingDelay > 0 {
		return m.PacingDelay
	}
	return 500 * time.Millisecond
}

// BatchMode screens a chunk of references per unit, marking the whole chunk
// in progress up front and running the two reviewer calls back to back.
type BatchMode struct {
	Size        int
	PacingDelay time.Duration
}

func (m BatchMode) Name() string { return ModeBatch }
func (m BatchMode) UnitSize() int {
	if m.Size > 0 {
		return m.Size
	}
	return 10
}
func (m BatchMode) Pacing() time.Duration {
	if m.PacingDelay > 0 {
		return m.PacingDelay
	}
	return 2 * time.Second
}

// ModeFor resolves a stored mode name onto a strategy. Unknown names fall
// back to parallel.
func ModeFor(name string, batchSize int, batchPacing, parallelPacing time.Duration) Mode {
	if name == ModeBatch {
		return BatchMode{Size: batchSize, PacingDelay: batchPacing}
	}
	return ParallelMode{PacingDelay: parallelPacing}
}
