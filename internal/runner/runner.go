package runner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/evidenceflow/refscreen/internal/screening"
	"github.com/evidenceflow/refscreen/internal/session"
)

// ErrAlreadyRunning is returned when a project already has an active run.
var ErrAlreadyRunning = errors.New("screening run already active for project")

// StoreAPI captures the store methods required by the runner.
type StoreAPI interface {
	MarkInProgress(ctx context.Context, ids []string) error
}

// Job is one screening run over a queue of pending references.
type Job struct {
	UserID    string
	ProjectID string
	Criteria  screening.Criteria
	Refs      []screening.Reference
	Mode      Mode

	// Offset shifts reported progress when resuming a partial run.
	Offset int
}

// Runner drives screening runs unit by unit, persisting progress so an
// interrupted run can resume from its cursor.
type Runner struct {
	Coord    *screening.Coordinator
	Sessions *session.Manager
	Store    StoreAPI

	BatchSize      int
	BatchPacing    time.Duration
	ParallelPacing time.Duration

	logger       *log.Logger
	tracer       trace.Tracer
	processedCtr otelmetric.Int64Counter
	conflictCtr  otelmetric.Int64Counter

	mu    sync.Mutex
	stats map[string]*screening.Stats
	stops map[string]bool
	runs  map[string]bool
}

// New constructs a Runner. meter and tracer may be nil; instrumentation
// degrades to noop.
func New(coord *screening.Coordinator, sessions *session.Manager, st StoreAPI, logger *log.Logger, meter otelmetric.Meter, tracer trace.Tracer) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[RUNNER] ", log.LstdFlags)
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("runner")
	}
	r := &Runner{
		Coord:    coord,
		Sessions: sessions,
		Store:    st,
		logger:   logger,
		tracer:   tracer,
		stats:    make(map[string]*screening.Stats),
		stops:    make(map[string]bool),
		runs:     make(map[string]bool),
	}
	if meter != nil {
		var err error
		r.processedCtr, err = meter.Int64Counter("screening_references_processed")
		if err != nil {
			logger.Printf("warn: create processed counter failed: %v", err)
		}
		r.conflictCtr, err = meter.Int64Counter("screening_conflicts_detected")
		if err != nil {
			logger.Printf("warn: create conflict counter failed: %v", err)
		}
	}
	return r
}

// ModeByName builds a Mode from a stored name using the runner's pacing
// settings.
func (r *Runner) ModeByName(name string) Mode {
	return ModeFor(name, r.BatchSize, r.BatchPacing, r.ParallelPacing)
}

// Stop requests that the project's active run halt at the next unit
// boundary. The unit in flight always completes.
func (r *Runner) Stop(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[projectID] {
		r.stops[projectID] = true
	}
}

// Active reports whether a run is in flight for the project.
func (r *Runner) Active(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[projectID]
}

// Stats returns a copy of the project's live run counters.
func (r *Runner) Stats(projectID string) screening.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.stats[projectID]; ok {
		return *st
	}
	return screening.Stats{}
}

// Run processes the job's queue. It saves the queue manifest up front,
// updates the cursor as units complete, and either clears the session on
// completion or leaves it paused for resume.
func (r *Runner) Run(ctx context.Context, job Job) (screening.Stats, error) {
	if len(job.Refs) == 0 {
		return r.Stats(job.ProjectID), nil
	}
	if err := r.begin(job); err != nil {
		return screening.Stats{}, err
	}
	defer r.end(job.ProjectID)

	runID := uuid.NewString()
	r.logger.Printf("run %s started for project %s (%d references, mode %s)", runID, job.ProjectID, len(job.Refs), job.Mode.Name())

	ctx, span := r.tracer.Start(ctx, "screening.run")
	defer span.End()

	total := job.Offset + len(job.Refs)
	rec := session.Record{
		ProjectID: job.ProjectID,
		UserID:    job.UserID,
		Status:    session.StatusProcessing,
		Mode:      job.Mode.Name(),
		Current:   job.Offset,
		Total:     total,
	}
	if err := r.Sessions.SaveQueue(ctx, rec, job.Refs); err != nil {
		return screening.Stats{}, err
	}

	units := partition(job.Refs, job.Mode.UnitSize())
	concurrent := job.Mode.Name() == ModeParallel
	attempted := job.Offset

	for u, unit := range units {
		if r.stopRequested(job.ProjectID) || ctx.Err() != nil {
			r.logger.Printf("run paused for project %s at %d/%d", job.ProjectID, attempted, total)
			r.pauseSession(job, attempted, total)
			return r.Stats(job.ProjectID), nil
		}

		ids := make([]string, len(unit))
		for i, ref := range unit {
			ids[i] = ref.ID
		}
		if err := r.Store.MarkInProgress(ctx, ids); err != nil {
			r.logger.Printf("mark in progress failed for project %s, aborting run: %v", job.ProjectID, err)
			r.pauseSession(job, attempted, total)
			return r.Stats(job.ProjectID), err
		}

		for _, ref := range unit {
			res, err := r.Coord.Process(ctx, ref, job.Criteria, concurrent)
			if err != nil {
				// persistence failures abort the run; the session stays
				// paused at the last completed unit so a resume can retry
				r.logger.Printf("persist failed for reference %s, aborting run: %v", ref.ID, err)
				r.pauseSession(job, attempted, total)
				return r.Stats(job.ProjectID), err
			}
			r.record(job.ProjectID, res)
		}

		attempted += len(unit)
		if err := r.Sessions.UpdateProgress(ctx, job.UserID, job.ProjectID, attempted, total, job.Mode.Name()); err != nil {
			r.logger.Printf("warn: save progress: %v", err)
		}

		if u < len(units)-1 {
			select {
			case <-time.After(job.Mode.Pacing()):
			case <-ctx.Done():
			}
		}
	}

	if err := r.Sessions.Clear(ctx, job.ProjectID); err != nil {
		r.logger.Printf("warn: clear session: %v", err)
	}
	r.logger.Printf("run completed for project %s (%d references)", job.ProjectID, len(job.Refs))
	return r.Stats(job.ProjectID), nil
}

// Resume picks up an interrupted run: load the session, revalidate the
// queue against still-pending references, and process exactly the
// remainder in the saved mode.
func (r *Runner) Resume(ctx context.Context, userID, projectID string, criteria screening.Criteria) (screening.Stats, error) {
	rec, ok, err := r.Sessions.Load(ctx, userID, projectID)
	if err != nil {
		return screening.Stats{}, err
	}
	if !ok {
		return screening.Stats{}, errors.New("no session to resume")
	}
	remaining, err := r.Sessions.LoadQueue(ctx, rec)
	if err != nil {
		return screening.Stats{}, err
	}
	if len(remaining) == 0 {
		if err := r.Sessions.Clear(ctx, projectID); err != nil {
			return screening.Stats{}, err
		}
		return r.Stats(projectID), nil
	}
	return r.Run(ctx, Job{
		UserID:    userID,
		ProjectID: projectID,
		Criteria:  criteria,
		Refs:      remaining,
		Mode:      r.ModeByName(rec.Mode),
		Offset:    rec.Total - len(remaining),
	})
}

// pauseSession persists the cursor and marks the session paused so the run
// can be resumed. It uses a fresh context: the run's own context may already
// be cancelled.
func (r *Runner) pauseSession(job Job, current, total int) {
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Sessions.UpdateProgress(saveCtx, job.UserID, job.ProjectID, current, total, job.Mode.Name()); err != nil {
		r.logger.Printf("warn: save pause progress: %v", err)
	}
	if err := r.Sessions.SetStatus(saveCtx, job.ProjectID, session.StatusPaused); err != nil {
		r.logger.Printf("warn: mark session paused: %v", err)
	}
}

func (r *Runner) begin(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[job.ProjectID] {
		return ErrAlreadyRunning
	}
	r.runs[job.ProjectID] = true
	r.stops[job.ProjectID] = false
	if _, ok := r.stats[job.ProjectID]; !ok {
		r.stats[job.ProjectID] = &screening.Stats{}
	}
	r.stats[job.ProjectID].Total = job.Offset + len(job.Refs)
	return nil
}

func (r *Runner) end(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, projectID)
	delete(r.stops, projectID)
}

func (r *Runner) stopRequested(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops[projectID]
}

func (r *Runner) record(projectID string, res screening.Result) {
	r.mu.Lock()
	st := r.stats[projectID]
	st.Processed++
	if res.Agreement {
		st.Agreements++
	} else {
		st.Conflicts++
	}
	r.mu.Unlock()

	ctx := context.Background()
	if r.processedCtr != nil {
		r.processedCtr.Add(ctx, 1)
	}
	if !res.Agreement && r.conflictCtr != nil {
		r.conflictCtr.Add(ctx, 1)
	}
}

func partition(refs []screening.Reference, size int) [][]screening.Reference {
	if size <= 0 {
		size = 1
	}
	var units [][]screening.Reference
	for i := 0; i < len(refs); i += size {
		end := i + size
		if end > len(refs) {
			end = len(refs)
		}
		units = append(units, refs[i:end])
	}
	return units
}
