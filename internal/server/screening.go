package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/evidenceflow/refscreen/internal/resolve"
	"github.com/evidenceflow/refscreen/internal/runner"
	"github.com/evidenceflow/refscreen/internal/screening"
	"github.com/evidenceflow/refscreen/internal/session"
	"github.com/evidenceflow/refscreen/internal/store"
	"github.com/evidenceflow/refscreen/internal/telemetry"
)

type ScreeningHandler struct {
	Store    *store.Store
	Sessions *session.Manager
	Runner   *runner.Runner
	Metrics  *telemetry.Metrics

	// RunTimeout bounds a background screening run.
	RunTimeout time.Duration

	Logger *log.Logger

	mu        sync.Mutex
	workflows map[string]*resolve.Workflow
}

func (h *ScreeningHandler) Register(g *echo.Group) {
	g.POST("/:id/screening/start", h.start)
	g.POST("/:id/screening/resume", h.resume)
	g.POST("/:id/screening/stop", h.stop)
	g.GET("/:id/screening/status", h.status)
	g.GET("/:id/screening/interruption", h.interruption)
	g.GET("/:id/conflicts", h.conflicts)
	g.POST("/:id/conflicts/resolve", h.resolveConflict)
}

func (h *ScreeningHandler) logger() *log.Logger {
	if h.Logger == nil {
		h.Logger = log.New(log.Writer(), "[SCREEN] ", log.LstdFlags)
	}
	return h.Logger
}

func (h *ScreeningHandler) workflowFor(projectID string) *resolve.Workflow {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.workflows == nil {
		h.workflows = make(map[string]*resolve.Workflow)
	}
	wf, ok := h.workflows[projectID]
	if !ok {
		wf = resolve.NewWorkflow(h.Store, projectID, h.logger())
		h.workflows[projectID] = wf
	}
	return wf
}

func (h *ScreeningHandler) project(c echo.Context) (store.Project, error) {
	userID := c.Get("user_id").(string)
	p, ok, err := h.Store.GetProject(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return store.Project{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return store.Project{}, echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return p, nil
}

func (h *ScreeningHandler) start(c echo.Context) error {
	p, err := h.project(c)
	if err != nil {
		return err
	}
	userID := c.Get("user_id").(string)

	var req StartScreeningRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	modeName := req.Mode
	if modeName == "" {
		modeName = p.Mode
	}
	if modeName != runner.ModeParallel && modeName != runner.ModeBatch {
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be parallel or batch")
	}
	if h.Runner.Active(p.ID) {
		return echo.NewHTTPError(http.StatusConflict, "screening already running")
	}

	refs, err := h.Store.ListReferences(c.Request().Context(), p.ID, screening.StatusPending)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(refs) == 0 {
		return echo.NewHTTPError(http.StatusConflict, "no pending references")
	}

	if h.Metrics != nil {
		h.Metrics.RunsStarted.WithLabelValues(modeName).Inc()
	}
	job := runner.Job{
		UserID:    userID,
		ProjectID: p.ID,
		Criteria:  p.Criteria,
		Refs:      refs,
		Mode:      h.Runner.ModeByName(modeName),
	}
	go h.runInBackground(func(ctx context.Context) (screening.Stats, error) {
		return h.Runner.Run(ctx, job)
	}, p.ID)

	return c.JSON(http.StatusAccepted, map[string]interface{}{"status": "started", "total": len(refs), "mode": modeName})
}

func (h *ScreeningHandler) resume(c echo.Context) error {
	p, err := h.project(c)
	if err != nil {
		return err
	}
	userID := c.Get("user_id").(string)

	intr, err := h.Sessions.CheckForInterruption(c.Request().Context(), userID, p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !intr.Interrupted {
		return echo.NewHTTPError(http.StatusConflict, "nothing to resume")
	}
	if h.Runner.Active(p.ID) {
		return echo.NewHTTPError(http.StatusConflict, "screening already running")
	}

	criteria := p.Criteria
	go h.runInBackground(func(ctx context.Context) (screening.Stats, error) {
		return h.Runner.Resume(ctx, userID, p.ID, criteria)
	}, p.ID)

	return c.JSON(http.StatusAccepted, map[string]interface{}{"status": "resumed", "remaining": intr.Remaining})
}

func (h *ScreeningHandler) runInBackground(run func(context.Context) (screening.Stats, error), projectID string) {
	timeout := h.RunTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := run(ctx); err != nil && !errors.Is(err, runner.ErrAlreadyRunning) {
		h.logger().Printf("run failed for project %s: %v", projectID, err)
	}
}

func (h *ScreeningHandler) stop(c echo.Context) error {
	p, err := h.project(c)
	if err != nil {
		return err
	}
	if !h.Runner.Active(p.ID) {
		return echo.NewHTTPError(http.StatusConflict, "no active run")
	}
	h.Runner.Stop(p.ID)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (h *ScreeningHandler) status(c echo.Context) error {
	p, err := h.project(c)
	if err != nil {
		return err
	}
	userID := c.Get("user_id").(string)

	resp := ScreeningStatusResponse{Active: h.Runner.Active(p.ID), Status: session.StatusIdle}
	rec, ok, err := h.Sessions.Load(c.Request().Context(), userID, p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ok {
		resp.Status = rec.Status
		resp.Mode = rec.Mode
		resp.Current = rec.Current
		resp.Total = rec.Total
		ts := rec.Timestamp
		resp.UpdatedAt = &ts
	}
	st, err := h.Store.ProjectStats(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp.Stats = st
	return c.JSON(http.StatusOK, resp)
}

func (h *ScreeningHandler) interruption(c echo.Context) error {
	p, err := h.project(c)
	if err != nil {
		return err
	}
	userID := c.Get("user_id").(string)
	intr, err := h.Sessions.CheckForInterruption(c.Request().Context(), userID, p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := InterruptionResponse{Interrupted: intr.Interrupted, Remaining: intr.Remaining, Mode: intr.Mode}
	if !intr.InterruptedAt.IsZero() {
		ts := intr.InterruptedAt
		resp.InterruptedAt = &ts
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ScreeningHandler) conflicts(c echo.Context) error {
	p, err := h.project(c)
	if err != nil {
		return err
	}
	conflicts, err := h.Store.Conflicts(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, conflicts)
}

func (h *ScreeningHandler) resolveConflict(c echo.Context) error {
	p, err := h.project(c)
	if err != nil {
		return err
	}
	var req ResolveConflictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Decision != screening.StatusInclude && req.Decision != screening.StatusExclude && req.Decision != screening.StatusMaybe {
		return echo.NewHTTPError(http.StatusBadRequest, "decision must be include, exclude or maybe")
	}

	wf := h.workflowFor(p.ID)
	ctx := c.Request().Context()

	if req.ReferenceID != "" {
		ref, ok, err := h.Store.GetReference(ctx, req.ReferenceID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !ok || ref.ProjectID != p.ID {
			return echo.NewHTTPError(http.StatusNotFound, "reference not found")
		}
		if ref.ScreeningStatus != screening.StatusConflict {
			return echo.NewHTTPError(http.StatusConflict, "reference is not in conflict")
		}
		if err := wf.ResolveByID(ctx, req.ReferenceID, req.Decision, req.Notes); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	} else {
		if _, err := wf.Current(ctx); errors.Is(err, resolve.ErrNoConflicts) {
			return echo.NewHTTPError(http.StatusConflict, "no unresolved conflicts")
		} else if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if err := wf.Resolve(ctx, req.Decision, req.Notes); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	if h.Metrics != nil {
		h.Metrics.ConflictsResolved.Inc()
	}
	return c.NoContent(http.StatusOK)
}
