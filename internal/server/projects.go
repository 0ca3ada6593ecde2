package server

import (
	"net/http"
	"strconv"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/evidenceflow/refscreen/internal/runner"
	"github.com/evidenceflow/refscreen/internal/screening"
	"github.com/evidenceflow/refscreen/internal/search"
	"github.com/evidenceflow/refscreen/internal/store"
)

type ProjectsHandler struct {
	Store  *store.Store
	Search *search.Index
}

func (h *ProjectsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id/criteria", h.updateCriteria)
	g.POST("/:id/references", h.createReference)
	g.GET("/:id/references", h.listReferences)
	g.GET("/:id/references/search", h.searchReferences)
	g.GET("/:id/stats", h.stats)
}

func (h *ProjectsHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.Mode == "" {
		req.Mode = runner.ModeParallel
	}
	if req.Mode != runner.ModeParallel && req.Mode != runner.ModeBatch {
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be parallel or batch")
	}
	if req.ScheduleCron != "" && req.ScheduleCron != "@daily" && req.ScheduleCron != "@hourly" {
		if _, err := cronexpr.Parse(req.ScheduleCron); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule_cron")
		}
	}
	id, err := h.Store.CreateProject(c.Request().Context(), userID, req.Name, req.Criteria, req.Mode, req.ScheduleCron)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *ProjectsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projects, err := h.Store.ListProjects(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectResponse(p))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ProjectsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	p, ok, err := h.Store.GetProject(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return c.JSON(http.StatusOK, projectResponse(p))
}

func (h *ProjectsHandler) updateCriteria(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var criteria screening.Criteria
	if err := c.Bind(&criteria); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if criteria.Empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "criteria must not be empty")
	}
	if err := h.Store.UpdateProjectCriteria(c.Request().Context(), c.Param("id"), userID, criteria); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return c.NoContent(http.StatusOK)
}

func (h *ProjectsHandler) createReference(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projectID := c.Param("id")
	if _, ok, err := h.Store.GetProject(c.Request().Context(), projectID, userID); err != nil || !ok {
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	var req CreateReferenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref := screening.Reference{
		ProjectID: projectID,
		UserID:    userID,
		Title:     req.Title,
		Authors:   req.Authors,
		Abstract:  req.Abstract,
		Year:      req.Year,
		DOI:       req.DOI,
	}
	id, err := h.Store.CreateReference(c.Request().Context(), ref)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ref.ID = id
	if h.Search != nil {
		if err := h.Search.Add(ref); err != nil {
			c.Logger().Warnf("index reference %s: %v", id, err)
		}
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *ProjectsHandler) listReferences(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projectID := c.Param("id")
	if _, ok, err := h.Store.GetProject(c.Request().Context(), projectID, userID); err != nil || !ok {
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	status := c.QueryParam("status")
	refs, err := h.Store.ListReferences(c.Request().Context(), projectID, status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, refs)
}

func (h *ProjectsHandler) searchReferences(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projectID := c.Param("id")
	if _, ok, err := h.Store.GetProject(c.Request().Context(), projectID, userID); err != nil || !ok {
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if h.Search == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search index not available")
	}
	ids, err := h.Search.Search(projectID, q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]screening.Reference, 0, len(ids))
	for _, id := range ids {
		ref, ok, err := h.Store.GetReference(c.Request().Context(), id)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if ok && ref.ProjectID == projectID {
			out = append(out, ref)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ProjectsHandler) stats(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projectID := c.Param("id")
	if _, ok, err := h.Store.GetProject(c.Request().Context(), projectID, userID); err != nil || !ok {
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	st, err := h.Store.ProjectStats(c.Request().Context(), projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func projectResponse(p store.Project) ProjectResponse {
	return ProjectResponse{
		ID:           p.ID,
		Name:         p.Name,
		Criteria:     p.Criteria,
		Mode:         p.Mode,
		ScheduleCron: p.ScheduleCron,
	}
}
