package runs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vitiligo-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the run history service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches run history routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tracking/runs", h.listRuns)
	rg.GET("/tracking/runs/:id", h.getRun)
}

func (h *Handler) getRun(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "run id is required", nil)
		return
	}

	run, err := h.Svc.Get(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch run", nil)
		}
		return
	}
	respond.OK(c, toResponse(run))
}

func (h *Handler) listRuns(c *gin.Context) {
	limit := 20
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	list, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list runs", nil)
		return
	}

	resp := make([]gin.H, 0, len(list))
	for _, run := range list {
		resp = append(resp, toResponse(run))
	}
	respond.OK(c, resp)
}

func toResponse(run Run) gin.H {
	item := gin.H{
		"runId":         run.ID,
		"subjectName":   run.SubjectName,
		"intervalWeeks": run.IntervalWeeks,
		"status":        run.Status,
		"durationMs":    run.DurationMs,
		"createdAt":     run.CreatedAt,
	}
	if run.FailureKind != "" {
		item["failureKind"] = run.FailureKind
		item["failureMessage"] = run.FailureMessage
	}
	if run.ExitCode != nil {
		item["exitCode"] = *run.ExitCode
	}
	if run.ChangePercentage != nil {
		item["changePercentage"] = *run.ChangePercentage
	}
	if run.CompletedAt != nil {
		item["completedAt"] = *run.CompletedAt
	}
	return item
}
