package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/response"
)

type schedulingRunner interface {
	RunScheduling(ctx context.Context, req dto.RunSchedulingRequest) (*dto.SchedulingSummary, error)
	SubmitRun(ctx context.Context, req dto.RunSchedulingRequest) (*dto.RunStatus, error)
	RunStatus(ctx context.Context, runID string) (*dto.RunStatus, error)
	ListRuns(ctx context.Context, query dto.RunHistoryQuery) ([]models.SchedulingRun, error)
}

// SchedulerHandler exposes scheduling run endpoints.
type SchedulerHandler struct {
	service schedulingRunner
	logger  *zap.Logger
}

// NewSchedulerHandler constructs the handler.
func NewSchedulerHandler(svc schedulingRunner, logger *zap.Logger) *SchedulerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulerHandler{service: svc, logger: logger}
}

// Run godoc
// @Summary Run the scheduler for a term
// @Description Solves every course offering of the term and writes the result back. With async=true the run is queued and 202 is returned with the run status.
// @Tags Scheduler
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.RunSchedulingRequest true "Run payload"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /scheduler/runs [post]
func (h *SchedulerHandler) Run(c *gin.Context) {
	var req dto.RunSchedulingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid run payload"))
			return
		}
	}

	if req.Async {
		status, err := h.service.SubmitRun(c.Request.Context(), req)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, status)
		return
	}

	summary, err := h.service.RunScheduling(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims := middleware.CurrentClaims(c); claims != nil {
		h.logger.Info("scheduling run requested", zap.String("user_id", claims.UserID), zap.String("run_id", summary.RunID))
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Status godoc
// @Summary Get the status of an asynchronous run
// @Tags Scheduler
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scheduler/runs/{id} [get]
func (h *SchedulerHandler) Status(c *gin.Context) {
	status, err := h.service.RunStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// List godoc
// @Summary List committed runs of a term
// @Tags Scheduler
// @Produce json
// @Security BearerAuth
// @Param termId query string true "Term ID"
// @Param limit query int false "Maximum runs (default 20)"
// @Success 200 {object} response.Envelope
// @Router /scheduler/runs [get]
func (h *SchedulerHandler) List(c *gin.Context) {
	query := dto.RunHistoryQuery{TermID: c.Query("termId")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a number"))
			return
		}
		query.Limit = limit
	}
	runs, err := h.service.ListRuns(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, nil, map[string]interface{}{"count": len(runs)})
}
