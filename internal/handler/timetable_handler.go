package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/dto"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/response"
)

type timetableReader interface {
	Export(ctx context.Context, query dto.TimetableQuery) (*dto.ExportFile, error)
	Workload(ctx context.Context, termID string) ([]dto.WorkloadEntry, error)
	Audit(ctx context.Context, termID string) (*dto.AuditReport, error)
}

// TimetableHandler serves views of committed timetables.
type TimetableHandler struct {
	service timetableReader
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc timetableReader) *TimetableHandler {
	return &TimetableHandler{service: svc}
}

// Export godoc
// @Summary Download a term timetable
// @Tags Timetable
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param termId query string true "Term ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /timetable/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	var query dto.TimetableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	file, err := h.service.Export(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Content)
}

// Workload godoc
// @Summary Lecturer workload for a term
// @Tags Timetable
// @Produce json
// @Security BearerAuth
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /timetable/workload [get]
func (h *TimetableHandler) Workload(c *gin.Context) {
	entries, err := h.service.Workload(c.Request.Context(), c.Query("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Audit godoc
// @Summary Re-check a committed timetable
// @Tags Timetable
// @Produce json
// @Security BearerAuth
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /timetable/audit [get]
func (h *TimetableHandler) Audit(c *gin.Context) {
	report, err := h.service.Audit(c.Request.Context(), c.Query("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
