package dto

import (
	"time"

	"github.com/noah-isme/timetable-api/internal/models"
)

// RunSchedulingRequest starts a scheduling run. An empty TermID selects the active term.
type RunSchedulingRequest struct {
	TermID string                  `json:"termId" validate:"omitempty,uuid"`
	Method models.SchedulingMethod `json:"method" validate:"omitempty,oneof=genetic greedy hybrid"`
	Seed   *int64                  `json:"seed,omitempty"`
	Async  bool                    `json:"async"`
}

// SchedulingSummary reports the committed outcome of one run.
type SchedulingSummary struct {
	RunID          string                  `json:"runId"`
	TermID         string                  `json:"termId"`
	TermName       string                  `json:"termName"`
	Method         models.SchedulingMethod `json:"method"`
	ScheduledCount int                     `json:"scheduledCount"`
	FailedCount    int                     `json:"failedCount"`
	BestFitness    float64                 `json:"bestFitness"`
	Generations    int                     `json:"generations"`
	ElapsedMs      int64                   `json:"elapsedMs"`
	Converged      bool                    `json:"converged"`
	Message        string                  `json:"message"`
}

// RunStatus is the cached state of an asynchronous run.
type RunStatus struct {
	ID          string                     `json:"id"`
	TermID      string                     `json:"termId,omitempty"`
	Method      models.SchedulingMethod    `json:"method,omitempty"`
	Status      models.SchedulingRunStatus `json:"status"`
	Summary     *SchedulingSummary         `json:"summary,omitempty"`
	Error       string                     `json:"error,omitempty"`
	SubmittedAt time.Time                  `json:"submittedAt"`
	StartedAt   *time.Time                 `json:"startedAt,omitempty"`
	FinishedAt  *time.Time                 `json:"finishedAt,omitempty"`
}

// RunHistoryQuery filters the run history listing.
type RunHistoryQuery struct {
	TermID string `form:"termId" validate:"required,uuid"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
}
