package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SchedulingMethod selects the algorithm used for a run.
type SchedulingMethod string

const (
	SchedulingMethodGenetic SchedulingMethod = "genetic"
	SchedulingMethodGreedy  SchedulingMethod = "greedy"
	SchedulingMethodHybrid  SchedulingMethod = "hybrid"
)

// SchedulingRunStatus is the lifecycle of an asynchronous run.
type SchedulingRunStatus string

const (
	SchedulingRunQueued    SchedulingRunStatus = "QUEUED"
	SchedulingRunRunning   SchedulingRunStatus = "RUNNING"
	SchedulingRunSucceeded SchedulingRunStatus = "SUCCEEDED"
	SchedulingRunFailed    SchedulingRunStatus = "FAILED"
)

// SchedulingRun records the outcome of one committed scheduling run.
type SchedulingRun struct {
	ID             string           `db:"id" json:"id"`
	TermID         string           `db:"term_id" json:"term_id"`
	Method         SchedulingMethod `db:"method" json:"method"`
	ScheduledCount int              `db:"scheduled_count" json:"scheduled_count"`
	FailedCount    int              `db:"failed_count" json:"failed_count"`
	BestFitness    float64          `db:"best_fitness" json:"best_fitness"`
	ElapsedMs      int64            `db:"elapsed_ms" json:"elapsed_ms"`
	Meta           types.JSONText   `db:"meta" json:"meta"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}
