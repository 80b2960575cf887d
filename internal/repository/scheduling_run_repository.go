package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/timetable-api/internal/models"
)

// SchedulingRunRepository persists the history of committed scheduling runs.
type SchedulingRunRepository struct {
	db *sqlx.DB
}

// NewSchedulingRunRepository constructs the repository.
func NewSchedulingRunRepository(db *sqlx.DB) *SchedulingRunRepository {
	return &SchedulingRunRepository{db: db}
}

func (r *SchedulingRunRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a run record, assigning an id and timestamp when missing.
func (r *SchedulingRunRepository) Create(ctx context.Context, exec sqlx.ExtContext, run *models.SchedulingRun) error {
	if run == nil {
		return fmt.Errorf("scheduling run payload is nil")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if len(run.Meta) == 0 {
		run.Meta = types.JSONText(`{}`)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	const query = `
INSERT INTO scheduling_runs (id, term_id, method, scheduled_count, failed_count, best_fitness, elapsed_ms, meta, created_at)
VALUES (:id, :term_id, :method, :scheduled_count, :failed_count, :best_fitness, :elapsed_ms, :meta, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, run); err != nil {
		return fmt.Errorf("insert scheduling run: %w", err)
	}
	return nil
}

// ListByTerm returns the most recent runs of a term, newest first.
func (r *SchedulingRunRepository) ListByTerm(ctx context.Context, termID string, limit int) ([]models.SchedulingRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT id, term_id, method, scheduled_count, failed_count, best_fitness, elapsed_ms, meta, created_at
FROM scheduling_runs WHERE term_id = $1 ORDER BY created_at DESC LIMIT $2`
	var runs []models.SchedulingRun
	if err := r.db.SelectContext(ctx, &runs, query, termID, limit); err != nil {
		return nil, fmt.Errorf("list scheduling runs: %w", err)
	}
	return runs, nil
}
