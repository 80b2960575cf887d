package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-api/internal/models"
)

const offeringSelect = `SELECT o.id, o.code, o.term_id, o.class_type, o.required_room_type, o.parent_id,
o.planned_size, COALESCE(o.target_classes, '') AS target_classes, o.lecturer_id, l.name AS lecturer_name,
o.pinned_room_id, o.day_of_week, o.start_period, o.end_period, o.room_id, o.status, o.status_message, o.updated_at,
c.code AS "course.course_code", c.name AS "course.course_name", c.credits AS "course.credits",
c.theory_credits AS "course.theory_credits", c.practice_credits AS "course.practice_credits",
c.is_online AS "course.is_online"
FROM course_offerings o
JOIN courses c ON c.id = o.course_id
LEFT JOIN lecturers l ON l.id = o.lecturer_id`

// OfferingRepository reads course offerings and writes scheduling results back.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

func (r *OfferingRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByTerm loads every offering of a term with its course and lecturer, ordered by code.
func (r *OfferingRepository) ListByTerm(ctx context.Context, termID string) ([]models.Offering, error) {
	query := offeringSelect + ` WHERE o.term_id = $1 ORDER BY o.code`
	var offerings []models.Offering
	if err := r.db.SelectContext(ctx, &offerings, query, termID); err != nil {
		return nil, fmt.Errorf("list offerings by term: %w", err)
	}
	return offerings, nil
}

// ResetTerm clears every placement of a term back to PLANNED.
func (r *OfferingRepository) ResetTerm(ctx context.Context, exec sqlx.ExtContext, termID string) (int64, error) {
	const query = `UPDATE course_offerings SET day_of_week = NULL, start_period = NULL, end_period = NULL, room_id = NULL,
status = $1, status_message = NULL, updated_at = $2 WHERE term_id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, models.OfferingStatusPlanned, time.Now().UTC(), termID)
	if err != nil {
		return 0, fmt.Errorf("reset term offerings: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset term rows affected: %w", err)
	}
	return affected, nil
}

// SaveAssignments writes one placement (or failure) per offering. Every row must exist.
func (r *OfferingRepository) SaveAssignments(ctx context.Context, exec sqlx.ExtContext, assignments []models.OfferingAssignment) error {
	const query = `UPDATE course_offerings SET day_of_week = :day_of_week, start_period = :start_period, end_period = :end_period,
room_id = :room_id, status = :status, status_message = :status_message, updated_at = :updated_at WHERE id = :id`

	target := r.exec(exec)
	now := time.Now().UTC()
	for i := range assignments {
		a := assignments[i]
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
		result, err := sqlx.NamedExecContext(ctx, target, query, a)
		if err != nil {
			return fmt.Errorf("save assignment for offering %s: %w", a.OfferingID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("assignment rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("offering %s not found", a.OfferingID)
		}
	}
	return nil
}
