package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-api/internal/models"
)

const termColumns = `id, name, type, academic_year, start_date, end_date, is_active, created_at, updated_at`

// TermRepository reads academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// FindByID loads a term by identifier. sql.ErrNoRows is returned untouched.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	return r.one(ctx, "WHERE id = $1", id)
}

// FindActive returns the currently active term. sql.ErrNoRows when none is active.
func (r *TermRepository) FindActive(ctx context.Context) (*models.Term, error) {
	return r.one(ctx, "WHERE is_active = TRUE ORDER BY start_date DESC LIMIT 1")
}

func (r *TermRepository) one(ctx context.Context, where string, args ...interface{}) (*models.Term, error) {
	var term models.Term
	if err := r.db.GetContext(ctx, &term, fmt.Sprintf("SELECT %s FROM terms %s", termColumns, where), args...); err != nil {
		return nil, err
	}
	return &term, nil
}
