package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var termRowColumns = []string{"id", "name", "type", "academic_year", "start_date", "end_date", "is_active", "created_at", "updated_at"}

func TestTermRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE is_active = TRUE")).
		WillReturnRows(sqlmock.NewRows(termRowColumns).AddRow("term-1", "2025/2026 Odd", "ODD", "2025/2026", now, now, true, now, now))

	term, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "term-1", term.ID)
	assert.True(t, term.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
