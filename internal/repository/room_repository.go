package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-api/internal/models"
)

// RoomRepository reads the room inventory.
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository constructs the repository.
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// ListActive returns every bookable room ordered by name.
func (r *RoomRepository) ListActive(ctx context.Context) ([]models.Room, error) {
	const query = `SELECT id, name, capacity, UPPER(TRIM(type)) AS type FROM rooms WHERE is_active = TRUE ORDER BY name`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}
