package models

import (
	"fmt"
	"strings"
)

// RoomType is the physical (or virtual) category of a room.
type RoomType string

const (
	RoomTypeTheory RoomType = "THEORY"
	RoomTypeLab    RoomType = "LAB"
	RoomTypePC     RoomType = "PC"
	RoomTypeHall   RoomType = "HALL"
	RoomTypeOnline RoomType = "ONLINE"
)

// ParseRoomType upper-cases and trims a room type; it does not validate it.
func ParseRoomType(raw string) RoomType {
	return RoomType(strings.ToUpper(strings.TrimSpace(raw)))
}

// Scan implements sql.Scanner, normalising the stored value like ParseRoomType.
func (t *RoomType) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return fmt.Errorf("scan room type: %w", err)
	}
	*t = ParseRoomType(raw)
	return nil
}

// IsPractice reports whether the room is reserved for practice sessions.
func (t RoomType) IsPractice() bool {
	return t == RoomTypeLab || t == RoomTypePC
}

// Room is a schedulable location. Capacity and type are fixed during a run.
type Room struct {
	ID       string   `db:"id" json:"id"`
	Name     string   `db:"name" json:"name"`
	Capacity int      `db:"capacity" json:"capacity"`
	Type     RoomType `db:"type" json:"type"`
}
