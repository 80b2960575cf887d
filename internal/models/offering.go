package models

import (
	"fmt"
	"strings"
	"time"
)

// ClassType governs the room category and the duration formula of an offering.
type ClassType string

const (
	ClassTypeTheory   ClassType = "THEORY"
	ClassTypePractice ClassType = "PRACTICE"
	ClassTypeCombined ClassType = "COMBINED"
	ClassTypeOnline   ClassType = "ONLINE"
	// ClassTypeSpecific marks offerings whose room category comes from RequiredRoomType.
	ClassTypeSpecific ClassType = "SPECIFIC"
)

var classTypeAliases = map[string]ClassType{
	"THEORY":   ClassTypeTheory,
	"LT":       ClassTypeTheory,
	"PRACTICE": ClassTypePractice,
	"TH":       ClassTypePractice,
	"COMBINED": ClassTypeCombined,
	"ALL":      ClassTypeCombined,
	"ONLINE":   ClassTypeOnline,
	"ELN":      ClassTypeOnline,
	"COURSERA": ClassTypeOnline,
	"SPECIFIC": ClassTypeSpecific,
}

// ParseClassType normalises a class type, accepting the legacy import codes.
// Unknown or empty values are treated as COMBINED.
func ParseClassType(raw string) ClassType {
	if ct, ok := classTypeAliases[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return ct
	}
	return ClassTypeCombined
}

// Scan implements sql.Scanner so rows stored with legacy codes load normalised.
func (c *ClassType) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return fmt.Errorf("scan class type: %w", err)
	}
	*c = ParseClassType(raw)
	return nil
}

func scanString(src interface{}) (string, error) {
	switch v := src.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("unsupported type %T", src)
	}
}

// OfferingStatus tracks the scheduling outcome of an offering.
type OfferingStatus string

const (
	OfferingStatusPlanned   OfferingStatus = "PLANNED"
	OfferingStatusScheduled OfferingStatus = "SCHEDULED"
	OfferingStatusError     OfferingStatus = "ERROR"
)

// Course is the catalog entry an offering teaches.
type Course struct {
	Code            string  `db:"course_code" json:"code"`
	Name            string  `db:"course_name" json:"name"`
	Credits         float64 `db:"credits" json:"credits"`
	TheoryCredits   float64 `db:"theory_credits" json:"theory_credits"`
	PracticeCredits float64 `db:"practice_credits" json:"practice_credits"`
	IsOnline        bool    `db:"is_online" json:"is_online"`
}

// Offering is one schedulable teaching unit (a class section) for one term.
type Offering struct {
	ID               string    `db:"id" json:"id"`
	Code             string    `db:"code" json:"code"`
	TermID           string    `db:"term_id" json:"term_id"`
	Course           Course    `db:"course" json:"course"`
	ClassType        ClassType `db:"class_type" json:"class_type"`
	RequiredRoomType *RoomType `db:"required_room_type" json:"required_room_type,omitempty"`
	ParentID         *string   `db:"parent_id" json:"parent_id,omitempty"`
	PlannedSize      int       `db:"planned_size" json:"planned_size"`
	TargetClasses    string    `db:"target_classes" json:"target_classes"`
	LecturerID       *string   `db:"lecturer_id" json:"lecturer_id,omitempty"`
	LecturerName     *string   `db:"lecturer_name" json:"lecturer_name,omitempty"`
	PinnedRoomID     *string   `db:"pinned_room_id" json:"pinned_room_id,omitempty"`

	DayOfWeek     *int           `db:"day_of_week" json:"day_of_week,omitempty"`
	StartPeriod   *int           `db:"start_period" json:"start_period,omitempty"`
	EndPeriod     *int           `db:"end_period" json:"end_period,omitempty"`
	RoomID        *string        `db:"room_id" json:"room_id,omitempty"`
	Status        OfferingStatus `db:"status" json:"status"`
	StatusMessage *string        `db:"status_message" json:"status_message,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TargetClassList splits the stored cohort list. Labels are trimmed; empties dropped.
func (o Offering) TargetClassList() []string {
	if strings.TrimSpace(o.TargetClasses) == "" {
		return nil
	}
	parts := strings.Split(o.TargetClasses, ";")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// OfferingAssignment is the write-back payload for one offering.
type OfferingAssignment struct {
	OfferingID    string         `db:"id"`
	DayOfWeek     *int           `db:"day_of_week"`
	StartPeriod   *int           `db:"start_period"`
	EndPeriod     *int           `db:"end_period"`
	RoomID        *string        `db:"room_id"`
	Status        OfferingStatus `db:"status"`
	StatusMessage *string        `db:"status_message"`
	UpdatedAt     time.Time      `db:"updated_at"`
}
