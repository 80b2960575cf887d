package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/timetable-api/internal/models"
)

// OfferingRow is one line of an offerings import file.
type OfferingRow struct {
	ID               string  `csv:"id" validate:"required"`
	Code             string  `csv:"code"`
	CourseCode       string  `csv:"course_code"`
	CourseName       string  `csv:"course_name"`
	Credits          float64 `csv:"credits" validate:"gte=0"`
	TheoryCredits    float64 `csv:"theory_credits" validate:"gte=0"`
	PracticeCredits  float64 `csv:"practice_credits" validate:"gte=0"`
	IsOnline         bool    `csv:"is_online"`
	ClassType        string  `csv:"class_type"`
	RequiredRoomType string  `csv:"required_room_type"`
	ParentID         string  `csv:"parent_id"`
	PlannedSize      int     `csv:"planned_size" validate:"gte=0"`
	TargetClasses    string  `csv:"target_classes"`
	LecturerID       string  `csv:"lecturer_id"`
	LecturerName     string  `csv:"lecturer_name"`
	PinnedRoomID     string  `csv:"pinned_room_id"`
}

// RoomRow is one line of a rooms import file.
type RoomRow struct {
	ID       string `csv:"id" validate:"required"`
	Name     string `csv:"name"`
	Capacity int    `csv:"capacity" validate:"gte=0"`
	Type     string `csv:"type" validate:"required"`
}

var validate = validator.New()

func reader(in io.Reader, delim rune) gocsv.CSVReader {
	r := csv.NewReader(in)
	r.Comma = delim
	r.TrimLeadingSpace = true
	return r
}

// LoadOfferings parses offerings. Every row starts PLANNED with no placement.
func LoadOfferings(in io.Reader, delim rune) ([]models.Offering, error) {
	var rows []*OfferingRow
	if err := gocsv.UnmarshalCSV(reader(in, delim), &rows); err != nil {
		return nil, fmt.Errorf("parse offerings: %w", err)
	}

	offerings := make([]models.Offering, 0, len(rows))
	for i, row := range rows {
		if err := validate.Struct(row); err != nil {
			return nil, fmt.Errorf("offerings row %d: %w", i+2, err)
		}
		off := models.Offering{
			ID:   row.ID,
			Code: row.Code,
			Course: models.Course{
				Code:            row.CourseCode,
				Name:            row.CourseName,
				Credits:         row.Credits,
				TheoryCredits:   row.TheoryCredits,
				PracticeCredits: row.PracticeCredits,
				IsOnline:        row.IsOnline,
			},
			ClassType:     models.ParseClassType(row.ClassType),
			ParentID:      optional(row.ParentID),
			PlannedSize:   row.PlannedSize,
			TargetClasses: row.TargetClasses,
			LecturerID:    optional(row.LecturerID),
			LecturerName:  optional(row.LecturerName),
			PinnedRoomID:  optional(row.PinnedRoomID),
			Status:        models.OfferingStatusPlanned,
		}
		if raw := strings.TrimSpace(row.RequiredRoomType); raw != "" {
			rt := models.ParseRoomType(raw)
			off.RequiredRoomType = &rt
		}
		offerings = append(offerings, off)
	}
	return offerings, nil
}

// LoadRooms parses rooms.
func LoadRooms(in io.Reader, delim rune) ([]models.Room, error) {
	var rows []*RoomRow
	if err := gocsv.UnmarshalCSV(reader(in, delim), &rows); err != nil {
		return nil, fmt.Errorf("parse rooms: %w", err)
	}

	rooms := make([]models.Room, 0, len(rows))
	for i, row := range rows {
		if err := validate.Struct(row); err != nil {
			return nil, fmt.Errorf("rooms row %d: %w", i+2, err)
		}
		name := row.Name
		if name == "" {
			name = row.ID
		}
		rooms = append(rooms, models.Room{
			ID:       row.ID,
			Name:     name,
			Capacity: row.Capacity,
			Type:     models.ParseRoomType(row.Type),
		})
	}
	return rooms, nil
}

// LoadOfferingsFile opens path and parses it with LoadOfferings.
func LoadOfferingsFile(path string, delim rune) ([]models.Offering, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadOfferings(f, delim)
}

// LoadRoomsFile opens path and parses it with LoadRooms.
func LoadRoomsFile(path string, delim rune) ([]models.Room, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRooms(f, delim)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
