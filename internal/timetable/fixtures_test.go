package timetable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func strPtr(v string) *string { return &v }

func roomTypePtr(v models.RoomType) *models.RoomType { return &v }

type offeringOpt func(*models.Offering)

func newOffering(id string, opts ...offeringOpt) models.Offering {
	off := models.Offering{
		ID:          id,
		Code:        id,
		TermID:      "term-1",
		Course:      models.Course{Code: "C-" + id, Name: "Course " + id, Credits: 3, TheoryCredits: 2, PracticeCredits: 1},
		ClassType:   models.ClassTypeCombined,
		PlannedSize: 30,
		Status:      models.OfferingStatusPlanned,
	}
	for _, opt := range opts {
		opt(&off)
	}
	return off
}

func withCohorts(labels string) offeringOpt {
	return func(o *models.Offering) { o.TargetClasses = labels }
}

func withLecturer(id string) offeringOpt {
	return func(o *models.Offering) {
		o.LecturerID = strPtr(id)
		o.LecturerName = strPtr("Lecturer " + id)
	}
}

func withSize(n int) offeringOpt {
	return func(o *models.Offering) { o.PlannedSize = n }
}

func withType(ct models.ClassType) offeringOpt {
	return func(o *models.Offering) { o.ClassType = ct }
}

func withParent(id string) offeringOpt {
	return func(o *models.Offering) { o.ParentID = strPtr(id) }
}

func withPinned(roomID string) offeringOpt {
	return func(o *models.Offering) { o.PinnedRoomID = strPtr(roomID) }
}

func withRequiredRoom(t models.RoomType) offeringOpt {
	return func(o *models.Offering) { o.RequiredRoomType = roomTypePtr(t) }
}

func withCredits(total, theory, practice float64) offeringOpt {
	return func(o *models.Offering) {
		o.Course.Credits = total
		o.Course.TheoryCredits = theory
		o.Course.PracticeCredits = practice
	}
}

func room(id string, capacity int, t models.RoomType) models.Room {
	return models.Room{ID: id, Name: id, Capacity: capacity, Type: t}
}

func standardRooms() []models.Room {
	return []models.Room{
		room("T1", 40, models.RoomTypeTheory),
		room("T2", 60, models.RoomTypeTheory),
		room("T3", 80, models.RoomTypeTheory),
		room("L1", 40, models.RoomTypeLab),
		room("H1", 200, models.RoomTypeHall),
		room("V1", 500, models.RoomTypeOnline),
	}
}

func mustProblem(t *testing.T, offerings []models.Offering, rooms []models.Room) *Problem {
	t.Helper()
	p, err := NewProblem(offerings, rooms)
	require.NoError(t, err)
	return p
}

func mustIndex(t *testing.T, p *Problem, id string) int {
	t.Helper()
	i, ok := p.Index(id)
	require.True(t, ok, "unknown offering %s", id)
	return i
}

func mustRoom(t *testing.T, p *Problem, id string) int {
	t.Helper()
	r, ok := p.RoomIndex(id)
	require.True(t, ok, "unknown room %s", id)
	return r
}
