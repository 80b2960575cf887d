package timetable

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func TestGreedyPlacesSmallestRoomFirst(t *testing.T) {
	p := mustProblem(t, []models.Offering{
		newOffering("theory", withType(models.ClassTypeTheory), withCredits(3, 3, 0)),
		newOffering("practice", withType(models.ClassTypePractice), withCredits(3, 0, 3), withParent("theory")),
	}, standardRooms())

	res, err := NewGreedy(p, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scheduled)
	assert.Equal(t, 0, res.Failed)

	theory := res.Outcomes[mustIndex(t, p, "theory")]
	assert.True(t, theory.Placed)
	assert.Equal(t, Gene{Day: 2, Start: 1, Room: mustRoom(t, p, "T1")}, theory.Gene)

	practice := res.Outcomes[mustIndex(t, p, "practice")]
	assert.True(t, practice.Placed)
	assert.Equal(t, Gene{Day: 2, Start: 4, Room: mustRoom(t, p, "L1")}, practice.Gene)
}

func TestGreedyOrder(t *testing.T) {
	p := mustProblem(t, []models.Offering{
		newOffering("child", withType(models.ClassTypePractice), withParent("parent"), withSize(90)),
		newOffering("small", withSize(10)),
		newOffering("parent", withType(models.ClassTypeTheory), withSize(20)),
		newOffering("big", withSize(50)),
		newOffering("alpha", withSize(50)),
	}, standardRooms())

	order := NewGreedy(p, nil).Order()
	codes := make([]string, 0, len(order))
	for _, i := range order {
		codes = append(codes, p.Offering(i).Code)
	}
	assert.Equal(t, []string{"parent", "alpha", "big", "small", "child"}, codes)
}

func TestGreedyReportsCapacityShortfall(t *testing.T) {
	rooms := []models.Room{
		room("LAB-S", 60, models.RoomTypeLab),
		room("T-BIG", 120, models.RoomTypeTheory),
	}
	p := mustProblem(t, []models.Offering{
		newOffering("lab", withType(models.ClassTypePractice), withSize(70)),
		newOffering("huge", withSize(300)),
	}, rooms)

	res, err := NewGreedy(p, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scheduled)
	assert.Equal(t, 2, res.Failed)

	lab := res.Outcomes[mustIndex(t, p, "lab")]
	assert.False(t, lab.Placed)
	assert.Equal(t, "No room matches BOTH Capacity (70) and Type (LAB/PC)", lab.Reason)

	huge := res.Outcomes[mustIndex(t, p, "huge")]
	assert.Equal(t, "No room has enough capacity (300)", huge.Reason)
}

func TestGreedyExplainsExhaustedSlots(t *testing.T) {
	offerings := make([]models.Offering, 0, 8)
	for n := 1; n <= 8; n++ {
		offerings = append(offerings, newOffering(fmt.Sprintf("o%d", n), withType(models.ClassTypeOnline), withCohorts("X")))
	}
	p := mustProblem(t, offerings, standardRooms())

	res, err := NewGreedy(p, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, res.Scheduled)

	last := res.Outcomes[mustIndex(t, p, "o8")]
	assert.False(t, last.Placed)
	assert.Equal(t, "No free slot: class conflict with o1", last.Reason)
}

func TestGreedyScheduleHoldsInvariants(t *testing.T) {
	offerings := []models.Offering{
		newOffering("a", withCohorts("X"), withLecturer("L1"), withSize(35)),
		newOffering("b", withCohorts("X;Y"), withLecturer("L2")),
		newOffering("c", withCohorts("Y"), withLecturer("L1")),
		newOffering("d", withType(models.ClassTypeTheory), withCredits(4, 3, 1), withCohorts("Z")),
		newOffering("e", withType(models.ClassTypePractice), withCredits(4, 3, 1), withParent("d"), withCohorts("Z")),
		newOffering("f", withType(models.ClassTypeOnline), withLecturer("L2")),
		newOffering("g", withPinned("T3"), withLecturer("L1")),
	}
	p := mustProblem(t, offerings, standardRooms())

	res, err := NewGreedy(p, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(offerings), res.Scheduled)
	assert.Empty(t, Audit(p, res.Placed.Genes()))

	for _, out := range res.Outcomes {
		assert.Contains(t, CanonicalStarts, out.Gene.Start)
		assert.LessOrEqual(t, p.Offering(out.Index).PlannedSize, p.rooms[out.Gene.Room].Capacity)
		if p.Online(out.Index) {
			assert.Equal(t, EveningStart, out.Gene.Start)
			assert.Equal(t, models.RoomTypeOnline, p.rooms[out.Gene.Room].Type)
		}
	}
}

func TestGreedyStopsOnCancel(t *testing.T) {
	p := mustProblem(t, []models.Offering{newOffering("a")}, standardRooms())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGreedy(p, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
