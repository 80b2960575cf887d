package timetable

import (
	"fmt"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Penalties applied by the fitness function. The oracle rejects every hard rule outright.
const (
	PenaltyIllegalDay     = -1000.0
	PenaltyIllegalStart   = -1000.0
	PenaltyCapacity       = -500.0
	PenaltyRoomType       = -1000.0
	PenaltyOnlineStart    = -1000.0
	PenaltyPinnedRoom     = -1000.0
	PenaltyEveningOffline = -100.0

	PenaltyRoomClash     = -1000.0
	PenaltyLecturerClash = -1000.0
	PenaltyCohortClash   = -200.0
	PenaltyParentClash   = -2000.0
)

// Severity separates rules the oracle enforces from rules that only cost fitness.
type Severity string

const (
	SeverityHard Severity = "HARD"
	SeveritySoft Severity = "SOFT"
)

type placementRule struct {
	name     string
	severity Severity
	penalty  float64
	violated func(p *Problem, i int, g Gene) bool
	message  func(p *Problem, i int, g Gene) string
}

// roomRules are the hard rules that depend only on the room choice.
var roomRules = []placementRule{
	{
		name:     "online_room",
		severity: SeverityHard,
		penalty:  PenaltyRoomType,
		violated: func(p *Problem, i int, g Gene) bool {
			return p.facts[i].online && p.rooms[g.Room].Type != models.RoomTypeOnline
		},
		message: func(p *Problem, i int, g Gene) string {
			return fmt.Sprintf("online offering placed in %s room %s", p.rooms[g.Room].Type, p.rooms[g.Room].Name)
		},
	},
	{
		name:     "offline_room",
		severity: SeverityHard,
		penalty:  PenaltyRoomType,
		violated: func(p *Problem, i int, g Gene) bool {
			return !p.facts[i].online && p.rooms[g.Room].Type == models.RoomTypeOnline
		},
		message: func(p *Problem, i int, g Gene) string {
			return fmt.Sprintf("on-campus offering placed in online room %s", p.rooms[g.Room].Name)
		},
	},
	{
		name:     "pinned_room",
		severity: SeverityHard,
		penalty:  PenaltyPinnedRoom,
		violated: func(p *Problem, i int, g Gene) bool {
			pinned := p.facts[i].pinned
			return pinned >= 0 && pinned != g.Room
		},
		message: func(p *Problem, i int, g Gene) string {
			return fmt.Sprintf("offering is pinned to room %s", p.rooms[p.facts[i].pinned].Name)
		},
	},
	{
		name:     "room_category",
		severity: SeverityHard,
		penalty:  PenaltyRoomType,
		violated: func(p *Problem, i int, g Gene) bool {
			if p.facts[i].online {
				return false
			}
			return !categoryAllows(p.offerings[i], p.rooms[g.Room].Type)
		},
		message: func(p *Problem, i int, g Gene) string {
			return fmt.Sprintf("room %s (%s) does not match required type %s",
				p.rooms[g.Room].Name, p.rooms[g.Room].Type, p.CategoryLabel(i))
		},
	},
}

// timeRules cover day, start and room capacity.
var timeRules = []placementRule{
	{
		name:     "day_range",
		severity: SeverityHard,
		penalty:  PenaltyIllegalDay,
		violated: func(p *Problem, i int, g Gene) bool {
			last := LastWeekday
			if p.facts[i].online {
				last = Sunday
			}
			return g.Day < FirstDay || g.Day > last
		},
		message: func(p *Problem, i int, g Gene) string {
			return fmt.Sprintf("day %d is not allowed", g.Day)
		},
	},
	{
		name:     "start_slot",
		severity: SeverityHard,
		penalty:  PenaltyIllegalStart,
		violated: func(p *Problem, i int, g Gene) bool {
			return !isCanonicalStart(g.Start)
		},
		message: func(p *Problem, i int, g Gene) string {
			return fmt.Sprintf("start period %d is not a canonical slot", g.Start)
		},
	},
	{
		name:     "capacity",
		severity: SeverityHard,
		penalty:  PenaltyCapacity,
		violated: func(p *Problem, i int, g Gene) bool {
			return p.offerings[i].PlannedSize > p.rooms[g.Room].Capacity
		},
		message: func(p *Problem, i int, g Gene) string {
			return fmt.Sprintf("room %s holds %d but %d students are planned",
				p.rooms[g.Room].Name, p.rooms[g.Room].Capacity, p.offerings[i].PlannedSize)
		},
	},
	{
		name:     "online_start",
		severity: SeverityHard,
		penalty:  PenaltyOnlineStart,
		violated: func(p *Problem, i int, g Gene) bool {
			return p.facts[i].online && g.Start != EveningStart
		},
		message: func(p *Problem, i int, g Gene) string {
			return fmt.Sprintf("online offering must start at period %d", EveningStart)
		},
	},
	{
		name:     "evening_offline",
		severity: SeveritySoft,
		penalty:  PenaltyEveningOffline,
		violated: func(p *Problem, i int, g Gene) bool {
			return !p.facts[i].online && g.Start == EveningStart
		},
		message: func(p *Problem, i int, g Gene) string {
			return "on-campus offering placed in the evening slot"
		},
	},
}

// placementRules is the full single-offering rule table, in reporting order.
var placementRules = append(append([]placementRule{}, timeRules...), roomRules...)

func isCanonicalStart(start int) bool {
	for _, s := range CanonicalStarts {
		if s == start {
			return true
		}
	}
	return false
}

// categoryAllows applies the room category rule for an on-campus offering.
func categoryAllows(off models.Offering, roomType models.RoomType) bool {
	if off.RequiredRoomType != nil && *off.RequiredRoomType != "" {
		return roomType == *off.RequiredRoomType
	}
	switch off.ClassType {
	case models.ClassTypePractice:
		return roomType.IsPractice()
	case models.ClassTypeTheory:
		return !roomType.IsPractice()
	default:
		return true
	}
}

// ConflictKind names a pairwise occupancy clash.
type ConflictKind string

const (
	ConflictRoom     ConflictKind = "ROOM"
	ConflictLecturer ConflictKind = "LECTURER"
	ConflictCohort   ConflictKind = "COHORT"
	ConflictParent   ConflictKind = "PARENT"
	ConflictChild    ConflictKind = "CHILD"
)

// Penalty returns the fitness cost of one clash of this kind.
func (k ConflictKind) Penalty() float64 {
	switch k {
	case ConflictRoom:
		return PenaltyRoomClash
	case ConflictLecturer:
		return PenaltyLecturerClash
	case ConflictCohort:
		return PenaltyCohortClash
	case ConflictParent, ConflictChild:
		return PenaltyParentClash
	default:
		return 0
	}
}

// conflictBetween reports the first clash between offering i at g and offering j at h.
// The caller has already established that the two share a day and overlap in periods.
func (p *Problem) conflictBetween(i int, g Gene, j int, h Gene) (ConflictKind, string, bool) {
	fi, fj := p.facts[i], p.facts[j]
	other := p.label(j)

	if g.Room == h.Room && p.rooms[g.Room].Type != models.RoomTypeOnline {
		return ConflictRoom, fmt.Sprintf("room %s occupied by %s", p.rooms[g.Room].Name, other), true
	}
	if fi.lecturer >= 0 && fi.lecturer == fj.lecturer {
		return ConflictLecturer, fmt.Sprintf("lecturer %s busy with %s", p.lecturerName(i), other), true
	}
	if sharesCohort(fi.cohorts, fj.cohorts) {
		return ConflictCohort, fmt.Sprintf("class conflict with %s", other), true
	}
	if fi.parent == j {
		return ConflictParent, fmt.Sprintf("overlaps parent theory class %s", other), true
	}
	if fj.parent == i {
		return ConflictChild, fmt.Sprintf("overlaps child practice class %s", other), true
	}
	return "", "", false
}

func (p *Problem) lecturerName(i int) string {
	off := p.offerings[i]
	if off.LecturerName != nil && *off.LecturerName != "" {
		return *off.LecturerName
	}
	if off.LecturerID != nil {
		return *off.LecturerID
	}
	return ""
}

// sharesCohort intersects two sorted id lists.
func sharesCohort(a, b []int) bool {
	x, y := 0, 0
	for x < len(a) && y < len(b) {
		switch {
		case a[x] == b[y]:
			return true
		case a[x] < b[y]:
			x++
		default:
			y++
		}
	}
	return false
}

func overlaps(startA, endA, startB, endB int) bool {
	return startA <= endB && startB <= endA
}
