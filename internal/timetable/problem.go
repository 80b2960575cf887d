// Package timetable implements the course timetabling core: the rule table shared by the
// feasibility oracle and the fitness function, the greedy constructor and the genetic optimizer.
//
// Offerings are addressed by a dense index (0..n-1) fixed when the Problem is built; rooms are
// addressed by their index in Problem.Rooms().
package timetable

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/timetable-api/internal/models"
)

const (
	// FirstDay is Monday; days are numbered 2 (Monday) .. 8 (Sunday).
	FirstDay = 2
	// LastWeekday is Saturday, the last day offered to on-campus offerings.
	LastWeekday = 7
	// Sunday is only offered to online offerings.
	Sunday = 8
	// EveningStart is the only start period allowed for online offerings.
	EveningStart = 13
	// DefaultDuration applies when the credit count yields no periods.
	DefaultDuration = 3
)

// CanonicalStarts lists every legal start period in canonical order.
var CanonicalStarts = []int{1, 4, 7, 10, 13}

// daytimeStarts are the starts drawn by the randomizer for on-campus offerings.
var daytimeStarts = []int{1, 4, 7, 10}

type offeringFacts struct {
	duration int
	online   bool
	lecturer int
	cohorts  []int
	parent   int
	children []int
	pinned   int
	// suitable holds rooms passing every room-type rule; candidates additionally fit the class.
	suitable   []int
	candidates []int
}

// Problem is an immutable snapshot of one term's offerings and the rooms available to them.
// It is safe for concurrent reads.
type Problem struct {
	offerings []models.Offering
	rooms     []models.Room
	index     map[string]int
	roomIndex map[string]int
	facts     []offeringFacts
	cohorts   []string
}

// NewProblem validates the snapshot and precomputes per-offering facts.
// Parent references to offerings outside the snapshot are ignored; parent cycles are rejected.
func NewProblem(offerings []models.Offering, rooms []models.Room) (*Problem, error) {
	if len(offerings) == 0 {
		return nil, fmt.Errorf("no offerings to schedule")
	}
	if len(rooms) == 0 {
		return nil, fmt.Errorf("no rooms available")
	}

	p := &Problem{
		offerings: append([]models.Offering(nil), offerings...),
		rooms:     append([]models.Room(nil), rooms...),
		index:     make(map[string]int, len(offerings)),
		roomIndex: make(map[string]int, len(rooms)),
		facts:     make([]offeringFacts, len(offerings)),
	}
	for i, off := range p.offerings {
		if off.ID == "" {
			return nil, fmt.Errorf("offering at position %d has no id", i)
		}
		if _, dup := p.index[off.ID]; dup {
			return nil, fmt.Errorf("duplicate offering id %s", off.ID)
		}
		p.index[off.ID] = i
	}
	for r, room := range p.rooms {
		if _, dup := p.roomIndex[room.ID]; dup {
			return nil, fmt.Errorf("duplicate room id %s", room.ID)
		}
		p.roomIndex[room.ID] = r
	}

	folder := cases.Fold()
	cohortIDs := make(map[string]int)
	lecturerIDs := make(map[string]int)

	for i := range p.offerings {
		off := &p.offerings[i]
		f := &p.facts[i]
		f.duration = Duration(*off)
		f.online = IsOnline(*off)
		f.parent = -1
		f.pinned = -1
		f.lecturer = -1

		if off.LecturerID != nil && *off.LecturerID != "" {
			id, ok := lecturerIDs[*off.LecturerID]
			if !ok {
				id = len(lecturerIDs)
				lecturerIDs[*off.LecturerID] = id
			}
			f.lecturer = id
		}

		seen := make(map[int]bool)
		for _, label := range off.TargetClassList() {
			key := folder.String(norm.NFC.String(label))
			id, ok := cohortIDs[key]
			if !ok {
				id = len(p.cohorts)
				cohortIDs[key] = id
				p.cohorts = append(p.cohorts, label)
			}
			if !seen[id] {
				seen[id] = true
				f.cohorts = append(f.cohorts, id)
			}
		}
		sort.Ints(f.cohorts)

		if off.ParentID != nil {
			if parent, ok := p.index[*off.ParentID]; ok && parent != i {
				f.parent = parent
			} else if ok {
				return nil, fmt.Errorf("offering %s is its own parent", off.Code)
			}
		}
		if off.PinnedRoomID != nil && *off.PinnedRoomID != "" {
			r, ok := p.roomIndex[*off.PinnedRoomID]
			if !ok {
				return nil, fmt.Errorf("offering %s is pinned to unknown room %s", off.Code, *off.PinnedRoomID)
			}
			f.pinned = r
		}
	}

	for i := range p.facts {
		if parent := p.facts[i].parent; parent >= 0 {
			p.facts[parent].children = append(p.facts[parent].children, i)
		}
	}
	if err := p.checkParentCycles(); err != nil {
		return nil, err
	}

	for i := range p.facts {
		f := &p.facts[i]
		for r := range p.rooms {
			if !p.roomSuits(i, r) {
				continue
			}
			f.suitable = append(f.suitable, r)
			if p.offerings[i].PlannedSize <= p.rooms[r].Capacity {
				f.candidates = append(f.candidates, r)
			}
		}
	}
	return p, nil
}

func (p *Problem) checkParentCycles() error {
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, len(p.facts))
	for start := range p.facts {
		if state[start] != unvisited {
			continue
		}
		var path []int
		cur := start
		for cur >= 0 && state[cur] == unvisited {
			state[cur] = active
			path = append(path, cur)
			cur = p.facts[cur].parent
		}
		if cur >= 0 && state[cur] == active {
			return fmt.Errorf("parent cycle detected at offering %s", p.offerings[cur].Code)
		}
		for _, node := range path {
			state[node] = done
		}
	}
	return nil
}

// Duration returns the number of periods an offering occupies.
// Theory sessions use theory credits, practice sessions practice credits, the rest total credits.
func Duration(off models.Offering) int {
	var credits float64
	switch off.ClassType {
	case models.ClassTypeTheory:
		credits = off.Course.TheoryCredits
	case models.ClassTypePractice:
		credits = off.Course.PracticeCredits
	default:
		credits = off.Course.Credits
	}
	periods := int(math.Ceil(credits))
	if periods <= 0 {
		return DefaultDuration
	}
	return periods
}

// IsOnline reports whether an offering must be taught in a virtual room.
func IsOnline(off models.Offering) bool {
	return off.ClassType == models.ClassTypeOnline || off.Course.IsOnline
}

// Len returns the number of offerings.
func (p *Problem) Len() int { return len(p.offerings) }

// Offering returns the offering at index i.
func (p *Problem) Offering(i int) models.Offering { return p.offerings[i] }

// Rooms returns the rooms in problem order. The slice must not be modified.
func (p *Problem) Rooms() []models.Room { return p.rooms }

// Index resolves an offering id to its dense index.
func (p *Problem) Index(id string) (int, bool) {
	i, ok := p.index[id]
	return i, ok
}

// RoomIndex resolves a room id to its index.
func (p *Problem) RoomIndex(id string) (int, bool) {
	r, ok := p.roomIndex[id]
	return r, ok
}

// Duration returns the precomputed duration of offering i.
func (p *Problem) Duration(i int) int { return p.facts[i].duration }

// End returns the last period occupied by offering i when starting at start.
func (p *Problem) End(i, start int) int { return start + p.facts[i].duration - 1 }

// Online reports whether offering i is online.
func (p *Problem) Online(i int) bool { return p.facts[i].online }

// Parent returns the parent index of offering i, or -1.
func (p *Problem) Parent(i int) int { return p.facts[i].parent }

// Days returns the days offering i may be placed on, in canonical order.
func (p *Problem) Days(i int) []int {
	last := LastWeekday
	if p.facts[i].online {
		last = Sunday
	}
	days := make([]int, 0, last-FirstDay+1)
	for d := FirstDay; d <= last; d++ {
		days = append(days, d)
	}
	return days
}

// Starts returns the start periods tried for offering i, in canonical order.
func (p *Problem) Starts(i int) []int {
	if p.facts[i].online {
		return []int{EveningStart}
	}
	return CanonicalStarts
}

// roomSuits applies every room-type rule (online/offline, pinned room, category), not capacity.
func (p *Problem) roomSuits(i, r int) bool {
	g := Gene{Room: r}
	for _, rule := range roomRules {
		if rule.violated(p, i, g) {
			return false
		}
	}
	return true
}

// CategoryLabel describes the room category offering i needs, for diagnostics.
func (p *Problem) CategoryLabel(i int) string {
	f := p.facts[i]
	off := p.offerings[i]
	switch {
	case f.pinned >= 0:
		return "room " + p.rooms[f.pinned].Name
	case f.online:
		return string(models.RoomTypeOnline)
	case off.RequiredRoomType != nil && *off.RequiredRoomType != "":
		return string(*off.RequiredRoomType)
	case off.ClassType == models.ClassTypePractice:
		return "LAB/PC"
	case off.ClassType == models.ClassTypeTheory:
		return "THEORY/HALL"
	default:
		return "any on-campus room"
	}
}

// Assignment converts a gene into the write-back payload for offering i.
// Status and message are left for the caller.
func (p *Problem) Assignment(i int, g Gene) models.OfferingAssignment {
	day, start, end := g.Day, g.Start, p.End(i, g.Start)
	roomID := p.rooms[g.Room].ID
	return models.OfferingAssignment{
		OfferingID:  p.offerings[i].ID,
		DayOfWeek:   &day,
		StartPeriod: &start,
		EndPeriod:   &end,
		RoomID:      &roomID,
	}
}

// CommittedGenes reads the genes already stored on the offerings (day, start and room set).
// Offerings referencing unknown rooms are skipped.
func (p *Problem) CommittedGenes() map[int]Gene {
	genes := make(map[int]Gene)
	for i, off := range p.offerings {
		if off.DayOfWeek == nil || off.StartPeriod == nil || off.RoomID == nil {
			continue
		}
		r, ok := p.roomIndex[*off.RoomID]
		if !ok {
			continue
		}
		genes[i] = Gene{Day: *off.DayOfWeek, Start: *off.StartPeriod, Room: r}
	}
	return genes
}

func (p *Problem) label(i int) string {
	off := p.offerings[i]
	if strings.TrimSpace(off.Code) != "" {
		return off.Code
	}
	return off.ID
}
