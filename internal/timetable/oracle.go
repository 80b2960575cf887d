package timetable

import "fmt"

// Violation is one broken rule for one offering.
type Violation struct {
	OfferingID   string   `json:"offering_id"`
	OfferingCode string   `json:"offering_code"`
	Rule         string   `json:"rule"`
	Severity     Severity `json:"severity"`
	Penalty      float64  `json:"penalty"`
	Message      string   `json:"message"`
	OtherID      string   `json:"other_id,omitempty"`
}

type placedEntry struct {
	index int
	gene  Gene
	end   int
}

// PlacedSet is the growing set of committed placements consulted by the oracle.
// It is not safe for concurrent writes.
type PlacedSet struct {
	problem *Problem
	entries []placedEntry
	byDay   map[int][]int
	placed  map[int]bool
}

// NewPlacedSet returns an empty set for the given problem.
func NewPlacedSet(p *Problem) *PlacedSet {
	return &PlacedSet{
		problem: p,
		byDay:   make(map[int][]int),
		placed:  make(map[int]bool),
	}
}

// Add commits offering i at g. Adding the same offering twice is an error.
func (s *PlacedSet) Add(i int, g Gene) error {
	if s.placed[i] {
		return fmt.Errorf("offering %s already placed", s.problem.label(i))
	}
	s.placed[i] = true
	s.byDay[g.Day] = append(s.byDay[g.Day], len(s.entries))
	s.entries = append(s.entries, placedEntry{index: i, gene: g, end: s.problem.End(i, g.Start)})
	return nil
}

// Contains reports whether offering i is already placed.
func (s *PlacedSet) Contains(i int) bool { return s.placed[i] }

// Len returns the number of placements.
func (s *PlacedSet) Len() int { return len(s.entries) }

// Genes returns the placements keyed by offering index.
func (s *PlacedSet) Genes() map[int]Gene {
	genes := make(map[int]Gene, len(s.entries))
	for _, e := range s.entries {
		genes[e.index] = e.gene
	}
	return genes
}

// Oracle answers feasibility questions for incremental placement. It holds no state of its own.
type Oracle struct {
	problem *Problem
}

// NewOracle binds an oracle to a problem.
func NewOracle(p *Problem) *Oracle {
	return &Oracle{problem: p}
}

// IsFeasible reports whether offering i can be placed at g given what is already placed.
// Every hard rule and every pairwise conflict counts; soft rules do not.
func (o *Oracle) IsFeasible(i int, g Gene, placed *PlacedSet) bool {
	if !o.validGene(g) {
		return false
	}
	for _, rule := range placementRules {
		if rule.severity == SeverityHard && rule.violated(o.problem, i, g) {
			return false
		}
	}
	_, _, clash := o.firstClash(i, g, placed)
	return !clash
}

// ExplainConflict describes the first pairwise clash between offering i at g and the placed set.
// Single-offering rules are not consulted.
func (o *Oracle) ExplainConflict(i int, g Gene, placed *PlacedSet) (string, bool) {
	if !o.validGene(g) {
		return "", false
	}
	_, msg, ok := o.firstClash(i, g, placed)
	return msg, ok
}

// Violations lists every single-offering rule broken by offering i at g.
func (o *Oracle) Violations(i int, g Gene) []Violation {
	if !o.validGene(g) {
		return []Violation{o.violation(i, "room_index", SeverityHard, PenaltyRoomType,
			fmt.Sprintf("room index %d is out of range", g.Room), "")}
	}
	var out []Violation
	for _, rule := range placementRules {
		if rule.violated(o.problem, i, g) {
			out = append(out, o.violation(i, rule.name, rule.severity, rule.penalty, rule.message(o.problem, i, g), ""))
		}
	}
	return out
}

func (o *Oracle) firstClash(i int, g Gene, placed *PlacedSet) (ConflictKind, string, bool) {
	if placed == nil {
		return "", "", false
	}
	end := o.problem.End(i, g.Start)
	for _, pos := range placed.byDay[g.Day] {
		e := placed.entries[pos]
		if e.index == i || !overlaps(g.Start, end, e.gene.Start, e.end) {
			continue
		}
		if kind, msg, ok := o.problem.conflictBetween(i, g, e.index, e.gene); ok {
			return kind, msg, true
		}
	}
	return "", "", false
}

func (o *Oracle) validGene(g Gene) bool {
	return g.Room >= 0 && g.Room < len(o.problem.rooms)
}

func (o *Oracle) violation(i int, rule string, severity Severity, penalty float64, msg, otherID string) Violation {
	off := o.problem.offerings[i]
	return Violation{
		OfferingID:   off.ID,
		OfferingCode: off.Code,
		Rule:         rule,
		Severity:     severity,
		Penalty:      penalty,
		Message:      msg,
		OtherID:      otherID,
	}
}
