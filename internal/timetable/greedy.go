package timetable

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Outcome is the greedy decision for one offering.
type Outcome struct {
	Index      int
	OfferingID string
	Placed     bool
	Gene       Gene
	Reason     string
}

// GreedyResult holds one outcome per offering, in problem order.
type GreedyResult struct {
	Outcomes  []Outcome
	Placed    *PlacedSet
	Scheduled int
	Failed    int
}

// Greedy places offerings one by one at the first feasible (day, start, room), smallest room first.
type Greedy struct {
	problem *Problem
	oracle  *Oracle
	logger  *zap.Logger
	rooms   []int
}

// NewGreedy prepares the room order for a problem.
func NewGreedy(problem *Problem, logger *zap.Logger) *Greedy {
	if logger == nil {
		logger = zap.NewNop()
	}
	rooms := make([]int, len(problem.rooms))
	for r := range rooms {
		rooms[r] = r
	}
	sort.SliceStable(rooms, func(a, b int) bool {
		return problem.rooms[rooms[a]].Capacity < problem.rooms[rooms[b]].Capacity
	})
	return &Greedy{problem: problem, oracle: NewOracle(problem), logger: logger, rooms: rooms}
}

// Order returns offering indices in placement order: parents before children, theory before the
// rest, larger classes first, then by code.
func (g *Greedy) Order() []int {
	p := g.problem
	order := make([]int, p.Len())
	for i := range order {
		order[i] = i
	}
	depth := make([]int, p.Len())
	for i := range depth {
		for cur := p.facts[i].parent; cur >= 0; cur = p.facts[cur].parent {
			depth[i]++
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if depth[i] != depth[j] {
			return depth[i] < depth[j]
		}
		ti := p.offerings[i].ClassType == models.ClassTypeTheory
		tj := p.offerings[j].ClassType == models.ClassTypeTheory
		if ti != tj {
			return ti
		}
		if p.offerings[i].PlannedSize != p.offerings[j].PlannedSize {
			return p.offerings[i].PlannedSize > p.offerings[j].PlannedSize
		}
		return p.offerings[i].Code < p.offerings[j].Code
	})
	return order
}

// Run places every offering it can. ctx is checked between offerings.
func (g *Greedy) Run(ctx context.Context) (GreedyResult, error) {
	p := g.problem
	res := GreedyResult{
		Outcomes: make([]Outcome, p.Len()),
		Placed:   NewPlacedSet(p),
	}
	for _, i := range g.Order() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := Outcome{Index: i, OfferingID: p.offerings[i].ID}
		if gene, ok := g.firstFit(i, res.Placed); ok {
			if err := res.Placed.Add(i, gene); err != nil {
				return res, err
			}
			out.Placed = true
			out.Gene = gene
			res.Scheduled++
		} else {
			out.Reason = g.diagnose(i, res.Placed)
			res.Failed++
			g.logger.Debug("greedy could not place offering",
				zap.String("offering", p.label(i)),
				zap.String("reason", out.Reason),
			)
		}
		res.Outcomes[i] = out
	}
	return res, nil
}

func (g *Greedy) firstFit(i int, placed *PlacedSet) (Gene, bool) {
	p := g.problem
	for _, day := range p.Days(i) {
		for _, start := range p.Starts(i) {
			for _, r := range g.rooms {
				gene := Gene{Day: day, Start: start, Room: r}
				if g.oracle.IsFeasible(i, gene, placed) {
					return gene, true
				}
			}
		}
	}
	return Gene{}, false
}

// diagnose explains why offering i found no slot.
func (g *Greedy) diagnose(i int, placed *PlacedSet) string {
	p := g.problem
	size := p.offerings[i].PlannedSize

	fits := false
	for _, room := range p.rooms {
		if room.Capacity >= size {
			fits = true
			break
		}
	}
	if !fits {
		return fmt.Sprintf("No room has enough capacity (%d)", size)
	}

	room := -1
	for _, r := range g.rooms {
		for _, c := range p.facts[i].candidates {
			if c == r {
				room = r
				break
			}
		}
		if room >= 0 {
			break
		}
	}
	if room < 0 {
		return fmt.Sprintf("No room matches BOTH Capacity (%d) and Type (%s)", size, p.CategoryLabel(i))
	}

	for _, day := range p.Days(i) {
		for _, start := range p.Starts(i) {
			if msg, ok := g.oracle.ExplainConflict(i, Gene{Day: day, Start: start, Room: room}, placed); ok {
				return fmt.Sprintf("No free slot: %s", msg)
			}
		}
	}
	return fmt.Sprintf("Room %s appears valid but every slot was rejected", p.rooms[room].Name)
}
