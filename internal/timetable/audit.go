package timetable

import "sort"

// Audit checks a set of placements against every rule. Each clashing pair is reported once,
// on the offering with the higher index.
func Audit(p *Problem, genes map[int]Gene) []Violation {
	oracle := NewOracle(p)
	indices := make([]int, 0, len(genes))
	for i := range genes {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var out []Violation
	placed := NewPlacedSet(p)
	for _, i := range indices {
		g := genes[i]
		out = append(out, oracle.Violations(i, g)...)
		if !oracle.validGene(g) {
			continue
		}
		end := p.End(i, g.Start)
		for _, pos := range placed.byDay[g.Day] {
			e := placed.entries[pos]
			if !overlaps(g.Start, end, e.gene.Start, e.end) {
				continue
			}
			if kind, msg, ok := p.conflictBetween(i, g, e.index, e.gene); ok {
				out = append(out, oracle.violation(i, string(kind), SeverityHard, kind.Penalty(), msg, p.offerings[e.index].ID))
			}
		}
		_ = placed.Add(i, g)
	}
	return out
}

// Diagnose returns, for each offering of s, the message of its first violation or "" when clean.
// Unlike Audit both sides of a clash get a message.
func Diagnose(p *Problem, s *Schedule) []string {
	oracle := NewOracle(p)
	msgs := make([]string, p.Len())
	placed := NewPlacedSet(p)
	for i := 0; i < p.Len(); i++ {
		if oracle.validGene(s.genes[i]) {
			_ = placed.Add(i, s.genes[i])
		}
	}
	for i := 0; i < p.Len(); i++ {
		g := s.genes[i]
		if v := oracle.Violations(i, g); len(v) > 0 {
			msgs[i] = v[0].Message
			continue
		}
		if msg, ok := oracle.ExplainConflict(i, g, placed); ok {
			msgs[i] = msg
		}
	}
	return msgs
}

// Penalty sums the penalties of a violation list; a clean timetable scores 0.
func Penalty(violations []Violation) float64 {
	var total float64
	for _, v := range violations {
		total += v.Penalty
	}
	return total
}
