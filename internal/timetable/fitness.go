package timetable

import "github.com/noah-isme/timetable-api/internal/models"

type slotKey struct {
	day    int
	period int
	id     int
}

// Fitness scores a complete schedule: 0 is perfect, every violation subtracts its penalty.
// Occupancy clashes are counted per shared period, first occupant wins.
func (p *Problem) Fitness(s *Schedule) float64 {
	n := len(p.offerings)
	rooms := make(map[slotKey]struct{}, n*DefaultDuration)
	lecturers := make(map[slotKey]struct{}, n*DefaultDuration)
	cohorts := make(map[slotKey]struct{}, n*DefaultDuration)

	score := 0.0
	for i := 0; i < n && i < s.Len(); i++ {
		g := s.genes[i]
		f := p.facts[i]
		if g.Room < 0 || g.Room >= len(p.rooms) {
			score += PenaltyRoomType
			continue
		}
		for _, rule := range placementRules {
			if rule.violated(p, i, g) {
				score += rule.penalty
			}
		}

		virtual := p.rooms[g.Room].Type == models.RoomTypeOnline
		for period := g.Start; period < g.Start+f.duration; period++ {
			if !virtual {
				score += occupy(rooms, slotKey{g.Day, period, g.Room}, PenaltyRoomClash)
			}
			if f.lecturer >= 0 {
				score += occupy(lecturers, slotKey{g.Day, period, f.lecturer}, PenaltyLecturerClash)
			}
			for _, c := range f.cohorts {
				score += occupy(cohorts, slotKey{g.Day, period, c}, PenaltyCohortClash)
			}
		}

		if f.parent >= 0 && f.parent < s.Len() {
			pg := s.genes[f.parent]
			if pg.Day == g.Day && overlaps(g.Start, p.End(i, g.Start), pg.Start, p.End(f.parent, pg.Start)) {
				score += PenaltyParentClash
			}
		}
	}
	return score
}

func occupy(grid map[slotKey]struct{}, key slotKey, penalty float64) float64 {
	if _, taken := grid[key]; taken {
		return penalty
	}
	grid[key] = struct{}{}
	return 0
}
