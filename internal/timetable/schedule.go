package timetable

// Gene is one offering's placement: a day, a start period and a room index.
type Gene struct {
	Day   int `json:"day"`
	Start int `json:"start"`
	Room  int `json:"room"`
}

// Schedule assigns one gene to every offering of a Problem, by offering index.
// Fitness is cached until a gene changes.
type Schedule struct {
	genes     []Gene
	fitness   float64
	evaluated bool
}

// NewSchedule wraps the given genes. The slice is owned by the schedule afterwards.
func NewSchedule(genes []Gene) *Schedule {
	return &Schedule{genes: genes}
}

// Len returns the number of genes.
func (s *Schedule) Len() int { return len(s.genes) }

// Gene returns the gene of offering i.
func (s *Schedule) Gene(i int) Gene { return s.genes[i] }

// Genes returns a copy of every gene.
func (s *Schedule) Genes() []Gene { return append([]Gene(nil), s.genes...) }

// GeneMap returns the genes keyed by offering index.
func (s *Schedule) GeneMap() map[int]Gene {
	m := make(map[int]Gene, len(s.genes))
	for i, g := range s.genes {
		m[i] = g
	}
	return m
}

// Set replaces the gene of offering i and invalidates the cached fitness.
func (s *Schedule) Set(i int, g Gene) {
	s.genes[i] = g
	s.evaluated = false
}

// Fitness returns the cached fitness and whether it is current.
func (s *Schedule) Fitness() (float64, bool) { return s.fitness, s.evaluated }

// Clone returns a deep copy, including the cached fitness.
func (s *Schedule) Clone() *Schedule {
	return &Schedule{
		genes:     append([]Gene(nil), s.genes...),
		fitness:   s.fitness,
		evaluated: s.evaluated,
	}
}

// Population is one GA generation.
type Population []*Schedule
