package timetable

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config tunes the genetic optimizer.
type Config struct {
	PopulationSize    int
	Generations       int
	MutationRate      float64
	TournamentSize    int
	EliteRatio        float64
	GoodEnoughFitness float64
	AcceptableFitness float64
	// Workers bounds parallel fitness evaluation; 0 means GOMAXPROCS.
	Workers int
	// Seed fixes the random stream; 0 means time based.
	Seed int64
	// LogEvery controls progress logging; 0 disables it.
	LogEvery int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		PopulationSize:    150,
		Generations:       300,
		MutationRate:      0.05,
		TournamentSize:    5,
		EliteRatio:        0.05,
		GoodEnoughFitness: -10,
		AcceptableFitness: -100,
		LogEvery:          50,
	}
}

// Validate rejects configurations the optimizer cannot run with.
func (c Config) Validate() error {
	if c.PopulationSize < 2 {
		return fmt.Errorf("population size must be > 1 (got %d)", c.PopulationSize)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("generations must be > 0 (got %d)", c.Generations)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("mutation rate must be within [0,1] (got %f)", c.MutationRate)
	}
	if c.TournamentSize <= 0 || c.TournamentSize > c.PopulationSize {
		return fmt.Errorf("tournament size must be within [1, population] (got %d)", c.TournamentSize)
	}
	if c.EliteRatio < 0 || c.EliteRatio >= 1 {
		return fmt.Errorf("elite ratio must be within [0,1) (got %f)", c.EliteRatio)
	}
	if c.AcceptableFitness > c.GoodEnoughFitness {
		return fmt.Errorf("acceptable fitness %.0f must not exceed good-enough fitness %.0f",
			c.AcceptableFitness, c.GoodEnoughFitness)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0 (got %d)", c.Workers)
	}
	return nil
}

// EliteCount is the number of schedules copied unchanged into the next generation.
func (c Config) EliteCount() int {
	if c.EliteRatio <= 0 {
		return 0
	}
	n := int(float64(c.PopulationSize) * c.EliteRatio)
	if n < 1 {
		n = 1
	}
	return n
}

// Result is the outcome of one optimizer run.
type Result struct {
	Best        *Schedule
	Fitness     float64
	Generations int
	Evaluations int
	Converged   bool
	Duration    time.Duration
}

// Acceptable reports whether the best fitness clears the acceptability threshold.
func (r Result) Acceptable(cfg Config) bool {
	return r.Best != nil && r.Fitness >= cfg.AcceptableFitness
}

// Optimizer evolves complete schedules for one Problem. It owns its random stream
// and must not be shared between concurrent runs.
type Optimizer struct {
	problem *Problem
	cfg     Config
	rng     *rand.Rand
	logger  *zap.Logger
}

// NewOptimizer validates cfg and seeds the random stream from cfg.Seed when rng is nil.
func NewOptimizer(problem *Problem, cfg Config, rng *rand.Rand, logger *zap.Logger) (*Optimizer, error) {
	if problem == nil {
		return nil, fmt.Errorf("problem is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{problem: problem, cfg: cfg, rng: rng, logger: logger}, nil
}

// Config returns the effective configuration.
func (o *Optimizer) Config() Config { return o.cfg }

// RandomGene draws a placement for offering i. On-campus offerings get Monday..Saturday and a
// daytime start; online offerings get any day and the evening start. Rooms come from the best
// non-empty pool: category and capacity, category only, then every room.
func (o *Optimizer) RandomGene(i int, rng *rand.Rand) Gene {
	f := o.problem.facts[i]
	var g Gene
	if f.online {
		g.Day = FirstDay + rng.Intn(Sunday-FirstDay+1)
		g.Start = EveningStart
	} else {
		g.Day = FirstDay + rng.Intn(LastWeekday-FirstDay+1)
		g.Start = daytimeStarts[rng.Intn(len(daytimeStarts))]
	}

	switch {
	case len(f.candidates) > 0:
		g.Room = f.candidates[rng.Intn(len(f.candidates))]
	case len(f.suitable) > 0:
		g.Room = f.suitable[rng.Intn(len(f.suitable))]
	case f.pinned >= 0:
		g.Room = f.pinned
	default:
		g.Room = rng.Intn(len(o.problem.rooms))
	}
	return g
}

// RandomSchedule draws every gene independently.
func (o *Optimizer) RandomSchedule(rng *rand.Rand) *Schedule {
	genes := make([]Gene, o.problem.Len())
	for i := range genes {
		genes[i] = o.RandomGene(i, rng)
	}
	return NewSchedule(genes)
}

// Fitness scores one schedule without touching its cache.
func (o *Optimizer) Fitness(s *Schedule) float64 {
	return o.problem.Fitness(s)
}

// Evaluate scores every schedule whose fitness is stale, in parallel, and returns how many
// were scored. Each worker writes only the schedule it was handed.
func (o *Optimizer) Evaluate(ctx context.Context, pop Population) (int, error) {
	pending := make([]*Schedule, 0, len(pop))
	for _, s := range pop {
		if !s.evaluated {
			pending = append(pending, s)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, s := range pending {
		s := s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.fitness = o.problem.Fitness(s)
			s.evaluated = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Select runs a tournament over pop and returns the fittest contender. Fitness must be current.
func (o *Optimizer) Select(pop Population, rng *rand.Rand) *Schedule {
	var best *Schedule
	for k := 0; k < o.cfg.TournamentSize; k++ {
		c := pop[rng.Intn(len(pop))]
		if best == nil || c.fitness > best.fitness {
			best = c
		}
	}
	return best
}

// Crossover builds a child taking each gene from either parent with equal probability.
func (o *Optimizer) Crossover(a, b *Schedule, rng *rand.Rand) *Schedule {
	genes := make([]Gene, len(a.genes))
	for i := range genes {
		if rng.Intn(2) == 0 {
			genes[i] = a.genes[i]
		} else {
			genes[i] = b.genes[i]
		}
	}
	return NewSchedule(genes)
}

// Mutate redraws each gene with probability MutationRate.
func (o *Optimizer) Mutate(s *Schedule, rng *rand.Rand) {
	for i := range s.genes {
		if rng.Float64() < o.cfg.MutationRate {
			s.Set(i, o.RandomGene(i, rng))
		}
	}
}

// Evolve produces the next generation from an evaluated population. The input population and
// its schedules are left untouched.
func (o *Optimizer) Evolve(pop Population, rng *rand.Rand) Population {
	ranked := make(Population, len(pop))
	copy(ranked, pop)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].fitness > ranked[j].fitness
	})

	next := make(Population, 0, o.cfg.PopulationSize)
	for e := 0; e < o.cfg.EliteCount() && e < len(ranked); e++ {
		next = append(next, ranked[e].Clone())
	}
	for len(next) < o.cfg.PopulationSize {
		child := o.Crossover(o.Select(ranked, rng), o.Select(ranked, rng), rng)
		o.Mutate(child, rng)
		next = append(next, child)
	}
	return next
}

// Run evolves until the good-enough fitness is reached, the generation budget is spent or ctx
// is done. On cancellation the best schedule seen so far is returned together with ctx's error.
func (o *Optimizer) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	pop := make(Population, o.cfg.PopulationSize)
	for i := range pop {
		pop[i] = o.RandomSchedule(o.rng)
	}

	res := Result{Fitness: PenaltyRoomClash * float64(o.problem.Len())}
	finish := func(err error) (Result, error) {
		res.Duration = time.Since(start)
		if res.Best != nil {
			res.Fitness, _ = res.Best.Fitness()
		}
		return res, err
	}

	for gen := 0; gen < o.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		n, err := o.Evaluate(ctx, pop)
		res.Evaluations += n
		if err != nil {
			return finish(err)
		}
		res.Generations = gen + 1

		leader := pop[0]
		for _, s := range pop[1:] {
			if s.fitness > leader.fitness {
				leader = s
			}
		}
		if res.Best == nil || leader.fitness > res.Best.fitness {
			res.Best = leader.Clone()
		}

		if o.cfg.LogEvery > 0 && gen%o.cfg.LogEvery == 0 {
			o.logger.Debug("genetic generation",
				zap.Int("generation", gen),
				zap.Float64("best_fitness", res.Best.fitness),
				zap.Float64("generation_fitness", leader.fitness),
			)
		}
		if res.Best.fitness >= o.cfg.GoodEnoughFitness {
			res.Converged = true
			break
		}
		pop = o.Evolve(pop, o.rng)
	}
	return finish(nil)
}
