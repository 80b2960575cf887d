package timetable

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.PopulationSize = 30
	cfg.Generations = 100
	cfg.TournamentSize = 3
	cfg.Workers = 2
	cfg.Seed = 42
	return cfg
}

func trivialProblem(t *testing.T) *Problem {
	return mustProblem(t, []models.Offering{
		newOffering("a", withCohorts("CS-1A"), withLecturer("L1")),
		newOffering("b", withCohorts("CS-1B"), withLecturer("L2")),
		newOffering("c", withCohorts("CS-1C"), withLecturer("L3")),
	}, standardRooms())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"population":  func(c *Config) { c.PopulationSize = 1 },
		"generations": func(c *Config) { c.Generations = 0 },
		"mutation":    func(c *Config) { c.MutationRate = 1.5 },
		"tournament":  func(c *Config) { c.TournamentSize = 0 },
		"elite":       func(c *Config) { c.EliteRatio = 1 },
		"thresholds":  func(c *Config) { c.AcceptableFitness = 0 },
		"workers":     func(c *Config) { c.Workers = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEliteCount(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 7, cfg.EliteCount())

	cfg.PopulationSize = 10
	assert.Equal(t, 1, cfg.EliteCount())

	cfg.EliteRatio = 0
	assert.Equal(t, 0, cfg.EliteCount())
}

func TestRandomGeneRespectsDomains(t *testing.T) {
	p := mustProblem(t, []models.Offering{
		newOffering("offline", withType(models.ClassTypeTheory)),
		newOffering("online", withType(models.ClassTypeOnline)),
		newOffering("pinned", withPinned("H1")),
	}, standardRooms())
	opt, err := NewOptimizer(p, smallConfig(), nil, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	h1, v1 := mustRoom(t, p, "H1"), mustRoom(t, p, "V1")
	for n := 0; n < 500; n++ {
		g := opt.RandomGene(0, rng)
		assert.GreaterOrEqual(t, g.Day, FirstDay)
		assert.LessOrEqual(t, g.Day, LastWeekday)
		assert.Contains(t, daytimeStarts, g.Start)
		assert.NotEqual(t, models.RoomTypeLab, p.rooms[g.Room].Type)
		assert.NotEqual(t, models.RoomTypeOnline, p.rooms[g.Room].Type)

		online := opt.RandomGene(1, rng)
		assert.Equal(t, EveningStart, online.Start)
		assert.Equal(t, v1, online.Room)
		assert.LessOrEqual(t, online.Day, Sunday)

		assert.Equal(t, h1, opt.RandomGene(2, rng).Room)
	}
}

func TestRandomGeneFallsBackWhenNoRoomFits(t *testing.T) {
	p := mustProblem(t, []models.Offering{
		newOffering("huge", withType(models.ClassTypePractice), withSize(500)),
	}, standardRooms())
	opt, err := NewOptimizer(p, smallConfig(), nil, nil)
	require.NoError(t, err)

	g := opt.RandomGene(0, rand.New(rand.NewSource(3)))
	assert.Equal(t, mustRoom(t, p, "L1"), g.Room)
}

func TestEvolveLeavesInputUntouched(t *testing.T) {
	p := trivialProblem(t)
	opt, err := NewOptimizer(p, smallConfig(), nil, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	pop := make(Population, opt.Config().PopulationSize)
	for i := range pop {
		pop[i] = opt.RandomSchedule(rng)
	}
	_, err = opt.Evaluate(context.Background(), pop)
	require.NoError(t, err)

	before := make([][]Gene, len(pop))
	scores := make([]float64, len(pop))
	for i, s := range pop {
		before[i] = s.Genes()
		scores[i], _ = s.Fitness()
	}

	next := opt.Evolve(pop, rng)
	require.Len(t, next, len(pop))
	for i, s := range pop {
		assert.Equal(t, before[i], s.Genes())
		f, ok := s.Fitness()
		assert.True(t, ok)
		assert.Equal(t, scores[i], f)
	}

	best := pop[0]
	for _, s := range pop {
		if s.fitness > best.fitness {
			best = s
		}
	}
	assert.Equal(t, best.Genes(), next[0].Genes())
	assert.NotSame(t, best, next[0])
}

func TestEvaluateSkipsCurrentSchedules(t *testing.T) {
	p := trivialProblem(t)
	opt, err := NewOptimizer(p, smallConfig(), nil, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	pop := Population{opt.RandomSchedule(rng), opt.RandomSchedule(rng)}
	n, err := opt.Evaluate(context.Background(), pop)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pop[1].Set(0, opt.RandomGene(0, rng))
	n, err = opt.Evaluate(context.Background(), pop)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f, ok := pop[1].Fitness()
	assert.True(t, ok)
	assert.Equal(t, p.Fitness(pop[1]), f)
}

func TestRunConvergesOnTrivialInstance(t *testing.T) {
	p := trivialProblem(t)
	opt, err := NewOptimizer(p, smallConfig(), nil, nil)
	require.NoError(t, err)

	res, err := opt.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Best)
	assert.True(t, res.Converged)
	assert.GreaterOrEqual(t, res.Fitness, -10.0)
	assert.Less(t, res.Generations, 100)
	assert.True(t, res.Acceptable(opt.Config()))
	assert.Empty(t, Audit(p, res.Best.GeneMap()))
}

func TestRunIsReproducibleWithSeed(t *testing.T) {
	offerings := make([]models.Offering, 0, 12)
	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		offerings = append(offerings, newOffering(id, withCohorts([]string{"X", "Y", "Z"}[i%3]), withLecturer([]string{"L1", "L2"}[i%2])))
	}
	p := mustProblem(t, offerings, standardRooms())
	cfg := smallConfig()
	cfg.Generations = 20
	cfg.GoodEnoughFitness = 1

	run := func() Result {
		opt, err := NewOptimizer(p, cfg, nil, nil)
		require.NoError(t, err)
		res, err := opt.Run(context.Background())
		require.NoError(t, err)
		return res
	}
	first, second := run(), run()
	assert.Equal(t, first.Fitness, second.Fitness)
	assert.Equal(t, first.Best.Genes(), second.Best.Genes())
	assert.Equal(t, 20, first.Generations)
	assert.False(t, first.Converged)
}

func TestRunHonoursCancellation(t *testing.T) {
	opt, err := NewOptimizer(trivialProblem(t), smallConfig(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := opt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res.Best)
	assert.Equal(t, 0, res.Generations)
}

func TestNewOptimizerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PopulationSize = 0
	_, err := NewOptimizer(trivialProblem(t), cfg, nil, nil)
	assert.Error(t, err)

	_, err = NewOptimizer(nil, DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func scoredSchedule(n int, fitness float64) *Schedule {
	s := NewSchedule(make([]Gene, n))
	s.fitness, s.evaluated = fitness, true
	return s
}

func TestSelectReturnsFittestContender(t *testing.T) {
	cfg := smallConfig()
	cfg.PopulationSize = 5
	cfg.TournamentSize = 5
	opt, err := NewOptimizer(trivialProblem(t), cfg, nil, nil)
	require.NoError(t, err)

	pop := Population{
		scoredSchedule(3, -400),
		scoredSchedule(3, -15),
		scoredSchedule(3, -900),
		scoredSchedule(3, 0),
		scoredSchedule(3, -120),
	}

	rng := rand.New(rand.NewSource(3))
	replay := rand.New(rand.NewSource(3))
	fittest := 0
	for n := 0; n < 200; n++ {
		var want *Schedule
		for k := 0; k < cfg.TournamentSize; k++ {
			c := pop[replay.Intn(len(pop))]
			if want == nil || c.fitness > want.fitness {
				want = c
			}
		}
		got := opt.Select(pop, rng)
		require.Same(t, want, got)
		if got == pop[3] {
			fittest++
		}
	}
	assert.Greater(t, fittest, 100)
}

func TestCrossoverTakesEachGeneFromAParent(t *testing.T) {
	p := trivialProblem(t)
	opt, err := NewOptimizer(p, smallConfig(), nil, nil)
	require.NoError(t, err)

	a := NewSchedule([]Gene{{Day: 2, Start: 1, Room: 0}, {Day: 2, Start: 4, Room: 1}, {Day: 2, Start: 7, Room: 2}})
	b := NewSchedule([]Gene{{Day: 5, Start: 10, Room: 2}, {Day: 6, Start: 1, Room: 0}, {Day: 7, Start: 4, Room: 1}})
	parentA, parentB := a.Genes(), b.Genes()

	rng := rand.New(rand.NewSource(11))
	fromA, fromB := 0, 0
	for n := 0; n < 100; n++ {
		child := opt.Crossover(a, b, rng)
		require.Equal(t, p.Len(), child.Len())
		_, evaluated := child.Fitness()
		assert.False(t, evaluated)
		for i := 0; i < child.Len(); i++ {
			switch child.Gene(i) {
			case parentA[i]:
				fromA++
			case parentB[i]:
				fromB++
			default:
				t.Fatalf("gene %d of child matches neither parent: %+v", i, child.Gene(i))
			}
		}
	}
	assert.Positive(t, fromA)
	assert.Positive(t, fromB)
	assert.Equal(t, parentA, a.Genes())
	assert.Equal(t, parentB, b.Genes())
}

func TestMutateRates(t *testing.T) {
	p := trivialProblem(t)
	original := []Gene{{Day: 2, Start: 1, Room: 0}, {Day: 3, Start: 4, Room: 1}, {Day: 4, Start: 7, Room: 2}}

	t.Run("zero rate keeps every gene", func(t *testing.T) {
		cfg := smallConfig()
		cfg.MutationRate = 0
		opt, err := NewOptimizer(p, cfg, nil, nil)
		require.NoError(t, err)

		s := NewSchedule(append([]Gene(nil), original...))
		s.fitness, s.evaluated = -5, true
		opt.Mutate(s, rand.New(rand.NewSource(5)))

		assert.Equal(t, original, s.Genes())
		fitness, evaluated := s.Fitness()
		assert.True(t, evaluated)
		assert.Equal(t, -5.0, fitness)
	})

	t.Run("full rate redraws every gene", func(t *testing.T) {
		cfg := smallConfig()
		cfg.MutationRate = 1
		opt, err := NewOptimizer(p, cfg, nil, nil)
		require.NoError(t, err)

		s := NewSchedule(append([]Gene(nil), original...))
		s.fitness, s.evaluated = -5, true
		opt.Mutate(s, rand.New(rand.NewSource(5)))

		replay := rand.New(rand.NewSource(5))
		for i := 0; i < s.Len(); i++ {
			replay.Float64()
			assert.Equal(t, opt.RandomGene(i, replay), s.Gene(i))

			g := s.Gene(i)
			assert.GreaterOrEqual(t, g.Day, FirstDay)
			assert.LessOrEqual(t, g.Day, LastWeekday)
			assert.Contains(t, daytimeStarts, g.Start)
		}
		_, evaluated := s.Fitness()
		assert.False(t, evaluated)
	})
}
