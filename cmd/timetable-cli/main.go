package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/csvio"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/service"
	"github.com/noah-isme/timetable-api/internal/timetable"
	"github.com/noah-isme/timetable-api/pkg/config"
	"github.com/noah-isme/timetable-api/pkg/logger"
)

const usage = `usage: timetable-cli <command> [flags]

commands:
  schedule   solve offerings/rooms CSV files and write an assignments CSV
  token      issue a signed API token
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch args[0] {
	case "schedule":
		return schedule(ctx, cfg, args[1:], stdout)
	case "token":
		return token(cfg, args[1:], stdout)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func schedule(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	var (
		offeringsPath string
		roomsPath     string
		outPath       string
		method        string
		delim         string
		seed          int64
		timeout       time.Duration
	)
	fs.StringVar(&offeringsPath, "offerings", "offerings.csv", "Offerings CSV file")
	fs.StringVar(&roomsPath, "rooms", "rooms.csv", "Rooms CSV file")
	fs.StringVar(&outPath, "out", "schedule.csv", "Output CSV file")
	fs.StringVar(&method, "method", cfg.Scheduler.DefaultMethod, "genetic, greedy or hybrid")
	fs.StringVar(&delim, "delim", ",", "CSV field delimiter")
	fs.Int64Var(&seed, "seed", cfg.Scheduler.Seed, "Random seed; 0 is time based")
	fs.DurationVar(&timeout, "timeout", cfg.Scheduler.RunTimeout, "Solve time budget")
	if err := fs.Parse(args); err != nil {
		return err
	}

	comma, size := utf8.DecodeRuneInString(delim)
	if size == 0 || size != len(delim) {
		return fmt.Errorf("delimiter must be a single character, got %q", delim)
	}
	m := models.SchedulingMethod(method)
	switch m {
	case models.SchedulingMethodGenetic, models.SchedulingMethodGreedy, models.SchedulingMethodHybrid:
	default:
		return fmt.Errorf("unknown method %q", method)
	}

	offerings, err := csvio.LoadOfferingsFile(offeringsPath, comma)
	if err != nil {
		return err
	}
	rooms, err := csvio.LoadRoomsFile(roomsPath, comma)
	if err != nil {
		return err
	}
	problem, err := timetable.NewProblem(offerings, rooms)
	if err != nil {
		return err
	}

	logr, err := logger.New(cfg)
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	svc := service.NewSchedulingService(nil, nil, nil, nil, nil, nil, nil, nil, logr, service.SchedulingConfig{
		Optimizer: timetable.Config{
			PopulationSize:    cfg.Scheduler.PopulationSize,
			Generations:       cfg.Scheduler.Generations,
			MutationRate:      cfg.Scheduler.MutationRate,
			TournamentSize:    cfg.Scheduler.TournamentSize,
			EliteRatio:        cfg.Scheduler.EliteRatio,
			GoodEnoughFitness: cfg.Scheduler.GoodEnoughFitness,
			AcceptableFitness: cfg.Scheduler.AcceptableFitness,
			Workers:           cfg.Scheduler.Workers,
			LogEvery:          cfg.Scheduler.LogEvery,
		},
		DefaultMethod: m,
	})

	solveCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var seedOverride *int64
	if seed != 0 {
		seedOverride = &seed
	}
	assignments, summary, err := svc.Plan(solveCtx, problem, m, seedOverride)
	if err != nil {
		return err
	}

	rows := csvio.AssignmentRows(offerings, rooms, assignments)
	if err := csvio.WriteAssignmentsFile(outPath, rows, comma); err != nil {
		return err
	}
	logr.Info("schedule written",
		zap.String("path", outPath),
		zap.Int("scheduled", summary.ScheduledCount),
		zap.Int("failed", summary.FailedCount),
	)

	fmt.Fprintf(stdout, "%s\nscheduled: %d, failed: %d, fitness: %.0f, elapsed: %dms\nwritten: %s\n",
		summary.Message, summary.ScheduledCount, summary.FailedCount, summary.BestFitness, summary.ElapsedMs, outPath)
	return nil
}

func token(cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	var (
		userID string
		role   string
		email  string
		ttl    time.Duration
	)
	fs.StringVar(&userID, "user", "", "User ID (required)")
	fs.StringVar(&role, "role", string(models.RoleAdmin), "SUPERADMIN, ADMIN, LECTURER or STUDENT")
	fs.StringVar(&email, "email", "", "User email")
	fs.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("-user is required")
	}

	signed, err := service.NewTokenService(cfg.JWT.Secret).Issue(userID, models.UserRole(role), email, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, signed)
	return nil
}
