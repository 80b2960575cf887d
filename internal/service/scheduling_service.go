package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/timetable"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/jobs"
	"github.com/noah-isme/timetable-api/pkg/logger"
)

// JobTypeSchedulingRun tags queued scheduling runs.
const JobTypeSchedulingRun = "scheduling.run"

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindActive(ctx context.Context) (*models.Term, error)
}

type offeringStore interface {
	ListByTerm(ctx context.Context, termID string) ([]models.Offering, error)
	ResetTerm(ctx context.Context, exec sqlx.ExtContext, termID string) (int64, error)
	SaveAssignments(ctx context.Context, exec sqlx.ExtContext, assignments []models.OfferingAssignment) error
}

type roomReader interface {
	ListActive(ctx context.Context) ([]models.Room, error)
}

type schedulingRunStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, run *models.SchedulingRun) error
	ListByTerm(ctx context.Context, termID string, limit int) ([]models.SchedulingRun, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// SchedulingConfig governs run behaviour.
type SchedulingConfig struct {
	Optimizer     timetable.Config
	DefaultMethod models.SchedulingMethod
	RunTimeout    time.Duration
	ResultTTL     time.Duration
}

// SchedulingService loads a term, solves it and writes every offering's outcome back in one transaction.
type SchedulingService struct {
	terms     termReader
	offerings offeringStore
	rooms     roomReader
	runs      schedulingRunStore
	tx        txProvider
	cache     *CacheService
	metrics   *MetricsService
	queue     jobEnqueuer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       SchedulingConfig
	locks     *termLocks
	now       func() time.Time
}

// NewSchedulingService wires scheduling dependencies.
func NewSchedulingService(
	terms termReader,
	offerings offeringStore,
	rooms roomReader,
	runs schedulingRunStore,
	tx txProvider,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg SchedulingConfig,
) *SchedulingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = models.SchedulingMethodGenetic
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &SchedulingService{
		terms:     terms,
		offerings: offerings,
		rooms:     rooms,
		runs:      runs,
		tx:        tx,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		locks:     newTermLocks(),
		now:       time.Now,
	}
}

// AttachQueue sets the queue used by SubmitRun. The queue's handler is HandleJob, so the two are
// built in sequence.
func (s *SchedulingService) AttachQueue(queue jobEnqueuer) {
	s.queue = queue
}

// RunScheduling solves the term synchronously and commits the result.
func (s *SchedulingService) RunScheduling(ctx context.Context, req dto.RunSchedulingRequest) (*dto.SchedulingSummary, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scheduling request")
	}
	return s.run(ctx, req, uuid.NewString())
}

// SubmitRun queues the run and returns its initial status. Progress is tracked in the cache.
func (s *SchedulingService) SubmitRun(ctx context.Context, req dto.RunSchedulingRequest) (*dto.RunStatus, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scheduling request")
	}
	if s.queue == nil || !s.cache.Enabled() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "asynchronous runs require the job queue and cache")
	}

	status := &dto.RunStatus{
		ID:          uuid.NewString(),
		TermID:      req.TermID,
		Method:      s.method(req),
		Status:      models.SchedulingRunQueued,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.saveStatus(ctx, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record run status")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: status.ID, Type: JobTypeSchedulingRun, Payload: req}); err != nil {
		s.finishStatus(ctx, status, nil, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue scheduling run")
	}
	s.logger.Info("scheduling run queued", zap.String("run_id", status.ID), zap.String("term_id", req.TermID))
	return status, nil
}

// HandleJob executes a queued run. Failures are recorded on the run status rather than retried.
func (s *SchedulingService) HandleJob(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(dto.RunSchedulingRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}

	status := &dto.RunStatus{ID: job.ID, TermID: req.TermID, Method: s.method(req), SubmittedAt: job.Enqueued}
	if _, err := s.cache.Get(ctx, RunStatusKey(job.ID), status); err != nil {
		s.logger.Warn("run status unavailable", zap.String("run_id", job.ID), zap.Error(err))
	}
	started := s.now().UTC()
	status.Status = models.SchedulingRunRunning
	status.StartedAt = &started
	if err := s.saveStatus(ctx, status); err != nil {
		s.logger.Error("failed to record run status", zap.String("run_id", job.ID), zap.Error(err))
	}

	summary, err := s.run(ctx, req, job.ID)
	s.finishStatus(ctx, status, summary, err)
	return nil
}

// RunStatus reads the cached state of an asynchronous run.
func (s *SchedulingService) RunStatus(ctx context.Context, runID string) (*dto.RunStatus, error) {
	var status dto.RunStatus
	hit, err := s.cache.Get(ctx, RunStatusKey(runID), &status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read run status")
	}
	if !hit {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "scheduling run not found")
	}
	return &status, nil
}

// ListRuns returns the committed run history of a term.
func (s *SchedulingService) ListRuns(ctx context.Context, query dto.RunHistoryQuery) ([]models.SchedulingRun, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid run history query")
	}
	runs, err := s.runs.ListByTerm(ctx, query.TermID, query.Limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list scheduling runs")
	}
	return runs, nil
}

// Plan solves an already loaded problem without touching storage or the term lock.
func (s *SchedulingService) Plan(ctx context.Context, problem *timetable.Problem, method models.SchedulingMethod, seed *int64) ([]models.OfferingAssignment, *dto.SchedulingSummary, error) {
	if method == "" {
		method = s.cfg.DefaultMethod
	}
	start := s.now()
	p, err := s.solve(ctx, problem, method, seed, s.logger)
	if err != nil {
		return nil, nil, err
	}
	elapsed := s.now().Sub(start)
	s.metrics.ObserveSchedulingRun(string(p.method), p.outcome, elapsed, p.fitness, p.generations, p.scheduled, p.failed)
	return p.assignments, &dto.SchedulingSummary{
		Method:         p.method,
		ScheduledCount: p.scheduled,
		FailedCount:    p.failed,
		BestFitness:    p.fitness,
		Generations:    p.generations,
		ElapsedMs:      elapsed.Milliseconds(),
		Converged:      p.converged,
		Message:        p.message,
	}, nil
}

func (s *SchedulingService) method(req dto.RunSchedulingRequest) models.SchedulingMethod {
	if req.Method != "" {
		return req.Method
	}
	return s.cfg.DefaultMethod
}

// plan is a solved term, ready to be written back.
type plan struct {
	method      models.SchedulingMethod
	assignments []models.OfferingAssignment
	scheduled   int
	failed      int
	fitness     float64
	generations int
	converged   bool
	message     string
	outcome     string
}

func (s *SchedulingService) run(ctx context.Context, req dto.RunSchedulingRequest, runID string) (*dto.SchedulingSummary, error) {
	method := s.method(req)
	start := s.now()

	term, err := s.resolveTerm(ctx, req.TermID)
	if err != nil {
		return nil, err
	}
	if !s.locks.TryLock(term.ID) {
		return nil, appErrors.Clone(appErrors.ErrRunInProgress, fmt.Sprintf("a scheduling run is already in progress for term %s", term.Name))
	}
	defer s.locks.Unlock(term.ID)

	log := logger.ForRun(s.logger, runID, term.ID, string(method))

	problem, err := s.loadProblem(ctx, term)
	if err != nil {
		s.metrics.ObserveSchedulingRun(string(method), "error", s.now().Sub(start), 0, 0, 0, 0)
		return nil, err
	}
	log.Info("scheduling run started", zap.Int("offerings", problem.Len()), zap.Int("rooms", len(problem.Rooms())))

	solveCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	p, err := s.solve(solveCtx, problem, method, req.Seed, log)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		s.metrics.ObserveSchedulingRun(string(method), "error", s.now().Sub(start), 0, 0, 0, 0)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("scheduling run aborted", zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrRunCancelled.Code, appErrors.ErrRunCancelled.Status, "scheduling run was cancelled before a result was available")
		}
		return nil, err
	}

	elapsed := s.now().Sub(start)
	if err := s.commit(ctx, term, runID, p, elapsed); err != nil {
		s.metrics.ObserveSchedulingRun(string(method), "error", elapsed, 0, 0, 0, 0)
		log.Error("scheduling write-back failed", zap.Error(err))
		return nil, err
	}
	if err := s.cache.InvalidateTerm(ctx, term.ID); err != nil {
		log.Warn("timetable cache invalidation failed", zap.Error(err))
	}

	s.metrics.ObserveSchedulingRun(string(p.method), p.outcome, elapsed, p.fitness, p.generations, p.scheduled, p.failed)
	log.Info("scheduling run committed",
		zap.Int("scheduled", p.scheduled),
		zap.Int("failed", p.failed),
		zap.Float64("fitness", p.fitness),
		zap.Int("generations", p.generations),
		zap.Duration("elapsed", elapsed),
	)

	return &dto.SchedulingSummary{
		RunID:          runID,
		TermID:         term.ID,
		TermName:       term.Name,
		Method:         p.method,
		ScheduledCount: p.scheduled,
		FailedCount:    p.failed,
		BestFitness:    p.fitness,
		Generations:    p.generations,
		ElapsedMs:      elapsed.Milliseconds(),
		Converged:      p.converged,
		Message:        p.message,
	}, nil
}

func (s *SchedulingService) resolveTerm(ctx context.Context, termID string) (*models.Term, error) {
	if termID == "" {
		term, err := s.terms.FindActive(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active term found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active term")
		}
		return term, nil
	}
	term, err := s.terms.FindByID(ctx, termID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

func (s *SchedulingService) loadProblem(ctx context.Context, term *models.Term) (*timetable.Problem, error) {
	offerings, err := s.offerings.ListByTerm(ctx, term.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course offerings")
	}
	if len(offerings) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("no course offerings to schedule for term %s", term.Name))
	}
	rooms, err := s.rooms.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
	}
	if len(rooms) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active rooms available")
	}
	problem, err := timetable.NewProblem(offerings, rooms)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return problem, nil
}

func (s *SchedulingService) solve(ctx context.Context, problem *timetable.Problem, method models.SchedulingMethod, seed *int64, log *zap.Logger) (*plan, error) {
	switch method {
	case models.SchedulingMethodGreedy:
		return s.solveGreedy(ctx, problem, log)
	case models.SchedulingMethodHybrid:
		ga, err := s.solveGenetic(ctx, problem, seed, log)
		if err != nil {
			return nil, err
		}
		if ga.failed == 0 {
			ga.method = models.SchedulingMethodHybrid
			return ga, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn("hybrid run skipped greedy pass after the time budget expired")
			ga.method = models.SchedulingMethodHybrid
			return ga, nil
		}
		greedy, err := s.solveGreedy(ctx, problem, log)
		if err != nil {
			return nil, err
		}
		best := ga
		if greedy.scheduled > ga.scheduled {
			best = greedy
			best.generations = ga.generations
		}
		log.Info("hybrid run compared methods",
			zap.Int("genetic_scheduled", ga.scheduled),
			zap.Int("greedy_scheduled", greedy.scheduled),
		)
		best.method = models.SchedulingMethodHybrid
		return best, nil
	default:
		return s.solveGenetic(ctx, problem, seed, log)
	}
}

func (s *SchedulingService) solveGenetic(ctx context.Context, problem *timetable.Problem, seed *int64, log *zap.Logger) (*plan, error) {
	cfg := s.cfg.Optimizer
	if seed != nil {
		cfg.Seed = *seed
	}
	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	optimizer, err := timetable.NewOptimizer(problem, cfg, rng, log)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid optimizer configuration")
	}

	res, err := optimizer.Run(ctx)
	if err != nil {
		// A spent time budget still leaves a best-so-far schedule worth committing.
		if !errors.Is(err, context.DeadlineExceeded) || res.Best == nil {
			return nil, err
		}
		log.Warn("genetic run hit its time budget", zap.Int("generations", res.Generations))
	}

	message := fmt.Sprintf("GA fitness: %.0f", res.Fitness)
	p := &plan{
		method:      models.SchedulingMethodGenetic,
		assignments: make([]models.OfferingAssignment, problem.Len()),
		fitness:     res.Fitness,
		generations: res.Generations,
		converged:   res.Converged,
		message:     message,
	}

	if res.Acceptable(optimizer.Config()) {
		p.outcome = "acceptable"
		if res.Converged {
			p.outcome = "converged"
		}
		for i := range p.assignments {
			a := problem.Assignment(i, res.Best.Gene(i))
			a.Status = models.OfferingStatusScheduled
			a.StatusMessage = stringPtr(message)
			p.assignments[i] = a
		}
		p.scheduled = problem.Len()
		return p, nil
	}

	p.outcome = "unacceptable"
	diagnostics := timetable.Diagnose(problem, res.Best)
	for i := range p.assignments {
		a := problem.Assignment(i, res.Best.Gene(i))
		a.Status = models.OfferingStatusError
		msg := message
		if diagnostics[i] != "" {
			msg = fmt.Sprintf("%s; %s", message, diagnostics[i])
		}
		a.StatusMessage = stringPtr(msg)
		p.assignments[i] = a
	}
	p.failed = problem.Len()
	p.message = fmt.Sprintf("%s is below the acceptable threshold %.0f", message, optimizer.Config().AcceptableFitness)
	return p, nil
}

func (s *SchedulingService) solveGreedy(ctx context.Context, problem *timetable.Problem, log *zap.Logger) (*plan, error) {
	res, err := timetable.NewGreedy(problem, log).Run(ctx)
	if err != nil {
		return nil, err
	}
	p := &plan{
		method:      models.SchedulingMethodGreedy,
		assignments: make([]models.OfferingAssignment, problem.Len()),
		scheduled:   res.Scheduled,
		failed:      res.Failed,
		fitness:     timetable.Penalty(timetable.Audit(problem, res.Placed.Genes())),
		converged:   res.Failed == 0,
		outcome:     "acceptable",
	}
	if res.Failed > 0 {
		p.outcome = "unacceptable"
	}
	for _, out := range res.Outcomes {
		if out.Placed {
			a := problem.Assignment(out.Index, out.Gene)
			a.Status = models.OfferingStatusScheduled
			p.assignments[out.Index] = a
			continue
		}
		p.assignments[out.Index] = models.OfferingAssignment{
			OfferingID:    out.OfferingID,
			Status:        models.OfferingStatusError,
			StatusMessage: stringPtr(out.Reason),
		}
	}
	p.message = fmt.Sprintf("Scheduled %d of %d offerings", res.Scheduled, problem.Len())
	return p, nil
}

// commit resets the term, writes every assignment and records the run in one transaction.
func (s *SchedulingService) commit(ctx context.Context, term *models.Term, runID string, p *plan, elapsed time.Duration) (err error) {
	started := s.now()
	defer func() { s.metrics.ObserveDBQuery("scheduling_commit", s.now().Sub(started)) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.offerings.ResetTerm(ctx, tx, term.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset offerings")
	}
	if err = s.offerings.SaveAssignments(ctx, tx, p.assignments); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save assignments")
	}

	meta, err := json.Marshal(map[string]interface{}{
		"generations": p.generations,
		"converged":   p.converged,
		"outcome":     p.outcome,
		"message":     p.message,
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode run metadata")
	}
	run := &models.SchedulingRun{
		ID:             runID,
		TermID:         term.ID,
		Method:         p.method,
		ScheduledCount: p.scheduled,
		FailedCount:    p.failed,
		BestFitness:    p.fitness,
		ElapsedMs:      elapsed.Milliseconds(),
		Meta:           types.JSONText(meta),
	}
	if err = s.runs.Create(ctx, tx, run); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record scheduling run")
	}

	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit scheduling run")
	}
	return nil
}

func (s *SchedulingService) saveStatus(ctx context.Context, status *dto.RunStatus) error {
	return s.cache.Set(ctx, RunStatusKey(status.ID), status, s.cfg.ResultTTL)
}

func (s *SchedulingService) finishStatus(ctx context.Context, status *dto.RunStatus, summary *dto.SchedulingSummary, err error) {
	finished := s.now().UTC()
	status.FinishedAt = &finished
	status.Summary = summary
	if err != nil {
		status.Status = models.SchedulingRunFailed
		status.Error = appErrors.FromError(err).Message
		s.logger.Warn("scheduling run failed", zap.String("run_id", status.ID), zap.Error(err))
	} else {
		status.Status = models.SchedulingRunSucceeded
		status.TermID = summary.TermID
	}
	if serr := s.saveStatus(ctx, status); serr != nil {
		s.logger.Error("failed to record final run status", zap.String("run_id", status.ID), zap.Error(serr))
	}
}

// termLocks serialises runs per term within this process.
type termLocks struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newTermLocks() *termLocks {
	return &termLocks{busy: make(map[string]struct{})}
}

func (l *termLocks) TryLock(termID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.busy[termID]; ok {
		return false
	}
	l.busy[termID] = struct{}{}
	return true
}

func (l *termLocks) Unlock(termID string) {
	l.mu.Lock()
	delete(l.busy, termID)
	l.mu.Unlock()
}

func stringPtr(v string) *string {
	return &v
}
