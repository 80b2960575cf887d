package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/timetable"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/jobs"
)

const (
	testTermID  = "7f1c2a4e-3b6d-4c8e-9a10-2b3c4d5e6f70"
	otherTermID = "0a9b8c7d-6e5f-4a3b-8c2d-1e0f9a8b7c6d"
)

type termStub struct {
	terms  map[string]*models.Term
	active *models.Term
	err    error
}

func (s termStub) FindByID(_ context.Context, id string) (*models.Term, error) {
	if s.err != nil {
		return nil, s.err
	}
	if term, ok := s.terms[id]; ok {
		return term, nil
	}
	return nil, sql.ErrNoRows
}

func (s termStub) FindActive(_ context.Context) (*models.Term, error) {
	if s.active == nil {
		return nil, sql.ErrNoRows
	}
	return s.active, nil
}

type offeringStoreStub struct {
	mu        sync.Mutex
	offerings []models.Offering
	saved     []models.OfferingAssignment
	reset     []string
	saveErr   error
}

func (s *offeringStoreStub) ListByTerm(_ context.Context, _ string) ([]models.Offering, error) {
	return s.offerings, nil
}

func (s *offeringStoreStub) ResetTerm(_ context.Context, exec sqlx.ExtContext, termID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset = append(s.reset, termID)
	return int64(len(s.offerings)), nil
}

func (s *offeringStoreStub) SaveAssignments(_ context.Context, exec sqlx.ExtContext, assignments []models.OfferingAssignment) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := exec.(*sqlx.Tx); !ok {
		return errors.New("assignments must be written inside a transaction")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, assignments...)
	return nil
}

type roomStub []models.Room

func (s roomStub) ListActive(_ context.Context) ([]models.Room, error) {
	return s, nil
}

type runStoreStub struct {
	created []models.SchedulingRun
	listed  []models.SchedulingRun
}

func (s *runStoreStub) Create(_ context.Context, _ sqlx.ExtContext, run *models.SchedulingRun) error {
	s.created = append(s.created, *run)
	return nil
}

func (s *runStoreStub) ListByTerm(_ context.Context, termID string, limit int) ([]models.SchedulingRun, error) {
	return s.listed, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type schedulingFixture struct {
	svc       *SchedulingService
	offerings *offeringStoreStub
	runs      *runStoreStub
	cache     *memoryCache
	mock      sqlmock.Sqlmock
	metrics   *MetricsService
}

func offering(id, code string, size int, classType models.ClassType) models.Offering {
	return models.Offering{
		ID:          id,
		Code:        code,
		TermID:      testTermID,
		Course:      models.Course{Code: code, Name: "Course " + code, Credits: 3, TheoryCredits: 3, PracticeCredits: 3},
		ClassType:   classType,
		PlannedSize: size,
		Status:      models.OfferingStatusPlanned,
	}
}

func testRooms() []models.Room {
	return []models.Room{
		{ID: "r-a101", Name: "A101", Capacity: 40, Type: models.RoomTypeTheory},
		{ID: "r-a102", Name: "A102", Capacity: 60, Type: models.RoomTypeTheory},
		{ID: "r-l1", Name: "LAB1", Capacity: 40, Type: models.RoomTypeLab},
	}
}

func newSchedulingFixture(t *testing.T, offerings []models.Offering) *schedulingFixture {
	t.Helper()
	term := &models.Term{ID: testTermID, Name: "2024-1", IsActive: true}
	cfg := timetable.DefaultConfig()
	cfg.PopulationSize = 30
	cfg.Generations = 60
	cfg.TournamentSize = 3
	cfg.Seed = 42
	cfg.Workers = 2

	tx, mock := newTxProviderMock(t)
	store := &offeringStoreStub{offerings: offerings}
	runs := &runStoreStub{}
	cacheRepo := newMemoryCache()
	metrics := NewMetricsService()
	cache := NewCacheService(cacheRepo, metrics, 0, nil, true)

	svc := NewSchedulingService(
		termStub{terms: map[string]*models.Term{testTermID: term}, active: term},
		store,
		roomStub(testRooms()),
		runs,
		tx,
		cache,
		metrics,
		nil,
		nil,
		SchedulingConfig{Optimizer: cfg},
	)
	return &schedulingFixture{svc: svc, offerings: store, runs: runs, cache: cacheRepo, mock: mock, metrics: metrics}
}

func expectCommit(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectCommit()
}

func assignmentByID(t *testing.T, saved []models.OfferingAssignment, id string) models.OfferingAssignment {
	t.Helper()
	for _, a := range saved {
		if a.OfferingID == id {
			return a
		}
	}
	t.Fatalf("no assignment saved for %s", id)
	return models.OfferingAssignment{}
}

func TestRunSchedulingGreedyCommitsEveryOffering(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{
		offering("o-1", "CS101", 35, models.ClassTypeTheory),
		offering("o-2", "CS102", 70, models.ClassTypeTheory),
	})
	expectCommit(fx.mock)

	summary, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodGreedy})
	require.NoError(t, err)
	assert.Equal(t, testTermID, summary.TermID)
	assert.Equal(t, "2024-1", summary.TermName)
	assert.Equal(t, 1, summary.ScheduledCount)
	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, "Scheduled 1 of 2 offerings", summary.Message)

	placed := assignmentByID(t, fx.offerings.saved, "o-1")
	assert.Equal(t, models.OfferingStatusScheduled, placed.Status)
	require.NotNil(t, placed.RoomID)
	assert.Equal(t, "r-a101", *placed.RoomID)
	assert.Equal(t, 2, *placed.DayOfWeek)
	assert.Equal(t, 1, *placed.StartPeriod)
	assert.Equal(t, 3, *placed.EndPeriod)

	failed := assignmentByID(t, fx.offerings.saved, "o-2")
	assert.Equal(t, models.OfferingStatusError, failed.Status)
	assert.Nil(t, failed.RoomID)
	assert.Equal(t, "No room has enough capacity (70)", *failed.StatusMessage)

	assert.Equal(t, []string{testTermID}, fx.offerings.reset)
	require.Len(t, fx.runs.created, 1)
	assert.Equal(t, summary.RunID, fx.runs.created[0].ID)
	assert.Equal(t, models.SchedulingMethodGreedy, fx.runs.created[0].Method)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestRunSchedulingGeneticAcceptableMarksScheduled(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{
		offering("o-1", "CS101", 30, models.ClassTypeTheory),
		offering("o-2", "CS102", 30, models.ClassTypeTheory),
		offering("o-3", "CS103", 30, models.ClassTypePractice),
	})
	expectCommit(fx.mock)

	seed := int64(7)
	summary, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{TermID: testTermID, Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingMethodGenetic, summary.Method)
	assert.True(t, summary.Converged)
	assert.Equal(t, 3, summary.ScheduledCount)
	assert.GreaterOrEqual(t, summary.BestFitness, -10.0)

	for _, a := range fx.offerings.saved {
		assert.Equal(t, models.OfferingStatusScheduled, a.Status)
		require.NotNil(t, a.StatusMessage)
		assert.True(t, strings.HasPrefix(*a.StatusMessage, "GA fitness: "))
	}
	lab := assignmentByID(t, fx.offerings.saved, "o-3")
	assert.Equal(t, "r-l1", *lab.RoomID)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestRunSchedulingGeneticUnacceptableMarksError(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{
		offering("o-1", "CS101", 30, models.ClassTypeTheory),
		offering("o-2", "CS900", 500, models.ClassTypeTheory),
	})
	expectCommit(fx.mock)

	summary, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodGenetic})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ScheduledCount)
	assert.Equal(t, 2, summary.FailedCount)
	assert.Less(t, summary.BestFitness, -100.0)

	big := assignmentByID(t, fx.offerings.saved, "o-2")
	assert.Equal(t, models.OfferingStatusError, big.Status)
	assert.Contains(t, *big.StatusMessage, "GA fitness: ")
	assert.Contains(t, *big.StatusMessage, "500 students are planned")
	small := assignmentByID(t, fx.offerings.saved, "o-1")
	assert.Equal(t, models.OfferingStatusError, small.Status)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestRunSchedulingHybridFallsBackToGreedy(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{
		offering("o-1", "CS101", 30, models.ClassTypeTheory),
		offering("o-2", "CS900", 500, models.ClassTypeTheory),
	})
	expectCommit(fx.mock)

	summary, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodHybrid})
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingMethodHybrid, summary.Method)
	assert.Equal(t, 1, summary.ScheduledCount)
	assert.Equal(t, 1, summary.FailedCount)
	assert.Positive(t, summary.Generations)
	assert.Equal(t, models.OfferingStatusScheduled, assignmentByID(t, fx.offerings.saved, "o-1").Status)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestRunSchedulingHybridKeepsGeneticPlanWhenBudgetExpires(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{
		offering("o-1", "CS101", 35, models.ClassTypeTheory),
		offering("o-2", "CS102", 70, models.ClassTypeTheory),
	})
	fx.svc.cfg.Optimizer.Generations = 100000000
	fx.svc.cfg.RunTimeout = 100 * time.Millisecond
	expectCommit(fx.mock)

	summary, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodHybrid})
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingMethodHybrid, summary.Method)
	assert.Equal(t, 0, summary.ScheduledCount)
	assert.Equal(t, 2, summary.FailedCount)
	assert.Positive(t, summary.Generations)
	assert.Len(t, fx.offerings.saved, 2)
	assert.True(t, strings.HasPrefix(*assignmentByID(t, fx.offerings.saved, "o-1").StatusMessage, "GA fitness: "))
	require.Len(t, fx.runs.created, 1)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestRunSchedulingFailsFast(t *testing.T) {
	t.Run("no active term", func(t *testing.T) {
		fx := newSchedulingFixture(t, nil)
		fx.svc.terms = termStub{}
		_, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{})
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
		assert.Equal(t, "no active term found", appErr.Message)
	})

	t.Run("unknown term", func(t *testing.T) {
		fx := newSchedulingFixture(t, nil)
		_, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{TermID: otherTermID})
		assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	})

	t.Run("no offerings", func(t *testing.T) {
		fx := newSchedulingFixture(t, nil)
		_, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{})
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
		assert.Equal(t, "no course offerings to schedule for term 2024-1", appErr.Message)
	})

	t.Run("invalid request", func(t *testing.T) {
		fx := newSchedulingFixture(t, nil)
		_, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{TermID: "nope", Method: "simulated"})
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	})

	t.Run("parent cycle", func(t *testing.T) {
		a := offering("o-1", "CS101", 30, models.ClassTypeTheory)
		b := offering("o-2", "CS102", 30, models.ClassTypePractice)
		a.ParentID = &b.ID
		b.ParentID = &a.ID
		fx := newSchedulingFixture(t, []models.Offering{a, b})
		_, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodGreedy})
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		assert.Empty(t, fx.offerings.saved)
	})
}

func TestRunSchedulingRejectsConcurrentRunOnSameTerm(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{offering("o-1", "CS101", 30, models.ClassTypeTheory)})
	require.True(t, fx.svc.locks.TryLock(testTermID))

	_, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodGreedy})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrRunInProgress.Code, appErr.Code)
	assert.Equal(t, 409, appErr.Status)

	fx.svc.locks.Unlock(testTermID)
	expectCommit(fx.mock)
	_, err = fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodGreedy})
	require.NoError(t, err)
}

func TestRunSchedulingRollsBackOnWriteFailure(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{offering("o-1", "CS101", 30, models.ClassTypeTheory)})
	fx.offerings.saveErr = errors.New("offering o-1 not found")
	fx.mock.ExpectBegin()
	fx.mock.ExpectRollback()

	_, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodGreedy})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.runs.created)
	assert.NoError(t, fx.mock.ExpectationsWereMet())

	// the term lock is released after a failed run
	assert.True(t, fx.svc.locks.TryLock(testTermID))
}

func TestRunSchedulingCancelledWritesNothing(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{offering("o-1", "CS101", 30, models.ClassTypeTheory)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.svc.RunScheduling(ctx, dto.RunSchedulingRequest{Method: models.SchedulingMethodGreedy})
	assert.Equal(t, appErrors.ErrRunCancelled.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.offerings.saved)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestRunSchedulingInvalidatesTermCache(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{offering("o-1", "CS101", 30, models.ClassTypeTheory)})
	require.NoError(t, fx.cache.Set(context.Background(), TimetableKey(testTermID, "workload"), []int{1}, 0))
	expectCommit(fx.mock)

	_, err := fx.svc.RunScheduling(context.Background(), dto.RunSchedulingRequest{Method: models.SchedulingMethodGreedy})
	require.NoError(t, err)
	assert.NotContains(t, fx.cache.items, TimetableKey(testTermID, "workload"))
	assert.Equal(t, uint64(1), fx.metrics.Snapshot().SchedulingRuns)
}

func TestSubmitRunAndHandleJob(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{offering("o-1", "CS101", 30, models.ClassTypeTheory)})
	queue := &queueStub{}
	fx.svc.AttachQueue(queue)

	req := dto.RunSchedulingRequest{TermID: testTermID, Method: models.SchedulingMethodGreedy, Async: true}
	status, err := fx.svc.SubmitRun(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingRunQueued, status.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, status.ID, queue.jobs[0].ID)
	assert.Equal(t, JobTypeSchedulingRun, queue.jobs[0].Type)

	queued, err := fx.svc.RunStatus(context.Background(), status.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingRunQueued, queued.Status)

	expectCommit(fx.mock)
	require.NoError(t, fx.svc.HandleJob(context.Background(), queue.jobs[0]))

	done, err := fx.svc.RunStatus(context.Background(), status.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingRunSucceeded, done.Status)
	require.NotNil(t, done.Summary)
	assert.Equal(t, status.ID, done.Summary.RunID)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)
	assert.Equal(t, status.ID, fx.runs.created[0].ID)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestHandleJobRecordsFailure(t *testing.T) {
	fx := newSchedulingFixture(t, nil)
	queue := &queueStub{}
	fx.svc.AttachQueue(queue)

	status, err := fx.svc.SubmitRun(context.Background(), dto.RunSchedulingRequest{TermID: testTermID})
	require.NoError(t, err)
	require.NoError(t, fx.svc.HandleJob(context.Background(), queue.jobs[0]))

	failed, err := fx.svc.RunStatus(context.Background(), status.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingRunFailed, failed.Status)
	assert.Equal(t, "no course offerings to schedule for term 2024-1", failed.Error)
}

func TestHandleJobLogsStatusWriteFailure(t *testing.T) {
	fx := newSchedulingFixture(t, []models.Offering{offering("o-1", "CS101", 30, models.ClassTypeTheory)})
	core, logs := observer.New(zap.WarnLevel)
	fx.svc.logger = zap.New(core)
	fx.cache.setErr = errors.New("redis: connection refused")
	expectCommit(fx.mock)

	job := jobs.Job{
		ID:      "run-1",
		Type:    JobTypeSchedulingRun,
		Payload: dto.RunSchedulingRequest{TermID: testTermID, Method: models.SchedulingMethodGreedy},
	}
	require.NoError(t, fx.svc.HandleJob(context.Background(), job))

	running := logs.FilterMessage("failed to record run status").All()
	require.Len(t, running, 1)
	assert.Equal(t, "run-1", running[0].ContextMap()["run_id"])
	assert.Equal(t, 1, logs.FilterMessage("failed to record final run status").Len())
	assert.Len(t, fx.offerings.saved, 1)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestSubmitRunRequiresQueueAndCache(t *testing.T) {
	fx := newSchedulingFixture(t, nil)
	_, err := fx.svc.SubmitRun(context.Background(), dto.RunSchedulingRequest{})
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	queue := &queueStub{err: errors.New("queue scheduling is full (4 jobs)")}
	fx.svc.AttachQueue(queue)
	_, err = fx.svc.SubmitRun(context.Background(), dto.RunSchedulingRequest{})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestRunStatusUnknown(t *testing.T) {
	fx := newSchedulingFixture(t, nil)
	_, err := fx.svc.RunStatus(context.Background(), "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestListRuns(t *testing.T) {
	fx := newSchedulingFixture(t, nil)
	fx.runs.listed = []models.SchedulingRun{{ID: "run-1", TermID: testTermID}}

	runs, err := fx.svc.ListRuns(context.Background(), dto.RunHistoryQuery{TermID: testTermID})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = fx.svc.ListRuns(context.Background(), dto.RunHistoryQuery{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTermLocksAreIndependentPerTerm(t *testing.T) {
	locks := newTermLocks()
	require.True(t, locks.TryLock(testTermID))
	assert.False(t, locks.TryLock(testTermID))
	assert.True(t, locks.TryLock(otherTermID))
	locks.Unlock(testTermID)
	assert.True(t, locks.TryLock(testTermID))
}

func TestPlanLeavesStorageUntouched(t *testing.T) {
	fx := newSchedulingFixture(t, nil)
	problem, err := timetable.NewProblem([]models.Offering{
		offering("o-1", "CS101", 35, models.ClassTypeTheory),
		offering("o-2", "CS102", 70, models.ClassTypeTheory),
	}, testRooms())
	require.NoError(t, err)

	assignments, summary, err := fx.svc.Plan(context.Background(), problem, models.SchedulingMethodGreedy, nil)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, models.OfferingStatusScheduled, assignments[0].Status)
	assert.Equal(t, models.OfferingStatusError, assignments[1].Status)
	assert.Equal(t, "Scheduled 1 of 2 offerings", summary.Message)
	assert.Empty(t, summary.RunID)

	assert.Empty(t, fx.offerings.saved)
	assert.Empty(t, fx.runs.created)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}
