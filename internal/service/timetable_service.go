package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/timetable"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/export"
)

// TeachingWeeks is the number of weeks a weekly session repeats in a term.
const TeachingWeeks = 15

var dayNames = map[int]string{
	2: "Monday",
	3: "Tuesday",
	4: "Wednesday",
	5: "Thursday",
	6: "Friday",
	7: "Saturday",
	8: "Sunday",
}

type offeringLister interface {
	ListByTerm(ctx context.Context, termID string) ([]models.Offering, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// TimetableService serves read-only views of a term's committed timetable.
type TimetableService struct {
	terms     termReader
	offerings offeringLister
	rooms     roomReader
	cache     *CacheService
	csv       datasetRenderer
	pdf       datasetRenderer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTimetableService constructs the service.
func NewTimetableService(terms termReader, offerings offeringLister, rooms roomReader, cache *CacheService, csv, pdf datasetRenderer, validate *validator.Validate, logger *zap.Logger) *TimetableService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{terms: terms, offerings: offerings, rooms: rooms, cache: cache, csv: csv, pdf: pdf, validator: validate, logger: logger}
}

// Export renders SCHEDULED offerings ordered by day, start and room.
func (s *TimetableService) Export(ctx context.Context, query dto.TimetableQuery) (*dto.ExportFile, error) {
	if query.Format == "" {
		query.Format = dto.ExportFormatCSV
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}

	var cached dto.ExportFile
	key := TimetableKey(query.TermID, "export:"+string(query.Format))
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	term, offerings, rooms, err := s.load(ctx, query.TermID)
	if err != nil {
		return nil, err
	}
	data := s.dataset(term, offerings, rooms)

	file := &dto.ExportFile{}
	base := fmt.Sprintf("timetable-%s", slug(term.Name))
	switch query.Format {
	case dto.ExportFormatPDF:
		file.Content, err = s.pdf.Render(data)
		file.Filename, file.ContentType = base+".pdf", "application/pdf"
	default:
		file.Content, err = s.csv.Render(data)
		file.Filename, file.ContentType = base+".csv", "text/csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable")
	}

	_ = s.cache.Set(ctx, key, file, 0)
	return file, nil
}

// Workload aggregates scheduled teaching per lecturer, heaviest first.
func (s *TimetableService) Workload(ctx context.Context, termID string) ([]dto.WorkloadEntry, error) {
	if err := s.validator.Var(termID, "required,uuid"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "termId must be a valid UUID")
	}

	var cached []dto.WorkloadEntry
	key := TimetableKey(termID, "workload")
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	if _, err := s.term(ctx, termID); err != nil {
		return nil, err
	}
	offerings, err := s.offerings.ListByTerm(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course offerings")
	}

	byLecturer := make(map[string]*dto.WorkloadEntry)
	for _, off := range offerings {
		if off.Status != models.OfferingStatusScheduled || off.LecturerID == nil {
			continue
		}
		entry, ok := byLecturer[*off.LecturerID]
		if !ok {
			entry = &dto.WorkloadEntry{LecturerID: *off.LecturerID}
			if off.LecturerName != nil {
				entry.LecturerName = *off.LecturerName
			}
			byLecturer[*off.LecturerID] = entry
		}
		entry.Offerings++
		periods := sessionPeriods(off) * TeachingWeeks
		if off.ClassType == models.ClassTypePractice {
			entry.PracticePeriods += periods
		} else {
			entry.TheoryPeriods += periods
		}
		entry.TotalPeriods += periods
	}

	result := make([]dto.WorkloadEntry, 0, len(byLecturer))
	for _, entry := range byLecturer {
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalPeriods != result[j].TotalPeriods {
			return result[i].TotalPeriods > result[j].TotalPeriods
		}
		return result[i].LecturerName < result[j].LecturerName
	})

	_ = s.cache.Set(ctx, key, result, 0)
	return result, nil
}

// Audit re-checks the committed SCHEDULED placements of a term against every rule.
func (s *TimetableService) Audit(ctx context.Context, termID string) (*dto.AuditReport, error) {
	if err := s.validator.Var(termID, "required,uuid"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "termId must be a valid UUID")
	}

	var cached dto.AuditReport
	key := TimetableKey(termID, "audit")
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	_, offerings, rooms, err := s.load(ctx, termID)
	if err != nil {
		return nil, err
	}
	report := &dto.AuditReport{TermID: termID, Violations: []dto.AuditViolation{}}
	if len(offerings) == 0 || len(rooms) == 0 {
		return report, nil
	}
	problem, err := timetable.NewProblem(offerings, rooms)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	genes := problem.CommittedGenes()
	for i := range genes {
		if problem.Offering(i).Status != models.OfferingStatusScheduled {
			delete(genes, i)
		}
	}
	report.Scheduled = len(genes)
	for _, v := range timetable.Audit(problem, genes) {
		if v.Severity == timetable.SeverityHard {
			report.HardViolations++
		} else {
			report.SoftViolations++
		}
		report.Violations = append(report.Violations, dto.AuditViolation{
			OfferingID:   v.OfferingID,
			OfferingCode: v.OfferingCode,
			Rule:         v.Rule,
			Severity:     string(v.Severity),
			Penalty:      v.Penalty,
			Message:      v.Message,
			OtherID:      v.OtherID,
		})
	}
	if report.HardViolations > 0 {
		s.logger.Warn("committed timetable has hard violations", zap.String("term_id", termID), zap.Int("count", report.HardViolations))
	}

	_ = s.cache.Set(ctx, key, report, 0)
	return report, nil
}

func (s *TimetableService) term(ctx context.Context, termID string) (*models.Term, error) {
	term, err := s.terms.FindByID(ctx, termID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

func (s *TimetableService) load(ctx context.Context, termID string) (*models.Term, []models.Offering, []models.Room, error) {
	term, err := s.term(ctx, termID)
	if err != nil {
		return nil, nil, nil, err
	}
	offerings, err := s.offerings.ListByTerm(ctx, termID)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course offerings")
	}
	rooms, err := s.rooms.ListActive(ctx)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
	}
	return term, offerings, rooms, nil
}

func (s *TimetableService) dataset(term *models.Term, offerings []models.Offering, rooms []models.Room) export.Dataset {
	roomNames := make(map[string]string, len(rooms))
	for _, r := range rooms {
		roomNames[r.ID] = r.Name
	}
	roomName := func(off models.Offering) string {
		if name, ok := roomNames[*off.RoomID]; ok {
			return name
		}
		return *off.RoomID
	}

	scheduled := make([]models.Offering, 0, len(offerings))
	for _, off := range offerings {
		if off.Status == models.OfferingStatusScheduled && off.DayOfWeek != nil && off.StartPeriod != nil && off.RoomID != nil {
			scheduled = append(scheduled, off)
		}
	}
	sort.SliceStable(scheduled, func(i, j int) bool {
		a, b := scheduled[i], scheduled[j]
		if *a.DayOfWeek != *b.DayOfWeek {
			return *a.DayOfWeek < *b.DayOfWeek
		}
		if *a.StartPeriod != *b.StartPeriod {
			return *a.StartPeriod < *b.StartPeriod
		}
		if ra, rb := roomName(a), roomName(b); ra != rb {
			return ra < rb
		}
		return a.Code < b.Code
	})

	data := export.Dataset{
		Title:   fmt.Sprintf("Timetable %s", term.Name),
		Headers: []string{"Day", "Periods", "Code", "Course", "Type", "Lecturer", "Room", "Classes", "Size"},
		Widths:  []float64{1.2, 0.8, 1.2, 3, 1, 2, 1, 2, 0.6},
		Rows:    make([][]string, 0, len(scheduled)),
	}
	for _, off := range scheduled {
		end := *off.StartPeriod
		if off.EndPeriod != nil {
			end = *off.EndPeriod
		}
		lecturer := ""
		if off.LecturerName != nil {
			lecturer = *off.LecturerName
		}
		data.Rows = append(data.Rows, []string{
			dayNames[*off.DayOfWeek],
			fmt.Sprintf("%d-%d", *off.StartPeriod, end),
			off.Code,
			off.Course.Name,
			string(off.ClassType),
			lecturer,
			roomName(off),
			strings.Join(off.TargetClassList(), ", "),
			strconv.Itoa(off.PlannedSize),
		})
	}
	return data
}

func sessionPeriods(off models.Offering) int {
	if off.StartPeriod != nil && off.EndPeriod != nil {
		return *off.EndPeriod - *off.StartPeriod + 1
	}
	return timetable.Duration(off)
}

func slug(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return "term"
	}
	return strings.Join(fields, "-")
}
