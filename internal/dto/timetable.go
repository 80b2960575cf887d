package dto

// ExportFormat selects the timetable export renderer.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// TimetableQuery addresses one term's committed timetable.
type TimetableQuery struct {
	TermID string       `form:"termId" validate:"required,uuid"`
	Format ExportFormat `form:"format" validate:"omitempty,oneof=csv pdf"`
}

// ExportFile is a rendered timetable.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// WorkloadEntry summarises one lecturer's scheduled teaching over a term.
// Periods are per-session periods times the number of teaching weeks.
type WorkloadEntry struct {
	LecturerID      string `json:"lecturerId"`
	LecturerName    string `json:"lecturerName"`
	Offerings       int    `json:"offerings"`
	TheoryPeriods   int    `json:"theoryPeriods"`
	PracticePeriods int    `json:"practicePeriods"`
	TotalPeriods    int    `json:"totalPeriods"`
}

// AuditViolation is one rule broken by the committed timetable.
type AuditViolation struct {
	OfferingID   string `json:"offeringId"`
	OfferingCode string `json:"offeringCode"`
	Rule         string `json:"rule"`
	Severity     string `json:"severity"`
	Penalty      float64 `json:"penalty"`
	Message      string `json:"message"`
	OtherID      string `json:"otherId,omitempty"`
}

// AuditReport lists violations found in a term's committed timetable.
type AuditReport struct {
	TermID         string           `json:"termId"`
	Scheduled      int              `json:"scheduled"`
	HardViolations int              `json:"hardViolations"`
	SoftViolations int              `json:"softViolations"`
	Violations     []AuditViolation `json:"violations"`
}
