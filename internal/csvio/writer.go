package csvio

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/noah-isme/timetable-api/internal/models"
)

// AssignmentRow is one line of a schedule result file.
type AssignmentRow struct {
	OfferingID  string `csv:"offering_id"`
	Code        string `csv:"code"`
	Status      string `csv:"status"`
	DayOfWeek   string `csv:"day_of_week"`
	StartPeriod string `csv:"start_period"`
	EndPeriod   string `csv:"end_period"`
	RoomID      string `csv:"room_id"`
	RoomName    string `csv:"room_name"`
	Message     string `csv:"message"`
}

// AssignmentRows joins assignments to their offerings and rooms, keeping offering order.
// Offerings without an assignment are reported as PLANNED.
func AssignmentRows(offerings []models.Offering, rooms []models.Room, assignments []models.OfferingAssignment) []AssignmentRow {
	byID := make(map[string]models.OfferingAssignment, len(assignments))
	for _, a := range assignments {
		byID[a.OfferingID] = a
	}
	roomNames := make(map[string]string, len(rooms))
	for _, r := range rooms {
		roomNames[r.ID] = r.Name
	}

	rows := make([]AssignmentRow, 0, len(offerings))
	for _, off := range offerings {
		row := AssignmentRow{OfferingID: off.ID, Code: off.Code, Status: string(models.OfferingStatusPlanned)}
		if a, ok := byID[off.ID]; ok {
			row.Status = string(a.Status)
			row.DayOfWeek = intString(a.DayOfWeek)
			row.StartPeriod = intString(a.StartPeriod)
			row.EndPeriod = intString(a.EndPeriod)
			if a.RoomID != nil {
				row.RoomID = *a.RoomID
				row.RoomName = roomNames[*a.RoomID]
			}
			if a.StatusMessage != nil {
				row.Message = *a.StatusMessage
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteAssignments writes rows with a header line.
func WriteAssignments(out io.Writer, rows []AssignmentRow, delim rune) error {
	w := csv.NewWriter(out)
	w.Comma = delim
	if err := gocsv.MarshalCSV(&rows, gocsv.NewSafeCSVWriter(w)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// WriteAssignmentsFile replaces path with the rendered rows.
func WriteAssignmentsFile(path string, rows []AssignmentRow, delim rune) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteAssignments(f, rows, delim); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
