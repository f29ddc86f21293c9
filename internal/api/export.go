package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"liguns/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSheet     = "Schedules"
	exportTimeFmt   = "02.01.2006 15:04"
)

var exportHeaders = []string{
	"ID", "Post", "Account", "Scheduled", "Status", "Retries", "Platform Post ID", "Published", "Error",
}

// statusFill colors the Status cell per schedule state.
var statusFill = map[string]string{
	models.StatusQueued:    "#FFF2CC",
	models.StatusPublished: "#E2EFDA",
	models.StatusFailed:    "#F8CBAD",
	models.StatusCancelled: "#EDEDED",
}

// WriteScheduleWorkbook renders entries as an xlsx workbook. Times are shown
// in loc.
func WriteScheduleWorkbook(w io.Writer, entries []*models.ScheduleEntry, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
		_ = f.SetCellStyle(exportSheet, cell, cell, headerStyle)
	}

	styles := make(map[string]int, len(statusFill))
	for status, color := range statusFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err == nil {
			styles[status] = id
		}
	}

	for i, e := range entries {
		row := i + 2
		published := ""
		if e.PublishedAt != nil {
			published = e.PublishedAt.In(loc).Format(exportTimeFmt)
		}
		values := []any{
			e.ID,
			e.PostID,
			e.AccountID,
			e.ScheduledAt.In(loc).Format(exportTimeFmt),
			e.Status,
			e.RetryCount,
			e.PlatformPostID,
			published,
			e.ErrorLog,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}
		if id, ok := styles[e.Status]; ok {
			cell, _ := excelize.CoordinatesToCellName(5, row)
			_ = f.SetCellStyle(exportSheet, cell, cell, id)
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "C", 38)
	_ = f.SetColWidth(exportSheet, "D", "D", 18)
	_ = f.SetColWidth(exportSheet, "E", "F", 12)
	_ = f.SetColWidth(exportSheet, "G", "H", 22)
	_ = f.SetColWidth(exportSheet, "I", "I", 60)
	_ = f.SetPanes(exportSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Scheduling.List(r.Context(), s.scheduleFilter(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	name := fmt.Sprintf("schedules_%s.xlsx", time.Now().In(s.deps.Location).Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := WriteScheduleWorkbook(w, entries, s.deps.Location); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("schedule export failed")
	}
}
