package export

import (
	"fmt"
	"sort"
	"time"

	"experted/api/internal/report"
)

// Service renders reports into downloadable files.
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// Export renders a report (with optional generated summary) in the
// requested format.
func (s *Service) Export(r report.Report, summary string, format Format) (*Result, error) {
	title := "Helpdesk Report " + r.GeneratedAt.Format("2006-01-02")

	data := TemplateData{
		Title:              title,
		Summary:            summary,
		TicketRows:         sortedRows(r.TicketsByStatus),
		ProjectRows:        sortedRows(r.ProjectsByStatus),
		AvgResolutionHours: r.AvgResolutionHours,
		GeneratedAt:        r.GeneratedAt,
	}
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = time.Now()
	}
	for _, m := range r.MonthlyVolume {
		data.MonthlyRows = append(data.MonthlyRows, MonthRow{Month: m.Month, Count: m.Count})
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func sortedRows(counts map[string]int) []CountRow {
	rows := make([]CountRow, 0, len(counts))
	for status, count := range counts {
		rows = append(rows, CountRow{Status: status, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Status < rows[j].Status })
	return rows
}
