package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to built-in template if file not found
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// CountRow is one status/count line in a rendered table.
type CountRow struct {
	Status string
	Count  int
}

// MonthRow is one month/count line in the volume table.
type MonthRow struct {
	Month string
	Count int
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title              string
	Summary            string
	TicketRows         []CountRow
	ProjectRows        []CountRow
	MonthlyRows        []MonthRow
	AvgResolutionHours float64
	GeneratedAt        time.Time
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Summary}}<p>{{.Summary}}</p>{{end}}
  <h2>Tickets by Status</h2>
  <ul>{{range .TicketRows}}<li>{{.Status}}: {{.Count}}</li>{{end}}</ul>
  <h2>Projects by Status</h2>
  <ul>{{range .ProjectRows}}<li>{{.Status}}: {{.Count}}</li>{{end}}</ul>
  <h2>Monthly Ticket Volume</h2>
  <ul>{{range .MonthlyRows}}<li>{{.Month}}: {{.Count}}</li>{{end}}</ul>
  <p>Average resolution: {{printf "%.1f" .AvgResolutionHours}} hours</p>
</body>
</html>`
