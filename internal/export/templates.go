package export

import (
	"bytes"
	"html/template"
	"time"
)

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title        string
	URL          string
	GeneratedAt  time.Time
	Status       string
	StatusCounts []StatusCount
	Comments     []TemplateComment
}

// StatusCount is one row of the per-status summary table
type StatusCount struct {
	Status string
	Count  int64
}

// TemplateComment holds comment data for the template
type TemplateComment struct {
	Author    string
	Body      string
	Status    string
	Flags     int64
	CreatedAt time.Time
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(reportTemplateHTML))

// RenderReportHTML renders the moderation report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
    th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
    th { background: #f5f5f5; }
    .comment { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .comment .who { color: #666; font-size: 0.85em; }
  </style>
</head>
<body>
  <h1>Moderation Report: {{.Title}}</h1>
  <div class="meta">{{.URL}} | {{.Status}} | generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}}</div>

  <h2>Comments by Status</h2>
  <table>
    <tr><th>Status</th><th>Count</th></tr>
    {{range .StatusCounts}}<tr><td>{{.Status}}</td><td>{{.Count}}</td></tr>{{end}}
  </table>

  {{if .Comments}}
  <h2>Comments</h2>
  {{range .Comments}}
  <div class="comment">
    <div class="who">{{.Author}} | {{.Status}} | {{.Flags}} flags | {{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</div>
    <div>{{.Body}}</div>
  </div>
  {{end}}
  {{end}}
</body>
</html>`
