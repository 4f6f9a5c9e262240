package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var transcriptTemplate = template.Must(template.New("transcript").Funcs(template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04 UTC")
	},
	"paragraphs": func(s string) []string {
		parts := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	},
}).Parse(transcriptHTML))

type templateData struct {
	Lang   string
	Title  string
	Labels labels
	Transcript
}

type labels struct {
	Customer string
	Status   string
	Opened   string
	Internal string
}

func renderTranscriptHTML(data templateData) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const transcriptHTML = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Helvetica, Arial, sans-serif; line-height: 1.5; color: #1f2328; margin: 0; }
    h1 { font-size: 20px; border-bottom: 2px solid #1f2328; padding-bottom: 6px; }
    .meta { color: #57606a; font-size: 12px; margin-bottom: 18px; }
    .meta span { margin-right: 14px; }
    .entry { border-left: 3px solid #d0d7de; padding: 4px 12px; margin: 14px 0; page-break-inside: avoid; }
    .entry.internal { border-color: #bf8700; background: #fff8c5; }
    .entry header { font-size: 12px; color: #57606a; }
    .entry p { margin: 6px 0; white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>{{.Title}}: {{.Subject}}</h1>
  <div class="meta">
    {{if .OrgName}}<span>{{.OrgName}}</span>{{end}}
    <span>{{.Labels.Customer}}: {{.Customer}}</span>
    <span>{{.Labels.Status}}: {{.Status}}</span>
    <span>{{.Labels.Opened}}: {{formatTime .OpenedAt}}</span>
  </div>
  <section class="entry">
    <header>{{.Customer}} · {{formatTime .OpenedAt}}</header>
    {{range paragraphs .Body}}<p>{{.}}</p>{{end}}
  </section>
  {{range .Responses}}
  <section class="entry{{if .Internal}} internal{{end}}">
    <header>{{.Author}} · {{formatTime .CreatedAt}}{{if .Internal}} · {{$.Labels.Internal}}{{end}}</header>
    {{range paragraphs .Body}}<p>{{.}}</p>{{end}}
  </section>
  {{end}}
</body>
</html>`
