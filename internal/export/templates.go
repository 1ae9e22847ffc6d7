package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var packetTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	packetTemplate = template.Must(template.New("packet").Funcs(funcMap).Parse(packetTemplateHTML))
}

// RenderPacketHTML renders the disclosure packet template.
func RenderPacketHTML(packet Packet) (string, error) {
	var buf bytes.Buffer
	if err := packetTemplate.Execute(&buf, packet); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const packetTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.FormName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #1a7f4b; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; color: #1a7f4b; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .question { margin: 1rem 0; padding: 0.75rem 1rem; background: #f7f7f5; border-left: 3px solid #1a7f4b; page-break-inside: avoid; }
    .prompt { font-weight: bold; }
    .required { color: #a33; font-size: 0.8em; margin-left: 0.5rem; }
    .answer { margin-top: 0.25rem; }
    .unanswered { color: #999; font-style: italic; }
    .explanation { margin-top: 0.25rem; font-size: 0.9em; color: #555; }
    .completion { margin-top: 2rem; font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.FormName}}</h1>
  <div class="meta">
    {{if .Region}}{{.Region}} | {{end}}Version {{.Version}} | {{.SellerName}}
    {{if .Address}}| {{.Address}}{{end}}
    | Generated {{formatDate .GeneratedAt "Jan 2, 2006"}}
  </div>
  {{range .Sections}}
  <h2>{{.Label}}</h2>
  {{range .Questions}}
  <div class="question">
    <div class="prompt">{{.Prompt}}{{if .Required}}<span class="required">required</span>{{end}}</div>
    {{if .Value}}
    <div class="answer">{{.Value}}</div>
    {{if .Explanation}}<div class="explanation">{{.Explanation}}</div>{{end}}
    {{else}}
    <div class="answer unanswered">No answer recorded</div>
    {{end}}
  </div>
  {{end}}
  {{end}}
  <div class="completion">Completion: {{.Completion}}%</div>
</body>
</html>`
