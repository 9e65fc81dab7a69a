package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"polychat/internal/model"
)

// HTMLExporter renders a standalone, printable page. Message content is
// treated as markdown and sanitized before it is embedded.
type HTMLExporter struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	page   *template.Template
}

func NewHTMLExporter() *HTMLExporter {
	return &HTMLExporter{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
		page:   template.Must(template.New("chat").Parse(pageTemplate)),
	}
}

type htmlMessage struct {
	Role      string
	Label     string
	Model     string
	Timestamp string
	Body      template.HTML
}

type htmlPage struct {
	Title    string
	Created  string
	Model    string
	Provider string
	Messages []htmlMessage
}

func (e *HTMLExporter) Export(chat *model.FullChat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}

	page := htmlPage{
		Title:    chat.Title,
		Created:  chat.CreatedAt.UTC().Format(time.RFC1123),
		Model:    chat.Model,
		Provider: chat.Provider,
		Messages: make([]htmlMessage, 0, len(chat.Messages)),
	}
	for _, m := range chat.Messages {
		body, err := e.render(m.Content)
		if err != nil {
			return nil, fmt.Errorf("render message %s: %w", m.ID, err)
		}
		hm := htmlMessage{
			Role:      m.Role,
			Label:     roleLabel(m.Role),
			Timestamp: m.Timestamp.UTC().Format(textTimeLayout),
			Body:      body,
		}
		if m.Model != nil {
			hm.Model = *m.Model
		}
		page.Messages = append(page.Messages, hm)
	}

	var buf bytes.Buffer
	if err := e.page.Execute(&buf, page); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

// render converts markdown to HTML and strips anything unsafe. The result
// is the only content marked as trusted in the page template.
func (e *HTMLExporter) render(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return template.HTML(e.policy.SanitizeBytes(buf.Bytes())), nil
}

func (e *HTMLExporter) FileExtension() string { return ".html" }

func (e *HTMLExporter) MimeType() string { return "text/html; charset=utf-8" }

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; max-width: 820px; margin: 2rem auto; padding: 0 1rem; color: #1f2328; line-height: 1.55; }
header { border-bottom: 2px solid #d0d7de; margin-bottom: 1.5rem; padding-bottom: .75rem; }
header h1 { margin: 0 0 .25rem; font-size: 1.6rem; }
.meta { color: #656d76; font-size: .85rem; }
.message { border: 1px solid #d0d7de; border-radius: 8px; padding: .75rem 1rem; margin-bottom: 1rem; page-break-inside: avoid; }
.message.user { background: #f6f8fa; }
.message .who { font-weight: 600; margin-bottom: .35rem; }
.message .who small { font-weight: 400; color: #656d76; margin-left: .5rem; }
pre { background: #f6f8fa; padding: .75rem; border-radius: 6px; overflow-x: auto; }
code { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: .9em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #d0d7de; padding: .25rem .5rem; }
@media print {
  body { margin: 0; max-width: none; }
  .message { border-color: #999; }
  pre { white-space: pre-wrap; }
}
</style>
</head>
<body>
<header>
<h1>{{.Title}}</h1>
<div class="meta">Created {{.Created}}{{if .Model}} · {{.Model}}{{if .Provider}} ({{.Provider}}){{end}}{{end}}</div>
</header>
<main>
{{range .Messages}}<section class="message {{.Role}}">
<div class="who">{{.Label}}{{if .Model}}<small>{{.Model}}</small>{{end}}<small>{{.Timestamp}}</small></div>
<div class="content">{{.Body}}</div>
</section>
{{end}}</main>
</body>
</html>
`
