package mailer

import (
	"errors"
	"fmt"
	"html/template"
	"strings"
)

// Renderer turns an article into the HTML payload for one send. It
// must be pure: same inputs, same output.
type Renderer interface {
	Render(title, body string, imageURL *string, staticLinks []string) (string, error)
}

var ErrInvalidContent = errors.New("rendered content failed validation")

const minPayloadLen = 120

// validatePayload is the last gate before a payload reaches real
// recipients. A broken template fails here instead of landing in
// inboxes; the failure is not retried.
func validatePayload(html, title string) error {
	if len(html) < minPayloadLen {
		return fmt.Errorf("%w: payload too short (%d bytes)", ErrInvalidContent, len(html))
	}
	lower := strings.ToLower(html)
	if !strings.Contains(lower, "<html") || !strings.Contains(lower, "</html>") {
		return fmt.Errorf("%w: missing document markers", ErrInvalidContent)
	}
	if title != "" && !strings.Contains(html, template.HTMLEscapeString(title)) {
		return fmt.Errorf("%w: title not present in payload", ErrInvalidContent)
	}
	return nil
}

// TemplateRenderer is the host application's default renderer. The
// engine treats it as an external collaborator; swapping templates
// never touches delivery logic.
type TemplateRenderer struct {
	tmpl *template.Template
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
<h1>{{.Title}}</h1>
{{if .ImageURL}}<img src="{{.ImageURL}}" alt="">{{end}}
<div>{{.Body}}</div>
{{if .StaticLinks}}<hr>
<ul>{{range .StaticLinks}}<li><a href="{{.}}">{{.}}</a></li>{{end}}</ul>
{{end}}
</body>
</html>`

func NewTemplateRenderer() (*TemplateRenderer, error) {
	t, err := template.New("email").Parse(defaultTemplate)
	if err != nil {
		return nil, err
	}
	return &TemplateRenderer{tmpl: t}, nil
}

func (r *TemplateRenderer) Render(title, body string, imageURL *string, staticLinks []string) (string, error) {
	var img string
	if imageURL != nil {
		img = *imageURL
	}
	var sb strings.Builder
	err := r.tmpl.Execute(&sb, struct {
		Title       string
		Body        string
		ImageURL    string
		StaticLinks []string
	}{title, body, img, staticLinks})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
