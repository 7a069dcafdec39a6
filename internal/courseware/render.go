package courseware

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer executes the page templates, each combined with base.html.
type Renderer struct {
	templates map[string]*template.Template
	policy    *bluemonday.Policy
}

// NewRenderer parses base.html together with every other embedded page.
func NewRenderer() (*Renderer, error) {
	pages, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	r := &Renderer{
		templates: make(map[string]*template.Template, len(pages)),
		policy:    bluemonday.UGCPolicy(),
	}
	for _, page := range pages {
		name := path.Base(page)
		if name == "base.html" {
			continue
		}
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", page)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// pageData is the single view model all templates read from.
type pageData struct {
	Title  string
	App    string
	User   *User
	Flash  string
	Errors []string

	Form        any
	BaseCourses []string

	Course         *Course
	RefreshSeconds int

	Page     BookPage
	Sections []renderedSection

	StatusText string
	Message    string
}

// Render writes the named page with status. Output is buffered so a failed
// execution never leaves a half-written page.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data *pageData) error {
	tmpl, ok := r.templates[name]
	if !ok {
		return fmt.Errorf("template %q not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return fmt.Errorf("execute template %q: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// Markdown converts book prose to sanitized HTML.
func (r *Renderer) Markdown(s string) template.HTML {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock)
	doc := p.Parse([]byte(s))
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return template.HTML(r.policy.SanitizeBytes(markdown.Render(doc, renderer)))
}
