package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{"list", "patient"}

// Renderer renders a page template inside the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template, len(pages))}
	for _, page := range pages {
		t, err := template.New("layout").ParseFS(templateFS,
			"templates/layout.html",
			"templates/form.html",
			"templates/"+page+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", page, err)
		}
		r.pages[page] = t
	}
	return r, nil
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return t.ExecuteTemplate(w, "layout", data)
}
