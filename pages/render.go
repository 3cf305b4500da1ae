package pages

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/pitabwire/util"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed assets
var assetFiles embed.FS

// Assets serves the embedded stylesheet and icons.
func Assets() http.Handler {
	sub, err := fs.Sub(assetFiles, "assets")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

type templates struct {
	pages map[string]*template.Template
}

func parseTemplates() (*templates, error) {
	entries, err := fs.Glob(templateFiles, "templates/*.html")
	if err != nil {
		return nil, err
	}

	t := &templates{pages: map[string]*template.Template{}}
	for _, entry := range entries {
		name := strings.TrimSuffix(path.Base(entry), ".html")
		if name == "layout" {
			continue
		}
		page, parseErr := template.ParseFS(templateFiles, "templates/layout.html", entry)
		if parseErr != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, parseErr)
		}
		t.pages[name] = page
	}
	return t, nil
}

// page is the data every template receives.
type page struct {
	Shell *Shell
	Title string
	Data  any
	Error string
	Form  map[string]string
}

// render writes the named page framed by the layout. A zero status leaves
// the status line to whoever already wrote it.
func (s *Site) render(w http.ResponseWriter, r *http.Request, status int, name string, data page) {
	ctx := r.Context()
	if data.Shell == nil {
		data.Shell = s.shell(r)
	}

	tpl, ok := s.templates.pages[name]
	if !ok {
		util.Log(ctx).WithField("template", name).Error("unknown template")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		util.Log(ctx).WithError(err).WithField("template", name).Error("could not render page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != 0 {
		w.WriteHeader(status)
	}
	_, _ = buf.WriteTo(w)
}
