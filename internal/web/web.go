// Package web serves the public collection pages.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Lists is the store access the pages need.
type Lists interface {
	GetList(ctx context.Context, id string) (*models.List, error)
	IncrementListViews(ctx context.Context, id string) (int64, error)
}

// Pages renders public collections.
type Pages struct {
	lists   Lists
	baseURL string
	tmpl    *template.Template
	md      goldmark.Markdown
	policy  *bluemonday.Policy
	log     *slog.Logger

	allowView func(*http.Request) bool
}

type collectionView struct {
	List        *models.List
	Description template.HTML
	URL         string
}

// New parses the embedded templates.
func New(lists Lists, baseURL string, log *slog.Logger) (*Pages, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)

	return &Pages{
		lists:   lists,
		baseURL: strings.TrimRight(baseURL, "/"),
		tmpl:    tmpl,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		policy: policy,
		log:    log,
	}, nil
}

// LimitViews makes the page count a view only when allow returns true.
// The page is rendered either way.
func (p *Pages) LimitViews(allow func(*http.Request) bool) {
	p.allowView = allow
}

// CollectionURL returns the public page URL of a list.
func (p *Pages) CollectionURL(id string) string {
	return p.baseURL + "/c/" + id
}

// Register mounts the page routes on mux.
func (p *Pages) Register(mux *http.ServeMux) error {
	static, err := StaticHandler()
	if err != nil {
		return err
	}
	mux.Handle("GET /static/", http.StripPrefix("/static", static))
	mux.HandleFunc("GET /c/{id}", p.collection)
	return nil
}

// Markdown renders src to sanitised HTML.
func (p *Pages) Markdown(src string) (template.HTML, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(p.policy.SanitizeBytes(buf.Bytes())), nil
}

func (p *Pages) collection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	list, err := p.lists.GetList(r.Context(), id)
	if err != nil || !list.Public {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			p.log.Error("load collection", "list_id", id, "error", err)
		}
		p.render(w, http.StatusNotFound, "notfound.html", nil)
		return
	}

	if p.allowView == nil || p.allowView(r) {
		views, err := p.lists.IncrementListViews(r.Context(), id)
		if err != nil {
			p.log.Warn("record collection view", "list_id", id, "error", err)
		} else {
			list.ViewCount = views
		}
	} else {
		p.log.Debug("collection view not counted", "list_id", id)
	}

	desc, err := p.Markdown(list.Description)
	if err != nil {
		p.log.Warn("render collection description", "list_id", id, "error", err)
		desc = template.HTML(template.HTMLEscapeString(list.Description))
	}

	p.render(w, http.StatusOK, "collection.html", collectionView{
		List:        list,
		Description: desc,
		URL:         p.CollectionURL(id),
	})
}

func (p *Pages) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		p.log.Error("render page", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		p.log.Debug("write page", "template", name, "error", err)
	}
}

// StaticHandler serves the embedded assets. Directories are not listed.
func StaticHandler() (http.Handler, error) {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServerFS(sub)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		info, err := fs.Stat(sub, p)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	}), nil
}
