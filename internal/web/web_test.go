package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/store"
)

type fakeLists struct {
	lists map[string]*models.List
	views map[string]int64
}

func (f *fakeLists) GetList(ctx context.Context, id string) (*models.List, error) {
	l, ok := f.lists[id]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", id, store.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLists) IncrementListViews(ctx context.Context, id string) (int64, error) {
	f.views[id]++
	return f.views[id], nil
}

func newTestPages(t *testing.T) (*http.ServeMux, *fakeLists) {
	t.Helper()
	lists := &fakeLists{
		lists: map[string]*models.List{
			"pub": {
				ID: "pub", Title: "Reading <list>", Public: true,
				Description: "Some **bold** picks <script>alert(1)</script>",
				Links: []models.Link{
					{ID: "l1", URL: "https://go.dev", Title: "Go"},
					{ID: "l2", URL: "https://example.com"},
				},
				UpdatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			},
			"priv": {ID: "priv", Title: "Secret", Public: false},
		},
		views: map[string]int64{},
	}
	pages, err := New(lists, "http://localhost:8080/", nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	require.NoError(t, pages.Register(mux))
	return mux, lists
}

func get(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestCollection_Public(t *testing.T) {
	mux, lists := newTestPages(t)

	w := get(mux, "/c/pub")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Reading &lt;list&gt;")
	assert.Contains(t, body, "<strong>bold</strong>")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, `href="https://go.dev"`)
	assert.Contains(t, body, "https://example.com</a>")
	assert.Contains(t, body, "1 views")
	assert.Contains(t, body, "http://localhost:8080/c/pub")
	assert.Equal(t, int64(1), lists.views["pub"])
}

func TestCollection_PrivateAndMissingAre404(t *testing.T) {
	mux, lists := newTestPages(t)

	for _, id := range []string{"priv", "nope"} {
		w := get(mux, "/c/"+id)
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.Contains(t, w.Body.String(), "Collection not found")
	}
	assert.Empty(t, lists.views)
}

func TestStatic(t *testing.T) {
	mux, _ := newTestPages(t)

	w := get(mux, "/static/style.css")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ".collection")

	assert.Equal(t, http.StatusNotFound, get(mux, "/static/").Code)
	assert.Equal(t, http.StatusNotFound, get(mux, "/static/missing.js").Code)
}

func TestMarkdown_Empty(t *testing.T) {
	pages, err := New(&fakeLists{}, "", nil)
	require.NoError(t, err)
	out, err := pages.Markdown("   ")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCollection_ViewOverBudgetStillRenders(t *testing.T) {
	lists := &fakeLists{
		lists: map[string]*models.List{"pub": {ID: "pub", Title: "Popular", Public: true}},
		views: map[string]int64{},
	}
	pages, err := New(lists, "http://localhost:8080", nil)
	require.NoError(t, err)
	budget := 2
	pages.LimitViews(func(r *http.Request) bool {
		budget--
		return budget >= 0
	})
	mux := http.NewServeMux()
	require.NoError(t, pages.Register(mux))

	for range 5 {
		w := get(mux, "/c/pub")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Popular")
	}
	assert.Equal(t, int64(2), lists.views["pub"])
}

type brokenWriter struct{ *httptest.ResponseRecorder }

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestCollection_WriteErrorIsLogged(t *testing.T) {
	lists := &fakeLists{
		lists: map[string]*models.List{"pub": {ID: "pub", Title: "Popular", Public: true}},
		views: map[string]int64{},
	}
	var logs bytes.Buffer
	pages, err := New(lists, "http://localhost:8080", slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	require.NoError(t, err)
	mux := http.NewServeMux()
	require.NoError(t, pages.Register(mux))

	w := brokenWriter{httptest.NewRecorder()}
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/c/pub", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, logs.String(), "write page")
	assert.Contains(t, logs.String(), "connection reset")
}
