package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/joescharf/echotab/internal/llm"
	"github.com/joescharf/echotab/internal/messaging"
	"github.com/joescharf/echotab/internal/metadata"
	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/snapshot"
	"github.com/joescharf/echotab/internal/store"
)

// DefaultAuthHeader carries the caller's user id.
const DefaultAuthHeader = "X-User-Id"

// TagSuggester proposes tags for tabs.
type TagSuggester interface {
	SuggestTags(ctx context.Context, tabs []*models.Tab, tags []*models.Tag) ([]llm.Suggestion, error)
}

// MetadataFetcher loads page metadata.
type MetadataFetcher interface {
	Fetch(ctx context.Context, url string) (*metadata.Metadata, error)
}

// Options configures a Server. Store is required; the rest are optional
// and the routes that need a missing piece answer 503.
type Options struct {
	Store      store.Store
	Snapshots  *snapshot.Service
	Metadata   MetadataFetcher
	Bus        *messaging.Bus
	Relay      *messaging.Relay
	Suggester  TagSuggester
	AuthHeader string
	// RatePerMinute and RateBurst bound the public view/import counters per client.
	RatePerMinute int
	RateBurst     int
	// TrustProxy identifies clients by X-Real-IP / X-Forwarded-For instead
	// of the connection address.
	TrustProxy bool
	Logger        *slog.Logger
}

// Server provides the REST API handlers.
type Server struct {
	store      store.Store
	snapshots  *snapshot.Service
	meta       MetadataFetcher
	bus        *messaging.Bus
	relay      *messaging.Relay
	suggester  TagSuggester
	authHeader string
	limiter    *ipRateLimiter
	log        *slog.Logger
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	if opts.AuthHeader == "" {
		opts.AuthHeader = DefaultAuthHeader
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = messaging.NewBus(opts.Logger)
	}
	if opts.Relay == nil {
		opts.Relay = messaging.NewRelay(opts.Bus, time.Minute)
	}
	s := &Server{
		store:      opts.Store,
		snapshots:  opts.Snapshots,
		meta:       opts.Metadata,
		bus:        opts.Bus,
		relay:      opts.Relay,
		suggester:  opts.Suggester,
		authHeader: opts.AuthHeader,
		limiter:    newIPRateLimiter(opts.RatePerMinute, opts.RateBurst, opts.TrustProxy),
		log:        opts.Logger,
	}
	s.registerBackground()
	return s
}

// AllowCount reports whether the client behind r may bump a view or import
// counter now. It draws on the same budget as the counter endpoints.
func (s *Server) AllowCount(r *http.Request) bool {
	return s.limiter.allow(s.limiter.clientIP(r))
}

// Bus returns the message bus the server bridges to.
func (s *Server) Bus() *messaging.Bus { return s.bus }

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/lists/{id}", s.getPublicList)
	mux.HandleFunc("POST /api/v1/lists/{id}/views", s.limiter.limit(s.recordView))
	mux.HandleFunc("POST /api/v1/lists/{id}/imports", s.limiter.limit(s.recordImport))

	mux.HandleFunc("GET /api/v1/user/lists", s.authed(s.listUserLists))
	mux.HandleFunc("POST /api/v1/user/lists", s.authed(s.createList))
	mux.HandleFunc("POST /api/v1/user/lists/unpublish", s.authed(s.unpublishAll))
	mux.HandleFunc("PUT /api/v1/user/lists/{id}", s.authed(s.updateList))
	mux.HandleFunc("DELETE /api/v1/user/lists/{id}", s.authed(s.deleteList))
	mux.HandleFunc("POST /api/v1/user/lists/{id}/links/move", s.authed(s.moveListLinks))

	mux.HandleFunc("GET /api/v1/tags", s.listTags)
	mux.HandleFunc("POST /api/v1/tags", s.createTag)
	mux.HandleFunc("POST /api/v1/tags/suggest", s.suggestTags)
	mux.HandleFunc("PUT /api/v1/tags/{id}", s.updateTag)
	mux.HandleFunc("DELETE /api/v1/tags/{id}", s.deleteTag)

	mux.HandleFunc("GET /api/v1/tabs", s.listTabs)
	mux.HandleFunc("POST /api/v1/tabs", s.saveTab)
	mux.HandleFunc("GET /api/v1/tabs/board", s.tagBoard)
	mux.HandleFunc("POST /api/v1/tabs/move", s.moveTabs)
	mux.HandleFunc("GET /api/v1/tabs/{id}", s.getTab)
	mux.HandleFunc("DELETE /api/v1/tabs/{id}", s.deleteTab)
	mux.HandleFunc("POST /api/v1/tabs/{id}/tags/{tagId}", s.tagTab)
	mux.HandleFunc("DELETE /api/v1/tabs/{id}/tags/{tagId}", s.untagTab)

	mux.HandleFunc("POST /api/v1/snapshots", s.captureSnapshot)
	mux.HandleFunc("GET /api/v1/snapshots", s.getSnapshot)
	mux.HandleFunc("PUT /api/v1/snapshots/{tabId}", s.uploadSnapshot)
	mux.HandleFunc("POST /api/v1/snapshots/{tabId}/commit", s.commitSnapshot)
	mux.HandleFunc("DELETE /api/v1/snapshots/{tabId}/temp", s.discardSnapshot)

	mux.HandleFunc("GET /api/v1/metadata", s.fetchMetadata)
	mux.HandleFunc("POST /api/v1/messages", s.sendMessage)

	mux.HandleFunc("GET /api/v1/relay/{tabId}/next", s.relayNext)
	mux.HandleFunc("POST /api/v1/relay/{tabId}/replies/{id}", s.relayReply)
	mux.HandleFunc("DELETE /api/v1/relay/{tabId}", s.relayDetach)
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return s.CORS(mux)
}

// CORS allows browser extensions and pages on other origins to call the API.
func (s *Server) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+s.authHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store sentinels to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrQuotaExceeded), errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

type userKey struct{}

// authed requires a UUID user id in the auth header.
func (s *Server) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(s.authHeader))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing "+s.authHeader+" header")
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed user id")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, id.String())
		h(w, r.WithContext(ctx))
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

// recordID validates a path id as a ULID.
func recordID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if _, err := ulid.ParseStrict(id); err != nil {
		writeError(w, http.StatusBadRequest, "malformed "+name)
		return "", false
	}
	return id, true
}
