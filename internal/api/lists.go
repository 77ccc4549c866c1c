package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/reorder"
)

// --- Public lists ---

func (s *Server) getPublicList(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	list, err := s.store.GetList(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !list.Public {
		writeError(w, http.StatusNotFound, "list not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) recordView(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	n, err := s.store.IncrementListViews(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"viewCount": n})
}

func (s *Server) recordImport(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	n, err := s.store.IncrementListImports(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"importCount": n})
}

// --- User lists ---

type listRequest struct {
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	Public      *bool         `json:"public"`
	Links       []models.Link `json:"links"`
}

func (req *listRequest) description() string {
	if req.Description == nil {
		return ""
	}
	return *req.Description
}

func (req *listRequest) validate() error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	for _, l := range req.Links {
		if strings.TrimSpace(l.URL) == "" {
			return errors.New("every link needs a url")
		}
	}
	return nil
}

func (s *Server) listUserLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.store.ListUserLists(r.Context(), userID(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if lists == nil {
		lists = []*models.List{}
	}
	writeJSON(w, http.StatusOK, lists)
}

func (s *Server) createList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list := &models.List{
		UserID:      userID(r),
		Title:       strings.TrimSpace(req.Title),
		Description: req.description(),
		Public:      req.Public == nil || *req.Public,
		Links:       s.fillLinkTitles(r, req.Links),
	}
	if err := s.store.CreateList(r.Context(), list); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.log.Info("list created", "list_id", list.ID, "user_id", list.UserID, "links", len(list.Links))
	writeJSON(w, http.StatusCreated, list)
}

func (s *Server) updateList(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	existing, err := s.store.GetList(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if existing.UserID != userID(r) {
		writeError(w, http.StatusForbidden, "list "+id+" belongs to another user")
		return
	}

	var req listRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" {
		req.Title = existing.Title
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing.Title = strings.TrimSpace(req.Title)
	if req.Description != nil {
		existing.Description = *req.Description
	}
	if req.Public != nil {
		existing.Public = *req.Public
	}
	// Omitted links keep the current membership.
	existing.Links = nil
	if req.Links != nil {
		existing.Links = s.fillLinkTitles(r, req.Links)
	}

	if err := s.store.UpdateList(r.Context(), userID(r), existing); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteList(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteList(r.Context(), userID(r), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unpublishAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.UnpublishUserLists(r.Context(), userID(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.log.Info("lists unpublished", "user_id", userID(r), "count", n)
	writeJSON(w, http.StatusOK, map[string]int64{"unpublished": n})
}

type moveLinksRequest struct {
	Active []string `json:"active"`
	Over   string   `json:"over"`
}

func (s *Server) moveListLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	var req moveLinksRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	list, err := s.store.GetList(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if list.UserID != userID(r) {
		writeError(w, http.StatusForbidden, "list "+id+" belongs to another user")
		return
	}

	order, err := reorder.Reorder(list.LinkIDs(), req.Active, req.Over)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.ReorderListLinks(r.Context(), userID(r), id, order); err != nil {
		s.writeStoreError(w, err)
		return
	}

	list, err = s.store.GetList(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// fillLinkTitles looks up titles for links that have none. Lookups are best effort.
func (s *Server) fillLinkTitles(r *http.Request, links []models.Link) []models.Link {
	if s.meta == nil {
		return links
	}
	for i := range links {
		if links[i].Title != "" {
			continue
		}
		md, err := s.meta.Fetch(r.Context(), links[i].URL)
		if err != nil {
			s.log.Debug("link title lookup failed", "url", links[i].URL, "error", err)
			continue
		}
		links[i].Title = md.Title
		if links[i].Description == "" {
			links[i].Description = md.Description
		}
	}
	return links
}
