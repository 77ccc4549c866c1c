package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/reorder"
	"github.com/joescharf/echotab/internal/store"
)

// --- Tags ---

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if tags == nil {
		tags = []*models.Tag{}
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var tag models.Tag
	if err := decodeJSON(w, r, &tag); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	tag.Name = strings.TrimSpace(tag.Name)
	if tag.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.store.CreateTag(r.Context(), &tag); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (s *Server) updateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	existing, err := s.store.GetTag(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	var patch struct {
		Name     *string `json:"name"`
		Color    *string `json:"color"`
		Favorite *bool   `json:"favorite"`
	}
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		existing.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Color != nil {
		existing.Color = *patch.Color
	}
	if patch.Favorite != nil {
		existing.Favorite = *patch.Favorite
	}

	if err := s.store.UpdateTag(r.Context(), existing); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteTag(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type suggestRequest struct {
	// TabIDs limits suggestions to these tabs; empty means every untagged tab.
	TabIDs []string `json:"tabIds"`
}

func (s *Server) suggestTags(w http.ResponseWriter, r *http.Request) {
	if s.suggester == nil {
		writeError(w, http.StatusServiceUnavailable, "tag suggestions need an anthropic api key")
		return
	}
	var req suggestRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	var tabs []*models.Tab
	if len(req.TabIDs) > 0 {
		for _, id := range req.TabIDs {
			tab, err := s.store.GetTab(r.Context(), id)
			if err != nil {
				s.writeStoreError(w, err)
				return
			}
			tabs = append(tabs, tab)
		}
	} else {
		all, err := s.store.ListTabs(r.Context(), store.TabListFilter{})
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		for _, t := range all {
			if len(t.TagIDs) == 0 {
				tabs = append(tabs, t)
			}
		}
	}

	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	suggestions, err := s.suggester.SuggestTags(r.Context(), tabs, tags)
	if err != nil {
		s.log.Error("suggest tags", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// --- Tabs ---

func (s *Server) listTabs(w http.ResponseWriter, r *http.Request) {
	filter := store.TabListFilter{
		TagID: r.URL.Query().Get("tag"),
		Query: r.URL.Query().Get("q"),
	}
	tabs, err := s.store.ListTabs(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if tabs == nil {
		tabs = []*models.Tab{}
	}
	writeJSON(w, http.StatusOK, tabs)
}

func (s *Server) saveTab(w http.ResponseWriter, r *http.Request) {
	var tab models.Tab
	if err := decodeJSON(w, r, &tab); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	tab.URL = strings.TrimSpace(tab.URL)
	if tab.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if (tab.Title == "" || tab.FavIconURL == "") && s.meta != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		md, err := s.meta.Fetch(ctx, tab.URL)
		cancel()
		if err != nil {
			s.log.Debug("tab metadata lookup failed", "url", tab.URL, "error", err)
		} else {
			if tab.Title == "" {
				tab.Title = md.Title
			}
			if tab.FavIconURL == "" {
				tab.FavIconURL = md.FavIcon
			}
		}
	}
	if err := s.store.SaveTab(r.Context(), &tab); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) getTab(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	tab, err := s.store.GetTab(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) deleteTab(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteTab(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) tagTab(w http.ResponseWriter, r *http.Request) {
	s.changeTabTag(w, r, s.store.TagTab)
}

func (s *Server) untagTab(w http.ResponseWriter, r *http.Request) {
	s.changeTabTag(w, r, s.store.UntagTab)
}

func (s *Server) changeTabTag(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, tabID, tagID string) error) {
	tabID, ok := recordID(w, r, "id")
	if !ok {
		return
	}
	tagID, ok := recordID(w, r, "tagId")
	if !ok {
		return
	}
	if err := apply(r.Context(), tabID, tagID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	tab, err := s.store.GetTab(r.Context(), tabID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tab)
}

// --- Tag board ---

func (s *Server) tagBoard(w http.ResponseWriter, r *http.Request) {
	cols, err := s.store.TagBoard(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

// moveTabs applies a drag on the tag board. Columns are tag ids plus the
// untagged column; a tab may sit in several columns, so the request names
// the column the drag started in.
func (s *Server) moveTabs(w http.ResponseWriter, r *http.Request) {
	var req reorder.MoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	cols, err := s.store.TagBoard(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	board := make(reorder.Board, len(cols))
	for i, c := range cols {
		board[i] = reorder.Container{ID: c.TagID, Items: c.TabIDs}
	}
	if req.ActiveContainer == "" {
		// Without a source column, locate the anchor's first column.
		for _, c := range board {
			if len(req.Active) > 0 && slices.Contains(c.Items, req.Active[0]) {
				req.ActiveContainer = c.ID
				break
			}
		}
	}

	moved, err := reorder.Move(board, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make([]store.TagColumn, len(moved))
	for i, c := range moved {
		out[i] = store.TagColumn{TagID: c.ID, TabIDs: c.Items}
	}
	if err := s.store.ApplyTagBoard(r.Context(), out); err != nil {
		s.writeStoreError(w, err)
		return
	}

	cols, err = s.store.TagBoard(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}
