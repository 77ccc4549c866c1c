package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/echotab/internal/snapshot"
)

// maxUploadSize bounds extension-pushed snapshot images.
const maxUploadSize = 10 << 20

type captureRequest struct {
	TabID string `json:"tabId"`
	URL   string `json:"url"`
}

type uploadRequest struct {
	URL   string `json:"url"`
	Image string `json:"image"` // data URL or base64
}

func (s *Server) requireSnapshots(w http.ResponseWriter) bool {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots are not configured")
		return false
	}
	return true
}

func (s *Server) writeCaptureError(w http.ResponseWriter, err error) {
	if errors.Is(err, snapshot.ErrCaptureFailed) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeStoreError(w, err)
}

func (s *Server) captureSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireSnapshots(w) {
		return
	}
	var req captureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TabID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "tabId and url are required")
		return
	}

	snap, err := s.snapshots.Capture(r.Context(), snapshot.Target{TabID: req.TabID, URL: req.URL})
	if err != nil {
		s.writeCaptureError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// uploadSnapshot accepts either a raw image body (url in the query) or a
// JSON body carrying a base64 image.
func (s *Server) uploadSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireSnapshots(w) {
		return
	}
	tabID := r.PathValue("tabId")
	target := snapshot.Target{TabID: tabID, URL: r.URL.Query().Get("url")}

	var img []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "image/") {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		img = data
	} else {
		var req uploadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		data, err := snapshot.DecodeImage(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		img = data
		if req.URL != "" {
			target.URL = req.URL
		}
	}
	if target.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	snap, err := s.snapshots.Save(r.Context(), target, img)
	if err != nil {
		if strings.Contains(err.Error(), "decode image") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) commitSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireSnapshots(w) {
		return
	}
	snap, err := s.snapshots.Commit(r.Context(), r.PathValue("tabId"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) discardSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireSnapshots(w) {
		return
	}
	if err := s.snapshots.Discard(r.Context(), r.PathValue("tabId")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireSnapshots(w) {
		return
	}
	url := r.URL.Query().Get("url")
	tabID := r.URL.Query().Get("tabId")
	if url == "" && tabID == "" {
		writeError(w, http.StatusBadRequest, "url or tabId is required")
		return
	}
	snap, err := s.snapshots.Get(r.Context(), url, tabID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", snap.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.Image)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.Image)
}

func (s *Server) fetchMetadata(w http.ResponseWriter, r *http.Request) {
	if s.meta == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata fetching is not configured")
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	md, err := s.meta.Fetch(r.Context(), url)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, md)
}
