package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/joescharf/echotab/internal/messaging"
)

const (
	defaultRelayWait = 25 * time.Second
	maxRelayWait     = 55 * time.Second
)

func relayTabID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("tabId"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "tabId must be a non-negative integer")
		return 0, false
	}
	return id, true
}

// relayNext long-polls for the next message addressed to a content script.
// It answers 204 when nothing arrived within the wait.
func (s *Server) relayNext(w http.ResponseWriter, r *http.Request) {
	tabID, ok := relayTabID(w, r)
	if !ok {
		return
	}
	wait := defaultRelayWait
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "wait must be a duration such as 20s")
			return
		}
		wait = min(d, maxRelayWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	env, ok := s.relay.Next(ctx, tabID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) relayReply(w http.ResponseWriter, r *http.Request) {
	tabID, ok := relayTabID(w, r)
	if !ok {
		return
	}
	var rep messaging.Reply
	if err := decodeJSON(w, r, &rep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.relay.Deliver(tabID, r.PathValue("id"), rep); err != nil {
		if errors.Is(err, messaging.ErrUnknownReply) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) relayDetach(w http.ResponseWriter, r *http.Request) {
	tabID, ok := relayTabID(w, r)
	if !ok {
		return
	}
	s.relay.Detach(tabID)
	w.WriteHeader(http.StatusNoContent)
}
