package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joescharf/echotab/internal/messaging"
	"github.com/joescharf/echotab/internal/snapshot"
	"github.com/joescharf/echotab/internal/store"
)

// maxMessageTimeout caps timeoutMs on bridged messages.
const maxMessageTimeout = 60 * time.Second

type messageRequest struct {
	Type      messaging.MessageType `json:"type"`
	Payload   json.RawMessage       `json:"payload"`
	TimeoutMs int                   `json:"timeoutMs"`
}

// sendMessage bridges an HTTP request onto the bus as a message to the
// background endpoint.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, "timeoutMs must not be negative")
		return
	}

	var opts []messaging.SendOption
	if req.TimeoutMs > 0 {
		opts = append(opts, messaging.WithTimeout(min(time.Duration(req.TimeoutMs)*time.Millisecond, maxMessageTimeout)))
	}

	resp, err := s.bus.Send(r.Context(), messaging.Background, req.Type, req.Payload, opts...)
	if err != nil {
		s.writeMessageError(w, err)
		return
	}
	if len(resp) == 0 {
		resp = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"response": resp})
}

func (s *Server) writeMessageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrUnknownMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, messaging.ErrNoReceiver):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, messaging.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, snapshot.ErrCaptureFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, errBadPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeStoreError(w, err)
	}
}

var errBadPayload = errors.New("bad message payload")

func decodePayload(msg messaging.Message, v any) error {
	if err := msg.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadPayload, err)
	}
	return nil
}

type tabRef struct {
	ID string `json:"id"`
}

type snapshotPayload struct {
	TabID string `json:"tabId"`
	URL   string `json:"url"`
	Image string `json:"image,omitempty"`
}

type urlPayload struct {
	URL string `json:"url"`
}

// registerBackground installs the background endpoint's handlers.
func (s *Server) registerBackground() {
	s.bus.Handle(messaging.Background, messaging.TabInfo, func(ctx context.Context, msg messaging.Message) (any, error) {
		var ref tabRef
		if err := decodePayload(msg, &ref); err != nil {
			return nil, err
		}
		if ref.ID == "" {
			return nil, fmt.Errorf("%w: id is required", errBadPayload)
		}
		return s.store.GetTab(ctx, ref.ID)
	})

	s.bus.Handle(messaging.Background, messaging.TabClose, func(ctx context.Context, msg messaging.Message) (any, error) {
		var ref tabRef
		if err := decodePayload(msg, &ref); err != nil {
			return nil, err
		}
		if err := s.store.DeleteTab(ctx, ref.ID); err != nil {
			return nil, err
		}
		return map[string]bool{"closed": true}, nil
	})

	s.bus.Handle(messaging.Background, messaging.TabsRefresh, func(ctx context.Context, msg messaging.Message) (any, error) {
		tabs, err := s.store.ListTabs(ctx, store.TabListFilter{})
		if err != nil {
			return nil, err
		}
		results, err := s.bus.Broadcast(ctx, messaging.TabsRefresh, map[string]int{"tabs": len(tabs)},
			messaging.WithTimeout(5*time.Second))
		if err != nil {
			return nil, err
		}
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
			}
		}
		return map[string]int{"notified": len(results) - failed, "failed": failed}, nil
	})

	s.bus.Handle(messaging.Background, messaging.SnapshotCapture, func(ctx context.Context, msg messaging.Message) (any, error) {
		if s.snapshots == nil {
			return nil, errors.New("snapshots are not configured")
		}
		var p snapshotPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return s.snapshots.Capture(ctx, snapshot.Target{TabID: p.TabID, URL: p.URL})
	})

	s.bus.Handle(messaging.Background, messaging.SnapshotSave, func(ctx context.Context, msg messaging.Message) (any, error) {
		if s.snapshots == nil {
			return nil, errors.New("snapshots are not configured")
		}
		var p snapshotPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		img, err := snapshot.DecodeImage(p.Image)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errBadPayload, err)
		}
		return s.snapshots.Save(ctx, snapshot.Target{TabID: p.TabID, URL: p.URL}, img)
	})

	s.bus.Handle(messaging.Background, messaging.MetadataFetch, func(ctx context.Context, msg messaging.Message) (any, error) {
		if s.meta == nil {
			return nil, errors.New("metadata fetching is not configured")
		}
		var p urlPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return s.meta.Fetch(ctx, p.URL)
	})
}
