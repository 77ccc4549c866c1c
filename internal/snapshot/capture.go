package snapshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joescharf/echotab/internal/messaging"
)

// Target identifies the page to capture.
type Target struct {
	TabID string `json:"tabId"`
	URL   string `json:"url"`
}

// Capturer produces a raw image of a rendered page.
type Capturer interface {
	Capture(ctx context.Context, target Target) ([]byte, error)
}

// CaptureRequest is the payload of a snapshot.capture message.
type CaptureRequest struct {
	URL string `json:"url"`
}

// CaptureResponse is what a content script answers to snapshot.capture.
// Image is a data URL or plain base64.
type CaptureResponse struct {
	Image string `json:"image"`
}

// ContentScriptCapturer asks the content script of the target tab to render
// the page.
type ContentScriptCapturer struct {
	bus *messaging.Bus
}

func NewContentScriptCapturer(bus *messaging.Bus) *ContentScriptCapturer {
	return &ContentScriptCapturer{bus: bus}
}

func (c *ContentScriptCapturer) Capture(ctx context.Context, target Target) ([]byte, error) {
	tabID, err := strconv.Atoi(target.TabID)
	if err != nil {
		return nil, fmt.Errorf("content script capture: tab id %q is not a browser tab", target.TabID)
	}

	resp, err := messaging.Request[CaptureResponse](ctx, c.bus, messaging.ContentScript(tabID),
		messaging.SnapshotCapture, CaptureRequest{URL: target.URL})
	if err != nil {
		return nil, fmt.Errorf("content script capture: %w", err)
	}
	return DecodeImage(resp.Image)
}

// DecodeImage decodes a base64 image, accepting a data: URL prefix.
func DecodeImage(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty image")
	}
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		_, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, errors.New("malformed data url")
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}
