// Package messaging is a typed request/response bus between extension
// contexts: the background worker, UI pages, and one content script per tab.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MessageType identifies a message and fixes its request/response shape.
type MessageType string

const (
	TabInfo         MessageType = "tab.info"
	TabClose        MessageType = "tab.close"
	SnapshotCapture MessageType = "snapshot.capture"
	SnapshotSave    MessageType = "snapshot.save"
	MetadataFetch   MessageType = "metadata.fetch"
	TabsRefresh     MessageType = "tabs.refresh"
)

// knownTypes is the closed set of message types the bus will route.
var knownTypes = map[MessageType]bool{
	TabInfo:         true,
	TabClose:        true,
	SnapshotCapture: true,
	SnapshotSave:    true,
	MetadataFetch:   true,
	TabsRefresh:     true,
}

// Known reports whether t is one of the routed message types.
func (t MessageType) Known() bool { return knownTypes[t] }

var (
	ErrTimeout        = errors.New("message timed out")
	ErrNoReceiver     = errors.New("no receiver for message")
	ErrUnknownMessage = errors.New("unknown message type")
)

// Endpoint names an extension context that can receive messages.
type Endpoint string

const (
	Background Endpoint = "background"
	Page       Endpoint = "page"

	contentScriptPrefix = "tab:"
)

// ContentScript returns the endpoint of the content script running in tabID.
func ContentScript(tabID int) Endpoint {
	return Endpoint(contentScriptPrefix + strconv.Itoa(tabID))
}

// TabID returns the tab id of a content-script endpoint.
func (e Endpoint) TabID() (int, bool) {
	s, ok := strings.CutPrefix(string(e), contentScriptPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(s)
	return id, err == nil
}

// Message is the envelope delivered to a handler.
type Message struct {
	Type    MessageType     `json:"type"`
	To      Endpoint        `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Handler answers one message. The returned value is JSON-encoded as the response.
type Handler func(ctx context.Context, msg Message) (any, error)

// SendOption configures a single Send or Broadcast.
type SendOption func(*sendOptions)

type sendOptions struct {
	timeout time.Duration
}

// WithTimeout fails the call with ErrTimeout if no response arrives within d.
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = d }
}

// Bus routes messages to registered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Endpoint]map[MessageType]Handler
	log      *slog.Logger
}

// NewBus creates an empty bus. A nil logger uses slog.Default.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		handlers: make(map[Endpoint]map[MessageType]Handler),
		log:      log,
	}
}

// Handle registers h for messages of type t sent to endpoint e, replacing
// any previous handler.
func (b *Bus) Handle(e Endpoint, t MessageType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[e] == nil {
		b.handlers[e] = make(map[MessageType]Handler)
	}
	b.handlers[e][t] = h
}

// Unregister removes every handler of endpoint e.
func (b *Bus) Unregister(e Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, e)
}

func (b *Bus) handler(e Endpoint, t MessageType) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[e][t]
	return h, ok
}

// contentScripts returns every content-script endpoint that handles t.
func (b *Bus) contentScripts(t MessageType) []Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Endpoint
	for e, hs := range b.handlers {
		if _, ok := e.TabID(); !ok {
			continue
		}
		if _, ok := hs[t]; ok {
			out = append(out, e)
		}
	}
	return out
}

type result struct {
	data json.RawMessage
	err  error
}

// Send delivers a message to endpoint to and waits for its response.
func (b *Bus) Send(ctx context.Context, to Endpoint, t MessageType, payload any, opts ...SendOption) (json.RawMessage, error) {
	if !t.Known() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, t)
	}

	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	h, ok := b.handler(to, t)
	if !ok {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoReceiver, t, to)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg := Message{Type: t, To: to, Payload: raw}

	// The handler's context ends as soon as nobody waits for its answer.
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so a handler finishing after a timeout never blocks.
	done := make(chan result, 1)
	go func() {
		done <- b.invoke(hctx, h, msg)
	}()

	var timer <-chan time.Time
	if o.timeout > 0 {
		tm := time.NewTimer(o.timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case r := <-done:
		return r.data, r.err
	case <-timer:
		b.log.Debug("message timed out", "type", t, "to", to, "timeout", o.timeout)
		return nil, fmt.Errorf("%w: %s to %s after %s", ErrTimeout, t, to, o.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, msg Message) (r result) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("message handler panicked", "type", msg.Type, "to", msg.To, "panic", p)
			r = result{err: fmt.Errorf("handler for %s panicked: %v", msg.Type, p)}
		}
	}()

	v, err := h(ctx, msg)
	if err != nil {
		return result{err: err}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return result{err: fmt.Errorf("encode %s response: %w", msg.Type, err)}
	}
	return result{data: data}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// Request sends a typed request and decodes the typed response.
func Request[Resp any](ctx context.Context, b *Bus, to Endpoint, t MessageType, req any, opts ...SendOption) (Resp, error) {
	var resp Resp
	raw, err := b.Send(ctx, to, t, req, opts...)
	if err != nil {
		return resp, err
	}
	if len(raw) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, fmt.Errorf("decode %s response: %w", t, err)
	}
	return resp, nil
}

// BroadcastResult is the outcome of a broadcast for one tab.
type BroadcastResult struct {
	TabID    int             `json:"tabId"`
	Response json.RawMessage `json:"response,omitempty"`
	Err      error           `json:"-"`
}

// Broadcast sends the message to every content script that handles t, in
// parallel. Results are ordered by tab id; one failure does not affect the others.
func (b *Bus) Broadcast(ctx context.Context, t MessageType, payload any, opts ...SendOption) ([]BroadcastResult, error) {
	if !t.Known() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, t)
	}

	endpoints := b.contentScripts(t)
	results := make([]BroadcastResult, len(endpoints))

	var wg sync.WaitGroup
	for i, e := range endpoints {
		tabID, _ := e.TabID()
		results[i].TabID = tabID
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i].Response, results[i].Err = b.Send(ctx, e, t, payload, opts...)
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].TabID < results[j].TabID })
	return results, nil
}
