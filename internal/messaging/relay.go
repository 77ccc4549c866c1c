package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownReply is returned when a reply matches no pending message.
var ErrUnknownReply = errors.New("no pending message with that id")

// Envelope is a message handed to a polling content script.
type Envelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply is a content script's answer to an Envelope.
type Reply struct {
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type pending struct {
	env   Envelope
	reply chan Reply
}

type relayTab struct {
	queue    chan *pending
	waiting  map[string]*pending
	lastSeen time.Time
}

// Relay lets content scripts that live outside the process receive bus
// messages by polling. A tab is attached on its first poll; messages sent
// to it are queued until the next poll and answered through Deliver.
type Relay struct {
	bus        *Bus
	types      []MessageType
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.Mutex
	tabs   map[int]*relayTab
	nextID atomic.Uint64
}

// NewRelay creates a relay forwarding the given message types to attached
// tabs. Tabs that have not polled for staleAfter stop receiving messages.
func NewRelay(bus *Bus, staleAfter time.Duration, types ...MessageType) *Relay {
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	if len(types) == 0 {
		types = []MessageType{SnapshotCapture, TabsRefresh}
	}
	return &Relay{
		bus:        bus,
		types:      types,
		staleAfter: staleAfter,
		now:        time.Now,
		tabs:       make(map[int]*relayTab),
	}
}

// attach registers tabID on the bus if needed and marks it as seen.
func (r *Relay) attach(tabID int) *relayTab {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[tabID]
	if !ok {
		tab = &relayTab{
			queue:   make(chan *pending, 16),
			waiting: make(map[string]*pending),
		}
		r.tabs[tabID] = tab
		for _, t := range r.types {
			r.bus.Handle(ContentScript(tabID), t, r.forward(tabID))
		}
		r.bus.log.Debug("relay tab attached", "tab_id", tabID)
	}
	tab.lastSeen = r.now()
	return tab
}

// Detach unregisters tabID. Messages still waiting for it fail.
func (r *Relay) Detach(tabID int) {
	r.mu.Lock()
	tab, ok := r.tabs[tabID]
	delete(r.tabs, tabID)
	if ok {
		for id, p := range tab.waiting {
			delete(tab.waiting, id)
			p.reply <- Reply{Error: fmt.Sprintf("tab %d detached", tabID)}
		}
	}
	r.mu.Unlock()
	if ok {
		r.bus.Unregister(ContentScript(tabID))
		r.bus.log.Debug("relay tab detached", "tab_id", tabID)
	}
}

// Attached reports whether tabID has polled recently.
func (r *Relay) Attached(tabID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[tabID]
	return ok && r.now().Sub(tab.lastSeen) <= r.staleAfter
}

func (r *Relay) forward(tabID int) Handler {
	return func(ctx context.Context, msg Message) (any, error) {
		r.mu.Lock()
		tab, ok := r.tabs[tabID]
		if !ok || r.now().Sub(tab.lastSeen) > r.staleAfter {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: tab %d is not polling", ErrNoReceiver, tabID)
		}
		p := &pending{
			env: Envelope{
				ID:      strconv.FormatUint(r.nextID.Add(1), 10),
				Type:    msg.Type,
				Payload: msg.Payload,
			},
			reply: make(chan Reply, 1),
		}
		tab.waiting[p.env.ID] = p
		r.mu.Unlock()

		defer func() {
			r.mu.Lock()
			delete(tab.waiting, p.env.ID)
			r.mu.Unlock()
		}()

		select {
		case tab.queue <- p:
		default:
			return nil, fmt.Errorf("tab %d message queue is full", tabID)
		}

		select {
		case rep := <-p.reply:
			if rep.Error != "" {
				return nil, errors.New(rep.Error)
			}
			if len(rep.Response) == 0 {
				return nil, nil
			}
			return rep.Response, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Next blocks until a message for tabID is available or ctx ends. The
// boolean is false when ctx ended first.
func (r *Relay) Next(ctx context.Context, tabID int) (Envelope, bool) {
	tab := r.attach(tabID)
	for {
		select {
		case p := <-tab.queue:
			r.mu.Lock()
			_, live := tab.waiting[p.env.ID]
			r.mu.Unlock()
			if !live {
				// The sender gave up before this poll.
				continue
			}
			return p.env, true
		case <-ctx.Done():
			r.attach(tabID)
			return Envelope{}, false
		}
	}
}

// Deliver hands a content script's reply to the waiting sender.
func (r *Relay) Deliver(tabID int, id string, rep Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[tabID]
	if !ok {
		return fmt.Errorf("%w: tab %d", ErrUnknownReply, tabID)
	}
	p, ok := tab.waiting[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReply, id)
	}
	delete(tab.waiting, id)
	tab.lastSeen = r.now()
	p.reply <- rep
	return nil
}
