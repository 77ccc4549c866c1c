package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveTab polls like a content script and answers each message with fn.
func serveTab(t *testing.T, r *Relay, tabID int, fn func(Envelope) Reply) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			env, ok := r.Next(ctx, tabID)
			if !ok {
				return
			}
			_ = r.Deliver(tabID, env.ID, fn(env))
		}
	}()
	return func() { cancel(); wg.Wait() }
}

func waitAttached(t *testing.T, r *Relay, tabID int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Attached(tabID) }, time.Second, 5*time.Millisecond)
}

func TestRelay_RoundTrip(t *testing.T) {
	b := NewBus(nil)
	r := NewRelay(b, time.Minute)
	stop := serveTab(t, r, 4, func(env Envelope) Reply {
		assert.Equal(t, SnapshotCapture, env.Type)
		assert.JSONEq(t, `{"url":"https://example.com"}`, string(env.Payload))
		return Reply{Response: json.RawMessage(`{"image":"abc"}`)}
	})
	defer stop()
	waitAttached(t, r, 4)

	resp, err := Request[map[string]string](context.Background(), b, ContentScript(4), SnapshotCapture,
		map[string]string{"url": "https://example.com"}, WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "abc", resp["image"])
}

func TestRelay_ReplyError(t *testing.T) {
	b := NewBus(nil)
	r := NewRelay(b, time.Minute)
	stop := serveTab(t, r, 4, func(env Envelope) Reply { return Reply{Error: "page is not ready"} })
	defer stop()
	waitAttached(t, r, 4)

	_, err := b.Send(context.Background(), ContentScript(4), SnapshotCapture, nil, WithTimeout(time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page is not ready")
}

func TestRelay_StaleTabHasNoReceiver(t *testing.T) {
	b := NewBus(nil)
	r := NewRelay(b, time.Minute)
	now := time.Now()
	r.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := r.Next(ctx, 8)
	assert.False(t, ok)
	assert.True(t, r.Attached(8))

	now = now.Add(2 * time.Minute)
	assert.False(t, r.Attached(8))
	_, err := b.Send(context.Background(), ContentScript(8), SnapshotCapture, nil, WithTimeout(time.Second))
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestRelay_SenderTimeoutIsSkippedByNextPoll(t *testing.T) {
	b := NewBus(nil)
	r := NewRelay(b, time.Minute)

	// Attach without a poller so the message sits in the queue.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Next(ctx, 2)

	_, err := b.Send(context.Background(), ContentScript(2), SnapshotCapture, nil, WithTimeout(20*time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.tabs[2].waiting) == 0
	}, time.Second, 5*time.Millisecond)

	pollCtx, pollCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer pollCancel()
	_, ok := r.Next(pollCtx, 2)
	assert.False(t, ok)
}

func TestRelay_DeliverUnknown(t *testing.T) {
	r := NewRelay(NewBus(nil), time.Minute)
	assert.ErrorIs(t, r.Deliver(1, "1", Reply{}), ErrUnknownReply)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Next(ctx, 1)
	assert.ErrorIs(t, r.Deliver(1, "999", Reply{}), ErrUnknownReply)
}

func TestRelay_Detach(t *testing.T) {
	b := NewBus(nil)
	r := NewRelay(b, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Next(ctx, 6)

	done := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), ContentScript(6), SnapshotCapture, nil, WithTimeout(time.Second))
		done <- err
	}()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.tabs[6].waiting) == 1
	}, time.Second, 5*time.Millisecond)
	r.Detach(6)

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detached")
	assert.False(t, r.Attached(6))

	_, err = b.Send(context.Background(), ContentScript(6), SnapshotCapture, nil)
	assert.ErrorIs(t, err, ErrNoReceiver)
}
