package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tabInfoReq struct {
	TabID int `json:"tabId"`
}

type tabInfoResp struct {
	Title string `json:"title"`
}

func TestSend_RoundTrip(t *testing.T) {
	b := NewBus(nil)
	b.Handle(Background, TabInfo, func(ctx context.Context, msg Message) (any, error) {
		var req tabInfoReq
		if err := msg.Decode(&req); err != nil {
			return nil, err
		}
		assert.Equal(t, Background, msg.To)
		return tabInfoResp{Title: "tab 7"}, nil
	})

	resp, err := Request[tabInfoResp](context.Background(), b, Background, TabInfo, tabInfoReq{TabID: 7})
	require.NoError(t, err)
	assert.Equal(t, "tab 7", resp.Title)
}

func TestSend_UnknownType(t *testing.T) {
	b := NewBus(nil)
	_, err := b.Send(context.Background(), Background, MessageType("nope"), nil)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestSend_NoReceiver(t *testing.T) {
	b := NewBus(nil)
	_, err := b.Send(context.Background(), ContentScript(3), SnapshotCapture, nil)
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestSend_HandlerError(t *testing.T) {
	b := NewBus(nil)
	boom := errors.New("boom")
	b.Handle(Background, TabClose, func(ctx context.Context, msg Message) (any, error) {
		return nil, boom
	})

	_, err := b.Send(context.Background(), Background, TabClose, nil)
	assert.ErrorIs(t, err, boom)
}

func TestSend_HandlerPanicIsReported(t *testing.T) {
	b := NewBus(nil)
	b.Handle(Background, TabClose, func(ctx context.Context, msg Message) (any, error) {
		panic("bad handler")
	})

	_, err := b.Send(context.Background(), Background, TabClose, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestSend_TimeoutRejectsAfterDelay(t *testing.T) {
	b := NewBus(nil)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	b.Handle(ContentScript(1), SnapshotCapture, func(ctx context.Context, msg Message) (any, error) {
		<-block
		return "late", nil
	})

	start := time.Now()
	_, err := b.Send(context.Background(), ContentScript(1), SnapshotCapture, nil, WithTimeout(50*time.Millisecond))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSend_FastHandlerBeatsTimeout(t *testing.T) {
	b := NewBus(nil)
	b.Handle(Background, MetadataFetch, func(ctx context.Context, msg Message) (any, error) {
		return map[string]string{"title": "ok"}, nil
	})

	resp, err := Request[map[string]string](context.Background(), b, Background, MetadataFetch, nil, WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp["title"])
}

func TestSend_ContextCancel(t *testing.T) {
	b := NewBus(nil)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	b.Handle(Background, TabsRefresh, func(ctx context.Context, msg Message) (any, error) {
		<-block
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Send(ctx, Background, TabsRefresh, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcast_FansOutToContentScripts(t *testing.T) {
	b := NewBus(nil)
	for _, id := range []int{3, 1, 2} {
		id := id
		b.Handle(ContentScript(id), TabsRefresh, func(ctx context.Context, msg Message) (any, error) {
			if id == 2 {
				return nil, errors.New("tab 2 is gone")
			}
			return id * 10, nil
		})
	}
	// Non content-script endpoints are not part of a broadcast.
	b.Handle(Background, TabsRefresh, func(ctx context.Context, msg Message) (any, error) {
		t.Error("background should not receive broadcasts")
		return nil, nil
	})

	results, err := b.Broadcast(context.Background(), TabsRefresh, nil, WithTimeout(time.Second))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1, results[0].TabID)
	assert.JSONEq(t, "10", string(results[0].Response))
	assert.Equal(t, 2, results[1].TabID)
	assert.Error(t, results[1].Err)
	assert.Equal(t, 3, results[2].TabID)
	assert.JSONEq(t, "30", string(results[2].Response))
}

func TestUnregister(t *testing.T) {
	b := NewBus(nil)
	b.Handle(ContentScript(5), SnapshotCapture, func(ctx context.Context, msg Message) (any, error) {
		return "img", nil
	})
	b.Unregister(ContentScript(5))

	_, err := b.Send(context.Background(), ContentScript(5), SnapshotCapture, nil)
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestEndpointTabID(t *testing.T) {
	id, ok := ContentScript(42).TabID()
	assert.True(t, ok)
	assert.Equal(t, 42, id)

	_, ok = Background.TabID()
	assert.False(t, ok)
}

func TestSend_TimeoutCancelsHandlerContext(t *testing.T) {
	b := NewBus(nil)
	cancelled := make(chan struct{})
	b.Handle(Background, TabInfo, func(ctx context.Context, msg Message) (any, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	_, err := b.Send(context.Background(), Background, TabInfo, nil, WithTimeout(20*time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled after timeout")
	}
}
