package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePurger) PurgeTempSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	f.cutoff = olderThan
	return f.n, f.err
}

func TestPurgeJob(t *testing.T) {
	p := &fakePurger{n: 3}
	job := PurgeJob(p, 24*time.Hour, nil)

	before := time.Now()
	require.NoError(t, job(context.Background()))
	assert.WithinDuration(t, before.Add(-24*time.Hour), p.cutoff, time.Second)

	p.err = errors.New("db locked")
	err := job(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db locked")
}

func TestAdd_RejectsBadSpec(t *testing.T) {
	s := New(nil)
	err := s.Add("bad", "not a schedule", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestScheduler_RunsAndStops(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Error(t, s.ctx.Err())
}
