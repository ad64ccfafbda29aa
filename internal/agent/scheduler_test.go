package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

func TestScheduler_Fires(t *testing.T) {
	s := NewScheduler(context.Background())
	defer s.Stop()

	id := uuid.New()
	done := make(chan struct{})
	require.True(t, s.Schedule(id, 10*time.Millisecond, func(context.Context) { close(done) }))
	assert.True(t, s.Scheduled(id))

	select {
	case <-done:
	case <-time.After(eventually):
		t.Fatal("action did not fire")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, eventually, 5*time.Millisecond)
}

func TestScheduler_ReplaceKeepsOnlyLatest(t *testing.T) {
	s := NewScheduler(context.Background())
	defer s.Stop()

	id := uuid.New()
	var first, second atomic.Int32
	s.Schedule(id, 20*time.Millisecond, func(context.Context) { first.Add(1) })
	s.Schedule(id, 20*time.Millisecond, func(context.Context) { second.Add(1) })
	assert.Equal(t, 1, s.Pending())

	assert.Eventually(t, func() bool { return second.Load() == 1 }, eventually, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler(context.Background())
	defer s.Stop()

	id := uuid.New()
	var ran atomic.Bool
	s.Schedule(id, 20*time.Millisecond, func(context.Context) { ran.Store(true) })

	assert.True(t, s.Cancel(id))
	assert.False(t, s.Cancel(id))
	assert.Equal(t, 0, s.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestScheduler_IndependentKeys(t *testing.T) {
	s := NewScheduler(context.Background())
	defer s.Stop()

	var count atomic.Int32
	for i := 0; i < 3; i++ {
		s.Schedule(uuid.New(), 10*time.Millisecond, func(context.Context) { count.Add(1) })
	}
	assert.Eventually(t, func() bool { return count.Load() == 3 }, eventually, 5*time.Millisecond)
}

func TestScheduler_StopCancelsPendingAndRunning(t *testing.T) {
	s := NewScheduler(context.Background())

	var pendingRan atomic.Bool
	s.Schedule(uuid.New(), time.Hour, func(context.Context) { pendingRan.Store(true) })

	started := make(chan struct{})
	var sawCancel atomic.Bool
	s.Schedule(uuid.New(), time.Millisecond, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
	})
	<-started

	s.Stop()
	assert.True(t, sawCancel.Load(), "Stop returned before the running action saw cancellation")
	assert.False(t, pendingRan.Load())
	assert.Equal(t, 0, s.Pending())
	assert.False(t, s.Schedule(uuid.New(), time.Millisecond, func(context.Context) {}))

	s.Stop()
}
