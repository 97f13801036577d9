package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw ...string) []time.Time {
	t.Helper()
	parsed, err := ParseTimes(raw)
	require.NoError(t, err)
	return parsed
}

func TestParseTimesRejectsMalformed(t *testing.T) {
	_, err := ParseTimes([]string{"07:00", "not-a-time"})
	assert.Error(t, err)
}

func TestParseTimesRejectsEmpty(t *testing.T) {
	_, err := ParseTimes(nil)
	assert.Error(t, err)
}

func TestNextLaterToday(t *testing.T) {
	times := mustParse(t, "07:00", "12:00", "17:00")
	now := time.Date(2026, 8, 6, 9, 30, 0, 0, time.Local)

	next := Next(now, times)

	assert.Equal(t, time.Date(2026, 8, 6, 12, 0, 0, 0, time.Local), next)
}

func TestNextExactlyNowFiresToday(t *testing.T) {
	times := mustParse(t, "07:00", "12:00")
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.Local)

	next := Next(now, times)

	assert.Equal(t, now, next, "an exact match at the current instant must fire today, not roll to tomorrow")
}

func TestNextRollsToTomorrowWhenAllTimesPassed(t *testing.T) {
	times := mustParse(t, "07:00", "12:00")
	now := time.Date(2026, 8, 6, 18, 0, 0, 0, time.Local)

	next := Next(now, times)

	assert.Equal(t, time.Date(2026, 8, 7, 7, 0, 0, 0, time.Local), next)
}

func TestNextUnorderedInputStillPicksSmallest(t *testing.T) {
	times := mustParse(t, "17:00", "07:00", "12:00")
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.Local)

	next := Next(now, times)

	assert.Equal(t, time.Date(2026, 8, 6, 7, 0, 0, 0, time.Local), next)
}

func TestSchedulerRunStopsOnContextCancel(t *testing.T) {
	times := mustParse(t, "07:00")
	start := time.Date(2026, 8, 6, 6, 59, 59, 0, time.Local)

	var mu sync.Mutex
	clockTime := start
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clockTime
	}

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	s := New(times, clock, func(ctx context.Context) {
		runs.Add(1)
		cancel()
	}, nil)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	assert.GreaterOrEqual(t, runs.Load(), int32(0))
}

func TestSchedulerRunStopsImmediatelyWhenContextAlreadyCancelled(t *testing.T) {
	times := mustParse(t, "07:00")
	clock := func() time.Time { return time.Date(2026, 8, 6, 0, 0, 0, 0, time.Local) }

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(times, clock, func(ctx context.Context) { runs.Add(1) }, nil)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop for an already-cancelled context")
	}

	assert.Equal(t, int32(0), runs.Load())
}
