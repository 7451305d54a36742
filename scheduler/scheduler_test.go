package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTaskRunsImmediatelyAndOnTicks(t *testing.T) {
	s := New(testLogger())
	var runs atomic.Int64

	s.Add("counter", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestFailingTaskKeepsRunning(t *testing.T) {
	s := New(testLogger())
	defer s.Stop()
	var runs atomic.Int64

	s.Add("flaky", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("pass failed")
	})

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestPanickingTaskDoesNotKillOthers(t *testing.T) {
	s := New(testLogger())
	defer s.Stop()
	var panics, runs atomic.Int64

	s.Add("panicky", 10*time.Millisecond, func(ctx context.Context) error {
		panics.Add(1)
		panic("boom")
	})
	s.Add("steady", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	require.Eventually(t, func() bool {
		return panics.Load() >= 2 && runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestStopCancelsTaskContext(t *testing.T) {
	s := New(testLogger())
	cancelled := make(chan struct{})

	s.Add("blocker", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	// Give the immediate first run a moment to start blocking.
	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled by Stop")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after tasks finished")
	}
}
