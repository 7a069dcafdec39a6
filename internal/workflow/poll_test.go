package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/coursewalk/internal/errs"
)

func TestWaitUntil_ObservesCondition(t *testing.T) {
	var calls atomic.Int32
	err := WaitUntil(context.Background(), time.Second, time.Millisecond, "third call", func(context.Context) (bool, error) {
		return calls.Add(1) >= 3, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitUntil_ChecksImmediately(t *testing.T) {
	start := time.Now()
	err := WaitUntil(context.Background(), time.Second, 500*time.Millisecond, "ready", func(context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestWaitUntil_TimeoutIsDeadlineExceeded(t *testing.T) {
	transient := errors.New("element detached")
	err := WaitUntil(context.Background(), 30*time.Millisecond, 5*time.Millisecond, "course ready", func(context.Context) (bool, error) {
		return false, transient
	})
	require.Error(t, err)
	assert.Equal(t, errs.DeadlineExceeded, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "course ready")
	assert.ErrorIs(t, err, transient, "last transient error is kept as the cause")
}

func TestWaitUntil_PermanentStopsAtOnce(t *testing.T) {
	boom := errs.New(errs.FailedPrecondition, "form error")
	var calls atomic.Int32
	err := WaitUntil(context.Background(), time.Second, time.Millisecond, "redirect", func(context.Context) (bool, error) {
		calls.Add(1)
		return false, Permanent(boom)
	})
	require.Error(t, err)
	assert.Equal(t, errs.FailedPrecondition, errs.CodeOf(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestWaitUntil_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := WaitUntil(ctx, 5*time.Second, time.Millisecond, "never", func(context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errs.Is(err, errs.DeadlineExceeded))
}

func TestWaitUntil_RejectsNonPositiveTimeout(t *testing.T) {
	err := WaitUntil(context.Background(), 0, time.Millisecond, "x", func(context.Context) (bool, error) {
		return true, nil
	})
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

// A wait either observes the condition or reports deadline_exceeded, and it
// returns within a small margin of its timeout.
func testWaitUntil_Bounded(t *rapid.T) {
	timeout := time.Duration(rapid.IntRange(5, 40).Draw(t, "timeout_ms")) * time.Millisecond
	interval := time.Duration(rapid.IntRange(1, 10).Draw(t, "interval_ms")) * time.Millisecond
	readyAfter := rapid.IntRange(1, 100).Draw(t, "ready_after")

	var calls int
	start := time.Now()
	err := WaitUntil(context.Background(), timeout, interval, "property", func(context.Context) (bool, error) {
		calls++
		return calls >= readyAfter, nil
	})
	elapsed := time.Since(start)

	if err != nil && !errs.Is(err, errs.DeadlineExceeded) {
		t.Fatalf("unexpected error kind: %v", err)
	}
	if err == nil && calls < readyAfter {
		t.Fatalf("returned success before the condition held")
	}
	if elapsed > timeout+200*time.Millisecond {
		t.Fatalf("wait overran: elapsed=%s timeout=%s", elapsed, timeout)
	}
}

func TestWaitUntil_Bounded(t *testing.T) {
	rapid.Check(t, testWaitUntil_Bounded)
}
