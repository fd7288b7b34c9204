package chatsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// typingHarness drives a TypingThrottler with a manual clock and manual
// timers, so the throttle floor and debounce can be tested without
// sleeping.
type typingHarness struct {
	t *TypingThrottler

	mu     sync.Mutex
	clock  time.Time
	timers []*fakeTimer
	writes []bool
	wrote  chan bool
}

type fakeTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func newTypingHarness() *typingHarness {
	h := &typingHarness{
		clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		wrote: make(chan bool, 32),
	}
	h.t = NewTypingThrottler(func(ctx context.Context, typing bool) error {
		h.mu.Lock()
		h.writes = append(h.writes, typing)
		h.mu.Unlock()
		h.wrote <- typing
		return nil
	})
	h.t.now = h.now
	h.t.schedule = h.schedule
	return h
}

func (h *typingHarness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *typingHarness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

func (h *typingHarness) schedule(d time.Duration, fn func()) func() {
	timer := &fakeTimer{delay: d, fn: fn}
	h.mu.Lock()
	h.timers = append(h.timers, timer)
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		timer.cancelled = true
		h.mu.Unlock()
	}
}

// fireLast runs the most recent live timer, simulating its expiry.
func (h *typingHarness) fireLast(t *testing.T) {
	t.Helper()
	h.mu.Lock()
	var timer *fakeTimer
	for i := len(h.timers) - 1; i >= 0; i-- {
		if !h.timers[i].cancelled {
			timer = h.timers[i]
			h.timers[i].cancelled = true
			break
		}
	}
	h.mu.Unlock()
	require.NotNil(t, timer, "no live timer to fire")
	timer.fn()
}

func (h *typingHarness) waitWrite(t *testing.T) bool {
	t.Helper()
	select {
	case v := <-h.wrote:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing write")
		return false
	}
}

// waitSettled blocks until the in-flight write's bookkeeping has landed.
func (h *typingHarness) waitSettled() {
	for {
		h.t.mu.Lock()
		phase := h.t.phase
		h.t.mu.Unlock()
		if phase != typingInFlight {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *typingHarness) writeLog() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.writes...)
}

func TestKeystrokeWritesImmediatelyWhenIdle(t *testing.T) {
	h := newTypingHarness()

	h.t.Keystroke(context.Background())

	assert.True(t, h.waitWrite(t))
	assert.Equal(t, []bool{true}, h.writeLog())
}

func TestKeystrokeBurstCollapsesToOneWritePerFloor(t *testing.T) {
	h := newTypingHarness()
	ctx := context.Background()

	// Fifty keystrokes at a 10ms cadence: half a second of typing.
	h.t.Keystroke(ctx)
	h.waitWrite(t)
	h.waitSettled()
	for i := 0; i < 49; i++ {
		h.advance(10 * time.Millisecond)
		h.t.Keystroke(ctx)
	}

	assert.Equal(t, []bool{true}, h.writeLog())
}

func TestStopDebounceWritesFalseAfterSilence(t *testing.T) {
	h := newTypingHarness()
	ctx := context.Background()

	h.t.Keystroke(ctx)
	h.waitWrite(t)
	h.waitSettled()

	// The debounce expires 1200ms after the last keystroke; the stopped
	// write still respects the floor relative to the true write, which has
	// elapsed by then.
	h.advance(typingStopDebounce)
	h.fireLast(t)

	assert.False(t, h.waitWrite(t))
	assert.Equal(t, []bool{true, false}, h.writeLog())
}

func TestStopInsideFloorIsDeferredNotDropped(t *testing.T) {
	h := newTypingHarness()
	ctx := context.Background()

	h.t.Keystroke(ctx)
	h.waitWrite(t)
	h.waitSettled()

	// Simulate the debounce firing early, inside the write floor: the stop
	// must be scheduled as a trailing flush, then written once the floor
	// elapses.
	h.advance(100 * time.Millisecond)
	h.t.request(ctx, false)
	assert.Equal(t, []bool{true}, h.writeLog())

	h.advance(typingWriteFloor)
	h.fireLast(t)

	assert.False(t, h.waitWrite(t))
	assert.Equal(t, []bool{true, false}, h.writeLog())
}

func TestRedundantValueIsNeverWritten(t *testing.T) {
	h := newTypingHarness()
	ctx := context.Background()

	// Stopped while already stopped: nothing to write.
	h.t.request(ctx, false)
	assert.Empty(t, h.writeLog())
}

func TestForceStopBypassesFloor(t *testing.T) {
	h := newTypingHarness()
	ctx := context.Background()

	h.t.Keystroke(ctx)
	h.waitWrite(t)
	h.waitSettled()

	// Immediately after the true write, still deep inside the floor.
	h.advance(50 * time.Millisecond)
	h.t.ForceStop(ctx)

	assert.Equal(t, []bool{true, false}, h.writeLog())
}

func TestForceStopSkipsWhenAlreadyStopped(t *testing.T) {
	h := newTypingHarness()

	h.t.ForceStop(context.Background())

	assert.Empty(t, h.writeLog())
}

func TestCloseWritesStopUnconditionally(t *testing.T) {
	h := newTypingHarness()
	ctx := context.Background()

	h.t.Close(ctx)
	assert.Equal(t, []bool{false}, h.writeLog())

	// Everything after close is ignored.
	h.t.Keystroke(ctx)
	h.t.Close(ctx)
	assert.Equal(t, []bool{false}, h.writeLog())
}
