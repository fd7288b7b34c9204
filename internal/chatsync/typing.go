package chatsync

import (
	"context"
	"sync"
	"time"

	"lokapasar/pkg/logger"
)

const (
	// typingWriteFloor is the minimum spacing between typing-flag writes.
	typingWriteFloor = 700 * time.Millisecond
	// typingFlushMargin pads a scheduled flush past the floor so the timer
	// never fires a hair early.
	typingFlushMargin = 20 * time.Millisecond
	// typingRetryDelay is how long a request deferred behind an in-flight
	// write waits before flushing.
	typingRetryDelay = 250 * time.Millisecond
	// typingStopDebounce is how long after the last keystroke a stopped
	// signal is issued.
	typingStopDebounce = 1200 * time.Millisecond
)

// typingPhase is the throttler's tagged state.
type typingPhase int

const (
	typingIdle typingPhase = iota
	typingPending
	typingInFlight
	typingCooldown
)

type typingAction int

const (
	typingActDrop typingAction = iota
	typingActWrite
	typingActFlushAfter
)

type typingWriteFunc func(ctx context.Context, typing bool) error

// TypingThrottler converts raw per-keystroke events into a bounded-rate
// stream of typing-flag writes: at most one write per floor interval plus
// a debounced stop signal, independent of keystroke rate. A value equal to
// the last confirmed one is never written.
type TypingThrottler struct {
	write typingWriteFunc

	// now and schedule are swapped out by tests; schedule returns a cancel.
	now      func() time.Time
	schedule func(d time.Duration, fn func()) func()

	mu          sync.Mutex
	phase       typingPhase
	confirmed   bool
	pending     bool
	hasPending  bool
	lastWrite   time.Time
	cancelFlush func()
	cancelStop  func()
	closed      bool
}

func NewTypingThrottler(write typingWriteFunc) *TypingThrottler {
	return &TypingThrottler{
		write: write,
		now:   time.Now,
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
}

// Keystroke records one raw typing event: it requests a typing=true write
// (subject to throttling) and rearms the stop-detection debounce.
func (t *TypingThrottler) Keystroke(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.cancelStop != nil {
		t.cancelStop()
	}
	t.cancelStop = t.schedule(typingStopDebounce, func() {
		t.mu.Lock()
		t.cancelStop = nil
		t.mu.Unlock()
		t.request(ctx, false)
	})
	t.mu.Unlock()

	t.request(ctx, true)
}

// next is the single transition function: given a desired value it decides
// whether to drop, write now, or schedule a flush. Caller holds the lock.
func (t *TypingThrottler) next(desired bool) (typingAction, time.Duration) {
	if desired == t.confirmed {
		return typingActDrop, 0
	}
	if t.phase == typingInFlight {
		return typingActFlushAfter, typingRetryDelay
	}
	if wait := typingWriteFloor - t.now().Sub(t.lastWrite); wait > 0 {
		return typingActFlushAfter, wait + typingFlushMargin
	}
	return typingActWrite, 0
}

func (t *TypingThrottler) request(ctx context.Context, desired bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	action, delay := t.next(desired)
	switch action {
	case typingActDrop:
		// Desired equals confirmed: drop, clearing any pending flush.
		t.hasPending = false
		if t.cancelFlush != nil {
			t.cancelFlush()
			t.cancelFlush = nil
		}
		if t.phase == typingPending {
			t.phase = typingIdle
		}
	case typingActWrite:
		t.pending, t.hasPending = desired, true
		t.startWriteLocked(ctx)
	case typingActFlushAfter:
		t.pending, t.hasPending = desired, true
		if t.phase != typingInFlight {
			t.phase = typingPending
		}
		if t.cancelFlush == nil {
			t.cancelFlush = t.schedule(delay, func() { t.flush(ctx) })
		}
	}
	t.mu.Unlock()
}

func (t *TypingThrottler) flush(ctx context.Context) {
	t.mu.Lock()
	t.cancelFlush = nil
	if t.closed || !t.hasPending {
		t.mu.Unlock()
		return
	}
	desired := t.pending

	action, delay := t.next(desired)
	switch action {
	case typingActDrop:
		t.hasPending = false
		if t.phase == typingPending {
			t.phase = typingIdle
		}
	case typingActWrite:
		t.startWriteLocked(ctx)
	case typingActFlushAfter:
		t.cancelFlush = t.schedule(delay, func() { t.flush(ctx) })
	}
	t.mu.Unlock()
}

// startWriteLocked launches the pending write. Caller holds the lock.
func (t *TypingThrottler) startWriteLocked(ctx context.Context) {
	desired := t.pending
	t.hasPending = false
	t.phase = typingInFlight

	go func() {
		err := t.write(ctx, desired)

		t.mu.Lock()
		defer t.mu.Unlock()
		t.lastWrite = t.now()
		if err != nil {
			// Dropped: the next state change retries naturally.
			logger.Warn("typing write failed: %v", err)
		} else {
			t.confirmed = desired
		}
		if t.closed {
			return
		}
		if t.hasPending && t.pending != t.confirmed {
			t.phase = typingPending
			if t.cancelFlush == nil {
				t.cancelFlush = t.schedule(typingWriteFloor+typingFlushMargin, func() { t.flush(ctx) })
			}
		} else {
			t.hasPending = false
			t.phase = typingCooldown
		}
	}()
}

// ForceStop cancels the debounce and immediately writes the stopped flag,
// bypassing the rate floor. The sender calls this before every send so the
// counterpart's indicator never outlives the message that preempted it.
func (t *TypingThrottler) ForceStop(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.cancelTimersLocked()
	t.hasPending = false
	skip := !t.confirmed && t.phase != typingInFlight
	t.confirmed = false
	t.phase = typingIdle
	t.lastWrite = t.now()
	t.mu.Unlock()

	if skip {
		return
	}
	if err := t.write(ctx, false); err != nil {
		logger.Warn("typing stop write failed: %v", err)
	}
}

// Close tears the throttler down on leaving the conversation: timers are
// cancelled and a final stopped write is issued unconditionally,
// best-effort.
func (t *TypingThrottler) Close(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cancelTimersLocked()
	t.mu.Unlock()

	if err := t.write(ctx, false); err != nil {
		logger.Warn("typing stop write failed on close: %v", err)
	}
}

// cancelTimersLocked stops both timers. Caller holds the lock.
func (t *TypingThrottler) cancelTimersLocked() {
	if t.cancelFlush != nil {
		t.cancelFlush()
		t.cancelFlush = nil
	}
	if t.cancelStop != nil {
		t.cancelStop()
		t.cancelStop = nil
	}
}
