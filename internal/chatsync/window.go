package chatsync

import (
	"sort"
	"sync"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
)

// LiveWindowSize is the size of the live "newest K" subscription and of
// each backward-pagination page.
const LiveWindowSize = 30

// Merge reconciles the current window with a batch from either channel
// (live push or pull page) into a new deduplicated window sorted ascending
// by (createdAt, id). Incoming wins on id collisions. Messages at or before
// the cutoff are dropped, including ones already held in window, which is
// what makes a clear-history cutoff retroactive. Inputs are not mutated.
func Merge(window, incoming []*entity.Message, cutoff time.Time) []*entity.Message {
	byID := make(map[string]*entity.Message, len(window)+len(incoming))
	for _, m := range window {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		byID[m.ID] = m
	}

	out := make([]*entity.Message, 0, len(byID))
	for _, m := range byID {
		if !cutoff.IsZero() && !m.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// messageWindow holds the materialized window for one session, plus the
// backward-pagination state: whether more history exists and whether a
// pull is currently in flight.
type messageWindow struct {
	mu      sync.Mutex
	msgs    []*entity.Message
	cutoff  time.Time
	hasMore bool
	pulling bool
}

func newMessageWindow(cutoff time.Time) *messageWindow {
	return &messageWindow{cutoff: cutoff, hasMore: true}
}

// applyLive merges a live-channel batch. Returns the new window.
func (w *messageWindow) applyLive(batch []*entity.Message) []*entity.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = Merge(w.msgs, batch, w.cutoff)
	return w.msgs
}

// applyPage merges a pull-channel page and reports how many messages were
// prepended ahead of the previous window head, so the caller can
// compensate the scroll anchor.
func (w *messageWindow) applyPage(page []*entity.Message) (msgs []*entity.Message, prepended int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var head *entity.Message
	if len(w.msgs) > 0 {
		head = w.msgs[0]
	}
	w.msgs = Merge(w.msgs, page, w.cutoff)
	if head == nil {
		prepended = len(w.msgs)
	} else {
		for _, m := range w.msgs {
			if !m.Before(head) {
				break
			}
			prepended++
		}
	}
	if len(page) == 0 {
		w.hasMore = false
	}
	return w.msgs, prepended
}

// setCutoff raises the visibility cutoff and restrips the held window.
// Returns the new window and whether anything was dropped.
func (w *messageWindow) setCutoff(cutoff time.Time) ([]*entity.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !cutoff.After(w.cutoff) {
		return w.msgs, false
	}
	w.cutoff = cutoff
	before := len(w.msgs)
	w.msgs = Merge(w.msgs, nil, w.cutoff)
	return w.msgs, len(w.msgs) != before
}

// beginPull marks a pull in flight. It fails when pagination is exhausted
// or another pull is already running, so overlapping scroll events cannot
// issue concurrent page fetches.
func (w *messageWindow) beginPull() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasMore || w.pulling {
		return false
	}
	w.pulling = true
	return true
}

// endPull releases the in-flight guard. A failed pull leaves hasMore
// untouched so the next scroll-into-range retries.
func (w *messageWindow) endPull() {
	w.mu.Lock()
	w.pulling = false
	w.mu.Unlock()
}

// oldestCursor returns the pagination cursor for the oldest loaded
// message, or a zero cursor when the window is empty.
func (w *messageWindow) oldestCursor() repository.MessageCursor {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) == 0 {
		return repository.MessageCursor{}
	}
	return repository.CursorFor(w.msgs[0])
}

func (w *messageWindow) snapshot() []*entity.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.msgs
}

func (w *messageWindow) more() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasMore
}
