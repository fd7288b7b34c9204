package chatsync

import (
	"context"
	"sync"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/pkg/logger"
)

// markReadFloor is the minimum spacing between mark-read writes, so rapid
// re-deliveries of the same conversation state cannot fan out into
// redundant writes.
const markReadFloor = 400 * time.Millisecond

// Seen reports whether the counterpart has read a message the viewer sent:
// true iff the counterpart's lastReadAt is at or past the message's
// creation time. Pure derivation from already-synced state, no extra reads.
func Seen(conv *entity.Conversation, viewer entity.Role, msg *entity.Message) bool {
	readAt, ok := conv.LastReadBy(viewer.Counterpart())
	if !ok {
		return false
	}
	return !readAt.Before(msg.CreatedAt)
}

type markReadFunc func(ctx context.Context) error

// ReadReceipts opportunistically clears the viewer's own unread counter
// while the conversation is open, with an in-flight guard and a rate floor.
type ReadReceipts struct {
	write markReadFunc
	now   func() time.Time

	mu        sync.Mutex
	inFlight  bool
	lastWrite time.Time
	done      chan struct{} // closed after each write completes, for tests
}

func NewReadReceipts(write markReadFunc) *ReadReceipts {
	return &ReadReceipts{write: write, now: time.Now}
}

// Observe is called on every conversation snapshot while the view is open.
// It issues a mark-read write when the viewer's unread counter is non-zero,
// unless one is already in flight or the floor has not elapsed.
func (r *ReadReceipts) Observe(ctx context.Context, conv *entity.Conversation, viewer entity.Role) {
	if conv.UnreadFor(viewer) == 0 {
		return
	}

	r.mu.Lock()
	if r.inFlight || (!r.lastWrite.IsZero() && r.now().Sub(r.lastWrite) < markReadFloor) {
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		err := r.write(ctx)

		r.mu.Lock()
		r.lastWrite = r.now()
		r.inFlight = false
		r.mu.Unlock()

		if err != nil {
			// Dropped silently; the next snapshot with unread > 0 retries.
			logger.Warn("mark-read write failed: %v", err)
		}
	}()
}
