package chatsync

import (
	"context"
	"io"
	"sync"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/internal/domain/service"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

type EventKind string

const (
	// EventConversation carries a fresh conversation snapshot.
	EventConversation EventKind = "conversation"
	// EventMessages carries the rematerialized message window.
	EventMessages EventKind = "messages"
	// EventNotFound marks the terminal absent-document state.
	EventNotFound EventKind = "not_found"
)

// Event is what a session pushes to its view layer.
type Event struct {
	Kind EventKind `json:"kind"`

	Conversation      *entity.Conversation `json:"conversation,omitempty"`
	Role              entity.Role          `json:"role,omitempty"`
	CounterpartTyping bool                 `json:"counterpart_typing,omitempty"`

	Messages []*entity.Message `json:"messages,omitempty"`
	// Prepended is how many messages were added ahead of the previous
	// window head, so the client can compensate its scroll anchor after a
	// backward-pagination fetch.
	Prepended int  `json:"prepended,omitempty"`
	HasMore   bool `json:"has_more,omitempty"`
}

// Session runs the chat core for one open conversation view: it keeps the
// conversation state and message window live, accepts raw typing
// keystrokes, clears the viewer's unread counter, and sends messages.
// Switching conversations means closing the session and opening a new one;
// all per-conversation state and guards live on the session, so nothing
// leaks across a switch and stale callbacks are ignored once closed.
type Session struct {
	repo   repository.ChatRepository
	state  *Synchronizer
	window *messageWindow
	typing *TypingThrottler

	receipts *ReadReceipts
	sender   *Sender

	convID   string
	viewerID string
	now      func() time.Time

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	stopConv  func()
	stopLive  func()
}

// OpenSession verifies the viewer participates in the conversation, then
// starts the conversation and live-message subscriptions.
func OpenSession(ctx context.Context, repo repository.ChatRepository, uploader service.FileUploadService, convID, viewerID string) (*Session, error) {
	conv, err := repo.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	role, ok := conv.RoleOf(viewerID)
	if !ok {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}
	cutoff, _ := conv.ClearCutoff(role)

	s := &Session{
		repo:     repo,
		state:    NewSynchronizer(viewerID),
		window:   newMessageWindow(cutoff),
		convID:   convID,
		viewerID: viewerID,
		now:      time.Now,
		events:   make(chan Event, 16),
		closed:   make(chan struct{}),
	}
	s.state.Apply(repository.ConversationUpdate{Conversation: conv})
	s.typing = NewTypingThrottler(s.writeTyping)
	s.receipts = NewReadReceipts(s.writeMarkRead)
	s.sender = NewSender(repo, uploader, conv, viewerID, role, s.typing)

	convCh, stopConv := repo.WatchConversation(ctx, convID)
	liveCh, stopLive := repo.WatchLatestMessages(ctx, convID, cutoff, LiveWindowSize)
	s.stopConv = stopConv
	s.stopLive = stopLive

	go s.run(ctx, convCh, liveCh)
	return s, nil
}

// Events is the stream of view updates. It is never closed; consumers
// select on Done as well.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session ends, either by Close or by the
// conversation document disappearing.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) run(ctx context.Context, convCh <-chan repository.ConversationUpdate, liveCh <-chan repository.MessageBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return

		case u, ok := <-convCh:
			if !ok {
				convCh = nil
				continue
			}
			if u.Err != nil {
				// The subscription self-heals per the store's reconnect
				// policy; nothing to retry here.
				logger.Error("conversation watch error for %s: %v", s.convID, u.Err)
				continue
			}
			view, ok := s.state.Apply(u)
			if !ok {
				continue
			}
			if view.NotFound {
				s.emit(Event{Kind: EventNotFound})
				s.Close()
				return
			}
			s.handleConversation(ctx, view)

		case b, ok := <-liveCh:
			if !ok {
				liveCh = nil
				continue
			}
			if b.Err != nil {
				logger.Error("message watch error for %s: %v", s.convID, b.Err)
				continue
			}
			msgs := s.window.applyLive(b.Messages)
			s.emit(Event{Kind: EventMessages, Messages: msgs, HasMore: s.window.more()})
		}
	}
}

func (s *Session) handleConversation(ctx context.Context, view ConversationView) {
	conv := view.Conversation

	// A raised clear cutoff strips already-loaded messages retroactively.
	if cutoff, ok := conv.ClearCutoff(view.Role); ok {
		if msgs, changed := s.window.setCutoff(cutoff); changed {
			s.emit(Event{Kind: EventMessages, Messages: msgs, HasMore: s.window.more()})
		}
	}

	s.receipts.Observe(ctx, conv, view.Role)

	s.emit(Event{
		Kind:              EventConversation,
		Conversation:      conv,
		Role:              view.Role,
		CounterpartTyping: conv.Typing.Active(view.Role.Counterpart(), s.now()),
	})
}

// LoadOlder fetches the next page of history behind the oldest loaded
// message. Best-effort: a failed pull leaves pagination state untouched so
// the next scroll-into-range retries, and no event is emitted.
func (s *Session) LoadOlder(ctx context.Context) error {
	if !s.window.beginPull() {
		return nil
	}
	defer s.window.endPull()

	view := s.state.Current()
	var cutoff time.Time
	if view.Conversation != nil {
		cutoff, _ = view.Conversation.ClearCutoff(view.Role)
	}

	page, err := s.repo.MessagesBefore(ctx, s.convID, s.window.oldestCursor(), cutoff, LiveWindowSize)
	if err != nil {
		logger.Warn("history page fetch failed for %s: %v", s.convID, err)
		return err
	}

	msgs, prepended := s.window.applyPage(page)
	s.emit(Event{Kind: EventMessages, Messages: msgs, Prepended: prepended, HasMore: s.window.more()})
	return nil
}

// Typing records one raw keystroke.
func (s *Session) Typing(ctx context.Context) {
	s.typing.Keystroke(ctx)
}

func (s *Session) SendText(ctx context.Context, text string) (*entity.Message, error) {
	return s.sender.SendText(ctx, text)
}

func (s *Session) SendImage(ctx context.Context, file io.Reader, contentType string, size int64) (*entity.Message, error) {
	return s.sender.SendImage(ctx, file, contentType, size)
}

// Seen reports whether the counterpart has read one of the viewer's own
// messages, against the latest synced conversation state.
func (s *Session) Seen(msg *entity.Message) bool {
	view := s.state.Current()
	if view.Conversation == nil {
		return false
	}
	return Seen(view.Conversation, view.Role, msg)
}

// Close tears the session down: subscriptions stop and a final
// stopped-typing write goes out best-effort.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.stopConv != nil {
			s.stopConv()
		}
		if s.stopLive != nil {
			s.stopLive()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.typing.Close(ctx)
		close(s.closed)
	})
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.closed:
	}
}

func (s *Session) writeTyping(ctx context.Context, typing bool) error {
	view := s.state.Current()
	role := view.Role
	return s.repo.UpdateConversation(ctx, s.convID, map[string]interface{}{
		"typing." + string(role): typing,
		"typing.updatedAt":       s.now(),
		"typing.by":              s.viewerID,
	})
}

func (s *Session) writeMarkRead(ctx context.Context) error {
	view := s.state.Current()
	role := view.Role
	return s.repo.UpdateConversation(ctx, s.convID, map[string]interface{}{
		"unread." + string(role):     int64(0),
		"lastReadAt." + string(role): s.now(),
	})
}
