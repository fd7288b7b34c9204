package chatsync

import (
	"sync"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
)

// ConversationView is one synchronized view of the conversation: the full
// document plus the viewer's derived role. NotFound marks the terminal
// absent-document state.
type ConversationView struct {
	Conversation *entity.Conversation
	Role         entity.Role
	NotFound     bool
}

// Synchronizer keeps the latest conversation state for one viewer. Each
// push snapshot fully replaces the prior copy (last write wins, no
// client-side merge of conversation fields), and the viewer's role is
// recomputed from the new document on every update.
type Synchronizer struct {
	viewerID string

	mu       sync.RWMutex
	current  *entity.Conversation
	role     entity.Role
	notFound bool
}

func NewSynchronizer(viewerID string) *Synchronizer {
	return &Synchronizer{viewerID: viewerID}
}

// Apply folds one watch-stream element into the synchronizer and returns
// the resulting view. ok is false for elements that carry no state change
// (stream errors, or a document the viewer no longer participates in).
func (s *Synchronizer) Apply(u repository.ConversationUpdate) (ConversationView, bool) {
	if u.Err != nil {
		return ConversationView{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.NotFound {
		s.current = nil
		s.notFound = true
		return ConversationView{NotFound: true}, true
	}
	role, ok := u.Conversation.RoleOf(s.viewerID)
	if !ok {
		return ConversationView{}, false
	}
	s.current = u.Conversation
	s.role = role
	return ConversationView{Conversation: u.Conversation, Role: role}, true
}

// Current returns the latest view.
func (s *Synchronizer) Current() ConversationView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ConversationView{Conversation: s.current, Role: s.role, NotFound: s.notFound}
}
