package chatsync

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/pkg/errors"
)

// memoryChatRepo is an in-memory ChatRepository used across the package
// tests. Watch channels are driven by the tests through pushConversation
// and pushMessages.
type memoryChatRepo struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
	messages      map[string][]*entity.Message
	updates       []map[string]interface{}

	appendErr  error
	updateErr  error
	appendGate chan struct{} // when set, AppendMessage blocks until closed

	convCh chan repository.ConversationUpdate
	liveCh chan repository.MessageBatch
}

func newMemoryChatRepo() *memoryChatRepo {
	return &memoryChatRepo{
		conversations: make(map[string]*entity.Conversation),
		messages:      make(map[string][]*entity.Message),
		convCh:        make(chan repository.ConversationUpdate, 16),
		liveCh:        make(chan repository.MessageBatch, 16),
	}
}

func (r *memoryChatRepo) CreateConversation(ctx context.Context, conv *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conv.ID] = conv
	return nil
}

func (r *memoryChatRepo) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return conv, nil
}

func (r *memoryChatRepo) FindConversationByListingAndBuyer(ctx context.Context, listingID, buyerID string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.conversations {
		if conv.Listing.ListingID == listingID && conv.BuyerID == buyerID {
			return conv, nil
		}
	}
	return nil, errors.NotFound("Conversation", nil)
}

func (r *memoryChatRepo) ListConversationsByUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Conversation
	for _, conv := range r.conversations {
		for _, p := range conv.Participants {
			if p == userID {
				out = append(out, conv)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryChatRepo) UpdateConversation(ctx context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	copied := make(map[string]interface{}, len(fields)+1)
	copied["_id"] = id
	for k, v := range fields {
		copied[k] = v
	}
	r.updates = append(r.updates, copied)
	return nil
}

func (r *memoryChatRepo) AppendMessage(ctx context.Context, msg *entity.Message) error {
	r.mu.Lock()
	gate := r.appendGate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], msg)
	return nil
}

func (r *memoryChatRepo) WatchConversation(ctx context.Context, id string) (<-chan repository.ConversationUpdate, func()) {
	return r.convCh, func() {}
}

func (r *memoryChatRepo) WatchLatestMessages(ctx context.Context, conversationID string, after time.Time, limit int) (<-chan repository.MessageBatch, func()) {
	return r.liveCh, func() {}
}

func (r *memoryChatRepo) MessagesBefore(ctx context.Context, conversationID string, cursor repository.MessageCursor, after time.Time, limit int) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := append([]*entity.Message(nil), r.messages[conversationID]...)
	sort.Slice(all, func(i, j int) bool { return all[j].Before(all[i]) })

	var out []*entity.Message
	for _, m := range all {
		if !cursor.IsZero() {
			c := repository.MessageCursor{CreatedAt: m.CreatedAt, ID: m.ID}
			older := m.CreatedAt.Before(cursor.CreatedAt) || (m.CreatedAt.Equal(cursor.CreatedAt) && m.ID < cursor.ID)
			if !older || c == cursor {
				continue
			}
		}
		if !after.IsZero() && !m.CreatedAt.After(after) {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryChatRepo) pushConversation(conv *entity.Conversation) {
	r.convCh <- repository.ConversationUpdate{Conversation: conv}
}

func (r *memoryChatRepo) pushMessages(msgs ...*entity.Message) {
	r.liveCh <- repository.MessageBatch{Messages: msgs}
}

func (r *memoryChatRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *memoryChatRepo) lastUpdate() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return nil
	}
	return r.updates[len(r.updates)-1]
}

type stubUploader struct {
	url string
	err error
}

func (u *stubUploader) UploadFile(ctx context.Context, file io.Reader, contentType, folder string) (string, error) {
	return u.url, u.err
}

func (u *stubUploader) Close() error { return nil }

func testConversation() *entity.Conversation {
	return &entity.Conversation{
		ID:           "conv-1",
		Participants: []string{"buyer-1", "seller-1"},
		BuyerID:      "buyer-1",
		SellerID:     "seller-1",
		Listing:      entity.ListingSnapshot{ListingID: "listing-1", Title: "Vintage bike", Price: 120},
		Unread: map[string]int64{
			string(entity.RoleBuyer):  0,
			string(entity.RoleSeller): 0,
		},
		LastReadAt: map[string]time.Time{},
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func textMsg(id string, at time.Time) *entity.Message {
	return &entity.Message{
		ID:             id,
		ConversationID: "conv-1",
		SenderID:       "buyer-1",
		Type:           entity.MessageText,
		Text:           "hello " + id,
		CreatedAt:      at,
	}
}
