package repository

import (
	"context"
	"time"

	"lokapasar/internal/domain/entity"
)

// Increment is a sentinel value for UpdateConversation. The adapter maps
// it onto the store's atomic per-field increment, so counters never go
// through a read-modify-write cycle.
type Increment int64

type deleteField struct{}

// DeleteField is a sentinel value for UpdateConversation that removes the
// addressed field from the document.
var DeleteField deleteField

// MessageCursor is the compound (createdAt, id) cursor used for backward
// pagination. The id component keeps the cursor stable when several
// messages share one timestamp.
type MessageCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func (c MessageCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// CursorFor builds the cursor addressing the given message.
func CursorFor(m *entity.Message) MessageCursor {
	return MessageCursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// ConversationUpdate is one element of a conversation watch stream. Exactly
// one of Conversation, NotFound, or Err is meaningful per element.
type ConversationUpdate struct {
	Conversation *entity.Conversation
	NotFound     bool
	Err          error
}

// MessageBatch is one element of a live message watch stream. Messages are
// ordered newest first, (createdAt, id) descending, mirroring the store's
// query order.
type MessageBatch struct {
	Messages []*entity.Message
	Err      error
}

// ChatRepository is the live document store the chat core runs against.
// Watch methods return a stream plus a stop function; the stream is closed
// after stop is called or the context ends. UpdateConversation writes only
// the addressed fields (dotted paths reach into nested maps) and honors the
// Increment and DeleteField sentinels, which is what lets the typing
// throttler, read-receipt tracker, and sender write concurrently to one
// document without clobbering each other.
type ChatRepository interface {
	CreateConversation(ctx context.Context, conv *entity.Conversation) error
	GetConversation(ctx context.Context, id string) (*entity.Conversation, error)
	FindConversationByListingAndBuyer(ctx context.Context, listingID, buyerID string) (*entity.Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error)
	UpdateConversation(ctx context.Context, id string, fields map[string]interface{}) error

	AppendMessage(ctx context.Context, msg *entity.Message) error

	// WatchConversation streams full-document snapshots of one conversation,
	// signalling NotFound when the document is absent.
	WatchConversation(ctx context.Context, id string) (<-chan ConversationUpdate, func())

	// WatchLatestMessages streams the newest limit messages of a
	// conversation, filtered to createdAt > after when after is non-zero.
	WatchLatestMessages(ctx context.Context, conversationID string, after time.Time, limit int) (<-chan MessageBatch, func())

	// MessagesBefore fetches one page of messages strictly older than the
	// cursor (or the newest page when the cursor is zero), newest first,
	// filtered to createdAt > after when after is non-zero.
	MessagesBefore(ctx context.Context, conversationID string, cursor MessageCursor, after time.Time, limit int) ([]*entity.Message, error)
}
