package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func (r *firestoreChatRepository) conversations() *firestore.CollectionRef {
	return r.client.Collection("conversations")
}

func (r *firestoreChatRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.conversations().Doc(conversationID).Collection("messages")
}

func (r *firestoreChatRepository) CreateConversation(ctx context.Context, conv *entity.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}

	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := r.conversations().Doc(conv.ID).Set(ctx, conv)
	if err != nil {
		return errors.Internal("Failed to create conversation", err)
	}

	return nil
}

func (r *firestoreChatRepository) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.conversations().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}

	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conv.ID = doc.Ref.ID

	return &conv, nil
}

func (r *firestoreChatRepository) FindConversationByListingAndBuyer(ctx context.Context, listingID, buyerID string) (*entity.Conversation, error) {
	query := r.conversations().
		Where("listing.listingId", "==", listingID).
		Where("buyerId", "==", buyerID).
		Limit(1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.Internal("Failed to query conversation by listing", err)
	}

	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conv.ID = doc.Ref.ID

	return &conv, nil
}

func (r *firestoreChatRepository) ListConversationsByUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error) {
	query := r.conversations().
		Where("participants", "array-contains", userID).
		OrderBy("lastMessageAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while listing conversations for user %s: %v", userID, err)
		return nil, errors.Internal("Failed to list conversations", err)
	}

	var convs []*entity.Conversation
	for _, doc := range docs {
		var conv entity.Conversation
		if err := doc.DataTo(&conv); err != nil {
			logger.Warn("Skipping malformed conversation %s: %v", doc.Ref.ID, err)
			continue
		}
		conv.ID = doc.Ref.ID
		convs = append(convs, &conv)
	}

	return convs, nil
}

// UpdateConversation writes only the addressed fields. Dotted paths reach
// nested map entries; the Increment and DeleteField sentinels map onto
// Firestore's own atomic operations, so concurrent writers merge at the
// field level.
func (r *firestoreChatRepository) UpdateConversation(ctx context.Context, id string, fields map[string]interface{}) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		if inc, ok := value.(repository.Increment); ok {
			value = firestore.Increment(int64(inc))
		} else if value == repository.DeleteField {
			value = firestore.Delete
		}
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}

	_, err := r.conversations().Doc(id).Update(ctx, updates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", nil)
		}
		return errors.Internal("Failed to update conversation", err)
	}
	return nil
}

func (r *firestoreChatRepository) AppendMessage(ctx context.Context, msg *entity.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := r.messages(msg.ConversationID).Doc(msg.ID).Set(ctx, msg)
	if err != nil {
		return errors.Internal("Failed to create message", err)
	}

	return nil
}

func (r *firestoreChatRepository) WatchConversation(ctx context.Context, id string) (<-chan repository.ConversationUpdate, func()) {
	watchCtx, cancel := context.WithCancel(ctx)
	ch := make(chan repository.ConversationUpdate, 1)

	go func() {
		defer close(ch)
		snaps := r.conversations().Doc(id).Snapshots(watchCtx)
		defer snaps.Stop()

		for {
			snap, err := snaps.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled || watchCtx.Err() != nil {
					return
				}
				sendConversationUpdate(watchCtx, ch, repository.ConversationUpdate{Err: err})
				return
			}
			if !snap.Exists() {
				sendConversationUpdate(watchCtx, ch, repository.ConversationUpdate{NotFound: true})
				continue
			}

			var conv entity.Conversation
			if err := snap.DataTo(&conv); err != nil {
				sendConversationUpdate(watchCtx, ch, repository.ConversationUpdate{Err: err})
				continue
			}
			conv.ID = snap.Ref.ID
			sendConversationUpdate(watchCtx, ch, repository.ConversationUpdate{Conversation: &conv})
		}
	}()

	return ch, cancel
}

func sendConversationUpdate(ctx context.Context, ch chan<- repository.ConversationUpdate, u repository.ConversationUpdate) {
	select {
	case ch <- u:
	case <-ctx.Done():
	}
}

func sendMessageBatch(ctx context.Context, ch chan<- repository.MessageBatch, b repository.MessageBatch) {
	select {
	case ch <- b:
	case <-ctx.Done():
	}
}

func (r *firestoreChatRepository) WatchLatestMessages(ctx context.Context, conversationID string, after time.Time, limit int) (<-chan repository.MessageBatch, func()) {
	watchCtx, cancel := context.WithCancel(ctx)
	ch := make(chan repository.MessageBatch, 1)

	query := r.latestMessagesQuery(conversationID, after)
	if limit > 0 {
		query = query.Limit(limit)
	}

	go func() {
		defer close(ch)
		snaps := query.Snapshots(watchCtx)
		defer snaps.Stop()

		for {
			snap, err := snaps.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled || watchCtx.Err() != nil {
					return
				}
				sendMessageBatch(watchCtx, ch, repository.MessageBatch{Err: err})
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				sendMessageBatch(watchCtx, ch, repository.MessageBatch{Err: err})
				continue
			}

			sendMessageBatch(watchCtx, ch, repository.MessageBatch{Messages: parseMessages(docs, conversationID)})
		}
	}()

	return ch, cancel
}

func (r *firestoreChatRepository) MessagesBefore(ctx context.Context, conversationID string, cursor repository.MessageCursor, after time.Time, limit int) ([]*entity.Message, error) {
	query := r.latestMessagesQuery(conversationID, after)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while paging messages for conversation %s: %v", conversationID, err)
		return nil, errors.Internal("Failed to fetch message page", err)
	}

	return parseMessages(docs, conversationID), nil
}

// latestMessagesQuery orders newest first with the message id as the
// secondary sort key, matching the compound pagination cursor.
func (r *firestoreChatRepository) latestMessagesQuery(conversationID string, after time.Time) firestore.Query {
	query := r.messages(conversationID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy("id", firestore.Desc)
	if !after.IsZero() {
		query = query.Where("createdAt", ">", after)
	}
	return query
}

func parseMessages(docs []*firestore.DocumentSnapshot, conversationID string) []*entity.Message {
	msgs := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		var msg entity.Message
		if err := doc.DataTo(&msg); err != nil {
			logger.Warn("Skipping malformed message %s in conversation %s: %v", doc.Ref.ID, conversationID, err)
			continue
		}
		msg.ID = doc.Ref.ID
		msg.ConversationID = conversationID
		msgs = append(msgs, &msg)
	}
	return msgs
}
