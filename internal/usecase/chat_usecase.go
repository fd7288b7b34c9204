package usecase

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"lokapasar/internal/chatsync"
	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/internal/domain/service"
	"lokapasar/internal/infrastructure/ratelimit"
	ws "lokapasar/internal/infrastructure/websocket"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	listingRepo repository.ListingRepository
	uploader    service.FileUploadService
	wsManager   *ws.Manager
	rateLimiter *ratelimit.RateLimiter
}

func NewChatUseCase(
	chatRepo repository.ChatRepository,
	listingRepo repository.ListingRepository,
	uploader service.FileUploadService,
	wsManager *ws.Manager,
) *ChatUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ChatUseCase{
		chatRepo:    chatRepo,
		listingRepo: listingRepo,
		uploader:    uploader,
		wsManager:   wsManager,
		rateLimiter: rateLimiter,
	}
}

type StartConversationInput struct {
	ListingID      string
	InitialMessage string
}

type ConversationResponse struct {
	*entity.Conversation
	Role entity.Role `json:"role"`
}

type MessagePage struct {
	Messages   []*entity.Message `json:"messages"`
	NextCursor repository.MessageCursor
	HasMore    bool `json:"has_more"`
}

// StartConversation opens (or reuses) the buyer's conversation about a
// listing. Each (listing, buyer) pair maps to at most one conversation.
func (uc *ChatUseCase) StartConversation(ctx context.Context, userID string, input StartConversationInput) (*ConversationResponse, error) {
	allowed, waitTime := uc.rateLimiter.Allow(userID, ratelimit.ActionStartConversation)
	if !allowed {
		logger.Warn("StartConversation rate limited: user %s must wait %v", userID, waitTime)
		return nil, errors.TooManyRequests("Too many new conversations", waitTime)
	}

	listing, err := uc.listingRepo.GetByID(ctx, input.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == userID {
		return nil, errors.BadRequest("You cannot start a conversation about your own listing", nil)
	}

	conv, err := uc.chatRepo.FindConversationByListingAndBuyer(ctx, input.ListingID, userID)
	if err != nil {
		if !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}
		now := time.Now()
		conv = &entity.Conversation{
			ID:           uuid.New().String(),
			Participants: []string{userID, listing.SellerID},
			BuyerID:      userID,
			SellerID:     listing.SellerID,
			Listing:      listing.Snapshot(),
			Unread: map[string]int64{
				string(entity.RoleBuyer):  0,
				string(entity.RoleSeller): 0,
			},
			LastReadAt: map[string]time.Time{},
			ClearedAt:  map[string]time.Time{},
			DeletedFor: map[string]bool{
				string(entity.RoleBuyer):  false,
				string(entity.RoleSeller): false,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := uc.chatRepo.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
	}

	if input.InitialMessage != "" {
		sender := chatsync.NewSender(uc.chatRepo, uc.uploader, conv, userID, entity.RoleBuyer, nil)
		msg, err := sender.SendText(ctx, input.InitialMessage)
		if err != nil {
			return nil, err
		}
		conv.LastMessage = msg.Preview()
		conv.LastMessageAt = msg.CreatedAt
		conv.TotalMessages++
		uc.notifyCounterpart(conv, entity.RoleBuyer, msg)
	}

	return &ConversationResponse{Conversation: conv, Role: entity.RoleBuyer}, nil
}

// Inbox lists the user's conversations, newest activity first, skipping
// the ones they have hidden.
func (uc *ChatUseCase) Inbox(ctx context.Context, userID string, limit int) ([]*ConversationResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	convs, err := uc.chatRepo.ListConversationsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]*ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		role, ok := conv.RoleOf(userID)
		if !ok || conv.HiddenFor(role) {
			continue
		}
		result = append(result, &ConversationResponse{Conversation: conv, Role: role})
	}
	return result, nil
}

// GetConversation loads one conversation for a participant.
func (uc *ChatUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationResponse, error) {
	conv, role, err := uc.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return &ConversationResponse{Conversation: conv, Role: role}, nil
}

// MessagesPage fetches one page of history behind the cursor (the newest
// page when the cursor is zero), clipped to the caller's clear horizon.
func (uc *ChatUseCase) MessagesPage(ctx context.Context, userID, conversationID string, cursor repository.MessageCursor, limit int) (*MessagePage, error) {
	conv, role, err := uc.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > chatsync.LiveWindowSize {
		limit = chatsync.LiveWindowSize
	}

	cutoff, _ := conv.ClearCutoff(role)
	msgs, err := uc.chatRepo.MessagesBefore(ctx, conversationID, cursor, cutoff, limit)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{Messages: msgs}
	if len(msgs) == limit {
		// Messages come back newest first; the last one anchors the next page.
		page.NextCursor = repository.CursorFor(msgs[len(msgs)-1])
		page.HasMore = true
	}
	return page, nil
}

// MarkRead zeroes the caller's unread counter and stamps their read time.
func (uc *ChatUseCase) MarkRead(ctx context.Context, userID, conversationID string) error {
	_, role, err := uc.authorize(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	return uc.chatRepo.UpdateConversation(ctx, conversationID, map[string]interface{}{
		"unread." + string(role):     int64(0),
		"lastReadAt." + string(role): time.Now(),
	})
}

// ClearHistory raises the caller's visibility cutoff: everything sent up
// to now disappears for them, while the counterpart keeps the full thread.
func (uc *ChatUseCase) ClearHistory(ctx context.Context, userID, conversationID string) error {
	_, role, err := uc.authorize(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	now := time.Now()
	return uc.chatRepo.UpdateConversation(ctx, conversationID, map[string]interface{}{
		"clearedAt." + string(role):  now,
		"unread." + string(role):     int64(0),
		"lastReadAt." + string(role): now,
	})
}

// Hide soft-deletes the conversation from the caller's inbox. The next
// message from either side brings it back.
func (uc *ChatUseCase) Hide(ctx context.Context, userID, conversationID string) error {
	_, role, err := uc.authorize(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	return uc.chatRepo.UpdateConversation(ctx, conversationID, map[string]interface{}{
		"deletedFor." + string(role): true,
		"updatedAt":                  time.Now(),
	})
}

// SendMessage sends a text message over the REST path, outside any live
// session.
func (uc *ChatUseCase) SendMessage(ctx context.Context, userID, conversationID, text string) (*entity.Message, error) {
	allowed, waitTime := uc.rateLimiter.Allow(userID, ratelimit.ActionSendMessage)
	if !allowed {
		return nil, errors.TooManyRequests("Too many messages", waitTime)
	}

	conv, role, err := uc.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	sender := chatsync.NewSender(uc.chatRepo, uc.uploader, conv, userID, role, nil)
	msg, err := sender.SendText(ctx, text)
	if err != nil {
		return nil, err
	}
	uc.notifyCounterpart(conv, role, msg)
	return msg, nil
}

// SendImage uploads an image and sends it as a message over the REST path.
func (uc *ChatUseCase) SendImage(ctx context.Context, userID, conversationID string, file io.Reader, contentType string, size int64) (*entity.Message, error) {
	allowed, waitTime := uc.rateLimiter.Allow(userID, ratelimit.ActionSendMessage)
	if !allowed {
		return nil, errors.TooManyRequests("Too many messages", waitTime)
	}

	conv, role, err := uc.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	sender := chatsync.NewSender(uc.chatRepo, uc.uploader, conv, userID, role, nil)
	msg, err := sender.SendImage(ctx, file, contentType, size)
	if err != nil {
		return nil, err
	}
	uc.notifyCounterpart(conv, role, msg)
	return msg, nil
}

// OpenSession starts the live core for one conversation view.
func (uc *ChatUseCase) OpenSession(ctx context.Context, userID, conversationID string) (*chatsync.Session, error) {
	return chatsync.OpenSession(ctx, uc.chatRepo, uc.uploader, conversationID, userID)
}

func (uc *ChatUseCase) authorize(ctx context.Context, userID, conversationID string) (*entity.Conversation, entity.Role, error) {
	conv, err := uc.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}
	role, ok := conv.RoleOf(userID)
	if !ok {
		return nil, "", errors.Forbidden("User is not a participant in this conversation", nil)
	}
	return conv, role, nil
}

// notifyCounterpart pushes an inbox-level nudge to the recipient's open
// connections. Their live sessions pick the message up from the store
// directly; this only refreshes inbox views.
func (uc *ChatUseCase) notifyCounterpart(conv *entity.Conversation, senderRole entity.Role, msg *entity.Message) {
	if uc.wsManager == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type":            "inbox_update",
		"conversation_id": conv.ID,
		"last_message":    msg.Preview(),
	})
	if err != nil {
		logger.Error("failed to marshal inbox update: %v", err)
		return
	}
	uc.wsManager.SendToUser(conv.ParticipantID(senderRole.Counterpart()), payload)
}
