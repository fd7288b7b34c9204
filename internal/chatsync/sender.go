package chatsync

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/internal/domain/service"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

// MaxImageBytes is the size ceiling for image messages.
const MaxImageBytes = 8 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Sender appends one message and keeps the conversation's denormalized
// fields consistent: two sequential writes (message insert, then parent
// update), not a transaction. A crash between the two leaves the message
// persisted with stale counters, which is acceptable: the counters are
// best-effort UX, not a ledger.
type Sender struct {
	repo     repository.ChatRepository
	uploader service.FileUploadService
	convID   string
	senderID string
	role     entity.Role
	typing   *TypingThrottler // nil on the REST path

	now   func() time.Time
	newID func() string

	mu            sync.Mutex
	textInFlight  bool
	imageInFlight bool
}

func NewSender(repo repository.ChatRepository, uploader service.FileUploadService, conv *entity.Conversation, senderID string, role entity.Role, typing *TypingThrottler) *Sender {
	return &Sender{
		repo:     repo,
		uploader: uploader,
		convID:   conv.ID,
		senderID: senderID,
		role:     role,
		typing:   typing,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// SendText validates, guards against double submission, and delivers a
// text message.
func (s *Sender) SendText(ctx context.Context, text string) (*entity.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.BadRequest("Message text is required", nil)
	}

	s.mu.Lock()
	if s.textInFlight {
		s.mu.Unlock()
		return nil, errors.Conflict("A message is already being sent")
	}
	s.textInFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.textInFlight = false
		s.mu.Unlock()
	}()

	if s.typing != nil {
		s.typing.ForceStop(ctx)
	}

	msg := &entity.Message{
		ID:             s.newID(),
		ConversationID: s.convID,
		SenderID:       s.senderID,
		Type:           entity.MessageText,
		Text:           text,
		CreatedAt:      s.now(),
	}
	return s.deliver(ctx, msg)
}

// SendImage validates the blob, uploads it, and delivers an image message.
// An upload failure aborts the send with no partial message written.
func (s *Sender) SendImage(ctx context.Context, file io.Reader, contentType string, size int64) (*entity.Message, error) {
	if !allowedImageTypes[contentType] {
		return nil, errors.BadRequest("Unsupported image type", nil)
	}
	if size <= 0 || size > MaxImageBytes {
		return nil, errors.BadRequest("Image must be between 1 byte and 8MB", nil)
	}

	s.mu.Lock()
	if s.imageInFlight {
		s.mu.Unlock()
		return nil, errors.Conflict("An image is already being sent")
	}
	s.imageInFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.imageInFlight = false
		s.mu.Unlock()
	}()

	if s.typing != nil {
		s.typing.ForceStop(ctx)
	}

	url, err := s.uploader.UploadFile(ctx, io.LimitReader(file, MaxImageBytes), contentType, "chat-images/"+s.convID)
	if err != nil {
		return nil, errors.Internal("Failed to upload image", err)
	}

	msg := &entity.Message{
		ID:             s.newID(),
		ConversationID: s.convID,
		SenderID:       s.senderID,
		Type:           entity.MessageImage,
		ImageURL:       url,
		CreatedAt:      s.now(),
	}
	return s.deliver(ctx, msg)
}

func (s *Sender) deliver(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"lastMessage":   msg.Preview(),
		"lastMessageAt": msg.CreatedAt,
		"totalMessages": repository.Increment(1),
		"unread." + string(s.role.Counterpart()): repository.Increment(1),
		// A newly active conversation reappears in both inboxes even if
		// either side had hidden it.
		"deletedFor.buyer":  false,
		"deletedFor.seller": false,
		"updatedAt":         msg.CreatedAt,
	}
	if err := s.repo.UpdateConversation(ctx, s.convID, fields); err != nil {
		// The message is persisted; the preview/counters are stale until
		// the next send.
		logger.Error("conversation update after send failed for %s: %v", s.convID, err)
	}
	return msg, nil
}
