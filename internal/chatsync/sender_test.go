package chatsync

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/pkg/errors"
)

func newTestSender(repo *memoryChatRepo, uploader *stubUploader) *Sender {
	if uploader == nil {
		uploader = &stubUploader{url: "https://storage.example/img.jpg"}
	}
	s := NewSender(repo, uploader, testConversation(), "buyer-1", entity.RoleBuyer, nil)
	ids := 0
	s.newID = func() string {
		ids++
		return "msg-" + strconv.Itoa(ids)
	}
	return s
}

func TestSendTextRejectsBlank(t *testing.T) {
	s := newTestSender(newMemoryChatRepo(), nil)

	_, err := s.SendText(context.Background(), "   \n\t ")

	require.Error(t, err)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestSendTextDeliversAndUpdatesConversation(t *testing.T) {
	repo := newMemoryChatRepo()
	s := newTestSender(repo, nil)

	msg, err := s.SendText(context.Background(), "  masih ada?  ")

	require.NoError(t, err)
	assert.Equal(t, "masih ada?", msg.Text)
	assert.Equal(t, entity.MessageText, msg.Type)
	require.Len(t, repo.messages["conv-1"], 1)

	fields := repo.lastUpdate()
	require.NotNil(t, fields)
	assert.Equal(t, repository.Increment(1), fields["totalMessages"])
	assert.Equal(t, repository.Increment(1), fields["unread.seller"])
	assert.Equal(t, false, fields["deletedFor.buyer"])
	assert.Equal(t, false, fields["deletedFor.seller"])
	assert.Equal(t, msg.CreatedAt, fields["lastMessageAt"])

	preview, ok := fields["lastMessage"].(*entity.LastMessage)
	require.True(t, ok)
	assert.Equal(t, "masih ada?", preview.Text)
	assert.Equal(t, "buyer-1", preview.SenderID)
}

func TestSendTextSurvivesCounterUpdateFailure(t *testing.T) {
	repo := newMemoryChatRepo()
	repo.updateErr = errors.Internal("store down", nil)
	s := newTestSender(repo, nil)

	msg, err := s.SendText(context.Background(), "halo")

	// The message write succeeded; stale counters are not an error.
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Len(t, repo.messages["conv-1"], 1)
}

func TestSendTextGuardsDoubleSubmission(t *testing.T) {
	repo := newMemoryChatRepo()
	gate := make(chan struct{})
	repo.appendGate = gate
	s := newTestSender(repo, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.SendText(context.Background(), "first")
		assert.NoError(t, err)
	}()

	// Wait until the first send holds the guard, then submit again.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.textInFlight
	}, time.Second, time.Millisecond)

	_, err := s.SendText(context.Background(), "second")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "CONFLICT"))

	close(gate)
	wg.Wait()
	assert.Len(t, repo.messages["conv-1"], 1)
}

func TestSendImageValidatesTypeAndSize(t *testing.T) {
	s := newTestSender(newMemoryChatRepo(), nil)
	ctx := context.Background()

	_, err := s.SendImage(ctx, strings.NewReader("x"), "application/pdf", 1)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))

	_, err = s.SendImage(ctx, strings.NewReader("x"), "image/png", MaxImageBytes+1)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))

	_, err = s.SendImage(ctx, strings.NewReader(""), "image/png", 0)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestSendImageAbortsWhenUploadFails(t *testing.T) {
	repo := newMemoryChatRepo()
	uploader := &stubUploader{err: errors.Internal("bucket unavailable", nil)}
	s := newTestSender(repo, uploader)

	_, err := s.SendImage(context.Background(), strings.NewReader("img"), "image/jpeg", 3)

	require.Error(t, err)
	assert.Empty(t, repo.messages["conv-1"])
	assert.Equal(t, 0, repo.updateCount())
}

func TestSendImageDelivers(t *testing.T) {
	repo := newMemoryChatRepo()
	s := newTestSender(repo, nil)

	msg, err := s.SendImage(context.Background(), strings.NewReader("img"), "image/webp", 3)

	require.NoError(t, err)
	assert.Equal(t, entity.MessageImage, msg.Type)
	assert.Equal(t, "https://storage.example/img.jpg", msg.ImageURL)

	fields := repo.lastUpdate()
	require.NotNil(t, fields)
	preview := fields["lastMessage"].(*entity.LastMessage)
	assert.Equal(t, entity.MessageImage, preview.Type)
	assert.Equal(t, msg.ImageURL, preview.ImageURL)
}
