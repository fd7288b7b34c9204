package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketDrainsAndReportsWait(t *testing.T) {
	tb := NewTokenBucket(2, 1, time.Minute)

	allowed, _ := tb.Allow()
	assert.True(t, allowed)
	allowed, _ = tb.Allow()
	assert.True(t, allowed)

	allowed, wait := tb.Allow()
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(1, 1, 10*time.Millisecond)

	allowed, _ := tb.Allow()
	require.True(t, allowed)
	allowed, _ = tb.Allow()
	require.False(t, allowed)

	time.Sleep(25 * time.Millisecond)

	allowed, _ = tb.Allow()
	assert.True(t, allowed)
}

func TestRateLimiterIsolatesUsersAndActions(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 5; i++ {
		allowed, _ := rl.Allow("user-1", ActionStartConversation)
		require.True(t, allowed)
	}
	allowed, _ := rl.Allow("user-1", ActionStartConversation)
	assert.False(t, allowed)

	// A different user and a different action are untouched.
	allowed, _ = rl.Allow("user-2", ActionStartConversation)
	assert.True(t, allowed)
	allowed, _ = rl.Allow("user-1", ActionSendMessage)
	assert.True(t, allowed)
}

func TestRateLimiterDefaultsUnknownActions(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < defaultLimit.maxTokens; i++ {
		allowed, _ := rl.Allow("user-1", "misc")
		require.True(t, allowed)
	}
	allowed, _ := rl.Allow("user-1", "misc")
	assert.False(t, allowed)
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter()
	rl.Allow("user-1", ActionSendMessage)

	rl.mutex.RLock()
	bucket := rl.buckets["user-1:"+ActionSendMessage]
	rl.mutex.RUnlock()
	require.NotNil(t, bucket)

	bucket.mutex.Lock()
	bucket.lastRefill = time.Now().Add(-2 * time.Hour)
	bucket.mutex.Unlock()

	rl.Cleanup()

	rl.mutex.RLock()
	_, exists := rl.buckets["user-1:"+ActionSendMessage]
	rl.mutex.RUnlock()
	assert.False(t, exists)
}
