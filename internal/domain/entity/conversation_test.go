package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoleOf(t *testing.T) {
	conv := &Conversation{BuyerID: "b1", SellerID: "s1"}

	role, ok := conv.RoleOf("b1")
	assert.True(t, ok)
	assert.Equal(t, RoleBuyer, role)

	role, ok = conv.RoleOf("s1")
	assert.True(t, ok)
	assert.Equal(t, RoleSeller, role)

	_, ok = conv.RoleOf("other")
	assert.False(t, ok)
}

func TestCounterpart(t *testing.T) {
	assert.Equal(t, RoleSeller, RoleBuyer.Counterpart())
	assert.Equal(t, RoleBuyer, RoleSeller.Counterpart())
}

func TestTypingActiveExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	fresh := TypingState{Seller: true, UpdatedAt: now.Add(-TypingFreshness)}
	assert.True(t, fresh.Active(RoleSeller, now))
	assert.False(t, fresh.Active(RoleBuyer, now))

	stale := TypingState{Seller: true, UpdatedAt: now.Add(-TypingFreshness - time.Millisecond)}
	assert.False(t, stale.Active(RoleSeller, now))

	off := TypingState{UpdatedAt: now}
	assert.False(t, off.Active(RoleSeller, now))
}

func TestListingSnapshotTakesFirstImage(t *testing.T) {
	l := &Listing{ID: "l1", Title: "Kamera analog", Price: 450000, Images: []string{"a.jpg", "b.jpg"}}

	snap := l.Snapshot()
	assert.Equal(t, "l1", snap.ListingID)
	assert.Equal(t, "a.jpg", snap.ImageURL)

	bare := &Listing{ID: "l2"}
	assert.Empty(t, bare.Snapshot().ImageURL)
}

func TestMessageOrdering(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := &Message{ID: "a", CreatedAt: now}
	b := &Message{ID: "b", CreatedAt: now}
	later := &Message{ID: "0", CreatedAt: now.Add(time.Second)}

	assert.True(t, a.Before(b)) // id breaks the tie
	assert.False(t, b.Before(a))
	assert.True(t, a.Before(later))
	assert.False(t, later.Before(a))
}
