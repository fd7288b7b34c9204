package entity

import "time"

// Role identifies which side of a conversation a participant is on.
// It is always derived from the buyer/seller ids on the conversation,
// never stored per user.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

func (r Role) Counterpart() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

// TypingFreshness is how long a typing flag is trusted after its last
// update. A writer that crashes before sending its stop signal leaves a
// stale flag behind; readers expire it after this window instead.
const TypingFreshness = 8 * time.Second

// ListingSnapshot is the denormalized listing data captured when a
// conversation is created. It is not kept in sync with the listing.
type ListingSnapshot struct {
	ListingID   string  `json:"listing_id" firestore:"listingId"`
	Title       string  `json:"title" firestore:"title"`
	Price       float64 `json:"price" firestore:"price"`
	ImageURL    string  `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	Category    string  `json:"category,omitempty" firestore:"category,omitempty"`
	Subcategory string  `json:"subcategory,omitempty" firestore:"subcategory,omitempty"`
}

// LastMessage is the cached preview shown in the inbox, overwritten on
// every send.
type LastMessage struct {
	Type     MessageType `json:"type" firestore:"type"`
	Text     string      `json:"text,omitempty" firestore:"text,omitempty"`
	ImageURL string      `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	SenderID string      `json:"sender_id" firestore:"senderId"`
	SentAt   time.Time   `json:"sent_at" firestore:"sentAt"`
}

// TypingState is an ephemeral presence signal shared by both participants.
type TypingState struct {
	Buyer     bool      `json:"buyer" firestore:"buyer"`
	Seller    bool      `json:"seller" firestore:"seller"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
	By        string    `json:"by,omitempty" firestore:"by,omitempty"`
}

// Active reports whether the given role's typing flag is set and still
// within the freshness window at the given time.
func (t TypingState) Active(role Role, now time.Time) bool {
	var flag bool
	if role == RoleBuyer {
		flag = t.Buyer
	} else {
		flag = t.Seller
	}
	if !flag {
		return false
	}
	return now.Sub(t.UpdatedAt) <= TypingFreshness
}

// Conversation is a 1:1 buyer/seller thread anchored to one listing.
// The per-role maps (Unread, LastReadAt, ClearedAt, DeletedFor) are keyed
// by the string form of Role.
type Conversation struct {
	ID            string               `json:"id" firestore:"id"`
	Participants  []string             `json:"participants" firestore:"participants"`
	BuyerID       string               `json:"buyer_id" firestore:"buyerId"`
	SellerID      string               `json:"seller_id" firestore:"sellerId"`
	Listing       ListingSnapshot      `json:"listing" firestore:"listing"`
	LastMessage   *LastMessage         `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt time.Time            `json:"last_message_at" firestore:"lastMessageAt"`
	TotalMessages int64                `json:"total_messages" firestore:"totalMessages"`
	Unread        map[string]int64     `json:"unread" firestore:"unread"`
	LastReadAt    map[string]time.Time `json:"last_read_at" firestore:"lastReadAt"`
	Typing        TypingState          `json:"typing" firestore:"typing"`
	ClearedAt     map[string]time.Time `json:"cleared_at,omitempty" firestore:"clearedAt,omitempty"`
	DeletedFor    map[string]bool      `json:"deleted_for,omitempty" firestore:"deletedFor,omitempty"`
	CreatedAt     time.Time            `json:"created_at" firestore:"createdAt"`
	UpdatedAt     time.Time            `json:"updated_at" firestore:"updatedAt"`
}

// RoleOf derives the role of a user in this conversation. ok is false
// when the user is not a participant.
func (c *Conversation) RoleOf(userID string) (Role, bool) {
	switch userID {
	case c.BuyerID:
		return RoleBuyer, true
	case c.SellerID:
		return RoleSeller, true
	}
	return "", false
}

// ParticipantID returns the user id holding the given role.
func (c *Conversation) ParticipantID(role Role) string {
	if role == RoleBuyer {
		return c.BuyerID
	}
	return c.SellerID
}

func (c *Conversation) UnreadFor(role Role) int64 {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[string(role)]
}

// LastReadBy returns when the given role's owner last marked the
// conversation read. ok is false when they never have.
func (c *Conversation) LastReadBy(role Role) (time.Time, bool) {
	t, ok := c.LastReadAt[string(role)]
	return t, ok
}

// ClearCutoff returns the given role's visibility horizon. Only messages
// created strictly after the cutoff are visible to that role.
func (c *Conversation) ClearCutoff(role Role) (time.Time, bool) {
	t, ok := c.ClearedAt[string(role)]
	return t, ok
}

// HiddenFor reports whether the given role's owner has soft-hidden this
// conversation from their inbox.
func (c *Conversation) HiddenFor(role Role) bool {
	if c.DeletedFor == nil {
		return false
	}
	return c.DeletedFor[string(role)]
}
