package entity

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// Message is an immutable, append-only item in a conversation's message
// subcollection. Messages are never mutated or deleted; "clearing" a
// conversation only moves a per-participant visibility cutoff.
type Message struct {
	ID             string      `json:"id" firestore:"id"`
	ConversationID string      `json:"conversation_id" firestore:"conversationId"`
	SenderID       string      `json:"sender_id" firestore:"senderId"`
	Type           MessageType `json:"type" firestore:"type"`
	Text           string      `json:"text,omitempty" firestore:"text,omitempty"`
	ImageURL       string      `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	CreatedAt      time.Time   `json:"created_at" firestore:"createdAt"`
}

// Before reports whether m sorts before other in (createdAt, id) ascending
// order, the order every materialized message window uses. The id breaks
// timestamp ties deterministically.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Preview builds the inbox preview cached on the conversation document.
func (m *Message) Preview() *LastMessage {
	return &LastMessage{
		Type:     m.Type,
		Text:     m.Text,
		ImageURL: m.ImageURL,
		SenderID: m.SenderID,
		SentAt:   m.CreatedAt,
	}
}
