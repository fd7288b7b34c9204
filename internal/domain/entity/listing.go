package entity

import "time"

// Listing is the slice of the classified-ad document the chat core needs:
// identity, seller, and the fields captured into a conversation snapshot.
type Listing struct {
	ID          string    `json:"id" firestore:"id"`
	SellerID    string    `json:"seller_id" firestore:"sellerId"`
	Title       string    `json:"title" firestore:"title"`
	Price       float64   `json:"price" firestore:"price"`
	Images      []string  `json:"images,omitempty" firestore:"images,omitempty"`
	Category    string    `json:"category,omitempty" firestore:"category,omitempty"`
	Subcategory string    `json:"subcategory,omitempty" firestore:"subcategory,omitempty"`
	Status      string    `json:"status" firestore:"status"`
	CreatedAt   time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt   time.Time `json:"updated_at" firestore:"updatedAt"`
}

// Snapshot captures the denormalized view stored on a new conversation.
func (l *Listing) Snapshot() ListingSnapshot {
	snap := ListingSnapshot{
		ListingID:   l.ID,
		Title:       l.Title,
		Price:       l.Price,
		Category:    l.Category,
		Subcategory: l.Subcategory,
	}
	if len(l.Images) > 0 {
		snap.ImageURL = l.Images[0]
	}
	return snap
}
