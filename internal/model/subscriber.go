package model

import "time"

// Subscriber is a newsletter recipient. Records are never deleted; unsubscribing
// only clears IsActive.
type Subscriber struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         *string    `json:"name,omitempty"`
	SubscribedAt time.Time  `json:"subscribedAt"`
	IsActive     bool       `json:"isActive"`
	ConfirmedAt  *time.Time `json:"confirmedAt,omitempty"`
	// TokenHash is the SHA-256 of the pending confirmation token. Empty once confirmed.
	TokenHash      string     `json:"-"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	// ConfirmationToken carries the plaintext token back to the caller of Subscribe.
	// It is never persisted.
	ConfirmationToken string `json:"-"`
}

// IsConfirmed reports whether the double opt-in token has been redeemed
func (s *Subscriber) IsConfirmed() bool {
	return s.ConfirmedAt != nil
}

// IsPending reports whether the subscriber still has to confirm
func (s *Subscriber) IsPending() bool {
	return s.IsActive && s.ConfirmedAt == nil
}

// IsDeliverable reports whether campaigns may be sent to this subscriber
func (s *Subscriber) IsDeliverable() bool {
	return s.IsActive && s.ConfirmedAt != nil
}

// SubscriberStats summarizes the subscriber base
type SubscriberStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Pending int `json:"pending"`
	// Recent counts subscribers whose subscription started within the last 30 days
	Recent int `json:"recent"`
}
