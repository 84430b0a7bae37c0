package store

import (
	"context"
	"time"
)

// EventRecord is one webhook event the relay has claimed.
type EventRecord struct {
	EventID    string     `json:"event_id"`
	UserID     string     `json:"user_id"`
	ReceivedAt time.Time  `json:"received_at"`
	HandledAt  *time.Time `json:"handled_at,omitempty"`
}

// EventLog remembers webhook event IDs so a platform redelivery is handled once.
type EventLog interface {
	// ClaimEvent records eventID for userID. It reports false when the ID was claimed before.
	ClaimEvent(ctx context.Context, eventID, userID string) (bool, error)
	// CompleteEvent marks a claimed event as handled.
	CompleteEvent(ctx context.Context, eventID string) error
	// PruneEvents forgets events received before cutoff and returns how many were removed.
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}
