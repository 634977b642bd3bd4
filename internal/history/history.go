package history

import (
	"context"
	"time"
)

// EventType defines the kind of causality mutation.
type EventType string

const (
	EventRecorded EventType = "recorded"
	EventExpired  EventType = "expired"
)

// Reasons attached to EventExpired.
const (
	ReasonExpired      = "expired"
	ReasonUnparsable   = "unparsable"
	ReasonUnknownCause = "unknown_cause"
)

// Event is one change to a build configuration's clean checkout causes,
// exported to external systems for auditing.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	// Owner is the build configuration whose checkout was cleaned.
	Owner string `json:"owner"`
	// Cause is the build configuration that caused the clean checkout.
	Cause  string `json:"cause"`
	Reason string `json:"reason,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
