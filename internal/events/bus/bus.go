// Package bus provides event bus abstractions for agentdeck.
//
// Session lifecycle notifications and work-state change events flow through
// the bus; the in-memory implementation is the default, NATS is used when a
// server URL is configured.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects used on the bus. Session subjects embed the session id, e.g.
// "session.abc123.started"; workstate subjects embed the team name.
const (
	SubjectSessionStarted   = "started"
	SubjectSessionCycle     = "cycle"
	SubjectSessionCompleted = "completed"
)

// SessionSubject builds a session lifecycle subject.
func SessionSubject(sessionID, kind string) string {
	return "session." + sessionID + "." + kind
}

// WorkstateSubject builds a work-state change subject for a team.
func WorkstateSubject(team string) string {
	return "workstate." + team + ".changed"
}

// Event represents a message on the event bus
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // Component that produced the event
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler is a function that handles an event
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus interface for event bus operations
type EventBus interface {
	// Publish sends an event to a subject
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern.
	// Patterns use NATS-style wildcards: * (single token) and > (rest).
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}
