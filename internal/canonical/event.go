package canonical

import (
	"fmt"
	"time"
)

// EventType classifies an announcement event.
type EventType string

const (
	EventNew       EventType = "new"
	EventUpdated   EventType = "updated"
	EventReplaced  EventType = "replaced"
	EventCrossList EventType = "cross-list"
	EventWithdrawn EventType = "withdrawn"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventNew, EventUpdated, EventReplaced, EventCrossList, EventWithdrawn:
		return true
	}
	return false
}

// Event is an announcement event: an immutable fact about an e-print's
// lifecycle. Once appended to the ledger an event is never mutated or
// deleted. Uniqueness key: (Identifier, Type, EventID); a replay with an
// identical key is a no-op.
type Event struct {
	EventID     string    `json:"event_id"`
	Identifier  string    `json:"identifier"`
	Version     int       `json:"version"`
	Type        EventType `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Categories  []string  `json:"categories,omitempty"`
	Description string    `json:"description,omitempty"`
	Legacy      bool      `json:"is_legacy,omitempty"`
}

// VersionedIdentifier returns the parsed identifier+version the event
// refers to.
func (e Event) VersionedIdentifier() (VersionedIdentifier, error) {
	id, err := ParseIdentifier(e.Identifier)
	if err != nil {
		return VersionedIdentifier{}, err
	}
	return VersionedIdentifier{Identifier: id, Version: e.Version}, nil
}

// Validate checks the event's own fields. State-dependent checks (ordering
// against previously applied events) belong to the ledger.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type: %q", e.Type)
	}
	if _, err := ParseIdentifier(e.Identifier); err != nil {
		return err
	}
	if e.Version < 1 {
		return fmt.Errorf("event for %s has version %d, want >= 1", e.Identifier, e.Version)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event for %s has no timestamp", e.Identifier)
	}
	return nil
}

// DedupKey returns the ledger deduplication key.
func (e Event) DedupKey() string {
	return fmt.Sprintf("%s/%s/%s", e.Identifier, e.Type, e.EventID)
}

// Equal reports whether two events are field-identical. Category order is
// significant; events are immutable records, not sets.
func (e Event) Equal(other Event) bool {
	if e.EventID != other.EventID ||
		e.Identifier != other.Identifier ||
		e.Version != other.Version ||
		e.Type != other.Type ||
		!e.Timestamp.Equal(other.Timestamp) ||
		e.Description != other.Description ||
		e.Legacy != other.Legacy ||
		len(e.Categories) != len(other.Categories) {
		return false
	}
	for i := range e.Categories {
		if e.Categories[i] != other.Categories[i] {
			return false
		}
	}
	return true
}
