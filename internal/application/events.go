package application

import (
	"context"
	"time"
)

// EventType names a domain event emitted after a successful mutation.
type EventType string

const (
	EventEntryReserved        EventType = "entry.reserved"
	EventEntryCancelled       EventType = "entry.cancelled"
	EventPartyCreated         EventType = "party.created"
	EventPartyJoined          EventType = "party.joined"
	EventPartyCapacityReached EventType = "party.capacity_reached"
	EventPartyLeft            EventType = "party.left"
	EventPartyDeleted         EventType = "party.deleted"
)

// Event is the payload handed to a Notifier.
type Event struct {
	Type       EventType `json:"type"`
	ServerID   string    `json:"server_id"`
	UserID     string    `json:"user_id,omitempty"`
	EntryID    string    `json:"entry_id,omitempty"`
	PartyID    string    `json:"party_id,omitempty"`
	Slot       time.Time `json:"slot,omitzero"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers events to interested parties. Implementations must be safe
// for concurrent use.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// NoopNotifier discards events.
type NoopNotifier struct{}

// Publish implements Notifier.
func (NoopNotifier) Publish(context.Context, Event) error { return nil }
