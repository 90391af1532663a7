package testfixtures

import (
	"context"
	"sync"
	"time"

	"github.com/example/party-scheduler/internal/application"
	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
)

// referenceTime is Monday 2024-01-15 12:00 UTC, inside the cycle that starts at
// 06:00 that morning for the default reset time.
var referenceTime = time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

// DefaultResetTime is the reset time given to servers created by fixtures.
const DefaultResetTime = "06:00"

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceResetTime is DefaultResetTime parsed.
func ReferenceResetTime() cycle.ResetTime {
	return cycle.MustParseResetTime(DefaultResetTime)
}

// SlotAt returns hour:minute UTC inside the reference cycle. Hours before the
// 06:00 reset fall on the following calendar day.
func SlotAt(hour, minute int) time.Time {
	day := referenceTime.Day()
	if hour < 6 {
		day++
	}
	return time.Date(referenceTime.Year(), referenceTime.Month(), day, hour, minute, 0, 0, time.UTC)
}

// DefaultGames is the catalog seeded by NewHarness.
func DefaultGames() []persistence.DefaultGame {
	return application.DefaultGamesFromNames([]string{"Valorant", "League of Legends", "Overwatch 2"})
}

// Game returns a reference to a default game.
func Game(id string) persistence.GameRef {
	return persistence.GameRef{Kind: persistence.GameKindDefault, ID: id}
}

// RecordingNotifier captures published events in order.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []application.Event
	err    error
}

// Publish implements application.Notifier.
func (n *RecordingNotifier) Publish(_ context.Context, event application.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

// FailWith makes subsequent Publish calls return err after recording the event.
func (n *RecordingNotifier) FailWith(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (n *RecordingNotifier) Events() []application.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]application.Event, len(n.events))
	copy(out, n.events)
	return out
}

// Types returns the recorded event types in order.
func (n *RecordingNotifier) Types() []application.EventType {
	events := n.Events()
	out := make([]application.EventType, 0, len(events))
	for _, event := range events {
		out = append(out, event.Type)
	}
	return out
}

// Reset forgets recorded events.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}
