// Package notify delivers application events to external subscribers.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/party-scheduler/internal/application"
	"github.com/example/party-scheduler/internal/logging"
)

// LogNotifier writes every event as a structured log record.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier logging through logger, or slog.Default when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notify"))}
}

// Publish implements application.Notifier.
func (n *LogNotifier) Publish(ctx context.Context, event application.Event) error {
	logger := n.logger
	if scoped := logging.FromContext(ctx); scoped != nil {
		logger = scoped.With(slog.String("component", "notify"))
	}

	attrs := []slog.Attr{
		slog.String("event", string(event.Type)),
		slog.String("server_id", event.ServerID),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.EntryID != "" {
		attrs = append(attrs, slog.String("entry_id", event.EntryID))
	}
	if event.PartyID != "" {
		attrs = append(attrs, slog.String("party_id", event.PartyID))
	}
	if !event.Slot.IsZero() {
		attrs = append(attrs, slog.Time("slot", event.Slot))
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "event published", attrs...)
	return nil
}

// Fanout publishes each event to every notifier. All notifiers are attempted
// and their errors are joined.
type Fanout []application.Notifier

// Publish implements application.Notifier.
func (f Fanout) Publish(ctx context.Context, event application.Event) error {
	var errs []error
	for _, notifier := range f {
		if notifier == nil {
			continue
		}
		if err := notifier.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
