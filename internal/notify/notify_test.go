package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/example/party-scheduler/internal/application"
	"github.com/example/party-scheduler/internal/logging"
)

func TestLogNotifier_WritesStructuredRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	event := application.Event{
		Type:     application.EventPartyJoined,
		ServerID: "srv",
		UserID:   "alice",
		PartyID:  "p1",
		Slot:     time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC),
	}
	if err := notifier.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"event published"`, `"event":"party.joined"`, `"party_id":"p1"`, `"component":"notify"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
	if strings.Contains(out, "entry_id") {
		t.Fatalf("empty identifiers should be omitted: %s", out)
	}
}

func TestLogNotifier_PrefersContextLogger(t *testing.T) {
	t.Parallel()

	var base, scoped bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewTextHandler(&base, nil)))
	ctx := logging.ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&scoped, nil)).With("request_id", "r-1"))

	if err := notifier.Publish(ctx, application.Event{Type: application.EventEntryCancelled, ServerID: "srv"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if base.Len() != 0 {
		t.Fatalf("expected base logger to stay silent, got %s", base.String())
	}
	if !strings.Contains(scoped.String(), "request_id=r-1") {
		t.Fatalf("expected request scoped attributes, got %s", scoped.String())
	}
}

type notifierFunc func(context.Context, application.Event) error

func (f notifierFunc) Publish(ctx context.Context, event application.Event) error { return f(ctx, event) }

func TestFanout_PublishesToAllAndJoinsErrors(t *testing.T) {
	t.Parallel()

	var calls int
	first := errors.New("first down")
	second := errors.New("second down")
	fanout := Fanout{
		notifierFunc(func(context.Context, application.Event) error { calls++; return first }),
		nil,
		notifierFunc(func(context.Context, application.Event) error { calls++; return nil }),
		notifierFunc(func(context.Context, application.Event) error { calls++; return second }),
	}

	err := fanout.Publish(context.Background(), application.Event{Type: application.EventPartyCreated})
	if calls != 3 {
		t.Fatalf("expected every notifier to be called, got %d", calls)
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected joined errors, got %v", err)
	}

	if err := (Fanout{}).Publish(context.Background(), application.Event{}); err != nil {
		t.Fatalf("empty fanout should succeed, got %v", err)
	}
}
