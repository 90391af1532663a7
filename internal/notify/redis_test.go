package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/party-scheduler/internal/application"
)

// fakeRedis answers commands from a hook so that no connection is ever dialed.
type fakeRedis struct {
	mu        sync.Mutex
	published map[string][]string
	lists     map[string][]string
	expires   map[string]time.Duration
	fail      error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		published: make(map[string][]string),
		lists:     make(map[string][]string),
		expires:   make(map[string]time.Duration),
	}
}

func (f *fakeRedis) client() *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(f)
	return client
}

func (f *fakeRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (f *fakeRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		return f.handle(cmd)
	}
}

func (f *fakeRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if err := f.handle(cmd); err != nil {
				return err
			}
		}
		return nil
	}
}

func (f *fakeRedis) handle(cmd redis.Cmder) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		cmd.SetErr(f.fail)
		return f.fail
	}

	args := cmd.Args()
	switch cmd.Name() {
	case "publish":
		channel := fmt.Sprint(args[1])
		f.published[channel] = append(f.published[channel], asString(args[2]))
	case "lpush":
		key := fmt.Sprint(args[1])
		for _, value := range args[2:] {
			f.lists[key] = append([]string{asString(value)}, f.lists[key]...)
		}
	case "ltrim":
		key := fmt.Sprint(args[1])
		stop := int(args[3].(int64))
		if len(f.lists[key]) > stop+1 {
			f.lists[key] = f.lists[key][:stop+1]
		}
	case "expire":
		f.expires[fmt.Sprint(args[1])] = time.Duration(args[2].(int64)) * time.Second
	case "lrange":
		key := fmt.Sprint(args[1])
		stop := int(args[3].(int64))
		values := f.lists[key]
		if len(values) > stop+1 {
			values = values[:stop+1]
		}
		cmd.(*redis.StringSliceCmd).SetVal(append([]string(nil), values...))
	case "ping":
		cmd.(*redis.StatusCmd).SetVal("PONG")
	}
	return nil
}

func asString(value any) string {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(value)
}

func TestRedisPublisher_PublishesJSONOnServerChannel(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	publisher := NewRedisPublisher(fake.client(), RedisOptions{ChannelPrefix: "test", History: 2, HistoryTTL: time.Hour})
	ctx := context.Background()

	slot := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)
	for i, eventType := range []application.EventType{application.EventPartyCreated, application.EventPartyJoined, application.EventPartyCapacityReached} {
		event := application.Event{Type: eventType, ServerID: "srv", PartyID: "p1", UserID: fmt.Sprintf("u%d", i), Slot: slot}
		if err := publisher.Publish(ctx, event); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}

	messages := fake.published["test:srv"]
	if len(messages) != 3 {
		t.Fatalf("expected 3 published messages, got %d", len(messages))
	}
	var decoded application.Event
	if err := json.Unmarshal([]byte(messages[0]), &decoded); err != nil {
		t.Fatalf("published payload is not JSON: %v", err)
	}
	if decoded.Type != application.EventPartyCreated || !decoded.Slot.Equal(slot) {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
	if fake.expires["test:srv:recent"] != time.Hour {
		t.Fatalf("expected history ttl to be refreshed, got %v", fake.expires)
	}

	recent, err := publisher.Recent(ctx, "srv", 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected history bounded to 2, got %d", len(recent))
	}
	if recent[0].Type != application.EventPartyCapacityReached || recent[1].Type != application.EventPartyJoined {
		t.Fatalf("expected newest first, got %+v", recent)
	}
}

func TestRedisPublisher_WrapsFailures(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	fake.fail = errors.New("connection refused")
	publisher := NewRedisPublisher(fake.client(), RedisOptions{})

	err := publisher.Publish(context.Background(), application.Event{Type: application.EventEntryReserved, ServerID: "srv"})
	if !errors.Is(err, fake.fail) {
		t.Fatalf("expected wrapped redis error, got %v", err)
	}
	if publisher.Channel("srv") != "scheduler:events:srv" {
		t.Fatalf("unexpected default channel %s", publisher.Channel("srv"))
	}
	if err := publisher.Ping(context.Background()); !errors.Is(err, fake.fail) {
		t.Fatalf("expected ping failure, got %v", err)
	}
}

func TestRedisPublisher_HistoryDisabled(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	publisher := NewRedisPublisher(fake.client(), RedisOptions{History: -1})

	if err := publisher.Publish(context.Background(), application.Event{Type: application.EventPartyLeft, ServerID: "srv"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(fake.lists) != 0 {
		t.Fatalf("expected no history list, got %v", fake.lists)
	}
	recent, err := publisher.Recent(context.Background(), "srv", 5)
	if err != nil || len(recent) != 0 {
		t.Fatalf("expected empty history, got %v (%v)", recent, err)
	}
}
