package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/party-scheduler/internal/application"
)

const (
	defaultChannelPrefix = "scheduler:events"
	defaultHistory       = 50
	defaultHistoryTTL    = 48 * time.Hour
)

// RedisOptions configures a RedisPublisher.
type RedisOptions struct {
	// ChannelPrefix is joined with the server id to form the pub/sub channel.
	ChannelPrefix string
	// History is how many recent events are kept per server for late subscribers.
	// Negative disables the history list.
	History    int
	HistoryTTL time.Duration
}

// RedisPublisher publishes events as JSON on a per-server Redis channel and
// keeps a bounded list of recent events next to it.
type RedisPublisher struct {
	client     redis.UniversalClient
	prefix     string
	history    int
	historyTTL time.Duration
}

// NewRedisPublisher wraps client. Zero options fall back to defaults.
func NewRedisPublisher(client redis.UniversalClient, opts RedisOptions) *RedisPublisher {
	p := &RedisPublisher{
		client:     client,
		prefix:     opts.ChannelPrefix,
		history:    opts.History,
		historyTTL: opts.HistoryTTL,
	}
	if p.prefix == "" {
		p.prefix = defaultChannelPrefix
	}
	if p.history == 0 {
		p.history = defaultHistory
	}
	if p.historyTTL <= 0 {
		p.historyTTL = defaultHistoryTTL
	}
	return p
}

// Channel returns the pub/sub channel carrying serverID's events.
func (p *RedisPublisher) Channel(serverID string) string {
	return p.prefix + ":" + serverID
}

func (p *RedisPublisher) historyKey(serverID string) string {
	return p.Channel(serverID) + ":recent"
}

// Publish implements application.Notifier.
func (p *RedisPublisher) Publish(ctx context.Context, event application.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode %s event: %w", event.Type, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.Channel(event.ServerID), payload)
		if p.history > 0 {
			key := p.historyKey(event.ServerID)
			pipe.LPush(ctx, key, payload)
			pipe.LTrim(ctx, key, 0, int64(p.history-1))
			pipe.Expire(ctx, key, p.historyTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("notify: publish %s to redis: %w", event.Type, err)
	}
	return nil
}

// Recent returns up to limit of serverID's most recent events, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, serverID string, limit int) ([]application.Event, error) {
	if limit <= 0 || p.history <= 0 {
		return []application.Event{}, nil
	}
	if limit > p.history {
		limit = p.history
	}

	raw, err := p.client.LRange(ctx, p.historyKey(serverID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("notify: read recent events: %w", err)
	}
	events := make([]application.Event, 0, len(raw))
	for _, item := range raw {
		var event application.Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("notify: decode recent event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
