package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeartbeatMonitor remembers the last heartbeat value.
type HeartbeatMonitor struct {
	mu   sync.Mutex
	last string
}

// Update records value and reports whether it differs from the previous one.
// An empty value is ignored.
func (h *HeartbeatMonitor) Update(value string) bool {
	if value == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if value == h.last {
		return false
	}
	h.last = value
	return true
}

// HeartbeatSource delivers heartbeat values to a callback until ctx is done.
type HeartbeatSource interface {
	Run(ctx context.Context, fn func(value string)) error
}

// PollingHeartbeat emits the value of a function at a fixed interval.
type PollingHeartbeat struct {
	interval time.Duration
	value    func(ctx context.Context) (string, error)
	log      *slog.Logger
}

// NewPollingHeartbeat creates a heartbeat polling value every interval.
func NewPollingHeartbeat(interval time.Duration, value func(ctx context.Context) (string, error), log *slog.Logger) *PollingHeartbeat {
	if log == nil {
		log = slog.Default()
	}
	return &PollingHeartbeat{interval: interval, value: value, log: log}
}

func (p *PollingHeartbeat) Run(ctx context.Context, fn func(value string)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		value, err := p.value(ctx)
		if err != nil {
			p.log.Warn("Heartbeat poll failed", "err", err)
			continue
		}
		fn(value)
	}
}

// RedisHeartbeat delivers the payloads published on a Redis channel.
type RedisHeartbeat struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisHeartbeat creates a heartbeat subscribed to channel.
func NewRedisHeartbeat(client redis.UniversalClient, channel string) *RedisHeartbeat {
	return &RedisHeartbeat{client: client, channel: channel}
}

func (r *RedisHeartbeat) Run(ctx context.Context, fn func(value string)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}

// PublishHeartbeat announces value to every RedisHeartbeat on channel.
func PublishHeartbeat(ctx context.Context, client redis.Cmdable, channel, value string) error {
	return client.Publish(ctx, channel, value).Err()
}
