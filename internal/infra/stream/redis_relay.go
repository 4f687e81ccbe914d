package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"auditchain/internal/domain"
)

const (
	channelPrefix      = "auditchain:events:"
	maxResubscribeWait = 5 * time.Second
)

// RedisRelay carries appended events between auditd instances. Publish goes
// out through Redis and Run feeds whatever arrives, including this instance's
// own events, into the local hub. While Run holds no live subscription,
// Publish also delivers locally so this instance's subscribers keep seeing
// events.
type RedisRelay struct {
	client redis.UniversalClient
	hub    *Hub
	logger *slog.Logger

	subscribed atomic.Bool
	retryDelay func(attempt int) time.Duration
}

func NewRedisRelay(client redis.UniversalClient, hub *Hub, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, hub: hub, logger: logger}
}

func Channel(scopeID string) string {
	return channelPrefix + scopeID
}

func (r *RedisRelay) Publish(ctx context.Context, event domain.AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("encode stream event", "scope_id", event.ScopeID, "error", err)
		return
	}
	if err := r.client.Publish(ctx, Channel(event.ScopeID), payload).Err(); err != nil {
		r.logger.Warn("redis publish failed, delivering locally", "scope_id", event.ScopeID, "error", err)
		r.hub.Publish(ctx, event)
		return
	}
	if !r.subscribed.Load() {
		r.hub.Publish(ctx, event)
	}
}

// Subscribed reports whether Run currently holds a live Redis subscription.
func (r *RedisRelay) Subscribed() bool {
	return r.subscribed.Load()
}

// Run relays messages until ctx is done, resubscribing with backoff whenever
// the subscription cannot be established or is lost.
func (r *RedisRelay) Run(ctx context.Context) error {
	if r.client == nil || r.hub == nil {
		return errors.New("redis relay needs a client and a hub")
	}
	for attempt := 0; ; attempt++ {
		err := r.relay(ctx)
		r.subscribed.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			attempt = 0
		}
		delay := r.backoff(attempt)
		r.logger.Warn("redis stream subscription lost, retrying", "attempt", attempt+1, "retry_in", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// relay holds one subscription. It returns nil when the message channel
// closes after a successful subscribe.
func (r *RedisRelay) relay(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.subscribed.Store(true)
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event domain.AuditEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("discarding malformed stream message", "channel", msg.Channel, "error", err)
				continue
			}
			if event.ScopeID == "" {
				event.ScopeID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			r.hub.Publish(ctx, event)
		}
	}
}

func (r *RedisRelay) backoff(attempt int) time.Duration {
	if r.retryDelay != nil {
		return r.retryDelay(attempt)
	}
	delay := 100 * time.Millisecond << min(attempt, 6)
	return min(delay, maxResubscribeWait)
}
