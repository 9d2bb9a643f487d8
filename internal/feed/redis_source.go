package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Newton-b/raphtrack-core/internal/models"
)

const (
	// Pub/sub channels the platform publishes feed traffic on.
	ChannelNotifications  = "raphtrack:notifications"
	ChannelShipmentEvents = "raphtrack:shipments"
	// MetricsKey holds the latest JSON-encoded metrics snapshot.
	MetricsKey = "raphtrack:metrics:latest"
	// SeedKey holds a JSON array of initial shipment states.
	SeedKey = "raphtrack:shipments:seed"

	sourceQueueLimit = 256
)

// RedisSource feeds a session from Redis: notifications and shipment events
// arrive over pub/sub and are buffered until the session's producers poll
// them; the metrics snapshot is read from a key on each metrics tick.
type RedisSource struct {
	client *redis.Client
	logger *log.Logger

	mu            sync.Mutex
	pubsub        *redis.PubSub
	notifications []models.Notification
	shipmentQueue []models.ShipmentEvent
	lastMetrics   string // raw payload of the last snapshot handed out
}

func NewRedisSource(client *redis.Client, logger *log.Logger) *RedisSource {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisSource{client: client, logger: logger}
}

// Handshake pings Redis and (re)establishes the pub/sub subscription. Safe
// to call repeatedly; a reconnecting session reruns it for every attempt.
func (r *RedisSource) Handshake(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}
	pubsub := r.client.Subscribe(ctx, ChannelNotifications, ChannelShipmentEvents)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("%w: subscribe: %v", ErrSourceUnavailable, err)
	}
	r.pubsub = pubsub
	go r.receive(pubsub)
	return nil
}

func (r *RedisSource) receive(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		switch msg.Channel {
		case ChannelNotifications:
			var n models.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				r.logger.Printf("feed: undecodable notification payload: %v", err)
				continue
			}
			r.mu.Lock()
			r.notifications = appendBounded(r.notifications, n)
			r.mu.Unlock()
		case ChannelShipmentEvents:
			var ev models.ShipmentEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Printf("feed: undecodable shipment payload: %v", err)
				continue
			}
			r.mu.Lock()
			r.shipmentQueue = appendBounded(r.shipmentQueue, ev)
			r.mu.Unlock()
		}
	}
	// Channel closed: the subscription died. The next heartbeat notices via
	// Ping or the next Handshake resubscribes.
	r.mu.Lock()
	r.pubsub = nil
	r.mu.Unlock()
}

func appendBounded[T any](queue []T, item T) []T {
	if len(queue) >= sourceQueueLimit {
		queue = queue[1:]
	}
	return append(queue, item)
}

func (r *RedisSource) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	r.mu.Lock()
	alive := r.pubsub != nil
	r.mu.Unlock()
	if !alive {
		return fmt.Errorf("%w: pub/sub subscription lost", ErrSourceUnavailable)
	}
	return nil
}

func (r *RedisSource) PollMetrics(ctx context.Context) (*models.LiveMetricsSnapshot, error) {
	raw, err := r.client.Get(ctx, MetricsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	r.mu.Lock()
	unchanged := raw == r.lastMetrics
	r.lastMetrics = raw
	r.mu.Unlock()
	if unchanged {
		return nil, nil
	}

	var snap models.LiveMetricsSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("feed: undecodable metrics snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisSource) PollNotifications(ctx context.Context) ([]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notifications
	r.notifications = nil
	return out, nil
}

func (r *RedisSource) PollShipmentEvents(ctx context.Context) ([]models.ShipmentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.shipmentQueue
	r.shipmentQueue = nil
	return out, nil
}

func (r *RedisSource) SeedShipments(ctx context.Context) ([]models.ShipmentLiveState, error) {
	raw, err := r.client.Get(ctx, SeedKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	var seeds []models.ShipmentLiveState
	if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
		return nil, fmt.Errorf("feed: undecodable shipment seed: %w", err)
	}
	return seeds, nil
}

// Close tears down the pub/sub subscription.
func (r *RedisSource) Close() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()
	if pubsub != nil {
		return pubsub.Close()
	}
	return nil
}
