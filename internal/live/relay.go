package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Relay bridges hubs across service instances over Redis pub/sub, so a
// subscriber connected to one instance observes writes settled on any
// other. Losing the relay degrades to local-only delivery; it never
// blocks or fails local publishes.
type Relay struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        *Hub
}

type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// broadcastTimeout bounds a single publish so a wedged Redis cannot
// stall publishers or hold up shutdown.
const broadcastTimeout = 5 * time.Second

// NewRelay connects to Redis and verifies connectivity.
func NewRelay(ctx context.Context, address, password string, db int, channel string, hub *Hub) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Relay{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		hub:        hub,
	}, nil
}

// Start begins consuming remote events in a goroutine until ctx is done.
func (r *Relay) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Relay) run(ctx context.Context) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	slog.Info("event relay started", "channel", r.channel, "instance", r.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("event relay stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				slog.Error("event relay subscription closed")
				return
			}

			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("invalid relay payload", "error", err)
				continue
			}
			if env.Origin == r.instanceID {
				continue
			}

			r.hub.publishLocal(env.Event)
		}
	}
}

// Broadcast publishes an event for other instances to pick up.
func (r *Relay) Broadcast(ev Event) {
	payload, err := json.Marshal(relayEnvelope{Origin: r.instanceID, Event: ev})
	if err != nil {
		slog.Error("failed to marshal relay event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		slog.Warn("failed to broadcast event", "error", err)
	}
}

// Close closes the Redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}
