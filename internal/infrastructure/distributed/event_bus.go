package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "facestream:events"

// EventBus publishes lifecycle events over Redis pub/sub and delivers the
// events of other instances to a handler.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
	ready  chan struct{}
}

var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new event bus
func NewEventBus(client redis.UniversalClient, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *domain.Event) error {
	if event.InstanceID == "" {
		event.InstanceID = eb.instanceID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"camera_id", event.CameraID,
		"session_id", event.SessionID,
	)
	return nil
}

// Ready is closed once Subscribe is receiving.
func (eb *EventBus) Ready() <-chan struct{} {
	return eb.ready
}

// Subscribe blocks, calling handler for each event published by another
// instance, until ctx is done or the bus is closed.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*domain.Event) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	close(eb.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
