package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ringline/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventsChannel = "ringline:events"

type EventType string

const (
	// EventIdentityUpdated is published when an identity is created or
	// renamed.
	EventIdentityUpdated EventType = "identity.updated"
)

type Event struct {
	Type       EventType         `json:"type"`
	InstanceID string            `json:"instance_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Identity   domain.IdentityID `json:"identity,omitempty"`
}

// EventBus fans directory changes out to every server sharing the Redis
// instance. Events an instance publishes are not delivered back to it.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	logger     *zap.SugaredLogger
}

func NewEventBus(client redis.UniversalClient, instanceID string, logger *zap.SugaredLogger) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event", "type", event.Type, "identity", event.Identity)
	return nil
}

// Subscribe calls handler for every event from other instances until ctx is
// done. It returns once the subscription is confirmed or fails.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(Event)) error {
	pubsub := eb.client.Subscribe(ctx, eventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", eventsChannel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
					continue
				}
				if event.InstanceID == eb.instanceID {
					continue
				}
				handler(event)
			}
		}
	}()
	return nil
}
