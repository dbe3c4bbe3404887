package pubsub

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/errs"
	"github.com/inventra/ims-event-hub/internal/telemetry"
)

// EventPublisher appends hub-originated events to the platform topics. Each
// operation keys its record so per-entity ordering survives partitioning.
// A circuit breaker sheds publishes while the broker is unreachable instead
// of stacking blocked producers.
type EventPublisher interface {
	PublishWorkflow(ctx context.Context, correlationID string, p *event.WorkflowTransition) error
	PublishLocate(ctx context.Context, correlationID string, eventType event.Type, p *event.LocateDecision) error
	PublishInventory(ctx context.Context, correlationID string, eventType event.Type, p *event.InventorySnapshot) error
}

type eventPublisher struct {
	pub     message.Publisher
	breaker *gobreaker.CircuitBreaker
	metrics *telemetry.Metrics
	log     *slog.Logger
}

func NewEventPublisher(pub message.Publisher, metrics *telemetry.Metrics, log *slog.Logger) EventPublisher {
	return &eventPublisher{
		pub: pub,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kafka-publisher",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		metrics: metrics,
		log:     log.With(slog.String("component", "event_publisher")),
	}
}

func (p *eventPublisher) PublishWorkflow(ctx context.Context, correlationID string, wt *event.WorkflowTransition) error {
	key := wt.WorkflowID
	if key == "" {
		key = correlationID
	}
	return p.publish(ctx, TopicWorkflowEvents, key, correlationID, event.TypeWorkflowTransition, wt)
}

func (p *eventPublisher) PublishLocate(ctx context.Context, correlationID string, eventType event.Type, ld *event.LocateDecision) error {
	return p.publish(ctx, TopicLocateEvents, ld.LocateID, correlationID, eventType, ld)
}

func (p *eventPublisher) PublishInventory(ctx context.Context, correlationID string, eventType event.Type, inv *event.InventorySnapshot) error {
	return p.publish(ctx, TopicInventoryEvents, inv.SecurityID+":"+inv.CalculationType, correlationID, eventType, inv)
}

func (p *eventPublisher) publish(ctx context.Context, topic, partitionKey, correlationID string, eventType event.Type, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errs.Permanent("PUBLISH_ENCODE_FAILED", err)
	}
	env := event.Envelope{
		EventID:       watermill.NewUUID(),
		EventType:     eventType,
		EventTime:     time.Now().UTC(),
		CorrelationID: correlationID,
		Source:        "ims-event-hub",
		SchemaVersion: 1,
		Payload:       raw,
	}
	body, err := json.Marshal(&env)
	if err != nil {
		return errs.Permanent("PUBLISH_ENCODE_FAILED", err)
	}

	msg := message.NewMessage(env.EventID, body)
	msg.Metadata.Set(MetaPartitionKey, partitionKey)
	msg.SetContext(ctx)

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.pub.Publish(topic, msg)
	})
	if err != nil {
		p.metrics.IncPublishFailure(ctx)
		p.log.ErrorContext(ctx, "PUBLISH_FAILED",
			slog.String("topic", topic),
			slog.String("eventType", string(eventType)),
			slog.String("partitionKey", partitionKey),
			slog.Any("error", err),
		)
		return errs.Transient("PUBLISH_FAILED", err)
	}
	return nil
}
