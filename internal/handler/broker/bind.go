package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/errs"
	"github.com/inventra/ims-event-hub/internal/telemetry"
)

const (
	dedupCacheSize = 65536
	staleCacheSize = 65536
)

// EventHandler is a topic handler after envelope decode and payload binding.
type EventHandler func(ctx context.Context, env *event.Envelope, payload any) error

// EntityKeyFunc derives the per-entity ordering key for staleness
// suppression; an empty key disables the check for that record.
type EntityKeyFunc func(env *event.Envelope, payload any) string

// Binder turns typed handlers into watermill handlers. It owns the two
// suppression caches shared by every topic: redelivered eventIds are dropped,
// and records older than the newest already seen for their entity are
// dropped. Both checks are best effort; at-least-once delivery is the floor.
type Binder struct {
	dedup   *lru.Cache[string, struct{}]
	newest  *lru.Cache[string, time.Time]
	metrics *telemetry.Metrics
	log     *slog.Logger
}

func NewBinder(metrics *telemetry.Metrics, log *slog.Logger) (*Binder, error) {
	dedup, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	newest, err := lru.New[string, time.Time](staleCacheSize)
	if err != nil {
		return nil, err
	}
	return &Binder{
		dedup:   dedup,
		newest:  newest,
		metrics: metrics,
		log:     log.With(slog.String("component", "broker")),
	}, nil
}

// Bind wraps h with panic containment, envelope decode, payload binding and
// the suppression caches.
func (b *Binder) Bind(entityKey EntityKeyFunc, h EventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		defer func() {
			if r := recover(); r != nil {
				// A payload that panics the handler will panic again on
				// redelivery; quarantine it.
				err = errs.Permanent("HANDLER_PANIC", fmt.Errorf("panic: %v", r))
			}
		}()

		env, err := event.Decode(msg.Payload)
		if err != nil {
			return err
		}

		if b.dedup.Contains(env.EventID) {
			b.log.Debug("DUPLICATE_EVENT_SUPPRESSED",
				slog.String("eventId", env.EventID),
				slog.String("eventType", string(env.EventType)),
			)
			return nil
		}

		payload, err := env.DecodePayload()
		if err != nil {
			return err
		}

		entity := entityKey(env, payload)
		if entity != "" {
			if prev, ok := b.newest.Get(entity); ok && env.EventTime.Before(prev) {
				b.log.Debug("STALE_EVENT_SUPPRESSED",
					slog.String("eventId", env.EventID),
					slog.String("entityKey", entity),
				)
				return nil
			}
		}

		if err := h(msg.Context(), env, payload); err != nil {
			return err
		}

		// Recorded only after the handler succeeds: a record that failed
		// transiently must stay retryable, and its redelivery must not be
		// mistaken for a duplicate.
		b.metrics.IncConsumed(msg.Context())
		b.dedup.Add(env.EventID, struct{}{})
		if entity != "" {
			b.newest.Add(entity, env.EventTime)
		}
		return nil
	}
}
