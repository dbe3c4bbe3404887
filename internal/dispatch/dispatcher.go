// Package dispatch fans one decoded event out to every matching session.
// Serialization happens exactly once per event; sessions share the resulting
// immutable buffer and never block the dispatcher.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/domain/registry"
	"github.com/inventra/ims-event-hub/internal/domain/session"
	"github.com/inventra/ims-event-hub/internal/errs"
	"github.com/inventra/ims-event-hub/internal/telemetry"
)

const (
	// Fan-outs above this candidate count are split across a worker pool.
	parallelThreshold = 64
	fanoutWorkers     = 8

	// Sustained-loss policy: close a session once a scan window shows at
	// least slowMinDrops drops and at least slowDropRatio of its deliveries.
	slowMinDrops  = 10
	slowDropRatio = 0.01
)

// CloseSlowConsumer is the close frame for sessions shed under backpressure.
const (
	CloseCodeSlowConsumer   = 4001
	CloseReasonSlowConsumer = "SLOW_CONSUMER"
)

// SessionCloser detaches a session out-of-band; the session manager
// implements it. Dispatch uses it to shed sustained slow consumers.
type SessionCloser interface {
	CloseSession(sessionID string, code int, reason string)
}

// Dispatcher delivers serialized events to subscribed sessions.
type Dispatcher interface {
	// Dispatch matches routingKeys on the channel, serializes the event once
	// and enqueues it on every matching open session. It never blocks on a
	// slow session.
	Dispatch(ctx context.Context, ch event.Channel, routingKeys []string, messageType, correlationID string, payload any) error
}

type dispatcher struct {
	registry *registry.Registry
	table    *session.Table
	closer   SessionCloser
	metrics  *telemetry.Metrics
	log      *slog.Logger
}

func New(reg *registry.Registry, table *session.Table, closer SessionCloser, metrics *telemetry.Metrics, log *slog.Logger) Dispatcher {
	return &dispatcher{
		registry: reg,
		table:    table,
		closer:   closer,
		metrics:  metrics,
		log:      log.With(slog.String("component", "dispatcher")),
	}
}

func (d *dispatcher) Dispatch(ctx context.Context, ch event.Channel, routingKeys []string, messageType, correlationID string, payload any) error {
	candidates := d.registry.Matches(ch, routingKeys)
	if len(candidates) == 0 {
		return nil
	}

	data, err := event.EncodeWire(messageType, correlationID, payload)
	if err != nil {
		d.log.ErrorContext(ctx, "DISPATCH_ENCODE_FAILED",
			slog.String("channel", string(ch)),
			slog.String("messageType", messageType),
			slog.Any("error", err),
		)
		// A payload that failed to serialize fails identically on
		// redelivery; quarantine it.
		return errs.Permanent("DISPATCH_ENCODE_FAILED", err)
	}

	if len(candidates) <= parallelThreshold {
		var delivered, dropped int64
		for _, sid := range candidates {
			switch d.deliver(sid, ch, data) {
			case EnqueueOutcomeDelivered:
				delivered++
			case EnqueueOutcomeDropped:
				dropped++
			}
		}
		d.account(ctx, delivered, dropped)
		return nil
	}

	p := pool.New().WithMaxGoroutines(fanoutWorkers)
	results := make([]EnqueueOutcome, len(candidates))
	for i, sid := range candidates {
		p.Go(func() {
			results[i] = d.deliver(sid, ch, data)
		})
	}
	p.Wait()

	var delivered, dropped int64
	for _, r := range results {
		switch r {
		case EnqueueOutcomeDelivered:
			delivered++
		case EnqueueOutcomeDropped:
			dropped++
		}
	}
	d.account(ctx, delivered, dropped)
	return nil
}

// EnqueueOutcome is the per-session delivery result used for accounting.
type EnqueueOutcome int

const (
	EnqueueOutcomeSkipped EnqueueOutcome = iota
	EnqueueOutcomeDelivered
	EnqueueOutcomeDropped
)

func (d *dispatcher) deliver(sessionID string, ch event.Channel, data []byte) EnqueueOutcome {
	s := d.table.Get(sessionID)
	if s == nil || !s.CanAccess(ch) {
		// Registry entries may briefly outlive the table entry during
		// teardown; stale ids are skipped, not errors.
		return EnqueueOutcomeSkipped
	}

	switch s.Enqueue(data) {
	case session.EnqueueAdmitted:
		return EnqueueOutcomeDelivered
	case session.EnqueueSlow:
		d.log.Warn("SESSION_OUTBOX_HIGH_WATER",
			slog.String("sessionId", sessionID),
			slog.String("channel", string(ch)),
		)
		return EnqueueOutcomeDelivered
	case session.EnqueueDropped:
		if s.Outbox().DropThresholdExceeded(slowMinDrops, slowDropRatio) {
			d.closer.CloseSession(sessionID, CloseCodeSlowConsumer, CloseReasonSlowConsumer)
		}
		return EnqueueOutcomeDropped
	default:
		return EnqueueOutcomeSkipped
	}
}

func (d *dispatcher) account(ctx context.Context, delivered, dropped int64) {
	if delivered > 0 {
		d.metrics.AddDelivered(ctx, delivered)
	}
	if dropped > 0 {
		d.metrics.AddDropped(ctx, dropped)
	}
}
