// Package telemetry wires the hub's OpenTelemetry instruments. Counters keep
// atomic mirrors so the /stats endpoint and the monitor TUI can read totals
// without an exporter round-trip.
package telemetry

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/inventra/ims-event-hub"

// Metrics carries the hub's named instruments.
type Metrics struct {
	eventsConsumed  metric.Int64Counter
	fanoutDelivered metric.Int64Counter
	messagesDropped metric.Int64Counter
	publishFailures metric.Int64Counter
	sessionsActive  metric.Int64UpDownCounter

	consumedTotal  atomic.Uint64
	deliveredTotal atomic.Uint64
	droppedTotal   atomic.Uint64
	failuresTotal  atomic.Uint64
	sessionsNow    atomic.Int64
}

// NewMetrics registers the instruments against the provider's meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	m := &Metrics{}
	var err error
	if m.eventsConsumed, err = meter.Int64Counter("imshub.events.consumed",
		metric.WithDescription("Log records consumed after decode")); err != nil {
		return nil, err
	}
	if m.fanoutDelivered, err = meter.Int64Counter("imshub.fanout.enqueued",
		metric.WithDescription("Messages admitted to session outboxes")); err != nil {
		return nil, err
	}
	if m.messagesDropped, err = meter.Int64Counter("imshub.fanout.dropped",
		metric.WithDescription("Messages dropped under backpressure")); err != nil {
		return nil, err
	}
	if m.publishFailures, err = meter.Int64Counter("imshub.publish.failures",
		metric.WithDescription("Outbound publisher failures")); err != nil {
		return nil, err
	}
	if m.sessionsActive, err = meter.Int64UpDownCounter("imshub.sessions.active",
		metric.WithDescription("Open client sessions")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) IncConsumed(ctx context.Context) {
	m.consumedTotal.Add(1)
	m.eventsConsumed.Add(ctx, 1)
}

func (m *Metrics) AddDelivered(ctx context.Context, n int64) {
	m.deliveredTotal.Add(uint64(n))
	m.fanoutDelivered.Add(ctx, n)
}

func (m *Metrics) AddDropped(ctx context.Context, n int64) {
	m.droppedTotal.Add(uint64(n))
	m.messagesDropped.Add(ctx, n)
}

func (m *Metrics) IncPublishFailure(ctx context.Context) {
	m.failuresTotal.Add(1)
	m.publishFailures.Add(ctx, 1)
}

func (m *Metrics) SessionOpened(ctx context.Context) {
	m.sessionsNow.Add(1)
	m.sessionsActive.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	m.sessionsNow.Add(-1)
	m.sessionsActive.Add(ctx, -1)
}

// Snapshot is a point-in-time view of the counter totals.
type Snapshot struct {
	EventsConsumed   uint64 `json:"eventsConsumed"`
	MessagesEnqueued uint64 `json:"messagesEnqueued"`
	MessagesDropped  uint64 `json:"messagesDropped"`
	PublishFailures  uint64 `json:"publishFailures"`
	ActiveSessions   int64  `json:"activeSessions"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		EventsConsumed:   m.consumedTotal.Load(),
		MessagesEnqueued: m.deliveredTotal.Load(),
		MessagesDropped:  m.droppedTotal.Load(),
		PublishFailures:  m.failuresTotal.Load(),
		ActiveSessions:   m.sessionsNow.Load(),
	}
}
