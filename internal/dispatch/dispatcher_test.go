package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/domain/registry"
	"github.com/inventra/ims-event-hub/internal/domain/session"
	"github.com/inventra/ims-event-hub/internal/domain/subscription"
	"github.com/inventra/ims-event-hub/internal/errs"
	"github.com/inventra/ims-event-hub/internal/telemetry"
)

type recordingCloser struct {
	mu     sync.Mutex
	closed []string
}

func (c *recordingCloser) CloseSession(sessionID string, _ int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, sessionID)
}

type fixture struct {
	registry *registry.Registry
	table    *session.Table
	closer   *recordingCloser
	d        Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	f := &fixture{
		registry: registry.New(),
		table:    session.NewTable(),
		closer:   &recordingCloser{},
	}
	f.d = New(f.registry, f.table, f.closer, metrics, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) openSession(t *testing.T, ch event.Channel, fields map[string]string, outboxCap int) *session.Session {
	t.Helper()
	s := session.New("u1", nil, map[event.Channel]struct{}{ch: {}}, outboxCap, 0.8)
	require.True(t, s.Open())
	f.table.Put(s)
	require.True(t, f.registry.Subscribe(s.ID, ch, subscription.New(ch, fields)))
	return s
}

func TestDispatchDeliversToMatchingSession(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t, event.ChannelPositions, map[string]string{event.DimBook: "EQ-1"}, 8)

	payload := &event.PositionSnapshot{BookID: "EQ-1", SecurityID: "AAPL"}
	err := f.d.Dispatch(context.Background(), event.ChannelPositions,
		event.PositionKeys("EQ-1", "AAPL", "2026-08-24"),
		string(event.TypePositionUpdate), "corr-1", payload)
	require.NoError(t, err)

	entry := <-s.Outbox().Next()
	var wire event.WireMessage
	require.NoError(t, json.Unmarshal(entry.Data, &wire))
	require.Equal(t, string(event.TypePositionUpdate), wire.MessageType)
	require.Equal(t, "corr-1", wire.CorrelationID)
	require.NotEmpty(t, wire.MessageID)
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t, event.ChannelPositions, map[string]string{event.DimBook: "EQ-2"}, 8)

	err := f.d.Dispatch(context.Background(), event.ChannelPositions,
		event.PositionKeys("EQ-1", "AAPL", ""), "POSITION_UPDATE", "", &event.PositionSnapshot{})
	require.NoError(t, err)
	require.Empty(t, s.Outbox().Next())
}

func TestDispatchToleratesStaleRegistryEntry(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t, event.ChannelAlerts, nil, 8)
	f.table.Remove(s.ID) // teardown raced: registry still has the id

	err := f.d.Dispatch(context.Background(), event.ChannelAlerts,
		event.AlertKeys("INFO", "SYSTEM"), "ALERT", "", &event.AlertNotice{})
	require.NoError(t, err)
}

func TestDispatchEncodeFailureIsPermanent(t *testing.T) {
	f := newFixture(t)
	f.openSession(t, event.ChannelAlerts, nil, 8)

	// Channels cannot be serialized; the failure repeats on redelivery, so
	// the supervisor must quarantine rather than retry.
	err := f.d.Dispatch(context.Background(), event.ChannelAlerts,
		event.AlertKeys("INFO", "SYSTEM"), "ALERT", "", make(chan int))
	require.Error(t, err)
	require.True(t, errs.IsPermanent(err))
	require.Equal(t, "DISPATCH_ENCODE_FAILED", errs.CodeOf(err))
}

func TestDispatchShedsSustainedSlowConsumer(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t, event.ChannelAlerts, nil, 1)

	keys := event.AlertKeys("INFO", "SYSTEM")
	for i := 0; i < 15; i++ {
		err := f.d.Dispatch(context.Background(), event.ChannelAlerts,
			keys, "ALERT", "", &event.AlertNotice{Severity: "INFO"})
		require.NoError(t, err)
	}

	f.closer.mu.Lock()
	defer f.closer.mu.Unlock()
	require.Contains(t, f.closer.closed, s.ID)
}

func TestDispatchLargeFanOut(t *testing.T) {
	f := newFixture(t)
	sessions := make([]*session.Session, 0, 100)
	for i := 0; i < 100; i++ {
		sessions = append(sessions, f.openSession(t, event.ChannelAlerts, nil, 8))
	}

	err := f.d.Dispatch(context.Background(), event.ChannelAlerts,
		event.AlertKeys("CRITICAL", "LIMIT_BREACH"), "ALERT", "",
		&event.AlertNotice{Severity: "CRITICAL", Category: "LIMIT_BREACH"})
	require.NoError(t, err)

	for i, s := range sessions {
		select {
		case <-s.Outbox().Next():
		default:
			t.Fatalf("session %d received nothing", i)
		}
	}
}
