// Package service holds the hub's application services: token verification,
// the session manager and the outbound command publisher.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/inventra/ims-event-hub/config"
	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/domain/registry"
	"github.com/inventra/ims-event-hub/internal/domain/session"
	"github.com/inventra/ims-event-hub/internal/domain/subscription"
	"github.com/inventra/ims-event-hub/internal/errs"
	"github.com/inventra/ims-event-hub/internal/telemetry"
)

// Close frames issued by the manager itself.
const (
	CloseCodeNormal              = 1000
	CloseReasonLivenessTimeout   = "LIVENESS_TIMEOUT"
	CloseReasonServerShutdown    = "SERVER_SHUTDOWN"
	closeCodeSlowConsumer        = 4001
	closeReasonSustainedDropping = "SLOW_CONSUMER"
)

// SessionManager owns the session table and drives the lifecycle transitions
// no single connection goroutine can: the liveness sweep, backpressure
// shedding and coordinated shutdown.
type SessionManager struct {
	cfg      *config.Config
	table    *session.Table
	registry *registry.Registry
	metrics  *telemetry.Metrics
	log      *slog.Logger

	stop chan struct{}
}

func NewSessionManager(cfg *config.Config, table *session.Table, reg *registry.Registry, metrics *telemetry.Metrics, log *slog.Logger) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		table:    table,
		registry: reg,
		metrics:  metrics,
		log:      log.With(slog.String("component", "session_manager")),
		stop:     make(chan struct{}),
	}
}

// Open allocates a session for an authenticated principal and registers it.
// The session starts in the handshaking state; the connection handler
// promotes it once the acknowledgement is on the wire.
func (m *SessionManager) Open(ctx context.Context, userID string, roles []string) *session.Session {
	s := session.New(userID, roles,
		ChannelsForRoles(roles),
		m.cfg.Session.OutboxCapacity,
		m.cfg.Session.HighWaterRatio,
	)
	m.table.Put(s)
	m.metrics.SessionOpened(ctx)
	m.log.InfoContext(ctx, "SESSION_OPENED",
		slog.String("sessionId", s.ID),
		slog.String("userId", userID),
		slog.Any("roles", roles),
	)
	return s
}

// Subscribe registers a predicate after re-checking channel authorization.
// Returns false without error for an idempotent duplicate.
func (m *SessionManager) Subscribe(sessionID string, ch event.Channel, p subscription.Predicate) (bool, error) {
	s := m.table.Get(sessionID)
	if s == nil {
		return false, errs.Permanentf("SESSION_NOT_FOUND", "session %s is gone", sessionID)
	}
	if !s.CanAccess(ch) {
		return false, errs.Permanentf("CHANNEL_FORBIDDEN", "roles do not grant channel %s", ch)
	}
	return m.registry.Subscribe(sessionID, ch, p), nil
}

// Unsubscribe removes a predicate by structural equality.
func (m *SessionManager) Unsubscribe(sessionID string, ch event.Channel, p subscription.Predicate) bool {
	return m.registry.Unsubscribe(sessionID, ch, p)
}

// CloseSession begins a one-way teardown: the session drains, its
// subscriptions vanish from the registry and its id leaves the table. The
// egress writer still holds the session pointer and flushes what is buffered.
// Safe to call multiple times and from any goroutine.
func (m *SessionManager) CloseSession(sessionID string, code int, reason string) {
	s := m.table.Get(sessionID)
	if s == nil {
		return
	}
	if !s.BeginClose(code, reason) {
		return
	}
	m.registry.RemoveSession(sessionID)
	m.table.Remove(sessionID)
	m.metrics.SessionClosed(context.Background())
	m.log.Info("SESSION_CLOSING",
		slog.String("sessionId", sessionID),
		slog.String("userId", s.UserID),
		slog.Int("closeCode", code),
		slog.String("closeReason", reason),
	)
}

// Finish marks the session fully closed once its egress writer has flushed.
func (m *SessionManager) Finish(s *session.Session) {
	s.FinishClose()
}

// Run drives the periodic liveness sweep until the context ends. Sessions
// idle past the liveness timeout are closed normally; sessions showing
// sustained drops in the last window are shed.
func (m *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Session.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *SessionManager) sweep() {
	idleLimit := m.cfg.Session.LivenessTimeout
	m.table.Range(func(s *session.Session) bool {
		switch {
		case s.State() != session.StateOpen:
			// Handshaking and draining sessions are bounded elsewhere.
		case s.IdleFor() > idleLimit:
			m.log.Info("SESSION_LIVENESS_EXPIRED",
				slog.String("sessionId", s.ID),
				slog.Duration("idle", s.IdleFor()),
			)
			m.CloseSession(s.ID, CloseCodeNormal, CloseReasonLivenessTimeout)
		case s.Outbox().DropThresholdExceeded(sweepMinDrops, sweepDropRatio):
			m.CloseSession(s.ID, closeCodeSlowConsumer, closeReasonSustainedDropping)
		default:
			s.Outbox().ResetWindow()
		}
		return true
	})
}

const (
	sweepMinDrops  = 10
	sweepDropRatio = 0.01
)

// Shutdown closes every session with a normal close frame. Called once from
// the fx stop hook before the HTTP listener goes away.
func (m *SessionManager) Shutdown() {
	close(m.stop)
	m.table.Range(func(s *session.Session) bool {
		m.CloseSession(s.ID, CloseCodeNormal, CloseReasonServerShutdown)
		return true
	})
}

// Stats summarizes the manager's live state for the ops surface.
type Stats struct {
	Sessions      int `json:"sessions"`
	Subscriptions int `json:"subscriptions"`
}

func (m *SessionManager) Stats() Stats {
	return Stats{
		Sessions:      m.table.Len(),
		Subscriptions: m.registry.SubscriptionCount(),
	}
}
