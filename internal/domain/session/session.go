// Package session holds the per-client session state machine, its bounded
// outbox and the process-wide session table.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/inventra/ims-event-hub/internal/domain/event"
)

// State is the session lifecycle phase.
type State int32

const (
	StateHandshaking State = iota
	StateOpen
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// Session owns one client connection's identity, permissions, outbox and
// liveness clock. The session exclusively owns its outbox and egress writer;
// everything else refers to it by id.
type Session struct {
	ID     string
	UserID string
	Roles  []string

	channels map[event.Channel]struct{}
	outbox   *Outbox

	state        atomic.Int32
	lastActivity atomic.Int64

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

// New allocates a session in the Handshaking state.
func New(userID string, roles []string, channels map[event.Channel]struct{}, outboxCapacity int, highWaterRatio float64) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Roles:    roles,
		channels: channels,
		outbox:   NewOutbox(outboxCapacity, highWaterRatio),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// State reports the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Open transitions Handshaking -> Open after a successful handshake.
func (s *Session) Open() bool {
	return s.state.CompareAndSwap(int32(StateHandshaking), int32(StateOpen))
}

// CanAccess reports whether the handshake authorized the channel.
func (s *Session) CanAccess(ch event.Channel) bool {
	_, ok := s.channels[ch]
	return ok
}

// Touch advances the liveness clock.
func (s *Session) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// IdleFor reports the time since the last observed client activity.
func (s *Session) IdleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

// Enqueue admits a serialized message when the session is Open. Any other
// state is a no-op reported as Closed; the dispatcher treats it as a skip.
func (s *Session) Enqueue(data []byte) EnqueueResult {
	if s.State() != StateOpen {
		return EnqueueClosed
	}
	return s.outbox.Enqueue(data)
}

// Outbox exposes the bounded queue to the egress writer.
func (s *Session) Outbox() *Outbox { return s.outbox }

// BeginClose transitions to Draining exactly once, records the close frame
// to send, and stops outbox admission. Returns false when the session was
// already draining or closed.
func (s *Session) BeginClose(code int, reason string) bool {
	swapped := s.state.CompareAndSwap(int32(StateOpen), int32(StateDraining)) ||
		s.state.CompareAndSwap(int32(StateHandshaking), int32(StateDraining))
	if !swapped {
		return false
	}
	s.mu.Lock()
	s.closeCode = code
	s.closeReason = reason
	s.mu.Unlock()
	s.outbox.Close()
	return true
}

// FinishClose marks the session fully closed after the egress flush.
func (s *Session) FinishClose() { s.state.Store(int32(StateClosed)) }

// CloseFrame reports the code and reason recorded by BeginClose.
func (s *Session) CloseFrame() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeReason
}
