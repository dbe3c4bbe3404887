package session

import (
	"sync"
	"sync/atomic"
)

// Table is the process-wide sessionId -> Session map with lock-free reads.
// The dispatcher resolves ids here at enqueue time; a missing id is a no-op.
type Table struct {
	sessions sync.Map
	count    atomic.Int64
}

func NewTable() *Table { return &Table{} }

// Put registers a session.
func (t *Table) Put(s *Session) {
	if _, loaded := t.sessions.LoadOrStore(s.ID, s); !loaded {
		t.count.Add(1)
	}
}

// Get resolves a session id; nil when absent.
func (t *Table) Get(id string) *Session {
	if v, ok := t.sessions.Load(id); ok {
		return v.(*Session)
	}
	return nil
}

// Remove drops a session from the table.
func (t *Table) Remove(id string) {
	if _, ok := t.sessions.LoadAndDelete(id); ok {
		t.count.Add(-1)
	}
}

// Len reports the number of registered sessions.
func (t *Table) Len() int { return int(t.count.Load()) }

// Range visits every session until fn returns false.
func (t *Table) Range(fn func(*Session) bool) {
	t.sessions.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}
