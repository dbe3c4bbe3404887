/*
Package registry implements the in-memory subscription registry, the hub's
most performance-critical shared structure.

Per channel it keeps two maps: keyIndex (routing key -> session-id set) for
O(1) expected-time event matching, and perSession (session id -> predicates)
for enumeration on unsubscribe and teardown. Reads vastly outnumber writes,
so each channel carries its own RWMutex; matching never blocks matching.

The registry stores only session ids — it never extends a session's
lifetime. The dispatcher resolves ids against the session table at enqueue
time and tolerates absence.
*/
package registry

import (
	"sync"

	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/domain/subscription"
)

type channelIndex struct {
	mu         sync.RWMutex
	keyIndex   map[string]map[string]struct{}
	perSession map[string][]subscription.Predicate
}

func newChannelIndex() *channelIndex {
	return &channelIndex{
		keyIndex:   make(map[string]map[string]struct{}),
		perSession: make(map[string][]subscription.Predicate),
	}
}

// Registry routes events to subscribed sessions by routing key.
type Registry struct {
	channels map[event.Channel]*channelIndex
}

func New() *Registry {
	r := &Registry{channels: make(map[event.Channel]*channelIndex, 4)}
	for _, ch := range event.Channels() {
		r.channels[ch] = newChannelIndex()
	}
	return r
}

func (r *Registry) index(ch event.Channel) (*channelIndex, bool) {
	idx, ok := r.channels[ch]
	return idx, ok
}

// Subscribe registers the predicate for the session. Idempotent in the
// (session, predicate) pair: re-subscribing an equal predicate is a no-op.
// Returns false when the subscription already existed.
func (r *Registry) Subscribe(sessionID string, ch event.Channel, p subscription.Predicate) bool {
	idx, ok := r.index(ch)
	if !ok {
		return false
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, existing := range idx.perSession[sessionID] {
		if existing.Equal(p) {
			return false
		}
	}

	key := p.CanonicalKey()
	set, ok := idx.keyIndex[key]
	if !ok {
		set = make(map[string]struct{})
		idx.keyIndex[key] = set
	}
	set[sessionID] = struct{}{}
	idx.perSession[sessionID] = append(idx.perSession[sessionID], p)
	return true
}

// Unsubscribe removes the predicate matched by structural equality. Empty
// key sets are deleted so the index never leaks dead keys.
func (r *Registry) Unsubscribe(sessionID string, ch event.Channel, p subscription.Predicate) bool {
	idx, ok := r.index(ch)
	if !ok {
		return false
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	preds := idx.perSession[sessionID]
	for i, existing := range preds {
		if !existing.Equal(p) {
			continue
		}
		idx.perSession[sessionID] = append(preds[:i], preds[i+1:]...)
		if len(idx.perSession[sessionID]) == 0 {
			delete(idx.perSession, sessionID)
		}
		r.dropKeyLocked(idx, sessionID, existing)
		return true
	}
	return false
}

// dropKeyLocked removes one canonical key reference unless another of the
// session's remaining predicates still maps to the same key.
func (r *Registry) dropKeyLocked(idx *channelIndex, sessionID string, p subscription.Predicate) {
	key := p.CanonicalKey()
	for _, remaining := range idx.perSession[sessionID] {
		if remaining.CanonicalKey() == key {
			return
		}
	}
	if set, ok := idx.keyIndex[key]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(idx.keyIndex, key)
		}
	}
}

// Matches returns the candidate delivery set: the union of the session sets
// of every routing key. The result is a fresh slice safe to use after the
// lock is released.
func (r *Registry) Matches(ch event.Channel, routingKeys []string) []string {
	idx, ok := r.index(ch)
	if !ok {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, key := range routingKeys {
		for sid := range idx.keyIndex[key] {
			seen[sid] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for sid := range seen {
		out = append(out, sid)
	}
	return out
}

// RemoveSession drops every subscription the session holds on any channel.
// After it returns no key set references the session.
func (r *Registry) RemoveSession(sessionID string) {
	for _, idx := range r.channels {
		idx.mu.Lock()
		for _, p := range idx.perSession[sessionID] {
			key := p.CanonicalKey()
			if set, ok := idx.keyIndex[key]; ok {
				delete(set, sessionID)
				if len(set) == 0 {
					delete(idx.keyIndex, key)
				}
			}
		}
		delete(idx.perSession, sessionID)
		idx.mu.Unlock()
	}
}

// SubscriptionCount reports the total number of stored predicates.
func (r *Registry) SubscriptionCount() int {
	total := 0
	for _, idx := range r.channels {
		idx.mu.RLock()
		for _, preds := range idx.perSession {
			total += len(preds)
		}
		idx.mu.RUnlock()
	}
	return total
}

// Subscriptions lists the session's predicates on one channel (test and
// stats support).
func (r *Registry) Subscriptions(sessionID string, ch event.Channel) []subscription.Predicate {
	idx, ok := r.index(ch)
	if !ok {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]subscription.Predicate, len(idx.perSession[sessionID]))
	copy(out, idx.perSession[sessionID])
	return out
}
