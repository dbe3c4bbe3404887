// Package subscription models per-session filter predicates and their
// canonical routing-key form.
package subscription

import (
	"github.com/inventra/ims-event-hub/internal/domain/event"
)

// Predicate is a user-supplied filter: a tuple of dimension values where an
// absent or empty dimension means "any". Predicates keep their original field
// form for removal by structural equality, and collapse to one canonical
// routing key for O(1) matching (events emit the full combination lattice of
// their dimensions, so a single combination key is exact).
type Predicate struct {
	fields map[string]string
}

// New builds a Predicate from raw filter fields, keeping only the dimensions
// the channel recognizes and dropping empty values. A predicate with no
// surviving fields is the channel wildcard.
func New(ch event.Channel, fields map[string]string) Predicate {
	kept := make(map[string]string)
	for _, dim := range event.ChannelDimensions(ch) {
		if v, ok := fields[dim]; ok && v != "" {
			kept[dim] = v
		}
	}
	return Predicate{fields: kept}
}

// IsWildcard reports whether the predicate matches every event on its channel.
func (p Predicate) IsWildcard() bool { return len(p.fields) == 0 }

// CanonicalKey is the single routing key this predicate matches on.
func (p Predicate) CanonicalKey() string { return event.CombinationKey(p.fields) }

// Equal compares predicates by structural equality of the original fields.
func (p Predicate) Equal(o Predicate) bool {
	if len(p.fields) != len(o.fields) {
		return false
	}
	for k, v := range p.fields {
		if o.fields[k] != v {
			return false
		}
	}
	return true
}

// Fields returns a copy of the populated dimensions.
func (p Predicate) Fields() map[string]string {
	out := make(map[string]string, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}
