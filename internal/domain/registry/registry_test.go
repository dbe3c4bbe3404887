package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/domain/subscription"
)

func pred(ch event.Channel, fields map[string]string) subscription.Predicate {
	return subscription.New(ch, fields)
}

func TestSubscribeAndMatch(t *testing.T) {
	r := New()
	ok := r.Subscribe("s1", event.ChannelPositions, pred(event.ChannelPositions, map[string]string{event.DimBook: "EQ-1"}))
	require.True(t, ok)

	matched := r.Matches(event.ChannelPositions, event.PositionKeys("EQ-1", "AAPL", "2026-08-24"))
	require.Equal(t, []string{"s1"}, matched)

	// A different book does not match.
	require.Empty(t, r.Matches(event.ChannelPositions, event.PositionKeys("EQ-2", "AAPL", "2026-08-24")))
}

func TestWildcardMatchesEverything(t *testing.T) {
	r := New()
	r.Subscribe("s1", event.ChannelAlerts, pred(event.ChannelAlerts, nil))
	matched := r.Matches(event.ChannelAlerts, event.AlertKeys("INFO", "SYSTEM"))
	require.Equal(t, []string{"s1"}, matched)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := New()
	p := pred(event.ChannelInventory, map[string]string{event.DimSecurity: "AAPL"})
	require.True(t, r.Subscribe("s1", event.ChannelInventory, p))
	require.False(t, r.Subscribe("s1", event.ChannelInventory, p))
	require.Equal(t, 1, r.SubscriptionCount())
}

func TestMatchesReturnsUnionWithoutDuplicates(t *testing.T) {
	r := New()
	r.Subscribe("s1", event.ChannelPositions, pred(event.ChannelPositions, map[string]string{event.DimBook: "EQ-1"}))
	r.Subscribe("s1", event.ChannelPositions, pred(event.ChannelPositions, map[string]string{event.DimSecurity: "AAPL"}))
	r.Subscribe("s2", event.ChannelPositions, pred(event.ChannelPositions, nil))

	matched := r.Matches(event.ChannelPositions, event.PositionKeys("EQ-1", "AAPL", "2026-08-24"))
	require.ElementsMatch(t, []string{"s1", "s2"}, matched)
}

func TestUnsubscribeByStructuralEquality(t *testing.T) {
	r := New()
	p := pred(event.ChannelLocates, map[string]string{event.DimSecurity: "AAPL", event.DimStatus: "APPROVED"})
	r.Subscribe("s1", event.ChannelLocates, p)

	other := pred(event.ChannelLocates, map[string]string{event.DimSecurity: "AAPL"})
	require.False(t, r.Unsubscribe("s1", event.ChannelLocates, other))
	require.True(t, r.Unsubscribe("s1", event.ChannelLocates, p))
	require.False(t, r.Unsubscribe("s1", event.ChannelLocates, p))
	require.Empty(t, r.Matches(event.ChannelLocates, event.LocateKeys("AAPL", "C-1", "APPROVED")))
}

func TestUnsubscribeKeepsSharedCanonicalKey(t *testing.T) {
	// Two distinct predicates can collapse to the same canonical key only if
	// structurally equal, but the key may be shared across sessions; dropping
	// one session's predicate must not evict the other session.
	r := New()
	p := pred(event.ChannelAlerts, map[string]string{event.DimSeverity: "CRITICAL"})
	r.Subscribe("s1", event.ChannelAlerts, p)
	r.Subscribe("s2", event.ChannelAlerts, p)

	require.True(t, r.Unsubscribe("s1", event.ChannelAlerts, p))
	matched := r.Matches(event.ChannelAlerts, event.AlertKeys("CRITICAL", "SYSTEM"))
	require.Equal(t, []string{"s2"}, matched)
}

func TestRemoveSessionDropsEveryChannel(t *testing.T) {
	r := New()
	r.Subscribe("s1", event.ChannelPositions, pred(event.ChannelPositions, nil))
	r.Subscribe("s1", event.ChannelAlerts, pred(event.ChannelAlerts, nil))
	r.Subscribe("s2", event.ChannelAlerts, pred(event.ChannelAlerts, nil))

	r.RemoveSession("s1")
	require.Empty(t, r.Matches(event.ChannelPositions, []string{event.KeyAll}))
	require.Equal(t, []string{"s2"}, r.Matches(event.ChannelAlerts, []string{event.KeyAll}))
	require.Equal(t, 1, r.SubscriptionCount())
}

func TestConcurrentMatchAndMutate(t *testing.T) {
	r := New()
	keys := event.PositionKeys("EQ-1", "AAPL", "2026-08-24")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", n)
			for j := 0; j < 500; j++ {
				p := pred(event.ChannelPositions, map[string]string{event.DimBook: "EQ-1"})
				r.Subscribe(sid, event.ChannelPositions, p)
				r.Matches(event.ChannelPositions, keys)
				r.RemoveSession(sid)
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, r.Matches(event.ChannelPositions, keys))
}
