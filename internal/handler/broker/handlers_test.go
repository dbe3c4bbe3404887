package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/errs"
)

type dispatchCall struct {
	ch          event.Channel
	keys        []string
	messageType string
	payload     any
}

type fakeDispatcher struct {
	calls []dispatchCall
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ch event.Channel, keys []string, messageType, _ string, payload any) error {
	f.calls = append(f.calls, dispatchCall{ch: ch, keys: keys, messageType: messageType, payload: payload})
	return nil
}

func envelope(typ event.Type) *event.Envelope {
	return &event.Envelope{
		EventID:   "evt-1",
		EventType: typ,
		EventTime: time.Now(),
	}
}

func TestPositionHandlerRoutesFamily(t *testing.T) {
	fd := &fakeDispatcher{}
	h := NewHandlers(fd)

	snap := &event.PositionSnapshot{BookID: "EQ-1", SecurityID: "AAPL", BusinessDate: "2026-08-24"}
	require.NoError(t, h.Position(context.Background(), envelope(event.TypePositionUpdate), snap))

	tick := &event.MarketDataTick{SecurityID: "AAPL"}
	require.NoError(t, h.Position(context.Background(), envelope(event.TypeMarketDataTick), tick))

	require.Len(t, fd.calls, 2)
	require.Equal(t, event.ChannelPositions, fd.calls[0].ch)
	require.Contains(t, fd.calls[0].keys, "book=EQ-1|date=2026-08-24|security=AAPL")
	require.Equal(t, "POSITION_UPDATE", fd.calls[0].messageType)
	require.ElementsMatch(t, []string{event.KeyAll, "security=AAPL"}, fd.calls[1].keys)
}

func TestTopicTypeMismatchIsPermanent(t *testing.T) {
	h := NewHandlers(&fakeDispatcher{})
	err := h.Position(context.Background(), envelope(event.TypeAlert), &event.AlertNotice{})
	require.True(t, errs.IsPermanent(err))
	require.Equal(t, "TOPIC_TYPE_MISMATCH", errs.CodeOf(err))

	err = h.Inventory(context.Background(), envelope(event.TypePositionUpdate), &event.PositionSnapshot{})
	require.True(t, errs.IsPermanent(err))
}

func TestInventoryHandlerKeys(t *testing.T) {
	fd := &fakeDispatcher{}
	h := NewHandlers(fd)
	inv := &event.InventorySnapshot{SecurityID: "AAPL", CalculationType: "FOR_LOAN", BusinessDate: "2026-08-24"}
	require.NoError(t, h.Inventory(context.Background(), envelope(event.TypeInventoryForLoan), inv))

	require.Equal(t, event.ChannelInventory, fd.calls[0].ch)
	require.Contains(t, fd.calls[0].keys, "security=AAPL|type=FOR_LOAN")
}

func TestLimitUpdatesGoToPositionsChannel(t *testing.T) {
	fd := &fakeDispatcher{}
	h := NewHandlers(fd)
	lim := &event.LimitUpdate{BookID: "EQ-1", SecurityID: "AAPL", LimitType: "SHORT_SELL"}
	require.NoError(t, h.Limit(context.Background(), envelope(event.TypeLimitUpdate), lim))

	require.Equal(t, event.ChannelPositions, fd.calls[0].ch)
	require.Contains(t, fd.calls[0].keys, "book=EQ-1|security=AAPL")
}

func TestWorkflowTransitionsGoToLocatesChannel(t *testing.T) {
	fd := &fakeDispatcher{}
	h := NewHandlers(fd)
	wt := &event.WorkflowTransition{WorkflowID: "W-1", SecurityID: "AAPL", ClientID: "C-9"}
	require.NoError(t, h.Workflow(context.Background(), envelope(event.TypeWorkflowTransition), wt))

	require.Equal(t, event.ChannelLocates, fd.calls[0].ch)
	require.Contains(t, fd.calls[0].keys, "client=C-9|security=AAPL")
}

func TestEntityKeys(t *testing.T) {
	require.Equal(t, "pos|EQ-1|AAPL|2026-08-24",
		positionEntityKey(nil, &event.PositionSnapshot{BookID: "EQ-1", SecurityID: "AAPL", BusinessDate: "2026-08-24"}))
	require.Equal(t, "tick|AAPL", positionEntityKey(nil, &event.MarketDataTick{SecurityID: "AAPL"}))
	require.Equal(t, "inv|AAPL|FOR_LOAN|2026-08-24",
		inventoryEntityKey(nil, &event.InventorySnapshot{SecurityID: "AAPL", CalculationType: "FOR_LOAN", BusinessDate: "2026-08-24"}))
	require.Equal(t, "", noEntityKey(nil, nil))
}
