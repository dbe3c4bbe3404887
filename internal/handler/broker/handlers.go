package broker

import (
	"context"

	"github.com/inventra/ims-event-hub/internal/dispatch"
	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/errs"
)

// Handlers maps decoded records onto channels and routing keys and hands
// them to the fan-out dispatcher.
type Handlers struct {
	dispatcher dispatch.Dispatcher
}

func NewHandlers(d dispatch.Dispatcher) *Handlers {
	return &Handlers{dispatcher: d}
}

func (h *Handlers) dispatch(ctx context.Context, env *event.Envelope, ch event.Channel, keys []string, payload any) error {
	return h.dispatcher.Dispatch(ctx, ch, keys, string(env.EventType), env.CorrelationID, payload)
}

// Position routes the whole position family: position and settlement
// ladder snapshots plus the market-data and reference-data updates that
// price them.
func (h *Handlers) Position(ctx context.Context, env *event.Envelope, payload any) error {
	switch p := payload.(type) {
	case *event.PositionSnapshot:
		return h.dispatch(ctx, env, event.ChannelPositions,
			event.PositionKeys(p.BookID, p.SecurityID, p.BusinessDate), p)
	case *event.MarketDataTick:
		return h.dispatch(ctx, env, event.ChannelPositions,
			event.PositionKeys("", p.SecurityID, ""), p)
	case *event.ReferenceDataUpdate:
		return h.dispatch(ctx, env, event.ChannelPositions,
			event.PositionKeys("", p.SecurityID, ""), p)
	default:
		return errs.Permanentf("TOPIC_TYPE_MISMATCH", "eventType %s on position topic", env.EventType)
	}
}

func (h *Handlers) Inventory(ctx context.Context, env *event.Envelope, payload any) error {
	p, ok := payload.(*event.InventorySnapshot)
	if !ok {
		return errs.Permanentf("TOPIC_TYPE_MISMATCH", "eventType %s on inventory topic", env.EventType)
	}
	return h.dispatch(ctx, env, event.ChannelInventory,
		event.InventoryKeys(p.SecurityID, p.CalculationType, p.BusinessDate), p)
}

func (h *Handlers) Locate(ctx context.Context, env *event.Envelope, payload any) error {
	p, ok := payload.(*event.LocateDecision)
	if !ok {
		return errs.Permanentf("TOPIC_TYPE_MISMATCH", "eventType %s on locate topic", env.EventType)
	}
	return h.dispatch(ctx, env, event.ChannelLocates,
		event.LocateKeys(p.SecurityID, p.ClientID, p.Status), p)
}

// Limit routes limit updates to the positions channel; limits slice the same
// book/security/date space positions do.
func (h *Handlers) Limit(ctx context.Context, env *event.Envelope, payload any) error {
	p, ok := payload.(*event.LimitUpdate)
	if !ok {
		return errs.Permanentf("TOPIC_TYPE_MISMATCH", "eventType %s on limit topic", env.EventType)
	}
	return h.dispatch(ctx, env, event.ChannelPositions,
		event.PositionKeys(p.BookID, p.SecurityID, p.BusinessDate), p)
}

func (h *Handlers) Alert(ctx context.Context, env *event.Envelope, payload any) error {
	p, ok := payload.(*event.AlertNotice)
	if !ok {
		return errs.Permanentf("TOPIC_TYPE_MISMATCH", "eventType %s on alert topic", env.EventType)
	}
	return h.dispatch(ctx, env, event.ChannelAlerts,
		event.AlertKeys(p.Severity, p.Category), p)
}

// Workflow routes locate-workflow transitions to the locates channel so desk
// subscribers watching a security or client see approval progress.
func (h *Handlers) Workflow(ctx context.Context, env *event.Envelope, payload any) error {
	p, ok := payload.(*event.WorkflowTransition)
	if !ok {
		return errs.Permanentf("TOPIC_TYPE_MISMATCH", "eventType %s on workflow topic", env.EventType)
	}
	return h.dispatch(ctx, env, event.ChannelLocates,
		event.LocateKeys(p.SecurityID, p.ClientID, ""), p)
}

// Entity keys for staleness suppression. Alerts and workflow transitions are
// journal-like and never suppressed as stale.

func positionEntityKey(_ *event.Envelope, payload any) string {
	switch p := payload.(type) {
	case *event.PositionSnapshot:
		return "pos|" + p.BookID + "|" + p.SecurityID + "|" + p.BusinessDate
	case *event.MarketDataTick:
		return "tick|" + p.SecurityID
	case *event.ReferenceDataUpdate:
		return "ref|" + p.SecurityID
	default:
		return ""
	}
}

func inventoryEntityKey(_ *event.Envelope, payload any) string {
	if p, ok := payload.(*event.InventorySnapshot); ok {
		return "inv|" + p.SecurityID + "|" + p.CalculationType + "|" + p.BusinessDate
	}
	return ""
}

func limitEntityKey(_ *event.Envelope, payload any) string {
	if p, ok := payload.(*event.LimitUpdate); ok {
		return "limit|" + p.BookID + "|" + p.SecurityID + "|" + p.LimitType
	}
	return ""
}

func noEntityKey(*event.Envelope, any) string { return "" }
