// Package event defines the hub's event model: the envelope read off the
// log, the closed set of event types, the typed payload union and the
// routing-key construction rules used for subscription matching.
package event

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/inventra/ims-event-hub/internal/errs"
)

// Channel is a logical family of events exposed on its own endpoint.
type Channel string

const (
	ChannelPositions Channel = "positions"
	ChannelInventory Channel = "inventory"
	ChannelLocates   Channel = "locates"
	ChannelAlerts    Channel = "alerts"
	ChannelAdmin     Channel = "admin"
)

// Channels lists every subscribable channel (admin carries no event stream).
func Channels() []Channel {
	return []Channel{ChannelPositions, ChannelInventory, ChannelLocates, ChannelAlerts}
}

// Type discriminates the payload union. The set is closed by protocol
// contract; handlers reject anything outside it.
type Type string

const (
	TypeReferenceDataUpdate    Type = "REFERENCE_DATA_UPDATE"
	TypeMarketDataTick         Type = "MARKET_DATA_TICK"
	TypePositionUpdate         Type = "POSITION_UPDATE"
	TypeSettlementLadderUpdate Type = "SETTLEMENT_LADDER_UPDATE"
	TypeInventoryForLoan       Type = "INVENTORY_FOR_LOAN"
	TypeInventoryForPledge     Type = "INVENTORY_FOR_PLEDGE"
	TypeInventoryShortSell     Type = "INVENTORY_SHORT_SELL"
	TypeInventoryLocate        Type = "INVENTORY_LOCATE"
	TypeInventoryOverborrow    Type = "INVENTORY_OVERBORROW"
	TypeLocateRequest          Type = "LOCATE_REQUEST"
	TypeLocateApproval         Type = "LOCATE_APPROVAL"
	TypeLocateRejection        Type = "LOCATE_REJECTION"
	TypeLocateCancellation     Type = "LOCATE_CANCELLATION"
	TypeLocateExpiry           Type = "LOCATE_EXPIRY"
	TypeLimitUpdate            Type = "LIMIT_UPDATE"
	TypeAlert                  Type = "ALERT"
	TypeWorkflowTransition     Type = "WORKFLOW_TRANSITION"
)

// Envelope is the self-describing tagged record appended to the log.
// Payload stays raw until the routing handler resolves the concrete type.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     Type            `json:"eventType"`
	EventTime     time.Time       `json:"eventTime"`
	CorrelationID string          `json:"correlationId"`
	Source        string          `json:"source"`
	SchemaVersion int             `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// Decode parses raw log bytes into an Envelope and enforces the required
// envelope fields. Failures are Permanent: the record is quarantined.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.Permanent("ENVELOPE_DECODE_FAILED", err)
	}
	switch {
	case env.EventID == "":
		return nil, errs.Permanentf("ENVELOPE_INVALID", "missing eventId")
	case env.EventType == "":
		return nil, errs.Permanentf("ENVELOPE_INVALID", "missing eventType (eventId=%s)", env.EventID)
	case env.EventTime.IsZero():
		return nil, errs.Permanentf("ENVELOPE_INVALID", "missing eventTime (eventId=%s)", env.EventID)
	}
	return &env, nil
}

// DecodePayload resolves the raw payload into its concrete type per the
// envelope tag. An unknown tag is a schema violation.
func (e *Envelope) DecodePayload() (any, error) {
	var dst any
	switch e.EventType {
	case TypeReferenceDataUpdate:
		dst = new(ReferenceDataUpdate)
	case TypeMarketDataTick:
		dst = new(MarketDataTick)
	case TypePositionUpdate, TypeSettlementLadderUpdate:
		dst = new(PositionSnapshot)
	case TypeInventoryForLoan, TypeInventoryForPledge, TypeInventoryShortSell,
		TypeInventoryLocate, TypeInventoryOverborrow:
		dst = new(InventorySnapshot)
	case TypeLocateRequest, TypeLocateApproval, TypeLocateRejection,
		TypeLocateCancellation, TypeLocateExpiry:
		dst = new(LocateDecision)
	case TypeLimitUpdate:
		dst = new(LimitUpdate)
	case TypeAlert:
		dst = new(AlertNotice)
	case TypeWorkflowTransition:
		dst = new(WorkflowTransition)
	default:
		return nil, errs.Permanentf("SCHEMA_VIOLATION", "unknown eventType %q (eventId=%s)", e.EventType, e.EventID)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return nil, errs.Permanent("PAYLOAD_DECODE_FAILED", err)
	}
	return dst, nil
}
