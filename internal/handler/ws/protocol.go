// Package ws is the client-facing surface: the WebSocket channel endpoints
// with their read and write pumps, and the ops endpoints.
package ws

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/domain/subscription"
)

// Close codes on the client wire.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseSlowConsumer    = 4001
)

// Server-initiated message types outside the event stream.
const (
	MsgConnectionAck         = "CONNECTION_ACK"
	MsgSubscriptionConfirmed = "SUBSCRIPTION_CONFIRMED"
	MsgPong                  = "PONG"
	MsgError                 = "ERROR"
)

// Error payload codes.
const (
	ErrCodeParsing     = "MESSAGE_PARSING_ERROR"
	ErrCodeUnsupported = "UNSUPPORTED_MESSAGE_TYPE"
	ErrCodeForbidden   = "CHANNEL_FORBIDDEN"
)

// InboundMessage is the client frame shape.
type InboundMessage struct {
	MessageType string          `json:"messageType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// SubscriptionFilter is the payload of subscribe and unsubscribe commands.
// Fields outside the endpoint channel's dimensions are ignored.
type SubscriptionFilter struct {
	BookID          string `json:"bookId,omitempty"`
	SecurityID      string `json:"securityId,omitempty"`
	BusinessDate    string `json:"businessDate,omitempty"`
	CalculationType string `json:"calculationType,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	Status          string `json:"status,omitempty"`
	Severity        string `json:"severity,omitempty"`
	Category        string `json:"category,omitempty"`
}

// Predicate maps the filter onto the channel's recognized dimensions.
func (f *SubscriptionFilter) Predicate(ch event.Channel) subscription.Predicate {
	return subscription.New(ch, map[string]string{
		event.DimBook:     f.BookID,
		event.DimSecurity: f.SecurityID,
		event.DimDate:     f.BusinessDate,
		event.DimCalcType: f.CalculationType,
		event.DimClient:   f.ClientID,
		event.DimStatus:   f.Status,
		event.DimSeverity: f.Severity,
		event.DimCategory: f.Category,
	})
}

// SubscribeTypeFor builds the channel's subscribe command name, e.g.
// SUBSCRIBE_POSITIONS. Commands are endpoint-scoped: the positions socket
// only accepts the positions grammar.
func SubscribeTypeFor(ch event.Channel) string {
	return "SUBSCRIBE_" + strings.ToUpper(string(ch))
}

func UnsubscribeTypeFor(ch event.Channel) string {
	return "UNSUBSCRIBE_" + strings.ToUpper(string(ch))
}

// MsgPing is the client liveness probe.
const MsgPing = "PING"

type connectionAckPayload struct {
	SessionID string   `json:"sessionId"`
	Channel   string   `json:"channel"`
	Roles     []string `json:"roles,omitempty"`
}

type subscriptionConfirmedPayload struct {
	Action  string            `json:"action"`
	Channel string            `json:"channel"`
	Filter  map[string]string `json:"filter,omitempty"`
	// Changed is false when a subscribe was an idempotent duplicate or an
	// unsubscribe matched nothing.
	Changed bool `json:"changed"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
