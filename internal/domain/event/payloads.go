package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceDataUpdate announces a security master change.
type ReferenceDataUpdate struct {
	SecurityID string            `json:"securityId"`
	Market     string            `json:"market,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MarketDataTick is a last-price observation for a security.
type MarketDataTick struct {
	SecurityID string          `json:"securityId"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency,omitempty"`
	AsOf       time.Time       `json:"asOf"`
}

// PositionSnapshot carries the current position for a (book, security, date)
// cell. Settlement-ladder updates reuse the same shape with the ladder map
// populated.
type PositionSnapshot struct {
	BookID           string                     `json:"bookId"`
	SecurityID       string                     `json:"securityId"`
	BusinessDate     string                     `json:"businessDate"`
	SettledQty       decimal.Decimal            `json:"settledQty"`
	PendingQty       decimal.Decimal            `json:"pendingQty"`
	SettlementLadder map[string]decimal.Decimal `json:"settlementLadder,omitempty"`
}

// InventorySnapshot is one calculation result for a security.
type InventorySnapshot struct {
	SecurityID      string          `json:"securityId"`
	CalculationType string          `json:"calculationType"`
	BusinessDate    string          `json:"businessDate"`
	AvailableQty    decimal.Decimal `json:"availableQty"`
	ReservedQty     decimal.Decimal `json:"reservedQty"`
}

// LocateDecision covers the whole locate lifecycle: request, approval,
// rejection, cancellation and expiry share the shape and differ by eventType.
type LocateDecision struct {
	LocateID     string          `json:"locateId"`
	SecurityID   string          `json:"securityId"`
	ClientID     string          `json:"clientId"`
	Status       string          `json:"status"`
	RequestedQty decimal.Decimal `json:"requestedQty"`
	ApprovedQty  decimal.Decimal `json:"approvedQty"`
	DecisionBy   string          `json:"decisionBy,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// LimitUpdate changes a trading or short-sell limit on a book/security slice.
type LimitUpdate struct {
	BookID       string          `json:"bookId,omitempty"`
	SecurityID   string          `json:"securityId,omitempty"`
	BusinessDate string          `json:"businessDate,omitempty"`
	LimitType    string          `json:"limitType"`
	Threshold    decimal.Decimal `json:"threshold"`
	Utilization  decimal.Decimal `json:"utilization"`
}

// AlertNotice is an operator-facing system alert.
type AlertNotice struct {
	Severity string `json:"severity"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Message  string `json:"message,omitempty"`
}

// WorkflowTransition records a locate-approval workflow state change.
type WorkflowTransition struct {
	WorkflowID string `json:"workflowId"`
	LocateID   string `json:"locateId,omitempty"`
	SecurityID string `json:"securityId,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
	FromState  string `json:"fromState"`
	ToState    string `json:"toState"`
	Actor      string `json:"actor,omitempty"`
}
