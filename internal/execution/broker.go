// Package execution submits orders to a broker and tracks every order to a
// terminal state.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownOrder     = errors.New("order not found")
	ErrOrderTerminal    = errors.New("order already in a terminal state")
	ErrNotCancelable    = errors.New("order can no longer be cancelled")
	ErrCircuitOpen      = errors.New("broker circuit open")
	ErrSubmitAborted    = errors.New("submission aborted")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// OrderType is market or limit.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Order is a request to a broker. ClientOrderID is the idempotency token:
// every retry of the same intent carries the same value.
type Order struct {
	ClientOrderID string          `json:"clientOrderId"`
	SignalID      string          `json:"signalId,omitempty"`
	PositionID    string          `json:"positionId,omitempty"`
	Symbol        string          `json:"symbol"`
	Venue         string          `json:"venue"`
	Side          types.OrderSide `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`   // reference price; limit price for limit orders
	Purpose       string          `json:"purpose"` // entry, exit, scale_out, corrective
	CreatedAt     time.Time       `json:"createdAt"`
}

// OrderResult contains the broker's answer to a placement.
type OrderResult struct {
	OrderID       string          `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          types.OrderSide `json:"side"`
	Status        OrderStatus     `json:"status"`
	Quantity      decimal.Decimal `json:"quantity"`
	FilledQty     decimal.Decimal `json:"filledQty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	Commission    decimal.Decimal `json:"commission"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Broker is the execution collaborator. PlaceOrder must treat a repeated
// ClientOrderID as the same order and return the original result.
type Broker interface {
	Name() string
	PlaceOrder(ctx context.Context, order *Order) (*OrderResult, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
}

// FailureKind classifies broker errors.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// BrokerError is a classified broker failure.
type BrokerError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) error {
	return &BrokerError{Kind: FailureTransient, Op: op, Err: err}
}

// Permanent wraps err as a terminal failure.
func Permanent(op string, err error) error {
	return &BrokerError{Kind: FailurePermanent, Op: op, Err: err}
}

// Classify returns the failure kind of err. Unclassified errors, including
// timeouts, are treated as transient; context cancellation is permanent.
func Classify(err error) FailureKind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.Canceled) {
		return FailurePermanent
	}
	return FailureTransient
}
