// Package events carries the pipeline's domain events to subscribers.
package events

import (
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
)

// EventType defines the category of event
type EventType string

const (
	EventTypeSignalReceived   EventType = "signal_received"
	EventTypeSignalRejected   EventType = "signal_rejected"
	EventTypeSignalFused      EventType = "signal_fused"
	EventTypeOrderSubmitted   EventType = "order_submitted"
	EventTypeTradeExecuted    EventType = "trade_executed"
	EventTypePositionClosed   EventType = "position_closed"
	EventTypeKillSwitch       EventType = "kill_switch"
	EventTypeEmergencyClose   EventType = "emergency_close"
	EventTypeDailyLossWarning EventType = "daily_loss_warning"
	EventTypeError            EventType = "error"
)

// AllEventTypes lists every published type.
var AllEventTypes = []EventType{
	EventTypeSignalReceived,
	EventTypeSignalRejected,
	EventTypeSignalFused,
	EventTypeOrderSubmitted,
	EventTypeTradeExecuted,
	EventTypePositionClosed,
	EventTypeKillSwitch,
	EventTypeEmergencyClose,
	EventTypeDailyLossWarning,
	EventTypeError,
}

// ParseEventType validates s.
func ParseEventType(s string) (EventType, bool) {
	for _, t := range AllEventTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Event is the base interface for all domain events
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
	GetSymbol() string
}

// BaseEvent provides common event functionality
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }
func (e *BaseEvent) GetSymbol() string       { return e.Symbol }

func newBase(t EventType, symbol string, ts time.Time) BaseEvent {
	if ts.IsZero() {
		ts = time.Now()
	}
	return BaseEvent{ID: utils.GenerateID("evt"), Type: t, Symbol: symbol, Timestamp: ts}
}

// SignalEvent reports a signal entering the pipeline.
type SignalEvent struct {
	BaseEvent
	SignalID   string           `json:"signalId"`
	Kind       types.SignalKind `json:"kind"`
	Direction  types.Direction  `json:"direction"`
	Timeframe  types.Timeframe  `json:"timeframe"`
	Strategy   string           `json:"strategy"`
	Strength   float64          `json:"strength"`
	Conviction float64          `json:"conviction"`
	Price      decimal.Decimal  `json:"price"`
}

// NewSignalEvent creates a signal_received event
func NewSignalEvent(sig *types.TradeSignal, conviction float64) *SignalEvent {
	return &SignalEvent{
		BaseEvent:  newBase(EventTypeSignalReceived, sig.Symbol, time.Time{}),
		SignalID:   sig.ID,
		Kind:       sig.Kind,
		Direction:  sig.Direction,
		Timeframe:  sig.Timeframe,
		Strategy:   sig.Strategy,
		Strength:   sig.Strength,
		Conviction: conviction,
		Price:      sig.Price,
	}
}

// RejectionEvent reports the stage and reason a signal stopped at.
type RejectionEvent struct {
	BaseEvent
	SignalID  string `json:"signalId"`
	Stage     int    `json:"stage"`
	StageName string `json:"stageName"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

// NewRejectionEvent creates a signal_rejected event
func NewRejectionEvent(symbol, signalID string, stage int, stageName, reason, message string) *RejectionEvent {
	return &RejectionEvent{
		BaseEvent: newBase(EventTypeSignalRejected, symbol, time.Time{}),
		SignalID:  signalID,
		Stage:     stage,
		StageName: stageName,
		Reason:    reason,
		Message:   message,
	}
}

// FusedEvent reports co-firing candidates merged into one signal.
type FusedEvent struct {
	BaseEvent
	SignalID   string             `json:"signalId"`
	Direction  types.Direction    `json:"direction"`
	Kinds      []types.SignalKind `json:"kinds"`
	Strategies []string           `json:"strategies"`
	Conviction float64            `json:"conviction"`
}

// NewFusedEvent creates a signal_fused event
func NewFusedEvent(symbol, signalID string, dir types.Direction, kinds []types.SignalKind, strategies []string, conviction float64) *FusedEvent {
	return &FusedEvent{
		BaseEvent:  newBase(EventTypeSignalFused, symbol, time.Time{}),
		SignalID:   signalID,
		Direction:  dir,
		Kinds:      kinds,
		Strategies: strategies,
		Conviction: conviction,
	}
}

// OrderEvent reports the outcome of a submission.
type OrderEvent struct {
	BaseEvent
	ClientOrderID string          `json:"clientOrderId"`
	SignalID      string          `json:"signalId,omitempty"`
	PositionID    string          `json:"positionId,omitempty"`
	Venue         string          `json:"venue"`
	Side          types.OrderSide `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Purpose       string          `json:"purpose"`
	Outcome       string          `json:"outcome"`
	Attempts      int             `json:"attempts"`
}

// NewOrderEvent creates an order_submitted event
func NewOrderEvent(symbol, clientOrderID string, side types.OrderSide, qty, price decimal.Decimal, purpose string) *OrderEvent {
	return &OrderEvent{
		BaseEvent:     newBase(EventTypeOrderSubmitted, symbol, time.Time{}),
		ClientOrderID: clientOrderID,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		Purpose:       purpose,
	}
}

// ExecutionEvent reports a validated fill.
type ExecutionEvent struct {
	BaseEvent
	ClientOrderID string          `json:"clientOrderId"`
	PositionID    string          `json:"positionId"`
	Side          types.OrderSide `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Commission    decimal.Decimal `json:"commission"`
	Slippage      decimal.Decimal `json:"slippage"`
	Purpose       string          `json:"purpose"`
}

// NewExecutionEvent creates a trade_executed event
func NewExecutionEvent(symbol, clientOrderID, positionID string, side types.OrderSide, qty, price decimal.Decimal, purpose string) *ExecutionEvent {
	return &ExecutionEvent{
		BaseEvent:     newBase(EventTypeTradeExecuted, symbol, time.Time{}),
		ClientOrderID: clientOrderID,
		PositionID:    positionID,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		Purpose:       purpose,
	}
}

// PositionEvent reports a position closing.
type PositionEvent struct {
	BaseEvent
	PositionID  string          `json:"positionId"`
	Direction   types.Direction `json:"direction"`
	Strategy    string          `json:"strategy"`
	ExitKind    types.ExitKind  `json:"exitKind"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	Quantity    decimal.Decimal `json:"quantity"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	RMultiple   float64         `json:"rMultiple"`
	Reason      string          `json:"reason,omitempty"`
}

// NewPositionEvent creates a position_closed event
func NewPositionEvent(symbol, positionID string, kind types.ExitKind, entry, exit, qty, pnl decimal.Decimal) *PositionEvent {
	return &PositionEvent{
		BaseEvent:   newBase(EventTypePositionClosed, symbol, time.Time{}),
		PositionID:  positionID,
		ExitKind:    kind,
		EntryPrice:  entry,
		ExitPrice:   exit,
		Quantity:    qty,
		RealizedPnL: pnl,
	}
}

// KillSwitchEvent reports the kill switch changing state.
type KillSwitchEvent struct {
	BaseEvent
	Active          bool     `json:"active"`
	Reason          string   `json:"reason"`
	CancelledOrders []string `json:"cancelledOrders,omitempty"`
}

// NewKillSwitchEvent creates a kill_switch event
func NewKillSwitchEvent(active bool, reason string, cancelled []string) *KillSwitchEvent {
	return &KillSwitchEvent{
		BaseEvent:       newBase(EventTypeKillSwitch, "", time.Time{}),
		Active:          active,
		Reason:          reason,
		CancelledOrders: cancelled,
	}
}

// EmergencyCloseEvent reports a forced close being requested.
type EmergencyCloseEvent struct {
	BaseEvent
	PositionID string `json:"positionId"`
	Reason     string `json:"reason"`
}

// NewEmergencyCloseEvent creates an emergency_close event
func NewEmergencyCloseEvent(symbol, positionID, reason string) *EmergencyCloseEvent {
	return &EmergencyCloseEvent{
		BaseEvent:  newBase(EventTypeEmergencyClose, symbol, time.Time{}),
		PositionID: positionID,
		Reason:     reason,
	}
}

// RiskAlertEvent reports realized daily loss approaching its limit.
type RiskAlertEvent struct {
	BaseEvent
	DailyPnL decimal.Decimal `json:"dailyPnl"`
	Limit    decimal.Decimal `json:"limit"`
	Pct      float64         `json:"pct"`
	Message  string          `json:"message"`
}

// NewDailyLossWarningEvent creates a daily_loss_warning event
func NewDailyLossWarningEvent(symbol string, dailyPnL, limit decimal.Decimal, pct float64) *RiskAlertEvent {
	return &RiskAlertEvent{
		BaseEvent: newBase(EventTypeDailyLossWarning, symbol, time.Time{}),
		DailyPnL:  dailyPnL,
		Limit:     limit,
		Pct:       pct,
		Message:   "daily loss approaching limit",
	}
}

// ErrorEvent reports a failure the pipeline could not resolve on its own.
type ErrorEvent struct {
	BaseEvent
	Component  string `json:"component"`
	PositionID string `json:"positionId,omitempty"`
	Message    string `json:"message"`
}

// NewErrorEvent creates an error event
func NewErrorEvent(symbol, component, positionID string, err error) *ErrorEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ErrorEvent{
		BaseEvent:  newBase(EventTypeError, symbol, time.Time{}),
		Component:  component,
		PositionID: positionID,
		Message:    msg,
	}
}
