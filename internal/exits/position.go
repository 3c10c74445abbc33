// Package exits owns the position lifecycle and the exit monitor that
// decides, once per price update, whether a position should be changed.
package exits

import (
	"errors"
	"fmt"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition = errors.New("invalid position state transition")
	ErrOneShotRefired    = errors.New("one-shot exit already fired")
	ErrStopLoosened      = errors.New("stop would move against the position")
	ErrInvalidQuantity   = errors.New("invalid position quantity")
)

// Status is the lifecycle state of a position.
type Status string

const (
	StatusPending         Status = "pending"
	StatusOpen            Status = "open"
	StatusPartiallyClosed Status = "partially_closed"
	StatusClosed          Status = "closed"
	StatusFrozen          Status = "frozen"
)

// transitions lists the allowed moves out of each status.
var transitions = map[Status][]Status{
	StatusPending:         {StatusOpen, StatusClosed, StatusFrozen},
	StatusOpen:            {StatusPartiallyClosed, StatusClosed, StatusFrozen},
	StatusPartiallyClosed: {StatusClosed, StatusFrozen},
	StatusFrozen:          {StatusPending, StatusOpen, StatusPartiallyClosed, StatusClosed},
	StatusClosed:          nil,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsLive reports whether the position still holds quantity under exit
// evaluation.
func (s Status) IsLive() bool {
	return s == StatusOpen || s == StatusPartiallyClosed
}

// Horizon separates day trades from swing holds.
type Horizon string

const (
	HorizonIntraday Horizon = "intraday"
	HorizonSwing    Horizon = "swing"
)

// HorizonFor picks the horizon a timeframe's positions are held on.
func HorizonFor(tf types.Timeframe) Horizon {
	if tf.IsIntraday() {
		return HorizonIntraday
	}
	return HorizonSwing
}

// Position is an open or historical trade. Only the orchestrator and the
// exit monitor for its symbol mutate it, and only through the methods below.
type Position struct {
	ID        string          `json:"id"`
	SignalID  string          `json:"signalId"`
	Symbol    string          `json:"symbol"`
	Strategy  string          `json:"strategy"`
	Timeframe types.Timeframe `json:"timeframe"`
	Direction types.Direction `json:"direction"`
	Horizon   Horizon         `json:"horizon"`

	EntryPrice      decimal.Decimal `json:"entryPrice"`
	Quantity        decimal.Decimal `json:"quantity"`
	InitialQuantity decimal.Decimal `json:"initialQuantity"`
	StopLoss        decimal.Decimal `json:"stopLoss"`
	InitialStop     decimal.Decimal `json:"initialStop"`
	TakeProfit      decimal.Decimal `json:"takeProfit"`
	RealizedPnL     decimal.Decimal `json:"realizedPnl"`

	// FastCloudAligned records whether the fast cloud agreed with the
	// position at entry; cloud_flip only fires for positions that had it.
	FastCloudAligned bool `json:"fastCloudAligned"`

	Status             Status          `json:"status"`
	BreakevenTriggered bool            `json:"breakevenTriggered"`
	ScaledOut          bool            `json:"scaledOut"`
	FreezeReason       string          `json:"freezeReason,omitempty"`
	ExitKind           types.ExitKind  `json:"exitKind,omitempty"`
	ExitPrice          decimal.Decimal `json:"exitPrice,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	OpenedAt  time.Time `json:"openedAt"`
	ClosedAt  time.Time `json:"closedAt,omitempty"`

	frozenFrom Status
}

// NewPosition creates a pending position from an entry signal and a sized
// quantity.
func NewPosition(sig *types.TradeSignal, quantity, stop decimal.Decimal) (*Position, error) {
	if !sig.Direction.IsEntry() {
		return nil, fmt.Errorf("signal %s: direction %q: %w", sig.ID, sig.Direction, ErrInvalidTransition)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("signal %s: quantity %s: %w", sig.ID, quantity, ErrInvalidQuantity)
	}
	return &Position{
		ID:              utils.GeneratePositionID(),
		SignalID:        sig.ID,
		Symbol:          sig.Symbol,
		Strategy:        sig.Strategy,
		Timeframe:       sig.Timeframe,
		Direction:       sig.Direction,
		Horizon:         HorizonFor(sig.Timeframe),
		EntryPrice:      sig.Price,
		Quantity:        quantity,
		InitialQuantity: quantity,
		StopLoss:        stop,
		InitialStop:     stop,
		TakeProfit:      sig.TakeProfit,
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}, nil
}

func (p *Position) transition(to Status) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("position %s: %s -> %s: %w", p.ID, p.Status, to, ErrInvalidTransition)
	}
	p.Status = to
	return nil
}

// Open marks the position filled at price with qty.
func (p *Position) Open(price, qty decimal.Decimal, at time.Time) error {
	if !qty.IsPositive() {
		return fmt.Errorf("position %s: fill quantity %s: %w", p.ID, qty, ErrInvalidQuantity)
	}
	if err := p.transition(StatusOpen); err != nil {
		return err
	}
	p.EntryPrice = price
	p.Quantity = qty
	p.InitialQuantity = qty
	p.OpenedAt = at
	return nil
}

// Risk is the initial entry-to-stop distance per unit (1R).
func (p *Position) Risk() decimal.Decimal {
	return p.EntryPrice.Sub(p.InitialStop).Abs()
}

// PnLPerUnit is the signed move in the position's favor.
func (p *Position) PnLPerUnit(price decimal.Decimal) decimal.Decimal {
	if p.Direction == types.DirectionShort {
		return p.EntryPrice.Sub(price)
	}
	return price.Sub(p.EntryPrice)
}

// UnrealizedPnL is the open profit on the remaining quantity.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.PnLPerUnit(price).Mul(p.Quantity)
}

// RMultiple is the favorable move measured in units of initial risk.
func (p *Position) RMultiple(price decimal.Decimal) decimal.Decimal {
	risk := p.Risk()
	if risk.IsZero() {
		return decimal.Zero
	}
	return p.PnLPerUnit(price).Div(risk)
}

// RealizedR is the realized P&L over the initial risk of the full size.
func (p *Position) RealizedR() decimal.Decimal {
	risk := p.Risk().Mul(p.InitialQuantity)
	if risk.IsZero() {
		return decimal.Zero
	}
	return p.RealizedPnL.Div(risk)
}

// StopHit reports whether price has crossed the current stop.
func (p *Position) StopHit(price decimal.Decimal) bool {
	if p.Direction == types.DirectionShort {
		return price.GreaterThanOrEqual(p.StopLoss)
	}
	return price.LessThanOrEqual(p.StopLoss)
}

// MoveStop tightens the stop. Stops never loosen.
func (p *Position) MoveStop(stop decimal.Decimal) error {
	if !p.Status.IsLive() {
		return fmt.Errorf("position %s: move stop while %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}
	loosens := stop.LessThan(p.StopLoss)
	if p.Direction == types.DirectionShort {
		loosens = stop.GreaterThan(p.StopLoss)
	}
	if loosens {
		return fmt.Errorf("position %s: stop %s -> %s: %w", p.ID, p.StopLoss, stop, ErrStopLoosened)
	}
	p.StopLoss = stop
	return nil
}

// BreakevenStop is entry plus buffer in the position's favor.
func (p *Position) BreakevenStop(buffer decimal.Decimal) decimal.Decimal {
	if p.Direction == types.DirectionShort {
		return p.EntryPrice.Mul(decimal.NewFromInt(1).Sub(buffer))
	}
	return p.EntryPrice.Mul(decimal.NewFromInt(1).Add(buffer))
}

// TrailToBreakeven moves the stop to breakeven. It may happen once.
func (p *Position) TrailToBreakeven(buffer decimal.Decimal) error {
	if p.BreakevenTriggered {
		return fmt.Errorf("position %s: trail_to_breakeven: %w", p.ID, ErrOneShotRefired)
	}
	if err := p.MoveStop(p.BreakevenStop(buffer)); err != nil {
		return err
	}
	p.BreakevenTriggered = true
	return nil
}

// ScaleOut closes qty at price, leaving the remainder open. It may happen once.
func (p *Position) ScaleOut(qty, price decimal.Decimal) error {
	if p.ScaledOut {
		return fmt.Errorf("position %s: scale_out: %w", p.ID, ErrOneShotRefired)
	}
	if !qty.IsPositive() || qty.GreaterThanOrEqual(p.Quantity) {
		return fmt.Errorf("position %s: scale out %s of %s: %w", p.ID, qty, p.Quantity, ErrInvalidQuantity)
	}
	if err := p.transition(StatusPartiallyClosed); err != nil {
		return err
	}
	p.RealizedPnL = p.RealizedPnL.Add(p.PnLPerUnit(price).Mul(qty))
	p.Quantity = p.Quantity.Sub(qty)
	p.ScaledOut = true
	return nil
}

// Close flattens the remaining quantity at price.
func (p *Position) Close(price decimal.Decimal, kind types.ExitKind, at time.Time) error {
	if err := p.transition(StatusClosed); err != nil {
		return err
	}
	p.RealizedPnL = p.RealizedPnL.Add(p.PnLPerUnit(price).Mul(p.Quantity))
	p.Quantity = decimal.Zero
	p.ExitKind = kind
	p.ExitPrice = price
	p.ClosedAt = at
	return nil
}

// Cancel closes a pending position whose entry never filled.
func (p *Position) Cancel(at time.Time) error {
	if p.Status != StatusPending {
		return fmt.Errorf("position %s: cancel while %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}
	p.Quantity = decimal.Zero
	p.ClosedAt = at
	return p.transition(StatusClosed)
}

// Freeze parks the position for manual review.
func (p *Position) Freeze(reason string) error {
	from := p.Status
	if err := p.transition(StatusFrozen); err != nil {
		return err
	}
	p.frozenFrom = from
	p.FreezeReason = reason
	return nil
}

// Unfreeze returns a frozen position to the status it was frozen from.
func (p *Position) Unfreeze() error {
	if p.Status != StatusFrozen {
		return fmt.Errorf("position %s: unfreeze while %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}
	to := p.frozenFrom
	if to == "" {
		to = StatusOpen
	}
	if err := p.transition(to); err != nil {
		return err
	}
	p.FreezeReason = ""
	p.frozenFrom = ""
	return nil
}

// Snapshot returns a copy safe to hand to other goroutines.
func (p *Position) Snapshot() Position {
	return *p
}
