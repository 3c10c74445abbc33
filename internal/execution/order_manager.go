package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderStatus represents order status.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"   // tracked, not yet acknowledged
	OrderStatusSubmitted OrderStatus = "submitted" // at least one attempt sent
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further updates are accepted.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusRejected || s == OrderStatusCancelled
}

// ManagedOrder wraps an order with management state.
type ManagedOrder struct {
	Order        *Order          `json:"order"`
	Status       OrderStatus     `json:"status"`
	Attempts     int             `json:"attempts"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
	Commission   decimal.Decimal `json:"commission"`
	BrokerID     string          `json:"brokerId,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// OrderManager tracks orders by client order ID until each reaches
// filled, rejected or cancelled.
type OrderManager struct {
	logger *zap.Logger
	mu     sync.RWMutex
	orders map[string]*ManagedOrder
}

// NewOrderManager creates a new order manager.
func NewOrderManager(logger *zap.Logger) *OrderManager {
	return &OrderManager{
		logger: logger.Named("order-manager"),
		orders: make(map[string]*ManagedOrder),
	}
}

// Track starts tracking an order. Tracking the same client order ID twice
// returns the existing entry.
func (om *OrderManager) Track(order *Order) *ManagedOrder {
	om.mu.Lock()
	defer om.mu.Unlock()

	if existing, ok := om.orders[order.ClientOrderID]; ok {
		return existing
	}
	now := time.Now()
	managed := &ManagedOrder{
		Order:     order,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	om.orders[order.ClientOrderID] = managed

	om.logger.Debug("Tracking order",
		zap.String("clientOrderId", order.ClientOrderID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("purpose", order.Purpose))
	return managed
}

func (om *OrderManager) update(id string, fn func(o *ManagedOrder)) error {
	om.mu.Lock()
	defer om.mu.Unlock()

	o, ok := om.orders[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%s is %s: %w", id, o.Status, ErrOrderTerminal)
	}
	fn(o)
	o.UpdatedAt = time.Now()
	return nil
}

// MarkAttempt records a submission attempt.
func (om *OrderManager) MarkAttempt(id string) error {
	return om.update(id, func(o *ManagedOrder) {
		o.Status = OrderStatusSubmitted
		o.Attempts++
	})
}

// RecordFill marks the order filled from the broker result.
func (om *OrderManager) RecordFill(id string, res *OrderResult) error {
	return om.update(id, func(o *ManagedOrder) {
		o.Status = OrderStatusFilled
		o.FilledQty = res.FilledQty
		o.AvgFillPrice = res.AvgPrice
		o.Commission = res.Commission
		o.BrokerID = res.OrderID
	})
}

// Reject marks the order rejected.
func (om *OrderManager) Reject(id, reason string) error {
	err := om.update(id, func(o *ManagedOrder) {
		o.Status = OrderStatusRejected
		o.Reason = reason
	})
	if err == nil {
		om.logger.Info("Order rejected", zap.String("clientOrderId", id), zap.String("reason", reason))
	}
	return err
}

// Cancel marks the order cancelled.
func (om *OrderManager) Cancel(id, reason string) error {
	err := om.update(id, func(o *ManagedOrder) {
		o.Status = OrderStatusCancelled
		o.Reason = reason
	})
	if err == nil {
		om.logger.Info("Order cancelled", zap.String("clientOrderId", id), zap.String("reason", reason))
	}
	return err
}

// GetOrder returns a copy of a managed order.
func (om *OrderManager) GetOrder(id string) (ManagedOrder, bool) {
	om.mu.RLock()
	defer om.mu.RUnlock()

	o, ok := om.orders[id]
	if !ok {
		return ManagedOrder{}, false
	}
	return *o, true
}

// PendingOrders returns every order not yet in a terminal state, oldest first.
func (om *OrderManager) PendingOrders() []ManagedOrder {
	om.mu.RLock()
	defer om.mu.RUnlock()

	var open []ManagedOrder
	for _, o := range om.orders {
		if !o.Status.IsTerminal() {
			open = append(open, *o)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open
}

// BrokerLookup resolves the broker an order was sent to by venue.
type BrokerLookup func(venue string) (Broker, bool)

// CancelAll cancels every pending order, asking the order's broker first for
// ones that already went out. It returns the client order IDs it cancelled.
func (om *OrderManager) CancelAll(ctx context.Context, lookup BrokerLookup, reason string) []string {
	var cancelled []string
	for _, o := range om.PendingOrders() {
		id := o.Order.ClientOrderID
		if o.Status == OrderStatusSubmitted && lookup != nil {
			if broker, ok := lookup(o.Order.Venue); ok {
				if err := broker.CancelOrder(ctx, id); err != nil {
					om.logger.Warn("Broker cancel failed",
						zap.String("clientOrderId", id),
						zap.String("venue", o.Order.Venue),
						zap.Error(err))
				}
			}
		}
		if err := om.Cancel(id, reason); err == nil {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// CleanupOldOrders removes terminal orders last updated before maxAge.
func (om *OrderManager) CleanupOldOrders(maxAge time.Duration) int {
	om.mu.Lock()
	defer om.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, o := range om.orders {
		if o.Status.IsTerminal() && o.UpdatedAt.Before(cutoff) {
			delete(om.orders, id)
			removed++
		}
	}
	return removed
}

// OrderStats contains order statistics.
type OrderStats struct {
	TotalOrders     int             `json:"totalOrders"`
	PendingOrders   int             `json:"pendingOrders"`
	FilledOrders    int             `json:"filledOrders"`
	CancelledOrders int             `json:"cancelledOrders"`
	RejectedOrders  int             `json:"rejectedOrders"`
	TotalAttempts   int             `json:"totalAttempts"`
	TotalVolume     decimal.Decimal `json:"totalVolume"`
	TotalCommission decimal.Decimal `json:"totalCommission"`
}

// GetOrderStats returns order statistics.
func (om *OrderManager) GetOrderStats() OrderStats {
	om.mu.RLock()
	defer om.mu.RUnlock()

	stats := OrderStats{TotalOrders: len(om.orders)}
	for _, o := range om.orders {
		stats.TotalAttempts += o.Attempts
		switch o.Status {
		case OrderStatusPending, OrderStatusSubmitted:
			stats.PendingOrders++
		case OrderStatusFilled:
			stats.FilledOrders++
			stats.TotalVolume = stats.TotalVolume.Add(o.FilledQty.Mul(o.AvgFillPrice))
			stats.TotalCommission = stats.TotalCommission.Add(o.Commission)
		case OrderStatusCancelled:
			stats.CancelledOrders++
		case OrderStatusRejected:
			stats.RejectedOrders++
		}
	}
	return stats
}
