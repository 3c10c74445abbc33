package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperConfig configures the paper broker.
type PaperConfig struct {
	SlippageBps    decimal.Decimal `json:"slippageBps" mapstructure:"slippage_bps" yaml:"slippage_bps"`
	CommissionRate decimal.Decimal `json:"commissionRate" mapstructure:"commission_rate" yaml:"commission_rate"`
}

// DefaultPaperConfig returns 2 bps of adverse slippage and no commission.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		SlippageBps:    decimal.NewFromInt(2),
		CommissionRate: decimal.Zero,
	}
}

// PaperBroker fills market orders immediately at the last known price plus
// slippage. A repeated client order ID returns the original fill.
type PaperBroker struct {
	logger *zap.Logger
	config PaperConfig

	mu     sync.Mutex
	prices map[string]decimal.Decimal
	fills  map[string]*OrderResult
}

// NewPaperBroker creates a paper broker.
func NewPaperBroker(logger *zap.Logger, config PaperConfig) *PaperBroker {
	return &PaperBroker{
		logger: logger.Named("paper"),
		config: config,
		prices: make(map[string]decimal.Decimal),
		fills:  make(map[string]*OrderResult),
	}
}

// Name implements Broker.
func (b *PaperBroker) Name() string { return "paper" }

// SetPrice records the last trade price for symbol.
func (b *PaperBroker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

// PlaceOrder implements Broker.
func (b *PaperBroker) PlaceOrder(ctx context.Context, order *Order) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("place_order", err)
	}
	if !order.Quantity.IsPositive() {
		return nil, Permanent("place_order", fmt.Errorf("quantity %s", order.Quantity))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.fills[order.ClientOrderID]; ok {
		cp := *prev
		return &cp, nil
	}

	ref, ok := b.prices[order.Symbol]
	if !ok {
		ref = order.Price
	}
	if !ref.IsPositive() {
		return nil, Permanent("place_order", fmt.Errorf("no price for %s", order.Symbol))
	}

	slip := b.config.SlippageBps.Div(decimal.NewFromInt(10000))
	fill := ref.Mul(decimal.NewFromInt(1).Add(slip))
	if order.Side == types.OrderSideSell {
		fill = ref.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	if order.Type == OrderTypeLimit && !order.Price.IsZero() {
		if (order.Side == types.OrderSideBuy && fill.GreaterThan(order.Price)) ||
			(order.Side == types.OrderSideSell && fill.LessThan(order.Price)) {
			return nil, Permanent("place_order", fmt.Errorf("limit %s not marketable at %s", order.Price, fill))
		}
	}

	res := &OrderResult{
		OrderID:       utils.GenerateID("paper"),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Status:        OrderStatusFilled,
		Quantity:      order.Quantity,
		FilledQty:     order.Quantity,
		AvgPrice:      fill.Round(4),
		Commission:    order.Quantity.Mul(fill).Mul(b.config.CommissionRate).Round(2),
		Timestamp:     time.Now(),
	}
	b.fills[order.ClientOrderID] = res

	b.logger.Debug("Paper fill",
		zap.String("clientOrderId", order.ClientOrderID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("qty", order.Quantity.String()),
		zap.String("price", res.AvgPrice.String()))

	cp := *res
	return &cp, nil
}

// CancelOrder implements Broker. Paper orders fill on placement, so only
// unknown IDs can be "cancelled".
func (b *PaperBroker) CancelOrder(ctx context.Context, clientOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fills[clientOrderID]; ok {
		return Permanent("cancel_order", ErrNotCancelable)
	}
	return ErrUnknownOrder
}

// Fills returns how many distinct orders the broker has filled.
func (b *PaperBroker) Fills() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fills)
}
