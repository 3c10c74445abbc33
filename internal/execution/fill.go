package execution

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FillCheck is the outcome of comparing a fill with its order.
type FillCheck struct {
	OK          bool            `json:"ok"`
	Slippage    decimal.Decimal `json:"slippage"` // |avg - ref| / ref
	QuantityGap decimal.Decimal `json:"quantityGap"`
	Reason      string          `json:"reason,omitempty"`
}

// FillValidator confirms fills land within a slippage tolerance of the
// reference price and for the full quantity. It keeps realized slippage per
// symbol.
type FillValidator struct {
	logger    *zap.Logger
	tolerance decimal.Decimal

	mu      sync.RWMutex
	samples map[string][]decimal.Decimal
	window  int
}

// NewFillValidator creates a validator; tolerance is a fraction (0.005 = 0.5%).
func NewFillValidator(logger *zap.Logger, tolerance decimal.Decimal) *FillValidator {
	return &FillValidator{
		logger:    logger.Named("fills"),
		tolerance: tolerance,
		samples:   make(map[string][]decimal.Decimal),
		window:    100,
	}
}

// Tolerance returns the configured slippage tolerance.
func (v *FillValidator) Tolerance() decimal.Decimal { return v.tolerance }

// Validate checks res against order.
func (v *FillValidator) Validate(order *Order, res *OrderResult) FillCheck {
	check := FillCheck{OK: true}
	if res == nil || res.Status != OrderStatusFilled {
		check.OK = false
		check.Reason = "order not filled"
		return check
	}

	check.QuantityGap = order.Quantity.Sub(res.FilledQty)
	if !check.QuantityGap.IsZero() {
		check.OK = false
		check.Reason = "filled " + res.FilledQty.String() + " of " + order.Quantity.String()
	}

	if order.Price.IsPositive() && res.AvgPrice.IsPositive() {
		check.Slippage = res.AvgPrice.Sub(order.Price).Abs().Div(order.Price)
		v.record(order.Symbol, check.Slippage)
		if check.Slippage.GreaterThan(v.tolerance) {
			check.OK = false
			check.Reason = "slippage " + check.Slippage.Mul(decimal.NewFromInt(100)).StringFixed(3) +
				"% exceeds " + v.tolerance.Mul(decimal.NewFromInt(100)).StringFixed(3) + "%"
		}
	}

	if !check.OK {
		v.logger.Warn("Fill outside tolerance",
			zap.String("clientOrderId", order.ClientOrderID),
			zap.String("symbol", order.Symbol),
			zap.String("reason", check.Reason))
	}
	return check
}

func (v *FillValidator) record(symbol string, slip decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := append(v.samples[symbol], slip)
	if len(s) > v.window {
		s = s[len(s)-v.window:]
	}
	v.samples[symbol] = s
}

// AverageSlippage returns mean realized slippage for symbol.
func (v *FillValidator) AverageSlippage(symbol string) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s := v.samples[symbol]
	if len(s) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, x := range s {
		sum = sum.Add(x)
	}
	return sum.Div(decimal.NewFromInt(int64(len(s))))
}
