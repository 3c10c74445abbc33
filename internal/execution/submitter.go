package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"go.uber.org/zap"
)

// Outcome classifies a submission.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient" // retry budget exhausted
	OutcomePermanent Outcome = "permanent"
)

// SubmitResult is the result of a bounded-retry submission.
type SubmitResult struct {
	Outcome  Outcome      `json:"outcome"`
	Result   *OrderResult `json:"result,omitempty"`
	Attempts int          `json:"attempts"`
	Err      error        `json:"-"`
}

// SubmitterConfig configures order submission.
type SubmitterConfig struct {
	Retry   utils.RetryConfig `json:"retry" mapstructure:"retry" yaml:"retry"`
	Breaker BreakerConfig     `json:"breaker" mapstructure:"breaker" yaml:"breaker"`
	Timeout time.Duration     `json:"timeout" mapstructure:"timeout" yaml:"timeout"` // per attempt
}

// DefaultSubmitterConfig returns 3 attempts with 100ms, 200ms backoff.
func DefaultSubmitterConfig() SubmitterConfig {
	return SubmitterConfig{
		Retry:   utils.DefaultRetryConfig(),
		Breaker: DefaultBreakerConfig(),
		Timeout: 5 * time.Second,
	}
}

// AttemptHook observes each attempt, for metrics.
type AttemptHook func(venue string, attempt int, kind FailureKind, err error)

// Submitter places orders with bounded retry. The same client order ID is
// sent on every attempt so a broker never books the intent twice.
type Submitter struct {
	logger *zap.Logger
	orders *OrderManager
	config SubmitterConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	hook     AttemptHook
}

// NewSubmitter creates a submitter that records into orders.
func NewSubmitter(logger *zap.Logger, orders *OrderManager, config SubmitterConfig) *Submitter {
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = 1
	}
	return &Submitter{
		logger:   logger.Named("submitter"),
		orders:   orders,
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// OnAttempt installs an attempt observer.
func (s *Submitter) OnAttempt(hook AttemptHook) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

// Breaker returns the circuit breaker guarding the named broker.
func (s *Submitter) Breaker(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(s.logger, name, s.config.Breaker)
		s.breakers[name] = cb
	}
	return cb
}

func (s *Submitter) observe(venue string, attempt int, kind FailureKind, err error) {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(venue, attempt, kind, err)
	}
}

// Submit places order through broker. abort is consulted before every
// attempt; when it returns true the order is cancelled and the outcome is
// permanent. Every path leaves the order in a terminal state except success,
// which records the fill.
func (s *Submitter) Submit(ctx context.Context, broker Broker, order *Order, abort func() bool) SubmitResult {
	s.orders.Track(order)
	breaker := s.Breaker(broker.Name())
	id := order.ClientOrderID

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.config.Retry.MaxAttempts; attempt++ {
		if abort != nil && abort() {
			if attempts > 0 {
				s.cancelRemote(broker, id)
			}
			s.orders.Cancel(id, "aborted before attempt")
			return SubmitResult{Outcome: OutcomePermanent, Attempts: attempts, Err: ErrSubmitAborted}
		}
		if err := ctx.Err(); err != nil {
			s.cancelRemote(broker, id)
			s.orders.Cancel(id, err.Error())
			return SubmitResult{Outcome: OutcomePermanent, Attempts: attempts, Err: err}
		}

		attempts = attempt
		var res *OrderResult
		var err error
		if !breaker.Allow() {
			err = Transient("place_order", ErrCircuitOpen)
		} else {
			s.orders.MarkAttempt(id)
			res, err = s.place(ctx, broker, order)
		}

		if err == nil {
			breaker.RecordSuccess()
			s.observe(broker.Name(), attempt, "", nil)
			if res.Status == OrderStatusRejected {
				s.orders.Reject(id, "rejected by broker")
				return SubmitResult{Outcome: OutcomePermanent, Result: res, Attempts: attempt,
					Err: Permanent("place_order", errors.New("rejected by broker"))}
			}
			s.orders.RecordFill(id, res)
			return SubmitResult{Outcome: OutcomeSuccess, Result: res, Attempts: attempt}
		}

		kind := Classify(err)
		s.observe(broker.Name(), attempt, kind, err)
		lastErr = err
		if kind == FailurePermanent {
			s.orders.Reject(id, err.Error())
			s.logger.Info("Order rejected permanently",
				zap.String("clientOrderId", id),
				zap.String("symbol", order.Symbol),
				zap.Error(err))
			return SubmitResult{Outcome: OutcomePermanent, Attempts: attempt, Err: err}
		}
		if !errors.Is(err, ErrCircuitOpen) {
			breaker.RecordFailure()
		}

		s.logger.Warn("Order placement failed, retrying",
			zap.String("clientOrderId", id),
			zap.String("symbol", order.Symbol),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < s.config.Retry.MaxAttempts {
			if err := sleep(ctx, s.config.Retry.Delay(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	s.cancelRemote(broker, id)
	s.orders.Cancel(id, "retries exhausted")
	return SubmitResult{
		Outcome:  OutcomeTransient,
		Attempts: attempts,
		Err:      fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr),
	}
}

func (s *Submitter) place(ctx context.Context, broker Broker, order *Order) (*OrderResult, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	res, err := broker.PlaceOrder(ctx, order)
	if err == nil && res == nil {
		err = Transient("place_order", errors.New("empty broker response"))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = Transient("place_order", err)
	}
	return res, err
}

// cancelRemote asks the broker to drop any copy of the order an ambiguous
// attempt may have left behind.
func (s *Submitter) cancelRemote(broker Broker, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout+time.Second)
	defer cancel()
	if err := broker.CancelOrder(ctx, id); err != nil && !errors.Is(err, ErrUnknownOrder) {
		s.logger.Warn("Cancel after failed submission", zap.String("clientOrderId", id), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
