package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"go.uber.org/zap"
)

// Publisher is what producers of domain events depend on.
type Publisher interface {
	Publish(event Event)
}

// EventHandler is a function that processes events
type EventHandler func(event Event) error

// EventFilter can selectively process events
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription behavior
type SubscriptionOptions struct {
	Filter EventFilter // Optional filter
	Async  bool        // Process in separate goroutine
}

// Subscription represents an active event subscription
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive returns whether subscription is active
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	NumWorkers int `json:"numWorkers" mapstructure:"num_workers" yaml:"num_workers"`
	BufferSize int `json:"bufferSize" mapstructure:"buffer_size" yaml:"buffer_size"`
}

// DefaultEventBusConfig returns sensible defaults
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		NumWorkers: 4,
		BufferSize: 10000,
	}
}

// EventBusStats tracks performance metrics
type EventBusStats struct {
	EventsPublished   int64 `json:"eventsPublished"`
	EventsProcessed   int64 `json:"eventsProcessed"`
	EventsDropped     int64 `json:"eventsDropped"`
	ProcessingErrors  int64 `json:"processingErrors"`
	AvgLatencyNs      int64 `json:"avgLatencyNs"`
	MaxLatencyNs      int64 `json:"maxLatencyNs"`
	ActiveSubscribers int64 `json:"activeSubscribers"`
}

// EventBus routes events to subscribers from a small worker pool. Publish
// never blocks; a full buffer drops the event and counts it.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64
	maxLatency        atomic.Int64
	avgLatency        atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus creates an event bus and starts its workers.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultEventBusConfig().NumWorkers
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBusConfig().BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, config.BufferSize),
		workerCount: config.NumWorkers,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("events"),
	}

	for i := 0; i < config.NumWorkers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	eb.logger.Info("EventBus initialized",
		zap.Int("workers", config.NumWorkers),
		zap.Int("bufferSize", config.BufferSize),
	)
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.processEvent(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	for _, group := range [][]*Subscription{subs, allSubs} {
		for _, sub := range group {
			if !sub.active.Load() {
				continue
			}
			if sub.Options.Filter != nil && !sub.Options.Filter(event) {
				continue
			}
			if sub.Options.Async {
				go eb.executeHandler(sub, event)
			} else {
				eb.executeHandler(sub, event)
			}
		}
	}
	eb.eventsProcessed.Add(1)
}

// executeHandler runs a handler with panic recovery
func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("Event handler panic",
				zap.String("subscriptionId", sub.ID),
				zap.String("eventType", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("Event handler error",
			zap.String("subscriptionId", sub.ID),
			zap.String("eventType", string(event.GetType())),
			zap.Error(err),
		)
	}
}

func (eb *EventBus) trackLatency(ns int64) {
	for {
		cur := eb.maxLatency.Load()
		if ns <= cur || eb.maxLatency.CompareAndSwap(cur, ns) {
			break
		}
	}
	// exponential moving average
	for {
		cur := eb.avgLatency.Load()
		if eb.avgLatency.CompareAndSwap(cur, (cur*99+ns)/100) {
			break
		}
	}
}

func (eb *EventBus) add(eventType EventType, handler EventHandler, opts []SubscriptionOptions) *Subscription {
	options := SubscriptionOptions{}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{
		ID:        utils.GenerateID("sub"),
		EventType: eventType,
		Handler:   handler,
		Options:   options,
	}
	sub.active.Store(true)

	eb.mu.Lock()
	if eventType == "*" {
		eb.allSubscribers = append(eb.allSubscribers, sub)
	} else {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	}
	eb.mu.Unlock()
	eb.activeSubscribers.Add(1)

	eb.logger.Debug("Subscription added",
		zap.String("id", sub.ID),
		zap.String("eventType", string(eventType)),
	)
	return sub
}

// Subscribe registers a handler for an event type
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	return eb.add(eventType, handler, opts)
}

// SubscribeAll registers a handler for all event types
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	return eb.add("*", handler, opts)
}

// Unsubscribe deactivates a subscription and drops it from routing.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	if !sub.active.Swap(false) {
		return
	}
	eb.activeSubscribers.Add(-1)

	eb.mu.Lock()
	defer eb.mu.Unlock()
	remove := func(list []*Subscription) []*Subscription {
		out := list[:0:0]
		for _, s := range list {
			if s != sub {
				out = append(out, s)
			}
		}
		return out
	}
	if sub.EventType == "*" {
		eb.allSubscribers = remove(eb.allSubscribers)
	} else {
		eb.subscribers[sub.EventType] = remove(eb.subscribers[sub.EventType])
	}
}

// Publish queues an event for delivery. If the buffer is full, the event is
// dropped and counted.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("Event dropped - buffer full",
			zap.String("eventType", string(event.GetType())),
		)
	}
}

// PublishSync delivers an event on the caller's goroutine.
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// GetStats returns current performance statistics
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		AvgLatencyNs:      eb.avgLatency.Load(),
		MaxLatencyNs:      eb.maxLatency.Load(),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

// Stop shuts down the event bus
func (eb *EventBus) Stop() {
	eb.logger.Info("Shutting down EventBus...")
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("EventBus shutdown complete",
			zap.Int64("eventsProcessed", eb.eventsProcessed.Load()),
			zap.Int64("eventsDropped", eb.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		eb.logger.Warn("EventBus shutdown timed out")
	}
}
