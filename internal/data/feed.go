package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sink receives closed bars and trade prices from a feed.
type Sink interface {
	OnBar(symbol string, tf types.Timeframe, bar types.Bar) error
	OnPrice(symbol string, price decimal.Decimal) error
}

// FeedMessage is one message from the market data gateway.
type FeedMessage struct {
	Type      string          `json:"type"` // bar, price
	Symbol    string          `json:"symbol"`
	Timeframe types.Timeframe `json:"timeframe,omitempty"`
	Bar       *types.Bar      `json:"bar,omitempty"`
	Price     decimal.Decimal `json:"price"`
}

// SubscribeRequest is sent after every (re)connect.
type SubscribeRequest struct {
	Method     string            `json:"method"`
	Symbols    []string          `json:"symbols"`
	Timeframes []types.Timeframe `json:"timeframes"`
	ID         int64             `json:"id"`
}

// FeedConfig configures the feed client. An empty URL disables the feed.
type FeedConfig struct {
	URL               string            `json:"url" mapstructure:"url" yaml:"url"`
	Timeframes        []types.Timeframe `json:"timeframes" mapstructure:"timeframes" yaml:"timeframes"`
	ReconnectDelay    time.Duration     `json:"reconnectDelay" mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration     `json:"maxReconnectDelay" mapstructure:"max_reconnect_delay" yaml:"max_reconnect_delay"`
}

// DefaultFeedConfig returns a disabled feed with 1s..30s reconnect backoff.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		Timeframes:        []types.Timeframe{types.Timeframe5m, types.Timeframe15m, types.Timeframe1h},
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// FeedStats counts feed traffic.
type FeedStats struct {
	Connected  bool  `json:"connected"`
	Bars       int64 `json:"bars"`
	Prices     int64 `json:"prices"`
	Dropped    int64 `json:"dropped"` // malformed or refused by the sink
	Reconnects int64 `json:"reconnects"`
}

// Feed streams bars and prices from a WebSocket gateway into a Sink,
// reconnecting and resubscribing until its context ends.
type Feed struct {
	logger  *zap.Logger
	config  FeedConfig
	symbols []string
	sink    Sink
	tap     func(symbol string, price decimal.Decimal)

	connected  atomic.Bool
	bars       atomic.Int64
	prices     atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

// NewFeed creates a feed for symbols.
func NewFeed(logger *zap.Logger, config FeedConfig, symbols []string, sink Sink) *Feed {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultFeedConfig().ReconnectDelay
	}
	if config.MaxReconnectDelay < config.ReconnectDelay {
		config.MaxReconnectDelay = config.ReconnectDelay
	}
	return &Feed{
		logger:  logger.Named("feed"),
		config:  config,
		symbols: append([]string(nil), symbols...),
		sink:    sink,
	}
}

// Tap registers fn to see every price and bar close before the sink does.
// Must be called before Run.
func (f *Feed) Tap(fn func(symbol string, price decimal.Decimal)) {
	f.tap = fn
}

// Run connects and streams until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	u, err := url.Parse(f.config.URL)
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}

	delay := f.config.ReconnectDelay
	for {
		err := f.session(ctx, u.String())
		if ctx.Err() != nil {
			return nil
		}
		f.reconnects.Add(1)
		f.logger.Warn("Feed disconnected, reconnecting",
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}
}

// session runs one connection. It returns when the connection fails or ctx
// ends.
func (f *Feed) session(ctx context.Context, addr string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return err
	}
	f.connected.Store(true)
	defer func() {
		f.connected.Store(false)
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := SubscribeRequest{
		Method:     "SUBSCRIBE",
		Symbols:    f.symbols,
		Timeframes: f.config.Timeframes,
		ID:         time.Now().UnixNano(),
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("Feed connected",
		zap.String("url", addr),
		zap.Strings("symbols", f.symbols))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(raw)
	}
}

func (f *Feed) handle(raw []byte) {
	var msg FeedMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" {
		f.dropped.Add(1)
		f.logger.Debug("Malformed feed message", zap.ByteString("raw", raw), zap.Error(err))
		return
	}

	switch msg.Type {
	case "bar":
		if msg.Bar == nil || msg.Timeframe.Duration() == 0 {
			f.dropped.Add(1)
			return
		}
		if f.tap != nil {
			f.tap(msg.Symbol, msg.Bar.Close)
		}
		if err := f.sink.OnBar(msg.Symbol, msg.Timeframe, *msg.Bar); err != nil {
			f.dropped.Add(1)
			f.logger.Warn("Bar refused",
				zap.String("symbol", msg.Symbol),
				zap.String("timeframe", string(msg.Timeframe)),
				zap.Error(err))
			return
		}
		f.bars.Add(1)

	case "price":
		if !msg.Price.IsPositive() {
			f.dropped.Add(1)
			return
		}
		if f.tap != nil {
			f.tap(msg.Symbol, msg.Price)
		}
		if err := f.sink.OnPrice(msg.Symbol, msg.Price); err != nil {
			f.dropped.Add(1)
			return
		}
		f.prices.Add(1)

	default:
		f.dropped.Add(1)
	}
}

// Stats returns feed counters.
func (f *Feed) Stats() FeedStats {
	return FeedStats{
		Connected:  f.connected.Load(),
		Bars:       f.bars.Load(),
		Prices:     f.prices.Load(),
		Dropped:    f.dropped.Load(),
		Reconnects: f.reconnects.Load(),
	}
}
