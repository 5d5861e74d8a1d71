// Package notify publishes trade and wallet events from the paper-trading
// engine. Delivery is best effort: a failed publish is logged and never
// fails the trade that produced it.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"radar-trader/internal/models"
)

// EventType identifies an event on the trade channel.
type EventType string

const (
	EventTradeOpened   EventType = "trade_opened"
	EventTradeClosed   EventType = "trade_closed"
	EventWalletUpdated EventType = "wallet_updated"
)

// Event is the message published for every ledger change.
type Event struct {
	Type          EventType           `json:"type"`
	WalletID      string              `json:"wallet_id"`
	TradeID       string              `json:"trade_id,omitempty"`
	InstrumentKey string              `json:"instrument_key,omitempty"`
	Symbol        string              `json:"symbol,omitempty"`
	Side          models.OrderSide    `json:"side,omitempty"`
	Quantity      int64               `json:"quantity,omitempty"`
	Price         decimal.NullDecimal `json:"price"`
	PnL           decimal.NullDecimal `json:"pnl"`
	Reason        string              `json:"reason,omitempty"`
	Wallet        *WalletSnapshot     `json:"wallet,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// WalletSnapshot is the wallet state carried by wallet events.
type WalletSnapshot struct {
	Balance       decimal.Decimal `json:"balance"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	Available     decimal.Decimal `json:"available_balance"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
}

// TradeOpenedEvent builds the event for a newly executed trade.
func TradeOpenedEvent(t *models.Trade) Event {
	return Event{
		Type:          EventTradeOpened,
		WalletID:      t.WalletID,
		TradeID:       t.ID,
		InstrumentKey: t.InstrumentKey,
		Symbol:        t.Symbol,
		Side:          t.Side,
		Quantity:      t.Quantity,
		Price:         decimal.NewNullDecimal(t.EntryPrice),
		Timestamp:     t.EntryTime,
	}
}

// TradeClosedEvent builds the event for a closed trade.
func TradeClosedEvent(t *models.Trade, reason string) Event {
	ev := Event{
		Type:          EventTradeClosed,
		WalletID:      t.WalletID,
		TradeID:       t.ID,
		InstrumentKey: t.InstrumentKey,
		Symbol:        t.Symbol,
		Side:          t.Side,
		Quantity:      t.Quantity,
		Price:         t.ExitPrice,
		PnL:           t.PnL,
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
	}
	if t.ExitTime != nil {
		ev.Timestamp = *t.ExitTime
	}
	return ev
}

// WalletUpdatedEvent builds the event for a wallet change.
func WalletUpdatedEvent(w *models.Wallet) Event {
	return Event{
		Type:     EventWalletUpdated,
		WalletID: w.ID,
		Wallet: &WalletSnapshot{
			Balance:       w.Balance,
			TotalInvested: w.TotalInvested,
			Available:     w.AvailableBalance(),
			TotalPnL:      w.TotalPnL,
			TotalTrades:   w.TotalTrades,
			WinningTrades: w.WinningTrades,
			LosingTrades:  w.LosingTrades,
		},
		Timestamp: w.UpdatedAt,
	}
}

// Publisher receives ledger events.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// ============================================================================
// Publishers
// ============================================================================

// NoOpPublisher discards every event.
type NoOpPublisher struct{}

// Publish does nothing.
func (NoOpPublisher) Publish(context.Context, Event) {}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a publisher logging through logger.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, ev Event) {
	e := p.logger.Info().
		Str("event", string(ev.Type)).
		Str("wallet", ev.WalletID)
	if ev.TradeID != "" {
		e = e.Str("trade_id", ev.TradeID).Str("symbol", ev.Symbol).Str("side", string(ev.Side)).Int64("quantity", ev.Quantity)
	}
	if ev.Price.Valid {
		e = e.Str("price", ev.Price.Decimal.StringFixed(2))
	}
	if ev.PnL.Valid {
		e = e.Str("pnl", ev.PnL.Decimal.StringFixed(2))
	}
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	if ev.Wallet != nil {
		e = e.Str("balance", ev.Wallet.Balance.StringFixed(2)).Str("available", ev.Wallet.Available.StringFixed(2))
	}
	e.Msg("ledger event")
}

// Broadcaster publishes a JSON message on a channel. *cache.RedisClient
// satisfies it.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisPublisher sends events on a per-wallet pub/sub channel named
// "<prefix>:<wallet id>".
type RedisPublisher struct {
	client  Broadcaster
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisPublisher creates a publisher over client.
func NewRedisPublisher(client Broadcaster, prefix string, logger zerolog.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "radar:trades"
	}
	return &RedisPublisher{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "redis_events").Logger(),
	}
}

// Channel returns the channel name for a wallet.
func (p *RedisPublisher) Channel(walletID string) string {
	return fmt.Sprintf("%s:%s", p.prefix, walletID)
}

// Publish sends the event, logging any failure.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.Channel(ev.WalletID), ev); err != nil {
		p.logger.Warn().Err(err).Str("event", string(ev.Type)).Str("wallet", ev.WalletID).Msg("failed to publish event")
	}
}

// MultiPublisher fans an event out to several publishers.
type MultiPublisher struct {
	mu         sync.RWMutex
	publishers []Publisher
}

// NewMultiPublisher creates a fan-out over publishers. Nil entries are skipped.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		m.Add(p)
	}
	return m
}

// Add registers another publisher.
func (m *MultiPublisher) Add(p Publisher) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers = append(m.publishers, p)
}

// Publish sends ev to every publisher in registration order.
func (m *MultiPublisher) Publish(ctx context.Context, ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.publishers {
		p.Publish(ctx, ev)
	}
}
