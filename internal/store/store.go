// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"radar-trader/internal/models"
)

// AlertStore persists alerts. Alerts are unique per (instrument, strategy);
// saving an alert for an existing pair updates the row in place.
type AlertStore interface {
	UpsertAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id int64) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error

	// Lifecycle
	ExpireAlerts(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredAlerts(ctx context.Context, before time.Time) (int64, error)
	CountExpirable(ctx context.Context, now time.Time) (int64, error)
	CountDeletable(ctx context.Context, before time.Time) (int64, error)
	AlertStatusCounts(ctx context.Context) (map[models.AlertStatus]int64, error)

	Close() error
}

// LedgerStore persists wallets, trades and positions. Every mutating call
// runs in a single transaction.
type LedgerStore interface {
	// Wallets
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	GetWallet(ctx context.Context, id string) (*models.Wallet, error)
	ListWallets(ctx context.Context) ([]models.Wallet, error)

	// Trades
	OpenTrade(ctx context.Context, trade *models.Trade) (*models.Position, error)
	CloseTrade(ctx context.Context, req CloseRequest) (*CloseResult, error)
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	HasTradeForAlert(ctx context.Context, alertID int64) (bool, error)

	// Positions
	GetPosition(ctx context.Context, walletID, instrumentKey string) (*models.Position, error)
	ListPositions(ctx context.Context, walletID string) ([]models.Position, error)
	CountPositions(ctx context.Context, walletID string) (int, error)
	SavePositionPrice(ctx context.Context, position *models.Position) error
}

// InstrumentStore persists the instrument universe and cached daily candles.
type InstrumentStore interface {
	SaveInstruments(ctx context.Context, instruments []models.Instrument) error
	GetInstrument(ctx context.Context, key string) (*models.Instrument, error)
	TopInstruments(ctx context.Context, limit int) ([]models.Instrument, error)

	SaveCandles(ctx context.Context, key, interval string, candles []models.Candle) error
	GetCandles(ctx context.Context, key, interval string, from, to time.Time) (models.Series, error)
	GetCandlesFreshness(ctx context.Context, key, interval string) (time.Time, error)
}

// TradeFilter selects trades. Zero values are ignored.
type TradeFilter struct {
	WalletID      string
	InstrumentKey string
	Status        models.TradeStatus
	Since         time.Time
	Limit         int
}

// CloseRequest closes one trade at a price.
type CloseRequest struct {
	TradeID   string
	ExitPrice decimal.Decimal
	ExitTime  time.Time
	Reason    string
}

// CloseResult reports the outcome of a close. Closed is false when the
// trade was already closed and nothing changed.
type CloseResult struct {
	Trade  *models.Trade
	Wallet *models.Wallet
	Closed bool
}
