package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"radar-trader/internal/broker"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/logging"
	"radar-trader/internal/models"
	"radar-trader/internal/notify"
	"radar-trader/internal/store"
)

// Entry check names, in evaluation order.
const (
	CheckMaxPositions = "max_open_positions"
	CheckMinAvailable = "min_available_balance"
	CheckPriority     = "alert_priority"
	CheckOpenPosition = "existing_position"
	CheckPositionSize = "position_size"
)

// EntryState is the wallet state the entry checks run against.
type EntryState struct {
	OpenPositions int
	Available     decimal.Decimal
	HasPosition   bool
}

// EntryResult contains the result of the entry checks.
type EntryResult struct {
	Allowed      bool
	BlockReason  string
	ChecksPassed []string
	ChecksFailed []string
	Rejection    *apperrors.RejectionError
}

func (r *EntryResult) block(rule, current, limit, reason string) EntryResult {
	r.Allowed = false
	r.BlockReason = reason
	r.ChecksFailed = append(r.ChecksFailed, rule)
	r.Rejection = apperrors.NewRejectionError(rule, current, limit, reason)
	return *r
}

// CheckEntry runs the entry checks in a fixed order and stops at the first
// failure, so a rejected alert always reports the same reason.
func CheckEntry(cfg Config, alert *models.Alert, state EntryState) EntryResult {
	result := EntryResult{
		Allowed:      true,
		ChecksPassed: []string{},
		ChecksFailed: []string{},
	}

	if state.OpenPositions >= cfg.MaxOpenPositions {
		return result.block(CheckMaxPositions, strconv.Itoa(state.OpenPositions), strconv.Itoa(cfg.MaxOpenPositions),
			"maximum open positions reached")
	}
	result.ChecksPassed = append(result.ChecksPassed, CheckMaxPositions)

	if state.Available.LessThan(cfg.MinAvailableBalance) {
		return result.block(CheckMinAvailable, state.Available.StringFixed(2), cfg.MinAvailableBalance.StringFixed(2),
			"available balance below minimum")
	}
	result.ChecksPassed = append(result.ChecksPassed, CheckMinAvailable)

	if !alert.Priority.IsActionable() {
		return result.block(CheckPriority, string(alert.Priority), string(models.PriorityHigh),
			"alert priority too low")
	}
	result.ChecksPassed = append(result.ChecksPassed, CheckPriority)

	if state.HasPosition {
		return result.block(CheckOpenPosition, alert.InstrumentKey, "none",
			"position already open for instrument")
	}
	result.ChecksPassed = append(result.ChecksPassed, CheckOpenPosition)

	return result
}

// ============================================================================
// Engine
// ============================================================================

// Engine opens paper trades from alerts and manages them until they close.
type Engine struct {
	cfg       Config
	alerts    store.AlertStore
	ledger    store.LedgerStore
	prices    broker.PriceFeed
	publisher notify.Publisher
	locks     *WalletLocks
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine creates an engine. A nil publisher drops events.
func NewEngine(cfg Config, alerts store.AlertStore, ledger store.LedgerStore, prices broker.PriceFeed,
	publisher notify.Publisher, logger zerolog.Logger) *Engine {
	if publisher == nil {
		publisher = notify.NoOpPublisher{}
	}
	if cfg.Bracket == nil {
		cfg.Bracket = DefaultPercentBracket()
	}
	return &Engine{
		cfg:       cfg,
		alerts:    alerts,
		ledger:    ledger,
		prices:    prices,
		publisher: publisher,
		locks:     NewWalletLocks(),
		logger:    logger.With().Str("component", "engine").Logger(),
		now:       time.Now,
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// ResolveWallet returns the wallet with the given ID, the configured wallet
// when id is empty, or else the first active wallet.
func (e *Engine) ResolveWallet(ctx context.Context, id string) (*models.Wallet, error) {
	if id == "" {
		id = e.cfg.WalletID
	}
	if id != "" {
		return e.ledger.GetWallet(ctx, id)
	}

	wallets, err := e.ledger.ListWallets(ctx)
	if err != nil {
		return nil, err
	}
	for i := range wallets {
		if wallets[i].IsActive {
			return &wallets[i], nil
		}
	}
	return nil, fmt.Errorf("no active wallet: %w", apperrors.ErrWalletNotFound)
}

// ShouldTakeTrade loads the wallet's state and runs the entry checks.
func (e *Engine) ShouldTakeTrade(ctx context.Context, wallet *models.Wallet, alert *models.Alert) (EntryResult, error) {
	open, err := e.ledger.CountPositions(ctx, wallet.ID)
	if err != nil {
		return EntryResult{}, fmt.Errorf("failed to count positions: %w", err)
	}

	hasPosition := true
	if _, err := e.ledger.GetPosition(ctx, wallet.ID, alert.InstrumentKey); err != nil {
		if !errors.Is(err, apperrors.ErrPositionNotFound) {
			return EntryResult{}, err
		}
		hasPosition = false
	}

	return CheckEntry(e.cfg, alert, EntryState{
		OpenPositions: open,
		Available:     wallet.AvailableBalance(),
		HasPosition:   hasPosition,
	}), nil
}

// ExecuteTrade opens a trade for the alert at the current price. A rejected
// alert returns a *errors.RejectionError; a missing price is a soft error.
func (e *Engine) ExecuteTrade(ctx context.Context, walletID string, alert *models.Alert) (*models.Trade, error) {
	unlock := e.locks.Lock(walletID)
	defer unlock()

	wallet, err := e.ledger.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if err := e.checkEntry(ctx, wallet, alert); err != nil {
		return nil, err
	}

	price, err := e.prices.CurrentPrice(ctx, alert.InstrumentKey)
	if err != nil {
		return nil, err
	}
	return e.open(ctx, wallet, alert, price, 0)
}

// OpenTrade opens a trade for the alert at entry with a fixed quantity,
// subject to the same entry checks as ExecuteTrade. A quantity of zero is
// sized from the wallet.
func (e *Engine) OpenTrade(ctx context.Context, walletID string, alert *models.Alert, entry decimal.Decimal, qty int64) (*models.Trade, error) {
	unlock := e.locks.Lock(walletID)
	defer unlock()

	wallet, err := e.ledger.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if err := e.checkEntry(ctx, wallet, alert); err != nil {
		return nil, err
	}
	return e.open(ctx, wallet, alert, entry, qty)
}

func (e *Engine) checkEntry(ctx context.Context, wallet *models.Wallet, alert *models.Alert) error {
	result, err := e.ShouldTakeTrade(ctx, wallet, alert)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return result.Rejection
	}
	return nil
}

// open must be called with the wallet's lock held.
func (e *Engine) open(ctx context.Context, wallet *models.Wallet, alert *models.Alert, entry decimal.Decimal, qty int64) (*models.Trade, error) {
	if !entry.IsPositive() {
		return nil, apperrors.NewDataError("price", alert.InstrumentKey, "non-positive entry price", apperrors.ErrPriceUnavailable)
	}

	side := SideFor(alert.Strategy)
	target, stop := e.cfg.Bracket.Levels(alert, side, entry)
	if qty <= 0 {
		qty = PositionSize(e.cfg, wallet, entry, decimal.NewNullDecimal(stop))
	}
	if qty <= 0 {
		return nil, apperrors.NewRejectionError(CheckPositionSize, wallet.AvailableBalance().StringFixed(2),
			entry.StringFixed(2), "available balance cannot cover one unit")
	}

	value := entry.Mul(decimal.NewFromInt(qty))
	trade := &models.Trade{
		ID:             uuid.New().String(),
		WalletID:       wallet.ID,
		AlertID:        alert.ID,
		InstrumentKey:  alert.InstrumentKey,
		Symbol:         alert.Symbol,
		Side:           side,
		Quantity:       qty,
		EntryPrice:     entry,
		TargetPrice:    decimal.NewNullDecimal(target),
		StopLoss:       decimal.NewNullDecimal(stop),
		EntryTime:      e.now(),
		RiskAmount:     value.Mul(e.cfg.RiskPerTrade).Round(2),
		RiskPercentage: e.cfg.RiskPerTrade.Mul(hundred),
		Notes:          fmt.Sprintf("Opened from %s alert (score %d)", alert.Strategy, alert.Score),
	}

	if _, err := e.ledger.OpenTrade(ctx, trade); err != nil {
		return nil, err
	}

	logging.LogTrade(logging.WithWallet(e.logger, wallet.ID), trade.ID, trade.Symbol, string(side), qty, entry)
	e.publisher.Publish(ctx, notify.TradeOpenedEvent(trade))
	if updated, err := e.ledger.GetWallet(ctx, wallet.ID); err == nil {
		e.publisher.Publish(ctx, notify.WalletUpdatedEvent(updated))
	}

	return trade, nil
}

// ============================================================================
// Alert processing
// ============================================================================

// CycleReport counts what one engine pass did.
type CycleReport struct {
	Opened   int
	Rejected int
	Updated  int
	Closed   int
	Skipped  int
	Failed   int
	Errors   []error
}

// record files a per-item error as skipped when soft and failed otherwise.
func (r *CycleReport) record(err error) {
	if apperrors.IsSoft(err) {
		r.Skipped++
		return
	}
	r.Failed++
	r.Errors = append(r.Errors, err)
}

func (r *CycleReport) merge(o *CycleReport) {
	if o == nil {
		return
	}
	r.Opened += o.Opened
	r.Rejected += o.Rejected
	r.Updated += o.Updated
	r.Closed += o.Closed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// ProcessAlerts opens trades for ACTIVE HIGH and CRITICAL entry alerts,
// newest first. Alerts that already produced a trade are skipped.
func (e *Engine) ProcessAlerts(ctx context.Context, walletID string) (*CycleReport, error) {
	report := &CycleReport{}

	alerts, err := e.alerts.ListAlerts(ctx, models.AlertFilter{
		Status:     models.AlertActive,
		Priorities: []models.AlertPriority{models.PriorityHigh, models.PriorityCritical},
		Type:       models.AlertTypeEntry,
	})
	if err != nil {
		return report, fmt.Errorf("failed to list alerts: %w", err)
	}

	now := e.now()
	for i := range alerts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		alert := &alerts[i]
		if alert.IsExpired(now) {
			continue
		}

		traded, err := e.ledger.HasTradeForAlert(ctx, alert.ID)
		if err != nil {
			report.record(err)
			continue
		}
		if traded {
			continue
		}

		_, err = e.ExecuteTrade(ctx, walletID, alert)
		var rejection *apperrors.RejectionError
		switch {
		case err == nil:
			report.Opened++
		case errors.As(err, &rejection):
			report.Rejected++
			e.logger.Debug().Str("symbol", alert.Symbol).Str("rule", rejection.Rule).Msg(rejection.Message)
			if rejection.Rule == CheckMaxPositions || rejection.Rule == CheckMinAvailable {
				return report, nil
			}
		case errors.Is(err, apperrors.ErrWalletNotFound):
			return report, err
		default:
			report.record(err)
			e.logger.Warn().Err(err).Str("symbol", alert.Symbol).Msg("failed to execute trade")
		}
	}

	return report, nil
}
