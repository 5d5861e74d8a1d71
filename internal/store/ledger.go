package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ============================================================================
// Wallet Methods
// ============================================================================

const walletColumns = `id, owner, balance, total_invested, total_pnl, total_trades,
	winning_trades, losing_trades, is_active, created_at, updated_at`

// CreateWallet inserts a new active wallet. A missing ID is generated.
func (s *SQLiteStore) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	wallet.CreatedAt = now
	wallet.UpdatedAt = now
	wallet.IsActive = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, owner, balance, total_invested, total_pnl, total_trades, winning_trades, losing_trades, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, wallet.ID, wallet.Owner, wallet.Balance, wallet.TotalInvested, wallet.TotalPnL, wallet.TotalTrades,
		wallet.WinningTrades, wallet.LosingTrades, boolToInt(wallet.IsActive), wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// GetWallet retrieves a wallet by ID.
func (s *SQLiteStore) GetWallet(ctx context.Context, id string) (*models.Wallet, error) {
	return getWallet(ctx, s.db, id)
}

// ListWallets retrieves all wallets.
func (s *SQLiteStore) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

func getWallet(ctx context.Context, q querier, id string) (*models.Wallet, error) {
	w, err := scanWallet(q.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s: %w", id, apperrors.ErrWalletNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	var active int
	err := row.Scan(&w.ID, &w.Owner, &w.Balance, &w.TotalInvested, &w.TotalPnL, &w.TotalTrades,
		&w.WinningTrades, &w.LosingTrades, &active, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.IsActive = active == 1
	return &w, nil
}

func saveWalletTx(ctx context.Context, tx *sql.Tx, w *models.Wallet) error {
	w.UpdatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = ?, total_invested = ?, total_pnl = ?, total_trades = ?,
			winning_trades = ?, losing_trades = ?, updated_at = ?
		WHERE id = ?
	`, w.Balance, w.TotalInvested, w.TotalPnL, w.TotalTrades, w.WinningTrades, w.LosingTrades, w.UpdatedAt, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return nil
}

// ============================================================================
// Trade Methods
// ============================================================================

const tradeColumns = `id, wallet_id, alert_id, instrument_key, symbol, side, quantity, entry_price,
	target_price, stop_loss, status, exit_price, pnl, pnl_percentage, entry_time, exit_time,
	risk_amount, risk_percentage, notes`

// OpenTrade records an EXECUTED trade in one transaction: the trade row, the
// wallet's invested capital and trade count, the position for the
// instrument, and the originating alert's TRIGGERED status.
func (s *SQLiteStore) OpenTrade(ctx context.Context, trade *models.Trade) (*models.Position, error) {
	if trade.Quantity <= 0 {
		return nil, apperrors.NewInvariantError("trade", trade.ID, "quantity must be positive", nil)
	}
	if trade.ID == "" {
		trade.ID = uuid.New().String()
	}
	if trade.EntryTime.IsZero() {
		trade.EntryTime = time.Now()
	}
	trade.Status = models.TradeExecuted

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := getWallet(ctx, tx, trade.WalletID)
	if err != nil {
		return nil, err
	}

	value := trade.Value()
	if wallet.AvailableBalance().LessThan(value) {
		return nil, apperrors.NewInvariantError("wallet", wallet.ID,
			fmt.Sprintf("trade value %s exceeds available %s", value, wallet.AvailableBalance()),
			apperrors.ErrInsufficientBalance)
	}

	var alertID sql.NullInt64
	if trade.AlertID > 0 {
		alertID = sql.NullInt64{Int64: trade.AlertID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades (id, wallet_id, alert_id, instrument_key, symbol, side, quantity, entry_price,
			target_price, stop_loss, status, entry_time, risk_amount, risk_percentage, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.WalletID, alertID, trade.InstrumentKey, trade.Symbol, trade.Side, trade.Quantity,
		trade.EntryPrice, trade.TargetPrice, trade.StopLoss, trade.Status, trade.EntryTime.UTC(),
		trade.RiskAmount, trade.RiskPercentage, trade.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to insert trade: %w", err)
	}

	wallet.TotalInvested = wallet.TotalInvested.Add(value)
	wallet.TotalTrades++
	if err := saveWalletTx(ctx, tx, wallet); err != nil {
		return nil, err
	}

	position, err := upsertPositionTx(ctx, tx, trade)
	if err != nil {
		return nil, err
	}

	if alertID.Valid {
		if _, err := tx.ExecContext(ctx, `UPDATE alerts SET status = ? WHERE id = ?`, models.AlertTriggered, trade.AlertID); err != nil {
			return nil, fmt.Errorf("failed to mark alert triggered: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return position, nil
}

// CloseTrade closes an EXECUTED trade at the requested price in one
// transaction: the trade's exit fields, the wallet's balance, P&L, invested
// capital and win/loss counters, and deletion of the position. Closing a
// trade that is already CLOSED changes nothing and reports Closed=false.
func (s *SQLiteStore) CloseTrade(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	trade, err := getTrade(ctx, tx, req.TradeID)
	if err != nil {
		return nil, err
	}

	switch trade.Status {
	case models.TradeClosed:
		return &CloseResult{Trade: trade}, nil
	case models.TradeExecuted:
	default:
		return nil, apperrors.NewInvariantError("trade", trade.ID,
			fmt.Sprintf("cannot close trade in status %s", trade.Status), nil)
	}

	exitTime := req.ExitTime
	if exitTime.IsZero() {
		exitTime = time.Now()
	}
	pnl, pct := trade.RealizedPnL(req.ExitPrice)
	notes := "Closed: " + req.Reason

	result, err := tx.ExecContext(ctx, `
		UPDATE trades SET status = ?, exit_price = ?, pnl = ?, pnl_percentage = ?, exit_time = ?, notes = ?
		WHERE id = ? AND status = ?
	`, models.TradeClosed, req.ExitPrice, pnl, pct, exitTime.UTC(), notes, trade.ID, models.TradeExecuted)
	if err != nil {
		return nil, fmt.Errorf("failed to close trade: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &CloseResult{Trade: trade}, nil
	}

	wallet, err := getWallet(ctx, tx, trade.WalletID)
	if err != nil {
		return nil, err
	}

	wallet.TotalInvested = wallet.TotalInvested.Sub(trade.Value())
	if wallet.TotalInvested.IsNegative() {
		return nil, apperrors.NewInvariantError("wallet", wallet.ID, "total invested would become negative", nil)
	}
	wallet.TotalPnL = wallet.TotalPnL.Add(pnl)
	wallet.Balance = wallet.Balance.Add(pnl)
	if pnl.IsPositive() {
		wallet.WinningTrades++
	} else {
		wallet.LosingTrades++
	}
	if err := saveWalletTx(ctx, tx, wallet); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM positions WHERE wallet_id = ? AND instrument_key = ?
	`, trade.WalletID, trade.InstrumentKey); err != nil {
		return nil, fmt.Errorf("failed to delete position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	trade.Status = models.TradeClosed
	trade.ExitPrice = decimal.NewNullDecimal(req.ExitPrice)
	trade.PnL = decimal.NewNullDecimal(pnl)
	trade.PnLPercentage = decimal.NewNullDecimal(pct)
	trade.ExitTime = &exitTime
	trade.Notes = notes

	return &CloseResult{Trade: trade, Wallet: wallet, Closed: true}, nil
}

// GetTrade retrieves a trade by ID.
func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	return getTrade(ctx, s.db, id)
}

// ListTrades retrieves trades matching the filter, newest first.
func (s *SQLiteStore) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	var args []interface{}

	if filter.WalletID != "" {
		query += " AND wallet_id = ?"
		args = append(args, filter.WalletID)
	}
	if filter.InstrumentKey != "" {
		query += " AND instrument_key = ?"
		args = append(args, filter.InstrumentKey)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY entry_time DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// HasTradeForAlert reports whether any trade was opened from the alert.
func (s *SQLiteStore) HasTradeForAlert(ctx context.Context, alertID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trades WHERE alert_id = ?)`, alertID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check trades for alert: %w", err)
	}
	return exists == 1, nil
}

func getTrade(ctx context.Context, q querier, id string) (*models.Trade, error) {
	t, err := scanTrade(q.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, apperrors.ErrTradeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var (
		t        models.Trade
		alertID  sql.NullInt64
		side     string
		status   string
		exitTime sql.NullTime
		notes    sql.NullString
	)
	err := row.Scan(&t.ID, &t.WalletID, &alertID, &t.InstrumentKey, &t.Symbol, &side, &t.Quantity, &t.EntryPrice,
		&t.TargetPrice, &t.StopLoss, &status, &t.ExitPrice, &t.PnL, &t.PnLPercentage, &t.EntryTime, &exitTime,
		&t.RiskAmount, &t.RiskPercentage, &notes)
	if err != nil {
		return nil, err
	}
	t.AlertID = alertID.Int64
	t.Side = models.OrderSide(side)
	t.Status = models.TradeStatus(status)
	if exitTime.Valid {
		et := exitTime.Time
		t.ExitTime = &et
	}
	t.Notes = notes.String
	return &t, nil
}

// ============================================================================
// Position Methods
// ============================================================================

const positionColumns = `id, wallet_id, instrument_key, symbol, side, quantity, avg_entry_price,
	current_price, unrealized_pnl, unrealized_pnl_percentage, updated_at`

// GetPosition retrieves the open position of a wallet in an instrument.
func (s *SQLiteStore) GetPosition(ctx context.Context, walletID, instrumentKey string) (*models.Position, error) {
	return getPosition(ctx, s.db, walletID, instrumentKey)
}

// ListPositions retrieves all open positions of a wallet.
func (s *SQLiteStore) ListPositions(ctx context.Context, walletID string) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM positions WHERE wallet_id = ? ORDER BY id
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// CountPositions returns the number of open positions of a wallet.
func (s *SQLiteStore) CountPositions(ctx context.Context, walletID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE wallet_id = ?`, walletID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}
	return n, nil
}

// SavePositionPrice stores the mark-to-market fields of a position.
func (s *SQLiteStore) SavePositionPrice(ctx context.Context, position *models.Position) error {
	position.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE positions SET current_price = ?, unrealized_pnl = ?, unrealized_pnl_percentage = ?, updated_at = ?
		WHERE wallet_id = ? AND instrument_key = ?
	`, position.CurrentPrice, position.UnrealizedPnL, position.UnrealizedPnLPercentage, position.UpdatedAt,
		position.WalletID, position.InstrumentKey)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("position %s/%s: %w", position.WalletID, position.InstrumentKey, apperrors.ErrPositionNotFound)
	}
	return nil
}

func upsertPositionTx(ctx context.Context, tx *sql.Tx, trade *models.Trade) (*models.Position, error) {
	position, err := getPosition(ctx, tx, trade.WalletID, trade.InstrumentKey)
	switch {
	case errors.Is(err, apperrors.ErrPositionNotFound):
		position = &models.Position{
			WalletID:      trade.WalletID,
			InstrumentKey: trade.InstrumentKey,
			Symbol:        trade.Symbol,
			Side:          trade.Side,
		}
	case err != nil:
		return nil, err
	case position.Side != trade.Side:
		return nil, apperrors.NewInvariantError("position", trade.InstrumentKey,
			fmt.Sprintf("%s trade against open %s position", trade.Side, position.Side), apperrors.ErrPositionExists)
	}

	position.Add(trade.EntryPrice, trade.Quantity)
	position.Revalue(trade.EntryPrice)
	position.UpdatedAt = time.Now().UTC()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO positions (wallet_id, instrument_key, symbol, side, quantity, avg_entry_price,
			current_price, unrealized_pnl, unrealized_pnl_percentage, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wallet_id, instrument_key) DO UPDATE SET
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			current_price = excluded.current_price,
			unrealized_pnl = excluded.unrealized_pnl,
			unrealized_pnl_percentage = excluded.unrealized_pnl_percentage,
			updated_at = excluded.updated_at
		RETURNING id
	`, position.WalletID, position.InstrumentKey, position.Symbol, position.Side, position.Quantity,
		position.AvgEntryPrice, position.CurrentPrice, position.UnrealizedPnL, position.UnrealizedPnLPercentage,
		position.UpdatedAt).Scan(&position.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert position: %w", err)
	}
	return position, nil
}

func getPosition(ctx context.Context, q querier, walletID, instrumentKey string) (*models.Position, error) {
	p, err := scanPosition(q.QueryRowContext(ctx, `
		SELECT `+positionColumns+` FROM positions WHERE wallet_id = ? AND instrument_key = ?
	`, walletID, instrumentKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%s: %w", walletID, instrumentKey, apperrors.ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var p models.Position
	var side string
	err := row.Scan(&p.ID, &p.WalletID, &p.InstrumentKey, &p.Symbol, &side, &p.Quantity, &p.AvgEntryPrice,
		&p.CurrentPrice, &p.UnrealizedPnL, &p.UnrealizedPnLPercentage, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Side = models.OrderSide(side)
	return &p, nil
}
