package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

// ============================================================================
// Instrument Methods
// ============================================================================

const instrumentColumns = `instrument_key, token, symbol, name, exchange, sector, avg_volume, is_active`

// SaveInstruments inserts or replaces instruments in one transaction.
func (s *SQLiteStore) SaveInstruments(ctx context.Context, instruments []models.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instruments (instrument_key, token, symbol, name, exchange, sector, avg_volume, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, in := range instruments {
		_, err := stmt.ExecContext(ctx, in.Key, in.Token, in.Symbol, in.Name, in.Exchange, in.Sector,
			in.AvgVolume, boolToInt(in.IsActive), now)
		if err != nil {
			return fmt.Errorf("failed to insert instrument: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetInstrument retrieves one instrument by key.
func (s *SQLiteStore) GetInstrument(ctx context.Context, key string) (*models.Instrument, error) {
	in, err := scanInstrument(s.db.QueryRowContext(ctx, `
		SELECT `+instrumentColumns+` FROM instruments WHERE instrument_key = ?
	`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewDataError("instrument", key, "unknown instrument", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	return in, nil
}

// TopInstruments returns active instruments ranked by average volume.
func (s *SQLiteStore) TopInstruments(ctx context.Context, limit int) ([]models.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE is_active = 1 ORDER BY avg_volume DESC, instrument_key`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []models.Instrument
	for rows.Next() {
		in, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, *in)
	}
	return instruments, rows.Err()
}

func scanInstrument(row rowScanner) (*models.Instrument, error) {
	var (
		in           models.Instrument
		exchange     string
		name, sector sql.NullString
		active       int
	)
	if err := row.Scan(&in.Key, &in.Token, &in.Symbol, &name, &exchange, &sector, &in.AvgVolume, &active); err != nil {
		return nil, err
	}
	in.Name = name.String
	in.Sector = sector.String
	in.Exchange = models.Exchange(exchange)
	in.IsActive = active == 1
	return &in, nil
}

// ============================================================================
// Candle Methods
// ============================================================================

// SaveCandles saves candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, key, interval string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (instrument_key, interval, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, key, interval, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles retrieves candles from the database in ascending time order.
func (s *SQLiteStore) GetCandles(ctx context.Context, key, interval string, from, to time.Time) (models.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE instrument_key = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, key, interval, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles models.Series
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// GetCandlesFreshness returns the timestamp of the most recent candle, or
// the zero time when none is stored.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, key, interval string) (time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM candles WHERE instrument_key = ? AND interval = ?
	`, key, interval).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get candles freshness: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return parseSQLiteTime(latest.String)
}

// parseSQLiteTime parses the text form go-sqlite3 writes for time values.
// Aggregates such as MAX lose the column's declared type, so they come back
// as strings.
func parseSQLiteTime(v string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse time %q", v)
}
