package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

// ============================================================================
// Alert Methods
// ============================================================================

const alertColumns = `id, instrument_key, symbol, strategy, score, details, indicators,
	status, priority, alert_type, timestamp, expires_at`

// UpsertAlert inserts the alert or updates the existing row for the same
// instrument and strategy. The alert's ID is set from the stored row.
func (s *SQLiteStore) UpsertAlert(ctx context.Context, alert *models.Alert) error {
	details, indicators, err := encodeAlert(alert)
	if err != nil {
		return err
	}
	if alert.Status == "" {
		alert.Status = models.AlertActive
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	var expires sql.NullTime
	if alert.ExpiresAt != nil {
		expires = sql.NullTime{Time: alert.ExpiresAt.UTC(), Valid: true}
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO alerts (instrument_key, symbol, strategy, score, details, indicators, status, priority, alert_type, timestamp, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_key, strategy) DO UPDATE SET
			symbol = excluded.symbol,
			score = excluded.score,
			details = excluded.details,
			indicators = excluded.indicators,
			status = excluded.status,
			priority = excluded.priority,
			alert_type = excluded.alert_type,
			timestamp = excluded.timestamp,
			expires_at = excluded.expires_at
		RETURNING id
	`, alert.InstrumentKey, alert.Symbol, alert.Strategy, alert.Score, details, indicators,
		alert.Status, alert.Priority, alert.Type, alert.CreatedAt.UTC(), expires).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

// GetAlert retrieves one alert by ID.
func (s *SQLiteStore) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %d: %w", id, apperrors.ErrAlertNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []interface{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if len(filter.Priorities) > 0 {
		query += " AND priority IN " + inClause(len(filter.Priorities))
		for _, p := range filter.Priorities {
			args = append(args, p)
		}
	}
	if filter.Type != "" {
		query += " AND alert_type = ?"
		args = append(args, filter.Type)
	}
	if len(filter.Strategies) > 0 {
		query += " AND strategy IN " + inClause(len(filter.Strategies))
		for _, st := range filter.Strategies {
			args = append(args, st)
		}
	}
	if filter.InstrumentKey != "" {
		query += " AND instrument_key = ?"
		args = append(args, filter.InstrumentKey)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

// UpdateAlertStatus sets the status of one alert.
func (s *SQLiteStore) UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE alerts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert %d: %w", id, apperrors.ErrAlertNotFound)
	}
	return nil
}

// ExpireAlerts marks ACTIVE alerts whose expiry has passed as EXPIRED.
func (s *SQLiteStore) ExpireAlerts(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
	`, models.AlertExpired, models.AlertActive, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire alerts: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpiredAlerts removes EXPIRED alerts whose expiry is before the cutoff.
func (s *SQLiteStore) DeleteExpiredAlerts(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM alerts WHERE status = ? AND expires_at < ?
	`, models.AlertExpired, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired alerts: %w", err)
	}
	return result.RowsAffected()
}

// CountExpirable counts the alerts ExpireAlerts would mark.
func (s *SQLiteStore) CountExpirable(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
	`, models.AlertActive, now.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count expirable alerts: %w", err)
	}
	return n, nil
}

// CountDeletable counts the alerts DeleteExpiredAlerts would remove.
func (s *SQLiteStore) CountDeletable(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts WHERE status = ? AND expires_at < ?
	`, models.AlertExpired, before.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count deletable alerts: %w", err)
	}
	return n, nil
}

// AlertStatusCounts returns the number of alerts in each status.
func (s *SQLiteStore) AlertStatusCounts(ctx context.Context) (map[models.AlertStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM alerts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AlertStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[models.AlertStatus(status)] = n
	}
	return counts, rows.Err()
}

// ============================================================================
// Alert encoding
// ============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func encodeAlert(alert *models.Alert) (details, indicators string, err error) {
	d, err := json.Marshal(alert.Payload())
	if err != nil {
		return "", "", fmt.Errorf("failed to encode alert details: %w", err)
	}
	snap := alert.Indicators
	if snap == nil {
		snap = models.Snapshot{}
	}
	i, err := json.Marshal(snap)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode alert indicators: %w", err)
	}
	return string(d), string(i), nil
}

func decodeAlert(a *models.Alert, details, indicators string) error {
	var payload models.AlertPayload
	if err := json.Unmarshal([]byte(details), &payload); err != nil {
		return fmt.Errorf("failed to decode alert details: %w", err)
	}
	a.Reasons = payload.Reasons
	if strings.TrimSpace(indicators) != "" {
		if err := json.Unmarshal([]byte(indicators), &a.Indicators); err != nil {
			return fmt.Errorf("failed to decode alert indicators: %w", err)
		}
	}
	return nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                   models.Alert
		details, indicators string
		status, priority    string
		alertType           string
		expires             sql.NullTime
	)
	err := row.Scan(&a.ID, &a.InstrumentKey, &a.Symbol, &a.Strategy, &a.Score, &details, &indicators,
		&status, &priority, &alertType, &a.CreatedAt, &expires)
	if err != nil {
		return nil, err
	}
	a.Status = models.AlertStatus(status)
	a.Priority = models.AlertPriority(priority)
	a.Type = models.AlertType(alertType)
	if expires.Valid {
		t := expires.Time
		a.ExpiresAt = &t
	}
	if err := decodeAlert(&a, details, indicators); err != nil {
		return nil, err
	}
	return &a, nil
}
