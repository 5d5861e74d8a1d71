package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

// PostgresAlertStore implements AlertStore on a shared PostgreSQL database so
// scanners on several hosts can publish alerts to one table.
type PostgresAlertStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAlertStore connects to PostgreSQL and ensures the alerts table.
func NewPostgresAlertStore(ctx context.Context, dsn string) (*PostgresAlertStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresAlertStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresAlertStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS radar_alerts (
			id BIGSERIAL PRIMARY KEY,
			instrument_key TEXT NOT NULL,
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			score INTEGER NOT NULL,
			details JSONB NOT NULL,
			indicators JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			priority TEXT NOT NULL DEFAULT 'LOW',
			alert_type TEXT NOT NULL DEFAULT 'SCREENING',
			timestamp TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			UNIQUE (instrument_key, strategy)
		);
		CREATE INDEX IF NOT EXISTS idx_radar_alerts_status ON radar_alerts(status);
		CREATE INDEX IF NOT EXISTS idx_radar_alerts_timestamp ON radar_alerts(timestamp);
	`)
	return err
}

// Close closes the pool.
func (s *PostgresAlertStore) Close() error {
	s.pool.Close()
	return nil
}

// inTx runs fn inside a read-committed transaction.
func (s *PostgresAlertStore) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return fn(ctx, tx)
}

// UpsertAlert inserts the alert or updates the row for the same instrument
// and strategy.
func (s *PostgresAlertStore) UpsertAlert(ctx context.Context, alert *models.Alert) error {
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

	return s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO radar_alerts (instrument_key, symbol, strategy, score, details, indicators, status, priority, alert_type, timestamp, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (instrument_key, strategy) DO UPDATE SET
				symbol = EXCLUDED.symbol,
				score = EXCLUDED.score,
				details = EXCLUDED.details,
				indicators = EXCLUDED.indicators,
				status = EXCLUDED.status,
				priority = EXCLUDED.priority,
				alert_type = EXCLUDED.alert_type,
				timestamp = EXCLUDED.timestamp,
				expires_at = EXCLUDED.expires_at
			RETURNING id
		`, alert.InstrumentKey, alert.Symbol, alert.Strategy, alert.Score, details, indicators,
			string(alert.Status), string(alert.Priority), string(alert.Type), alert.CreatedAt, alert.ExpiresAt).Scan(&alert.ID)
		if err != nil {
			return fmt.Errorf("failed to upsert alert: %w", err)
		}
		return nil
	})
}

// GetAlert retrieves one alert by ID.
func (s *PostgresAlertStore) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM radar_alerts WHERE id = $1`, id)
	a, err := scanPgAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %d: %w", id, apperrors.ErrAlertNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (s *PostgresAlertStore) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if len(filter.Priorities) > 0 {
		ps := make([]string, len(filter.Priorities))
		for i, p := range filter.Priorities {
			ps[i] = string(p)
		}
		where = append(where, "priority = ANY("+arg(ps)+")")
	}
	if filter.Type != "" {
		where = append(where, "alert_type = "+arg(string(filter.Type)))
	}
	if len(filter.Strategies) > 0 {
		where = append(where, "strategy = ANY("+arg(filter.Strategies)+")")
	}
	if filter.InstrumentKey != "" {
		where = append(where, "instrument_key = "+arg(filter.InstrumentKey))
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= "+arg(filter.Since))
	}

	query := `SELECT ` + alertColumns + ` FROM radar_alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanPgAlert(rows)
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
func (s *PostgresAlertStore) UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE radar_alerts SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %d: %w", id, apperrors.ErrAlertNotFound)
	}
	return nil
}

// ExpireAlerts marks ACTIVE alerts whose expiry has passed as EXPIRED.
func (s *PostgresAlertStore) ExpireAlerts(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE radar_alerts SET status = $1
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < $3
	`, string(models.AlertExpired), string(models.AlertActive), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredAlerts removes EXPIRED alerts whose expiry is before the cutoff.
func (s *PostgresAlertStore) DeleteExpiredAlerts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM radar_alerts WHERE status = $1 AND expires_at < $2
	`, string(models.AlertExpired), before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountExpirable counts the alerts ExpireAlerts would mark.
func (s *PostgresAlertStore) CountExpirable(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM radar_alerts
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
	`, string(models.AlertActive), now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count expirable alerts: %w", err)
	}
	return n, nil
}

// CountDeletable counts the alerts DeleteExpiredAlerts would remove.
func (s *PostgresAlertStore) CountDeletable(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM radar_alerts WHERE status = $1 AND expires_at < $2
	`, string(models.AlertExpired), before).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count deletable alerts: %w", err)
	}
	return n, nil
}

// AlertStatusCounts returns the number of alerts in each status.
func (s *PostgresAlertStore) AlertStatusCounts(ctx context.Context) (map[models.AlertStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM radar_alerts GROUP BY status`)
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

func scanPgAlert(row pgx.Row) (*models.Alert, error) {
	var (
		a                   models.Alert
		details, indicators []byte
		status, priority    string
		alertType           string
	)
	err := row.Scan(&a.ID, &a.InstrumentKey, &a.Symbol, &a.Strategy, &a.Score, &details, &indicators,
		&status, &priority, &alertType, &a.CreatedAt, &a.ExpiresAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.AlertStatus(status)
	a.Priority = models.AlertPriority(priority)
	a.Type = models.AlertType(alertType)
	if err := decodeAlert(&a, string(details), string(indicators)); err != nil {
		return nil, err
	}
	return &a, nil
}
