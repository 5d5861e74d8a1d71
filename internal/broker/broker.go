// Package broker provides the market-data feeds the scanners and the trading
// engine read from: live Kite prices and history, a Redis price cache, and
// offline fallbacks for paper trading without a live session.
package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
	"radar-trader/internal/store"
)

// PriceFeed returns the latest traded price of an instrument.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, key string) (decimal.Decimal, error)
}

// SeriesSource returns OHLCV history for an instrument key. interval is one
// of "1min", "5min", "15min", "30min", "1hour" or "1day".
type SeriesSource interface {
	Fetch(ctx context.Context, key, interval string, periods int) (models.Series, error)
}

// PriceFeedFunc adapts a function to PriceFeed.
type PriceFeedFunc func(ctx context.Context, key string) (decimal.Decimal, error)

// CurrentPrice calls f.
func (f PriceFeedFunc) CurrentPrice(ctx context.Context, key string) (decimal.Decimal, error) {
	return f(ctx, key)
}

// ============================================================================
// Chain
// ============================================================================

// ChainFeed asks each feed in turn and returns the first price found.
type ChainFeed struct {
	feeds []PriceFeed
}

// NewChainFeed creates a chain over feeds, tried in order. Nil feeds are skipped.
func NewChainFeed(feeds ...PriceFeed) *ChainFeed {
	c := &ChainFeed{}
	for _, f := range feeds {
		if f != nil {
			c.feeds = append(c.feeds, f)
		}
	}
	return c
}

// CurrentPrice returns the first positive price any feed reports. Hard
// errors stop the chain; soft ones move on to the next feed.
func (c *ChainFeed) CurrentPrice(ctx context.Context, key string) (decimal.Decimal, error) {
	var errs []string
	for _, f := range c.feeds {
		if err := ctx.Err(); err != nil {
			return decimal.Zero, err
		}
		price, err := f.CurrentPrice(ctx, key)
		if err == nil && price.IsPositive() {
			return price, nil
		}
		if apperrors.IsHard(err) {
			return decimal.Zero, err
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) == 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", key, apperrors.ErrPriceUnavailable)
	}
	return decimal.Zero, fmt.Errorf("%s: %w (%s)", key, apperrors.ErrPriceUnavailable, strings.Join(errs, "; "))
}

// ============================================================================
// Offline feeds
// ============================================================================

// MockPrice derives a stable price in [100, 1099] from the instrument key's
// byte sum. The same key always gets the same price.
func MockPrice(key string) decimal.Decimal {
	sum := 0
	for i := 0; i < len(key); i++ {
		sum += int(key[i])
	}
	return decimal.NewFromInt(int64(100 + (sum%1000)%1900))
}

// FallbackFeed prices every instrument with MockPrice.
type FallbackFeed struct{}

// CurrentPrice returns MockPrice(key).
func (FallbackFeed) CurrentPrice(_ context.Context, key string) (decimal.Decimal, error) {
	if key == "" {
		return decimal.Zero, fmt.Errorf("empty instrument key: %w", apperrors.ErrPriceUnavailable)
	}
	return MockPrice(key), nil
}

// AlertCloseFeed prices an instrument from the close recorded in its newest
// active alert.
type AlertCloseFeed struct {
	alerts store.AlertStore
}

// NewAlertCloseFeed creates a feed reading alert snapshots from alerts.
func NewAlertCloseFeed(alerts store.AlertStore) *AlertCloseFeed {
	return &AlertCloseFeed{alerts: alerts}
}

// CurrentPrice returns the Close indicator of the newest ACTIVE alert.
func (f *AlertCloseFeed) CurrentPrice(ctx context.Context, key string) (decimal.Decimal, error) {
	alerts, err := f.alerts.ListAlerts(ctx, models.AlertFilter{
		Status:        models.AlertActive,
		InstrumentKey: key,
		Limit:         1,
	})
	if err != nil {
		return decimal.Zero, apperrors.NewFetchError(key, "alert_close", 1, err)
	}
	if len(alerts) == 0 {
		return decimal.Zero, fmt.Errorf("%s: no active alert: %w", key, apperrors.ErrPriceUnavailable)
	}
	last, ok := alerts[0].Indicators.Float(models.KeyClose)
	if !ok || last <= 0 {
		return decimal.Zero, fmt.Errorf("%s: alert has no close: %w", key, apperrors.ErrPriceUnavailable)
	}
	return decimal.NewFromFloat(last), nil
}
