package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
	"radar-trader/internal/performance"
	"radar-trader/internal/store"
)

// KiteConfig holds configuration for the Kite Connect feed.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	Timeout     time.Duration
	// RateLimit is the minimum spacing between API calls.
	RateLimit time.Duration
}

// KiteFeed reads live prices and historical candles from Kite Connect.
// Instrument tokens are resolved through the instrument store first and the
// Kite instrument dump second.
type KiteFeed struct {
	client      *kiteconnect.Client
	instruments store.InstrumentStore
	limiter     *performance.RateLimiter
	now         func() time.Time

	mu     sync.RWMutex
	tokens map[string]uint32
}

// NewKiteFeed creates a feed for an existing access token. instruments may be nil.
func NewKiteFeed(cfg KiteConfig, instruments store.InstrumentStore) (*KiteFeed, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigError("kite.api_key", "", "required for the live feed")
	}
	if cfg.AccessToken == "" {
		return nil, apperrors.NewConfigError("kite.access_token", "", "required for the live feed")
	}

	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)
	if cfg.Timeout > 0 {
		client.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})
	}

	return &KiteFeed{
		client:      client,
		instruments: instruments,
		limiter:     performance.NewIntervalLimiter(cfg.RateLimit),
		now:         time.Now,
		tokens:      make(map[string]uint32),
	}, nil
}

// CurrentPrice returns the last traded price for key ("NSE:RELIANCE").
func (k *KiteFeed) CurrentPrice(ctx context.Context, key string) (decimal.Decimal, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	ltp, err := call(ctx, func() (kiteconnect.QuoteLTP, error) {
		return k.client.GetLTP(key)
	})
	if err != nil {
		return decimal.Zero, apperrors.NewFetchError(key, "ltp", 1, err)
	}

	q, ok := ltp[key]
	if !ok || q.LastPrice <= 0 {
		return decimal.Zero, fmt.Errorf("%s: no last price: %w", key, apperrors.ErrPriceUnavailable)
	}
	return decimal.NewFromFloat(q.LastPrice), nil
}

// Fetch returns up to periods candles of the given interval, oldest first.
func (k *KiteFeed) Fetch(ctx context.Context, key, interval string, periods int) (models.Series, error) {
	token, err := k.Token(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	from, to := historyWindow(interval, periods, k.now())
	data, err := call(ctx, func() ([]kiteconnect.HistoricalData, error) {
		return k.client.GetHistoricalData(int(token), mapInterval(interval), from, to, false, false)
	})
	if err != nil {
		return nil, apperrors.NewFetchError(key, "historical", 1, err)
	}

	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}

	return models.NewSeries(candles).Bound(periods), nil
}

// Instruments downloads the instrument dump for an exchange, keeping equities
// and indices, and caches their tokens.
func (k *KiteFeed) Instruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	all, err := call(ctx, func() (kiteconnect.Instruments, error) {
		return k.client.GetInstruments()
	})
	if err != nil {
		return nil, apperrors.NewFetchError(string(exchange), "instruments", 1, err)
	}

	var result []models.Instrument
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, inst := range all {
		if inst.Exchange != string(exchange) {
			continue
		}
		if inst.InstrumentType != "EQ" && inst.Segment != "INDICES" {
			continue
		}
		key := fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)
		k.tokens[key] = uint32(inst.InstrumentToken)
		result = append(result, models.Instrument{
			Key:      key,
			Token:    uint32(inst.InstrumentToken),
			Symbol:   inst.Tradingsymbol,
			Name:     inst.Name,
			Exchange: models.Exchange(inst.Exchange),
			IsActive: true,
		})
	}

	return result, nil
}

// Token resolves the numeric instrument token for key.
func (k *KiteFeed) Token(ctx context.Context, key string) (uint32, error) {
	k.mu.RLock()
	token, ok := k.tokens[key]
	k.mu.RUnlock()
	if ok {
		return token, nil
	}

	if k.instruments != nil {
		if inst, err := k.instruments.GetInstrument(ctx, key); err == nil && inst.Token != 0 {
			k.mu.Lock()
			k.tokens[key] = inst.Token
			k.mu.Unlock()
			return inst.Token, nil
		}
	}

	exchange, _, found := strings.Cut(key, ":")
	if !found {
		return 0, apperrors.NewDataError("instrument", key, "key must be EXCHANGE:SYMBOL", nil)
	}
	if _, err := k.Instruments(ctx, models.Exchange(exchange)); err != nil {
		return 0, err
	}

	k.mu.RLock()
	token, ok = k.tokens[key]
	k.mu.RUnlock()
	if !ok {
		return 0, apperrors.NewDataError("instrument", key, "unknown instrument", nil)
	}
	return token, nil
}

// call runs a blocking client call and gives up when ctx is done. The Kite
// client takes no context, so an abandoned call finishes in the background.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.value, r.err
	}
}

func mapInterval(interval string) string {
	switch interval {
	case "1min":
		return "minute"
	case "5min":
		return "5minute"
	case "15min":
		return "15minute"
	case "30min":
		return "30minute"
	case "1hour":
		return "60minute"
	case "1day":
		return "day"
	default:
		return "day"
	}
}

// intervalMinutes returns the candle length of an intraday interval, or 0
// for daily candles.
func intervalMinutes(interval string) int {
	switch interval {
	case "1min":
		return 1
	case "5min":
		return 5
	case "15min":
		return 15
	case "30min":
		return 30
	case "1hour":
		return 60
	default:
		return 0
	}
}

// IntervalLength returns the duration one candle of interval covers. Daily
// candles cover a full day.
func IntervalLength(interval string) time.Duration {
	if minutes := intervalMinutes(interval); minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return 24 * time.Hour
}

// historyWindow returns a from/to range wide enough to hold periods candles,
// allowing for weekends and holidays.
func historyWindow(interval string, periods int, now time.Time) (time.Time, time.Time) {
	if periods <= 0 {
		periods = 1
	}

	minutes := intervalMinutes(interval)
	if minutes == 0 {
		// Roughly 250 sessions a year; pad for weekends and holidays.
		days := periods*7/5 + 10
		return now.AddDate(0, 0, -days), now
	}

	perSession := 375 / minutes
	if perSession < 1 {
		perSession = 1
	}
	sessions := (periods + perSession - 1) / perSession
	return now.AddDate(0, 0, -(sessions*7/5 + 3)), now
}
