package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"radar-trader/internal/cache"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
	"radar-trader/internal/store"
)

// Cache is the key-value store behind CachedFeed. *cache.RedisClient
// satisfies it.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

const priceKeyPrefix = "radar:price:"

// CachedFeed is a read-through price cache in front of another feed.
type CachedFeed struct {
	next   PriceFeed
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedFeed caches prices from next for ttl.
func NewCachedFeed(next PriceFeed, c Cache, ttl time.Duration, logger zerolog.Logger) *CachedFeed {
	return &CachedFeed{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: logger.With().Str("component", "price_cache").Logger(),
	}
}

// CurrentPrice returns the cached price when present, otherwise asks the
// next feed and stores the answer. Cache failures never fail the lookup.
func (f *CachedFeed) CurrentPrice(ctx context.Context, key string) (decimal.Decimal, error) {
	var cached decimal.Decimal
	err := f.cache.Get(ctx, priceKeyPrefix+key, &cached)
	switch {
	case err == nil && cached.IsPositive():
		return cached, nil
	case err != nil && !errors.Is(err, cache.ErrMiss):
		f.logger.Debug().Err(err).Str("instrument", key).Msg("price cache read failed")
	}

	price, err := f.next.CurrentPrice(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}

	if err := f.cache.Set(ctx, priceKeyPrefix+key, price, f.ttl); err != nil {
		f.logger.Debug().Err(err).Str("instrument", key).Msg("price cache write failed")
	}
	return price, nil
}

// ============================================================================
// Candle cache
// ============================================================================

// StoredSource serves candles from the local store while they are fresh and
// refreshes them from the next source otherwise.
type StoredSource struct {
	next   SeriesSource
	store  store.InstrumentStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewStoredSource creates a candle cache over next.
func NewStoredSource(next SeriesSource, st store.InstrumentStore, logger zerolog.Logger) *StoredSource {
	return &StoredSource{
		next:   next,
		store:  st,
		now:    time.Now,
		logger: logger.With().Str("component", "candle_cache").Logger(),
	}
}

// Fetch returns stored candles when the newest one is recent enough for the
// interval, otherwise fetches and stores a fresh series.
func (s *StoredSource) Fetch(ctx context.Context, key, interval string, periods int) (models.Series, error) {
	now := s.now()
	latest, err := s.store.GetCandlesFreshness(ctx, key, interval)
	if err != nil {
		s.logger.Debug().Err(err).Str("instrument", key).Msg("candle freshness unavailable")
	} else if isFresh(latest, interval, now) {
		from, _ := historyWindow(interval, periods, now)
		stored, err := s.store.GetCandles(ctx, key, interval, from, now)
		if err == nil && len(stored) >= periods {
			return stored.Bound(periods), nil
		}
	}

	series, err := s.next.Fetch(ctx, key, interval, periods)
	if err != nil {
		return series, err
	}
	if err := s.store.SaveCandles(ctx, key, interval, series); err != nil {
		s.logger.Warn().Err(err).Str("instrument", key).Msg("failed to store candles")
	}
	return series, nil
}

// isFresh reports whether a candle stamped latest is still current at now.
// Daily candles are fresh for the rest of the day; intraday candles for one
// interval.
func isFresh(latest time.Time, interval string, now time.Time) bool {
	if latest.IsZero() {
		return false
	}
	minutes := intervalMinutes(interval)
	if minutes == 0 {
		return now.Sub(latest) < 24*time.Hour
	}
	return now.Sub(latest) < time.Duration(minutes)*time.Minute
}

// ArchiveSource serves whatever candles the store holds, however old. It
// stands in for the live source when no Kite session is configured.
type ArchiveSource struct {
	store store.InstrumentStore
	now   func() time.Time
}

// NewArchiveSource creates a source reading only from st.
func NewArchiveSource(st store.InstrumentStore) *ArchiveSource {
	return &ArchiveSource{store: st, now: time.Now}
}

// Fetch returns the newest periods stored candles for key.
func (a *ArchiveSource) Fetch(ctx context.Context, key, interval string, periods int) (models.Series, error) {
	series, err := a.store.GetCandles(ctx, key, interval, time.Time{}, a.now())
	if err != nil {
		return nil, apperrors.NewFetchError(key, "archive", 1, err)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%s: no stored %s candles: %w", key, interval, apperrors.ErrDataInsufficient)
	}
	return series.Bound(periods), nil
}
