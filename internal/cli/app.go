package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"radar-trader/internal/broker"
	"radar-trader/internal/cache"
	"radar-trader/internal/config"
	"radar-trader/internal/notify"
	"radar-trader/internal/resilience"
	"radar-trader/internal/scanner"
	"radar-trader/internal/security"
	"radar-trader/internal/store"
	"radar-trader/internal/stream"
	"radar-trader/internal/trading"
)

// App holds the configuration and the pipeline components shared by every
// command. Components are built on first use by Open.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	sqlite     *store.SQLiteStore
	alerts     store.AlertStore
	redis      *cache.RedisClient
	kite       *broker.KiteFeed
	lastPrices *stream.LastPrices
	breakers   *resilience.Registry
	feeds      *resilience.FeedMonitor
	history    *scanner.HistoryStore
	closers    []io.Closer
}

// Open connects the stores and feeds. It is safe to call more than once.
func (a *App) Open(ctx context.Context) error {
	if a.sqlite != nil {
		return nil
	}
	cfg := a.Config

	st, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.sqlite = st
	a.alerts = st
	a.closers = append(a.closers, st)
	a.Logger.Debug().Str("path", cfg.Store.SQLitePath).Msg("SQLite store initialized")

	if cfg.Store.PostgresDSN != "" {
		pg, err := store.NewPostgresAlertStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			a.Close()
			return fmt.Errorf("failed to connect alert store: %w", err)
		}
		a.alerts = pg
		a.closers = append(a.closers, pg)
		a.Logger.Debug().Str("dsn", security.RedactDSN(cfg.Store.PostgresDSN)).Msg("Postgres alert store initialized")
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Logger.Warn().
				Str("addr", cfg.Redis.Addr).
				Str("error", security.MaskSecrets(err.Error())).
				Msg("Redis unavailable, continuing without price cache and event channel")
		} else {
			a.redis = client
			a.closers = append(a.closers, client)
		}
	}

	if cfg.Kite.HasCredentials() {
		kite, err := broker.NewKiteFeed(broker.KiteConfig{
			APIKey:      cfg.Kite.APIKey,
			AccessToken: cfg.Kite.AccessToken,
			Timeout:     cfg.Feed.Timeout,
			RateLimit:   cfg.Feed.RateLimitPerCall,
		}, st)
		if err != nil {
			a.Close()
			return err
		}
		a.kite = kite
		a.lastPrices = stream.NewLastPrices(cfg.Feed.StreamPriceAge)
		a.Logger.Debug().Str("api_key", security.MaskCredential(cfg.Kite.APIKey)).Msg("Kite feed initialized")
	} else {
		a.Logger.Info().Msg("No Kite credentials, using stored candles and offline prices")
	}

	a.breakers = resilience.NewRegistry(broker.BreakerConfig(cfg.Feed), a.Logger)
	a.feeds = resilience.NewFeedMonitor()
	a.history = scanner.NewHistoryStore(scanner.DefaultHistoryCapacity)
	return nil
}

// Close releases every connection Open made.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
	a.sqlite = nil
}

// Alerts returns the alert store: Postgres when configured, SQLite otherwise.
func (a *App) Alerts() store.AlertStore {
	return a.alerts
}

// Ledger returns the wallet, trade and position store.
func (a *App) Ledger() store.LedgerStore {
	return a.sqlite
}

// Series returns the candle source: stored candles while fresh, then Kite
// under retry and a circuit breaker. Without Kite it serves stored candles
// only.
func (a *App) Series() broker.SeriesSource {
	if a.kite == nil {
		return broker.NewArchiveSource(a.sqlite)
	}
	live := broker.NewRetryingSource("kite.historical", a.kite, broker.PolicyFromConfig(a.Config.Feed), a.breakers, a.feeds, a.Logger)
	return broker.NewStoredSource(live, a.sqlite, a.Logger)
}

// Prices returns the price chain: fresh streamed prices, Kite (cached in
// Redis when enabled), the close recorded in the instrument's active alert,
// then the mock price when fallback is enabled.
func (a *App) Prices() broker.PriceFeed {
	var feeds []broker.PriceFeed
	if a.lastPrices != nil {
		feeds = append(feeds, a.lastPrices)
	}
	if a.kite != nil {
		var live broker.PriceFeed = broker.NewRetryingFeed("kite.ltp", a.kite, broker.PolicyFromConfig(a.Config.Feed), a.breakers, a.feeds, a.Logger)
		if a.redis != nil {
			live = broker.NewCachedFeed(live, a.redis, a.Config.Feed.PriceCacheTTL, a.Logger)
		}
		feeds = append(feeds, live)
	}
	feeds = append(feeds, broker.NewAlertCloseFeed(a.alerts))
	if a.Config.Feed.FallbackEnabled {
		feeds = append(feeds, broker.FallbackFeed{})
	}
	return broker.NewChainFeed(feeds...)
}

// Publisher returns the trade event fan-out. Events go to the log, to the
// Redis channel when enabled and to terminal when it is not nil.
func (a *App) Publisher(terminal io.Writer) notify.Publisher {
	multi := notify.NewMultiPublisher(notify.NewLogPublisher(a.Logger))
	if a.redis != nil {
		multi.Add(notify.NewRedisPublisher(a.redis, a.Config.Redis.ChannelPrefix, a.Logger))
	}
	if terminal != nil {
		multi.Add(notify.NewTerminalPublisher(terminal))
	}
	return multi
}

// Engine builds the virtual trading engine.
func (a *App) Engine(terminal io.Writer) *trading.Engine {
	return trading.NewEngine(trading.ConfigFromApp(a.Config.Engine), a.alerts, a.sqlite, a.Prices(), a.Publisher(terminal), a.Logger)
}

// Monitor builds a trade monitor over a fresh engine.
func (a *App) Monitor(terminal io.Writer) *trading.Monitor {
	return trading.NewMonitor(a.Engine(terminal), nil, a.Logger)
}

func (a *App) scannerConfig() scanner.Config {
	return scanner.ConfigFromApp(a.Config.Scanner, a.Config.ORB)
}

// Premarket builds the premarket scanner.
func (a *App) Premarket() *scanner.PremarketScanner {
	source := a.Series()
	market := resilience.NewRegimeDetector(resilience.RegimeConfigFromApp(a.Config.Scanner), source, a.Logger)
	return scanner.NewPremarketScanner(a.scannerConfig(), market, nil, source, a.sqlite, a.alerts, a.Logger)
}

// Intraday builds the intraday ORB scanner. Scanners built by one App share
// a candle history.
func (a *App) Intraday() *scanner.IntradayScanner {
	return scanner.NewIntradayScanner(a.scannerConfig(), a.Series(), a.history, a.sqlite, a.alerts, a.Logger)
}

// StartStream subscribes tokens to live ticks until ctx is done. Ticks
// build the shared ORB candle history and refresh the streamed price feed.
// It reports false without a Kite session.
func (a *App) StartStream(ctx context.Context, tokens map[string]uint32) (bool, error) {
	if a.kite == nil {
		return false, nil
	}
	ts, err := broker.NewTickStream(broker.KiteConfig{
		APIKey:      a.Config.Kite.APIKey,
		AccessToken: a.Config.Kite.AccessToken,
	}, a.Logger)
	if err != nil {
		return false, err
	}

	keys := make([]string, 0, len(tokens))
	for key := range tokens {
		keys = append(keys, key)
	}
	hub := stream.NewHub(stream.DefaultHubConfig(), a.Logger)
	hub.Register("orb_candles", a.history.TickConsumer(broker.IntervalLength(a.scannerConfig().ORBInterval), keys))
	hub.Register("last_prices", a.lastPrices)
	hub.Start(ctx)
	a.closers = append(a.closers, hub)

	ts.Register(tokens)
	ts.OnTick(hub.Publish)
	go func() {
		if err := ts.Run(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Error().Err(err).Msg("tick stream stopped")
		}
	}()
	a.Logger.Info().Int("instruments", len(tokens)).Msg("Tick stream started")
	return true, nil
}

// FeedStatus reports the health of every feed used so far.
func (a *App) FeedStatus() []resilience.FeedStatus {
	if a.feeds == nil {
		return nil
	}
	return a.feeds.All()
}
