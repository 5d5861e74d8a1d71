package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

// CandleBuilder folds last-traded-price ticks into fixed-interval candles.
// Each tick returns the in-progress candle for its bucket; callers append it
// to a history where a repeated timestamp replaces the previous candle.
type CandleBuilder struct {
	interval time.Duration

	mu      sync.Mutex
	current map[string]*building
}

type building struct {
	candle    models.Candle
	volumeAt  int64 // cumulative day volume when the bucket opened
	lastTotal int64
}

// NewCandleBuilder creates a builder for the given candle length.
func NewCandleBuilder(interval time.Duration) *CandleBuilder {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CandleBuilder{
		interval: interval,
		current:  make(map[string]*building),
	}
}

// Update applies one tick. dayVolume is the cumulative volume traded today,
// as exchanges report it. Ticks older than the current bucket are ignored.
func (b *CandleBuilder) Update(key string, price float64, dayVolume int64, at time.Time) (models.Candle, bool) {
	if price <= 0 {
		return models.Candle{}, false
	}
	bucket := at.Truncate(b.interval)

	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.current[key]
	switch {
	case !ok || bucket.After(cur.candle.Timestamp):
		start := dayVolume
		if ok {
			start = cur.lastTotal
		}
		cur = &building{
			candle: models.Candle{
				Timestamp: bucket,
				Open:      price,
				High:      price,
				Low:       price,
				Close:     price,
			},
			volumeAt: start,
		}
		b.current[key] = cur
	case bucket.Before(cur.candle.Timestamp):
		return models.Candle{}, false
	default:
		if price > cur.candle.High {
			cur.candle.High = price
		}
		if price < cur.candle.Low {
			cur.candle.Low = price
		}
		cur.candle.Close = price
	}

	cur.lastTotal = dayVolume
	if v := dayVolume - cur.volumeAt; v > 0 {
		cur.candle.Volume = v
	}
	return cur.candle, true
}

// TickStream subscribes to live Kite ticks and hands each one, keyed by
// instrument key, to a single handler.
type TickStream struct {
	apiKey      string
	accessToken string
	logger      zerolog.Logger

	mu     sync.RWMutex
	tokens map[uint32]string
	onTick func(models.Tick)
}

// NewTickStream creates a stream for the given Kite session.
func NewTickStream(cfg KiteConfig, logger zerolog.Logger) (*TickStream, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, apperrors.NewConfigError("kite", "", "api_key and access_token are required for streaming")
	}
	return &TickStream{
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		logger:      logger.With().Str("component", "ticker").Logger(),
		tokens:      make(map[uint32]string),
	}, nil
}

// Register adds instruments to subscribe to, keyed by instrument key.
func (s *TickStream) Register(tokens map[string]uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, token := range tokens {
		s.tokens[token] = key
	}
}

// OnTick sets the handler called with every tick of a registered instrument.
func (s *TickStream) OnTick(fn func(models.Tick)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = fn
}

// Run connects and streams until ctx is done. The Kite ticker reconnects on
// its own and resubscribes on every connect.
func (s *TickStream) Run(ctx context.Context) error {
	ticker := kiteticker.New(s.apiKey, s.accessToken)
	ticker.SetAutoReconnect(true)
	ticker.SetReconnectMaxRetries(300)

	ticker.OnConnect(func() {
		tokens := s.subscribed()
		if len(tokens) == 0 {
			return
		}
		if err := ticker.Subscribe(tokens); err != nil {
			s.logger.Error().Err(err).Msg("subscribe failed")
			return
		}
		if err := ticker.SetMode(kiteticker.ModeQuote, tokens); err != nil {
			s.logger.Error().Err(err).Msg("set mode failed")
			return
		}
		s.logger.Info().Int("instruments", len(tokens)).Msg("ticker connected")
	})

	ticker.OnError(func(err error) {
		s.logger.Warn().Err(err).Msg("ticker error")
	})

	ticker.OnClose(func(code int, reason string) {
		s.logger.Info().Int("code", code).Str("reason", reason).Msg("ticker closed")
	})

	ticker.OnReconnect(func(attempt int, delay time.Duration) {
		s.logger.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("ticker reconnecting")
	})

	ticker.OnNoReconnect(func(attempt int) {
		s.logger.Error().Int("attempt", attempt).Msg("ticker gave up reconnecting")
	})

	ticker.OnTick(s.handleTick)

	go func() {
		<-ctx.Done()
		ticker.Close()
	}()

	ticker.ServeWithContext(ctx)
	return ctx.Err()
}

func (s *TickStream) handleTick(tick kitemodels.Tick) {
	s.mu.RLock()
	key, ok := s.tokens[tick.InstrumentToken]
	handler := s.onTick
	s.mu.RUnlock()
	if !ok || handler == nil {
		return
	}

	at := tick.LastTradeTime.Time
	if at.IsZero() {
		at = tick.Timestamp.Time
	}
	if at.IsZero() {
		at = time.Now()
	}

	handler(models.Tick{
		InstrumentKey: key,
		LastPrice:     tick.LastPrice,
		DayVolume:     int64(tick.VolumeTraded),
		Timestamp:     at,
	})
}

func (s *TickStream) subscribed() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]uint32, 0, len(s.tokens))
	for token := range s.tokens {
		tokens = append(tokens, token)
	}
	return tokens
}
