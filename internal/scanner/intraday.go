package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"radar-trader/internal/analysis/orb"
	"radar-trader/internal/broker"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/logging"
	"radar-trader/internal/models"
	"radar-trader/internal/performance"
	"radar-trader/internal/store"
	"radar-trader/pkg/utils"
)

// screeningStrategies are the premarket strategies whose alerts seed the
// intraday watchlist.
var screeningStrategies = []string{
	models.StrategyBullish,
	models.StrategyBearish,
	models.StrategyFull,
	models.StrategyDailyConfluence,
}

// IntradayReport summarizes one intraday scan cycle.
type IntradayReport struct {
	SkippedReason string         `json:"skipped_reason,omitempty"`
	Watchlist     int            `json:"watchlist"`
	Fallback      bool           `json:"fallback_watchlist"`
	Scanned       int            `json:"scanned"`
	Failed        int            `json:"failed"`
	Alerts        []models.Alert `json:"alerts"`
	TimedOut      bool           `json:"timed_out"`
	Duration      time.Duration  `json:"duration"`
}

// IntradayScanner watches the day's screened instruments for opening range
// breakouts and saves them as ENTRY alerts.
type IntradayScanner struct {
	cfg         Config
	detector    *orb.Detector
	source      broker.SeriesSource
	history     *HistoryStore
	instruments store.InstrumentStore
	alerts      store.AlertStore
	logger      zerolog.Logger
	now         func() time.Time
}

// NewIntradayScanner creates an intraday scanner. A nil history gets a
// private store.
func NewIntradayScanner(
	cfg Config,
	source broker.SeriesSource,
	history *HistoryStore,
	instruments store.InstrumentStore,
	alerts store.AlertStore,
	logger zerolog.Logger,
) *IntradayScanner {
	if history == nil {
		history = NewHistoryStore(cfg.HistoryCapacity)
	}
	return &IntradayScanner{
		cfg:         cfg,
		detector:    orb.NewDetector(cfg.ORB),
		source:      source,
		history:     history,
		instruments: instruments,
		alerts:      alerts,
		logger:      logger.With().Str("component", "intraday").Logger(),
		now:         time.Now,
	}
}

type orbResult struct {
	instrument models.Instrument
	breakout   *orb.Breakout
	scanned    bool
}

// Run executes one scan cycle. Outside market hours, or before the opening
// range has started forming, it returns a report naming why it skipped.
func (s *IntradayScanner) Run(ctx context.Context) (*IntradayReport, error) {
	now := s.now()
	report := &IntradayReport{}

	if !utils.IsMarketOpenAt(now) {
		report.SkippedReason = "market closed"
		s.logger.Debug().Time("now", now).Msg("market closed, skipping ORB scan")
		return report, nil
	}
	if utils.SinceOpen(now) < s.cfg.MinSinceOpen {
		report.SkippedReason = "too early after open"
		s.logger.Debug().Dur("since_open", utils.SinceOpen(now)).Msg("waiting for the session to start")
		return report, nil
	}

	watchlist, fallback, err := s.Watchlist(ctx, now)
	if err != nil {
		return nil, err
	}
	report.Watchlist = len(watchlist)
	report.Fallback = fallback

	cycleCtx := ctx
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	results := performance.Map(cycleCtx, s.cfg.Workers, watchlist, func(ctx context.Context, inst models.Instrument) orbResult {
		return s.scanOne(ctx, inst, now)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errors.Is(cycleCtx.Err(), context.DeadlineExceeded) {
		report.TimedOut = true
		s.logger.Warn().Dur("budget", s.cfg.CycleTimeout).Msg("ORB scan cycle exceeded its time budget")
	}

	for _, r := range results {
		if !r.scanned {
			report.Failed++
			continue
		}
		report.Scanned++
		if r.breakout == nil {
			continue
		}

		alert := s.detector.NewAlert(r.instrument, r.breakout, now, s.cfg.ORBAlertTTL)
		if err := s.alerts.UpsertAlert(ctx, alert); err != nil {
			return report, fmt.Errorf("failed to save ORB alert for %s: %w", r.instrument.Key, err)
		}
		logging.LogAlert(s.logger, alert.Symbol, alert.Strategy, string(alert.Priority), alert.Score)
		report.Alerts = append(report.Alerts, *alert)
	}

	report.Duration = s.now().Sub(now)
	s.logger.Info().
		Int("watchlist", report.Watchlist).
		Int("scanned", report.Scanned).
		Int("failed", report.Failed).
		Int("breakouts", len(report.Alerts)).
		Bool("timed_out", report.TimedOut).
		Msg("ORB scan complete")

	return report, nil
}

func (s *IntradayScanner) scanOne(ctx context.Context, inst models.Instrument, now time.Time) orbResult {
	result := orbResult{instrument: inst}

	series, err := s.Series(ctx, inst.Key, now)
	if err != nil {
		logger := logging.WithInstrument(s.logger, inst.Key)
		if apperrors.IsSoft(err) {
			logger.Debug().Err(err).Msg("intraday series unavailable")
		} else {
			logger.Warn().Err(err).Msg("intraday series fetch failed")
		}
		return result
	}

	result.scanned = true
	result.breakout = s.detector.Analyze(SessionCandles(series, now))
	return result
}

// Series returns the instrument's intraday series, served from history while
// its latest candle is younger than one interval and fetched otherwise.
func (s *IntradayScanner) Series(ctx context.Context, key string, now time.Time) (models.Series, error) {
	if s.history.Fresh(key, now, broker.IntervalLength(s.cfg.ORBInterval)) {
		if series, ok := s.history.Get(key); ok {
			return series, nil
		}
	}

	series, err := s.source.Fetch(ctx, key, s.cfg.ORBInterval, s.cfg.ORBPeriods)
	if err != nil {
		return nil, err
	}
	s.history.Init(key, series)
	series, _ = s.history.Get(key)
	return series, nil
}

// Watchlist returns the instruments with an ACTIVE screening alert created
// today, or the default watchlist when there are none. The second result
// reports whether the default watchlist was used.
func (s *IntradayScanner) Watchlist(ctx context.Context, now time.Time) ([]models.Instrument, bool, error) {
	alerts, err := s.alerts.ListAlerts(ctx, models.AlertFilter{
		Status:     models.AlertActive,
		Type:       models.AlertTypeScreening,
		Strategies: screeningStrategies,
		Since:      utils.StartOfDay(now),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to load screening alerts: %w", err)
	}

	seen := make(map[string]bool, len(alerts))
	var out []models.Instrument
	for _, a := range alerts {
		if seen[a.InstrumentKey] {
			continue
		}
		seen[a.InstrumentKey] = true

		inst := models.Instrument{Key: a.InstrumentKey, Symbol: a.Symbol, IsActive: true}
		if stored, err := s.instruments.GetInstrument(ctx, a.InstrumentKey); err == nil {
			inst = *stored
		}
		out = append(out, inst)
		if s.cfg.WatchlistLimit > 0 && len(out) >= s.cfg.WatchlistLimit {
			break
		}
	}

	if len(out) == 0 {
		return watchlistInstruments(s.cfg.DefaultWatchlist), true, nil
	}
	return out, false, nil
}

// Tokens maps the instruments that carry an exchange token, for subscribing
// a tick stream.
func Tokens(instruments []models.Instrument) map[string]uint32 {
	out := make(map[string]uint32, len(instruments))
	for _, inst := range instruments {
		if inst.Token != 0 {
			out[inst.Key] = inst.Token
		}
	}
	return out
}

// SessionCandles returns the candles of now's trading session, from the
// open up to the close.
func SessionCandles(series models.Series, now time.Time) models.Series {
	open, closing := utils.MarketOpenOn(now), utils.MarketCloseOn(now)
	var out models.Series
	for _, c := range series {
		if !c.Timestamp.Before(open) && c.Timestamp.Before(closing) {
			out = append(out, c)
		}
	}
	return out
}
