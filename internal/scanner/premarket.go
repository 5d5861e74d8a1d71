package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"radar-trader/internal/analysis"
	"radar-trader/internal/analysis/indicators"
	"radar-trader/internal/analysis/rules"
	"radar-trader/internal/broker"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/logging"
	"radar-trader/internal/models"
	"radar-trader/internal/performance"
	"radar-trader/internal/store"
	"radar-trader/pkg/utils"
)

// Result is the screening outcome for one instrument.
type Result struct {
	Instrument models.Instrument
	Score      int
	Reasons    []string
	Indicators models.IndicatorSet
	AvgVolume  float64
}

// PremarketReport summarizes one premarket scan.
type PremarketReport struct {
	Strategy string                 `json:"strategy"`
	Market   analysis.MarketContext `json:"market"`
	Universe int                    `json:"universe"`
	Scanned  int                    `json:"scanned"`
	Skipped  int                    `json:"skipped"`
	Matched  int                    `json:"matched"`
	Alerts   []models.Alert         `json:"alerts"`
	Duration time.Duration          `json:"duration"`
	Fallback bool                   `json:"fallback_watchlist"`
}

// PremarketScanner scores the instrument universe on daily candles and
// saves the best setups as SCREENING alerts.
type PremarketScanner struct {
	cfg         Config
	market      MarketReader
	catalog     *rules.Catalog
	engine      *indicators.Engine
	source      broker.SeriesSource
	instruments store.InstrumentStore
	alerts      store.AlertStore
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPremarketScanner creates a premarket scanner.
func NewPremarketScanner(
	cfg Config,
	market MarketReader,
	catalog *rules.Catalog,
	source broker.SeriesSource,
	instruments store.InstrumentStore,
	alerts store.AlertStore,
	logger zerolog.Logger,
) *PremarketScanner {
	if catalog == nil {
		catalog = rules.DefaultCatalog()
	}
	return &PremarketScanner{
		cfg:         cfg,
		market:      market,
		catalog:     catalog,
		engine:      indicators.NewEngine(indicators.DefaultParams()),
		source:      source,
		instruments: instruments,
		alerts:      alerts,
		logger:      logger.With().Str("component", "premarket").Logger(),
		now:         time.Now,
	}
}

// Run executes one premarket scan. Per-instrument failures are skipped; a
// strategy missing from the catalog or a failing alert store aborts the scan.
func (s *PremarketScanner) Run(ctx context.Context) (*PremarketReport, error) {
	start := s.now()
	mc := s.market.Detect(ctx)
	strategy := rules.SelectStrategy(mc.Trend)
	ruleset, err := s.catalog.RulesForStrategy(strategy)
	if err != nil {
		return nil, err
	}

	report := &PremarketReport{Strategy: strategy, Market: mc}

	universe, err := s.instruments.TopInstruments(ctx, s.cfg.TopInstruments)
	if err != nil {
		return nil, fmt.Errorf("failed to load instruments: %w", err)
	}
	if len(universe) == 0 {
		universe = watchlistInstruments(s.cfg.DefaultWatchlist)
		report.Fallback = true
		s.logger.Warn().Int("instruments", len(universe)).Msg("instrument universe empty, using default watchlist")
	}
	report.Universe = len(universe)

	results := performance.Map(ctx, s.cfg.Workers, universe, func(ctx context.Context, inst models.Instrument) *Result {
		return s.scanOne(ctx, inst, ruleset, mc)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []*Result
	for _, r := range results {
		if r == nil {
			report.Skipped++
			continue
		}
		report.Scanned++
		if r.Score > 0 {
			matched = append(matched, r)
		}
	}
	report.Matched = len(matched)

	if err := s.saveVolumes(ctx, results); err != nil {
		s.logger.Warn().Err(err).Msg("failed to update average volumes")
	}

	RankResults(matched)
	if s.cfg.TopAlerts > 0 && len(matched) > s.cfg.TopAlerts {
		matched = matched[:s.cfg.TopAlerts]
	}

	now := s.now()
	for _, r := range matched {
		alert := ScreeningAlert(r, strategy, now)
		if err := s.alerts.UpsertAlert(ctx, alert); err != nil {
			return report, fmt.Errorf("failed to save alert for %s: %w", r.Instrument.Key, err)
		}
		logging.LogAlert(s.logger, alert.Symbol, alert.Strategy, string(alert.Priority), alert.Score)
		report.Alerts = append(report.Alerts, *alert)
	}

	report.Duration = s.now().Sub(start)
	s.logger.Info().
		Str("strategy", strategy).
		Int("universe", report.Universe).
		Int("scanned", report.Scanned).
		Int("skipped", report.Skipped).
		Int("matched", report.Matched).
		Int("alerts", len(report.Alerts)).
		Dur("duration", report.Duration).
		Msg("premarket scan complete")

	return report, nil
}

// scanOne returns nil when the instrument cannot be scored.
func (s *PremarketScanner) scanOne(ctx context.Context, inst models.Instrument, ruleset []rules.Rule, mc analysis.MarketContext) *Result {
	logger := logging.WithInstrument(s.logger, inst.Key)

	series, err := s.source.Fetch(ctx, inst.Key, "1day", s.cfg.HistoryPeriods)
	if err != nil {
		if apperrors.IsSoft(err) {
			logger.Debug().Err(err).Msg("daily series unavailable")
		} else {
			logger.Warn().Err(err).Msg("daily series fetch failed")
		}
		return nil
	}
	if len(series) <= s.cfg.MinHistory {
		logger.Debug().Int("candles", len(series)).Msg("not enough history")
		return nil
	}

	ind := s.engine.Compute(series)
	score, reasons := rules.Evaluate(ind, series, ruleset, rules.NewContext(inst.Sector, mc))

	return &Result{
		Instrument: inst,
		Score:      score,
		Reasons:    reasons,
		Indicators: ind,
		AvgVolume:  AverageVolume(series, s.cfg.VolumeLookback),
	}
}

// saveVolumes records each scanned instrument's average volume so the next
// scan ranks the universe on current liquidity.
func (s *PremarketScanner) saveVolumes(ctx context.Context, results []*Result) error {
	batch := performance.NewBatchProcessor(50, func(items []models.Instrument) error {
		return s.instruments.SaveInstruments(ctx, items)
	})
	for _, r := range results {
		if r == nil || r.AvgVolume <= 0 {
			continue
		}
		inst := r.Instrument
		inst.AvgVolume = r.AvgVolume
		inst.IsActive = true
		if err := batch.Add(inst); err != nil {
			return err
		}
	}
	return batch.Flush()
}

// RankResults orders results by score, best first. Equal scores keep
// instrument key order.
func RankResults(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Instrument.Key < results[j].Instrument.Key
	})
}

// ScreeningAlert builds the SCREENING alert for a result. It expires at the
// close of the trading day.
func ScreeningAlert(r *Result, strategy string, now time.Time) *models.Alert {
	expires := utils.MarketCloseOn(now)
	return &models.Alert{
		InstrumentKey: r.Instrument.Key,
		Symbol:        r.Instrument.Symbol,
		Strategy:      strategy,
		Score:         r.Score,
		Reasons:       r.Reasons,
		Indicators:    r.Indicators.Snapshot(),
		Status:        models.AlertActive,
		Priority:      models.PriorityForScore(r.Score),
		Type:          models.AlertTypeScreening,
		CreatedAt:     now,
		ExpiresAt:     &expires,
	}
}

// AverageVolume is the mean volume of the last n candles.
func AverageVolume(series models.Series, n int) float64 {
	if n <= 0 || n > len(series) {
		n = len(series)
	}
	if n == 0 {
		return 0
	}
	var total float64
	for _, v := range series.Volumes()[len(series)-n:] {
		total += v
	}
	return total / float64(n)
}
