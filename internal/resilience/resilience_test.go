package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"radar-trader/internal/analysis"
	"radar-trader/internal/config"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

var errFeed = errors.New("feed down")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("kite.ltp", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	clock := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return clock }

	fail := func(context.Context) error { return errFeed }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	err := cb.Execute(ctx, ok)
	if !errors.Is(err, ErrCircuitOpen) || !apperrors.IsSoft(err) {
		t.Errorf("open circuit should reject with a soft error, got %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("trial request failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED", cb.State())
	}

	stats := cb.Stats()
	if stats.TotalRejected != 1 || stats.TotalFailures != 2 || stats.TotalSuccesses != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCircuitBreakerIgnoresCallerCancel(t *testing.T) {
	cb := NewCircuitBreaker("kite.historical", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Error("a cancelled caller must not open the circuit")
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker("x", DefaultCircuitBreakerConfig())
	v, err := ExecuteWithResult(context.Background(), cb, func(context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Errorf("got %d, %v", v, err)
	}
}

func TestRegistryReusesBreakers(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), zerolog.Nop())
	if r.Get("kite.ltp") != r.Get("kite.ltp") {
		t.Error("Get should return the same breaker")
	}
	r.Get("kite.historical")
	stats := r.AllStats()
	if len(stats) != 2 || stats[0].Name != "kite.historical" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFeedMonitor(t *testing.T) {
	m := NewFeedMonitor()
	m.Record("kite", 20*time.Millisecond, nil)
	m.Record("kite", 30*time.Millisecond, errFeed)

	s, ok := m.Status("kite")
	if !ok || s.Available || s.Calls != 2 || s.Failures != 1 || s.LastError != "feed down" {
		t.Errorf("status = %+v", s)
	}
	if _, ok := m.Status("redis"); ok {
		t.Error("unknown feed should be absent")
	}
}

// trendSeries builds n daily closes moving by step per candle.
func trendSeries(n int, start, step float64) models.Series {
	s := make(models.Series, n)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range s {
		c := start + step*float64(i)
		s[i] = models.Candle{Timestamp: t0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return s
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name   string
		series models.Series
		want   analysis.Trend
	}{
		{"rising", trendSeries(80, 100, 1), analysis.TrendUp},
		{"falling", trendSeries(80, 200, -1), analysis.TrendDown},
		{"flat", trendSeries(80, 100, 0), analysis.TrendNeutral},
		{"too short", trendSeries(50, 100, 1), analysis.TrendNeutral},
	}
	for _, tt := range tests {
		if got := ClassifyTrend(tt.series, 50); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestClassifyVolatility(t *testing.T) {
	cfg := DefaultRegimeConfig()
	v := func(f float64) *float64 { return &f }
	tests := []struct {
		vix  *float64
		want analysis.Volatility
	}{
		{nil, analysis.VolatilityNormal},
		{v(22), analysis.VolatilityHigh},
		{v(20), analysis.VolatilityNormal},
		{v(15), analysis.VolatilityNormal},
		{v(12), analysis.VolatilityLow},
	}
	for _, tt := range tests {
		if got := ClassifyVolatility(tt.vix, cfg); got != tt.want {
			t.Errorf("vix %v: got %s, want %s", tt.vix, got, tt.want)
		}
	}
}

func TestRankSectors(t *testing.T) {
	perf := map[string]float64{"NIFTY IT": 2.5, "NIFTY BANK": -1, "NIFTY AUTO": 3, "NIFTY FMCG": 2.5}
	got := RankSectors(perf, 3)
	want := []string{"NIFTY AUTO", "NIFTY FMCG", "NIFTY IT"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("RankSectors = %v, want %v", got, want)
	}

	if p, ok := SectorPerformance(trendSeries(10, 100, 1), 5); !ok || p <= 0 {
		t.Errorf("SectorPerformance = %v, %v", p, ok)
	}
	if _, ok := SectorPerformance(trendSeries(5, 100, 1), 5); ok {
		t.Error("five candles cannot give a five-candle change")
	}
}

type fakeFetcher map[string]models.Series

func (f fakeFetcher) Fetch(_ context.Context, key, _ string, _ int) (models.Series, error) {
	s, ok := f[key]
	if !ok {
		return nil, apperrors.NewFetchError(key, "historical", 3, errFeed)
	}
	return s, nil
}

func TestRegimeDetectorDegradesOnFailures(t *testing.T) {
	cfg := DefaultRegimeConfig()
	cfg.SectorIndices = []string{"NSE:NIFTY IT", "NSE:NIFTY BANK", "NSE:NIFTY AUTO"}

	vix := trendSeries(5, 25, 0)
	src := fakeFetcher{
		"NSE:INDIA VIX":  vix,
		"NSE:NIFTY IT":   trendSeries(10, 100, 2),
		"NSE:NIFTY AUTO": trendSeries(10, 100, 1),
		"NSE:NIFTY BANK": trendSeries(10, 100, -1),
	}
	d := NewRegimeDetector(cfg, src, zerolog.Nop())
	mc := d.Detect(context.Background())

	if mc.Trend != analysis.TrendNeutral {
		t.Errorf("missing index should give NEUTRAL, got %s", mc.Trend)
	}
	if mc.Volatility != analysis.VolatilityHigh || mc.VIX == nil || *mc.VIX != 25 {
		t.Errorf("volatility = %s, vix = %v", mc.Volatility, mc.VIX)
	}
	if len(mc.StrongSectors) != 3 || mc.StrongSectors[0] != "NIFTY IT" || !mc.IsStrongSector("NIFTY AUTO") {
		t.Errorf("strong sectors = %v", mc.StrongSectors)
	}
}

func TestRegimeConfigFromApp(t *testing.T) {
	cfg := RegimeConfigFromApp(config.ScannerConfig{
		VIXInstrument:     "NSE:VIX",
		SectorIndices:     []string{"NSE:NIFTY IT"},
		StrongSectorCount: 1,
	})
	if cfg.IndexInstrument != DefaultRegimeConfig().IndexInstrument {
		t.Errorf("IndexInstrument = %q, want the default", cfg.IndexInstrument)
	}
	if cfg.VIXInstrument != "NSE:VIX" || len(cfg.SectorIndices) != 1 || cfg.StrongSectorCount != 1 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}
