package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"radar-trader/internal/models"
	"radar-trader/internal/store"
	"radar-trader/pkg/utils"
)

// 11:00 IST on a Monday.
var intradayClock = time.Date(2024, 1, 15, 5, 30, 0, 0, time.UTC)

// breakoutSession builds 21 five-minute candles from the open. The first six
// form a 99-101 range and the last closes at 103 on heavy volume. Two wide
// candles from the previous session precede them.
func breakoutSession(now time.Time) models.Series {
	open := utils.MarketOpenOn(now)
	var s models.Series
	for _, ts := range []time.Time{open.AddDate(0, 0, -1), open.AddDate(0, 0, -1).Add(5 * time.Minute)} {
		s = append(s, models.Candle{Timestamp: ts, Open: 150, High: 200, Low: 50, Close: 150, Volume: 1000})
	}
	for i := 0; i < 21; i++ {
		c := models.Candle{Timestamp: open.Add(time.Duration(i) * 5 * time.Minute), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}
		if i >= 6 {
			c = models.Candle{Timestamp: c.Timestamp, Open: 100.2, High: 100.8, Low: 99.5, Close: 100.5, Volume: 1000}
		}
		if i == 20 {
			c = models.Candle{Timestamp: c.Timestamp, Open: 100.5, High: 103.5, Low: 100, Close: 103, Volume: 5000}
		}
		s = append(s, c)
	}
	return s
}

func newIntraday(t *testing.T, cfg Config, st *store.SQLiteStore, src *seriesBook, now time.Time) *IntradayScanner {
	t.Helper()
	s := NewIntradayScanner(cfg, src, nil, st, st, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func screen(t *testing.T, st *store.SQLiteStore, key, strategy string, at time.Time) {
	t.Helper()
	a := &models.Alert{
		InstrumentKey: key, Symbol: key[4:], Strategy: strategy, Score: 3,
		Priority: models.PriorityHigh, Type: models.AlertTypeScreening, CreatedAt: at,
	}
	if err := st.UpsertAlert(context.Background(), a); err != nil {
		t.Fatal(err)
	}
}

func TestIntradayScanSavesBreakout(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	screen(t, st, "NSE:ORBX", models.StrategyBullish, intradayClock.Add(-2*time.Hour))
	screen(t, st, "NSE:FLAT", models.StrategyBullish, intradayClock.Add(-2*time.Hour))

	src := newSeriesBook()
	src.set("NSE:ORBX", breakoutSession(intradayClock))
	flat := breakoutSession(intradayClock)
	flat[len(flat)-1].Close = 100.5
	src.set("NSE:FLAT", flat)

	report, err := newIntraday(t, DefaultConfig(), st, src, intradayClock).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.SkippedReason != "" || report.Fallback || report.Watchlist != 2 || report.Scanned != 2 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Alerts) != 1 {
		t.Fatalf("alerts = %+v", report.Alerts)
	}

	a := report.Alerts[0]
	if a.InstrumentKey != "NSE:ORBX" || a.Strategy != models.StrategyORB || a.Type != models.AlertTypeEntry {
		t.Errorf("alert = %+v", a)
	}
	if a.Priority != models.PriorityHigh || a.Score != 2 {
		t.Errorf("volume-confirmed breakout should be HIGH with score 2, got %s/%d", a.Priority, a.Score)
	}
	if a.ExpiresAt == nil || !a.ExpiresAt.Equal(intradayClock.Add(45*time.Minute)) {
		t.Errorf("expires = %v", a.ExpiresAt)
	}
	if high, _ := a.Indicators.Float("ORB_High"); high != 101 {
		t.Errorf("ORB high = %v, the previous session must not widen the range", high)
	}

	stored, err := st.ListAlerts(ctx, models.AlertFilter{Strategies: []string{models.StrategyORB}})
	if err != nil || len(stored) != 1 {
		t.Errorf("stored ORB alerts = %d, %v", len(stored), err)
	}
}

func TestIntradayScanOutsideSession(t *testing.T) {
	st := newTestStore(t)
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"weekend", time.Date(2024, 1, 13, 5, 30, 0, 0, time.UTC), "market closed"},
		{"after close", time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC), "market closed"},
		{"just opened", time.Date(2024, 1, 15, 3, 47, 0, 0, time.UTC), "too early after open"},
	}
	for _, tt := range tests {
		src := newSeriesBook()
		report, err := newIntraday(t, DefaultConfig(), st, src, tt.now).Run(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if report.SkippedReason != tt.want || len(src.calls) != 0 {
			t.Errorf("%s: reason = %q, fetches = %d", tt.name, report.SkippedReason, len(src.calls))
		}
	}
}

func TestIntradayWatchlist(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DefaultWatchlist = []string{"NSE:TCS", "BSE:INFY"}
	s := newIntraday(t, cfg, st, newSeriesBook(), intradayClock)

	got, fallback, err := s.Watchlist(ctx, intradayClock)
	if err != nil || !fallback || len(got) != 2 {
		t.Fatalf("watchlist = %+v, %v, %v", got, fallback, err)
	}
	if got[1].Exchange != models.BSE || got[1].Symbol != "INFY" {
		t.Errorf("default instrument = %+v", got[1])
	}

	if err := st.SaveInstruments(ctx, []models.Instrument{{Key: "NSE:ORBX", Token: 408065, Symbol: "ORBX", Exchange: models.NSE, IsActive: true}}); err != nil {
		t.Fatal(err)
	}
	screen(t, st, "NSE:ORBX", models.StrategyBullish, intradayClock.Add(-time.Hour))
	screen(t, st, "NSE:ORBX", models.StrategyFull, intradayClock.Add(-time.Hour))
	screen(t, st, "NSE:STALE", models.StrategyBullish, intradayClock.AddDate(0, 0, -1))
	orbAlert := &models.Alert{InstrumentKey: "NSE:ENTRY", Symbol: "ENTRY", Strategy: models.StrategyORB, Type: models.AlertTypeEntry, CreatedAt: intradayClock}
	if err := st.UpsertAlert(ctx, orbAlert); err != nil {
		t.Fatal(err)
	}

	got, fallback, err = s.Watchlist(ctx, intradayClock)
	if err != nil || fallback || len(got) != 1 {
		t.Fatalf("watchlist = %+v, %v, %v", got, fallback, err)
	}
	if got[0].Key != "NSE:ORBX" || got[0].Token != 408065 {
		t.Errorf("watchlist entry = %+v", got[0])
	}
	if tokens := Tokens(got); tokens["NSE:ORBX"] != 408065 {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestIntradaySeriesServedFromHistory(t *testing.T) {
	st := newTestStore(t)
	src := newSeriesBook()
	src.set("NSE:ORBX", breakoutSession(intradayClock))
	now := intradayClock.Add(-3 * time.Minute)
	s := newIntraday(t, DefaultConfig(), st, src, now)
	ctx := context.Background()

	first, err := s.Series(ctx, "NSE:ORBX", now)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Series(ctx, "NSE:ORBX", now)
	if err != nil {
		t.Fatal(err)
	}
	if src.count("NSE:ORBX") != 1 || len(first) != len(second) {
		t.Errorf("fetches = %d, want 1", src.count("NSE:ORBX"))
	}

	later := now.Add(10 * time.Minute)
	if _, err := s.Series(ctx, "NSE:ORBX", later); err != nil {
		t.Fatal(err)
	}
	if src.count("NSE:ORBX") != 2 {
		t.Errorf("stale history should refetch, fetches = %d", src.count("NSE:ORBX"))
	}
}

// stallingSource blocks every fetch until the context ends.
type stallingSource struct{}

func (stallingSource) Fetch(ctx context.Context, _, _ string, _ int) (models.Series, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestIntradayScanStopsAtCycleBudget(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.CycleTimeout = 20 * time.Millisecond
	s := NewIntradayScanner(cfg, stallingSource{}, nil, st, st, zerolog.Nop())
	s.now = func() time.Time { return intradayClock }

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.TimedOut || report.Failed != len(cfg.DefaultWatchlist) || report.Scanned != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestSessionCandles(t *testing.T) {
	s := breakoutSession(intradayClock)
	got := SessionCandles(s, intradayClock)
	if len(got) != 21 || !got[0].Timestamp.Equal(utils.MarketOpenOn(intradayClock)) {
		t.Errorf("session = %d candles starting %v", len(got), got[0].Timestamp)
	}
}
