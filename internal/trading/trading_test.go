package trading

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"radar-trader/internal/analysis/orb"
	"radar-trader/internal/config"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
	"radar-trader/internal/notify"
	"radar-trader/internal/store"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// priceBoard is a price feed backed by a map.
type priceBoard struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func newPriceBoard() *priceBoard {
	return &priceBoard{prices: make(map[string]decimal.Decimal)}
}

func (b *priceBoard) set(key string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[key] = d(price)
}

func (b *priceBoard) CurrentPrice(_ context.Context, key string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", key, apperrors.ErrPriceUnavailable)
	}
	return p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store  *store.SQLiteStore
	prices *priceBoard
	events *recordingPublisher
	engine *Engine
	clock  time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "radar.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:  s,
		prices: newPriceBoard(),
		events: &recordingPublisher{},
		clock:  time.Date(2024, 1, 15, 5, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(cfg, s, s, f.prices, f.events, zerolog.Nop())
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) wallet(t *testing.T, balance int64) *models.Wallet {
	t.Helper()
	w := &models.Wallet{Owner: "tester", Balance: decimal.NewFromInt(balance)}
	if err := f.store.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	return w
}

func (f *fixture) alert(t *testing.T, key, strategy string, priority models.AlertPriority, typ models.AlertType) *models.Alert {
	t.Helper()
	a := &models.Alert{
		InstrumentKey: key,
		Symbol:        strings.TrimPrefix(key, "NSE:"),
		Strategy:      strategy,
		Score:         3,
		Reasons:       []string{"Opening range breakout UP."},
		Indicators:    models.Snapshot{},
		Priority:      priority,
		Type:          typ,
		CreatedAt:     f.clock,
	}
	if err := f.store.UpsertAlert(context.Background(), a); err != nil {
		t.Fatalf("UpsertAlert: %v", err)
	}
	return a
}

func (f *fixture) reload(t *testing.T, walletID string) *models.Wallet {
	t.Helper()
	w, err := f.store.GetWallet(context.Background(), walletID)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	return w
}

// ============================================================================
// Entry checks
// ============================================================================

func TestCheckEntryOrder(t *testing.T) {
	cfg := DefaultConfig()
	high := &models.Alert{InstrumentKey: "NSE:INFY", Priority: models.PriorityHigh}
	low := &models.Alert{InstrumentKey: "NSE:INFY", Priority: models.PriorityMedium}

	tests := []struct {
		name  string
		alert *models.Alert
		state EntryState
		rule  string
	}{
		{"all checks fail", low, EntryState{OpenPositions: 5, Available: d(5000), HasPosition: true}, CheckMaxPositions},
		{"balance before priority", low, EntryState{OpenPositions: 4, Available: d(9999.99), HasPosition: true}, CheckMinAvailable},
		{"priority before position", low, EntryState{OpenPositions: 0, Available: d(10000), HasPosition: true}, CheckPriority},
		{"existing position", high, EntryState{OpenPositions: 0, Available: d(50000), HasPosition: true}, CheckOpenPosition},
		{"allowed", high, EntryState{OpenPositions: 4, Available: d(10000)}, ""},
	}

	for _, tt := range tests {
		got := CheckEntry(cfg, tt.alert, tt.state)
		if tt.rule == "" {
			if !got.Allowed || len(got.ChecksPassed) != 4 || got.Rejection != nil {
				t.Errorf("%s: got %+v", tt.name, got)
			}
			continue
		}
		if got.Allowed || got.Rejection == nil || got.Rejection.Rule != tt.rule {
			t.Errorf("%s: rule = %v, want %s", tt.name, got.Rejection, tt.rule)
		}
		if len(got.ChecksFailed) != 1 || got.ChecksFailed[0] != tt.rule {
			t.Errorf("%s: failed checks = %v", tt.name, got.ChecksFailed)
		}
	}
}

func TestCheckEntryCriticalPriority(t *testing.T) {
	got := CheckEntry(DefaultConfig(), &models.Alert{Priority: models.PriorityCritical}, EntryState{Available: d(20000)})
	if !got.Allowed {
		t.Errorf("CRITICAL alert blocked: %s", got.BlockReason)
	}
}

// ============================================================================
// Brackets and sizing
// ============================================================================

func TestPercentBracket(t *testing.T) {
	b := DefaultPercentBracket()

	target, stop := b.Levels(nil, models.OrderSideBuy, d(500))
	if !target.Equal(d(530)) || !stop.Equal(d(490)) {
		t.Errorf("BUY levels = %s/%s, want 530/490", target, stop)
	}

	target, stop = b.Levels(nil, models.OrderSideSell, d(500))
	if !target.Equal(d(470)) || !stop.Equal(d(510)) {
		t.Errorf("SELL levels = %s/%s, want 470/510", target, stop)
	}
}

func TestORBBracket(t *testing.T) {
	b := ORBBracket{Fallback: DefaultPercentBracket()}
	alert := &models.Alert{
		Strategy:   models.StrategyORB,
		Indicators: models.Snapshot{orb.KeyTarget: 540.0, orb.KeyStopLoss: 480.0},
	}

	target, stop := b.Levels(alert, models.OrderSideBuy, d(500))
	if !target.Equal(d(540)) || !stop.Equal(d(480)) {
		t.Errorf("projection levels = %s/%s, want 540/480", target, stop)
	}

	// A downside projection cannot bracket a long entry.
	alert.Indicators = models.Snapshot{orb.KeyTarget: 460.0, orb.KeyStopLoss: 520.0}
	target, stop = b.Levels(alert, models.OrderSideBuy, d(500))
	if !target.Equal(d(530)) || !stop.Equal(d(490)) {
		t.Errorf("fallback levels = %s/%s, want 530/490", target, stop)
	}
}

func TestSideFor(t *testing.T) {
	tests := map[string]models.OrderSide{
		models.StrategyORB:             models.OrderSideBuy,
		models.StrategyBullish:         models.OrderSideBuy,
		models.StrategyBearish:         models.OrderSideSell,
		models.StrategyFull:            models.OrderSideSell,
		models.StrategyDailyConfluence: models.OrderSideSell,
	}
	for strategy, want := range tests {
		if got := SideFor(strategy); got != want {
			t.Errorf("SideFor(%s) = %s, want %s", strategy, got, want)
		}
	}
}

func TestPositionSize(t *testing.T) {
	cfg := DefaultConfig()
	wallet := func(balance, invested float64) *models.Wallet {
		return &models.Wallet{Balance: d(balance), TotalInvested: d(invested)}
	}

	tests := []struct {
		name   string
		wallet *models.Wallet
		entry  float64
		stop   decimal.NullDecimal
		want   int64
	}{
		{"risk over stop distance", wallet(200000, 150000), 500, decimal.NewNullDecimal(d(490)), 100},
		{"clamped to available", wallet(200000, 199000), 500, decimal.NewNullDecimal(d(490)), 2},
		{"no stop uses position fraction", wallet(200000, 0), 500, decimal.NullDecimal{}, 40},
		{"stop equal to entry uses position fraction", wallet(200000, 0), 500, decimal.NewNullDecimal(d(500)), 40},
		{"wide stop still buys one", wallet(20000, 0), 500, decimal.NewNullDecimal(d(50)), 1},
		{"unaffordable", wallet(200000, 199800), 500, decimal.NewNullDecimal(d(490)), 0},
		{"bad entry", wallet(200000, 0), 0, decimal.NullDecimal{}, 0},
	}

	for _, tt := range tests {
		if got := PositionSize(cfg, tt.wallet, d(tt.entry), tt.stop); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}
}

// ============================================================================
// Exit evaluation
// ============================================================================

func TestEvaluateExit(t *testing.T) {
	entry := time.Date(2024, 1, 15, 4, 0, 0, 0, time.UTC)
	buy := &models.Trade{
		Side: models.OrderSideBuy, EntryPrice: d(100), Quantity: 10, EntryTime: entry,
		TargetPrice: decimal.NewNullDecimal(d(110)), StopLoss: decimal.NewNullDecimal(d(95)),
	}
	sell := &models.Trade{
		Side: models.OrderSideSell, EntryPrice: d(100), Quantity: 10, EntryTime: entry,
		TargetPrice: decimal.NewNullDecimal(d(94)), StopLoss: decimal.NewNullDecimal(d(102)),
	}
	bare := &models.Trade{Side: models.OrderSideBuy, EntryPrice: d(100), Quantity: 10, EntryTime: entry}

	soon := entry.Add(time.Hour)
	late := entry.Add(25 * time.Hour)

	tests := []struct {
		name   string
		trade  *models.Trade
		price  float64
		now    time.Time
		ok     bool
		reason ExitReason
		fill   float64
	}{
		{"buy above target fills at target", buy, 111, soon, true, ExitTarget, 110},
		{"buy at target", buy, 110, soon, true, ExitTarget, 110},
		{"buy below stop fills at stop", buy, 90, soon, true, ExitStopLoss, 95},
		{"buy inside bracket", buy, 104, soon, false, "", 0},
		{"target wins over time limit", buy, 112, late, true, ExitTarget, 110},
		{"buy inside bracket after time limit", buy, 104, late, true, ExitTimeLimit, 104},
		{"sell below target", sell, 93, soon, true, ExitTarget, 94},
		{"sell above stop", sell, 103, soon, true, ExitStopLoss, 102},
		{"sell inside bracket", sell, 99, soon, false, "", 0},
		{"no levels after time limit", bare, 87.5, late, true, ExitTimeLimit, 87.5},
		{"no levels at exactly the limit", bare, 87.5, entry.Add(24 * time.Hour), false, "", 0},
	}

	for _, tt := range tests {
		got, ok := EvaluateExit(tt.trade, d(tt.price), tt.now, 24*time.Hour)
		if ok != tt.ok {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if got.Reason != tt.reason || !got.Price.Equal(d(tt.fill)) {
			t.Errorf("%s: got %s at %s, want %s at %v", tt.name, got.Reason, got.Price, tt.reason, tt.fill)
		}
	}
}

func TestTimeLimitReasonMentionsTimeLimit(t *testing.T) {
	if !strings.Contains(string(ExitTimeLimit), "Time limit") {
		t.Errorf("reason = %q", ExitTimeLimit)
	}
}

// ============================================================================
// Engine
// ============================================================================

func TestExecuteTradeOpensBuy(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	w := f.wallet(t, 200000)
	alert := f.alert(t, "NSE:SBIN", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	f.prices.set("NSE:SBIN", 500)

	trade, err := f.engine.ExecuteTrade(ctx, w.ID, alert)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}

	// 2% of 200000 over a 10 point stop is 400 shares, exactly the balance.
	if trade.Side != models.OrderSideBuy || trade.Quantity != 400 {
		t.Errorf("trade = %s x%d, want BUY x400", trade.Side, trade.Quantity)
	}
	if !trade.TargetPrice.Decimal.Equal(d(530)) || !trade.StopLoss.Decimal.Equal(d(490)) {
		t.Errorf("levels = %s/%s", trade.TargetPrice.Decimal, trade.StopLoss.Decimal)
	}
	if !trade.RiskPercentage.Equal(d(2)) || !trade.RiskAmount.Equal(d(4000)) {
		t.Errorf("risk = %s (%s%%)", trade.RiskAmount, trade.RiskPercentage)
	}

	got := f.reload(t, w.ID)
	if !got.TotalInvested.Equal(d(200000)) || got.TotalTrades != 1 || !got.AvailableBalance().IsZero() {
		t.Errorf("wallet = %+v", got)
	}

	pos, err := f.store.GetPosition(ctx, w.ID, "NSE:SBIN")
	if err != nil || pos.Quantity != 400 || !pos.AvgEntryPrice.Equal(d(500)) {
		t.Errorf("position = %+v, %v", pos, err)
	}

	stored, err := f.store.GetAlert(ctx, alert.ID)
	if err != nil || stored.Status != models.AlertTriggered {
		t.Errorf("alert status = %v, %v", stored, err)
	}

	types := f.events.types()
	if len(types) != 2 || types[0] != notify.EventTradeOpened || types[1] != notify.EventWalletUpdated {
		t.Errorf("events = %v", types)
	}
}

func TestExecuteTradeOpensSellForBearishAlerts(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	w := f.wallet(t, 100000)
	alert := f.alert(t, "NSE:TATASTEEL", models.StrategyBearish, models.PriorityCritical, models.AlertTypeEntry)
	f.prices.set("NSE:TATASTEEL", 500)

	trade, err := f.engine.ExecuteTrade(context.Background(), w.ID, alert)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if trade.Side != models.OrderSideSell {
		t.Errorf("side = %s, want SELL", trade.Side)
	}
	if !trade.TargetPrice.Decimal.Equal(d(470)) || !trade.StopLoss.Decimal.Equal(d(510)) {
		t.Errorf("levels = %s/%s, want 470/510", trade.TargetPrice.Decimal, trade.StopLoss.Decimal)
	}
}

func TestExecuteTradeRejections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTrade = d(0.002)
	f := newFixture(t, cfg)
	ctx := context.Background()
	w := f.wallet(t, 1000000)
	f.prices.set("NSE:INFY", 1500)

	first := f.alert(t, "NSE:INFY", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	if _, err := f.engine.ExecuteTrade(ctx, w.ID, first); err != nil {
		t.Fatalf("first trade: %v", err)
	}

	var rejection *apperrors.RejectionError

	second := f.alert(t, "NSE:INFY", models.StrategyBullish, models.PriorityHigh, models.AlertTypeEntry)
	_, err := f.engine.ExecuteTrade(ctx, w.ID, second)
	if !errors.As(err, &rejection) || rejection.Rule != CheckOpenPosition {
		t.Errorf("second trade on instrument: %v", err)
	}

	medium := f.alert(t, "NSE:TCS", models.StrategyORB, models.PriorityMedium, models.AlertTypeEntry)
	_, err = f.engine.ExecuteTrade(ctx, w.ID, medium)
	if !errors.As(err, &rejection) || rejection.Rule != CheckPriority {
		t.Errorf("medium priority: %v", err)
	}
}

func TestExecuteTradeWithoutPriceIsSoft(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	w := f.wallet(t, 100000)
	alert := f.alert(t, "NSE:WIPRO", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)

	_, err := f.engine.ExecuteTrade(context.Background(), w.ID, alert)
	if !apperrors.IsSoft(err) {
		t.Fatalf("missing price should be soft, got %v", err)
	}
	if got := f.reload(t, w.ID); got.TotalTrades != 0 {
		t.Errorf("wallet changed: %+v", got)
	}
}

func TestProcessAlerts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTrade = d(0.002)
	f := newFixture(t, cfg)
	ctx := context.Background()
	w := f.wallet(t, 1000000)

	for _, key := range []string{"NSE:A", "NSE:B", "NSE:C", "NSE:D", "NSE:E"} {
		f.prices.set(key, 100)
	}
	f.alert(t, "NSE:A", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	f.alert(t, "NSE:B", models.StrategyORB, models.PriorityMedium, models.AlertTypeEntry)
	f.alert(t, "NSE:C", models.StrategyBullish, models.PriorityHigh, models.AlertTypeScreening)
	f.alert(t, "NSE:D", models.StrategyORB, models.PriorityCritical, models.AlertTypeEntry)

	expired := f.alert(t, "NSE:E", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	past := f.clock.Add(-time.Minute)
	expired.ExpiresAt = &past
	if err := f.store.UpsertAlert(ctx, expired); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.ProcessAlerts(ctx, w.ID)
	if err != nil {
		t.Fatalf("ProcessAlerts: %v", err)
	}
	if report.Opened != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want 2 opened", report)
	}

	again, err := f.engine.ProcessAlerts(ctx, w.ID)
	if err != nil || again.Opened != 0 {
		t.Errorf("traded alerts must not trade again: %+v, %v", again, err)
	}

	if n, _ := f.store.CountPositions(ctx, w.ID); n != 2 {
		t.Errorf("positions = %d, want 2", n)
	}
}

func TestProcessAlertsStopsAtPositionLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTrade = d(0.002)
	cfg.MaxOpenPositions = 1
	f := newFixture(t, cfg)
	w := f.wallet(t, 1000000)

	for _, key := range []string{"NSE:A", "NSE:B", "NSE:C"} {
		f.prices.set(key, 100)
		f.alert(t, key, models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	}

	report, err := f.engine.ProcessAlerts(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("ProcessAlerts: %v", err)
	}
	if report.Opened != 1 || report.Rejected != 1 {
		t.Errorf("report = %+v, want 1 opened then stop", report)
	}
}

func TestProcessAlertsAbsorbsMissingPrices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTrade = d(0.002)
	f := newFixture(t, cfg)
	w := f.wallet(t, 1000000)

	f.alert(t, "NSE:NOPRICE", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	f.alert(t, "NSE:PRICED", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	f.prices.set("NSE:PRICED", 250)

	report, err := f.engine.ProcessAlerts(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("ProcessAlerts: %v", err)
	}
	if report.Opened != 1 || report.Skipped != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestClosePositionConservesPnL(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	w := f.wallet(t, 100000)
	alert := f.alert(t, "NSE:ITC", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)

	trade, err := f.engine.OpenTrade(ctx, w.ID, alert, d(100), 10)
	if err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	before := f.reload(t, w.ID)

	res, err := f.engine.ClosePosition(ctx, trade, ExitDecision{Reason: ExitTarget, Price: d(106)})
	if err != nil || !res.Closed {
		t.Fatalf("ClosePosition: %+v, %v", res, err)
	}
	if !res.Trade.PnL.Decimal.Equal(d(60)) || !res.Trade.PnLPercentage.Decimal.Equal(d(6)) {
		t.Errorf("pnl = %s (%s%%), want 60 (6%%)", res.Trade.PnL.Decimal, res.Trade.PnLPercentage.Decimal)
	}
	if res.Trade.Notes != "Closed: Target hit" {
		t.Errorf("notes = %q", res.Trade.Notes)
	}

	after := f.reload(t, w.ID)
	if !after.Balance.Sub(before.Balance).Equal(d(60)) || !after.TotalPnL.Sub(before.TotalPnL).Equal(d(60)) {
		t.Errorf("balance %s -> %s, pnl %s -> %s", before.Balance, after.Balance, before.TotalPnL, after.TotalPnL)
	}
	if !before.TotalInvested.Sub(after.TotalInvested).Equal(d(1000)) {
		t.Errorf("invested %s -> %s", before.TotalInvested, after.TotalInvested)
	}
	if after.WinningTrades != 1 || after.LosingTrades != 0 {
		t.Errorf("win/loss = %d/%d", after.WinningTrades, after.LosingTrades)
	}
}

func TestClosePositionTwiceIsNoOp(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	w := f.wallet(t, 100000)
	alert := f.alert(t, "NSE:ITC", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)

	trade, err := f.engine.OpenTrade(ctx, w.ID, alert, d(100), 10)
	if err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}

	decision := ExitDecision{Reason: ExitStopLoss, Price: d(98)}
	if _, err := f.engine.ClosePosition(ctx, trade, decision); err != nil {
		t.Fatal(err)
	}
	once := f.reload(t, w.ID)
	published := len(f.events.types())

	res, err := f.engine.ClosePosition(ctx, trade, decision)
	if err != nil || res.Closed {
		t.Fatalf("second close: %+v, %v", res, err)
	}
	twice := f.reload(t, w.ID)
	if !twice.Balance.Equal(once.Balance) || twice.LosingTrades != 1 || !twice.TotalInvested.IsZero() {
		t.Errorf("wallet changed on second close: %+v -> %+v", once, twice)
	}
	if len(f.events.types()) != published {
		t.Error("second close must not publish events")
	}
}

func TestConcurrentClosesOnOneWallet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTrade = d(0.002)
	f := newFixture(t, cfg)
	ctx := context.Background()
	w := f.wallet(t, 1000000)

	var trades []*models.Trade
	for _, key := range []string{"NSE:A", "NSE:B", "NSE:C", "NSE:D"} {
		alert := f.alert(t, key, models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
		trade, err := f.engine.OpenTrade(ctx, w.ID, alert, d(100), 100)
		if err != nil {
			t.Fatalf("OpenTrade %s: %v", key, err)
		}
		trades = append(trades, trade)
	}

	var wg sync.WaitGroup
	for _, trade := range trades {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(trade *models.Trade) {
				defer wg.Done()
				if _, err := f.engine.ClosePosition(ctx, trade, ExitDecision{Reason: ExitTarget, Price: d(106)}); err != nil {
					t.Errorf("close %s: %v", trade.ID, err)
				}
			}(trade)
		}
	}
	wg.Wait()

	got := f.reload(t, w.ID)
	if !got.TotalInvested.IsZero() || !got.TotalPnL.Equal(d(2400)) || got.WinningTrades != 4 {
		t.Errorf("wallet = %+v", got)
	}
}

func TestUpdatePositionsMarksAndCloses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskPerTrade = d(0.002)
	f := newFixture(t, cfg)
	ctx := context.Background()
	w := f.wallet(t, 1000000)

	hit := f.alert(t, "NSE:HIT", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	hold := f.alert(t, "NSE:HOLD", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	if _, err := f.engine.OpenTrade(ctx, w.ID, hit, d(100), 10); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.OpenTrade(ctx, w.ID, hold, d(200), 10); err != nil {
		t.Fatal(err)
	}

	f.prices.set("NSE:HIT", 107)
	f.prices.set("NSE:HOLD", 205)

	report, err := f.engine.UpdatePositions(ctx, w.ID)
	if err != nil {
		t.Fatalf("UpdatePositions: %v", err)
	}
	if report.Updated != 2 || report.Closed != 1 {
		t.Errorf("report = %+v", report)
	}

	pos, err := f.store.GetPosition(ctx, w.ID, "NSE:HOLD")
	if err != nil || !pos.UnrealizedPnL.Equal(d(50)) || !pos.UnrealizedPnLPercentage.Equal(d(2.5)) {
		t.Errorf("held position = %+v, %v", pos, err)
	}
	if _, err := f.store.GetPosition(ctx, w.ID, "NSE:HIT"); !errors.Is(err, apperrors.ErrPositionNotFound) {
		t.Errorf("closed position should be gone, got %v", err)
	}
	if got := f.reload(t, w.ID); !got.TotalPnL.Equal(d(60)) {
		t.Errorf("total pnl = %s, want 60 at the target level", got.TotalPnL)
	}
}

func TestUpdatePositionsTimeLimit(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	w := f.wallet(t, 100000)
	alert := f.alert(t, "NSE:SLOW", models.StrategyORB, models.PriorityHigh, models.AlertTypeEntry)
	if _, err := f.engine.OpenTrade(ctx, w.ID, alert, d(100), 10); err != nil {
		t.Fatal(err)
	}

	f.prices.set("NSE:SLOW", 101.5)
	f.clock = f.clock.Add(25 * time.Hour)

	if _, err := f.engine.UpdatePositions(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
	trades, err := f.store.ListTrades(ctx, store.TradeFilter{WalletID: w.ID})
	if err != nil || len(trades) != 1 {
		t.Fatalf("trades = %v, %v", trades, err)
	}
	tr := trades[0]
	if tr.Status != models.TradeClosed || !tr.ExitPrice.Decimal.Equal(d(101.5)) || !strings.Contains(tr.Notes, "Time limit") {
		t.Errorf("trade = %s at %s (%q)", tr.Status, tr.ExitPrice.Decimal, tr.Notes)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	f := newFixture(t, cfg)
	w := f.wallet(t, 100000)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, w.ID) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestResolveWallet(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	if _, err := f.engine.ResolveWallet(ctx, ""); !errors.Is(err, apperrors.ErrWalletNotFound) {
		t.Errorf("no wallets: %v", err)
	}

	w := f.wallet(t, 50000)
	got, err := f.engine.ResolveWallet(ctx, "")
	if err != nil || got.ID != w.ID {
		t.Errorf("ResolveWallet = %v, %v", got, err)
	}
	if _, err := f.engine.ResolveWallet(ctx, "missing"); !errors.Is(err, apperrors.ErrWalletNotFound) {
		t.Errorf("unknown id: %v", err)
	}
}

func TestConfigFromApp(t *testing.T) {
	cfg := ConfigFromApp(config.EngineConfig{
		WalletID:            "w-1",
		MaxOpenPositions:    3,
		MinAvailableBalance: 5000,
		RiskPerTrade:        0.01,
		MaxPositionFraction: 0.2,
		TargetPercent:       4,
		StopPercent:         1,
		Bracket:             "orb",
		TimeLimit:           6 * time.Hour,
	})

	if cfg.WalletID != "w-1" || cfg.MaxOpenPositions != 3 || !cfg.MinAvailableBalance.Equal(d(5000)) {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.TimeLimit != 6*time.Hour || cfg.PollInterval != 30*time.Second {
		t.Errorf("timing = %v/%v", cfg.TimeLimit, cfg.PollInterval)
	}
	b, ok := cfg.Bracket.(ORBBracket)
	if !ok {
		t.Fatalf("bracket = %T, want ORBBracket", cfg.Bracket)
	}
	if target, stop := b.Levels(nil, models.OrderSideBuy, d(100)); !target.Equal(d(104)) || !stop.Equal(d(99)) {
		t.Errorf("fallback levels = %s/%s", target, stop)
	}
}
