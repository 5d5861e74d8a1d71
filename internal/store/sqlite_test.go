package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"radar-trader/internal/analysis/indicators"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "radar.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestWallet(t *testing.T, s *SQLiteStore, balance int64) *models.Wallet {
	t.Helper()
	w := &models.Wallet{Owner: "tester", Balance: decimal.NewFromInt(balance)}
	if err := s.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	return w
}

func buyTrade(walletID, key string, qty int64, entry float64) *models.Trade {
	price := decimal.NewFromFloat(entry)
	return &models.Trade{
		WalletID:       walletID,
		InstrumentKey:  key,
		Symbol:         key,
		Side:           models.OrderSideBuy,
		Quantity:       qty,
		EntryPrice:     price,
		TargetPrice:    decimal.NewNullDecimal(price.Mul(decimal.NewFromFloat(1.06))),
		StopLoss:       decimal.NewNullDecimal(price.Mul(decimal.NewFromFloat(0.98))),
		EntryTime:      time.Now(),
		RiskAmount:     price.Mul(decimal.NewFromInt(qty)).Mul(decimal.NewFromFloat(0.02)),
		RiskPercentage: decimal.NewFromInt(2),
	}
}

func TestUpsertAlertKeepsOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.Alert{
		InstrumentKey: "NSE:INFY", Symbol: "INFY", Strategy: models.StrategyBullish,
		Score: 2, Reasons: []string{"RSI is oversold at 25.00."},
		Indicators: models.Snapshot{"RSI": 25.0, "Volume_Spike": false},
		Priority:   models.PriorityMedium, Type: models.AlertTypeScreening,
	}
	if err := s.UpsertAlert(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := &models.Alert{
		InstrumentKey: "NSE:INFY", Symbol: "INFY", Strategy: models.StrategyBullish,
		Score: 4, Reasons: []string{"Golden Cross detected.", "Volume spike detected."},
		Indicators: models.Snapshot{"RSI": nil, "Volume_Spike": true},
		Priority:   models.PriorityHigh, Type: models.AlertTypeScreening,
	}
	if err := s.UpsertAlert(ctx, second); err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert changed id: %d -> %d", first.ID, second.ID)
	}

	alerts, err := s.ListAlerts(ctx, models.AlertFilter{InstrumentKey: "NSE:INFY"})
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	got := alerts[0]
	if got.Score != 4 || len(got.Reasons) != 2 || got.Priority != models.PriorityHigh {
		t.Errorf("stored alert not updated: %+v", got)
	}
	if v, ok := got.Indicators.Bool("Volume_Spike"); !ok || !v {
		t.Error("Volume_Spike should decode as true")
	}
	if v, present := got.Indicators["RSI"]; !present || v != nil {
		t.Errorf("RSI should decode as null, got %v", v)
	}

	// A different strategy for the same instrument is a separate alert.
	orb := &models.Alert{InstrumentKey: "NSE:INFY", Symbol: "INFY", Strategy: models.StrategyORB, Score: 1,
		Priority: models.PriorityMedium, Type: models.AlertTypeEntry}
	if err := s.UpsertAlert(ctx, orb); err != nil {
		t.Fatal(err)
	}
	alerts, _ = s.ListAlerts(ctx, models.AlertFilter{InstrumentKey: "NSE:INFY"})
	if len(alerts) != 2 {
		t.Errorf("got %d alerts, want 2", len(alerts))
	}
}

func TestIndicatorSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	series := make(models.Series, 30)
	for i := range series {
		c := 100 + float64(i)*1.5
		series[i] = models.Candle{
			Timestamp: start.AddDate(0, 0, i),
			Open:      c - 1, High: c + 2, Low: c - 2, Close: c,
			Volume: 50000,
		}
	}
	snap := indicators.Compute(series).Snapshot()

	alert := &models.Alert{
		InstrumentKey: "NSE:SBIN", Symbol: "SBIN", Strategy: models.StrategyBullish,
		Score: 1, Indicators: snap,
		Priority: models.PriorityLow, Type: models.AlertTypeScreening,
	}
	if err := s.UpsertAlert(ctx, alert); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{models.KeyEMA50, models.KeyEMA200, models.KeyMACDSignal} {
		if v, present := got.Indicators[key]; !present || v != nil {
			t.Errorf("%s = %v (present %v), want null", key, v, present)
		}
	}
	if v, present := got.Indicators[models.KeyVolumeSpike]; !present || v != false {
		t.Errorf("Volume_Spike = %#v, want false", v)
	}
	for key, want := range snap {
		w, ok := want.(float64)
		if !ok {
			continue
		}
		if v, ok := got.Indicators.Float(key); !ok || v != w {
			t.Errorf("%s = %v, want %v", key, v, w)
		}
	}
	if _, ok := got.Indicators.Float(models.KeyEMA20); !ok {
		t.Error("EMA20 should be stored as a number")
	}
}

func TestListAlertsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seed := []models.Alert{
		{InstrumentKey: "NSE:A", Symbol: "A", Strategy: models.StrategyORB, Priority: models.PriorityHigh, Type: models.AlertTypeEntry, CreatedAt: now.Add(-3 * time.Minute)},
		{InstrumentKey: "NSE:B", Symbol: "B", Strategy: models.StrategyORB, Priority: models.PriorityMedium, Type: models.AlertTypeEntry, CreatedAt: now.Add(-2 * time.Minute)},
		{InstrumentKey: "NSE:C", Symbol: "C", Strategy: models.StrategyORB, Priority: models.PriorityCritical, Type: models.AlertTypeEntry, CreatedAt: now.Add(-1 * time.Minute)},
		{InstrumentKey: "NSE:D", Symbol: "D", Strategy: models.StrategyFull, Priority: models.PriorityHigh, Type: models.AlertTypeScreening, CreatedAt: now},
	}
	for i := range seed {
		if err := s.UpsertAlert(ctx, &seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	alerts, err := s.ListAlerts(ctx, models.AlertFilter{
		Status:     models.AlertActive,
		Priorities: []models.AlertPriority{models.PriorityHigh, models.PriorityCritical},
		Type:       models.AlertTypeEntry,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 || alerts[0].Symbol != "C" || alerts[1].Symbol != "A" {
		t.Errorf("unexpected alerts (want C, A newest first): %+v", alerts)
	}

	alerts, _ = s.ListAlerts(ctx, models.AlertFilter{Since: now.Add(-90 * time.Second)})
	if len(alerts) != 2 {
		t.Errorf("since filter returned %d alerts, want 2", len(alerts))
	}
}

func TestAlertLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-30 * time.Hour)
	future := now.Add(time.Hour)
	old := &models.Alert{InstrumentKey: "NSE:OLD", Symbol: "OLD", Strategy: models.StrategyORB, ExpiresAt: &past}
	fresh := &models.Alert{InstrumentKey: "NSE:NEW", Symbol: "NEW", Strategy: models.StrategyORB, ExpiresAt: &future}
	for _, a := range []*models.Alert{old, fresh} {
		if err := s.UpsertAlert(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	if n, _ := s.CountExpirable(ctx, now); n != 1 {
		t.Errorf("CountExpirable = %d, want 1", n)
	}
	if n, err := s.ExpireAlerts(ctx, now); err != nil || n != 1 {
		t.Fatalf("ExpireAlerts = %d, %v", n, err)
	}

	counts, err := s.AlertStatusCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.AlertExpired] != 1 || counts[models.AlertActive] != 1 {
		t.Errorf("counts = %v", counts)
	}

	cutoff := now.Add(-24 * time.Hour)
	if n, _ := s.CountDeletable(ctx, cutoff); n != 1 {
		t.Errorf("CountDeletable = %d, want 1", n)
	}
	if n, err := s.DeleteExpiredAlerts(ctx, cutoff); err != nil || n != 1 {
		t.Fatalf("DeleteExpiredAlerts = %d, %v", n, err)
	}
	if _, err := s.GetAlert(ctx, old.ID); !apperrors.Is(err, apperrors.ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestOpenTradeUpdatesLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := newTestWallet(t, s, 200000)

	alert := &models.Alert{InstrumentKey: "NSE:TCS", Symbol: "TCS", Strategy: models.StrategyORB,
		Priority: models.PriorityHigh, Type: models.AlertTypeEntry}
	if err := s.UpsertAlert(ctx, alert); err != nil {
		t.Fatal(err)
	}

	trade := buyTrade(w.ID, "NSE:TCS", 50, 500)
	trade.AlertID = alert.ID
	pos, err := s.OpenTrade(ctx, trade)
	if err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	if pos.Quantity != 50 || !pos.AvgEntryPrice.Equal(decimal.NewFromInt(500)) {
		t.Errorf("position = %+v", pos)
	}

	wallet, _ := s.GetWallet(ctx, w.ID)
	if !wallet.TotalInvested.Equal(decimal.NewFromInt(25000)) || wallet.TotalTrades != 1 {
		t.Errorf("wallet after open = invested %s, trades %d", wallet.TotalInvested, wallet.TotalTrades)
	}
	if !wallet.AvailableBalance().Equal(decimal.NewFromInt(175000)) {
		t.Errorf("available = %s, want 175000", wallet.AvailableBalance())
	}

	stored, _ := s.GetAlert(ctx, alert.ID)
	if stored.Status != models.AlertTriggered {
		t.Errorf("alert status = %s, want TRIGGERED", stored.Status)
	}
	if ok, _ := s.HasTradeForAlert(ctx, alert.ID); !ok {
		t.Error("HasTradeForAlert should be true")
	}

	got, err := s.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TradeExecuted || got.ExitPrice.Valid || !got.TargetPrice.Valid {
		t.Errorf("stored trade = %+v", got)
	}
}

func TestOpenTradeWeightedAverage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := newTestWallet(t, s, 100000)

	if _, err := s.OpenTrade(ctx, buyTrade(w.ID, "NSE:SBIN", 10, 100)); err != nil {
		t.Fatal(err)
	}
	pos, err := s.OpenTrade(ctx, buyTrade(w.ID, "NSE:SBIN", 30, 120))
	if err != nil {
		t.Fatal(err)
	}
	if pos.Quantity != 40 || !pos.AvgEntryPrice.Equal(decimal.NewFromInt(115)) {
		t.Errorf("position = qty %d avg %s, want 40 @ 115", pos.Quantity, pos.AvgEntryPrice)
	}
	if n, _ := s.CountPositions(ctx, w.ID); n != 1 {
		t.Errorf("CountPositions = %d, want 1", n)
	}
}

func TestOpenTradeRejectsOverdraw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := newTestWallet(t, s, 1000)

	_, err := s.OpenTrade(ctx, buyTrade(w.ID, "NSE:MRF", 1, 100000))
	if !apperrors.IsHard(err) || !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	wallet, _ := s.GetWallet(ctx, w.ID)
	if !wallet.TotalInvested.IsZero() || wallet.TotalTrades != 0 {
		t.Error("rejected open must not change the wallet")
	}
}

func TestCloseTradeConservesPnL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := newTestWallet(t, s, 100000)

	trade := buyTrade(w.ID, "NSE:ITC", 10, 100)
	if _, err := s.OpenTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	res, err := s.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, ExitPrice: decimal.NewFromInt(106), Reason: "Target hit"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Closed {
		t.Fatal("first close should close")
	}
	if !res.Trade.PnL.Decimal.Equal(decimal.NewFromInt(60)) || !res.Trade.PnLPercentage.Decimal.Equal(decimal.NewFromInt(6)) {
		t.Errorf("pnl = %s (%s%%), want 60 (6%%)", res.Trade.PnL.Decimal, res.Trade.PnLPercentage.Decimal)
	}
	if res.Trade.Notes != "Closed: Target hit" {
		t.Errorf("notes = %q", res.Trade.Notes)
	}

	wallet, _ := s.GetWallet(ctx, w.ID)
	if !wallet.Balance.Equal(decimal.NewFromInt(100060)) || !wallet.TotalPnL.Equal(decimal.NewFromInt(60)) ||
		!wallet.TotalInvested.IsZero() || wallet.WinningTrades != 1 || wallet.LosingTrades != 0 {
		t.Errorf("wallet after close = %+v", wallet)
	}
	if _, err := s.GetPosition(ctx, w.ID, "NSE:ITC"); !apperrors.Is(err, apperrors.ErrPositionNotFound) {
		t.Errorf("position should be deleted, got %v", err)
	}
}

func TestCloseTradeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := newTestWallet(t, s, 100000)

	trade := buyTrade(w.ID, "NSE:WIPRO", 10, 100)
	if _, err := s.OpenTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}
	req := CloseRequest{TradeID: trade.ID, ExitPrice: decimal.NewFromInt(98), Reason: "Stop loss hit"}
	if _, err := s.CloseTrade(ctx, req); err != nil {
		t.Fatal(err)
	}
	before, _ := s.GetWallet(ctx, w.ID)

	res, err := s.CloseTrade(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Closed {
		t.Error("second close should be a no-op")
	}
	after, _ := s.GetWallet(ctx, w.ID)
	if !after.Balance.Equal(before.Balance) || after.LosingTrades != before.LosingTrades || after.LosingTrades != 1 {
		t.Errorf("wallet changed on second close: %+v -> %+v", before, after)
	}
}

func TestCloseTradeUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CloseTrade(context.Background(), CloseRequest{TradeID: "missing", ExitPrice: decimal.NewFromInt(1)})
	if !apperrors.Is(err, apperrors.ErrTradeNotFound) {
		t.Errorf("expected ErrTradeNotFound, got %v", err)
	}
}

func TestSavePositionPrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := newTestWallet(t, s, 200000)

	pos, err := s.OpenTrade(ctx, buyTrade(w.ID, "NSE:TCS", 50, 500))
	if err != nil {
		t.Fatal(err)
	}
	pos.Revalue(decimal.NewFromInt(530))
	if err := s.SavePositionPrice(ctx, pos); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetPosition(ctx, w.ID, "NSE:TCS")
	if !got.UnrealizedPnL.Equal(decimal.NewFromInt(1500)) || !got.CurrentPrice.Decimal.Equal(decimal.NewFromInt(530)) {
		t.Errorf("position = %+v", got)
	}

	pos.InstrumentKey = "NSE:NONE"
	if err := s.SavePositionPrice(ctx, pos); !apperrors.Is(err, apperrors.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestTopInstruments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveInstruments(ctx, []models.Instrument{
		{Key: "NSE:A", Symbol: "A", Exchange: models.NSE, AvgVolume: 100, IsActive: true},
		{Key: "NSE:B", Symbol: "B", Exchange: models.NSE, AvgVolume: 300, IsActive: true, Sector: "NIFTY IT"},
		{Key: "NSE:C", Symbol: "C", Exchange: models.NSE, AvgVolume: 200, IsActive: false},
	})
	if err != nil {
		t.Fatal(err)
	}

	top, err := s.TopInstruments(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].Key != "NSE:B" || top[1].Key != "NSE:A" {
		t.Errorf("TopInstruments = %+v", top)
	}
	if top[0].Sector != "NIFTY IT" {
		t.Errorf("sector = %q", top[0].Sector)
	}
}

func TestCandlesFreshness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.GetCandlesFreshness(ctx, "NSE:A", "day")
	if err != nil || !latest.IsZero() {
		t.Fatalf("empty freshness = %v, %v", latest, err)
	}

	candles := generateTestCandles(3, 100, 1000)
	if err := s.SaveCandles(ctx, "NSE:A", "day", candles); err != nil {
		t.Fatal(err)
	}
	latest, err = s.GetCandlesFreshness(ctx, "NSE:A", "day")
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Equal(candles[2].Timestamp) {
		t.Errorf("freshness = %v, want %v", latest, candles[2].Timestamp)
	}
}
