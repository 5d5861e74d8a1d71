package store

import (
	"context"
	"testing"
	"time"

	"radar-trader/internal/models"
)

func seedLifecycleAlerts(t *testing.T, s *SQLiteStore, now time.Time) {
	t.Helper()
	past := now.Add(-30 * time.Hour)
	recent := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	for _, a := range []*models.Alert{
		{InstrumentKey: "NSE:OLD", Symbol: "OLD", Strategy: models.StrategyORB, ExpiresAt: &past},
		{InstrumentKey: "NSE:RECENT", Symbol: "RECENT", Strategy: models.StrategyORB, ExpiresAt: &recent},
		{InstrumentKey: "NSE:NEW", Symbol: "NEW", Strategy: models.StrategyORB, ExpiresAt: &future},
	} {
		if err := s.UpsertAlert(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCleanupAlertsDryRunPredictsRealRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seedLifecycleAlerts(t, s, now)

	opts := CleanupOptions{ExpireOld: true, DeleteExpired: true, DryRun: true}
	dry, err := CleanupAlerts(ctx, s, now, opts)
	if err != nil {
		t.Fatal(err)
	}
	if dry.Expired != 2 || dry.Deleted != 1 {
		t.Errorf("dry run = %+v, want 2 expired and 1 deleted", dry)
	}
	if dry.Counts[models.AlertActive] != 3 {
		t.Errorf("dry run must not write, counts = %v", dry.Counts)
	}

	opts.DryRun = false
	got, err := CleanupAlerts(ctx, s, now, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got.Expired != dry.Expired || got.Deleted != dry.Deleted {
		t.Errorf("real run = %+v, dry run = %+v", got, dry)
	}
	if got.Counts[models.AlertActive] != 1 || got.Counts[models.AlertExpired] != 1 {
		t.Errorf("counts = %v", got.Counts)
	}
}

func TestCleanupAlertsExpireOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seedLifecycleAlerts(t, s, now)

	got, err := CleanupAlerts(ctx, s, now, CleanupOptions{ExpireOld: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.Expired != 2 || got.Deleted != 0 || got.Counts[models.AlertExpired] != 2 {
		t.Errorf("report = %+v", got)
	}
}
