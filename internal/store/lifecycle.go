package store

import (
	"context"
	"time"

	"radar-trader/internal/models"
)

// DefaultRetention is how long EXPIRED alerts are kept before deletion.
const DefaultRetention = 24 * time.Hour

// CleanupOptions selects the alert lifecycle steps to run.
type CleanupOptions struct {
	ExpireOld     bool
	DeleteExpired bool
	DryRun        bool          // count what would change without writing
	Retention     time.Duration // EXPIRED alerts older than this are deleted
}

// CleanupReport is the outcome of CleanupAlerts. In a dry run the counts are
// what a real run would have changed.
type CleanupReport struct {
	DryRun  bool                         `json:"dry_run"`
	Expired int64                        `json:"expired"`
	Deleted int64                        `json:"deleted"`
	Counts  map[models.AlertStatus]int64 `json:"counts"`
}

// CleanupAlerts expires stale ACTIVE alerts and deletes old EXPIRED ones.
// Expiry runs first, so a single run never deletes an alert it just expired
// unless its expiry is older than the retention window.
func CleanupAlerts(ctx context.Context, alerts AlertStore, now time.Time, opts CleanupOptions) (*CleanupReport, error) {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	cutoff := now.Add(-opts.Retention)
	report := &CleanupReport{DryRun: opts.DryRun}

	if opts.ExpireOld {
		var err error
		if opts.DryRun {
			report.Expired, err = alerts.CountExpirable(ctx, now)
		} else {
			report.Expired, err = alerts.ExpireAlerts(ctx, now)
		}
		if err != nil {
			return nil, err
		}
	}

	if opts.DeleteExpired {
		var err error
		if opts.DryRun {
			report.Deleted, err = alerts.CountDeletable(ctx, cutoff)
			if err == nil && opts.ExpireOld {
				// Alerts the expire step would have marked also count when
				// their expiry falls before the cutoff.
				var pending int64
				pending, err = alerts.CountExpirable(ctx, cutoff)
				report.Deleted += pending
			}
		} else {
			report.Deleted, err = alerts.DeleteExpiredAlerts(ctx, cutoff)
		}
		if err != nil {
			return nil, err
		}
	}

	counts, err := alerts.AlertStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	report.Counts = counts
	return report, nil
}
