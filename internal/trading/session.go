package trading

import (
	"context"
	"time"
)

// RunCycle processes new alerts and then updates open positions for the
// wallet. Per-item failures are counted in the report; the error is set only
// when a whole step could not run.
func (e *Engine) RunCycle(ctx context.Context, walletID string) (*CycleReport, error) {
	report := &CycleReport{}

	opened, err := e.ProcessAlerts(ctx, walletID)
	report.merge(opened)
	if err != nil {
		return report, err
	}

	updated, err := e.UpdatePositions(ctx, walletID)
	report.merge(updated)
	if err != nil {
		return report, err
	}

	e.logger.Info().
		Str("wallet_id", walletID).
		Int("opened", report.Opened).
		Int("rejected", report.Rejected).
		Int("updated", report.Updated).
		Int("closed", report.Closed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("engine cycle complete")

	return report, nil
}

// Run executes a cycle every PollInterval until ctx is cancelled. A failed
// cycle waits ErrorBackoff before the next attempt instead of stopping the
// loop.
func (e *Engine) Run(ctx context.Context, walletID string) error {
	e.logger.Info().
		Str("wallet_id", walletID).
		Dur("poll_interval", e.cfg.PollInterval).
		Msg("engine started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("engine stopped")
			return nil
		case <-timer.C:
		}

		wait := e.cfg.PollInterval
		if _, err := e.RunCycle(ctx, walletID); err != nil {
			if ctx.Err() != nil {
				continue
			}
			e.logger.Error().Err(err).Dur("backoff", e.cfg.ErrorBackoff).Msg("engine cycle failed")
			wait = e.cfg.ErrorBackoff
		}
		timer.Reset(wait)
	}
}
