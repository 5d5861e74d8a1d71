package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"radar-trader/internal/config"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/logging"
	"radar-trader/internal/models"
	"radar-trader/internal/resilience"
	"radar-trader/pkg/utils"
)

// FeedPolicy bounds every call to an external feed.
type FeedPolicy struct {
	// Timeout applies to each attempt.
	Timeout time.Duration
	Retry   utils.RetryConfig
}

// PolicyFromConfig builds a feed policy from configuration.
func PolicyFromConfig(cfg config.FeedConfig) FeedPolicy {
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryAttempts
	if cfg.InitialDelay > 0 {
		retry.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		retry.MaxDelay = cfg.MaxDelay
	}
	return FeedPolicy{Timeout: cfg.Timeout, Retry: retry}
}

// BreakerConfig builds the circuit breaker settings from configuration.
func BreakerConfig(cfg config.FeedConfig) resilience.CircuitBreakerConfig {
	bc := resilience.DefaultCircuitBreakerConfig()
	if cfg.BreakerFailures > 0 {
		bc.FailureThreshold = cfg.BreakerFailures
	}
	if cfg.BreakerTimeout > 0 {
		bc.Timeout = cfg.BreakerTimeout
	}
	return bc
}

// guard runs feed calls under a per-attempt timeout, a circuit breaker and
// bounded retry, and records each outcome.
type guard struct {
	name     string
	policy   FeedPolicy
	breakers *resilience.Registry
	monitor  *resilience.FeedMonitor
	logger   zerolog.Logger
}

func guarded[T any](ctx context.Context, g *guard, key, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	breaker := g.breakers.Get(g.name + "." + op)
	logger := g.logger.With().Str("instrument", key).Str("operation", op).Logger()

	retry := g.policy.Retry
	retry.Retryable = func(err error) bool {
		return apperrors.IsRetryable(err) && !errors.Is(err, resilience.ErrCircuitOpen)
	}
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying feed call")
	}

	start := time.Now()
	value, attempts, err := utils.RetryWithResult(ctx, retry, func() (T, error) {
		return resilience.ExecuteWithResult(ctx, breaker, func(ctx context.Context) (T, error) {
			attemptCtx := ctx
			if g.policy.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
				defer cancel()
			}
			v, err := fn(attemptCtx)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = fmt.Errorf("%s %s after %s: %w", op, key, g.policy.Timeout, apperrors.ErrTimeout)
			}
			return v, err
		})
	})
	elapsed := time.Since(start)

	if g.monitor != nil {
		g.monitor.Record(g.name, elapsed, err)
	}
	logging.LogFetch(logger, g.name, key, elapsed, err)

	if err == nil || ctx.Err() != nil {
		return value, err
	}

	var fe *apperrors.FetchError
	if errors.As(err, &fe) {
		fe.Attempts = attempts
		return value, err
	}
	if apperrors.IsRetryable(err) {
		return value, apperrors.NewFetchError(key, op, attempts, err)
	}
	return value, err
}

// RetryingSource wraps a series source with timeouts, retry and a circuit
// breaker. A final failure yields an empty series and the error.
type RetryingSource struct {
	next  SeriesSource
	guard *guard
}

// NewRetryingSource wraps next. name labels breakers, feed status and logs.
func NewRetryingSource(name string, next SeriesSource, policy FeedPolicy, breakers *resilience.Registry, monitor *resilience.FeedMonitor, logger zerolog.Logger) *RetryingSource {
	return &RetryingSource{
		next: next,
		guard: &guard{
			name:     name,
			policy:   policy,
			breakers: breakers,
			monitor:  monitor,
			logger:   logger.With().Str("component", "feed").Str("feed", name).Logger(),
		},
	}
}

// Fetch implements SeriesSource.
func (r *RetryingSource) Fetch(ctx context.Context, key, interval string, periods int) (models.Series, error) {
	series, err := guarded(ctx, r.guard, key, "historical", func(ctx context.Context) (models.Series, error) {
		return r.next.Fetch(ctx, key, interval, periods)
	})
	if err != nil {
		return models.Series{}, err
	}
	return series, nil
}

// RetryingFeed wraps a price feed with timeouts, retry and a circuit breaker.
type RetryingFeed struct {
	next  PriceFeed
	guard *guard
}

// NewRetryingFeed wraps next. name labels breakers, feed status and logs.
func NewRetryingFeed(name string, next PriceFeed, policy FeedPolicy, breakers *resilience.Registry, monitor *resilience.FeedMonitor, logger zerolog.Logger) *RetryingFeed {
	return &RetryingFeed{
		next: next,
		guard: &guard{
			name:     name,
			policy:   policy,
			breakers: breakers,
			monitor:  monitor,
			logger:   logger.With().Str("component", "feed").Str("feed", name).Logger(),
		},
	}
}

// CurrentPrice implements PriceFeed.
func (r *RetryingFeed) CurrentPrice(ctx context.Context, key string) (decimal.Decimal, error) {
	return guarded(ctx, r.guard, key, "ltp", func(ctx context.Context) (decimal.Decimal, error) {
		return r.next.CurrentPrice(ctx, key)
	})
}
