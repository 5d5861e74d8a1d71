package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

// LastPrices keeps the latest streamed price per instrument and serves it
// as a price feed while it is younger than maxAge.
type LastPrices struct {
	maxAge time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	latest map[string]models.Tick
}

// NewLastPrices creates an empty feed. A non-positive maxAge never expires prices.
func NewLastPrices(maxAge time.Duration) *LastPrices {
	return &LastPrices{
		maxAge: maxAge,
		now:    time.Now,
		latest: make(map[string]models.Tick),
	}
}

// OnTick records the tick unless a newer one is already held.
func (p *LastPrices) OnTick(tick models.Tick) {
	if tick.LastPrice <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.latest[tick.InstrumentKey]; ok && prev.Timestamp.After(tick.Timestamp) {
		return
	}
	p.latest[tick.InstrumentKey] = tick
}

// InstrumentKeys implements Consumer; every instrument is kept.
func (p *LastPrices) InstrumentKeys() []string {
	return nil
}

// CurrentPrice returns the streamed price, or ErrPriceUnavailable when
// there is none or it is stale.
func (p *LastPrices) CurrentPrice(_ context.Context, key string) (decimal.Decimal, error) {
	p.mu.RLock()
	tick, ok := p.latest[key]
	p.mu.RUnlock()

	if !ok {
		return decimal.Zero, fmt.Errorf("no streamed price for %s: %w", key, apperrors.ErrPriceUnavailable)
	}
	if age := p.now().Sub(tick.Timestamp); p.maxAge > 0 && age > p.maxAge {
		return decimal.Zero, fmt.Errorf("streamed price for %s is %s old: %w", key, age.Round(time.Second), apperrors.ErrPriceUnavailable)
	}
	return decimal.NewFromFloat(tick.LastPrice).Round(2), nil
}

// Len returns the number of instruments with a price.
func (p *LastPrices) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.latest)
}
