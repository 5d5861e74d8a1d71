package scanner

import (
	"sort"
	"sync"
	"time"

	"radar-trader/internal/broker"
	"radar-trader/internal/models"
)

// DefaultHistoryCapacity bounds each instrument's rolling series.
const DefaultHistoryCapacity = 200

// HistoryStore keeps a bounded intraday series per instrument. It is filled
// from historical fetches and extended by streamed candles.
type HistoryStore struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]models.Series
}

// NewHistoryStore creates a store keeping at most capacity candles per
// instrument.
func NewHistoryStore(capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryStore{
		capacity: capacity,
		series:   make(map[string]models.Series),
	}
}

// Init replaces the instrument's series.
func (h *HistoryStore) Init(key string, series models.Series) {
	bounded := models.NewSeries(series).Bound(h.capacity)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.series[key] = bounded
}

// Append adds one candle. A candle with the same timestamp as a stored one
// replaces it.
func (h *HistoryStore) Append(key string, c models.Candle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.series[key] = h.series[key].Append(c).Bound(h.capacity)
}

// Get returns a copy of the instrument's series.
func (h *HistoryStore) Get(key string) (models.Series, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.series[key]
	if !ok {
		return nil, false
	}
	out := make(models.Series, len(s))
	copy(out, s)
	return out, true
}

// Fresh reports whether the instrument's latest candle is younger than
// maxAge at now.
func (h *HistoryStore) Fresh(key string, now time.Time, maxAge time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	last, ok := h.series[key].Last()
	return ok && now.Sub(last.Timestamp) < maxAge
}

// Keys returns the tracked instrument keys in sorted order.
func (h *HistoryStore) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([]string, 0, len(h.series))
	for k := range h.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TickCandles folds streamed ticks into candles and appends them to a
// HistoryStore. It is a stream consumer.
type TickCandles struct {
	history *HistoryStore
	builder *broker.CandleBuilder
	keys    []string
}

// TickConsumer returns a consumer building candles of the given length for
// keys, or for every instrument when keys is empty.
func (h *HistoryStore) TickConsumer(interval time.Duration, keys []string) *TickCandles {
	return &TickCandles{
		history: h,
		builder: broker.NewCandleBuilder(interval),
		keys:    keys,
	}
}

// OnTick updates the tick's candle in the history.
func (t *TickCandles) OnTick(tick models.Tick) {
	if c, ok := t.builder.Update(tick.InstrumentKey, tick.LastPrice, tick.DayVolume, tick.Timestamp); ok {
		t.history.Append(tick.InstrumentKey, c)
	}
}

// InstrumentKeys returns the instruments the consumer builds candles for.
func (t *TickCandles) InstrumentKeys() []string {
	return t.keys
}
