package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry hands out one circuit breaker per feed operation, for example
// "kite.ltp" or "kite.historical", all sharing one configuration.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	logger   zerolog.Logger
}

// NewRegistry creates a registry that logs every state transition.
func NewRegistry(config CircuitBreakerConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger.With().Str("component", "breakers").Logger(),
	}
}

// Get returns or creates the circuit breaker for name.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := NewCircuitBreaker(name, r.config)
	cb.OnStateChange(func(name string, from, to CircuitState) {
		ev := r.logger.Info()
		if to == CircuitOpen {
			ev = r.logger.Warn()
		}
		ev.Str("breaker", name).Str("from", string(from)).Str("to", string(to)).Msg("circuit state changed")
	})
	r.breakers[name] = cb
	return cb
}

// AllStats returns statistics for all circuit breakers, sorted by name.
func (r *Registry) AllStats() []CircuitBreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// ResetAll closes every circuit.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// FeedStatus is the last observed health of one price or series source.
type FeedStatus struct {
	Name        string        `json:"name"`
	Available   bool          `json:"available"`
	LastCheck   time.Time     `json:"last_check"`
	LastSuccess time.Time     `json:"last_success"`
	LastError   string        `json:"last_error,omitempty"`
	Latency     time.Duration `json:"latency"`
	Calls       int64         `json:"calls"`
	Failures    int64         `json:"failures"`
}

// FeedMonitor records the outcome of every feed call.
type FeedMonitor struct {
	mu    sync.RWMutex
	feeds map[string]*FeedStatus
}

// NewFeedMonitor creates an empty monitor.
func NewFeedMonitor() *FeedMonitor {
	return &FeedMonitor{feeds: make(map[string]*FeedStatus)}
}

// Record stores the result of one call to the named feed.
func (m *FeedMonitor) Record(name string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.feeds[name]
	if !ok {
		status = &FeedStatus{Name: name}
		m.feeds[name] = status
	}

	now := time.Now()
	status.Calls++
	status.LastCheck = now
	status.Latency = latency
	status.Available = err == nil
	if err != nil {
		status.Failures++
		status.LastError = err.Error()
	} else {
		status.LastSuccess = now
		status.LastError = ""
	}
}

// Status returns a copy of the named feed's status.
func (m *FeedMonitor) Status(name string) (FeedStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.feeds[name]; ok {
		return *s, true
	}
	return FeedStatus{}, false
}

// All returns every feed status sorted by name.
func (m *FeedMonitor) All() []FeedStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FeedStatus, 0, len(m.feeds))
	for _, s := range m.feeds {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
