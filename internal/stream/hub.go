// Package stream fans live ticks out to the components that consume them.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"radar-trader/internal/models"
)

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the inbound tick buffer.
	BufferSize int
	// ConsumerBufferSize is the size of each consumer's queue.
	ConsumerBufferSize int
	// SlowConsumerDropThreshold is the number of drops between slow consumer warnings.
	SlowConsumerDropThreshold uint64
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:                1000,
		ConsumerBufferSize:        256,
		SlowConsumerDropThreshold: 100,
	}
}

// Consumer processes ticks.
type Consumer interface {
	// OnTick is called with each tick, in publish order.
	OnTick(tick models.Tick)
	// InstrumentKeys limits the ticks delivered. Empty means every tick.
	InstrumentKeys() []string
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc struct {
	keys []string
	fn   func(models.Tick)
}

// NewConsumerFunc creates a consumer calling fn for ticks of keys.
func NewConsumerFunc(keys []string, fn func(models.Tick)) *ConsumerFunc {
	return &ConsumerFunc{keys: keys, fn: fn}
}

// OnTick implements Consumer.
func (c *ConsumerFunc) OnTick(tick models.Tick) {
	if c.fn != nil {
		c.fn(tick)
	}
}

// InstrumentKeys implements Consumer.
func (c *ConsumerFunc) InstrumentKeys() []string {
	return c.keys
}

// Hub distributes ticks from one source to many consumers. Each consumer
// has its own queue and goroutine, so a slow consumer drops its own ticks
// without delaying the others.
type Hub struct {
	config HubConfig
	logger zerolog.Logger
	inbox  chan models.Tick

	mu        sync.RWMutex
	consumers []*registration
	started   bool
	stopped   bool

	done     chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup
	workers  sync.WaitGroup

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type registration struct {
	name     string
	consumer Consumer
	keys     map[string]bool
	queue    chan models.Tick
	dropped  atomic.Uint64
}

func (r *registration) wants(key string) bool {
	return len(r.keys) == 0 || r.keys[key]
}

// NewHub creates a hub. Zero config values take the defaults.
func NewHub(config HubConfig, logger zerolog.Logger) *Hub {
	def := DefaultHubConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.ConsumerBufferSize <= 0 {
		config.ConsumerBufferSize = def.ConsumerBufferSize
	}
	if config.SlowConsumerDropThreshold == 0 {
		config.SlowConsumerDropThreshold = def.SlowConsumerDropThreshold
	}
	return &Hub{
		config: config,
		logger: logger.With().Str("component", "stream_hub").Logger(),
		inbox:  make(chan models.Tick, config.BufferSize),
		done:   make(chan struct{}),
	}
}

// Register adds a named consumer. Registering after Stop does nothing.
func (h *Hub) Register(name string, c Consumer) {
	reg := &registration{
		name:     name,
		consumer: c,
		queue:    make(chan models.Tick, h.config.ConsumerBufferSize),
	}
	if keys := c.InstrumentKeys(); len(keys) > 0 {
		reg.keys = make(map[string]bool, len(keys))
		for _, k := range keys {
			reg.keys[k] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.consumers = append(h.consumers, reg)
	h.workers.Add(1)
	go func() {
		defer h.workers.Done()
		for tick := range reg.queue {
			reg.consumer.OnTick(tick)
		}
	}()
}

// Start begins distributing published ticks until ctx is done or Stop is
// called. Calling Start again does nothing.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	h.loop.Add(1)
	go func() {
		defer h.loop.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case tick := <-h.inbox:
				h.received.Add(1)
				h.broadcast(tick)
			}
		}
	}()
}

// Publish queues a tick for distribution. It never blocks: when the inbound
// buffer is full the tick is dropped.
func (h *Hub) Publish(tick models.Tick) {
	select {
	case h.inbox <- tick:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) broadcast(tick models.Tick) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, reg := range h.consumers {
		if !reg.wants(tick.InstrumentKey) {
			continue
		}
		select {
		case reg.queue <- tick:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
			if n := reg.dropped.Add(1); n%h.config.SlowConsumerDropThreshold == 1 {
				h.logger.Warn().Str("consumer", reg.name).Uint64("dropped", n).Msg("slow tick consumer")
			}
		}
	}
}

// Stop ends distribution, lets every consumer drain its queue and waits for
// them to finish.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.loop.Wait()

		h.mu.Lock()
		h.stopped = true
		for _, reg := range h.consumers {
			close(reg.queue)
		}
		h.mu.Unlock()

		h.workers.Wait()
		m := h.Metrics()
		h.logger.Debug().
			Uint64("received", m.TicksReceived).
			Uint64("delivered", m.TicksDelivered).
			Uint64("dropped", m.TicksDropped).
			Msg("stream hub stopped")
	})
}

// Close stops the hub.
func (h *Hub) Close() error {
	h.Stop()
	return nil
}

// HubMetrics counts ticks through the hub.
type HubMetrics struct {
	TicksReceived  uint64 `json:"ticks_received"`
	TicksDelivered uint64 `json:"ticks_delivered"`
	TicksDropped   uint64 `json:"ticks_dropped"`
	Consumers      int    `json:"consumers"`
}

// Metrics returns the hub's counters.
func (h *Hub) Metrics() HubMetrics {
	h.mu.RLock()
	n := len(h.consumers)
	h.mu.RUnlock()
	return HubMetrics{
		TicksReceived:  h.received.Load(),
		TicksDelivered: h.delivered.Load(),
		TicksDropped:   h.dropped.Load(),
		Consumers:      n,
	}
}
