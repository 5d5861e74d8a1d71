package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

type recorder struct {
	keys []string

	mu    sync.Mutex
	ticks []models.Tick
}

func (r *recorder) OnTick(t models.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, t)
}

func (r *recorder) InstrumentKeys() []string { return r.keys }

func (r *recorder) got() []models.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Tick(nil), r.ticks...)
}

func tick(key string, price float64, at time.Time) models.Tick {
	return models.Tick{InstrumentKey: key, LastPrice: price, DayVolume: 1000, Timestamp: at}
}

// publishAll publishes ticks back to back.
func publishAll(h *Hub, ticks []models.Tick) {
	for _, t := range ticks {
		h.Publish(t)
	}
}

func TestHubDeliversInOrderAndFilters(t *testing.T) {
	h := NewHub(HubConfig{}, zerolog.Nop())
	all := &recorder{}
	infy := &recorder{keys: []string{"NSE:INFY"}}
	h.Register("all", all)
	h.Register("infy", infy)
	h.Start(context.Background())

	base := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)
	publishAll(h, []models.Tick{
		tick("NSE:INFY", 1500, base),
		tick("NSE:TCS", 3500, base),
		tick("NSE:INFY", 1501, base.Add(time.Second)),
		tick("NSE:INFY", 1502, base.Add(2*time.Second)),
	})
	time.Sleep(50 * time.Millisecond)
	h.Stop()

	if n := len(all.got()); n != 4 {
		t.Errorf("unfiltered consumer got %d ticks, want 4", n)
	}
	got := infy.got()
	if len(got) != 3 {
		t.Fatalf("filtered consumer got %d ticks, want 3", len(got))
	}
	for i, want := range []float64{1500, 1501, 1502} {
		if got[i].LastPrice != want {
			t.Errorf("tick %d price = %v, want %v", i, got[i].LastPrice, want)
		}
	}
	m := h.Metrics()
	if m.TicksReceived != 4 || m.TicksDelivered != 7 || m.Consumers != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestHubStopIsIdempotent(t *testing.T) {
	h := NewHub(DefaultHubConfig(), zerolog.Nop())
	h.Register("noop", NewConsumerFunc(nil, nil))
	h.Start(context.Background())
	h.Stop()
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	h.Register("late", &recorder{})
	if m := h.Metrics(); m.Consumers != 1 {
		t.Errorf("consumers after stop = %d, want 1", m.Consumers)
	}
	h.Publish(tick("NSE:INFY", 1, time.Now()))
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	h := NewHub(HubConfig{ConsumerBufferSize: 4}, zerolog.Nop())
	release := make(chan struct{})
	h.Register("slow", NewConsumerFunc(nil, func(models.Tick) { <-release }))
	fast := &recorder{}
	h.Register("fast", fast)
	h.Start(context.Background())

	for i := 0; i < 20; i++ {
		h.Publish(tick("NSE:INFY", float64(100+i), time.Now()))
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	h.Stop()

	if n := len(fast.got()); n != 20 {
		t.Errorf("fast consumer got %d ticks, want 20", n)
	}
	if h.Metrics().TicksDropped == 0 {
		t.Error("slow consumer should have dropped ticks")
	}
}

func TestLastPrices(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	p := NewLastPrices(time.Minute)
	p.now = func() time.Time { return now }

	p.OnTick(tick("NSE:INFY", 1500.456, now.Add(-10*time.Second)))
	p.OnTick(tick("NSE:INFY", 1400, now.Add(-20*time.Second)))
	p.OnTick(tick("NSE:TCS", 3500, now.Add(-2*time.Minute)))
	p.OnTick(tick("NSE:SBIN", 0, now))

	price, err := p.CurrentPrice(context.Background(), "NSE:INFY")
	if err != nil {
		t.Fatal(err)
	}
	if !price.Equal(decimal.RequireFromString("1500.46")) {
		t.Errorf("INFY = %s, want the newer tick rounded to 1500.46", price)
	}

	for _, key := range []string{"NSE:TCS", "NSE:SBIN"} {
		if _, err := p.CurrentPrice(context.Background(), key); !errors.Is(err, apperrors.ErrPriceUnavailable) {
			t.Errorf("%s err = %v, want ErrPriceUnavailable", key, err)
		}
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
}

// TestProperty_LastPriceIsNewestTick verifies the feed serves the tick with
// the latest timestamp regardless of arrival order.
func TestProperty_LastPriceIsNewestTick(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	base := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)

	properties.Property("newest timestamp wins", prop.ForAll(
		func(offsets []int) bool {
			p := NewLastPrices(0)
			newest := -1
			for _, off := range offsets {
				p.OnTick(tick("NSE:INFY", float64(100+off), base.Add(time.Duration(off)*time.Second)))
				if off > newest {
					newest = off
				}
			}
			price, err := p.CurrentPrice(context.Background(), "NSE:INFY")
			return err == nil && price.Equal(decimal.NewFromInt(int64(100+newest)))
		},
		gen.SliceOfN(10, gen.IntRange(0, 3600)),
	))

	properties.TestingRun(t)
}
