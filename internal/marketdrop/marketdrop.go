// Package marketdrop implements the MarketDropDetector: a bounded per-symbol
// ring buffer of price samples that classifies short-term drawdowns into
// none/moderate/severe and publishes alerts over kv.Bus, subject to a
// per-symbol cooldown.
package marketdrop

import (
	"fmt"
	"sync"
	"time"

	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/kv"
	"scalpguard/internal/logger"
)

var log = logger.With("marketdrop")

const ringCapacity = 60

// Config configures drop classification thresholds and cadence.
type Config struct {
	TickInterval     time.Duration
	AlertCooldown    time.Duration
	SampleTolerance  time.Duration
	SevereThreshold  float64 // e.g. -0.05
	ModerateThreshold float64 // e.g. -0.02
	HistoryCap       int
}

func DefaultConfig() Config {
	return Config{
		TickInterval:      10 * time.Second,
		AlertCooldown:     60 * time.Second,
		SampleTolerance:   30 * time.Second,
		SevereThreshold:   -0.05,
		ModerateThreshold: -0.02,
		HistoryCap:        100,
	}
}

type sample struct {
	price     float64
	volume    float64
	timestamp time.Time
}

// PriceSource supplies the current tick for a symbol.
type PriceSource interface {
	CurrentPriceVolume(symbol string) (price, volume float64, err error)
}

// Detector runs one monitoring loop per symbol.
type Detector struct {
	cfg    Config
	clock  clock.Clock
	kv     *kv.Store
	bus    *kv.Bus
	prices PriceSource

	mu          sync.Mutex
	buffers     map[string]*ringBuffer
	lastAlertAt map[string]time.Time
}

func New(cfg Config, cl clock.Clock, store *kv.Store, bus *kv.Bus, prices PriceSource) *Detector {
	return &Detector{
		cfg: cfg, clock: cl, kv: store, bus: bus, prices: prices,
		buffers:     make(map[string]*ringBuffer),
		lastAlertAt: make(map[string]time.Time),
	}
}

// Run starts one goroutine per symbol in symbols, stopping when stop is
// closed.
func (d *Detector) Run(symbols []string, stop <-chan struct{}) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			d.loop(symbol, stop)
		}(symbol)
	}
	return &wg
}

func (d *Detector) loop(symbol string, stop <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.tick(symbol); err != nil {
				log.Warnf("tick %s: %v", symbol, err)
			}
		case <-stop:
			return
		}
	}
}

func (d *Detector) buffer(symbol string) *ringBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	rb, ok := d.buffers[symbol]
	if !ok {
		rb = newRingBuffer(ringCapacity)
		d.buffers[symbol] = rb
	}
	return rb
}

// tick appends the latest sample, computes the 1/3/5-minute returns and
// velocity, classifies the drop level, writes the MarketCondition to
// KVStore and, subject to cooldown, publishes a DropAlert.
func (d *Detector) tick(symbol string) error {
	price, volume, err := d.prices.CurrentPriceVolume(symbol)
	if err != nil {
		return fmt.Errorf("marketdrop: price for %s: %w", symbol, err)
	}
	now := d.clock.Now()
	rb := d.buffer(symbol)
	rb.append(sample{price: price, volume: volume, timestamp: now})

	change1m, ok1 := rb.changeSince(now, 60*time.Second, d.cfg.SampleTolerance)
	change3m, ok3 := rb.changeSince(now, 180*time.Second, d.cfg.SampleTolerance)
	change5m, ok5 := rb.changeSince(now, 300*time.Second, d.cfg.SampleTolerance)

	var velocity float64
	if ok1 {
		velocity = change1m / 60
	}

	level := classify(change1m, ok1, change3m, ok3, change5m, ok5, d.cfg)

	cond := domain.MarketCondition{
		Symbol: symbol, CurrentPrice: price,
		PriceChange1m: change1m, PriceChange3m: change3m, PriceChange5m: change5m,
		Velocity: velocity, DropLevel: level, Timestamp: now,
	}
	if err := d.kv.Set(kv.MarketConditionKey(symbol), cond, 60*time.Second); err != nil {
		return fmt.Errorf("marketdrop: write condition %s: %w", symbol, err)
	}

	if level == domain.DropNone {
		return nil
	}
	return d.maybeAlert(symbol, cond, now)
}

func (d *Detector) maybeAlert(symbol string, cond domain.MarketCondition, now time.Time) error {
	d.mu.Lock()
	last, seen := d.lastAlertAt[symbol]
	if seen && now.Sub(last) < d.cfg.AlertCooldown {
		d.mu.Unlock()
		return nil
	}
	d.lastAlertAt[symbol] = now
	d.mu.Unlock()

	alert := domain.DropAlert{Symbol: symbol, DropLevel: cond.DropLevel, Condition: cond, Timestamp: now}
	if err := d.kv.ZAdd(kv.DropAlertsSet(symbol), encodeAlert(alert), float64(now.UnixNano())); err != nil {
		return fmt.Errorf("marketdrop: record alert history %s: %w", symbol, err)
	}
	if err := d.kv.ZRangeCapped(kv.DropAlertsSet(symbol), d.cfg.HistoryCap); err != nil {
		log.Warnf("cap alert history %s: %v", symbol, err)
	}
	d.bus.Publish(kv.ChannelMarketDrops, alert)
	if cond.DropLevel == domain.DropSevere {
		d.bus.Publish(kv.ChannelDropDetected, alert)
	}
	log.Warnf("drop alert %s: level=%s 1m=%.3f%% 3m=%.3f%% 5m=%.3f%%", symbol, cond.DropLevel, cond.PriceChange1m*100, cond.PriceChange3m*100, cond.PriceChange5m*100)
	return nil
}

func classify(c1 float64, ok1 bool, c3 float64, ok3 bool, c5 float64, ok5 bool, cfg Config) domain.DropLevel {
	if (ok3 && c3 <= cfg.SevereThreshold) || (ok5 && c5 <= cfg.SevereThreshold) {
		return domain.DropSevere
	}
	if (ok1 && c1 <= cfg.ModerateThreshold) || (ok3 && c3 <= cfg.ModerateThreshold) {
		return domain.DropModerate
	}
	return domain.DropNone
}

func encodeAlert(a domain.DropAlert) string {
	return fmt.Sprintf("%s|%d", a.Symbol, a.Timestamp.UnixNano())
}
