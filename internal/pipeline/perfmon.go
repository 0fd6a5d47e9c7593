package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/events"
)

// perfWindow is how far back throughput samples count.
const perfWindow = 2 * time.Minute

// perfEmitInterval is how often the monitor publishes its summary.
const perfEmitInterval = 30 * time.Second

type throughputSample struct {
	at    time.Time
	value float64 // videos per second
}

// PerfMonitor keeps a rolling throughput window for the analyzer and
// holds the operator-adjustable rate limit and batch size. Automatic
// adjustment is disabled; only the manual override endpoints move the
// values, clamped to the configured bounds.
type PerfMonitor struct {
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.Mutex
	samples   []throughputSample
	rateLimit int
	batchSize int

	stop chan struct{}
	done chan struct{}
}

// NewPerfMonitor creates a monitor seeded with the configured defaults.
func NewPerfMonitor(rateLimit, batchSize int, bus *events.Bus, logger *slog.Logger) *PerfMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PerfMonitor{
		bus:       bus,
		logger:    logger.With(slog.String("component", "perf_monitor")),
		rateLimit: rateLimit,
		batchSize: batchSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the periodic summary emitter.
func (p *PerfMonitor) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(perfEmitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				p.emit()
			}
		}
	}()
}

// Stop halts the emitter.
func (p *PerfMonitor) Stop() {
	close(p.stop)
	<-p.done
}

// Record adds one completed-batch sample.
func (p *PerfMonitor) Record(videos int, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, throughputSample{
		at:    time.Now(),
		value: float64(videos) / elapsed.Seconds(),
	})
	p.pruneLocked()
}

// Average returns the mean throughput over the window.
func (p *PerfMonitor) Average() (float64, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	if len(p.samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range p.samples {
		sum += s.value
	}
	return sum / float64(len(p.samples)), len(p.samples)
}

// RateLimit returns the current admitted messages per interval.
func (p *PerfMonitor) RateLimit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rateLimit
}

// BatchSize returns the current mediainfo batch size.
func (p *PerfMonitor) BatchSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batchSize
}

// SetOverrides applies a manual (rate_limit, batch_size) override,
// clamping out-of-bounds values to the configured limits. Returns the
// values actually applied.
func (p *PerfMonitor) SetOverrides(rateLimit, batchSize int) (int, int) {
	rateLimit = clamp(rateLimit, config.MinAnalyzerRateLimit, config.MaxAnalyzerRateLimit)
	batchSize = clamp(batchSize, config.MinMediainfoBatch, config.MaxMediainfoBatch)

	p.mu.Lock()
	p.rateLimit = rateLimit
	p.batchSize = batchSize
	p.mu.Unlock()

	p.logger.Info("analyzer overrides applied",
		slog.Int("rate_limit", rateLimit),
		slog.Int("batch_size", batchSize),
	)
	return rateLimit, batchSize
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (p *PerfMonitor) pruneLocked() {
	cutoff := time.Now().Add(-perfWindow)
	kept := p.samples[:0]
	for _, s := range p.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	p.samples = kept
}

func (p *PerfMonitor) emit() {
	average, count := p.Average()
	p.bus.Publish(events.TopicAnalyzerThroughput, events.AnalyzerThroughput{
		AverageThroughput: average,
		WindowSamples:     count,
		RateLimit:         p.RateLimit(),
		BatchSize:         p.BatchSize(),
	})
}
