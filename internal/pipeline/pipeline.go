// Package pipeline implements the three processing pipelines: analyzer,
// crf-searcher, and encoder. Each pairs a producer holding a bounded
// queue with a strictly serial processor behind a rate limit.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/events"
)

// idlePollInterval bounds how long an idle producer sleeps before
// checking the store again without a dispatch signal.
const idlePollInterval = 5 * time.Second

// RateLimit admits at most Messages items to the processor per Interval.
type RateLimit struct {
	Messages int
	Interval time.Duration
}

// Source fetches up to limit work items from the entity store.
type Source[T any] func(ctx context.Context, limit int) ([]T, error)

// Handler processes one item synchronously. Failure handling happens
// inside; the worker only sequences and rate-limits.
type Handler[T any] func(ctx context.Context, item T)

// WorkerConfig shapes one pipeline worker.
type WorkerConfig struct {
	Name        string
	Rate        RateLimit
	QueueSize   int
	PreviewSize int
	IdleTopic   events.Topic
}

// Worker is the shared producer/processor pair.
type Worker[T any] struct {
	cfg      WorkerConfig
	source   Source[T]
	handle   Handler[T]
	describe func(T) string
	bus      *events.Bus
	logger   *slog.Logger

	mu    sync.Mutex
	queue []T

	dispatch chan struct{}
	stop     context.CancelFunc
	done     chan struct{}
	started  bool
	idle     bool
}

// NewWorker creates a pipeline worker. describe renders one queued item
// for queue previews.
func NewWorker[T any](cfg WorkerConfig, source Source[T], handle Handler[T], describe func(T) string, bus *events.Bus, logger *slog.Logger) *Worker[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10
	}
	if cfg.PreviewSize <= 0 {
		cfg.PreviewSize = 5
	}
	return &Worker[T]{
		cfg:      cfg,
		source:   source,
		handle:   handle,
		describe: describe,
		bus:      bus,
		logger:   logger.With(slog.String("pipeline", cfg.Name)),
		dispatch: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the worker loop. Idempotent until Stop.
func (w *Worker[T]) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.stop = cancel
	go w.run(ctx)
	w.logger.Info("pipeline started",
		slog.Int("rate_messages", w.cfg.Rate.Messages),
		slog.Duration("rate_interval", w.cfg.Rate.Interval),
	)
}

// Stop cancels the loop and waits for the in-flight item to finish.
func (w *Worker[T]) Stop() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	w.stop()
	<-w.done
	w.logger.Info("pipeline stopped")
}

// DispatchAvailable signals that new work may exist. Non-blocking;
// coalesces repeated signals.
func (w *Worker[T]) DispatchAvailable() {
	select {
	case w.dispatch <- struct{}{}:
	default:
	}
}

// QueueSnapshot returns the current depth and preview.
func (w *Worker[T]) QueueSnapshot() (int, []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue), w.previewLocked()
}

func (w *Worker[T]) run(ctx context.Context) {
	defer close(w.done)

	tokens := w.cfg.Rate.Messages
	refill := time.NewTicker(w.cfg.Rate.Interval)
	defer refill.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		item, ok := w.pop()
		if !ok {
			if w.refillQueue(ctx) == 0 {
				w.markIdle()
				select {
				case <-ctx.Done():
					return
				case <-w.dispatch:
				case <-time.After(idlePollInterval):
				}
			}
			continue
		}

		// Rate limit: consume one token per message, replenished on the
		// interval tick.
		select {
		case <-refill.C:
			tokens = w.cfg.Rate.Messages
		default:
		}
		for tokens <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-refill.C:
				tokens = w.cfg.Rate.Messages
			}
		}
		tokens--

		w.safeHandle(ctx, item)
	}
}

// safeHandle shields the loop from handler panics. The pipeline never
// crashes; the handler owns failure recording for its video.
func (w *Worker[T]) safeHandle(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("processor panic recovered", slog.Any("panic", r))
		}
	}()
	w.handle(ctx, item)
}

func (w *Worker[T]) pop() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var zero T
	if len(w.queue) == 0 {
		return zero, false
	}
	item := w.queue[0]
	w.queue = w.queue[1:]
	return item, true
}

// refillQueue pulls the next batch from the store and publishes the
// queue update. Returns the number of items fetched.
func (w *Worker[T]) refillQueue(ctx context.Context) int {
	items, err := w.source(ctx, w.cfg.QueueSize)
	if err != nil {
		w.logger.Error("queue refill failed", slog.String("error", err.Error()))
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	w.mu.Lock()
	w.queue = append(w.queue, items...)
	size := len(w.queue)
	preview := w.previewLocked()
	w.idle = false
	w.mu.Unlock()

	w.bus.Publish(events.TopicQueueUpdate, events.QueueUpdate{
		Pipeline:  w.cfg.Name,
		QueueSize: size,
		Next:      preview,
	})
	return len(items)
}

func (w *Worker[T]) previewLocked() []string {
	n := w.cfg.PreviewSize
	if n > len(w.queue) {
		n = len(w.queue)
	}
	preview := make([]string, 0, n)
	for _, item := range w.queue[:n] {
		preview = append(preview, w.describe(item))
	}
	return preview
}

// markIdle publishes the idle event once per idle period.
func (w *Worker[T]) markIdle() {
	w.mu.Lock()
	wasIdle := w.idle
	w.idle = true
	w.mu.Unlock()

	if !wasIdle && w.cfg.IdleTopic != "" {
		w.bus.Publish(w.cfg.IdleTopic, events.QueueUpdate{Pipeline: w.cfg.Name})
	}
}
