// Package dispatch pushes aggregated rows to the sink in adaptively sized
// batches. The sink has its own rate limits, so batch size reacts to
// observed latency and batches run with bounded concurrency.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config bounds the adaptive batch sizing.
type Config struct {
	MinBatch     int
	OptimalBatch int
	MaxBatch     int
	// MaxConcurrency limits batches in flight at once.
	MaxConcurrency int
	// LatencyThreshold is the per-item latency above which the next batch
	// shrinks.
	LatencyThreshold time.Duration
	// TargetThroughput in items/sec; when a batch beats it with latency
	// headroom the next batch grows.
	TargetThroughput float64
}

func (c Config) withDefaults() Config {
	if c.MinBatch <= 0 {
		c.MinBatch = 5
	}
	if c.OptimalBatch < c.MinBatch {
		c.OptimalBatch = c.MinBatch * 4
	}
	if c.MaxBatch < c.OptimalBatch {
		c.MaxBatch = c.OptimalBatch * 5
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.LatencyThreshold <= 0 {
		c.LatencyThreshold = 50 * time.Millisecond
	}
	if c.TargetThroughput <= 0 {
		c.TargetThroughput = 100
	}
	return c
}

const (
	shrinkFactor = 0.8
	growFactor   = 1.2
)

// Result reports the outcome of one batch. A failed batch never aborts the
// others.
type Result struct {
	Index   int
	Size    int
	Latency time.Duration
	Err     error
}

// WriteFunc persists one batch of items.
type WriteFunc[T any] func(ctx context.Context, items []T) error

// Dispatcher splits work into batches and adapts the batch size between
// dispatches. Safe for use from a single coordinator goroutine; the internal
// batches it spawns are synchronized.
type Dispatcher[T any] struct {
	logger *zap.Logger
	cfg    Config

	mu        sync.Mutex
	batchSize int
}

func New[T any](logger *zap.Logger, cfg Config) *Dispatcher[T] {
	cfg = cfg.withDefaults()
	return &Dispatcher[T]{
		logger:    logger,
		cfg:       cfg,
		batchSize: cfg.OptimalBatch,
	}
}

// BatchSize returns the size the next batch will be cut at.
func (d *Dispatcher[T]) BatchSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batchSize
}

// Dispatch writes all items through write, batch by batch, with up to
// MaxConcurrency batches in flight. Results arrive in batch order.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, items []T, write WriteFunc[T]) []Result {
	if len(items) == 0 {
		return nil
	}

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results []Result
		sem     = make(chan struct{}, d.cfg.MaxConcurrency)
	)

	index := 0
	for offset := 0; offset < len(items); {
		size := d.BatchSize()
		if offset+size > len(items) {
			size = len(items) - offset
		}
		batch := items[offset : offset+size]
		batchIndex := index
		offset += size
		index++

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			resMu.Lock()
			results = append(results, Result{Index: batchIndex, Size: len(batch), Err: ctx.Err()})
			resMu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			err := write(ctx, batch)
			latency := time.Since(start)

			d.adapt(len(batch), latency)

			if err != nil {
				d.logger.Warn("dispatch.batch_failed",
					zap.Int("batch", batchIndex),
					zap.Int("size", len(batch)),
					zap.Duration("latency", latency),
					zap.Error(err))
			} else {
				d.logger.Debug("dispatch.batch_written",
					zap.Int("batch", batchIndex),
					zap.Int("size", len(batch)),
					zap.Duration("latency", latency))
			}

			resMu.Lock()
			results = append(results, Result{Index: batchIndex, Size: len(batch), Latency: latency, Err: err})
			resMu.Unlock()
		}()
	}

	wg.Wait()

	resMu.Lock()
	defer resMu.Unlock()
	sortResults(results)
	return results
}

// adapt recomputes the next batch size from the completed batch's per-item
// latency and throughput.
func (d *Dispatcher[T]) adapt(size int, latency time.Duration) {
	if size == 0 || latency <= 0 {
		return
	}
	perItem := latency / time.Duration(size)
	throughput := float64(size) / latency.Seconds()

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case perItem > d.cfg.LatencyThreshold:
		next := int(float64(d.batchSize) * shrinkFactor)
		if next < d.cfg.MinBatch {
			next = d.cfg.MinBatch
		}
		d.batchSize = next
	case throughput < d.cfg.TargetThroughput && perItem < d.cfg.LatencyThreshold/2:
		next := int(float64(d.batchSize) * growFactor)
		if next > d.cfg.MaxBatch {
			next = d.cfg.MaxBatch
		}
		d.batchSize = next
	}
}

func sortResults(results []Result) {
	// Insertion sort; batch counts are small.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j-1].Index > results[j].Index; j-- {
			results[j-1], results[j] = results[j], results[j-1]
		}
	}
}
