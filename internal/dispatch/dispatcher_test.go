package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		MinBatch:         2,
		OptimalBatch:     10,
		MaxBatch:         50,
		MaxConcurrency:   3,
		LatencyThreshold: 10 * time.Millisecond,
		TargetThroughput: 1000,
	}
}

func intItems(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func TestDispatch_AllItemsWritten(t *testing.T) {
	d := New[int](zap.NewNop(), testConfig())

	var mu sync.Mutex
	var written []int
	results := d.Dispatch(context.Background(), intItems(37), func(ctx context.Context, batch []int) error {
		mu.Lock()
		written = append(written, batch...)
		mu.Unlock()
		return nil
	})

	total := 0
	for _, r := range results {
		require.NoError(t, r.Err)
		total += r.Size
	}
	assert.Equal(t, 37, total)
	assert.Len(t, written, 37)
}

func TestDispatch_FailedBatchIsolated(t *testing.T) {
	d := New[int](zap.NewNop(), testConfig())

	var calls int64
	results := d.Dispatch(context.Background(), intItems(30), func(ctx context.Context, batch []int) error {
		if atomic.AddInt64(&calls, 1) == 2 {
			return assert.AnError
		}
		return nil
	})

	require.Len(t, results, 3)
	failed := 0
	succeeded := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, failed, "exactly one batch should fail")
	assert.Equal(t, 2, succeeded, "remaining batches must still run")
}

func TestDispatch_ShrinksOnHighLatency(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 1 // serialize so adaptation applies between batches
	d := New[int](zap.NewNop(), cfg)

	d.Dispatch(context.Background(), intItems(20), func(ctx context.Context, batch []int) error {
		time.Sleep(time.Duration(len(batch)) * 15 * time.Millisecond) // 15ms/item > threshold
		return nil
	})

	assert.Less(t, d.BatchSize(), cfg.OptimalBatch,
		"batch size should shrink when per-item latency exceeds the threshold")
	assert.GreaterOrEqual(t, d.BatchSize(), cfg.MinBatch)
}

func TestDispatch_GrowsWithHeadroom(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	cfg.TargetThroughput = 1e9 // unreachable, so throughput is always below target
	d := New[int](zap.NewNop(), cfg)

	d.Dispatch(context.Background(), intItems(40), func(ctx context.Context, batch []int) error {
		return nil // effectively instant: plenty of latency headroom
	})

	assert.Greater(t, d.BatchSize(), cfg.OptimalBatch,
		"batch size should grow when latency has headroom and throughput is below target")
	assert.LessOrEqual(t, d.BatchSize(), cfg.MaxBatch)
}

func TestDispatch_BatchSizeFloorAndCeiling(t *testing.T) {
	cfg := testConfig()
	d := New[int](zap.NewNop(), cfg)

	for i := 0; i < 100; i++ {
		d.adapt(10, time.Second) // very slow: shrink repeatedly
	}
	assert.Equal(t, cfg.MinBatch, d.BatchSize())

	for i := 0; i < 100; i++ {
		d.adapt(10, time.Nanosecond) // very fast: grow repeatedly
	}
	assert.Equal(t, cfg.MaxBatch, d.BatchSize())
}

func TestDispatch_ConcurrencyBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 2
	cfg.OptimalBatch = 5
	d := New[int](zap.NewNop(), cfg)

	var inFlight, maxInFlight int64
	d.Dispatch(context.Background(), intItems(50), func(ctx context.Context, batch []int) error {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			max := atomic.LoadInt64(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	})

	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(2))
}

func TestDispatch_ResultsOrderedByBatchIndex(t *testing.T) {
	d := New[int](zap.NewNop(), testConfig())

	results := d.Dispatch(context.Background(), intItems(45), func(ctx context.Context, batch []int) error {
		return nil
	})

	for i := 1; i < len(results); i++ {
		assert.Greater(t, results[i].Index, results[i-1].Index)
	}
}

func TestDispatch_EmptyInput(t *testing.T) {
	d := New[int](zap.NewNop(), testConfig())
	results := d.Dispatch(context.Background(), nil, func(ctx context.Context, batch []int) error {
		t.Fatal("write must not be called for empty input")
		return nil
	})
	assert.Empty(t, results)
}
