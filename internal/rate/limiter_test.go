package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sellerpulse/stocksync/internal/apierr"
)

func testConfig(rps float64, burst int) Config {
	return Config{
		RequestsPerSecond: rps,
		Burst:             burst,
		QueueTimeout:      5 * time.Second,
	}
}

func TestLimiter_BurstThenQueue(t *testing.T) {
	lim := New(testConfig(100, 3))

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := lim.Acquire(ctx); err != nil {
			t.Fatalf("burst acquire %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("burst acquires should be immediate, took %v", elapsed)
	}
}

func TestLimiter_FiveCallsAtTwoPerSecond(t *testing.T) {
	// 2 rps, burst 2: calls 1-2 immediate, calls 3-5 queued. The 4th and
	// 5th calls together must wait at least one full second.
	lim := New(testConfig(2, 2))
	ctx := context.Background()

	var waits []time.Duration
	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := lim.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		waits = append(waits, time.Since(start))
	}

	combined := waits[3] + waits[4]
	if combined < 1*time.Second {
		t.Errorf("4th+5th acquires waited %v combined, want >= 1s (waits: %v)", combined, waits)
	}
}

func TestLimiter_QueueTimeoutRejects(t *testing.T) {
	lim := New(Config{
		RequestsPerSecond: 0.1, // one token per 10s
		Burst:             1,
		QueueTimeout:      200 * time.Millisecond,
	})
	ctx := context.Background()

	if err := lim.Acquire(ctx); err != nil {
		t.Fatalf("first acquire should drain the burst token: %v", err)
	}

	err := lim.Acquire(ctx)
	if err == nil {
		t.Fatal("expected queue timeout rejection")
	}
	if !apierr.Is(err, apierr.KindRateLimit) {
		t.Errorf("expected rate_limit kind, got %v", err)
	}
}

func TestLimiter_AcquireContextCanceled(t *testing.T) {
	lim := New(testConfig(1, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	lim.Acquire(context.Background()) // drain

	err := lim.Acquire(ctx)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if !apierr.Is(err, apierr.KindTimeout) {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestLimiter_ThrottleReducesRate(t *testing.T) {
	lim := New(testConfig(10, 5))

	before := lim.Rate()
	lim.Throttle(0)
	after := lim.Rate()

	if after >= before {
		t.Errorf("throttle should reduce rate: before=%v after=%v", before, after)
	}
	if after < before*0.1 {
		t.Errorf("rate should not collapse below the floor: %v", after)
	}
}

func TestLimiter_ThrottleOpensCooldownWindow(t *testing.T) {
	lim := New(testConfig(1000, 100))
	lim.Throttle(150 * time.Millisecond)

	wait, ok := lim.reserve(time.Now())
	if ok {
		t.Fatal("expected admission suspended during cooldown")
	}
	if wait < 50*time.Millisecond {
		t.Errorf("cooldown wait too short: %v", wait)
	}

	// After the window elapses admission resumes.
	wait, ok = lim.reserve(time.Now().Add(300 * time.Millisecond))
	if !ok {
		t.Errorf("expected admission after cooldown, still waiting %v", wait)
	}
}

func TestLimiter_SuccessRestoresRate(t *testing.T) {
	lim := New(testConfig(10, 5))
	lim.Throttle(0)
	reduced := lim.Rate()

	for i := 0; i < 500; i++ {
		lim.OnSuccess()
	}

	restored := lim.Rate()
	if restored <= reduced {
		t.Errorf("rate should recover on success: reduced=%v restored=%v", reduced, restored)
	}
	if restored > 10 {
		t.Errorf("rate must not overshoot nominal: %v", restored)
	}
}

func TestLimiter_ConcurrentAcquire(t *testing.T) {
	lim := New(testConfig(1000, 50))

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- lim.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent acquire failed: %v", err)
		}
	}
}

func TestManager_EndpointIsolation(t *testing.T) {
	mgr := NewManager(testConfig(1000, 1000), testConfig(1000, 2), nil)
	ctx := context.Background()

	// Drain the "orders" endpoint bucket.
	if err := mgr.Acquire(ctx, "orders"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Acquire(ctx, "orders"); err != nil {
		t.Fatal(err)
	}

	// A different endpoint still has its own burst.
	start := time.Now()
	if err := mgr.Acquire(ctx, "report"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("independent endpoint should not be blocked, waited %v", elapsed)
	}
}

func TestManager_GlobalBucketCapsAllEndpoints(t *testing.T) {
	// Global burst of 2 with generous per-endpoint buckets: the third
	// acquire must queue regardless of endpoint.
	mgr := NewManager(Config{RequestsPerSecond: 2, Burst: 2, QueueTimeout: 5 * time.Second},
		testConfig(1000, 100), nil)
	ctx := context.Background()

	mgr.Acquire(ctx, "a")
	mgr.Acquire(ctx, "b")

	start := time.Now()
	if err := mgr.Acquire(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("third acquire should queue on the global bucket, waited only %v", elapsed)
	}
}

func TestManager_OverrideApplies(t *testing.T) {
	overrides := map[string]Config{
		"report": {RequestsPerSecond: 1, Burst: 1, QueueTimeout: 50 * time.Millisecond},
	}
	mgr := NewManager(testConfig(1000, 1000), testConfig(1000, 1000), overrides)
	ctx := context.Background()

	if err := mgr.Acquire(ctx, "report"); err != nil {
		t.Fatal(err)
	}
	err := mgr.Acquire(ctx, "report")
	if err == nil {
		t.Fatal("expected override queue timeout to reject")
	}
}

func TestManager_SameLimiterForSameEndpoint(t *testing.T) {
	mgr := NewManager(testConfig(10, 5), testConfig(10, 5), nil)

	var wg sync.WaitGroup
	limiters := make([]*Limiter, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			limiters[idx] = mgr.limiter("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < 20; i++ {
		if limiters[i] != limiters[0] {
			t.Fatalf("limiter at index %d differs from index 0", i)
		}
	}
}
