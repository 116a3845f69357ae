package rate

import (
	"context"
	"sync"
	"time"

	"github.com/sellerpulse/stocksync/internal/apierr"
)

// Config defines rate limiting parameters for one bucket.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// QueueTimeout bounds how long a caller may be queued waiting for a
	// token. A required wait beyond this fails fast with a rate-limit error.
	QueueTimeout time.Duration
	// CooldownFactor multiplies the refill rate down after an upstream
	// throttle signal (0 < factor < 1). Defaults to 0.5.
	CooldownFactor float64
	// RecoveryStep is the fractional rate increase applied per successful
	// request until the nominal rate is restored. Defaults to 0.01.
	RecoveryStep float64
	// DefaultCooldown is the admission-suspension window applied on a
	// throttle signal that carries no retry-after hint.
	DefaultCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.CooldownFactor <= 0 || c.CooldownFactor >= 1 {
		c.CooldownFactor = 0.5
	}
	if c.RecoveryStep <= 0 {
		c.RecoveryStep = 0.01
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = 30 * time.Second
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = 5 * time.Second
	}
	return c
}

// Limiter is a token bucket whose refill rate adapts to upstream throttle
// signals: a 429-equivalent shrinks the rate multiplicatively and opens a
// cooldown window; sustained success restores the rate step by step.
type Limiter struct {
	mu            sync.Mutex
	tokens        float64
	last          time.Time
	rate          float64 // current refill rate, tokens/sec
	nominal       float64 // configured steady-state rate
	minRate       float64
	burst         float64
	cooldownUntil time.Time
	cfg           Config
}

// New creates a limiter with a full bucket.
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		tokens:  float64(cfg.Burst),
		last:    time.Now(),
		rate:    cfg.RequestsPerSecond,
		nominal: cfg.RequestsPerSecond,
		minRate: cfg.RequestsPerSecond * 0.1,
		burst:   float64(cfg.Burst),
		cfg:     cfg,
	}
}

// refill advances the bucket to now. Caller must hold mu.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}

// reserve consumes a token if available, otherwise reports how long the
// caller must wait for one, including any active cooldown window.
func (l *Limiter) reserve(now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(now)

	var wait time.Duration
	if now.Before(l.cooldownUntil) {
		wait = l.cooldownUntil.Sub(now)
	}

	if wait == 0 && l.tokens >= 1 {
		l.tokens -= 1
		return 0, true
	}

	if l.tokens < 1 && l.rate > 0 {
		deficit := (1 - l.tokens) / l.rate
		wait += time.Duration(deficit * float64(time.Second))
	}
	return wait, false
}

// Acquire blocks until a token is granted. It fails with a rate-limit error
// when the projected wait exceeds the configured queue timeout, and with the
// context error on cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.reserve(time.Now())
		if ok {
			return nil
		}
		if wait > l.cfg.QueueTimeout {
			return apierr.Newf(apierr.KindRateLimit,
				"admission queue full: projected wait %s exceeds %s", wait, l.cfg.QueueTimeout)
		}
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return apierr.Wrap(apierr.KindTimeout, ctx.Err(), "rate limit wait canceled")
		}
	}
}

// Throttle reacts to an upstream rate-limit signal: admission is suspended
// until the retry-after hint elapses (or the default cooldown when no hint
// was given) and the refill rate is reduced multiplicatively.
func (l *Limiter) Throttle(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if retryAfter <= 0 {
		retryAfter = l.cfg.DefaultCooldown
	}
	until := time.Now().Add(retryAfter)
	if until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}

	l.rate *= l.cfg.CooldownFactor
	if l.rate < l.minRate {
		l.rate = l.minRate
	}
	l.tokens = 0
}

// OnSuccess nudges a previously reduced refill rate back toward nominal.
func (l *Limiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rate >= l.nominal {
		return
	}
	l.rate *= 1 + l.cfg.RecoveryStep
	if l.rate > l.nominal {
		l.rate = l.nominal
	}
}

// Rate returns the current refill rate (tokens/sec).
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Manager combines one global bucket with per-endpoint buckets; a request is
// admitted only once it has obtained a token from both.
type Manager struct {
	mu        sync.RWMutex
	global    *Limiter
	endpoints map[string]*Limiter
	defaults  Config
	overrides map[string]Config
}

// NewManager creates a manager. global sizes the shared bucket; defaults
// apply to any endpoint without an explicit override.
func NewManager(global, defaults Config, overrides map[string]Config) *Manager {
	return &Manager{
		global:    New(global),
		endpoints: make(map[string]*Limiter),
		defaults:  defaults,
		overrides: overrides,
	}
}

func (m *Manager) limiter(endpoint string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.endpoints[endpoint]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.endpoints[endpoint]; ok {
		return lim
	}
	cfg := m.defaults
	if override, ok := m.overrides[endpoint]; ok {
		cfg = override
	}
	lim := New(cfg)
	m.endpoints[endpoint] = lim
	return lim
}

// Acquire obtains a token from the endpoint bucket and then the global one.
func (m *Manager) Acquire(ctx context.Context, endpoint string) error {
	if err := m.limiter(endpoint).Acquire(ctx); err != nil {
		return err
	}
	return m.global.Acquire(ctx)
}

// Throttle applies an upstream throttle signal to both buckets.
func (m *Manager) Throttle(endpoint string, retryAfter time.Duration) {
	m.limiter(endpoint).Throttle(retryAfter)
	m.global.Throttle(retryAfter)
}

// OnSuccess feeds a successful request back into rate recovery.
func (m *Manager) OnSuccess(endpoint string) {
	m.limiter(endpoint).OnSuccess()
	m.global.OnSuccess()
}
