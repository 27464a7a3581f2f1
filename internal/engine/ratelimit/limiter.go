package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"flock/internal/platform/config"
)

// Result is the admission decision for one request.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	TotalHits  int
	RetryAfter int // seconds until the window resets; only meaningful when rejected
}

// Options fixes the window for one endpoint class.
type Options struct {
	Class       string
	MaxRequests int
	Window      time.Duration

	// KeyFunc maps a request to a storage key. Defaults to
	// class + ":" + client IP.
	KeyFunc func(r *http.Request) string

	// OnLimitExceeded fires on every rejection, for logging/alerting.
	OnLimitExceeded func(key string, r *http.Request)
}

// Limiter admits or rejects requests against a sliding window of prior
// admitted hits. Rejected requests do not consume a slot: only allowed
// requests persist their hit timestamp. That means a client probing at
// the rejection boundary never pushes its own window further out; the
// window drains purely by time.
type Limiter struct {
	store Store
	opts  Options
	now   func() time.Time

	// One in-flight check per key: the read-modify-write against the
	// store must not interleave, or concurrent requests all read the
	// same history and a burst slips past the limit. The store itself
	// cannot serialize this when it sits across a network round trip.
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

func New(store Store, opts Options) *Limiter {
	l := &Limiter{store: store, opts: opts, now: time.Now, keyLocks: make(map[string]*sync.Mutex)}
	if l.opts.KeyFunc == nil {
		l.opts.KeyFunc = func(r *http.Request) string {
			return l.opts.Class + ":" + ClientIP(r)
		}
	}
	return l
}

func (l *Limiter) Class() string         { return l.opts.Class }
func (l *Limiter) Limit() int            { return l.opts.MaxRequests }
func (l *Limiter) Window() time.Duration { return l.opts.Window }

// Check decides admission for one request.
func (l *Limiter) Check(ctx context.Context, r *http.Request) (Result, error) {
	key := l.opts.KeyFunc(r)

	res, err := l.CheckKey(ctx, key)
	if err != nil {
		return res, err
	}

	if !res.Allowed && l.opts.OnLimitExceeded != nil {
		l.opts.OnLimitExceeded(key, r)
	}
	return res, nil
}

// CheckKey runs the sliding-window algorithm for an already-derived
// key. Deterministic given the stored history and the fixed
// window/max configuration.
func (l *Limiter) CheckKey(ctx context.Context, key string) (Result, error) {
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := l.now().UnixMilli()
	windowMs := l.opts.Window.Milliseconds()

	stored, err := l.store.Hits(ctx, key)
	if err != nil {
		// Storage failure fails open: blocking all traffic on a dead
		// Redis would be worse than briefly not limiting it.
		return Result{Allowed: true, Remaining: l.opts.MaxRequests - 1, ResetTime: time.UnixMilli(now + windowMs), TotalHits: 1}, err
	}

	cutoff := now - windowMs
	valid := stored[:0]
	for _, ts := range stored {
		if ts >= cutoff {
			valid = append(valid, ts)
		}
	}
	valid = append(valid, now)

	total := len(valid)
	allowed := total <= l.opts.MaxRequests

	if allowed {
		if err := l.store.SetHits(ctx, key, valid, l.opts.Window); err != nil {
			return Result{Allowed: true, Remaining: l.opts.MaxRequests - total, ResetTime: time.UnixMilli(valid[0] + windowMs), TotalHits: total}, err
		}
	}

	remaining := l.opts.MaxRequests - total
	if remaining < 0 {
		remaining = 0
	}

	reset := time.UnixMilli(valid[0] + windowMs)
	retryAfter := 0
	if !allowed {
		retryAfter = int((time.Until(reset) + time.Second - 1) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
	}

	return Result{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetTime:  reset,
		TotalHits:  total,
		RetryAfter: retryAfter,
	}, nil
}

func (l *Limiter) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.keyLocks[key] = lock
	}
	return lock
}

// ClientIP resolves the caller identity from proxy headers, in priority
// order, falling back to the transport address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// DefaultClasses returns the limiter configuration per endpoint class,
// applying config overrides on top of the built-in defaults.
func DefaultClasses(cfg config.RateLimitConfig) map[string]Options {
	classes := map[string]Options{
		"auth":      {Class: "auth", MaxRequests: 5, Window: 15 * time.Minute},
		"api":       {Class: "api", MaxRequests: 100, Window: 15 * time.Minute},
		"dashboard": {Class: "dashboard", MaxRequests: 60, Window: time.Minute},
		"upload":    {Class: "upload", MaxRequests: 10, Window: time.Hour},
		"reports":   {Class: "reports", MaxRequests: 20, Window: 5 * time.Minute},
	}

	overrides := map[string]config.RateLimitClass{
		"auth":      cfg.Auth,
		"api":       cfg.API,
		"dashboard": cfg.Dashboard,
		"upload":    cfg.Upload,
		"reports":   cfg.Reports,
	}
	for class, o := range overrides {
		opts := classes[class]
		if o.MaxRequests > 0 {
			opts.MaxRequests = o.MaxRequests
		}
		if o.Window > 0 {
			opts.Window = o.Window
		}
		classes[class] = opts
	}

	return classes
}
