// Package ratelimit implements a fixed-window request limiter keyed by scope
// and caller.
package ratelimit

import (
	"sync"
	"time"
)

type Scope string

const (
	ScopeRead   Scope = "read"
	ScopeWrite  Scope = "write"
	ScopeUpload Scope = "upload"
)

type BucketKind string

const (
	BucketIP    BucketKind = "ip"
	BucketToken BucketKind = "token"
)

// Limits caps requests per window for one scope. Zero disables the cap.
type Limits struct {
	PerIP    int
	PerToken int
}

type Config struct {
	Window time.Duration
	Scopes map[Scope]Limits
	// MaxEntries triggers a sweep of expired windows once exceeded.
	MaxEntries int
}

func DefaultConfig() Config {
	return Config{
		Window: time.Minute,
		Scopes: map[Scope]Limits{
			ScopeRead:   {PerIP: 120, PerToken: 600},
			ScopeWrite:  {PerIP: 30, PerToken: 120},
			ScopeUpload: {PerIP: 10, PerToken: 60},
		},
		MaxEntries: 100000,
	}
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type key struct {
	scope  Scope
	kind   BucketKind
	bucket string
}

type window struct {
	start time.Time
	count int
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	windows map[key]window
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	return &Limiter{
		cfg:     cfg,
		windows: make(map[key]window, 1024),
	}
}

// Take counts one request for bucket and reports whether it fits the window.
func (l *Limiter) Take(now time.Time, scope Scope, kind BucketKind, bucket string) Result {
	limit := l.limit(scope, kind)
	start := now.Truncate(l.cfg.Window)
	resetAt := start.Add(l.cfg.Window)
	if limit <= 0 {
		return Result{Allowed: true, ResetAt: resetAt}
	}

	k := key{scope: scope, kind: kind, bucket: bucket}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[k]
	if !ok || !w.start.Equal(start) {
		w = window{start: start}
	}
	allowed := w.count < limit
	if allowed {
		w.count++
	}
	l.windows[k] = w

	if len(l.windows) > l.cfg.MaxEntries {
		l.sweep(start)
	}

	return Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  max(limit-w.count, 0),
		ResetAt:    resetAt,
		RetryAfter: max(resetAt.Sub(now), 0),
	}
}

func (l *Limiter) limit(scope Scope, kind BucketKind) int {
	limits, ok := l.cfg.Scopes[scope]
	if !ok {
		return 0
	}
	if kind == BucketToken {
		return limits.PerToken
	}
	return limits.PerIP
}

// sweep drops windows that ended before current.
func (l *Limiter) sweep(current time.Time) {
	for k, w := range l.windows {
		if w.start.Before(current) {
			delete(l.windows, k)
		}
	}
}
