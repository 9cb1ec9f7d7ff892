// Package ratelimit throttles inbound realtime events with one token bucket
// per key, normally a user id.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a Limiter. A non-positive Rate disables limiting.
type Config struct {
	// Rate is the sustained number of events allowed per second.
	Rate float64
	// Burst is the bucket size. Zero means twice the rate, at least one.
	Burst int

	// MaxKeys bounds the bucket map; idle buckets are pruned past it.
	MaxKeys int
	Now     func() time.Time
}

// Bucket is a token bucket. It is safe for concurrent use.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	max        float64
	rate       float64
	lastRefill time.Time
	now        func() time.Time
}

func newBucket(rate, burst float64, now func() time.Time) *Bucket {
	return &Bucket{tokens: burst, max: burst, rate: rate, lastRefill: now(), now: now}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *Bucket) idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens >= b.max
}

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
}

// Limiter holds one bucket per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	rate    float64
	burst   float64
	maxKeys int
	now     func() time.Time
}

// New builds a limiter. It returns nil when cfg disables limiting; a nil
// Limiter allows everything.
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.Rate * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		buckets: make(map[string]*Bucket),
		rate:    cfg.Rate,
		burst:   float64(cfg.Burst),
		maxKeys: cfg.MaxKeys,
		now:     cfg.Now,
	}
}

// Allow reports whether key may send one more event now.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= l.maxKeys {
		l.pruneLocked()
	}
	b := newBucket(l.rate, l.burst, l.now)
	l.buckets[key] = b
	return b
}

// pruneLocked drops buckets that have refilled completely.
func (l *Limiter) pruneLocked() {
	for key, b := range l.buckets {
		if b.idle() {
			delete(l.buckets, key)
		}
	}
}

// Forget drops the bucket for key, typically when its last connection
// closes.
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
