package security

import (
	"sync"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
)

const cleanupIdleDuration = 10 * time.Minute

// blacklistCapDuration bounds the exponential backoff applied to repeat
// offenders (§4.G: "blacklisted with exponential backoff (capped at 24h)").
const blacklistCapDuration = 24 * time.Hour

type originBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastSeen   time.Time
	violations int
	bannedUntil time.Time
}

// RateLimiter is a per-origin token bucket: an "origin" is an IP for RPC
// ingress or a node_id for consensus commit/reveal ingestion, so the same
// primitive serves both the HTTP layer and the internal ingestion path
// (§4.G).
type RateLimiter struct {
	rate  float64 // tokens added per second
	burst float64

	mu      sync.Mutex
	buckets map[string]*originBucket
}

// NewRateLimiter creates a limiter allowing ratePerMin requests per minute
// per origin, with a burst capacity of burst requests.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		buckets: make(map[string]*originBucket),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether origin may proceed now, per §4.G's token-bucket +
// blacklist-with-backoff policy. On rejection it returns the typed error
// the caller should surface unchanged (Blacklisted or QuotaExceeded).
func (rl *RateLimiter) Allow(origin string, now time.Time) error {
	rl.mu.Lock()
	bucket, ok := rl.buckets[origin]
	if !ok {
		bucket = &originBucket{tokens: rl.burst}
		rl.buckets[origin] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if now.Before(bucket.bannedUntil) {
		return qnerr.Newf(qnerr.Blacklisted, "origin blacklisted until %s", bucket.bannedUntil).
			WithFields(map[string]any{"until": bucket.bannedUntil})
	}

	elapsed := now.Sub(bucket.lastSeen).Seconds()
	if elapsed > 0 {
		bucket.tokens += elapsed * rl.rate
		if bucket.tokens > rl.burst {
			bucket.tokens = rl.burst
		}
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		if bucket.violations > 0 {
			bucket.violations--
		}
		return nil
	}

	bucket.violations++
	// Backoff doubles per outstanding violation: 1, 2, 4, ... minutes,
	// capped at blacklistCapDuration.
	backoff := blacklistCapDuration
	if shift := bucket.violations - 1; shift < 11 {
		backoff = time.Minute << uint(shift)
	}
	if bucket.violations >= 5 {
		bucket.bannedUntil = now.Add(backoff)
		return qnerr.Newf(qnerr.Blacklisted, "origin blacklisted for %s after repeat violations", backoff).
			WithFields(map[string]any{"backoff": backoff.String()})
	}
	return qnerr.New(qnerr.QuotaExceeded, "rate limit exceeded")
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for origin, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff) && time.Now().After(b.bannedUntil)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, origin)
			}
		}
		rl.mu.Unlock()
	}
}
