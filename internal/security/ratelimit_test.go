package security

import (
	"testing"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Allow("1.2.3.4", now); err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
	}
	if err := rl.Allow("1.2.3.4", now); !qnerr.Is(err, qnerr.QuotaExceeded) {
		t.Fatalf("expected QuotaExceeded once burst is exhausted, got %v", err)
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Now()
	if err := rl.Allow("5.6.7.8", now); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow("5.6.7.8", now.Add(2*time.Second)); err != nil {
		t.Fatalf("expected a refilled token after 2s at 1 token/sec, got %v", err)
	}
}

func TestRateLimiterBlacklistsRepeatOffenders(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Now()
	if err := rl.Allow("9.9.9.9", now); err != nil {
		t.Fatal(err)
	}
	var last error
	for i := 0; i < 6; i++ {
		last = rl.Allow("9.9.9.9", now)
	}
	if !qnerr.Is(last, qnerr.Blacklisted) {
		t.Fatalf("expected Blacklisted after repeat violations, got %v", last)
	}
	if err := rl.Allow("9.9.9.9", now); !qnerr.Is(err, qnerr.Blacklisted) {
		t.Fatalf("expected origin to remain blacklisted, got %v", err)
	}
}

func TestRateLimiterOriginsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Now()
	if err := rl.Allow("a", now); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow("b", now); err != nil {
		t.Fatalf("a different origin must have its own bucket: %v", err)
	}
}
