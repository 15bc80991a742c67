package security

import (
	"testing"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
)

func TestNonceConsumedExactlyOnce(t *testing.T) {
	s := &NonceStore{issued: make(map[string]time.Time)}
	now := time.Now()
	token := s.Issue(now)

	if err := s.Consume(token, now); err != nil {
		t.Fatalf("first consume should succeed: %v", err)
	}
	if err := s.Consume(token, now); !qnerr.Is(err, qnerr.ReplayDetected) {
		t.Fatalf("second consume should be ReplayDetected, got %v", err)
	}
}

func TestNonceExpires(t *testing.T) {
	s := &NonceStore{issued: make(map[string]time.Time)}
	now := time.Now()
	token := s.Issue(now)
	if err := s.Consume(token, now.Add(nonceTTL+time.Second)); !qnerr.Is(err, qnerr.ReplayDetected) {
		t.Fatalf("expected ReplayDetected for expired nonce, got %v", err)
	}
}

func TestSessionTokenValid(t *testing.T) {
	issued := time.Now()
	if !SessionTokenValid(issued, issued.Add(23*time.Hour)) {
		t.Fatal("expected token to still be valid within 24h TTL")
	}
	if SessionTokenValid(issued, issued.Add(25*time.Hour)) {
		t.Fatal("expected token to be expired past 24h TTL")
	}
}
