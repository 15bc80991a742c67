package security

import (
	"sync"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/google/uuid"
)

// nonceTTL is the replay window named in §4.G ("5-minute nonces").
const nonceTTL = 5 * time.Minute

// sessionTokenTTL is the CSRF/session-token lifetime named in §4.G.
const sessionTokenTTL = 24 * time.Hour

// NonceStore issues and consumes replay-protection nonces exactly once, a
// mutex-guarded set swept by a ticker the same shape as RateLimiter's own
// cleanup loop.
type NonceStore struct {
	mu     sync.Mutex
	issued map[string]time.Time
}

// NewNonceStore creates an empty store and starts its sweep loop.
func NewNonceStore() *NonceStore {
	s := &NonceStore{issued: make(map[string]time.Time)}
	go s.sweepLoop()
	return s
}

// Issue mints a fresh nonce token valid for nonceTTL.
func (s *NonceStore) Issue(now time.Time) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.issued[token] = now.Add(nonceTTL)
	s.mu.Unlock()
	return token
}

// Consume validates and retires token, failing with ReplayDetected on
// reuse or an unknown/expired token.
func (s *NonceStore) Consume(token string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.issued[token]
	if !ok {
		return qnerr.New(qnerr.ReplayDetected, "unknown or already-consumed nonce")
	}
	delete(s.issued, token)
	if now.After(expiry) {
		return qnerr.New(qnerr.ReplayDetected, "nonce expired")
	}
	return nil
}

func (s *NonceStore) sweepLoop() {
	ticker := time.NewTicker(nonceTTL)
	defer ticker.Stop()
	for now := range ticker.C {
		s.mu.Lock()
		for token, expiry := range s.issued {
			if now.After(expiry) {
				delete(s.issued, token)
			}
		}
		s.mu.Unlock()
	}
}

// SessionTokenValid reports whether a session/CSRF token issued at
// issuedAt is still within its sessionTokenTTL lifetime (§4.G).
func SessionTokenValid(issuedAt, now time.Time) bool {
	return now.Sub(issuedAt) <= sessionTokenTTL
}
