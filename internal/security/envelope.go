package security

import (
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
)

// Envelope is the single gatekeeper every externally-originated event
// (RPC ingress, commit/reveal submission, ping response) passes through
// before reaching core state, per §4.G. It composes the RateLimiter,
// NonceStore and Verifier declared alongside it; envelope rejections
// short-circuit with a typed error and never mutate core state.
type Envelope struct {
	cfg       config.Config
	limiter   *RateLimiter
	nonces    *NonceStore
	verifier  *Verifier
	denyList  map[string]struct{}
	allowList map[string]struct{}
}

// NewEnvelope builds the envelope from cfg. An empty allowList means "allow
// everyone not explicitly denied"; a non-empty allowList means "deny
// everyone not explicitly allowed".
func NewEnvelope(cfg config.Config, limiter *RateLimiter, nonces *NonceStore, verifier *Verifier, allow, deny []string) *Envelope {
	e := &Envelope{
		cfg:       cfg,
		limiter:   limiter,
		nonces:    nonces,
		verifier:  verifier,
		denyList:  make(map[string]struct{}, len(deny)),
		allowList: make(map[string]struct{}, len(allow)),
	}
	for _, ip := range deny {
		e.denyList[ip] = struct{}{}
	}
	for _, ip := range allow {
		e.allowList[ip] = struct{}{}
	}
	return e
}

// Admit runs every pre-work check named in §4.G (payload cap, IP allow/deny,
// TLS-required flag, rate limit) ahead of any core mutation. origin is an
// IP for RPC ingress or a node_id string for consensus ingestion.
func (e *Envelope) Admit(origin string, payloadLen int, usedTLS bool, now time.Time) error {
	if e.cfg.PayloadCapBytes > 0 && int64(payloadLen) > e.cfg.PayloadCapBytes {
		return qnerr.Newf(qnerr.QuotaExceeded, "payload exceeds cap of %d bytes", e.cfg.PayloadCapBytes)
	}
	if _, denied := e.denyList[origin]; denied {
		return qnerr.New(qnerr.Blacklisted, "origin is on the deny list")
	}
	if len(e.allowList) > 0 {
		if _, allowed := e.allowList[origin]; !allowed {
			return qnerr.New(qnerr.Blacklisted, "origin is not on the allow list")
		}
	}
	if e.cfg.TLSRequired && !usedTLS {
		return qnerr.New(qnerr.Internal, "TLS is required but the connection is not encrypted")
	}
	if e.limiter != nil {
		if err := e.limiter.Allow(origin, now); err != nil {
			return err
		}
	}
	return nil
}

// VerifySignature delegates to the Verifier using the node's configured
// default algorithm, enforcing hardening-audit-mode: when audit mode is
// on and the algorithm has no concrete verifier, that is a hard failure
// rather than the composition root's usual soft warning.
func (e *Envelope) VerifySignature(message, signature, publicKey []byte, algo Algorithm) (bool, error) {
	if e.cfg.HardeningAuditMode && !e.verifier.Available(algo) {
		return false, ErrAlgorithmUnavailable
	}
	return e.verifier.Verify(message, signature, publicKey, algo)
}

// IssueNonce and ConsumeNonce expose the replay-protection surface.
func (e *Envelope) IssueNonce(now time.Time) string { return e.nonces.Issue(now) }

func (e *Envelope) ConsumeNonce(token string, now time.Time) error {
	return e.nonces.Consume(token, now)
}
