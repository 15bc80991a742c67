// Package security implements the Security Envelope (§4.G): the thin
// gatekeeper every externally-originated event passes through before it
// reaches core state — rate limiting, replay/nonce consumption, the
// polymorphic post-quantum signature surface, and payload/TLS guards.
// Envelope rejections short-circuit with a typed error and never mutate
// core state (§4.G failure semantics).
package security

import (
	"crypto/sha256"
	"sync"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Algorithm names one member of the polymorphic signature surface named in
// the Glossary: "lattice-based signature schemes at three security levels,
// a hash-based signature scheme, and an elliptic-curve signature scheme".
type Algorithm string

const (
	// AlgorithmSecp256k1 is the one algorithm with a concrete verifier
	// backend (btcec/v2) wired up. Every other member is a deployment-time
	// plugin seam (see DESIGN.md).
	AlgorithmSecp256k1  Algorithm = "secp256k1"
	AlgorithmDilithiumL3 Algorithm = "dilithium-l3" // lattice, placeholder
	AlgorithmFalcon512   Algorithm = "falcon-512"    // lattice, placeholder
	AlgorithmSPHINCSPlus Algorithm = "sphincs-plus"  // hash-based, placeholder
)

// ErrAlgorithmUnavailable is returned by Verify for an Algorithm that has
// no concrete verifier registered. The composition root treats this as
// fatal (exit code 4) when it is the node's configured default algorithm
// and no plugin was registered (§6 exit codes).
var ErrAlgorithmUnavailable = qnerr.New(qnerr.Internal, "signature algorithm unavailable")

// Verifier is the single polymorphic surface named in §4.G:
// verify(message, signature, public_key, algorithm).
type Verifier struct {
	mu      sync.RWMutex
	plugins map[Algorithm]func(message, signature, publicKey []byte) (bool, error)
}

// NewVerifier creates a Verifier with the one concrete backend this pack
// can ground (secp256k1, via btcec/v2) already registered.
func NewVerifier() *Verifier {
	v := &Verifier{plugins: make(map[Algorithm]func(message, signature, publicKey []byte) (bool, error))}
	v.Register(AlgorithmSecp256k1, verifySecp256k1)
	return v
}

// Register installs a concrete verifier for algo. Deployments that ship a
// lattice/hash-based PQ backend call this at startup instead of patching
// this package (Design Note: "global singletons → per-component owned
// handles", the plugin table is owned by this Verifier instance, not a
// package-level global).
func (v *Verifier) Register(algo Algorithm, fn func(message, signature, publicKey []byte) (bool, error)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plugins[algo] = fn
}

// Available reports whether algo has a concrete verifier registered.
func (v *Verifier) Available(algo Algorithm) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.plugins[algo]
	return ok
}

// Verify checks signature over message under publicKey using algo.
func (v *Verifier) Verify(message, signature, publicKey []byte, algo Algorithm) (bool, error) {
	v.mu.RLock()
	fn, ok := v.plugins[algo]
	v.mu.RUnlock()
	if !ok {
		return false, ErrAlgorithmUnavailable
	}
	return fn(message, signature, publicKey)
}

func verifySecp256k1(message, signature, publicKey []byte) (bool, error) {
	pub, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return false, qnerr.Newf(qnerr.InvalidSignature, "malformed public key: %v", err)
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false, qnerr.Newf(qnerr.InvalidSignature, "malformed signature: %v", err)
	}
	digest := digestMessage(message)
	return sig.Verify(digest, pub), nil
}

func digestMessage(message []byte) []byte {
	sum := sha256.Sum256(message)
	return sum[:]
}

// NodeKeySource resolves a node's registered public key, so the consensus
// engine's SignatureVerifier adapter (below) never needs to import
// internal/reputation directly.
type NodeKeySource interface {
	PublicKey(nodeID models.NodeID) ([]byte, error)
}

// ConsensusVerifier adapts Verifier to consensus.SignatureVerifier,
// resolving each node's public key through keys and always verifying
// under the node's configured default algorithm.
type ConsensusVerifier struct {
	verifier *Verifier
	keys     NodeKeySource
	algo     Algorithm
}

// NewConsensusVerifier builds the adapter the consensus engine depends on.
func NewConsensusVerifier(verifier *Verifier, keys NodeKeySource, algo Algorithm) *ConsensusVerifier {
	return &ConsensusVerifier{verifier: verifier, keys: keys, algo: algo}
}

// Verify satisfies consensus.SignatureVerifier.
func (c *ConsensusVerifier) Verify(nodeID models.NodeID, message, signature []byte) (bool, error) {
	pub, err := c.keys.PublicKey(nodeID)
	if err != nil {
		return false, err
	}
	return c.verifier.Verify(message, signature, pub, c.algo)
}
