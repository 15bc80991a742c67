// Package reputation implements spec §4.A and also owns the single
// indexed NodeRecord registry referenced throughout §3/§5 ("NodeRecords
// live in a single indexed registry owned by A" / "NodeRegistry is read
// by C, D, F and written only by A"). Every other component reads node
// state through this package and requests mutations via its methods —
// none holds the underlying map. A mutex-guarded map keyed by node ID,
// with an owned channel for surfacing ban requests to callers.
package reputation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

const (
	minScore        = 0.0
	maxScore        = 100.0
	initialScore    = 50.0
	decayBaseline   = 50.0
	banScoreTrigger = 10.0
)

// EventDeltas is the constants table of reputation deltas per event kind,
// ported from the original source's consensus module rather than left
// inline, so ops can audit/tune them independently of the scoring code.
var EventDeltas = map[models.EventKind]float64{
	models.EventParticipatedCommit: +0.5,
	models.EventParticipatedReveal: +1.0,
	models.EventMissedPing:         -2.0,
	models.EventMissedLeader:       -3.0,
	models.EventAttackDetected:     -40.0,
	models.EventDoubleSign:         -100.0,
	models.EventSpam:               -15.0,
}

type entry struct {
	record models.NodeRecord
	seen   map[string]struct{} // applied event IDs, for idempotency
}

// ScoreStore persists a node's reputation score and appends one event to
// its durable audit trail. A nil store (the default) keeps the registry
// in-memory-only, the shape the unit tests exercise; the composition root
// installs a real one via SetStore.
type ScoreStore interface {
	SaveReputationScore(ctx context.Context, nodeID models.NodeID, score float64, ev models.Event) error
}

// Registry is the node registry + reputation store.
type Registry struct {
	mu    sync.Mutex
	nodes map[models.NodeID]*entry

	banRequests chan models.BanRequest
	store       ScoreStore
}

// New creates an empty registry. banRequestBuffer sizes the channel the
// composition root drains and forwards to the Reward Pool Engine.
func New(banRequestBuffer int) *Registry {
	if banRequestBuffer <= 0 {
		banRequestBuffer = 128
	}
	return &Registry{
		nodes:       make(map[models.NodeID]*entry),
		banRequests: make(chan models.BanRequest, banRequestBuffer),
	}
}

// SetStore installs the durable reputation store; nil (the default) keeps
// the registry in-memory-only, which is what the unit tests exercise.
func (r *Registry) SetStore(store ScoreStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// BanRequests returns the channel of surfaced ban requests.
func (r *Registry) BanRequests() <-chan models.BanRequest {
	return r.banRequests
}

// CreateNode registers a brand-new NodeRecord, called by the Phase &
// Activation Ledger once record_activation succeeds. It is a no-op if the
// node already exists (defensive against replayed activation processing).
func (r *Registry) CreateNode(nodeID models.NodeID, nodeType models.NodeType, owner models.Address, activationEpoch int64) models.NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nodeID]; ok {
		return e.record
	}
	rec := models.NodeRecord{
		NodeID:          nodeID,
		NodeType:        nodeType,
		OwnerAddress:    owner,
		ActivationEpoch: activationEpoch,
		Reputation:      initialScore,
		Status:          models.StatusActive,
	}
	r.nodes[nodeID] = &entry{record: rec, seen: make(map[string]struct{})}
	return rec
}

// Get returns a snapshot copy of a node's record.
func (r *Registry) Get(nodeID models.NodeID) (models.NodeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return models.NodeRecord{}, unknownNodeErr(nodeID)
	}
	return e.record, nil
}

// List returns a snapshot of every node record (lock-free for callers:
// the copy is taken once, under the lock, and handed back by value).
func (r *Registry) List() []models.NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.NodeRecord, 0, len(r.nodes))
	for _, e := range r.nodes {
		out = append(out, e.record)
	}
	return out
}

// HasActiveNodeForOwner reports whether owner already has a non-Banned,
// non-Pruned node (spec: "one-wallet-one-node" at any given time).
func (r *Registry) HasActiveNodeForOwner(owner models.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.nodes {
		if e.record.OwnerAddress == owner &&
			(e.record.Status == models.StatusActive || e.record.Status == models.StatusQuarantined) {
			return true
		}
	}
	return false
}

// ApplyEvent applies a reputation-affecting event and returns the node's
// new score. Duplicate (NodeID, EventID) pairs are silently absorbed.
// Unknown nodes fail with UnknownNode.
func (r *Registry) ApplyEvent(ev models.Event) (float64, error) {
	r.mu.Lock()

	e, ok := r.nodes[ev.NodeID]
	if !ok {
		r.mu.Unlock()
		return 0, unknownNodeErr(ev.NodeID)
	}

	if ev.EventID != "" {
		if _, dup := e.seen[ev.EventID]; dup {
			score := e.record.Reputation
			r.mu.Unlock()
			return score, nil
		}
		e.seen[ev.EventID] = struct{}{}
	}

	delta := EventDeltas[ev.Kind]
	e.record.Reputation = clamp(e.record.Reputation + delta)
	score := e.record.Reputation

	if isViolation(ev.Kind) && e.record.Reputation <= banScoreTrigger {
		req := models.BanRequest{NodeID: ev.NodeID, Reason: ev.Kind, Detail: ev.Detail, At: ev.At}
		select {
		case r.banRequests <- req:
		default:
			// A persistently full channel means the composition root
			// isn't draining it; that is an operational bug outside
			// this registry's remit, not something to block on here.
		}
	}

	store := r.store
	r.mu.Unlock()

	r.persistScore(store, ev.NodeID, score, ev)
	return score, nil
}

// persistScore best-effort persists a node's current score and the event
// that produced it. A failure is logged, never surfaced to the caller:
// the in-memory registry remains the authority, the store is a read-model.
func (r *Registry) persistScore(store ScoreStore, nodeID models.NodeID, score float64, ev models.Event) {
	if store == nil {
		return
	}
	if err := store.SaveReputationScore(context.Background(), nodeID, score, ev); err != nil {
		log.Printf("[Reputation] failed to persist score for %s: %v", nodeID, err)
	}
}

// Score returns the node's current reputation score.
func (r *Registry) Score(nodeID models.NodeID) (float64, error) {
	rec, err := r.Get(nodeID)
	if err != nil {
		return 0, err
	}
	return rec.Reputation, nil
}

// SetStatus performs a node lifecycle transition (Quarantined/Pruned/
// Banned/Active) on behalf of the caller (Reward Pool Engine for
// quarantine/prune/ban/restore, Consensus for ban-on-violation). A is the
// sole writer of NodeRecord.Status; other components only request it.
// quarantinedUntilUnix is only meaningful when newStatus is Quarantined.
func (r *Registry) SetStatus(nodeID models.NodeID, newStatus models.NodeStatus, quarantinedUntilUnix int64, reason string) (models.NodeStatusChanged, error) {
	return r.setStatusAt(nodeID, newStatus, quarantinedUntilUnix, reason, time.Now())
}

// SetStatusAt is SetStatus with an explicit timestamp, for callers that
// thread simulated time (tests, deterministic replay).
func (r *Registry) SetStatusAt(nodeID models.NodeID, newStatus models.NodeStatus, quarantinedUntilUnix int64, reason string, now time.Time) (models.NodeStatusChanged, error) {
	return r.setStatusAt(nodeID, newStatus, quarantinedUntilUnix, reason, now)
}

func (r *Registry) setStatusAt(nodeID models.NodeID, newStatus models.NodeStatus, quarantinedUntilUnix int64, reason string, now time.Time) (models.NodeStatusChanged, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return models.NodeStatusChanged{}, unknownNodeErr(nodeID)
	}
	old := e.record.Status
	e.record.Status = newStatus
	if newStatus == models.StatusQuarantined {
		e.record.QuarantinedUntil = quarantinedUntilUnix
	}
	if newStatus == models.StatusPruned {
		e.record.PrunedAtUnix = now.Unix()
	}
	return models.NodeStatusChanged{
		NodeID:    nodeID,
		OldStatus: old,
		NewStatus: newStatus,
		Reason:    reason,
		AtUnix:    now.Unix(),
	}, nil
}

// RestoreFreely moves a Pruned node to Quarantined with reputation=25,
// quarantined until quarantinedUntilUnix (the Reward Pool Engine passes
// now + QuarantineDuration, 7 days by default), per the mobile-friendly
// free-restoration rule (spec §4.C.4). It also bumps the node's
// restoration-window counters.
func (r *Registry) RestoreFreely(nodeID models.NodeID, quarantinedUntilUnix int64, windowStartUnix int64) (models.NodeStatusChanged, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return models.NodeStatusChanged{}, unknownNodeErr(nodeID)
	}
	old := e.record.Status
	e.record.Status = models.StatusQuarantined
	e.record.Reputation = 25
	e.record.QuarantinedUntil = quarantinedUntilUnix
	e.record.RestorationCountWindow++
	if e.record.RestorationWindowStart == 0 {
		e.record.RestorationWindowStart = windowStartUnix
	}
	return models.NodeStatusChanged{
		NodeID: nodeID, OldStatus: old, NewStatus: models.StatusQuarantined,
		Reason: "free_restore", AtUnix: time.Now().Unix(),
	}, nil
}

// RestorePaid resets a Pruned node to Active with normal (unchanged)
// reputation and no quarantine.
func (r *Registry) RestorePaid(nodeID models.NodeID) (models.NodeStatusChanged, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return models.NodeStatusChanged{}, unknownNodeErr(nodeID)
	}
	old := e.record.Status
	e.record.Status = models.StatusActive
	e.record.QuarantinedUntil = 0
	return models.NodeStatusChanged{
		NodeID: nodeID, OldStatus: old, NewStatus: models.StatusActive,
		Reason: "paid_restore", AtUnix: time.Now().Unix(),
	}, nil
}

// ResetRestorationWindowIfExpired clears the 30-day restoration counter
// once windowSeconds has elapsed since it started.
func (r *Registry) ResetRestorationWindowIfExpired(nodeID models.NodeID, now time.Time, windowSeconds int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	if e.record.RestorationWindowStart != 0 && now.Unix()-e.record.RestorationWindowStart >= windowSeconds {
		e.record.RestorationCountWindow = 0
		e.record.RestorationWindowStart = 0
	}
}

// RecordPing stamps LastPingUnix/LastActiveUnix after a successful ping
// response, called by the Reward Pool Engine.
func (r *Registry) RecordPing(nodeID models.NodeID, atUnix int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return unknownNodeErr(nodeID)
	}
	e.record.LastPingUnix = atUnix
	e.record.LastActiveUnix = atUnix
	return nil
}

// Decay applies the periodic exponential decay toward baseline to every
// tracked node's reputation.
func (r *Registry) Decay(decayFactor float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.nodes {
		e.record.Reputation = clamp(decayBaseline + (e.record.Reputation-decayBaseline)*decayFactor)
	}
}

// RunDecayLoop starts a ticker-driven background actor that calls Decay
// on interval.
func (r *Registry) RunDecayLoop(stop <-chan struct{}, interval time.Duration, decayFactor float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Decay(decayFactor)
		}
	}
}

func isViolation(kind models.EventKind) bool {
	switch kind {
	case models.EventAttackDetected, models.EventDoubleSign, models.EventSpam:
		return true
	default:
		return false
	}
}

func clamp(v float64) float64 {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

func unknownNodeErr(nodeID models.NodeID) error {
	return qnerr.Newf(qnerr.UnknownNode, "no node record for %s", nodeID)
}
