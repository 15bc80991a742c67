// Package activation implements the Phase & Activation Ledger (§4.B):
// node activation admission, phase-1/phase-2 pricing, and the one-shot
// phase transition. It owns its own dedup/ownership registries and leans
// on the reputation Registry (the sole NodeRecord writer) to actually
// create node records once an activation is admitted.
package activation

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/events"
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

// NodeRegistry is the subset of reputation.Registry the ledger depends on.
type NodeRegistry interface {
	CreateNode(nodeID models.NodeID, nodeType models.NodeType, owner models.Address, activationEpoch int64) models.NodeRecord
	Get(nodeID models.NodeID) (models.NodeRecord, error)
	HasActiveNodeForOwner(owner models.Address) bool
	List() []models.NodeRecord
}

// ProofStore backstops the ledger's in-memory proof-dedup set with a
// durable check (§4.B invariant: "proof is globally unique across all
// entries"), so a duplicate proof is caught even across a process restart
// that lost the in-memory set. A nil store (the default) leaves dedup to
// the in-memory set alone, the shape the unit tests exercise.
type ProofStore interface {
	HasProof(ctx context.Context, proof models.Proof) (bool, error)
}

// Ledger is the activation/phase-tracking registry.
type Ledger struct {
	mu  sync.Mutex
	cfg config.Config

	registry NodeRegistry
	bus      *events.Bus
	store    ProofStore

	proofs       map[models.Proof]models.ActivationEntry
	phase1Nodes  map[models.NodeID]struct{} // nodes whose original activation was Phase1
	genesisUsed  int
	phase        models.PhaseState
}

// New creates a Ledger at Phase1, launched at launchUnix.
func New(cfg config.Config, registry NodeRegistry, bus *events.Bus, launchUnix int64) *Ledger {
	return &Ledger{
		cfg:         cfg,
		registry:    registry,
		bus:         bus,
		proofs:      make(map[models.Proof]models.ActivationEntry),
		phase1Nodes: make(map[models.NodeID]struct{}),
		phase: models.PhaseState{
			Phase:            models.Phase1,
			Phase1LaunchUnix: launchUnix,
		},
	}
}

// SetStore installs the durable proof backstop; nil (the default) leaves
// duplicate detection to the in-memory set alone, which is what the unit
// tests exercise.
func (l *Ledger) SetStore(store ProofStore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = store
}

// PhaseState returns a snapshot of the current phase tracker.
func (l *Ledger) PhaseState() models.PhaseState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// CurrentPrice returns the activation price a node of nodeType would pay
// right now, given the ledger's current phase.
func (l *Ledger) CurrentPrice(nodeType models.NodeType) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CurrentPrice(l.cfg, nodeType, l.phase, int64(len(l.registry.List())))
}

// RecordActivation implements §4.B's record_activation. entry.Phase, if
// set, must match the ledger's current phase (a caller that built the
// entry before a transition landed gets WrongPhase rather than silently
// being priced against the wrong table).
func (l *Ledger) RecordActivation(entry models.ActivationEntry) (models.NodeID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.proofs[entry.Proof]; dup {
		return models.NodeID{}, duplicateProofErr(entry.Proof)
	}
	if l.store != nil {
		if exists, err := l.store.HasProof(context.Background(), entry.Proof); err != nil {
			log.Printf("[Activation] durable proof check failed for %s: %v", entry.Proof, err)
		} else if exists {
			return models.NodeID{}, duplicateProofErr(entry.Proof)
		}
	}
	if entry.Phase != "" && entry.Phase != l.phase.Phase {
		return models.NodeID{}, wrongPhaseErr(entry.Phase, l.phase.Phase)
	}
	if l.registry.HasActiveNodeForOwner(entry.OwnerAddress) {
		return models.NodeID{}, ownerAlreadyActiveErr(entry.OwnerAddress)
	}

	isGenesis := strings.HasPrefix(string(entry.Proof), models.GenesisProofPrefix)
	if isGenesis {
		if l.genesisUsed >= l.cfg.GenesisNodeCount {
			return models.NodeID{}, qnerr.New(qnerr.QuotaExceeded, "genesis whitelist is exhausted").
				WithFields(map[string]any{"limit": l.cfg.GenesisNodeCount})
		}
	} else {
		required, err := CurrentPrice(l.cfg, entry.NodeType, l.phase, int64(len(l.registry.List())))
		if err != nil {
			return models.NodeID{}, err
		}
		if entry.PaidAmount < required {
			return models.NodeID{}, insufficientPaymentErr(required, entry.PaidAmount)
		}
	}

	entry.Phase = l.phase.Phase
	l.proofs[entry.Proof] = entry
	if isGenesis {
		l.genesisUsed++
	}
	if l.phase.Phase == models.Phase1 {
		l.phase1Nodes[entry.NodeID] = struct{}{}
		if !isGenesis {
			l.phase.Phase1TotalBurned += entry.PaidAmount
		}
	}

	rec := l.registry.CreateNode(entry.NodeID, entry.NodeType, entry.OwnerAddress, entry.Timestamp.Unix())
	return rec.NodeID, nil
}

// MaybeTransition implements §4.B.2's idempotent, single-shot phase
// transition check. It returns nil, nil when no transition occurs (either
// because conditions aren't met, or because the ledger already
// transitioned on a prior call).
func (l *Ledger) MaybeTransition(now time.Time) (*models.PhaseTransition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.phase.Phase == models.Phase2 {
		return nil, nil
	}

	ratio := burnRatio(l.cfg, l.phase)
	burstThreshold := ratio >= l.cfg.Phase1BurnThresholdRatio
	maxYearsElapsed := now.Unix()-l.phase.Phase1LaunchUnix >= int64(l.cfg.Phase1MaxYears)*365*24*3600

	if !burstThreshold && !maxYearsElapsed {
		return nil, nil
	}

	reason := "max_years"
	if burstThreshold {
		reason = "burn_threshold"
	}

	atUnix := now.Unix()
	l.phase.Phase = models.Phase2
	l.phase.TransitionedAtUnix = &atUnix

	transition := &models.PhaseTransition{
		FromPhase: models.Phase1,
		ToPhase:   models.Phase2,
		BurnRatio: ratio,
		AtUnix:    atUnix,
		Reason:    reason,
	}
	if l.bus != nil {
		l.bus.Publish(events.KindPhaseTransitioned, *transition)
	}
	return transition, nil
}

// MigratePhase1Node implements §4.B's migrate_phase1_node: a free,
// proof-tagged MIGRATION_* activation record for a node that originally
// activated during Phase1, valid only after the transition and within the
// configured grace window.
func (l *Ledger) MigratePhase1Node(nodeID models.NodeID, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.phase.Phase != models.Phase2 || l.phase.TransitionedAtUnix == nil {
		return wrongPhaseErr(models.Phase2, l.phase.Phase)
	}
	if _, wasPhase1 := l.phase1Nodes[nodeID]; !wasPhase1 {
		return qnerr.Newf(qnerr.UnknownNode, "node %s has no Phase1 activation to migrate", nodeID)
	}

	graceEnd := *l.phase.TransitionedAtUnix + int64(l.cfg.MigrationGraceWindow.Seconds())
	if now.Unix() > graceEnd {
		return qnerr.New(qnerr.DeadlineExceeded, "migration grace window has closed").
			WithFields(map[string]any{"graceEndUnix": graceEnd})
	}

	proof := models.Proof(models.MigrationProofPrefix + nodeID.String())
	if _, dup := l.proofs[proof]; dup {
		return duplicateProofErr(proof)
	}

	rec, err := l.registry.Get(nodeID)
	if err != nil {
		return err
	}

	l.proofs[proof] = models.ActivationEntry{
		NodeID:       nodeID,
		NodeType:     rec.NodeType,
		OwnerAddress: rec.OwnerAddress,
		Phase:        models.Phase2,
		PaidAmount:   0,
		Proof:        proof,
		Timestamp:    now,
	}
	return nil
}
