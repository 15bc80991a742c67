// Package consensus implements the commit-reveal leader election state
// machine (§4.D): round lifecycle, signature/hash validation, unbiasable
// leader selection from the revealed beacon, and adaptive round timing.
// Rounds are owned exclusively by Engine and addressed by round_number in
// an id-keyed map.
package consensus

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/events"
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ReputationSource is the subset of reputation.Registry the engine needs:
// eligibility reads and violation reporting (never direct status writes).
type ReputationSource interface {
	Get(nodeID models.NodeID) (models.NodeRecord, error)
	ApplyEvent(ev models.Event) (float64, error)
}

// SignatureVerifier checks a node's signature over a message, backed by
// the Security Envelope (internal/security). Kept as a narrow interface
// here so this package never imports internal/security.
type SignatureVerifier interface {
	Verify(nodeID models.NodeID, message, signature []byte) (bool, error)
}

var twoPow256 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 256))

// Engine runs the commit-reveal rounds.
type Engine struct {
	mu sync.Mutex

	cfg      config.Config
	registry ReputationSource
	verifier SignatureVerifier
	bus      *events.Bus

	rounds  map[uint64]*models.ConsensusRound
	eligSet map[uint64][]models.NodeID // sorted eligible set snapshot at round start
	current uint64

	commitWindow time.Duration
	revealWindow time.Duration
	difficulty   int
	durations    []time.Duration // ring buffer of the last W round durations
}

// New creates an Engine at round 0 (Idle, no rounds started yet).
func New(cfg config.Config, registry ReputationSource, verifier SignatureVerifier, bus *events.Bus) *Engine {
	return &Engine{
		cfg:          cfg,
		registry:     registry,
		verifier:     verifier,
		bus:          bus,
		rounds:       make(map[uint64]*models.ConsensusRound),
		eligSet:      make(map[uint64][]models.NodeID),
		commitWindow: cfg.CommitWindow,
		revealWindow: cfg.RevealWindow,
		difficulty:   1,
	}
}

func (e *Engine) isEligible(rec models.NodeRecord, now time.Time) bool {
	if !rec.IsEligibleStatus(now) || rec.Status != models.StatusActive {
		return false
	}
	threshold := e.cfg.MinReputationLight
	if rec.NodeType != models.NodeTypeLight {
		threshold = e.cfg.MinReputationFullSuper
	}
	return rec.Reputation >= threshold
}

// EligibleNodes lets the composition root feed the engine's eligible set.
// The engine has no registry listing of its own (it depends on the
// reputation Registry's Get, not List), so callers supply the candidate
// pool to evaluate; consensus only filters, it doesn't discover nodes.
type EligibleNodes interface {
	List() []models.NodeRecord
}

// StartRound begins round r = previous+1. It force-finalizes the previous
// round if it never reached Finalized (§4.D.1: "finalize previous round
// if not finalized").
func (e *Engine) StartRound(now time.Time, candidates EligibleNodes) (*models.ConsensusRound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.rounds[e.current]; ok && prev.Phase != models.RoundFinalized {
		e.finalizeLocked(prev, now)
	}

	var eligible []models.NodeID
	for _, rec := range candidates.List() {
		if e.isEligible(rec, now) {
			eligible = append(eligible, rec.NodeID)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].String() < eligible[j].String() })

	e.current++
	round := &models.ConsensusRound{
		RoundNumber:    e.current,
		Phase:          models.RoundCommit,
		StartUnix:      now.Unix(),
		CommitDeadline: now.Add(e.commitWindow).Unix(),
		RevealDeadline: now.Add(e.commitWindow + e.revealWindow).Unix(),
		Difficulty:     e.difficulty,
		Commits:        make(map[models.NodeID]models.Commit),
		Reveals:        make(map[models.NodeID]models.Reveal),
	}
	e.rounds[e.current] = round
	e.eligSet[e.current] = eligible
	return round, nil
}

// SubmitCommit implements §4.D.1's submit-commit transition.
func (e *Engine) SubmitCommit(roundNumber uint64, nodeID models.NodeID, hash chainhash.Hash, signature []byte, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	round, ok := e.rounds[roundNumber]
	if !ok {
		return qnerr.Newf(qnerr.Internal, "no such round %d", roundNumber)
	}
	if round.Phase != models.RoundCommit {
		return qnerr.New(qnerr.WrongPhase, "round is not accepting commits")
	}
	if now.Unix() > round.CommitDeadline {
		return qnerr.New(qnerr.DeadlineExceeded, "commit deadline has passed")
	}
	if _, dup := round.Commits[nodeID]; dup {
		e.reportViolation(nodeID, models.EventDoubleSign, "duplicate commit", now)
		return qnerr.New(qnerr.DuplicateCommit, "node already committed this round")
	}
	rec, err := e.registry.Get(nodeID)
	if err != nil {
		return err
	}
	if !e.isEligible(rec, now) {
		return qnerr.New(qnerr.NotEligible, "node is not eligible to participate")
	}
	ok, err = e.verifier.Verify(nodeID, commitMessage(roundNumber, hash), signature)
	if err != nil {
		return err
	}
	if !ok {
		e.reportViolation(nodeID, models.EventSpam, "invalid commit signature", now)
		return qnerr.New(qnerr.InvalidSignature, "commit signature does not verify")
	}

	round.Commits[nodeID] = models.Commit{Hash: hash, Signature: signature, AtUnix: now.Unix()}
	e.reportParticipation(nodeID, models.EventParticipatedCommit, now)

	if len(round.Commits) >= len(e.eligSet[roundNumber]) && len(e.eligSet[roundNumber]) > 0 {
		e.transitionToRevealLocked(round, now)
	}
	return nil
}

// SubmitReveal implements §4.D.1's submit-reveal transition.
func (e *Engine) SubmitReveal(roundNumber uint64, nodeID models.NodeID, value, nonce string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	round, ok := e.rounds[roundNumber]
	if !ok {
		return qnerr.Newf(qnerr.Internal, "no such round %d", roundNumber)
	}
	if round.Phase == models.RoundCommit && now.Unix() > round.CommitDeadline {
		e.transitionToRevealLocked(round, now)
	}
	if round.Phase != models.RoundReveal {
		return qnerr.New(qnerr.WrongPhase, "round is not accepting reveals")
	}
	if now.Unix() > round.RevealDeadline {
		return qnerr.New(qnerr.DeadlineExceeded, "reveal deadline has passed")
	}
	commit, hasCommit := round.Commits[nodeID]
	if !hasCommit {
		return qnerr.New(qnerr.CommitMissing, "no commit on file for this node")
	}
	if _, dup := round.Reveals[nodeID]; dup {
		return nil // idempotent re-submission
	}
	if revealHash(value, nonce, roundNumber, nodeID) != commit.Hash {
		e.reportViolation(nodeID, models.EventSpam, "reveal mismatch", now)
		return qnerr.New(qnerr.RevealMismatch, "reveal does not match commit")
	}

	round.Reveals[nodeID] = models.Reveal{Value: value, Nonce: nonce, AtUnix: now.Unix()}
	e.reportParticipation(nodeID, models.EventParticipatedReveal, now)

	minExpected := int(float64(len(round.Commits))*e.cfg.MinRevealsRatio + 0.999999) // ceil
	if minExpected < e.cfg.MinParticipants {
		minExpected = e.cfg.MinParticipants
	}
	if len(round.Reveals) >= minExpected {
		e.finalizeLocked(round, now)
	}
	return nil
}

// CheckDeadlines drives time-based transitions for callers that poll
// rather than push (the RunLoop actor below).
func (e *Engine) CheckDeadlines(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	round, ok := e.rounds[e.current]
	if !ok {
		return
	}
	if round.Phase == models.RoundCommit && now.Unix() > round.CommitDeadline {
		e.transitionToRevealLocked(round, now)
	}
	if round.Phase == models.RoundReveal && now.Unix() > round.RevealDeadline {
		e.finalizeLocked(round, now)
		return
	}
	if now.Unix()-round.StartUnix >= int64(e.cfg.MaxRoundTime.Seconds()) && round.Phase != models.RoundFinalized {
		e.finalizeLocked(round, now)
	}
}

func (e *Engine) transitionToRevealLocked(round *models.ConsensusRound, now time.Time) {
	if round.Phase != models.RoundCommit {
		return
	}
	round.Phase = models.RoundReveal
	round.RevealDeadline = now.Add(e.revealWindow).Unix()
}

// finalizeLocked picks the leader (if any), emits the finalization events,
// and feeds the adaptive-timing ring buffer. Caller must hold e.mu.
func (e *Engine) finalizeLocked(round *models.ConsensusRound, now time.Time) {
	if round.Phase == models.RoundFinalized {
		return
	}
	eligible := e.eligSet[round.RoundNumber]

	var nodeIDs []models.NodeID
	for id := range round.Reveals {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i].String() < nodeIDs[j].String() })

	concat := ""
	for _, id := range nodeIDs {
		concat += round.Reveals[id].Value
	}

	var winner *models.NodeID
	if len(nodeIDs) > 0 && len(eligible) > 0 {
		beacon := beaconHash(concat)
		round.Beacon = beacon
		x := new(big.Float).Quo(new(big.Float).SetInt(new(big.Int).SetBytes(beacon[:])), twoPow256)
		xf, _ := x.Float64()
		if e.difficulty < 1 {
			e.difficulty = 1
		}
		if xf <= 1.0/float64(e.difficulty) {
			idx := int(xf * float64(len(eligible)))
			if idx >= len(eligible) {
				idx = len(eligible) - 1
			}
			w := eligible[idx]
			winner = &w
			if e.bus != nil {
				e.bus.Publish(events.KindLeaderSelected, models.LeaderSelected{
					RoundNumber: round.RoundNumber, Leader: w, Beacon: beacon.String(),
				})
			}
		}
	}

	round.Winner = winner
	round.Phase = models.RoundFinalized

	duration := time.Duration(now.Unix()-round.StartUnix) * time.Second
	e.recordDurationLocked(duration)

	if e.bus != nil {
		e.bus.Publish(events.KindRoundFinalized, models.RoundFinalized{
			RoundNumber: round.RoundNumber,
			HasWinner:   winner != nil,
			Winner:      winner,
			NumCommits:  len(round.Commits),
			NumReveals:  len(round.Reveals),
			DurationMs:  duration.Milliseconds(),
		})
	}

	for nodeID := range round.Commits {
		if _, revealed := round.Reveals[nodeID]; !revealed {
			e.reportViolation(nodeID, models.EventMissedLeader, "committed without revealing", now)
		}
	}
}

// recordDurationLocked appends to the timing ring buffer and, once W
// samples are available, retunes commit/reveal windows and difficulty
// toward TargetRoundTime (§4.D.3). Caller must hold e.mu.
func (e *Engine) recordDurationLocked(d time.Duration) {
	w := e.cfg.DifficultyAdjustWindow
	if w <= 0 {
		w = 10
	}
	e.durations = append(e.durations, d)
	if len(e.durations) > w {
		e.durations = e.durations[len(e.durations)-w:]
	}
	if len(e.durations) < w {
		return
	}

	var total time.Duration
	for _, dd := range e.durations {
		total += dd
	}
	avg := total / time.Duration(len(e.durations))
	if avg <= 0 {
		return
	}

	ratio := e.cfg.TargetRoundTime.Seconds() / avg.Seconds()
	ratio = clampFloat(ratio, 0.9, 1.1)

	e.commitWindow = time.Duration(float64(e.commitWindow) * ratio)
	e.revealWindow = time.Duration(float64(e.revealWindow) * ratio)

	newDifficulty := int(float64(e.difficulty) * ratio)
	e.difficulty = clampInt(newDifficulty, 1, 100)
}

func (e *Engine) reportParticipation(nodeID models.NodeID, kind models.EventKind, now time.Time) {
	_, _ = e.registry.ApplyEvent(models.Event{NodeID: nodeID, Kind: kind, At: now})
}

func (e *Engine) reportViolation(nodeID models.NodeID, kind models.EventKind, detail string, now time.Time) {
	_, _ = e.registry.ApplyEvent(models.Event{NodeID: nodeID, Kind: kind, Detail: detail, At: now})
}

// CurrentRound returns the most recently started round, if any.
func (e *Engine) CurrentRound() (*models.ConsensusRound, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	round, ok := e.rounds[e.current]
	return round, ok
}

// LatestFinalizedLeader walks back from the current round to find the
// nearest Finalized round with a Winner, the block pipeline's source of
// "who may produce the next microblock" (§4.F.1).
func (e *Engine) LatestFinalizedLeader() (models.NodeID, uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for r := e.current; r > 0; r-- {
		round, ok := e.rounds[r]
		if !ok {
			continue
		}
		if round.Phase == models.RoundFinalized && round.Winner != nil {
			return *round.Winner, round.RoundNumber, true
		}
	}
	return models.NodeID{}, 0, false
}

// RunLoop periodically checks the current round's deadlines, a
// ticker-driven actor like the rest of this core's background loops.
func (e *Engine) RunLoop(stop <-chan struct{}, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			e.CheckDeadlines(t)
		}
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
