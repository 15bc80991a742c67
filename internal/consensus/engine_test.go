package consensus

import (
	"testing"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type fakeRegistry struct {
	nodes  map[models.NodeID]models.NodeRecord
	events []models.Event
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{nodes: make(map[models.NodeID]models.NodeRecord)}
}

func (f *fakeRegistry) add(id models.NodeID, nodeType models.NodeType) {
	f.nodes[id] = models.NodeRecord{NodeID: id, NodeType: nodeType, Status: models.StatusActive, Reputation: 80}
}

func (f *fakeRegistry) Get(id models.NodeID) (models.NodeRecord, error) {
	rec, ok := f.nodes[id]
	if !ok {
		return models.NodeRecord{}, qnerr.New(qnerr.UnknownNode, "no such node")
	}
	return rec, nil
}

func (f *fakeRegistry) ApplyEvent(ev models.Event) (float64, error) {
	f.events = append(f.events, ev)
	return 0, nil
}

func (f *fakeRegistry) List() []models.NodeRecord {
	out := make([]models.NodeRecord, 0, len(f.nodes))
	for _, rec := range f.nodes {
		out = append(out, rec)
	}
	return out
}

type allowVerifier struct{ allow bool }

func (v allowVerifier) Verify(models.NodeID, []byte, []byte) (bool, error) {
	return v.allow, nil
}

func idFor(b byte) models.NodeID {
	var id models.NodeID
	id[0] = b
	return id
}

func TestRoundLifecycleCommitRevealFinalize(t *testing.T) {
	cfg := config.Default()
	reg := newFakeRegistry()
	n1, n2, n3 := idFor(1), idFor(2), idFor(3)
	reg.add(n1, models.NodeTypeLight)
	reg.add(n2, models.NodeTypeLight)
	reg.add(n3, models.NodeTypeLight)

	e := New(cfg, reg, allowVerifier{allow: true}, nil)
	start := time.Unix(1_000_000, 0)
	round, err := e.StartRound(start, reg)
	if err != nil {
		t.Fatal(err)
	}
	if round.Phase != models.RoundCommit {
		t.Fatalf("expected Commit phase, got %v", round.Phase)
	}

	values := map[models.NodeID]string{n1: "A", n2: "B", n3: "C"}
	nonces := map[models.NodeID]string{n1: "1", n2: "2", n3: "3"}
	for _, id := range []models.NodeID{n1, n2, n3} {
		h := revealHash(values[id], nonces[id], round.RoundNumber, id)
		if err := e.SubmitCommit(round.RoundNumber, id, h, []byte("sig"), start); err != nil {
			t.Fatalf("commit for %s failed: %v", id, err)
		}
	}

	// All three committed: should have auto-transitioned to Reveal.
	if e.rounds[round.RoundNumber].Phase != models.RoundReveal {
		t.Fatalf("expected auto-transition to Reveal once all eligible committed, got %v", e.rounds[round.RoundNumber].Phase)
	}

	for _, id := range []models.NodeID{n1, n2, n3} {
		if err := e.SubmitReveal(round.RoundNumber, id, values[id], nonces[id], start.Add(time.Second)); err != nil {
			t.Fatalf("reveal for %s failed: %v", id, err)
		}
	}

	final := e.rounds[round.RoundNumber]
	if final.Phase != models.RoundFinalized {
		t.Fatalf("expected round to finalize once enough reveals landed, got %v", final.Phase)
	}
	if len(final.Reveals) != 3 {
		t.Fatalf("expected 3 reveals, got %d", len(final.Reveals))
	}
}

func TestSubmitRevealMismatchRejected(t *testing.T) {
	cfg := config.Default()
	reg := newFakeRegistry()
	n1 := idFor(1)
	reg.add(n1, models.NodeTypeLight)

	e := New(cfg, reg, allowVerifier{allow: true}, nil)
	start := time.Unix(1, 0)
	round, _ := e.StartRound(start, reg)

	h := revealHash("A", "1", round.RoundNumber, n1)
	if err := e.SubmitCommit(round.RoundNumber, n1, h, []byte("sig"), start); err != nil {
		t.Fatal(err)
	}
	// Force into Reveal: commit deadline not passed but only 1 eligible node
	// committed, which auto-transitions since len(commits) >= len(eligible).
	if err := e.SubmitReveal(round.RoundNumber, n1, "WRONG", "1", start); !qnerr.Is(err, qnerr.RevealMismatch) {
		t.Fatalf("expected RevealMismatch, got %v", err)
	}
}

func TestSubmitCommitDuplicateIsRejectedAndReported(t *testing.T) {
	cfg := config.Default()
	cfg.MinParticipants = 5 // prevent single-commit auto-finalize noise
	reg := newFakeRegistry()
	n1, n2 := idFor(1), idFor(2)
	reg.add(n1, models.NodeTypeLight)
	reg.add(n2, models.NodeTypeLight)

	e := New(cfg, reg, allowVerifier{allow: true}, nil)
	start := time.Unix(1, 0)
	round, _ := e.StartRound(start, reg)

	h := chainhash.Hash{}
	if err := e.SubmitCommit(round.RoundNumber, n1, h, []byte("sig"), start); err != nil {
		t.Fatal(err)
	}
	err := e.SubmitCommit(round.RoundNumber, n1, h, []byte("sig"), start)
	if !qnerr.Is(err, qnerr.DuplicateCommit) {
		t.Fatalf("expected DuplicateCommit, got %v", err)
	}
	found := false
	for _, ev := range reg.events {
		if ev.NodeID == n1 && ev.Kind == models.EventDoubleSign {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a DoubleSign reputation event to be reported")
	}
}

func TestSubmitCommitInvalidSignatureRejected(t *testing.T) {
	cfg := config.Default()
	reg := newFakeRegistry()
	n1 := idFor(1)
	reg.add(n1, models.NodeTypeLight)

	e := New(cfg, reg, allowVerifier{allow: false}, nil)
	start := time.Unix(1, 0)
	round, _ := e.StartRound(start, reg)

	err := e.SubmitCommit(round.RoundNumber, n1, chainhash.Hash{}, []byte("sig"), start)
	if !qnerr.Is(err, qnerr.InvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
}

func TestFinalizeWithoutRevealsHasNoWinner(t *testing.T) {
	cfg := config.Default()
	reg := newFakeRegistry()
	n1 := idFor(1)
	reg.add(n1, models.NodeTypeLight)

	e := New(cfg, reg, allowVerifier{allow: true}, nil)
	start := time.Unix(1, 0)
	round, _ := e.StartRound(start, reg)
	h := revealHash("A", "1", round.RoundNumber, n1)
	if err := e.SubmitCommit(round.RoundNumber, n1, h, []byte("sig"), start); err != nil {
		t.Fatal(err)
	}

	// Force finalize via CheckDeadlines past reveal_deadline, with zero reveals.
	e.CheckDeadlines(start.Add(cfg.CommitWindow + cfg.RevealWindow + time.Second))
	final := e.rounds[round.RoundNumber]
	if final.Phase != models.RoundFinalized {
		t.Fatalf("expected round to be forced to Finalized, got %v", final.Phase)
	}
	if final.Winner != nil {
		t.Fatalf("expected no winner without reveals, got %v", *final.Winner)
	}
}

func TestStartRoundFinalizesPreviousRound(t *testing.T) {
	cfg := config.Default()
	reg := newFakeRegistry()
	n1 := idFor(1)
	reg.add(n1, models.NodeTypeLight)

	e := New(cfg, reg, allowVerifier{allow: true}, nil)
	r1, _ := e.StartRound(time.Unix(1, 0), reg)
	r2, _ := e.StartRound(time.Unix(100, 0), reg)

	if e.rounds[r1.RoundNumber].Phase != models.RoundFinalized {
		t.Fatal("expected round 1 to be force-finalized when round 2 starts")
	}
	if r2.RoundNumber != r1.RoundNumber+1 {
		t.Fatalf("expected round numbers to increment, got %d then %d", r1.RoundNumber, r2.RoundNumber)
	}
}
