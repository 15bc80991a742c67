package reputation

import (
	"testing"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

func mustNodeID(b byte) models.NodeID {
	var id models.NodeID
	id[0] = b
	return id
}

func newNode(r *Registry, b byte) models.NodeID {
	id := mustNodeID(b)
	r.CreateNode(id, models.NodeTypeLight, models.Address("owner"), 0)
	return id
}

func TestApplyEventUnknownNode(t *testing.T) {
	r := New(0)
	_, err := r.ApplyEvent(models.Event{NodeID: mustNodeID(1), Kind: models.EventMissedPing})
	if !qnerr.Is(err, qnerr.UnknownNode) {
		t.Fatalf("expected UnknownNode, got %v", err)
	}
}

func TestApplyEventIdempotent(t *testing.T) {
	r := New(0)
	id := newNode(r, 1)

	ev := models.Event{EventID: "e1", NodeID: id, Kind: models.EventMissedPing}
	s1, err := r.ApplyEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := r.ApplyEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("duplicate event id was not absorbed: %v != %v", s1, s2)
	}
	if s1 != initialScore+EventDeltas[models.EventMissedPing] {
		t.Fatalf("unexpected score %v", s1)
	}
}

func TestApplyEventClampedAndBanRequested(t *testing.T) {
	r := New(4)
	id := newNode(r, 2)

	score, err := r.ApplyEvent(models.Event{EventID: "ds1", NodeID: id, Kind: models.EventDoubleSign})
	if err != nil {
		t.Fatal(err)
	}
	if score < minScore || score > maxScore {
		t.Fatalf("score out of bounds: %v", score)
	}
	if score != minScore {
		t.Fatalf("expected clamp to 0 after DoubleSign, got %v", score)
	}

	select {
	case req := <-r.BanRequests():
		if req.NodeID != id || req.Reason != models.EventDoubleSign {
			t.Fatalf("unexpected ban request: %+v", req)
		}
	default:
		t.Fatal("expected a ban request to be surfaced")
	}
}

func TestScoreNeverLeavesBounds(t *testing.T) {
	r := New(0)
	id := newNode(r, 3)
	for i := 0; i < 50; i++ {
		if _, err := r.ApplyEvent(models.Event{NodeID: id, Kind: models.EventParticipatedReveal}); err != nil {
			t.Fatal(err)
		}
	}
	score, _ := r.Score(id)
	if score > maxScore {
		t.Fatalf("score exceeded max: %v", score)
	}
}

func TestDecayMovesTowardBaseline(t *testing.T) {
	r := New(0)
	id := newNode(r, 4)
	for i := 0; i < 10; i++ {
		if _, err := r.ApplyEvent(models.Event{NodeID: id, Kind: models.EventParticipatedReveal}); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := r.Score(id)
	r.Decay(0.95)
	after, _ := r.Score(id)
	if after >= before {
		t.Fatalf("expected decay to pull score down toward baseline: before=%v after=%v", before, after)
	}
	if after < decayBaseline {
		t.Fatalf("decay overshot baseline: %v", after)
	}
}

func TestRunDecayLoopStops(t *testing.T) {
	r := New(0)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.RunDecayLoop(stop, time.Millisecond, 0.95)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("decay loop did not stop")
	}
}

func TestHasActiveNodeForOwner(t *testing.T) {
	r := New(0)
	owner := models.Address("owner-x")
	if r.HasActiveNodeForOwner(owner) {
		t.Fatal("expected no active node before creation")
	}
	id := mustNodeID(9)
	r.CreateNode(id, models.NodeTypeFull, owner, 0)
	if !r.HasActiveNodeForOwner(owner) {
		t.Fatal("expected active node after creation")
	}
	if _, err := r.SetStatus(id, models.StatusBanned, 0, "test"); err != nil {
		t.Fatal(err)
	}
	if r.HasActiveNodeForOwner(owner) {
		t.Fatal("expected banned node to free up the owner slot")
	}
}
