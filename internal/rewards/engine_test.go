package rewards

import (
	"testing"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/internal/reputation"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

type fakeCrediter struct {
	credits map[models.Address]int64
}

func newFakeCrediter() *fakeCrediter {
	return &fakeCrediter{credits: make(map[models.Address]int64)}
}

func (f *fakeCrediter) Credit(addr models.Address, amount int64) error {
	f.credits[addr] += amount
	return nil
}

func nodeID(b byte) models.NodeID {
	var id models.NodeID
	id[0] = b
	return id
}

func TestDistributeZeroEligibleIsZeroAndAdvancesWindow(t *testing.T) {
	cfg := config.Default()
	reg := reputation.New(0)
	e := New(cfg, reg, nil, nil, 0)

	result, err := e.Distribute(time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.EligibleCount != 0 {
		t.Fatalf("expected zero eligible nodes, got %d", result.EligibleCount)
	}
	if e.PoolState().WindowIndex != 1 {
		t.Fatalf("expected window to advance even with zero eligible nodes, got %d", e.PoolState().WindowIndex)
	}
}

func TestDistributeCreditsEligibleNodesAndKeepsRemainder(t *testing.T) {
	cfg := config.Default()
	reg := reputation.New(0)
	id1, id2, id3 := nodeID(1), nodeID(2), nodeID(3)
	reg.CreateNode(id1, models.NodeTypeLight, "owner-1", 0)
	reg.CreateNode(id2, models.NodeTypeFull, "owner-2", 0)
	reg.CreateNode(id3, models.NodeTypeSuper, "owner-3", 0)
	// New nodes start at reputation 50; lift Full/Super to the 70 threshold.
	for _, id := range []models.NodeID{id2, id3} {
		for i := 0; i < 20; i++ {
			if _, err := reg.ApplyEvent(models.Event{NodeID: id, Kind: models.EventParticipatedReveal}); err != nil {
				t.Fatal(err)
			}
		}
	}

	credits := newFakeCrediter()
	e := New(cfg, reg, nil, credits, 0)
	e.pool.Pool2Fees = 100
	e.pool.Pool3Activation = 30

	for _, id := range []models.NodeID{id1, id2, id3} {
		if err := e.RecordPingResponse(models.PingResponse{
			NodeID: id, WindowIndex: 0, Slot: e.SlotFor(id, mustType(reg, id)).Slot, Proof: "p", RespondedAtUnix: 1,
		}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := e.Distribute(time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.EligibleCount != 3 {
		t.Fatalf("expected 3 eligible nodes, got %d", result.EligibleCount)
	}
	// Pool2: Super gets 70 (0.7*100) alone, Full gets 30 (0.3*100) alone.
	if result.Pool2Credited["Super"] != 70 {
		t.Fatalf("expected Super pool2 credit 70, got %v", result.Pool2Credited["Super"])
	}
	if result.Pool2Credited["Full"] != 30 {
		t.Fatalf("expected Full pool2 credit 30, got %v", result.Pool2Credited["Full"])
	}
	if result.Pool3Credited != 30 {
		t.Fatalf("expected pool3 fully distributed, got %v", result.Pool3Credited)
	}
	if e.PoolState().Pool3Activation != 0 {
		t.Fatalf("expected pool3 to be zeroed after distribution, got %v", e.PoolState().Pool3Activation)
	}
	if len(credits.credits) != 3 {
		t.Fatalf("expected all 3 owners credited, got %+v", credits.credits)
	}
}

func mustType(reg *reputation.Registry, id models.NodeID) models.NodeType {
	rec, _ := reg.Get(id)
	return rec.NodeType
}

func TestRestoreNodeFreeEligible(t *testing.T) {
	cfg := config.Default()
	reg := reputation.New(0)
	id := nodeID(4)
	reg.CreateNode(id, models.NodeTypeLight, "owner-4", 0)
	if _, err := reg.SetStatusAt(id, models.StatusPruned, 0, "inactive", time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}

	e := New(cfg, reg, nil, nil, 0)
	change, err := e.RestoreNode(id, time.Unix(1000, 0), false)
	if err != nil {
		t.Fatalf("expected free restore to succeed: %v", err)
	}
	if change.NewStatus != models.StatusQuarantined {
		t.Fatalf("expected free restore to land in Quarantined, got %v", change.NewStatus)
	}
}

func TestRestoreNodeRequiresPaymentWhenIneligible(t *testing.T) {
	cfg := config.Default()
	cfg.MaxFreeRestorations = 0
	reg := reputation.New(0)
	id := nodeID(5)
	reg.CreateNode(id, models.NodeTypeLight, "owner-5", 0)
	if _, err := reg.SetStatusAt(id, models.StatusPruned, 0, "inactive", time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}

	e := New(cfg, reg, nil, nil, 0)
	_, err := e.RestoreNode(id, time.Unix(1000, 0), false)
	if !qnerr.Is(err, qnerr.NotEligible) {
		t.Fatalf("expected NotEligible without payment, got %v", err)
	}

	change, err := e.RestoreNode(id, time.Unix(1000, 0), true)
	if err != nil {
		t.Fatalf("expected paid restore to succeed: %v", err)
	}
	if change.NewStatus != models.StatusActive {
		t.Fatalf("expected paid restore to land Active, got %v", change.NewStatus)
	}
}

func TestPruneInactive(t *testing.T) {
	cfg := config.Default()
	cfg.InactiveThreshold = time.Hour
	reg := reputation.New(0)
	id := nodeID(6)
	reg.CreateNode(id, models.NodeTypeLight, "owner-6", 0)

	e := New(cfg, reg, nil, nil, 0)
	changes := e.PruneInactive(time.Unix(10_000, 0))
	if len(changes) != 1 {
		t.Fatalf("expected the stale node to be pruned, got %d changes", len(changes))
	}
	rec, _ := reg.Get(id)
	if rec.Status != models.StatusPruned {
		t.Fatalf("expected node to be Pruned, got %v", rec.Status)
	}
}

func TestRunBanRequestLoopBansOnRequest(t *testing.T) {
	cfg := config.Default()
	reg := reputation.New(4)
	id := nodeID(7)
	reg.CreateNode(id, models.NodeTypeLight, "owner-7", 0)

	e := New(cfg, reg, nil, nil, 0)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		e.RunBanRequestLoop(stop)
		close(done)
	}()

	if _, err := reg.ApplyEvent(models.Event{EventID: "e1", NodeID: id, Kind: models.EventDoubleSign}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for {
		rec, _ := reg.Get(id)
		if rec.Status == models.StatusBanned {
			break
		}
		select {
		case <-deadline:
			t.Fatal("node was never banned")
		case <-time.After(time.Millisecond):
		}
	}
	close(stop)
	<-done
}
