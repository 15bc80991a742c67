package pipeline

import (
	"testing"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

type fakeMempool struct{ transfers []Transfer }

func (m *fakeMempool) Drain(max int) []Transfer {
	if len(m.transfers) > max {
		m.transfers = m.transfers[:max]
	}
	out := m.transfers
	m.transfers = nil
	return out
}

type fakeShards struct{ applied int }

func (s *fakeShards) SubmitTransfer(from, to models.Address, amount int64, nonce uint64, now time.Time) (models.TxApplied, error) {
	s.applied++
	var id models.NodeID
	id[0] = byte(s.applied)
	return models.TxApplied{TxID: id, From: from, To: to, Amount: amount}, nil
}

type fakeLeaders struct {
	leader models.NodeID
	round  uint64
	ok     bool
}

func (l fakeLeaders) LatestFinalizedLeader() (models.NodeID, uint64, bool) {
	return l.leader, l.round, l.ok
}

type fakeReputation struct{ events []models.Event }

func (r *fakeReputation) ApplyEvent(ev models.Event) (float64, error) {
	r.events = append(r.events, ev)
	return 0, nil
}

type fakePhase struct{}

func (fakePhase) PhaseState() models.PhaseState { return models.PhaseState{Phase: models.Phase1} }

func TestTickSkipsWithNoLeader(t *testing.T) {
	rep := &fakeReputation{}
	p := New(config.Default(), nil, models.NodeID{}, &fakeMempool{}, &fakeShards{}, fakeLeaders{ok: false}, rep, fakePhase{}, nil)
	mb, err := p.Tick(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if mb != nil {
		t.Fatal("expected no microblock when no leader is ready")
	}
	if len(rep.events) != 1 || rep.events[0].Kind != models.EventMissedLeader {
		t.Fatalf("expected a missed-leader event to be recorded, got %+v", rep.events)
	}
}

func TestTickProducesMicroblockAndChainsPrevHash(t *testing.T) {
	leader := models.NodeID{}
	leader[0] = 7
	shards := &fakeShards{}
	mempool := &fakeMempool{transfers: []Transfer{{From: "a", To: "b", Amount: 10, Nonce: 1}}}
	p := New(config.Default(), nil, models.NodeID{}, mempool, shards, fakeLeaders{leader: leader, round: 1, ok: true}, &fakeReputation{}, fakePhase{}, nil)

	now := time.Now()
	mb1, err := p.Tick(now)
	if err != nil {
		t.Fatal(err)
	}
	if mb1 == nil {
		t.Fatal("expected a microblock")
	}
	if mb1.Height != 1 || len(mb1.TxIDs) != 1 {
		t.Fatalf("unexpected first microblock: %+v", mb1)
	}

	mb2, err := p.Tick(now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if mb2.PrevHash != HashMicroblock(*mb1) {
		t.Fatal("expected the second microblock to chain to the first's hash")
	}
}

func TestMacroblockSealsEveryConfiguredCount(t *testing.T) {
	cfg := config.Default()
	cfg.MicroblocksPerMacroblock = 3
	leader := models.NodeID{}
	p := New(cfg, nil, models.NodeID{}, &fakeMempool{}, &fakeShards{}, fakeLeaders{leader: leader, round: 1, ok: true}, &fakeReputation{}, fakePhase{}, nil)

	now := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := p.Tick(now); err != nil {
			t.Fatal(err)
		}
	}
	if p.Height() != 3 {
		t.Fatalf("expected height 3 after 3 ticks, got %d", p.Height())
	}
	if got := p.macroHeight.Load(); got != 1 {
		t.Fatalf("expected one macroblock sealed after 3 microblocks, got %d", got)
	}
}

func TestMicroblockCodecRoundTrips(t *testing.T) {
	mb := models.Microblock{Height: 5, TimestampUnix: 100}
	encoded, err := EncodeMicroblock(mb)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeMicroblock(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Height != mb.Height || decoded.TimestampUnix != mb.TimestampUnix {
		t.Fatalf("round-trip mismatch: %+v vs %+v", mb, decoded)
	}
}
