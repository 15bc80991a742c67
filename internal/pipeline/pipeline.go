// Package pipeline implements the Block Pipeline (§4.F): microblock
// assembly every microblock_interval_seconds (default 1s), driven by
// asking the consensus engine for the current round's leader, and
// macroblock sealing every microblocks_per_macroblock (90) microblocks.
// Producer is a ticker-driven actor.
package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/events"
	"github.com/aiqnetlab/qnet-node/internal/qnhash"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Transfer is one pending intra/cross-shard transfer request drained from
// the mempool (Queue, in mempool.go).
type Transfer struct {
	From   models.Address
	To     models.Address
	Amount int64
	Nonce  uint64
}

// Mempool is the narrow view Producer needs of the mempool; Queue
// satisfies it.
type Mempool interface {
	Drain(max int) []Transfer
}

// ShardExecutor applies a transfer, routing intra- or cross-shard as needed.
type ShardExecutor interface {
	SubmitTransfer(from, to models.Address, amount int64, nonce uint64, now time.Time) (models.TxApplied, error)
}

// LeaderSource exposes the consensus engine's latest finalized leader.
type LeaderSource interface {
	LatestFinalizedLeader() (models.NodeID, uint64, bool)
}

// ReputationReporter lets Producer log a missed-leader event without
// importing internal/reputation directly.
type ReputationReporter interface {
	ApplyEvent(ev models.Event) (float64, error)
}

// PhaseSource exposes the activation ledger's current phase snapshot,
// folded into every sealed macroblock.
type PhaseSource interface {
	PhaseState() models.PhaseState
}

// Signer produces the leader's signature over a microblock's canonical
// hash. Real key custody is a wallet-layer concern (§1 Non-goals); a nil
// Signer leaves Microblock.Signature empty, which is the expected shape
// for a node that is never this round's leader.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// BlockStore persists sealed blocks to the §6 `blocks` logical store. A nil
// store (the default) leaves Producer purely in-memory, the shape the unit
// tests exercise; the composition root installs a real one via SetStore.
type BlockStore interface {
	SaveMicroblock(ctx context.Context, height int64, hash chainhash.Hash, payload []byte) error
	SaveMacroblock(ctx context.Context, height int64, hash chainhash.Hash, payload []byte) error
}

// Producer is the Block Pipeline actor.
type Producer struct {
	cfg  config.Config
	bus  *events.Bus
	self models.NodeID

	mempool    Mempool
	shards     ShardExecutor
	leaders    LeaderSource
	reputation ReputationReporter
	phase      PhaseSource
	signer     Signer
	store      BlockStore

	mu          sync.Mutex
	prevHash    chainhash.Hash
	height      int64
	microInPeriod []MacroblockEntry
	windowsInPeriod []models.WindowDistributed

	microCount atomic.Int64
	macroHeight atomic.Int64
}

// MacroblockEntry is one microblock folded into the in-progress macroblock
// period, collected as microblocks are produced.
type MacroblockEntry struct {
	Summary     models.MacroblockSummary
	CrossShard  []chainhash.Hash
}

// New creates a Producer at height 0 with no genesis predecessor.
func New(cfg config.Config, bus *events.Bus, self models.NodeID, mempool Mempool, shards ShardExecutor, leaders LeaderSource, reputation ReputationReporter, phase PhaseSource, signer Signer) *Producer {
	p := &Producer{
		cfg:        cfg,
		bus:        bus,
		self:       self,
		mempool:    mempool,
		shards:     shards,
		leaders:    leaders,
		reputation: reputation,
		phase:      phase,
		signer:     signer,
	}
	if bus != nil {
		go p.collectWindowDistributions(bus.Subscribe(32))
	}
	return p
}

// collectWindowDistributions folds every WindowDistributed event the
// reward engine publishes into the in-progress macroblock period, so the
// next seal's PhaseSnapshot-adjacent WindowDistributions field reflects
// whatever reward windows closed since the last macroblock. This is the
// same "subscribe to the bus, accumulate in-process" shape BridgeBus uses
// for the websocket hub, just fed back into the producer instead of out
// to a client.
func (p *Producer) collectWindowDistributions(ch <-chan events.Event) {
	for ev := range ch {
		if ev.Kind != events.KindWindowDistributed {
			continue
		}
		wd, ok := ev.Payload.(models.WindowDistributed)
		if !ok {
			continue
		}
		p.mu.Lock()
		p.windowsInPeriod = append(p.windowsInPeriod, wd)
		p.mu.Unlock()
	}
}

// SetStore installs the durable blocks store; nil (the default) keeps
// Producer in-memory-only, which is what the unit tests exercise.
func (p *Producer) SetStore(store BlockStore) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store = store
}

func (p *Producer) persistMicroblock(hash chainhash.Hash, mb models.Microblock) {
	p.mu.Lock()
	store := p.store
	p.mu.Unlock()
	if store == nil {
		return
	}
	payload, err := EncodeMicroblock(mb)
	if err != nil {
		log.Printf("[Pipeline] failed to encode microblock %d: %v", mb.Height, err)
		return
	}
	if err := store.SaveMicroblock(context.Background(), mb.Height, hash, payload); err != nil {
		log.Printf("[Pipeline] failed to persist microblock %d: %v", mb.Height, err)
	}
}

func (p *Producer) persistMacroblock(macro models.Macroblock) {
	p.mu.Lock()
	store := p.store
	p.mu.Unlock()
	if store == nil {
		return
	}
	payload, err := EncodeMacroblock(macro)
	if err != nil {
		log.Printf("[Pipeline] failed to encode macroblock %d: %v", macro.Height, err)
		return
	}
	if err := store.SaveMacroblock(context.Background(), macro.Height, chainhash.Hash(qnhash.Sum256(payload)), payload); err != nil {
		log.Printf("[Pipeline] failed to persist macroblock %d: %v", macro.Height, err)
	}
}

// Tick runs one microblock-interval step: §4.F's "assemble and sign
// microblocks" plus the missed-leader fallback. Mempool drain and shard
// apply run in memory; when stores are installed, the touched accounts,
// the microblock and any macroblock sealed on this tick are written
// synchronously before Tick returns.
func (p *Producer) Tick(now time.Time) (*models.Microblock, error) {
	leader, roundNumber, ok := p.leaders.LatestFinalizedLeader()
	if !ok {
		p.recordMissedLeader(now)
		return nil, nil
	}

	transfers := p.mempool.Drain(p.cfg.MaxMicroblockTxs)
	txIDs := make([]chainhash.Hash, 0, len(transfers))
	for _, tr := range transfers {
		applied, err := p.shards.SubmitTransfer(tr.From, tr.To, tr.Amount, tr.Nonce, now)
		if err != nil {
			continue // rejected txs are simply not included; no block-level failure
		}
		txIDs = append(txIDs, applied.TxID)
	}

	p.mu.Lock()
	p.height++
	mb := models.Microblock{
		Height:        p.height,
		PrevHash:      p.prevHash,
		Leader:        leader,
		RoundNumber:   roundNumber,
		TxIDs:         txIDs,
		TimestampUnix: now.Unix(),
	}
	p.mu.Unlock()

	if p.signer != nil && leader == p.self {
		sig, err := p.signer.Sign(HashMicroblock(mb).CloneBytes())
		if err == nil {
			mb.Signature = sig
		}
	}

	hash := HashMicroblock(mb)
	p.mu.Lock()
	p.prevHash = hash
	p.microInPeriod = append(p.microInPeriod, MacroblockEntry{
		Summary: models.MacroblockSummary{MicroblockHeight: mb.Height, MicroblockHash: hash},
	})
	p.mu.Unlock()

	p.persistMicroblock(hash, mb)

	if p.bus != nil {
		p.bus.Publish(events.KindMicroblockProduced, models.MicroblockProduced{
			Height: mb.Height, Hash: hash, Leader: leader, NumTxs: len(txIDs),
		})
	}

	if p.microCount.Add(1) >= int64(p.cfg.MicroblocksPerMacroblock) {
		p.microCount.Store(0)
		p.sealMacroblock(now)
	}
	return &mb, nil
}

func (p *Producer) recordMissedLeader(now time.Time) {
	if p.reputation == nil {
		return
	}
	_, _ = p.reputation.ApplyEvent(models.Event{Kind: models.EventMissedLeader, Detail: "no leader ready for microblock slot", At: now})
}

// sealMacroblock implements §4.F's macroblock finality unit: aggregate
// microblock hashes, pool distribution summaries and a phase-state
// snapshot collected since the previous seal. CrossShardCommitments is
// built from MacroblockEntry.CrossShard, which Tick never fills, so no
// cross-shard commitments are recorded and the field is always empty.
func (p *Producer) sealMacroblock(now time.Time) {
	p.mu.Lock()
	entries := p.microInPeriod
	p.microInPeriod = nil
	windows := p.windowsInPeriod
	p.windowsInPeriod = nil
	firstHeight, lastHeight := int64(0), int64(0)
	summaries := make([]models.MacroblockSummary, 0, len(entries))
	var crossShard []chainhash.Hash
	for i, e := range entries {
		summaries = append(summaries, e.Summary)
		crossShard = append(crossShard, e.CrossShard...)
		if i == 0 {
			firstHeight = e.Summary.MicroblockHeight
		}
		lastHeight = e.Summary.MicroblockHeight
	}
	p.mu.Unlock()

	var phaseSnapshot models.PhaseState
	if p.phase != nil {
		phaseSnapshot = p.phase.PhaseState()
	}

	height := p.macroHeight.Add(1)
	macro := models.Macroblock{
		Height:                height,
		FirstMicroblockHeight: firstHeight,
		LastMicroblockHeight:  lastHeight,
		Microblocks:           summaries,
		CrossShardCommitments: crossShard,
		WindowDistributions:   windows,
		PhaseSnapshot:         phaseSnapshot,
		TimestampUnix:         now.Unix(),
	}

	p.persistMacroblock(macro)

	if p.bus != nil {
		p.bus.Publish(events.KindMacroblockSealed, models.MacroblockSealed{
			Height: macro.Height, NumBlocks: len(summaries),
		})
	}
}

// RunLoop drives Tick on a microblock_interval ticker, the same
// ticker-driven actor shape used by this core's other background loops.
func (p *Producer) RunLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.MicroblockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			_, _ = p.Tick(now)
		}
	}
}

// Height returns the latest produced microblock height.
func (p *Producer) Height() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}
