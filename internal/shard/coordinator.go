package shard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/events"
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AccountStore persists one shard's account view to the durable `state`
// logical store. A nil store (the default) keeps the Coordinator
// in-memory-only, the shape the unit tests exercise; the composition root
// installs a real one via SetStore.
type AccountStore interface {
	UpsertAccount(ctx context.Context, acct models.AccountState) error
}

// Coordinator owns the locally-managed shards and drives the cross-shard
// two-phase-commit pipeline described in §4.E.3. It satisfies
// rewards.BalanceCrediter by routing Credit calls to the owning shard.
type Coordinator struct {
	cfg    config.Config
	bus    *events.Bus
	shards map[uint32]*Shard

	mu      sync.Mutex
	pending map[chainhash.Hash]*models.CrossShardTx
	queue   chan chainhash.Hash
	stats   models.CrossShardStats
	store   AccountStore
}

// New builds a Coordinator owning cfg.ManagedShards (or all cfg.TotalShards
// if unset).
func New(cfg config.Config, bus *events.Bus) *Coordinator {
	managed := cfg.ManagedShards
	if len(managed) == 0 {
		managed = make([]uint32, cfg.TotalShards)
		for i := range managed {
			managed[i] = uint32(i)
		}
	}
	shards := make(map[uint32]*Shard, len(managed))
	for _, id := range managed {
		shards[id] = NewShard(id)
	}
	return &Coordinator{
		cfg:     cfg,
		bus:     bus,
		shards:  shards,
		pending: make(map[chainhash.Hash]*models.CrossShardTx),
		queue:   make(chan chainhash.Hash, cfg.MaxCrossShardTxs),
	}
}

// SetStore installs the durable account store; nil (the default) keeps
// the Coordinator in-memory-only, which is what the unit tests exercise.
func (c *Coordinator) SetStore(store AccountStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
}

// persistAccount best-effort persists addr's current state on s. A
// persistence failure is logged, never surfaced to the caller: the
// in-memory Shard remains the authority, the store is a read-model.
func (c *Coordinator) persistAccount(s *Shard, addr models.Address) {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	if store == nil {
		return
	}
	acct, ok := s.Account(addr)
	if !ok {
		return
	}
	if err := store.UpsertAccount(context.Background(), acct); err != nil {
		log.Printf("[Shard] failed to persist account %s: %v", addr, err)
	}
}

// ShardFor routes addr to its owning shard ID per §4.E.1.
func (c *Coordinator) ShardFor(addr models.Address) uint32 {
	return Of(addr, c.cfg.TotalShards)
}

func (c *Coordinator) shardFor(id uint32) (*Shard, error) {
	s, ok := c.shards[id]
	if !ok {
		return nil, shardNotManagedErr(id)
	}
	return s, nil
}

// SubmitTransfer applies from→to: intra-shard via Shard.Apply if both
// addresses route to the same managed shard, otherwise enqueues a
// cross-shard 2PC transfer.
func (c *Coordinator) SubmitTransfer(from, to models.Address, amount int64, nonce uint64, now time.Time) (models.TxApplied, error) {
	fromShardID := c.ShardFor(from)
	toShardID := c.ShardFor(to)

	if fromShardID == toShardID {
		s, err := c.shardFor(fromShardID)
		if err != nil {
			return models.TxApplied{}, err
		}
		applied, err := s.Apply(from, to, amount, nonce, now.Unix())
		if err != nil {
			return models.TxApplied{}, err
		}
		c.persistAccount(s, from)
		c.persistAccount(s, to)
		return applied, nil
	}

	txID, err := c.beginCrossShard(fromShardID, toShardID, from, to, amount, nonce, now)
	if err != nil {
		return models.TxApplied{}, err
	}
	return models.TxApplied{TxID: txID, ShardID: fromShardID, From: from, To: to, Amount: amount}, nil
}

// beginCrossShard implements 2PC step 1 (Pending) + step 2 (prepare/Lock)
// per §4.E.3: debit the source shard immediately under Locked, queue the
// commit side for ProcessQueue to complete.
func (c *Coordinator) beginCrossShard(fromShardID, toShardID uint32, from, to models.Address, amount int64, nonce uint64, now time.Time) (chainhash.Hash, error) {
	fromShard, err := c.shardFor(fromShardID)
	if err != nil {
		return chainhash.Hash{}, err
	}
	// Shed load before any balance moves once the bounded queue is full.
	if len(c.queue) >= cap(c.queue) {
		return chainhash.Hash{}, qnerr.New(qnerr.QueueFull, "cross-shard queue is at capacity")
	}

	id := txID(from, to, nonce, now.Unix())
	tx := &models.CrossShardTx{
		TxID: id, FromShard: fromShardID, ToShard: toShardID,
		FromAddr: from, ToAddr: to, Amount: amount, Nonce: nonce,
		Status: models.CrossPending, CreatedAt: now.Unix(),
	}

	c.mu.Lock()
	c.pending[id] = tx
	c.stats.Pending++
	c.mu.Unlock()
	c.publish(tx)

	if err := fromShard.Debit(from, amount, nonce, now.Unix()); err != nil {
		c.mu.Lock()
		tx.Status = models.CrossFailed
		tx.ResolvedAt = now.Unix()
		c.stats.Pending--
		c.stats.Failed++
		c.mu.Unlock()
		c.publish(tx)
		return chainhash.Hash{}, err
	}
	c.persistAccount(fromShard, from)

	c.mu.Lock()
	tx.Status = models.CrossLocked
	tx.LockedAt = now.Unix()
	c.stats.Pending--
	c.stats.Locked++
	c.mu.Unlock()
	c.publish(tx)

	select {
	case c.queue <- id:
	default:
		// Lost a race for the last queue slot: the tx stays Locked and is
		// not re-queued, so RevertExpired unwinds it once the revert
		// window passes.
	}
	return id, nil
}

// ProcessQueue drains queued Locked transfers, crediting the destination
// shard if it is locally managed (commit) or leaving the tx Locked for an
// out-of-process peer shard to pick up via its own queue (cross-node
// topologies are out of scope; single-node deployments manage every shard).
func (c *Coordinator) ProcessQueue(now time.Time) {
	for {
		select {
		case id := <-c.queue:
			c.commitOne(id, now)
		default:
			return
		}
	}
}

func (c *Coordinator) commitOne(id chainhash.Hash, now time.Time) {
	c.mu.Lock()
	tx, ok := c.pending[id]
	c.mu.Unlock()
	if !ok || tx.Status != models.CrossLocked {
		return
	}

	toShard, err := c.shardFor(tx.ToShard)
	if err != nil {
		// Destination not locally managed: leave Locked, a remote
		// coordinator instance is expected to complete its half.
		return
	}
	if err := toShard.Credit(tx.ToAddr, tx.Amount, now.Unix()); err != nil {
		return
	}
	c.persistAccount(toShard, tx.ToAddr)

	c.mu.Lock()
	tx.Status = models.CrossCommitted
	tx.ResolvedAt = now.Unix()
	c.stats.Locked--
	c.stats.Committed++
	c.mu.Unlock()
	c.publish(tx)
}

// RevertExpired reverts any Locked transfer older than
// cfg.CrossShardRevertWindow, crediting the source back (§4.E.3's
// unwind-on-timeout requirement).
func (c *Coordinator) RevertExpired(now time.Time) {
	cutoff := now.Add(-c.cfg.CrossShardRevertWindow).Unix()

	c.mu.Lock()
	var expired []*models.CrossShardTx
	for _, tx := range c.pending {
		if tx.Status == models.CrossLocked && tx.LockedAt < cutoff {
			expired = append(expired, tx)
		}
	}
	c.mu.Unlock()

	for _, tx := range expired {
		fromShard, err := c.shardFor(tx.FromShard)
		if err != nil {
			continue
		}
		if err := fromShard.Credit(tx.FromAddr, tx.Amount, now.Unix()); err != nil {
			continue
		}
		c.persistAccount(fromShard, tx.FromAddr)
		c.mu.Lock()
		tx.Status = models.CrossReverted
		tx.ResolvedAt = now.Unix()
		c.stats.Locked--
		c.stats.Reverted++
		c.mu.Unlock()
		c.publish(tx)
	}
}

// Credit satisfies rewards.BalanceCrediter: amountMinorUnits is credited to
// address's owning shard, creating the account if needed. Reward credits
// never cross shards since they originate locally per shard.
func (c *Coordinator) Credit(address models.Address, amountMinorUnits int64) error {
	shardID := c.ShardFor(address)
	s, err := c.shardFor(shardID)
	if err != nil {
		return err
	}
	if err := s.Credit(address, amountMinorUnits, time.Now().Unix()); err != nil {
		return err
	}
	c.persistAccount(s, address)
	return nil
}

// GetShardStats returns the lock-free stats snapshot for a managed shard.
func (c *Coordinator) GetShardStats(shardID uint32) (models.ShardStats, error) {
	s, err := c.shardFor(shardID)
	if err != nil {
		return models.ShardStats{}, err
	}
	return s.Stats(), nil
}

// GetCrossShardStats returns a snapshot of the 2PC queue counters.
func (c *Coordinator) GetCrossShardStats() models.CrossShardStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Coordinator) publish(tx *models.CrossShardTx) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.KindCrossShardTxUpdated, *tx)
}

// RunLoop periodically drains the commit queue and reverts timed-out
// locks, a ticker-driven actor like the rest of this package's background
// loops.
func (c *Coordinator) RunLoop(stop <-chan struct{}, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			c.ProcessQueue(now)
			c.RevertExpired(now)
		}
	}
}
