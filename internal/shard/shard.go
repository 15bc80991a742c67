// Package shard implements the Shard Coordinator (§4.E): address routing,
// intra-shard account execution, state-root Merkleization, and the
// cross-shard two-phase-commit pipeline. Each Shard is its own actor: a
// mutex-guarded map plus a lock-free snapshot other goroutines can read
// without contention.
package shard

import (
	"sync"
	"sync/atomic"

	"github.com/aiqnetlab/qnet-node/pkg/models"
)

// Shard owns one shard's account set exclusively.
type Shard struct {
	id       uint32
	mu       sync.Mutex
	accounts map[models.Address]*models.AccountState
	txCount  int64
	height   int64

	snapshot atomic.Pointer[models.ShardStats]
}

// NewShard creates an empty Shard with id.
func NewShard(id uint32) *Shard {
	s := &Shard{id: id, accounts: make(map[models.Address]*models.AccountState)}
	s.refreshSnapshotLocked(0)
	return s
}

// Stats returns a lock-free snapshot of the shard's state.
func (s *Shard) Stats() models.ShardStats {
	return *s.snapshot.Load()
}

// Account returns a snapshot copy of addr's current state, if known.
func (s *Shard) Account(addr models.Address) (models.AccountState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[addr]
	if !ok {
		return models.AccountState{}, false
	}
	return *acct, true
}

func (s *Shard) getOrCreateLocked(addr models.Address) *models.AccountState {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = &models.AccountState{Address: addr, ShardID: s.id}
		s.accounts[addr] = acct
	}
	return acct
}

func (s *Shard) refreshSnapshotLocked(now int64) {
	s.snapshot.Store(&models.ShardStats{
		ShardID:     s.id,
		TxCount:     s.txCount,
		Height:      s.height,
		StateRoot:   merkleRoot(s.accounts),
		NumAccounts: len(s.accounts),
		LastUpdate:  now,
	})
}

// SetHeight stamps the shard's last-applied block height, called by the
// block pipeline once a microblock touching this shard lands.
func (s *Shard) SetHeight(height, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = height
	s.refreshSnapshotLocked(now)
}

// Apply executes an intra-shard transfer per §4.E.2: nonce must be
// exactly account.nonce+1, balance must cover amount.
func (s *Shard) Apply(from, to models.Address, amount int64, nonce uint64, now int64) (models.TxApplied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromAcct := s.getOrCreateLocked(from)
	if nonce != fromAcct.Nonce+1 {
		return models.TxApplied{}, invalidNonceErr(fromAcct.Nonce+1, nonce)
	}
	if fromAcct.Balance < amount {
		return models.TxApplied{}, insufficientBalanceErr(from, fromAcct.Balance, amount)
	}

	fromAcct.Balance -= amount
	fromAcct.Nonce = nonce
	fromAcct.LastActivity = now

	toAcct := s.getOrCreateLocked(to)
	toAcct.Balance += amount
	toAcct.LastActivity = now

	s.txCount++
	s.refreshSnapshotLocked(now)

	return models.TxApplied{
		TxID: txID(from, to, nonce, now), ShardID: s.id, From: from, To: to, Amount: amount,
	}, nil
}

// Debit removes amount from addr without touching "to" — the prepare half
// of a cross-shard transfer (§4.E.3 step 2). Nonce ordering is still
// enforced per account.
func (s *Shard) Debit(addr models.Address, amount int64, nonce uint64, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.getOrCreateLocked(addr)
	if nonce != acct.Nonce+1 {
		return invalidNonceErr(acct.Nonce+1, nonce)
	}
	if acct.Balance < amount {
		return insufficientBalanceErr(addr, acct.Balance, amount)
	}
	acct.Balance -= amount
	acct.Nonce = nonce
	acct.LastActivity = now
	s.refreshSnapshotLocked(now)
	return nil
}

// Credit adds amount to addr, creating the account lazily — used both by
// the cross-shard commit phase and by reward distribution.
func (s *Shard) Credit(addr models.Address, amount int64, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.getOrCreateLocked(addr)
	acct.Balance += amount
	acct.LastActivity = now
	s.refreshSnapshotLocked(now)
	return nil
}
