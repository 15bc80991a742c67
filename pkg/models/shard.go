package models

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// AccountState is one address's balance/nonce within its owning shard.
// Invariant: Nonce increases strictly with every successfully applied tx;
// Balance never goes negative.
type AccountState struct {
	Address      Address `json:"address"`
	Balance      int64   `json:"balance"` // integer minor units, like satoshis
	Nonce        uint64  `json:"nonce"`
	ShardID      uint32  `json:"shardId"`
	LastActivity int64   `json:"lastActivity"`
}

// ShardStats is a lock-free snapshot of one shard's state, safe to read
// without taking the shard's mutex: an atomically-stored pointer to a
// value-typed snapshot struct.
type ShardStats struct {
	ShardID    uint32         `json:"shardId"`
	TxCount    int64          `json:"txCount"`
	Height     int64          `json:"height"`
	StateRoot  chainhash.Hash `json:"stateRoot"`
	NumAccounts int           `json:"numAccounts"`
	LastUpdate int64          `json:"lastUpdate"`
}

// CrossShardStatus is the 2PC lifecycle position of a CrossShardTx.
type CrossShardStatus string

const (
	CrossPending   CrossShardStatus = "Pending"
	CrossLocked    CrossShardStatus = "Locked"
	CrossCommitted CrossShardStatus = "Committed"
	CrossFailed    CrossShardStatus = "Failed"
	CrossReverted  CrossShardStatus = "Reverted"
)

// CrossShardTx is a two-phase-commit transfer between shards. Funds are
// debited iff Status in {Locked, Committed}; credited iff Status ==
// Committed.
type CrossShardTx struct {
	TxID       chainhash.Hash   `json:"txId"`
	FromShard  uint32           `json:"fromShard"`
	ToShard    uint32           `json:"toShard"`
	FromAddr   Address          `json:"fromAddr"`
	ToAddr     Address          `json:"toAddr"`
	Amount     int64            `json:"amount"`
	Nonce      uint64           `json:"nonce"`
	Status     CrossShardStatus `json:"status"`
	CreatedAt  int64            `json:"createdAt"`
	LockedAt   int64            `json:"lockedAt,omitempty"`
	ResolvedAt int64            `json:"resolvedAt,omitempty"`
}

// CrossShardStats is a snapshot copy of the coordinator's 2PC counters;
// GetCrossShardStats takes it under the coordinator's mutex, so reading
// it is not lock-free.
type CrossShardStats struct {
	Pending   int `json:"pending"`
	Locked    int `json:"locked"`
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
	Reverted  int `json:"reverted"`
}

// TxApplied is emitted after a successful intra-shard transfer.
type TxApplied struct {
	TxID    chainhash.Hash `json:"txId"`
	ShardID uint32         `json:"shardId"`
	From    Address        `json:"from"`
	To      Address        `json:"to"`
	Amount  int64          `json:"amount"`
}
