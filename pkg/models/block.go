package models

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// Microblock is the 1-second production unit. Heights are strictly
// monotonic; PrevHash chains to the previous microblock.
type Microblock struct {
	Height    int64          `json:"height"`
	PrevHash  chainhash.Hash `json:"prevHash"`
	Leader    NodeID         `json:"leader"`
	RoundNumber uint64       `json:"roundNumber"`
	TxIDs     []chainhash.Hash `json:"txIds"`
	Signature []byte         `json:"signature"`
	TimestampUnix int64      `json:"timestampUnix"`
}

// MacroblockSummary is one microblock's contribution folded into a
// macroblock: just enough to verify inclusion without re-deriving it.
type MacroblockSummary struct {
	MicroblockHeight int64          `json:"microblockHeight"`
	MicroblockHash   chainhash.Hash `json:"microblockHash"`
}

// Macroblock is the 90-microblock finality unit: it aggregates microblock
// hashes, pool distribution summaries, and a phase-state snapshot. The
// block pipeline records no cross-shard commitments, so
// CrossShardCommitments is always empty.
type Macroblock struct {
	Height                int64                `json:"height"`
	FirstMicroblockHeight int64                `json:"firstMicroblockHeight"`
	LastMicroblockHeight  int64                `json:"lastMicroblockHeight"`
	Microblocks           []MacroblockSummary  `json:"microblocks"`
	CrossShardCommitments []chainhash.Hash     `json:"crossShardCommitments"`
	WindowDistributions   []WindowDistributed  `json:"windowDistributions"`
	PhaseSnapshot         PhaseState           `json:"phaseSnapshot"`
	TimestampUnix         int64                `json:"timestampUnix"`
}

// MicroblockProduced / MacroblockSealed are the block-pipeline egress events.
type MicroblockProduced struct {
	Height int64          `json:"height"`
	Hash   chainhash.Hash `json:"hash"`
	Leader NodeID         `json:"leader"`
	NumTxs int            `json:"numTxs"`
}

type MacroblockSealed struct {
	Height     int64          `json:"height"`
	NumBlocks  int            `json:"numBlocks"`
}
