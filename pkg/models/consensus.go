package models

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// RoundPhase is the consensus round's state-machine position.
type RoundPhase string

const (
	RoundIdle      RoundPhase = "Idle"
	RoundCommit    RoundPhase = "Commit"
	RoundReveal    RoundPhase = "Reveal"
	RoundFinalized RoundPhase = "Finalized"
)

// Commit is one node's committed hash for a round.
type Commit struct {
	Hash      chainhash.Hash `json:"hash"`
	Signature []byte         `json:"signature"`
	AtUnix    int64          `json:"atUnix"`
}

// Reveal is one node's revealed value for a round, accepted only once it
// matches the node's prior Commit.
type Reveal struct {
	Value  string `json:"value"`
	Nonce  string `json:"nonce"`
	AtUnix int64  `json:"atUnix"`
}

// ConsensusRound is the per-round state. Finalized rounds are immutable;
// Reveals is always a subset of Commits by node_id.
type ConsensusRound struct {
	RoundNumber    uint64                  `json:"roundNumber"`
	Phase          RoundPhase              `json:"phase"`
	StartUnix      int64                   `json:"startUnix"`
	CommitDeadline int64                   `json:"commitDeadline"`
	RevealDeadline int64                   `json:"revealDeadline"`
	Commits        map[NodeID]Commit       `json:"commits"`
	Reveals        map[NodeID]Reveal       `json:"reveals"`
	Difficulty     int                     `json:"difficulty"`
	Winner         *NodeID                 `json:"winner,omitempty"`
	Beacon         chainhash.Hash          `json:"beacon"`
}

// RoundFinalized is the egress event emitted when a round reaches Finalized.
type RoundFinalized struct {
	RoundNumber uint64  `json:"roundNumber"`
	HasWinner   bool    `json:"hasWinner"`
	Winner      *NodeID `json:"winner,omitempty"`
	NumCommits  int     `json:"numCommits"`
	NumReveals  int     `json:"numReveals"`
	DurationMs  int64   `json:"durationMs"`
}

// LeaderSelected is the egress event emitted the moment a winner is picked,
// ahead of the round's full finalization bookkeeping.
type LeaderSelected struct {
	RoundNumber uint64 `json:"roundNumber"`
	Leader      NodeID `json:"leader"`
	Beacon      string `json:"beacon"`
}
