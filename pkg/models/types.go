// Package models holds the persisted/wire record shapes shared across the
// consensus-and-execution core: plain structs with JSON tags, no behavior.
package models

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// NodeID is a node's stable identifier, derived from its public key.
// Reusing chainhash.Hash gives it a tested fixed-size encode/decode and
// String()/NewHashFromStr() round trip for free.
type NodeID = chainhash.Hash

// Address is a QNet account address (opaque to the core; the wallet layer
// that derives it from a public key is out of scope, spec §1).
type Address string

// Proof is the external-chain burn tx id (Phase 1) or native-spend tx id
// (Phase 2) backing an ActivationEntry. Globally unique across all entries.
type Proof string

// NodeType is the class of a node, which drives pricing and reward splits.
type NodeType string

const (
	NodeTypeLight NodeType = "Light"
	NodeTypeFull  NodeType = "Full"
	NodeTypeSuper NodeType = "Super"
)

// NodeStatus is the lifecycle state of a NodeRecord.
type NodeStatus string

const (
	StatusActive      NodeStatus = "Active"
	StatusQuarantined NodeStatus = "Quarantined"
	StatusPruned      NodeStatus = "Pruned"
	StatusBanned      NodeStatus = "Banned"
)

// Phase is the global node-activation phase.
type Phase string

const (
	Phase1 Phase = "Phase1"
	Phase2 Phase = "Phase2"
)

// ReservedProofTag prefixes identify non-purchase activation entries.
const (
	GenesisProofPrefix   = "GENESIS_"
	MigrationProofPrefix = "MIGRATION_"
)
