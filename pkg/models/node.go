package models

import "time"

// NodeRecord is the per-node account the rest of the core reads. Exactly
// one active record exists per owner address; a Banned record is never
// present in any eligibility set.
type NodeRecord struct {
	NodeID                 NodeID     `json:"nodeId"`
	NodeType               NodeType   `json:"nodeType"`
	OwnerAddress           Address    `json:"ownerAddress"`
	ActivationEpoch        int64      `json:"activationEpoch"`
	Reputation             float64    `json:"reputation"` // clamped to [0,100]
	LastPingUnix           int64      `json:"lastPingUnix"`
	Status                 NodeStatus `json:"status"`
	QuarantinedUntil       int64      `json:"quarantinedUntil,omitempty"`
	RestorationCountWindow int        `json:"restorationCountWindow"`
	RestorationWindowStart int64      `json:"restorationWindowStart,omitempty"`
	PrunedAtUnix           int64      `json:"prunedAtUnix,omitempty"`
	LastActiveUnix         int64      `json:"lastActiveUnix,omitempty"`
}

// IsEligibleStatus reports whether the node's status alone permits
// participation in consensus or new-reward eligibility. Quarantine/ban
// dates are evaluated by the owning component (auto-promotion semantics
// differ by caller), this only checks the coarse state.
func (n NodeRecord) IsEligibleStatus(now time.Time) bool {
	switch n.Status {
	case StatusActive:
		return true
	case StatusQuarantined:
		return n.QuarantinedUntil <= now.Unix() // auto-promoted once expired
	default:
		return false
	}
}

// EventKind enumerates the reputation-affecting events a node can generate.
type EventKind string

const (
	EventParticipatedCommit EventKind = "ParticipatedCommit"
	EventParticipatedReveal EventKind = "ParticipatedReveal"
	EventMissedPing         EventKind = "MissedPing"
	EventMissedLeader       EventKind = "MissedLeader"
	EventAttackDetected     EventKind = "AttackDetected"
	EventDoubleSign         EventKind = "DoubleSign"
	EventSpam               EventKind = "Spam"
)

// Event is one reputation-affecting occurrence, idempotent per (NodeID, EventID).
type Event struct {
	EventID string    `json:"eventId"`
	NodeID  NodeID    `json:"nodeId"`
	Kind    EventKind `json:"kind"`
	Detail  string    `json:"detail,omitempty"` // e.g. the AttackDetected sub-kind
	At      time.Time `json:"at"`
}

// BanRequest is surfaced by the Reputation Registry when an event's delta
// crosses the ban threshold. The registry never mutates NodeRecord.Status
// itself — the Reward Pool Engine (the status owner) acts on this request.
type BanRequest struct {
	NodeID NodeID    `json:"nodeId"`
	Reason EventKind `json:"reason"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}
