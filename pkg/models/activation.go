package models

import "time"

// ActivationEntry records a single node activation. Proof is globally
// unique across all entries; genesis entries carry PaidAmount=0 and a
// reserved proof tag (GenesisProofPrefix).
type ActivationEntry struct {
	NodeID       NodeID    `json:"nodeId"`
	NodeType     NodeType  `json:"nodeType"`
	OwnerAddress Address   `json:"ownerAddress"`
	Phase        Phase     `json:"phase"`
	PaidAmount   float64   `json:"paidAmount"`
	Proof        Proof     `json:"proof"`
	Timestamp    time.Time `json:"timestamp"`
}

// PhaseState is the global node-activation phase tracker. Transition is
// one-way: once Phase2, Phase never reverts.
type PhaseState struct {
	Phase              Phase      `json:"phase"`
	Phase1TotalBurned   float64    `json:"phase1TotalBurned"`
	Phase1LaunchUnix    int64      `json:"phase1LaunchUnix"`
	TransitionedAtUnix  *int64     `json:"transitionedAtUnix,omitempty"`
}

// PhaseTransition is emitted exactly once, the instant the ledger flips
// from Phase1 to Phase2.
type PhaseTransition struct {
	FromPhase  Phase   `json:"fromPhase"`
	ToPhase    Phase   `json:"toPhase"`
	BurnRatio  float64 `json:"burnRatio"`
	AtUnix     int64   `json:"atUnix"`
	Reason     string  `json:"reason"` // "burn_threshold" | "max_years"
}
