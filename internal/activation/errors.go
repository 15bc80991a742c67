package activation

import (
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

func unknownPhaseErr(phase models.Phase) error {
	return qnerr.Newf(qnerr.WrongPhase, "unknown phase %q", phase)
}

func unknownNodeTypeErr(nodeType models.NodeType) error {
	return qnerr.Newf(qnerr.UnknownNodeType, "unknown node type %q", nodeType)
}

func insufficientPaymentErr(required, given float64) error {
	return qnerr.New(qnerr.InsufficientPayment, "payment below required activation price").
		WithFields(map[string]any{"required": required, "given": given})
}

func duplicateProofErr(proof models.Proof) error {
	return qnerr.Newf(qnerr.DuplicateProof, "proof %q already used for an activation", proof)
}

func ownerAlreadyActiveErr(owner models.Address) error {
	return qnerr.Newf(qnerr.OwnerAlreadyActive, "owner %q already owns an active node", owner)
}

func wrongPhaseErr(expected, got models.Phase) error {
	return qnerr.Newf(qnerr.WrongPhase, "operation requires phase %q, ledger is in %q", expected, got)
}
