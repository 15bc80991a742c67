package activation

import (
	"math"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

// CurrentPrice implements spec §4.B.1. Phase 1 pricing is universal across
// node types; Phase 2 pricing depends on node type and the current
// network-size tier.
func CurrentPrice(cfg config.Config, nodeType models.NodeType, phase models.PhaseState, activeNodeCount int64) (float64, error) {
	switch phase.Phase {
	case models.Phase1:
		return phase1Price(cfg, phase), nil
	case models.Phase2:
		return phase2Price(cfg, nodeType, activeNodeCount)
	default:
		return 0, unknownPhaseErr(phase.Phase)
	}
}

// phase1Price computes price(burn_ratio) = max(BASE - floor(burn_ratio*10)*STEP, FLOOR).
func phase1Price(cfg config.Config, phase models.PhaseState) float64 {
	ratio := burnRatio(cfg, phase)
	price := cfg.Phase1BasePrice - math.Floor(ratio*10)*cfg.Phase1Step
	if price < cfg.Phase1Floor {
		price = cfg.Phase1Floor
	}
	return price
}

func burnRatio(cfg config.Config, phase models.PhaseState) float64 {
	if cfg.Phase1TotalSupply <= 0 {
		return 0
	}
	return phase.Phase1TotalBurned / cfg.Phase1TotalSupply
}

func phase2Price(cfg config.Config, nodeType models.NodeType, activeNodeCount int64) (float64, error) {
	base, ok := cfg.Phase2BasePrices[string(nodeType)]
	if !ok {
		return 0, unknownNodeTypeErr(nodeType)
	}
	return base * cfg.Multiplier(activeNodeCount), nil
}
