package rewards

import "github.com/aiqnetlab/qnet-node/internal/qnerr"

func notPrunedErr() error {
	return qnerr.New(qnerr.NotEligible, "node is not in the Pruned state")
}

func paidRestoreRequiredErr() error {
	return qnerr.New(qnerr.NotEligible, "free restoration conditions not met; paid reactivation required")
}
