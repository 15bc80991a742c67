package shard

import (
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

func shardNotManagedErr(shardID uint32) error {
	return qnerr.Newf(qnerr.ShardNotManaged, "shard %d is not managed by this node", shardID)
}

func invalidNonceErr(expected, given uint64) error {
	return qnerr.New(qnerr.InvalidNonce, "nonce is not account.nonce+1").
		WithFields(map[string]any{"expected": expected, "given": given})
}

func insufficientBalanceErr(addr models.Address, balance, amount int64) error {
	return qnerr.New(qnerr.InsufficientBalance, "balance below transfer amount").
		WithFields(map[string]any{"address": addr, "balance": balance, "amount": amount})
}
