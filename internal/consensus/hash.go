package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/aiqnetlab/qnet-node/internal/qnhash"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// revealHash computes H(value, nonce, round_number, node_id), the
// commitment a reveal must reproduce to match its prior commit (§4.D.1).
func revealHash(value, nonce string, round uint64, nodeID models.NodeID) chainhash.Hash {
	var roundBuf [8]byte
	binary.BigEndian.PutUint64(roundBuf[:], round)
	return chainhash.Hash(qnhash.Sum256([]byte(value), []byte(nonce), roundBuf[:], nodeID[:]))
}

// commitMessage is the payload a commit's signature must cover: "r:hash",
// the round number in decimal and the hash bytes as lowercase hex.
func commitMessage(round uint64, hash chainhash.Hash) []byte {
	return []byte(fmt.Sprintf("%d:%x", round, hash[:]))
}

// beaconHash computes beacon = H(concat(values)) over reveals already
// sorted by node_id ascending.
func beaconHash(valuesConcat string) chainhash.Hash {
	return chainhash.Hash(qnhash.Sum256([]byte(valuesConcat)))
}
