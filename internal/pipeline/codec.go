package pipeline

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/aiqnetlab/qnet-node/internal/qnhash"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// microblockCodecVersion / macroblockCodecVersion gate the wire format
// (Design Note: "reflection-based serialization -> explicit, versioned
// codecs"). JSON carries the full record for persistence/RPC; a separate
// deterministic byte encoding (below) is used only for hashing
// previous-block references, so JSON field reordering never changes a
// block's hash.
const (
	microblockCodecVersion byte = 1
	macroblockCodecVersion byte = 1
)

// EncodeMicroblock serializes mb as versionByte || JSON(mb).
func EncodeMicroblock(mb models.Microblock) ([]byte, error) {
	body, err := json.Marshal(mb)
	if err != nil {
		return nil, err
	}
	return append([]byte{microblockCodecVersion}, body...), nil
}

// DecodeMicroblock is the inverse of EncodeMicroblock.
func DecodeMicroblock(data []byte) (models.Microblock, error) {
	var mb models.Microblock
	if len(data) < 1 {
		return mb, fmt.Errorf("pipeline: empty microblock payload")
	}
	if data[0] != microblockCodecVersion {
		return mb, fmt.Errorf("pipeline: unsupported microblock codec version %d", data[0])
	}
	err := json.Unmarshal(data[1:], &mb)
	return mb, err
}

// EncodeMacroblock serializes mb as versionByte || JSON(mb).
func EncodeMacroblock(mb models.Macroblock) ([]byte, error) {
	body, err := json.Marshal(mb)
	if err != nil {
		return nil, err
	}
	return append([]byte{macroblockCodecVersion}, body...), nil
}

// DecodeMacroblock is the inverse of EncodeMacroblock.
func DecodeMacroblock(data []byte) (models.Macroblock, error) {
	var mb models.Macroblock
	if len(data) < 1 {
		return mb, fmt.Errorf("pipeline: empty macroblock payload")
	}
	if data[0] != macroblockCodecVersion {
		return mb, fmt.Errorf("pipeline: unsupported macroblock codec version %d", data[0])
	}
	err := json.Unmarshal(data[1:], &mb)
	return mb, err
}

// HashMicroblock computes the deterministic reference hash a subsequent
// microblock's PrevHash chains to. It hashes a fixed field layout rather
// than the JSON encoding, so it is stable across struct tag/order changes.
func HashMicroblock(mb models.Microblock) chainhash.Hash {
	var heightBuf, roundBuf, tsBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], uint64(mb.Height))
	binary.BigEndian.PutUint64(roundBuf[:], mb.RoundNumber)
	binary.BigEndian.PutUint64(tsBuf[:], uint64(mb.TimestampUnix))

	parts := [][]byte{heightBuf[:], mb.PrevHash[:], mb.Leader[:], roundBuf[:], tsBuf[:]}
	for _, id := range mb.TxIDs {
		idCopy := id
		parts = append(parts, idCopy[:])
	}
	return chainhash.Hash(qnhash.Sum256(parts...))
}
