// Package qnhash centralizes the core's one named hash primitive (BLAKE2b-256)
// so every component that needs it — ping-slot assignment, shard routing,
// the consensus commit/reveal/beacon hash, state-root Merkleization — hashes
// the same way instead of each growing its own helper.
package qnhash

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Sum256 hashes the concatenation of parts, each length-prefixed with a
// big-endian uint32, so "ab"+"c" and "a"+"bc" never collide.
func Sum256(parts ...[]byte) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for an invalid key/size, never hit here
	}
	var lenBuf [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// U64 returns the first 8 bytes of Sum256(data) as a big-endian uint64,
// the core's `blake2b_u64` primitive used for ping-slot assignment.
func U64(data []byte) uint64 {
	sum := Sum256(data)
	return binary.BigEndian.Uint64(sum[:8])
}

// U32LE returns the first 4 bytes of the plain BLAKE2b-256 digest of data
// (no length prefix, unlike Sum256) as a little-endian uint32, the core's
// `shard_of` primitive: little_endian_u32(blake2b(address)[0..4]).
func U32LE(data []byte) uint32 {
	sum := blake2b.Sum256(data)
	return binary.LittleEndian.Uint32(sum[:4])
}
