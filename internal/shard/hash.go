package shard

import (
	"encoding/binary"
	"sort"

	"github.com/aiqnetlab/qnet-node/internal/qnhash"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Of implements §4.E.1's address-to-shard mapping:
// shard_of(address) = little_endian_u32(blake2b(address)[0..4]) mod N.
func Of(addr models.Address, n uint32) uint32 {
	return qnhash.U32LE([]byte(addr)) % n
}

// merkleRoot Merkleizes (address, balance, nonce) leaves sorted by address,
// pairwise blake2b, duplicating the last leaf on an odd level — the
// "stable hash" construction named in §4.E.2/§8.
func merkleRoot(accounts map[models.Address]*models.AccountState) chainhash.Hash {
	if len(accounts) == 0 {
		return chainhash.Hash{}
	}
	addrs := make([]string, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, string(addr))
	}
	sort.Strings(addrs)

	level := make([][32]byte, len(addrs))
	for i, addr := range addrs {
		acct := accounts[models.Address(addr)]
		var balBuf, nonceBuf [8]byte
		binary.BigEndian.PutUint64(balBuf[:], uint64(acct.Balance))
		binary.BigEndian.PutUint64(nonceBuf[:], acct.Nonce)
		level[i] = qnhash.Sum256([]byte(acct.Address), balBuf[:], nonceBuf[:])
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, qnhash.Sum256(level[i][:], level[i+1][:]))
			} else {
				next = append(next, qnhash.Sum256(level[i][:], level[i][:]))
			}
		}
		level = next
	}
	return chainhash.Hash(level[0])
}

// txID implements §4.E.2's tx_id = hash of (from, to, nonce, timestamp).
func txID(from, to models.Address, nonce uint64, timestampUnix int64) chainhash.Hash {
	var nonceBuf, tsBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestampUnix))
	return chainhash.Hash(qnhash.Sum256([]byte(from), []byte(to), nonceBuf[:], tsBuf[:]))
}
