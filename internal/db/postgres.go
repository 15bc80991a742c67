// Package db is the core's persistence adapter: pgxpool + one table per
// logical store (blocks, state, meta, activation_ledger, reputation),
// built around one pgxpool.Pool, a schema-driven InitSchema, and
// tx.Begin/Commit for multi-statement writes. The abstract KV/append-only-
// log interface the consensus core assumes is this package's Store type;
// swapping backends means swapping this package, never the components
// above it.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Store is a pgxpool-backed implementation of the core's persisted state
// layout. All five logical stores share one Postgres instance, many tables.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and verifies connectivity.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("db: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping failed: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the five logical stores if they don't already exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("db: schema init failed: %w", err)
	}
	return nil
}

// --- blocks -----------------------------------------------------------

// SaveMicroblock persists an encoded microblock keyed by height.
func (s *Store) SaveMicroblock(ctx context.Context, height int64, hash chainhash.Hash, payload []byte) error {
	return s.saveBlock(ctx, "micro", height, hash, payload)
}

// SaveMacroblock persists an encoded macroblock keyed by height.
func (s *Store) SaveMacroblock(ctx context.Context, height int64, hash chainhash.Hash, payload []byte) error {
	return s.saveBlock(ctx, "macro", height, hash, payload)
}

func (s *Store) saveBlock(ctx context.Context, kind string, height int64, hash chainhash.Hash, payload []byte) error {
	const q = `
		INSERT INTO blocks (height, kind, hash, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, height) DO UPDATE
		SET hash = EXCLUDED.hash, payload = EXCLUDED.payload;
	`
	_, err := s.pool.Exec(ctx, q, height, kind, hash[:], payload)
	return err
}

// GetBlock fetches the encoded payload for a block of the given kind
// ("micro" or "macro") at height, implementing the `get_block` ingress RPC.
func (s *Store) GetBlock(ctx context.Context, kind string, height int64) ([]byte, error) {
	const q = `SELECT payload FROM blocks WHERE kind = $1 AND height = $2`
	var payload []byte
	err := s.pool.QueryRow(ctx, q, kind, height).Scan(&payload)
	return payload, err
}

// --- state (sharded accounts) ------------------------------------------

// UpsertAccount persists one shard's view of an account.
func (s *Store) UpsertAccount(ctx context.Context, acct models.AccountState) error {
	const q = `
		INSERT INTO state (shard_id, address, balance, nonce, last_activity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shard_id, address) DO UPDATE
		SET balance = EXCLUDED.balance, nonce = EXCLUDED.nonce, last_activity = EXCLUDED.last_activity;
	`
	_, err := s.pool.Exec(ctx, q, acct.ShardID, string(acct.Address), acct.Balance, acct.Nonce, acct.LastActivity)
	return err
}

// GetAccount fetches one account's persisted state.
func (s *Store) GetAccount(ctx context.Context, shardID uint32, addr models.Address) (models.AccountState, error) {
	const q = `SELECT shard_id, address, balance, nonce, last_activity FROM state WHERE shard_id = $1 AND address = $2`
	var acct models.AccountState
	var address string
	err := s.pool.QueryRow(ctx, q, shardID, string(addr)).Scan(&acct.ShardID, &address, &acct.Balance, &acct.Nonce, &acct.LastActivity)
	acct.Address = models.Address(address)
	return acct, err
}

// --- meta (phase state, pool state, window index, latest heights) ------

// SetMeta upserts a named JSON-encoded scalar.
func (s *Store) SetMeta(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value;
	`
	_, err = s.pool.Exec(ctx, q, key, body)
	return err
}

// GetMeta fetches and decodes a named scalar into dst.
func (s *Store) GetMeta(ctx context.Context, key string, dst any) error {
	const q = `SELECT value FROM meta WHERE key = $1`
	var body []byte
	if err := s.pool.QueryRow(ctx, q, key).Scan(&body); err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

// --- activation_ledger ---------------------------------------------------

// SaveActivationEntry persists one activation entry. The proof column's
// primary key gives duplicate-proof detection (§4.B invariant) a
// durable backstop beneath the in-memory Ledger's dedup set.
func (s *Store) SaveActivationEntry(ctx context.Context, entry models.ActivationEntry) error {
	const q = `
		INSERT INTO activation_ledger (proof, node_id, node_type, phase, paid_amount, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (proof) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, q, string(entry.Proof), entry.NodeID.String(), string(entry.NodeType), string(entry.Phase), entry.PaidAmount, entry.Timestamp)
	return err
}

// HasProof reports whether proof has already been recorded.
func (s *Store) HasProof(ctx context.Context, proof models.Proof) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM activation_ledger WHERE proof = $1)`
	var exists bool
	err := s.pool.QueryRow(ctx, q, string(proof)).Scan(&exists)
	return exists, err
}

// --- reputation ----------------------------------------------------------

// reputationEventRecord is the JSON shape stored per node in the
// reputation table's events column, an append-only audit trail of
// applied events distinct from the in-memory idempotency set.
type reputationEventRecord struct {
	EventID string    `json:"eventId"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
}

// SaveReputationScore upserts a node's current score and appends one
// event to its audit trail in a single transaction.
func (s *Store) SaveReputationScore(ctx context.Context, nodeID models.NodeID, score float64, ev models.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	record := reputationEventRecord{EventID: ev.EventID, Kind: string(ev.Kind), At: ev.At}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO reputation (node_id, score, events)
		VALUES ($1, $2, jsonb_build_array($3::jsonb))
		ON CONFLICT (node_id) DO UPDATE
		SET score = EXCLUDED.score, events = reputation.events || EXCLUDED.events;
	`
	if _, err := tx.Exec(ctx, q, nodeID.String(), score, body); err != nil {
		return fmt.Errorf("db: save reputation score: %w", err)
	}
	return tx.Commit(ctx)
}

// GetReputationScore fetches a node's persisted score.
func (s *Store) GetReputationScore(ctx context.Context, nodeID models.NodeID) (float64, error) {
	const q = `SELECT score FROM reputation WHERE node_id = $1`
	var score float64
	err := s.pool.QueryRow(ctx, q, nodeID.String()).Scan(&score)
	return score, err
}

// Pool exposes the underlying pgxpool.Pool for callers (e.g. a future
// migration runner) that need it directly.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
