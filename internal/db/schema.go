package db

// schemaSQL creates the five logical stores: blocks, state (sharded
// accounts), meta (phase/pool/window/height scalars), activation_ledger,
// and reputation. Kept as an embedded constant rather than a loose
// schema.sql file read off disk, so a single binary carries its own
// migration with it.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	height  BIGINT NOT NULL,
	kind    TEXT NOT NULL CHECK (kind IN ('micro', 'macro')),
	hash    BYTEA NOT NULL,
	payload BYTEA NOT NULL,
	PRIMARY KEY (kind, height)
);

CREATE TABLE IF NOT EXISTS state (
	shard_id      INTEGER NOT NULL,
	address       TEXT NOT NULL,
	balance       BIGINT NOT NULL,
	nonce         BIGINT NOT NULL,
	last_activity BIGINT NOT NULL,
	PRIMARY KEY (shard_id, address)
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS activation_ledger (
	proof       TEXT PRIMARY KEY,
	node_id     TEXT NOT NULL,
	node_type   TEXT NOT NULL,
	phase       TEXT NOT NULL,
	paid_amount DOUBLE PRECISION NOT NULL,
	ts          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reputation (
	node_id TEXT PRIMARY KEY,
	score   DOUBLE PRECISION NOT NULL,
	events  JSONB NOT NULL DEFAULT '[]'
);
`
