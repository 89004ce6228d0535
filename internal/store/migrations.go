package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "blocks: the append-only chain",
		SQL: `
CREATE TABLE blocks (
    id              INTEGER PRIMARY KEY,
    idx             INTEGER NOT NULL UNIQUE,
    hash            TEXT NOT NULL UNIQUE,
    previous_hash   TEXT NOT NULL,
    timestamp       INTEGER NOT NULL,
    nonce           INTEGER NOT NULL,
    difficulty      INTEGER NOT NULL,
    merkle_root     TEXT NOT NULL,
    state_root      TEXT NOT NULL,
    efficiency      REAL NOT NULL,
    total_relevance REAL NOT NULL,
    miner           TEXT NOT NULL,
    size            INTEGER NOT NULL,
    transactions    TEXT NOT NULL
);

CREATE INDEX idx_blocks_idx  ON blocks(idx DESC);
CREATE INDEX idx_blocks_hash ON blocks(hash);
`,
	},
	{
		Version:     2,
		Description: "transactions: submitted and mined ledger entries",
		SQL: `
CREATE TABLE transactions (
    id               INTEGER PRIMARY KEY,
    tx_id            TEXT NOT NULL UNIQUE,
    hash             TEXT NOT NULL UNIQUE,
    from_addr        TEXT NOT NULL,
    to_addr          TEXT,
    type             TEXT NOT NULL CHECK (type IN ('create', 'archive', 'promote', 'forget', 'transfer')),
    payload          TEXT,
    gas_price        REAL NOT NULL DEFAULT 0,
    gas_limit        INTEGER NOT NULL DEFAULT 0,
    nonce            INTEGER NOT NULL,
    timestamp        INTEGER NOT NULL,
    signature        TEXT,
    relevance_impact REAL NOT NULL DEFAULT 0,
    block_idx        INTEGER
);

CREATE INDEX idx_tx_from  ON transactions(from_addr);
CREATE INDEX idx_tx_to    ON transactions(to_addr);
CREATE INDEX idx_tx_block ON transactions(block_idx);
`,
	},
	{
		Version:     3,
		Description: "records: lifecycle-managed data with relevance and purge scheduling",
		SQL: `
CREATE TABLE records (
    id            INTEGER PRIMARY KEY,
    record_id     TEXT NOT NULL UNIQUE,
    content       TEXT,
    content_hash  TEXT NOT NULL,
    size          INTEGER NOT NULL DEFAULT 0,
    state         TEXT NOT NULL CHECK (state IN ('active', 'archived', 'dead')),
    relevance     REAL NOT NULL DEFAULT 100,
    access_count  INTEGER NOT NULL DEFAULT 0,
    last_accessed INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,
    owner         TEXT NOT NULL,
    metadata      TEXT,
    purge_after   INTEGER
);

CREATE INDEX idx_records_state     ON records(state);
CREATE INDEX idx_records_owner     ON records(owner);
CREATE INDEX idx_records_relevance ON records(relevance DESC);
CREATE INDEX idx_records_purge     ON records(purge_after);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return version, nil
}
