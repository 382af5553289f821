package sqlite

import "database/sql"

// schema sets up the vault tables. It runs on startup; every statement is
// idempotent. Transactions must exist before the states that reference them.
const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    command TEXT NOT NULL,
    body TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS states (
    tx_id TEXT NOT NULL,
    output_index INTEGER NOT NULL,
    record_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    entry_state TEXT,
    body TEXT NOT NULL,
    consumed_by TEXT,
    PRIMARY KEY (tx_id, output_index),
    FOREIGN KEY (tx_id) REFERENCES transactions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS operators (
    username TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_states_record_id ON states(record_id);
CREATE INDEX IF NOT EXISTS idx_states_kind_state ON states(kind, entry_state);
CREATE INDEX IF NOT EXISTS idx_states_consumed_by ON states(consumed_by);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
