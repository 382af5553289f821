package notary

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/splitledger/internal/ledger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS consumed_refs (
    ref_tx_id TEXT NOT NULL,
    ref_index INTEGER NOT NULL,
    consumed_by TEXT NOT NULL,
    consumed_at INTEGER NOT NULL,
    PRIMARY KEY (ref_tx_id, ref_index)
);

CREATE INDEX IF NOT EXISTS idx_consumed_refs_consumed_by ON consumed_refs(consumed_by);
`

// SQLiteBackend keeps consumed refs in a SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens (and migrates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes commits, so check-then-insert is atomic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Commit implements Backend.
func (b *SQLiteBackend) Commit(ctx context.Context, txID string, refs []ledger.StateRef) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var conflicts []ledger.StateRef
	for _, r := range refs {
		var by string
		err := tx.QueryRowContext(ctx,
			"SELECT consumed_by FROM consumed_refs WHERE ref_tx_id = ? AND ref_index = ?",
			r.TxID, r.Index,
		).Scan(&by)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up ref: %w", err)
		}
		if by != txID {
			conflicts = append(conflicts, r)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{TxID: txID, Refs: conflicts}
	}

	now := time.Now().Unix()
	for _, r := range refs {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO consumed_refs (ref_tx_id, ref_index, consumed_by, consumed_at) VALUES (?, ?, ?, ?)",
			r.TxID, r.Index, txID, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ref: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
