// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers; received transactions arrive
	// concurrently.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewFromDB(db), nil
}

// NewFromDB wraps an already opened and migrated database.
func NewFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordTransaction persists a finalized transaction and its outputs, and
// marks the inputs this vault knows about as consumed.
func (s *SQLiteStore) RecordTransaction(ctx context.Context, stx *ledger.SignedTransaction) error {
	body, err := json.Marshal(stx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE id = ?", stx.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check transaction: %w", err)
	}
	if exists > 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO transactions (id, command, body, recorded_at) VALUES (?, ?, ?, ?)",
		stx.ID, string(stx.Tx.Command.Kind), string(body), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	// Inputs we never saw (e.g. held only by other parties) are skipped.
	for _, in := range stx.Tx.Inputs {
		_, err = tx.ExecContext(ctx,
			"UPDATE states SET consumed_by = ? WHERE tx_id = ? AND output_index = ? AND consumed_by IS NULL",
			stx.ID, in.Ref.TxID, in.Ref.Index,
		)
		if err != nil {
			return fmt.Errorf("failed to consume input %s: %w", in.Ref, err)
		}
	}

	for i, out := range stx.Tx.Outputs {
		recordBody, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to encode output %d: %w", i, err)
		}
		var entryState interface{}
		if out.Kind() == models.KindBillEntry {
			entryState = string(out.Bill.State)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO states (tx_id, output_index, record_id, kind, entry_state, body) VALUES (?, ?, ?, ?, ?, ?)",
			stx.ID, i, out.ID().String(), string(out.Kind()), entryState, string(recordBody),
		)
		if err != nil {
			return fmt.Errorf("failed to insert output %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTransaction retrieves a recorded transaction by id.
func (s *SQLiteStore) GetTransaction(ctx context.Context, txID string) (*ledger.SignedTransaction, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM transactions WHERE id = ?", txID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", txID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	var stx ledger.SignedTransaction
	if err := json.Unmarshal([]byte(body), &stx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &stx, nil
}

// GetConsumer retrieves the transaction that consumed ref.
func (s *SQLiteStore) GetConsumer(ctx context.Context, ref ledger.StateRef) (*ledger.SignedTransaction, error) {
	var consumedBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT consumed_by FROM states WHERE tx_id = ? AND output_index = ?",
		ref.TxID, ref.Index,
	).Scan(&consumedBy)
	if err == sql.ErrNoRows || (err == nil && !consumedBy.Valid) {
		return nil, fmt.Errorf("consumer of %s: %w", ref, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer: %w", err)
	}
	return s.GetTransaction(ctx, consumedBy.String)
}

// GetState retrieves one record version.
func (s *SQLiteStore) GetState(ctx context.Context, ref ledger.StateRef) (*ledger.StateAndRef, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM states WHERE tx_id = ? AND output_index = ?",
		ref.TxID, ref.Index,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("state %s: %w", ref, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	sr := &ledger.StateAndRef{Ref: ref}
	if err := json.Unmarshal([]byte(body), &sr.Record); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return sr, nil
}

// QueryStates returns one page of matching record versions.
func (s *SQLiteStore) QueryStates(ctx context.Context, q storage.Query, page storage.PageSpec) (*storage.Page, error) {
	if page.Number < 1 || page.Size < 1 {
		return nil, storage.ErrInvalidPage
	}

	where, args := buildWhere(q)

	// Count first: the single connection is busy while rows are open.
	result := &storage.Page{}
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM states"+where, args...).Scan(&result.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to count states: %w", err)
	}

	query := "SELECT tx_id, output_index, body FROM states" + where + " ORDER BY rowid LIMIT ? OFFSET ?"
	pageArgs := append(append([]interface{}{}, args...), page.Size, (page.Number-1)*page.Size)

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sr   ledger.StateAndRef
			body string
		)
		if err := rows.Scan(&sr.Ref.TxID, &sr.Ref.Index, &body); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &sr.Record); err != nil {
			return nil, fmt.Errorf("failed to decode state %s: %w", sr.Ref, err)
		}
		result.States = append(result.States, sr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating states: %w", err)
	}

	return result, nil
}

func buildWhere(q storage.Query) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	switch q.Status {
	case storage.StatusAll:
	case storage.StatusConsumed:
		conds = append(conds, "consumed_by IS NOT NULL")
	default:
		conds = append(conds, "consumed_by IS NULL")
	}

	if q.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.EntryState != "" {
		conds = append(conds, "entry_state = ?")
		args = append(args, string(q.EntryState))
	}
	if len(q.IDs) > 0 {
		conds = append(conds, "record_id IN (?"+repeatPlaceholder(len(q.IDs)-1)+")")
		for _, id := range q.IDs {
			args = append(args, id.String())
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
