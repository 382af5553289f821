package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

var _ storage.OperatorStore = (*SQLiteStore)(nil)

// UpsertOperator inserts an operator or replaces its password hash.
func (s *SQLiteStore) UpsertOperator(ctx context.Context, op *models.Operator) error {
	query := `
		INSERT INTO operators (username, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		op.Username,
		op.PasswordHash,
		op.CreatedAt,
		op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert operator: %w", err)
	}

	return nil
}

// GetOperator retrieves an operator by username.
func (s *SQLiteStore) GetOperator(ctx context.Context, username string) (*models.Operator, error) {
	query := `
		SELECT username, password_hash, created_at, updated_at
		FROM operators
		WHERE username = ?
	`

	op := &models.Operator{}
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&op.Username,
		&op.PasswordHash,
		&op.CreatedAt,
		&op.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operator %q: %w", username, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}

	return op, nil
}

// repeatPlaceholder returns a string of ", ?" repeated n times.
// Used for building IN clauses with multiple placeholders.
func repeatPlaceholder(n int) string {
	if n <= 0 {
		return ""
	}
	result := ""
	for i := 0; i < n; i++ {
		result += ", ?"
	}
	return result
}
