// Package storage provides the vault: the local record of every finalized
// transaction a party took part in and the record versions it produced.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidPage = errors.New("page number and size must be positive")
)

// Status selects record versions by whether a later transaction consumed them.
type Status string

const (
	StatusUnconsumed Status = "unconsumed"
	StatusConsumed   Status = "consumed"
	StatusAll        Status = "all"
)

// Query filters record versions. Zero fields match everything, except Status
// which defaults to StatusUnconsumed.
type Query struct {
	IDs        []uuid.UUID
	Kind       models.RecordKind
	EntryState models.EntryState
	Status     Status
}

// PageSpec selects a 1-based page.
type PageSpec struct {
	Number int
	Size   int
}

// Page is one page of query results. Total counts every match, not just
// the ones on this page.
type Page struct {
	States []ledger.StateAndRef
	Total  int
}

// Store defines the interface for vault operations.
// This abstraction allows swapping storage backends without changing the
// flow layer.
type Store interface {
	// RecordTransaction stores a finalized transaction atomically: its
	// locally known inputs are marked consumed and its outputs become
	// available. Recording the same transaction twice is a no-op.
	RecordTransaction(ctx context.Context, stx *ledger.SignedTransaction) error

	// GetTransaction returns a recorded transaction or ErrNotFound.
	GetTransaction(ctx context.Context, txID string) (*ledger.SignedTransaction, error)

	// GetConsumer returns the recorded transaction that consumed ref, or
	// ErrNotFound when the version is unknown or still unconsumed.
	GetConsumer(ctx context.Context, ref ledger.StateRef) (*ledger.SignedTransaction, error)

	// GetState returns one record version or ErrNotFound.
	GetState(ctx context.Context, ref ledger.StateRef) (*ledger.StateAndRef, error)

	// QueryStates returns one page of matching record versions in the order
	// they were recorded.
	QueryStates(ctx context.Context, q Query, page PageSpec) (*Page, error)

	// Close releases any resources held by the store.
	Close() error
}

// OperatorStore persists operator accounts.
type OperatorStore interface {
	UpsertOperator(ctx context.Context, op *models.Operator) error
	GetOperator(ctx context.Context, username string) (*models.Operator, error)
}
