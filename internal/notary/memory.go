package notary

import (
	"context"
	"sync"

	"github.com/mmynk/splitledger/internal/ledger"
)

// MemoryBackend keeps consumed refs in process memory.
type MemoryBackend struct {
	mu       sync.Mutex
	consumed map[ledger.StateRef]string
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{consumed: make(map[ledger.StateRef]string)}
}

// Commit implements Backend.
func (b *MemoryBackend) Commit(_ context.Context, txID string, refs []ledger.StateRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var conflicts []ledger.StateRef
	for _, r := range refs {
		if by, ok := b.consumed[r]; ok && by != txID {
			conflicts = append(conflicts, r)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{TxID: txID, Refs: conflicts}
	}

	for _, r := range refs {
		b.consumed[r] = txID
	}
	return nil
}
