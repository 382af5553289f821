// Package notary implements the finality service: it guarantees that every
// record version is consumed by at most one transaction and attests finality
// with a signed token.
package notary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/ledger"
)

var (
	// ErrConflict reports that an input was already consumed by another
	// transaction. Match with errors.Is; the concrete error is *ConflictError.
	ErrConflict = errors.New("input already consumed")

	// ErrInvalidRequest reports a transaction the notary refuses to look at.
	ErrInvalidRequest = errors.New("invalid finality request")
)

// ConflictError names the inputs that lost a double-spend race.
type ConflictError struct {
	TxID string
	Refs []ledger.StateRef
}

func (e *ConflictError) Error() string {
	refs := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		refs[i] = r.String()
	}
	return fmt.Sprintf("%s: transaction %s conflicts on %s", ErrConflict, e.TxID, strings.Join(refs, ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Notary finalizes transactions.
type Notary interface {
	// Finalize consumes the inputs of stx and returns a finality token, or a
	// *ConflictError if any input was already consumed by another transaction.
	Finalize(ctx context.Context, stx *ledger.SignedTransaction) (*ledger.FinalityToken, error)
}

// Backend records consumed inputs. Commit is all-or-nothing: either every ref
// is recorded as consumed by txID, or none is and a *ConflictError names the
// refs consumed by other transactions. Committing the same txID again
// succeeds.
type Backend interface {
	Commit(ctx context.Context, txID string, refs []ledger.StateRef) error
}

// Service is a Notary on top of a Backend.
type Service struct {
	backend Backend
	signer  identity.Signer
	logger  *slog.Logger
	now     func() time.Time
}

var _ Notary = (*Service)(nil)

// NewService creates a notary service signing tokens with signer.
func NewService(backend Backend, signer identity.Signer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: backend,
		signer:  signer,
		logger:  logger,
		now:     time.Now,
	}
}

// Key returns the notary's party key.
func (s *Service) Key() string {
	return string(s.signer.PublicKey())
}

// Finalize checks the requester's evidence, commits the inputs and signs a
// token.
func (s *Service) Finalize(ctx context.Context, stx *ledger.SignedTransaction) (*ledger.FinalityToken, error) {
	if stx.Tx.Notary != s.signer.PublicKey() {
		return nil, fmt.Errorf("%w: transaction names notary %s", ErrInvalidRequest, stx.Tx.Notary)
	}
	if err := stx.CheckID(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := stx.VerifySignatures(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	refs := stx.Tx.InputRefs()
	seen := make(map[ledger.StateRef]bool, len(refs))
	for _, r := range refs {
		if seen[r] {
			return nil, fmt.Errorf("%w: input %s listed twice", ErrInvalidRequest, r)
		}
		seen[r] = true
	}

	if err := s.backend.Commit(ctx, stx.ID, refs); err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.Warn("Finality conflict", "tx_id", stx.ID, "error", err)
		} else {
			s.logger.Error("Finality commit failed", "tx_id", stx.ID, "error", err)
		}
		return nil, err
	}

	token := &ledger.FinalityToken{
		TxID:        stx.ID,
		Consumed:    refs,
		FinalizedAt: s.now().UTC(),
	}
	if err := ledger.SignToken(token, s.signer); err != nil {
		return nil, fmt.Errorf("failed to sign finality token: %w", err)
	}

	s.logger.Info("Transaction finalized", "tx_id", stx.ID, "consumed", len(refs))
	return token, nil
}
