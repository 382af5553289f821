package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmynk/splitledger/internal/identity"
)

var (
	// ErrNotFound reports an entry id or party name that does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest reports a request that cannot start a run.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUntrusted reports a received transaction whose evidence does not
	// check out for this party.
	ErrUntrusted = errors.New("untrusted transaction")

	// ErrUnreachable reports a counterparty the messenger cannot deliver to.
	ErrUnreachable = errors.New("party unreachable")
)

// PartyFailure is one counterparty that did not acknowledge a transaction.
type PartyFailure struct {
	Party identity.Party
	Err   error
}

// TransportError reports incomplete propagation. The transaction is final and
// recorded by the initiator; the listed parties must reconcile later.
type TransportError struct {
	TxID     string
	Failures []PartyFailure
}

func (e *TransportError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Party.Name, f.Err)
	}
	return fmt.Sprintf("transaction %s finalized but not delivered to %s", e.TxID, strings.Join(parts, "; "))
}

func (e *TransportError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Warnings returns one message per failed party.
func (e *TransportError) Warnings() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = fmt.Sprintf("not delivered to %s: %v", f.Party.Name, f.Err)
	}
	return out
}
