// Package verifier decides whether a proposed transition is legal.
//
// Verify is pure and deterministic. Every party runs it independently before
// accepting a transition; a transition is either accepted as a whole or
// rejected as a whole.
package verifier

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

// Violation describes the first rule a transition broke.
type Violation struct {
	Command  ledger.CommandKind
	RecordID uuid.UUID
	Party    models.PartyKey
	Reason   string
}

func (v *Violation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", v.Command, v.Reason)
	if v.RecordID != uuid.Nil {
		fmt.Fprintf(&b, " (entry %s)", v.RecordID)
	}
	if v.Party != "" {
		fmt.Fprintf(&b, " (party %s)", v.Party)
	}
	return b.String()
}

// checker accumulates nothing: the first failed clause aborts verification.
type checker struct {
	cmd ledger.CommandKind
}

func (c checker) fail(reason string, args ...any) *Violation {
	return &Violation{Command: c.cmd, Reason: fmt.Sprintf(reason, args...)}
}

func (c checker) failEntry(id uuid.UUID, reason string, args ...any) *Violation {
	v := c.fail(reason, args...)
	v.RecordID = id
	return v
}

func (c checker) failParty(id uuid.UUID, party models.PartyKey, reason string, args ...any) *Violation {
	v := c.failEntry(id, reason, args...)
	v.Party = party
	return v
}
