// Package ledger defines transitions between ledger record versions and the
// evidence that travels with them: signatures and finality tokens.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/mmynk/splitledger/internal/models"
)

// CommandKind is the declared intent of a transition.
type CommandKind string

const (
	CreateBill  CommandKind = "CreateBill"
	ApproveBill CommandKind = "ApproveBill"
	Split       CommandKind = "Split"
)

// Command is the intent of a transition plus the keys required to sign it.
type Command struct {
	Kind    CommandKind       `json:"kind"`
	Signers []models.PartyKey `json:"signers"`
}

// SignerSet returns the command signers as a set.
func (c Command) SignerSet() models.KeySet {
	return models.NewKeySet(c.Signers...)
}

// StateRef points at one output of a recorded transaction. It names a
// specific version of a record, which is what the notary consumes.
type StateRef struct {
	TxID  string `json:"tx_id"`
	Index int    `json:"index"`
}

func (r StateRef) String() string {
	return fmt.Sprintf("%s(%d)", r.TxID, r.Index)
}

// StateAndRef is a record version together with its reference.
type StateAndRef struct {
	Ref    StateRef      `json:"ref"`
	Record models.Record `json:"record"`
}

// Transaction consumes input versions and produces output versions.
type Transaction struct {
	Inputs  []StateAndRef   `json:"inputs"`
	Outputs []models.Record `json:"outputs"`
	Command Command         `json:"command"`
	Notary  models.PartyKey `json:"notary"`
}

// ID returns the SHA-256 hex digest of the canonical JSON form of tx.
func (tx *Transaction) ID() (string, error) {
	return canonicalHash(tx)
}

// InputRefs returns the references of the consumed versions.
func (tx *Transaction) InputRefs() []StateRef {
	refs := make([]StateRef, len(tx.Inputs))
	for i, in := range tx.Inputs {
		refs[i] = in.Ref
	}
	return refs
}

// InputRecords returns the consumed versions.
func (tx *Transaction) InputRecords() []models.Record {
	records := make([]models.Record, len(tx.Inputs))
	for i, in := range tx.Inputs {
		records[i] = in.Record
	}
	return records
}

// Participants returns the sorted union of the participants of every input
// and output record.
func (tx *Transaction) Participants() []models.PartyKey {
	keys := make(models.KeySet)
	for _, in := range tx.Inputs {
		for _, k := range in.Record.Participants() {
			keys.Add(k)
		}
	}
	for _, out := range tx.Outputs {
		for _, k := range out.Participants() {
			keys.Add(k)
		}
	}
	return keys.Sorted()
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize: %w", err)
	}
	return canonical, nil
}

func canonicalHash(v any) (string, error) {
	b, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
