package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/models"
)

var (
	ErrIDMismatch       = errors.New("transaction id does not match its content")
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("invalid signature")
	ErrBadFinality      = errors.New("invalid finality token")
)

// Signature is one party's signature over a transaction id.
type Signature struct {
	Key   models.PartyKey `json:"key"`
	Value string          `json:"value"`
}

// SignedTransaction is a transaction plus its evidence.
type SignedTransaction struct {
	ID         string         `json:"id"`
	Tx         Transaction    `json:"tx"`
	Signatures []Signature    `json:"signatures"`
	Finality   *FinalityToken `json:"finality,omitempty"`
}

// Sign computes the id of tx and signs it with signer.
func Sign(tx Transaction, signer identity.Signer) (*SignedTransaction, error) {
	id, err := tx.ID()
	if err != nil {
		return nil, fmt.Errorf("failed to compute transaction id: %w", err)
	}
	return &SignedTransaction{
		ID: id,
		Tx: tx,
		Signatures: []Signature{{
			Key:   signer.PublicKey(),
			Value: hex.EncodeToString(signer.Sign([]byte(id))),
		}},
	}, nil
}

// CheckID recomputes the id from the content.
func (s *SignedTransaction) CheckID() error {
	id, err := s.Tx.ID()
	if err != nil {
		return err
	}
	if id != s.ID {
		return fmt.Errorf("%w: claimed %s, computed %s", ErrIDMismatch, s.ID, id)
	}
	return nil
}

// VerifySignatures returns the set of keys with a valid signature. Every
// command signer must be part of it.
func (s *SignedTransaction) VerifySignatures() (models.KeySet, error) {
	valid := make(models.KeySet, len(s.Signatures))
	for _, sig := range s.Signatures {
		raw, err := hex.DecodeString(sig.Value)
		if err != nil || !identity.Verify(sig.Key, []byte(s.ID), raw) {
			return nil, fmt.Errorf("%w: %s", ErrBadSignature, sig.Key)
		}
		valid.Add(sig.Key)
	}
	for _, k := range s.Tx.Command.Signers {
		if !valid.Has(k) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, k)
		}
	}
	return valid, nil
}

// OutputRef returns the reference of output i.
func (s *SignedTransaction) OutputRef(i int) StateRef {
	return StateRef{TxID: s.ID, Index: i}
}

// Outputs returns every output paired with its reference.
func (s *SignedTransaction) Outputs() []StateAndRef {
	out := make([]StateAndRef, len(s.Tx.Outputs))
	for i, r := range s.Tx.Outputs {
		out[i] = StateAndRef{Ref: s.OutputRef(i), Record: r}
	}
	return out
}

// FinalityToken is the notary's attestation that a transaction consumed its
// inputs and nothing else may consume them again.
type FinalityToken struct {
	TxID        string          `json:"tx_id"`
	Notary      models.PartyKey `json:"notary"`
	Consumed    []StateRef      `json:"consumed"`
	FinalizedAt time.Time       `json:"finalized_at"`
	Signature   string          `json:"signature,omitempty"`
}

// SigningPayload returns the canonical bytes the notary signs.
func (t *FinalityToken) SigningPayload() ([]byte, error) {
	unsigned := *t
	unsigned.Signature = ""
	return canonicalJSON(unsigned)
}

// SignToken fills in the token signature.
func SignToken(t *FinalityToken, signer identity.Signer) error {
	t.Notary = signer.PublicKey()
	payload, err := t.SigningPayload()
	if err != nil {
		return err
	}
	t.Signature = hex.EncodeToString(signer.Sign(payload))
	return nil
}

// VerifyFinality checks that the token was issued by notary for this exact
// transaction and covers exactly its inputs.
func (s *SignedTransaction) VerifyFinality(notary models.PartyKey) error {
	t := s.Finality
	if t == nil {
		return fmt.Errorf("%w: missing", ErrBadFinality)
	}
	if t.Notary != notary || s.Tx.Notary != notary {
		return fmt.Errorf("%w: issued by %s, expected %s", ErrBadFinality, t.Notary, notary)
	}
	if t.TxID != s.ID {
		return fmt.Errorf("%w: token for %s", ErrBadFinality, t.TxID)
	}
	if !sameRefs(t.Consumed, s.Tx.InputRefs()) {
		return fmt.Errorf("%w: consumed refs do not match inputs", ErrBadFinality)
	}
	payload, err := t.SigningPayload()
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(t.Signature)
	if err != nil || !identity.Verify(notary, payload, sig) {
		return fmt.Errorf("%w: bad signature", ErrBadFinality)
	}
	return nil
}

func sameRefs(a, b []StateRef) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[StateRef]int, len(a))
	for _, r := range a {
		set[r]++
	}
	for _, r := range b {
		if set[r] == 0 {
			return false
		}
		set[r]--
	}
	return true
}
