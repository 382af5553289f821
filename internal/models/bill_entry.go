package models

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryState is the lifecycle state of a BillEntry.
type EntryState string

const (
	// StateProposed means at least one approver has not signed off yet.
	StateProposed EntryState = "Proposed"
	// StateApproved means every approver has signed off.
	StateApproved EntryState = "Approved"
	// StateSettled is terminal: the entry was consumed by a split.
	StateSettled EntryState = "Settled"
)

// ParseEntryState parses the textual form of an EntryState.
func ParseEntryState(s string) (EntryState, error) {
	switch EntryState(s) {
	case StateProposed, StateApproved, StateSettled:
		return EntryState(s), nil
	default:
		return "", fmt.Errorf("unknown entry state %q", s)
	}
}

// BillEntry is a shared expense.
//
// The ID is stable across versions: the version consumed by a transition and
// the version it produces carry the same ID.
type BillEntry struct {
	// ID is the stable identifier of the entry (UUID).
	ID uuid.UUID `json:"id"`

	// State is Approved iff every approver flag is true, Settled once split.
	State EntryState `json:"state"`

	// Description is free text (e.g., "beers").
	Description string `json:"description"`

	// Amount is the exact amount fronted by PaidBy.
	Amount decimal.Decimal `json:"amount"`

	// Beneficiaries owe an equal share of Amount. Sorted, without duplicates.
	Beneficiaries []PartyKey `json:"beneficiaries"`

	// PaidBy is the party who fronted the amount.
	PaidBy PartyKey `json:"paid_by"`

	// Approvers maps every party in Beneficiaries ∪ {PaidBy} to its sign-off.
	Approvers map[PartyKey]bool `json:"approvers"`
}

// NewBillEntry creates a Proposed entry. Only the proposer is marked as
// approved, and only if it is one of the involved parties.
func NewBillEntry(id uuid.UUID, description string, amount decimal.Decimal, paidBy PartyKey, beneficiaries []PartyKey, proposer PartyKey) *BillEntry {
	e := &BillEntry{
		ID:            id,
		State:         StateProposed,
		Description:   description,
		Amount:        amount,
		Beneficiaries: normalizeKeys(beneficiaries),
		PaidBy:        paidBy,
	}
	e.Approvers = make(map[PartyKey]bool, len(e.Beneficiaries)+1)
	for k := range e.InvolvedParties() {
		e.Approvers[k] = k == proposer
	}
	e.State = e.derivedState()
	return e
}

// InvolvedParties returns Beneficiaries ∪ {PaidBy}.
func (e *BillEntry) InvolvedParties() KeySet {
	s := NewKeySet(e.Beneficiaries...)
	s.Add(e.PaidBy)
	return s
}

// Participants returns the parties that hold a copy of the entry.
func (e *BillEntry) Participants() []PartyKey {
	s := make(KeySet, len(e.Approvers))
	for k := range e.Approvers {
		s.Add(k)
	}
	return s.Sorted()
}

// ApprovedBy returns the parties whose flag is true.
func (e *BillEntry) ApprovedBy() KeySet {
	s := make(KeySet)
	for k, ok := range e.Approvers {
		if ok {
			s.Add(k)
		}
	}
	return s
}

// AllApproved reports whether every approver flag is true.
func (e *BillEntry) AllApproved() bool {
	for _, ok := range e.Approvers {
		if !ok {
			return false
		}
	}
	return true
}

func (e *BillEntry) derivedState() EntryState {
	if e.AllApproved() {
		return StateApproved
	}
	return StateProposed
}

// Clone returns a deep copy of the entry.
func (e *BillEntry) Clone() *BillEntry {
	c := *e
	c.Beneficiaries = append([]PartyKey(nil), e.Beneficiaries...)
	c.Approvers = make(map[PartyKey]bool, len(e.Approvers))
	for k, v := range e.Approvers {
		c.Approvers[k] = v
	}
	return &c
}

// WithApproval returns a copy with party's flag forced to true and the state
// recomputed. Parties that are not approvers leave the copy unchanged.
func (e *BillEntry) WithApproval(party PartyKey) *BillEntry {
	c := e.Clone()
	if _, ok := c.Approvers[party]; ok {
		c.Approvers[party] = true
	}
	c.State = c.derivedState()
	return c
}

// WithState returns a copy in the given state.
func (e *BillEntry) WithState(s EntryState) *BillEntry {
	c := e.Clone()
	c.State = s
	return c
}

// SameTerms reports whether description, amount, payer and beneficiaries match.
func (e *BillEntry) SameTerms(other *BillEntry) bool {
	return e.Description == other.Description &&
		e.Amount.Equal(other.Amount) &&
		e.PaidBy == other.PaidBy &&
		NewKeySet(e.Beneficiaries...).Equal(NewKeySet(other.Beneficiaries...))
}

// SameApprovers reports whether both entries carry identical approver maps.
func (e *BillEntry) SameApprovers(other *BillEntry) bool {
	if len(e.Approvers) != len(other.Approvers) {
		return false
	}
	for k, v := range e.Approvers {
		ov, ok := other.Approvers[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Equal reports whether both entries are the same version.
func (e *BillEntry) Equal(other *BillEntry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ID == other.ID && e.State == other.State && e.SameTerms(other) && e.SameApprovers(other)
}

func (e *BillEntry) String() string {
	return fmt.Sprintf("BillEntry(%s, %s, %q, %s)", e.ID, e.State, e.Description, e.Amount)
}
