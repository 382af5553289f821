package models

import "github.com/google/uuid"

// RecordKind tags the payload of a Record.
type RecordKind string

const (
	KindBillEntry  RecordKind = "bill_entry"
	KindSettlement RecordKind = "settlement"
	KindUnknown    RecordKind = "unknown"
)

// Record is one version of a ledger record. Exactly one field is set.
type Record struct {
	Bill       *BillEntry  `json:"bill,omitempty"`
	Settlement *Settlement `json:"settlement,omitempty"`
}

// BillRecord wraps an entry.
func BillRecord(e *BillEntry) Record { return Record{Bill: e} }

// SettlementRecord wraps a settlement.
func SettlementRecord(s *Settlement) Record { return Record{Settlement: s} }

// Kind reports which payload the record carries.
func (r Record) Kind() RecordKind {
	switch {
	case r.Bill != nil && r.Settlement == nil:
		return KindBillEntry
	case r.Settlement != nil && r.Bill == nil:
		return KindSettlement
	default:
		return KindUnknown
	}
}

// ID returns the stable identifier of the record.
func (r Record) ID() uuid.UUID {
	switch r.Kind() {
	case KindBillEntry:
		return r.Bill.ID
	case KindSettlement:
		return r.Settlement.ID
	default:
		return uuid.Nil
	}
}

// Participants returns the parties that hold a copy of the record.
func (r Record) Participants() []PartyKey {
	switch r.Kind() {
	case KindBillEntry:
		return r.Bill.Participants()
	case KindSettlement:
		return r.Settlement.Participants()
	default:
		return nil
	}
}

// Equal reports whether both records are the same version.
func (r Record) Equal(other Record) bool {
	if r.Kind() != other.Kind() {
		return false
	}
	switch r.Kind() {
	case KindBillEntry:
		return r.Bill.Equal(other.Bill)
	case KindSettlement:
		return r.Settlement.ID == other.Settlement.ID && r.Settlement.Equal(other.Settlement)
	default:
		return false
	}
}
