package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settlement holds the net balances derived from a batch of approved entries.
// It is produced by a split and never changed afterwards.
type Settlement struct {
	// ID is the storage handle of the settlement (UUID). It does not take part
	// in equality.
	ID uuid.UUID `json:"id"`

	// Balances maps each party to its net amount.
	// Positive = owed to that party, negative = owes.
	Balances map[PartyKey]decimal.Decimal `json:"balances"`
}

// Participants returns the parties that appear in the balances.
func (s *Settlement) Participants() []PartyKey {
	keys := make(KeySet, len(s.Balances))
	for k := range s.Balances {
		keys.Add(k)
	}
	return keys.Sorted()
}

// Equal reports whether both settlements carry the same balances.
func (s *Settlement) Equal(other *Settlement) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Balances) != len(other.Balances) {
		return false
	}
	for k, v := range s.Balances {
		ov, ok := other.Balances[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Total returns the sum of all balances. A well-formed settlement sums to zero.
func (s *Settlement) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s.Balances {
		total = total.Add(v)
	}
	return total
}
