// Package calculator derives shares and net balances from bill entries.
//
// Every function is pure and deterministic: the same set of entries yields the
// same result regardless of enumeration order.
package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

// minShareScale is the smallest number of fractional digits shares are
// computed with.
const minShareScale = 2

// Shares splits amount equally among beneficiaries.
//
// Rounding rule: shares are computed with s = max(2, fractional digits of
// amount) digits, truncated. The remainder is r = amount - n*share, which is
// k < n units of 10^-s; the first k beneficiaries in ascending key order get
// one extra unit each. Shares always sum exactly to amount.
func Shares(amount decimal.Decimal, beneficiaries []models.PartyKey) map[models.PartyKey]decimal.Decimal {
	keys := models.NewKeySet(beneficiaries...).Sorted()
	shares := make(map[models.PartyKey]decimal.Decimal, len(keys))
	if len(keys) == 0 {
		return shares
	}

	scale := int32(minShareScale)
	if digits := -amount.Exponent(); digits > scale {
		scale = digits
	}
	unit := decimal.New(1, -scale)

	base, rem := amount.QuoRem(decimal.NewFromInt(int64(len(keys))), scale)
	extra := rem.Div(unit).IntPart()

	for i, k := range keys {
		share := base
		if int64(i) < extra {
			share = share.Add(unit)
		}
		shares[k] = share
	}
	return shares
}
