package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

// DebtEdge represents a debt from one party to another.
type DebtEdge struct {
	From   models.PartyKey // Party who owes
	To     models.PartyKey // Party who is owed
	Amount decimal.Decimal
}

// ComputeSettlement derives net balances from entries.
//
// Algorithm:
//   - payer is credited the full amount
//   - each beneficiary is debited its share (see Shares)
//
// Accumulation goes through a map keyed by party, so the result does not
// depend on the order of entries. The returned settlement has no ID.
func ComputeSettlement(entries []*models.BillEntry) *models.Settlement {
	balances := make(map[models.PartyKey]decimal.Decimal)

	for _, entry := range entries {
		balances[entry.PaidBy] = balances[entry.PaidBy].Add(entry.Amount)

		for party, share := range Shares(entry.Amount, entry.Beneficiaries) {
			balances[party] = balances[party].Sub(share)
		}
	}

	return &models.Settlement{Balances: balances}
}

type balance struct {
	party  models.PartyKey
	amount decimal.Decimal // always positive
}

// sortBalances orders by amount descending, then key ascending.
func sortBalances(bs []balance) {
	sort.Slice(bs, func(i, j int) bool {
		if c := bs[i].amount.Cmp(bs[j].amount); c != 0 {
			return c > 0
		}
		return bs[i].party < bs[j].party
	})
}

// SimplifyDebts turns net balances into a short list of transfers that clears
// them. Largest debts are matched with largest credits first, so the result is
// deterministic for a given balance map.
func SimplifyDebts(balances map[models.PartyKey]decimal.Decimal) []DebtEdge {
	var creditors, debtors []balance
	for party, amount := range balances {
		switch amount.Sign() {
		case 1:
			creditors = append(creditors, balance{party: party, amount: amount})
		case -1:
			debtors = append(debtors, balance{party: party, amount: amount.Neg()})
		}
	}
	sortBalances(creditors)
	sortBalances(debtors)

	var edges []DebtEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		// Amount to settle is minimum of what debtor owes and creditor is owed
		amount := decimal.Min(debtors[i].amount, creditors[j].amount)
		edges = append(edges, DebtEdge{
			From:   debtors[i].party,
			To:     creditors[j].party,
			Amount: amount,
		})

		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)

		// Move to next debtor/creditor if fully settled
		if debtors[i].amount.IsZero() {
			i++
		}
		if creditors[j].amount.IsZero() {
			j++
		}
	}

	return edges
}
