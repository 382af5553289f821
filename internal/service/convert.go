package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/pkg/api"
)

// namer renders party keys with their directory names.
type namer struct {
	directory identity.Resolver
}

func (n namer) name(k models.PartyKey) string {
	if p, err := n.directory.PartyByKey(k); err == nil {
		return p.Name
	}
	return string(k)
}

func (n namer) entry(sr ledger.StateAndRef) *api.Entry {
	e := sr.Record.Bill
	out := &api.Entry{
		ID:            e.ID.String(),
		State:         string(e.State),
		Description:   e.Description,
		Amount:        e.Amount.String(),
		PaidBy:        n.name(e.PaidBy),
		Beneficiaries: make([]string, len(e.Beneficiaries)),
		Approvers:     make(map[string]bool, len(e.Approvers)),
		Ref:           sr.Ref.String(),
	}
	for i, b := range e.Beneficiaries {
		out.Beneficiaries[i] = n.name(b)
	}
	for k, ok := range e.Approvers {
		out.Approvers[n.name(k)] = ok
	}
	return out
}

func (n namer) balances(b map[models.PartyKey]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(b))
	for k, v := range b {
		out[n.name(k)] = v.String()
	}
	return out
}

func (n namer) settlement(s *models.Settlement, txID string) *api.Settlement {
	return &api.Settlement{
		ID:       s.ID.String(),
		TxID:     txID,
		Balances: n.balances(s.Balances),
	}
}

func (n namer) transfers(edges []calculator.DebtEdge) []*api.Transfer {
	out := make([]*api.Transfer, len(edges))
	for i, e := range edges {
		out[i] = &api.Transfer{From: n.name(e.From), To: n.name(e.To), Amount: e.Amount.String()}
	}
	return out
}

func toAPIParty(p identity.Party) *api.Party {
	return &api.Party{Name: p.Name, Key: string(p.Key), Address: p.Address}
}

// parseIDs parses entry ids.
func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid entry id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// entriesOf returns the bill entry outputs of a transaction.
func (n namer) entriesOf(stx *ledger.SignedTransaction) []*api.Entry {
	var out []*api.Entry
	for _, sr := range stx.Outputs() {
		if sr.Record.Kind() == models.KindBillEntry {
			out = append(out, n.entry(sr))
		}
	}
	return out
}
