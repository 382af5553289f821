package verifier

import (
	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

// Verify checks a transition against the rules of its command. signers holds
// the keys that signed the transition. The returned error is a *Violation.
func Verify(inputs, outputs []models.Record, cmd ledger.Command, signers models.KeySet) error {
	var v *Violation
	switch cmd.Kind {
	case ledger.CreateBill:
		v = verifyCreate(inputs, outputs, signers)
	case ledger.ApproveBill:
		v = verifyApprove(inputs, outputs, signers)
	case ledger.Split:
		v = verifySplit(inputs, outputs)
	default:
		v = &Violation{Command: cmd.Kind, Reason: "unknown command"}
	}
	if v != nil {
		return v
	}
	return nil
}

// VerifyTransaction checks the id and signatures of stx, then its content.
// Signature problems are reported as violations too.
func VerifyTransaction(stx *ledger.SignedTransaction) error {
	if err := stx.CheckID(); err != nil {
		return &Violation{Command: stx.Tx.Command.Kind, Reason: err.Error()}
	}
	signers, err := stx.VerifySignatures()
	if err != nil {
		return &Violation{Command: stx.Tx.Command.Kind, Reason: err.Error()}
	}
	return Verify(stx.Tx.InputRecords(), stx.Tx.Outputs, stx.Tx.Command, signers)
}

func verifyCreate(inputs, outputs []models.Record, signers models.KeySet) *Violation {
	c := checker{cmd: ledger.CreateBill}
	if len(inputs) != 0 {
		return c.fail("inputs must be empty")
	}
	if len(outputs) == 0 {
		return c.fail("outputs must be non empty")
	}
	for _, out := range outputs {
		entry := out.Bill
		if out.Kind() != models.KindBillEntry {
			return c.fail("output is not a bill entry")
		}
		if entry.State != models.StateProposed {
			return c.failEntry(entry.ID, "output is not in %s state", models.StateProposed)
		}
		if v := checkWellFormed(c, entry); v != nil {
			return v
		}
		if v := checkApprovalSignatures(c, entry, models.KeySet{}, signers); v != nil {
			return v
		}
	}
	return nil
}

func verifyApprove(inputs, outputs []models.Record, signers models.KeySet) *Violation {
	c := checker{cmd: ledger.ApproveBill}
	in, v := indexEntries(c, inputs, "input")
	if v != nil {
		return v
	}
	out, v := indexEntries(c, outputs, "output")
	if v != nil {
		return v
	}
	if len(in) != len(out) {
		return c.fail("the number of inputs must be equal to the number of outputs")
	}

	changed := false
	for _, r := range inputs {
		id := r.Bill.ID
		input := in[id]
		output, ok := out[id]
		if !ok {
			return c.failEntry(id, "entry missing from outputs")
		}
		if input.State == models.StateSettled {
			return c.failEntry(id, "entry is already %s", models.StateSettled)
		}
		switch {
		case output.Description != input.Description:
			return c.failEntry(id, "description has changed")
		case output.PaidBy != input.PaidBy:
			return c.failEntry(id, "payer has changed")
		case !output.Amount.Equal(input.Amount):
			return c.failEntry(id, "amount has changed")
		case !models.NewKeySet(output.Beneficiaries...).Equal(models.NewKeySet(input.Beneficiaries...)):
			return c.failEntry(id, "beneficiaries have changed")
		}
		if v := checkWellFormed(c, output); v != nil {
			return v
		}

		before := input.ApprovedBy()
		after := output.ApprovedBy()
		for _, k := range before.Sorted() {
			if !after.Has(k) {
				return c.failParty(id, k, "approvers have been removed")
			}
		}
		if v := checkApprovalSignatures(c, output, before, signers); v != nil {
			return v
		}
		if !input.Equal(output) {
			changed = true
		}
	}
	if !changed {
		return c.fail("no state changed: at least one entry must differ between input and output")
	}
	return nil
}

func verifySplit(inputs, outputs []models.Record) *Violation {
	c := checker{cmd: ledger.Split}
	if len(inputs) == 0 {
		return c.fail("inputs must be non empty")
	}

	in := make(map[uuid.UUID]*models.BillEntry, len(inputs))
	entries := make([]*models.BillEntry, 0, len(inputs))
	for _, r := range inputs {
		if r.Kind() != models.KindBillEntry {
			return c.fail("every input must be a bill entry")
		}
		entry := r.Bill
		if entry.State != models.StateApproved {
			return c.failEntry(entry.ID, "input entries must be in %s state, found %s", models.StateApproved, entry.State)
		}
		if _, dup := in[entry.ID]; dup {
			return c.failEntry(entry.ID, "input entries shouldn't be duplicated")
		}
		in[entry.ID] = entry
		entries = append(entries, entry)
	}

	out := make(map[uuid.UUID]*models.BillEntry, len(inputs))
	var settlements []*models.Settlement
	for _, r := range outputs {
		switch r.Kind() {
		case models.KindBillEntry:
			if _, dup := out[r.Bill.ID]; dup {
				return c.failEntry(r.Bill.ID, "output entries shouldn't be duplicated")
			}
			if _, ok := in[r.Bill.ID]; !ok {
				return c.failEntry(r.Bill.ID, "output entry does not match any input")
			}
			out[r.Bill.ID] = r.Bill
		case models.KindSettlement:
			settlements = append(settlements, r.Settlement)
		default:
			return c.fail("output is neither a bill entry nor a settlement")
		}
	}

	for _, input := range entries {
		id := input.ID
		output, ok := out[id]
		if !ok {
			return c.failEntry(id, "entry missing from outputs")
		}
		if output.State != models.StateSettled {
			return c.failEntry(id, "output entries must be in %s state", models.StateSettled)
		}
		if !input.SameTerms(output) || !input.SameApprovers(output) {
			return c.failEntry(id, "detected difference between input and output")
		}
	}

	if len(settlements) != 1 {
		return c.fail("there must be exactly one settlement in the outputs, found %d", len(settlements))
	}
	if !settlements[0].Equal(calculator.ComputeSettlement(entries)) {
		return c.fail("incorrect values in settlement")
	}
	return nil
}

// checkWellFormed enforces the data model invariants of a produced entry.
func checkWellFormed(c checker, e *models.BillEntry) *Violation {
	if e.ID == uuid.Nil {
		return c.fail("entry id is missing")
	}
	if !e.Amount.IsPositive() {
		return c.failEntry(e.ID, "amount must be positive, got %s", e.Amount)
	}
	if len(e.Beneficiaries) == 0 {
		return c.failEntry(e.ID, "beneficiaries must be non empty")
	}
	involved := e.InvolvedParties()
	if len(e.Approvers) != len(involved) {
		return c.failEntry(e.ID, "approvers must be exactly the beneficiaries and the payer")
	}
	approvers := make([]models.PartyKey, 0, len(e.Approvers))
	for k := range e.Approvers {
		approvers = append(approvers, k)
	}
	models.SortKeys(approvers)
	for _, k := range approvers {
		if !involved.Has(k) {
			return c.failParty(e.ID, k, "approver is neither a beneficiary nor the payer")
		}
	}
	switch {
	case e.AllApproved() && e.State != models.StateApproved:
		return c.failEntry(e.ID, "entry has been approved by everyone, it should now be in the %s state", models.StateApproved)
	case !e.AllApproved() && e.State != models.StateProposed:
		return c.failEntry(e.ID, "entry lacks approval by some of the involved parties, it should be kept in the %s state", models.StateProposed)
	}
	return nil
}

// checkApprovalSignatures requires a signature from every party whose flag is
// true in e but not in already.
func checkApprovalSignatures(c checker, e *models.BillEntry, already, signers models.KeySet) *Violation {
	for _, k := range e.ApprovedBy().Sorted() {
		if already.Has(k) {
			continue
		}
		if !signers.Has(k) {
			return c.failParty(e.ID, k, "approver was added but didn't sign the transaction")
		}
	}
	return nil
}

func indexEntries(c checker, records []models.Record, side string) (map[uuid.UUID]*models.BillEntry, *Violation) {
	idx := make(map[uuid.UUID]*models.BillEntry, len(records))
	for _, r := range records {
		if r.Kind() != models.KindBillEntry {
			return nil, c.fail("%s is not a bill entry", side)
		}
		if _, dup := idx[r.Bill.ID]; dup {
			return nil, c.failEntry(r.Bill.ID, "%s entries shouldn't be duplicated", side)
		}
		idx[r.Bill.ID] = r.Bill
	}
	return idx, nil
}
