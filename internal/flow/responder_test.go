package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/notary"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/verifier"
)

func (net *testNet) currentRef(t *testing.T, name string, id uuid.UUID) ledger.StateAndRef {
	t.Helper()
	page, err := net.nodes[name].store.QueryStates(context.Background(),
		storage.Query{IDs: []uuid.UUID{id}}, storage.PageSpec{Number: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.States, 1)
	return page.States[0]
}

// approval builds and finalizes an ApproveBill by signer whose output sets
// the flag of approver.
func (net *testNet) approval(t *testing.T, signer string, input ledger.StateAndRef, approver models.PartyKey, n notary.Notary) *ledger.SignedTransaction {
	t.Helper()
	tx := ledger.Transaction{
		Inputs:  []ledger.StateAndRef{input},
		Outputs: []models.Record{models.BillRecord(input.Record.Bill.WithApproval(approver))},
		Command: ledger.Command{Kind: ledger.ApproveBill, Signers: []models.PartyKey{net.key(signer)}},
		Notary:  net.directory.Notary().Key,
	}
	stx, err := ledger.Sign(tx, net.nodes[signer].key)
	require.NoError(t, err)
	if n != nil {
		stx.Finality, err = n.Finalize(context.Background(), stx)
		require.NoError(t, err)
	}
	return stx
}

func TestReceiveRejects(t *testing.T) {
	tests := []struct {
		name      string
		receiver  string
		everyone  bool
		build     func(t *testing.T, net *testNet, id uuid.UUID) *ledger.SignedTransaction
		violation bool
	}{
		{
			name:     "approval for a party that did not sign",
			receiver: "Alice",
			everyone: true,
			build: func(t *testing.T, net *testNet, id uuid.UUID) *ledger.SignedTransaction {
				return net.approval(t, "Bob", net.currentRef(t, "Bob", id), net.key("Charlie"), net.notary)
			},
			violation: true,
		},
		{
			name:     "missing finality",
			receiver: "Alice",
			build: func(t *testing.T, net *testNet, id uuid.UUID) *ledger.SignedTransaction {
				return net.approval(t, "Bob", net.currentRef(t, "Bob", id), net.key("Bob"), nil)
			},
		},
		{
			name:     "finality from another notary",
			receiver: "Alice",
			build: func(t *testing.T, net *testNet, id uuid.UUID) *ledger.SignedTransaction {
				rogueKey, err := identity.GenerateKeyPair()
				require.NoError(t, err)
				rogue := notary.NewService(notary.NewMemoryBackend(), rogueKey, nil)

				stx := net.approval(t, "Bob", net.currentRef(t, "Bob", id), net.key("Bob"), nil)
				stx.Tx.Notary = rogueKey.PublicKey()
				resigned, err := ledger.Sign(stx.Tx, net.nodes["Bob"].key)
				require.NoError(t, err)
				resigned.Finality, err = rogue.Finalize(context.Background(), resigned)
				require.NoError(t, err)
				return resigned
			},
		},
		{
			name:     "tampered after finality",
			receiver: "Alice",
			build: func(t *testing.T, net *testNet, id uuid.UUID) *ledger.SignedTransaction {
				stx := net.approval(t, "Bob", net.currentRef(t, "Bob", id), net.key("Bob"), net.notary)
				stx.Tx.Outputs[0].Bill.Description = "cheaper beers"
				return stx
			},
		},
		{
			name:     "input differs from local copy",
			receiver: "Alice",
			build: func(t *testing.T, net *testNet, id uuid.UUID) *ledger.SignedTransaction {
				input := net.currentRef(t, "Bob", id)
				forged := input.Record.Bill.Clone()
				forged.Approvers[net.key("Bob")] = true
				input.Record = models.BillRecord(forged)
				return net.approval(t, "Bob", input, net.key("Bob"), net.notary)
			},
		},
		{
			name:     "split of an entry the receiver never saw",
			receiver: "Bob",
			build: func(t *testing.T, net *testNet, id uuid.UUID) *ledger.SignedTransaction {
				alice, bob := net.key("Alice"), net.key("Bob")
				entry := models.NewBillEntry(uuid.New(), "rent", decimal.NewFromInt(2000), alice, []models.PartyKey{alice, bob}, alice)
				entry = entry.WithApproval(bob)
				require.Equal(t, models.StateApproved, entry.State)

				settlement := calculator.ComputeSettlement([]*models.BillEntry{entry})
				settlement.ID = uuid.New()
				tx := ledger.Transaction{
					Inputs: []ledger.StateAndRef{{
						Ref:    ledger.StateRef{TxID: strings.Repeat("de", 32)},
						Record: models.BillRecord(entry),
					}},
					Outputs: []models.Record{
						models.BillRecord(entry.WithState(models.StateSettled)),
						models.SettlementRecord(settlement),
					},
					Command: ledger.Command{Kind: ledger.Split, Signers: []models.PartyKey{alice}},
					Notary:  net.directory.Notary().Key,
				}
				stx, err := ledger.Sign(tx, net.nodes["Alice"].key)
				require.NoError(t, err)
				stx.Finality, err = net.notary.Finalize(context.Background(), stx)
				require.NoError(t, err)
				return stx
			},
		},
		{
			name:     "receiver is not a participant",
			receiver: "Charlie",
			build: func(t *testing.T, net *testNet, id uuid.UUID) *ledger.SignedTransaction {
				return net.approval(t, "Bob", net.currentRef(t, "Bob", id), net.key("Bob"), net.notary)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := newTestNet(t)
			beneficiaries := []string{"Alice", "Bob"}
			if tt.everyone {
				beneficiaries = append(beneficiaries, "Charlie")
			}
			id := net.propose(t, "Alice", 18, "Alice", beneficiaries...)
			before := net.countStates(t, tt.receiver)

			stx := tt.build(t, net, id)
			err := net.nodes[tt.receiver].coord.Receive(context.Background(), stx)
			require.Error(t, err)

			var v *verifier.Violation
			if tt.violation {
				assert.True(t, errors.As(err, &v), "expected a violation, got %v", err)
			} else {
				assert.ErrorIs(t, err, ErrUntrusted)
			}

			assert.Equal(t, before, net.countStates(t, tt.receiver))
			_, err = net.nodes[tt.receiver].store.GetTransaction(context.Background(), stx.ID)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestReceiveIsIdempotent(t *testing.T) {
	net := newTestNet(t)
	id := net.propose(t, "Alice", 18, "Alice", "Alice", "Bob")

	stx := net.approval(t, "Bob", net.currentRef(t, "Bob", id), net.key("Bob"), net.notary)
	alice := net.nodes["Alice"].coord
	require.NoError(t, alice.Receive(context.Background(), stx))
	require.NoError(t, alice.Receive(context.Background(), stx))

	assert.Equal(t, models.StateApproved, net.current(t, "Alice", id).State)
}

func TestReceiveFetchesMissedHistory(t *testing.T) {
	net := newTestNet(t, "Alice", "Bob", "Charlie", "Dave")
	ctx := context.Background()
	id := net.propose(t, "Alice", 40, "Alice", "Alice", "Bob", "Charlie", "Dave")

	net.network.SetDown(net.key("Bob"), true)
	_, err := net.nodes["Charlie"].coord.Approve(ctx, []uuid.UUID{id})
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	net.network.SetDown(net.key("Bob"), false)

	// Dave builds on Charlie's version, which Bob has to fetch first.
	res, err := net.nodes["Dave"].coord.Approve(ctx, []uuid.UUID{id})
	require.NoError(t, err)

	e := net.current(t, "Bob", id)
	assert.True(t, e.Approvers[net.key("Charlie")])
	assert.True(t, e.Approvers[net.key("Dave")])
	assert.False(t, e.Approvers[net.key("Bob")])

	_, err = net.nodes["Bob"].store.GetTransaction(ctx, res.Transaction.Tx.Inputs[0].Ref.TxID)
	assert.NoError(t, err, "Bob should have recorded Charlie's approval")
}

func TestServeRecordedTransactions(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()
	id := net.propose(t, "Alice", 18, "Alice", "Alice", "Bob")
	created := net.currentRef(t, "Bob", id)

	res, err := net.nodes["Bob"].coord.Approve(ctx, []uuid.UUID{id})
	require.NoError(t, err)

	alice := net.nodes["Alice"].coord
	got, err := alice.Transaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, got.ID)

	got, err = alice.Consumer(ctx, created.Ref)
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, got.ID)

	_, err = alice.Consumer(ctx, res.Transaction.OutputRef(0))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = alice.Transaction(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
