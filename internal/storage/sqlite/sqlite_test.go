package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "splitledger-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func signed(t *testing.T, signer *identity.KeyPair, tx ledger.Transaction) *ledger.SignedTransaction {
	t.Helper()
	stx, err := ledger.Sign(tx, signer)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return stx
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alice, _ := identity.GenerateKeyPair()
	bob, _ := identity.GenerateKeyPair()
	notaryKey, _ := identity.GenerateKeyPair()

	entry := models.NewBillEntry(uuid.New(), "Beers", decimal.NewFromInt(12),
		alice.PublicKey(), []models.PartyKey{alice.PublicKey(), bob.PublicKey()}, alice.PublicKey())
	create := signed(t, alice, ledger.Transaction{
		Outputs: []models.Record{models.BillRecord(entry)},
		Command: ledger.Command{Kind: ledger.CreateBill, Signers: []models.PartyKey{alice.PublicKey()}},
		Notary:  notaryKey.PublicKey(),
	})

	t.Run("RecordTransaction stores outputs", func(t *testing.T) {
		if err := store.RecordTransaction(ctx, create); err != nil {
			t.Fatalf("RecordTransaction failed: %v", err)
		}

		got, err := store.GetState(ctx, create.OutputRef(0))
		if err != nil {
			t.Fatalf("GetState failed: %v", err)
		}
		if !got.Record.Equal(models.BillRecord(entry)) {
			t.Errorf("State mismatch: got %v, want %v", got.Record.Bill, entry)
		}

		stored, err := store.GetTransaction(ctx, create.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if err := stored.CheckID(); err != nil {
			t.Errorf("Stored transaction lost its id: %v", err)
		}
	})

	t.Run("RecordTransaction is idempotent", func(t *testing.T) {
		if err := store.RecordTransaction(ctx, create); err != nil {
			t.Fatalf("second RecordTransaction failed: %v", err)
		}
		page, err := store.QueryStates(ctx, storage.Query{IDs: []uuid.UUID{entry.ID}}, storage.PageSpec{Number: 1, Size: 10})
		if err != nil {
			t.Fatalf("QueryStates failed: %v", err)
		}
		if page.Total != 1 {
			t.Errorf("Expected 1 version, got %d", page.Total)
		}
	})

	approved := entry.WithApproval(bob.PublicKey())
	approve := signed(t, bob, ledger.Transaction{
		Inputs:  []ledger.StateAndRef{{Ref: create.OutputRef(0), Record: models.BillRecord(entry)}},
		Outputs: []models.Record{models.BillRecord(approved)},
		Command: ledger.Command{Kind: ledger.ApproveBill, Signers: []models.PartyKey{bob.PublicKey()}},
		Notary:  notaryKey.PublicKey(),
	})

	t.Run("RecordTransaction consumes inputs", func(t *testing.T) {
		if err := store.RecordTransaction(ctx, approve); err != nil {
			t.Fatalf("RecordTransaction failed: %v", err)
		}

		page, err := store.QueryStates(ctx, storage.Query{IDs: []uuid.UUID{entry.ID}}, storage.PageSpec{Number: 1, Size: 10})
		if err != nil {
			t.Fatalf("QueryStates failed: %v", err)
		}
		if page.Total != 1 || len(page.States) != 1 {
			t.Fatalf("Expected one unconsumed version, got %d", page.Total)
		}
		if page.States[0].Ref != approve.OutputRef(0) {
			t.Errorf("Expected latest version %s, got %s", approve.OutputRef(0), page.States[0].Ref)
		}
		if page.States[0].Record.Bill.State != models.StateApproved {
			t.Errorf("Expected Approved, got %s", page.States[0].Record.Bill.State)
		}

		consumed, err := store.QueryStates(ctx, storage.Query{IDs: []uuid.UUID{entry.ID}, Status: storage.StatusConsumed}, storage.PageSpec{Number: 1, Size: 10})
		if err != nil {
			t.Fatalf("QueryStates failed: %v", err)
		}
		if consumed.Total != 1 || consumed.States[0].Ref != create.OutputRef(0) {
			t.Errorf("Expected the proposed version to be consumed, got %+v", consumed.States)
		}
	})

	t.Run("GetConsumer returns the consuming transaction", func(t *testing.T) {
		got, err := store.GetConsumer(ctx, create.OutputRef(0))
		if err != nil {
			t.Fatalf("GetConsumer failed: %v", err)
		}
		if got.ID != approve.ID {
			t.Errorf("Expected consumer %s, got %s", approve.ID, got.ID)
		}

		_, err = store.GetConsumer(ctx, approve.OutputRef(0))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for an unconsumed version, got %v", err)
		}
		_, err = store.GetConsumer(ctx, ledger.StateRef{TxID: "missing"})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for an unknown version, got %v", err)
		}
	})

	t.Run("QueryStates filters by entry state", func(t *testing.T) {
		page, err := store.QueryStates(ctx, storage.Query{
			Kind:       models.KindBillEntry,
			EntryState: models.StateProposed,
		}, storage.PageSpec{Number: 1, Size: 10})
		if err != nil {
			t.Fatalf("QueryStates failed: %v", err)
		}
		if page.Total != 0 {
			t.Errorf("Expected no unconsumed Proposed entries, got %d", page.Total)
		}
	})

	t.Run("GetState returns ErrNotFound", func(t *testing.T) {
		_, err := store.GetState(ctx, ledger.StateRef{TxID: "missing"})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		_, err = store.GetTransaction(ctx, "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestQueryStatesPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alice, _ := identity.GenerateKeyPair()
	bob, _ := identity.GenerateKeyPair()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		entry := models.NewBillEntry(uuid.New(), "Round", decimal.NewFromInt(int64(i+1)),
			alice.PublicKey(), []models.PartyKey{bob.PublicKey()}, alice.PublicKey())
		ids = append(ids, entry.ID)
		stx := signed(t, alice, ledger.Transaction{
			Outputs: []models.Record{models.BillRecord(entry)},
			Command: ledger.Command{Kind: ledger.CreateBill, Signers: []models.PartyKey{alice.PublicKey()}},
		})
		if err := store.RecordTransaction(ctx, stx); err != nil {
			t.Fatalf("RecordTransaction failed: %v", err)
		}
	}

	tests := []struct {
		name      string
		page      storage.PageSpec
		wantIDs   []uuid.UUID
		wantTotal int
		wantErr   error
	}{
		{name: "first page", page: storage.PageSpec{Number: 1, Size: 2}, wantIDs: ids[0:2], wantTotal: 5},
		{name: "last partial page", page: storage.PageSpec{Number: 3, Size: 2}, wantIDs: ids[4:5], wantTotal: 5},
		{name: "past the end", page: storage.PageSpec{Number: 4, Size: 2}, wantIDs: nil, wantTotal: 5},
		{name: "zero page", page: storage.PageSpec{Number: 0, Size: 2}, wantErr: storage.ErrInvalidPage},
		{name: "zero size", page: storage.PageSpec{Number: 1, Size: 0}, wantErr: storage.ErrInvalidPage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := store.QueryStates(ctx, storage.Query{}, tt.page)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("QueryStates failed: %v", err)
			}
			if page.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", page.Total, tt.wantTotal)
			}
			if len(page.States) != len(tt.wantIDs) {
				t.Fatalf("Got %d states, want %d", len(page.States), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if page.States[i].Record.ID() != id {
					t.Errorf("State %d = %s, want %s", i, page.States[i].Record.ID(), id)
				}
			}
		})
	}
}

func TestRecordTransactionRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	alice, _ := identity.GenerateKeyPair()
	entry := models.NewBillEntry(uuid.New(), "Beers", decimal.NewFromInt(12),
		alice.PublicKey(), []models.PartyKey{alice.PublicKey()}, alice.PublicKey())
	stx := signed(t, alice, ledger.Transaction{
		Outputs: []models.Record{models.BillRecord(entry)},
		Command: ledger.Command{Kind: ledger.CreateBill, Signers: []models.PartyKey{alice.PublicKey()}},
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions`).
		WithArgs(stx.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO states`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	store := NewFromDB(db)
	if err := store.RecordTransaction(context.Background(), stx); err == nil {
		t.Fatal("Expected RecordTransaction to fail")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestOperators(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOperator(ctx, "admin"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := store.UpsertOperator(ctx, models.NewOperator("admin", "hash-1")); err != nil {
		t.Fatalf("UpsertOperator failed: %v", err)
	}
	if err := store.UpsertOperator(ctx, models.NewOperator("admin", "hash-2")); err != nil {
		t.Fatalf("second UpsertOperator failed: %v", err)
	}

	op, err := store.GetOperator(ctx, "admin")
	if err != nil {
		t.Fatalf("GetOperator failed: %v", err)
	}
	if op.PasswordHash != "hash-2" {
		t.Errorf("PasswordHash = %q, want %q", op.PasswordHash, "hash-2")
	}
}
