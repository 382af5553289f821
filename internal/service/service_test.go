package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/flow"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/notary"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
	"github.com/mmynk/splitledger/pkg/api"
)

type testNode struct {
	name   string
	key    *identity.KeyPair
	mux    *http.ServeMux
	server *httptest.Server
	store  *sqlite.SQLiteStore
	auth   *api.AuthServiceClient
	ledger *api.LedgerServiceClient
}

// setupNetwork starts a notary and one node per name, each behind its own
// httptest server, and logs an operator into every node.
func setupNetwork(t *testing.T, names ...string) map[string]*testNode {
	t.Helper()
	ctx := context.Background()

	notaryKey, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate notary key: %v", err)
	}
	notaryMux := http.NewServeMux()
	notaryMux.Handle(api.NewNotaryServiceHandler(
		NewNotaryService(notary.NewService(notary.NewMemoryBackend(), notaryKey, nil)),
	))
	notaryServer := httptest.NewServer(notaryMux)
	t.Cleanup(notaryServer.Close)

	nodes := make(map[string]*testNode, len(names))
	var parties []identity.Party
	for _, name := range names {
		kp, err := identity.GenerateKeyPair()
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		n := &testNode{name: name, key: kp, mux: http.NewServeMux()}
		n.server = httptest.NewServer(n.mux)
		t.Cleanup(n.server.Close)
		nodes[name] = n
		parties = append(parties, identity.Party{Name: name, Key: kp.PublicKey(), Address: n.server.URL})
	}

	directory, err := identity.NewDirectory(parties, identity.Party{
		Name: "Notary", Key: notaryKey.PublicKey(), Address: notaryServer.URL,
	})
	if err != nil {
		t.Fatalf("failed to build directory: %v", err)
	}

	for _, n := range nodes {
		n.store, err = sqlite.New(filepath.Join(t.TempDir(), n.name+".db"))
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		store := n.store
		t.Cleanup(func() { store.Close() })

		coord, err := flow.New(flow.Config{
			Self:      n.key,
			Directory: directory,
			Notary:    notary.NewClient(http.DefaultClient, notaryServer.URL),
			Store:     n.store,
			Messenger: NewPeerMessenger(http.DefaultClient),
		})
		if err != nil {
			t.Fatalf("failed to create coordinator: %v", err)
		}

		jwtManager := auth.NewJWTManager("secret-"+n.name, time.Hour, n.name)
		authenticator := auth.NewPasswordAuthenticator(n.store)
		if _, err := authenticator.Register(ctx, "admin", "password"); err != nil {
			t.Fatalf("failed to register operator: %v", err)
		}

		n.mux.Handle(api.NewAuthServiceHandler(NewAuthService(authenticator, jwtManager, nil)))
		n.mux.Handle(api.NewPeerServiceHandler(NewPeerService(coord, nil)))
		n.mux.Handle(api.NewLedgerServiceHandler(
			NewLedgerService(coord, n.store, directory, 10, nil),
			connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor(nil)),
		))

		n.auth = api.NewAuthServiceClient(http.DefaultClient, n.server.URL)
		login, err := n.auth.Login(ctx, connect.NewRequest(&api.LoginRequest{Username: "admin", Password: "password"}))
		if err != nil {
			t.Fatalf("login to %s failed: %v", n.name, err)
		}
		n.ledger = api.NewLedgerServiceClient(http.DefaultClient, n.server.URL,
			connect.WithInterceptors(middleware.BearerToken(login.Msg.Token)))
	}

	return nodes
}

func createBeers(t *testing.T, n *testNode, beneficiaries ...string) *api.CreateEntryResponse {
	t.Helper()
	resp, err := n.ledger.CreateEntry(context.Background(), connect.NewRequest(&api.CreateEntryRequest{
		Description:   "beers",
		Amount:        "18",
		PaidBy:        n.name,
		Beneficiaries: beneficiaries,
	}))
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	return resp.Msg
}

func assertAmount(t *testing.T, got, want string) {
	t.Helper()
	g, err := decimal.NewFromString(got)
	if err != nil {
		t.Fatalf("invalid amount %q: %v", got, err)
	}
	if !g.Equal(decimal.RequireFromString(want)) {
		t.Errorf("amount = %s, want %s", got, want)
	}
}

func TestLedgerServiceBeers(t *testing.T) {
	nodes := setupNetwork(t, "Alice", "Bob", "Charlie")
	ctx := context.Background()

	created := createBeers(t, nodes["Alice"], "Alice", "Bob", "Charlie")
	if created.Entry.State != "Proposed" {
		t.Fatalf("State = %s, want Proposed", created.Entry.State)
	}
	if !created.Entry.Approvers["Alice"] || created.Entry.Approvers["Bob"] || created.Entry.Approvers["Charlie"] {
		t.Errorf("unexpected approvers: %v", created.Entry.Approvers)
	}
	if len(created.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", created.Warnings)
	}
	id := created.Entry.ID

	bobApproval, err := nodes["Bob"].ledger.ApproveEntries(ctx, connect.NewRequest(&api.ApproveEntriesRequest{IDs: []string{id}}))
	if err != nil {
		t.Fatalf("Bob ApproveEntries failed: %v", err)
	}
	if got := bobApproval.Msg.Entries[0]; got.State != "Proposed" || !got.Approvers["Bob"] {
		t.Errorf("after Bob: %+v", got)
	}

	charlieApproval, err := nodes["Charlie"].ledger.ApproveEntries(ctx, connect.NewRequest(&api.ApproveEntriesRequest{IDs: []string{id}}))
	if err != nil {
		t.Fatalf("Charlie ApproveEntries failed: %v", err)
	}
	if got := charlieApproval.Msg.Entries[0]; got.State != "Approved" {
		t.Errorf("after Charlie: %+v", got)
	}

	split, err := nodes["Alice"].ledger.SplitEntries(ctx, connect.NewRequest(&api.SplitEntriesRequest{IDs: []string{id}}))
	if err != nil {
		t.Fatalf("SplitEntries failed: %v", err)
	}
	if split.Msg.Settlement == nil {
		t.Fatal("expected a settlement")
	}
	assertAmount(t, split.Msg.Settlement.Balances["Alice"], "12")
	assertAmount(t, split.Msg.Settlement.Balances["Bob"], "-6")
	assertAmount(t, split.Msg.Settlement.Balances["Charlie"], "-6")

	for name, n := range nodes {
		list, err := n.ledger.ListEntries(ctx, connect.NewRequest(&api.ListEntriesRequest{State: "Settled"}))
		if err != nil {
			t.Fatalf("%s ListEntries failed: %v", name, err)
		}
		if list.Msg.Total != 1 || list.Msg.Entries[0].ID != id {
			t.Errorf("%s: expected the settled entry, got %+v", name, list.Msg.Entries)
		}
	}

	settlements, err := nodes["Charlie"].ledger.ListSettlements(ctx, connect.NewRequest(&api.ListSettlementsRequest{}))
	if err != nil {
		t.Fatalf("ListSettlements failed: %v", err)
	}
	if len(settlements.Msg.Settlements) != 1 {
		t.Fatalf("expected one settlement, got %d", len(settlements.Msg.Settlements))
	}
	if settlements.Msg.Settlements[0].TxID != split.Msg.TxID {
		t.Errorf("settlement tx = %s, want %s", settlements.Msg.Settlements[0].TxID, split.Msg.TxID)
	}
	transfers := make(map[string]string)
	for _, tr := range settlements.Msg.Transfers {
		if tr.To != "Alice" {
			t.Errorf("unexpected transfer %+v", tr)
		}
		transfers[tr.From] = tr.Amount
	}
	if len(transfers) != 2 {
		t.Fatalf("expected transfers from Bob and Charlie, got %+v", settlements.Msg.Transfers)
	}
	assertAmount(t, transfers["Bob"], "6")
	assertAmount(t, transfers["Charlie"], "6")
}

func TestLedgerServiceErrors(t *testing.T) {
	nodes := setupNetwork(t, "Alice", "Bob")
	ctx := context.Background()
	alice := nodes["Alice"].ledger
	id := createBeers(t, nodes["Alice"], "Alice", "Bob").Entry.ID

	tests := []struct {
		name        string
		call        func() error
		wantCode    connect.Code
		wantMessage string
	}{
		{
			name: "approve twice",
			call: func() error {
				_, err := alice.ApproveEntries(ctx, connect.NewRequest(&api.ApproveEntriesRequest{IDs: []string{id}}))
				return err
			},
			wantCode:    connect.CodeFailedPrecondition,
			wantMessage: "no state changed",
		},
		{
			name: "split before approval",
			call: func() error {
				_, err := alice.SplitEntries(ctx, connect.NewRequest(&api.SplitEntriesRequest{IDs: []string{id}}))
				return err
			},
			wantCode: connect.CodeFailedPrecondition,
		},
		{
			name: "unknown entry",
			call: func() error {
				_, err := alice.ApproveEntries(ctx, connect.NewRequest(&api.ApproveEntriesRequest{IDs: []string{uuid.NewString()}}))
				return err
			},
			wantCode: connect.CodeNotFound,
		},
		{
			name: "malformed entry id",
			call: func() error {
				_, err := alice.ApproveEntries(ctx, connect.NewRequest(&api.ApproveEntriesRequest{IDs: []string{"beers"}}))
				return err
			},
			wantCode: connect.CodeInvalidArgument,
		},
		{
			name: "malformed amount",
			call: func() error {
				_, err := alice.CreateEntry(ctx, connect.NewRequest(&api.CreateEntryRequest{
					Description: "beers", Amount: "eighteen", PaidBy: "Alice", Beneficiaries: []string{"Bob"},
				}))
				return err
			},
			wantCode: connect.CodeInvalidArgument,
		},
		{
			name: "unknown beneficiary",
			call: func() error {
				_, err := alice.CreateEntry(ctx, connect.NewRequest(&api.CreateEntryRequest{
					Description: "beers", Amount: "18", PaidBy: "Alice", Beneficiaries: []string{"Mallory"},
				}))
				return err
			},
			wantCode: connect.CodeNotFound,
		},
		{
			name: "unknown state filter",
			call: func() error {
				_, err := alice.ListEntries(ctx, connect.NewRequest(&api.ListEntriesRequest{State: "Pending"}))
				return err
			},
			wantCode: connect.CodeInvalidArgument,
		},
		{
			name: "missing token",
			call: func() error {
				anonymous := api.NewLedgerServiceClient(http.DefaultClient, nodes["Alice"].server.URL)
				_, err := anonymous.ListParties(ctx, connect.NewRequest(&api.ListPartiesRequest{}))
				return err
			},
			wantCode: connect.CodeUnauthenticated,
		},
		{
			name: "token for another node",
			call: func() error {
				login, err := nodes["Bob"].auth.Login(ctx, connect.NewRequest(&api.LoginRequest{Username: "admin", Password: "password"}))
				if err != nil {
					return err
				}
				crossed := api.NewLedgerServiceClient(http.DefaultClient, nodes["Alice"].server.URL,
					connect.WithInterceptors(middleware.BearerToken(login.Msg.Token)))
				_, err = crossed.ListParties(ctx, connect.NewRequest(&api.ListPartiesRequest{}))
				return err
			},
			wantCode: connect.CodeUnauthenticated,
		},
		{
			name: "wrong password",
			call: func() error {
				_, err := nodes["Alice"].auth.Login(ctx, connect.NewRequest(&api.LoginRequest{Username: "admin", Password: "hunter22"}))
				return err
			},
			wantCode: connect.CodeUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if connect.CodeOf(err) != tt.wantCode {
				t.Fatalf("code = %v, want %v (err: %v)", connect.CodeOf(err), tt.wantCode, err)
			}
			if tt.wantMessage != "" && !strings.Contains(err.Error(), tt.wantMessage) {
				t.Errorf("error %q does not mention %q", err, tt.wantMessage)
			}
		})
	}
}

func TestLedgerServicePartialPropagation(t *testing.T) {
	nodes := setupNetwork(t, "Alice", "Bob", "Charlie")
	nodes["Charlie"].server.Close()

	created := createBeers(t, nodes["Alice"], "Alice", "Bob", "Charlie")
	if len(created.Warnings) != 1 || !strings.Contains(created.Warnings[0], "Charlie") {
		t.Fatalf("expected one warning about Charlie, got %v", created.Warnings)
	}

	list, err := nodes["Bob"].ledger.ListEntries(context.Background(), connect.NewRequest(&api.ListEntriesRequest{}))
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if list.Msg.Total != 1 || list.Msg.Entries[0].ID != created.Entry.ID {
		t.Errorf("Bob should hold the entry, got %+v", list.Msg.Entries)
	}
}

func TestListParties(t *testing.T) {
	nodes := setupNetwork(t, "Alice", "Bob")

	resp, err := nodes["Bob"].ledger.ListParties(context.Background(), connect.NewRequest(&api.ListPartiesRequest{}))
	if err != nil {
		t.Fatalf("ListParties failed: %v", err)
	}
	if resp.Msg.Self != "Bob" {
		t.Errorf("Self = %q, want Bob", resp.Msg.Self)
	}
	if len(resp.Msg.Parties) != 2 || resp.Msg.Parties[0].Name != "Alice" || resp.Msg.Parties[1].Name != "Bob" {
		t.Errorf("unexpected parties: %+v", resp.Msg.Parties)
	}
	if resp.Msg.Notary == nil || resp.Msg.Notary.Name != "Notary" {
		t.Errorf("unexpected notary: %+v", resp.Msg.Notary)
	}
}

func TestListEntriesPaging(t *testing.T) {
	nodes := setupNetwork(t, "Alice", "Bob")
	for i := 0; i < 3; i++ {
		createBeers(t, nodes["Alice"], "Bob")
	}

	resp, err := nodes["Bob"].ledger.ListEntries(context.Background(), connect.NewRequest(&api.ListEntriesRequest{Page: 2, PageSize: 2}))
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if resp.Msg.Total != 3 || len(resp.Msg.Entries) != 1 || resp.Msg.Page != 2 {
		t.Errorf("unexpected page: total=%d entries=%d page=%d", resp.Msg.Total, len(resp.Msg.Entries), resp.Msg.Page)
	}
}

func TestPeerMessengerFetch(t *testing.T) {
	nodes := setupNetwork(t, "Alice", "Bob")
	ctx := context.Background()

	created := createBeers(t, nodes["Alice"], "Alice", "Bob")
	approved, err := nodes["Bob"].ledger.ApproveEntries(ctx, connect.NewRequest(&api.ApproveEntriesRequest{
		IDs: []string{created.Entry.ID},
	}))
	if err != nil {
		t.Fatalf("ApproveEntries failed: %v", err)
	}

	alice := identity.Party{Name: "Alice", Key: nodes["Alice"].key.PublicKey(), Address: nodes["Alice"].server.URL}
	messenger := NewPeerMessenger(http.DefaultClient)

	stx, err := messenger.FetchTransaction(ctx, alice, created.TxID)
	if err != nil {
		t.Fatalf("FetchTransaction failed: %v", err)
	}
	if err := stx.CheckID(); err != nil || stx.ID != created.TxID {
		t.Errorf("fetched %s (%v), want %s", stx.ID, err, created.TxID)
	}

	consumer, err := messenger.FetchConsumer(ctx, alice, stx.OutputRef(0))
	if err != nil {
		t.Fatalf("FetchConsumer failed: %v", err)
	}
	if consumer.ID != approved.Msg.TxID {
		t.Errorf("consumer = %s, want %s", consumer.ID, approved.Msg.TxID)
	}

	_, err = messenger.FetchConsumer(ctx, alice, consumer.OutputRef(0))
	if !errors.Is(err, flow.ErrNotFound) {
		t.Errorf("expected flow.ErrNotFound for an unconsumed version, got %v", err)
	}

	_, err = messenger.FetchTransaction(ctx, identity.Party{Name: "Nobody"}, created.TxID)
	if !errors.Is(err, flow.ErrUnreachable) {
		t.Errorf("expected flow.ErrUnreachable without an address, got %v", err)
	}

	client := api.NewPeerServiceClient(http.DefaultClient, nodes["Alice"].server.URL)
	_, err = client.GetTransaction(ctx, connect.NewRequest(&api.GetTransactionRequest{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument for an empty request, got %v", err)
	}
}
