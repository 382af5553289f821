// Command splitctl is the operator client of a splitnode.
//
//	splitctl [-H host] [-P port] [-u user] [-p password] <command> [flags]
//
// Commands:
//
//	listParties
//	listEntries [-s state] [-page n] [-size n]
//	createEntry -a amount -d description [-p payer] -b party [-b party ...]
//	approveEntries -u id [-u id ...]
//	splitEntries -u id [-u id ...]
//	listSettlements
//	hashPassword <password>
//	genKey
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/pkg/api"
)

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("splitctl", flag.ContinueOnError)
	host := global.String("H", "localhost", "node host")
	port := global.Int("P", 8080, "node port")
	user := global.String("u", envOr("SPLITCTL_USER", "admin"), "operator username")
	password := global.String("p", os.Getenv("SPLITCTL_PASSWORD"), "operator password")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	if cmd == "hashPassword" {
		if len(rest) != 1 {
			return errors.New("usage: hashPassword <password>")
		}
		hash, err := auth.HashPassword(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, hash)
		return nil
	}

	if cmd == "genKey" {
		kp, err := identity.GenerateKeyPair()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "NODE_KEY_SEED=%s\npublic_key = %q\n", kp.Seed(), kp.PublicKey())
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	client, err := connectClient(ctx, fmt.Sprintf("http://%s:%d", *host, *port), *user, *password)
	if err != nil {
		return err
	}

	switch cmd {
	case "listParties":
		return listParties(ctx, client, out)
	case "listEntries":
		return listEntries(ctx, client, rest, out)
	case "createEntry":
		return createEntry(ctx, client, rest, out)
	case "approveEntries":
		return approveEntries(ctx, client, rest, out)
	case "splitEntries":
		return splitEntries(ctx, client, rest, out)
	case "listSettlements":
		return listSettlements(ctx, client, out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectClient logs in and returns a ledger client carrying the token.
func connectClient(ctx context.Context, baseURL, user, password string) (*api.LedgerServiceClient, error) {
	login, err := api.NewAuthServiceClient(http.DefaultClient, baseURL).Login(ctx,
		connect.NewRequest(&api.LoginRequest{Username: user, Password: password}))
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return api.NewLedgerServiceClient(http.DefaultClient, baseURL,
		connect.WithInterceptors(middleware.BearerToken(login.Msg.Token))), nil
}

func listParties(ctx context.Context, client *api.LedgerServiceClient, out io.Writer) error {
	resp, err := client.ListParties(ctx, connect.NewRequest(&api.ListPartiesRequest{}))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKEY\tADDRESS")
	for _, p := range resp.Msg.Parties {
		name := p.Name
		if name == resp.Msg.Self {
			name += " (self)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, p.Key, p.Address)
	}
	if n := resp.Msg.Notary; n != nil {
		fmt.Fprintf(w, "%s (notary)\t%s\t%s\n", n.Name, n.Key, n.Address)
	}
	return w.Flush()
}

func listEntries(ctx context.Context, client *api.LedgerServiceClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("listEntries", flag.ContinueOnError)
	state := fs.String("s", "", "only entries in this state (Proposed, Approved, Settled)")
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := client.ListEntries(ctx, connect.NewRequest(&api.ListEntriesRequest{State: *state, Page: *page, PageSize: *size}))
	if err != nil {
		return err
	}
	printEntries(out, resp.Msg.Entries)
	fmt.Fprintf(out, "page %d, %d of %d entries\n", resp.Msg.Page, len(resp.Msg.Entries), resp.Msg.Total)
	return nil
}

func createEntry(ctx context.Context, client *api.LedgerServiceClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("createEntry", flag.ContinueOnError)
	amount := fs.String("a", "", "amount")
	description := fs.String("d", "", "description")
	paidBy := fs.String("p", "", "payer (defaults to this node)")
	var beneficiaries multiFlag
	fs.Var(&beneficiaries, "b", "beneficiary (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *amount == "" || len(beneficiaries) == 0 {
		return errors.New("usage: createEntry -a amount -d description [-p payer] -b party [-b party ...]")
	}

	resp, err := client.CreateEntry(ctx, connect.NewRequest(&api.CreateEntryRequest{
		Description:   *description,
		Amount:        *amount,
		PaidBy:        *paidBy,
		Beneficiaries: beneficiaries,
	}))
	if err != nil {
		return err
	}
	printEntries(out, []*api.Entry{resp.Msg.Entry})
	printResult(out, resp.Msg.TxID, resp.Msg.Warnings)
	return nil
}

func idsFlag(name string, args []string) ([]string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var ids multiFlag
	fs.Var(&ids, "u", "entry id (repeatable)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("usage: %s -u id [-u id ...]", name)
	}
	return ids, nil
}

func approveEntries(ctx context.Context, client *api.LedgerServiceClient, args []string, out io.Writer) error {
	ids, err := idsFlag("approveEntries", args)
	if err != nil {
		return err
	}
	resp, err := client.ApproveEntries(ctx, connect.NewRequest(&api.ApproveEntriesRequest{IDs: ids}))
	if err != nil {
		return err
	}
	printEntries(out, resp.Msg.Entries)
	printResult(out, resp.Msg.TxID, resp.Msg.Warnings)
	return nil
}

func splitEntries(ctx context.Context, client *api.LedgerServiceClient, args []string, out io.Writer) error {
	ids, err := idsFlag("splitEntries", args)
	if err != nil {
		return err
	}
	resp, err := client.SplitEntries(ctx, connect.NewRequest(&api.SplitEntriesRequest{IDs: ids}))
	if err != nil {
		return err
	}
	if s := resp.Msg.Settlement; s != nil {
		fmt.Fprintf(out, "settlement %s\n", s.ID)
		printBalances(out, s.Balances)
	}
	printResult(out, resp.Msg.TxID, resp.Msg.Warnings)
	return nil
}

func listSettlements(ctx context.Context, client *api.LedgerServiceClient, out io.Writer) error {
	resp, err := client.ListSettlements(ctx, connect.NewRequest(&api.ListSettlementsRequest{}))
	if err != nil {
		return err
	}
	for _, s := range resp.Msg.Settlements {
		fmt.Fprintf(out, "settlement %s (tx %s)\n", s.ID, s.TxID)
		printBalances(out, s.Balances)
	}
	fmt.Fprintln(out, "net balances")
	printBalances(out, resp.Msg.Balances)
	for _, t := range resp.Msg.Transfers {
		fmt.Fprintf(out, "  %s pays %s %s\n", t.From, t.To, t.Amount)
	}
	return nil
}

func printEntries(out io.Writer, entries []*api.Entry) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tAMOUNT\tPAID BY\tBENEFICIARIES\tAPPROVED\tDESCRIPTION")
	for _, e := range entries {
		var approved []string
		for name, ok := range e.Approvers {
			if ok {
				approved = append(approved, name)
			}
		}
		sort.Strings(approved)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.State, e.Amount, e.PaidBy,
			strings.Join(e.Beneficiaries, ","), strings.Join(approved, ","), e.Description)
	}
	w.Flush()
}

func printBalances(out io.Writer, balances map[string]string) {
	names := make([]string, 0, len(balances))
	for name := range balances {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %s\n", name, balances[name])
	}
}

func printResult(out io.Writer, txID string, warnings []string) {
	fmt.Fprintf(out, "transaction %s\n", txID)
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
}
