package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const (
	// LedgerServiceName is the fully-qualified name of the LedgerService.
	LedgerServiceName = "splitledger.v1.LedgerService"

	LedgerServiceCreateEntryProcedure     = "/splitledger.v1.LedgerService/CreateEntry"
	LedgerServiceApproveEntriesProcedure  = "/splitledger.v1.LedgerService/ApproveEntries"
	LedgerServiceSplitEntriesProcedure    = "/splitledger.v1.LedgerService/SplitEntries"
	LedgerServiceListEntriesProcedure     = "/splitledger.v1.LedgerService/ListEntries"
	LedgerServiceListPartiesProcedure     = "/splitledger.v1.LedgerService/ListParties"
	LedgerServiceListSettlementsProcedure = "/splitledger.v1.LedgerService/ListSettlements"
)

// LedgerServiceHandler is the operator-facing ledger API.
type LedgerServiceHandler interface {
	CreateEntry(context.Context, *connect.Request[CreateEntryRequest]) (*connect.Response[CreateEntryResponse], error)
	ApproveEntries(context.Context, *connect.Request[ApproveEntriesRequest]) (*connect.Response[ApproveEntriesResponse], error)
	SplitEntries(context.Context, *connect.Request[SplitEntriesRequest]) (*connect.Response[SplitEntriesResponse], error)
	ListEntries(context.Context, *connect.Request[ListEntriesRequest]) (*connect.Response[ListEntriesResponse], error)
	ListParties(context.Context, *connect.Request[ListPartiesRequest]) (*connect.Response[ListPartiesResponse], error)
	ListSettlements(context.Context, *connect.Request[ListSettlementsRequest]) (*connect.Response[ListSettlementsResponse], error)
}

// NewLedgerServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewLedgerServiceHandler(svc LedgerServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return serviceMux(LedgerServiceName, map[string]http.Handler{
		LedgerServiceCreateEntryProcedure:     connect.NewUnaryHandler(LedgerServiceCreateEntryProcedure, svc.CreateEntry, opts...),
		LedgerServiceApproveEntriesProcedure:  connect.NewUnaryHandler(LedgerServiceApproveEntriesProcedure, svc.ApproveEntries, opts...),
		LedgerServiceSplitEntriesProcedure:    connect.NewUnaryHandler(LedgerServiceSplitEntriesProcedure, svc.SplitEntries, opts...),
		LedgerServiceListEntriesProcedure:     connect.NewUnaryHandler(LedgerServiceListEntriesProcedure, svc.ListEntries, opts...),
		LedgerServiceListPartiesProcedure:     connect.NewUnaryHandler(LedgerServiceListPartiesProcedure, svc.ListParties, opts...),
		LedgerServiceListSettlementsProcedure: connect.NewUnaryHandler(LedgerServiceListSettlementsProcedure, svc.ListSettlements, opts...),
	})
}

// LedgerServiceClient is a client for the LedgerService.
type LedgerServiceClient struct {
	createEntry     *connect.Client[CreateEntryRequest, CreateEntryResponse]
	approveEntries  *connect.Client[ApproveEntriesRequest, ApproveEntriesResponse]
	splitEntries    *connect.Client[SplitEntriesRequest, SplitEntriesResponse]
	listEntries     *connect.Client[ListEntriesRequest, ListEntriesResponse]
	listParties     *connect.Client[ListPartiesRequest, ListPartiesResponse]
	listSettlements *connect.Client[ListSettlementsRequest, ListSettlementsResponse]
}

// NewLedgerServiceClient constructs a client for the LedgerService at baseURL
// (for example, http://localhost:8080).
func NewLedgerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &LedgerServiceClient{
		createEntry:     connect.NewClient[CreateEntryRequest, CreateEntryResponse](httpClient, baseURL+LedgerServiceCreateEntryProcedure, opts...),
		approveEntries:  connect.NewClient[ApproveEntriesRequest, ApproveEntriesResponse](httpClient, baseURL+LedgerServiceApproveEntriesProcedure, opts...),
		splitEntries:    connect.NewClient[SplitEntriesRequest, SplitEntriesResponse](httpClient, baseURL+LedgerServiceSplitEntriesProcedure, opts...),
		listEntries:     connect.NewClient[ListEntriesRequest, ListEntriesResponse](httpClient, baseURL+LedgerServiceListEntriesProcedure, opts...),
		listParties:     connect.NewClient[ListPartiesRequest, ListPartiesResponse](httpClient, baseURL+LedgerServiceListPartiesProcedure, opts...),
		listSettlements: connect.NewClient[ListSettlementsRequest, ListSettlementsResponse](httpClient, baseURL+LedgerServiceListSettlementsProcedure, opts...),
	}
}

func (c *LedgerServiceClient) CreateEntry(ctx context.Context, req *connect.Request[CreateEntryRequest]) (*connect.Response[CreateEntryResponse], error) {
	return c.createEntry.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ApproveEntries(ctx context.Context, req *connect.Request[ApproveEntriesRequest]) (*connect.Response[ApproveEntriesResponse], error) {
	return c.approveEntries.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) SplitEntries(ctx context.Context, req *connect.Request[SplitEntriesRequest]) (*connect.Response[SplitEntriesResponse], error) {
	return c.splitEntries.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListEntries(ctx context.Context, req *connect.Request[ListEntriesRequest]) (*connect.Response[ListEntriesResponse], error) {
	return c.listEntries.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListParties(ctx context.Context, req *connect.Request[ListPartiesRequest]) (*connect.Response[ListPartiesResponse], error) {
	return c.listParties.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListSettlements(ctx context.Context, req *connect.Request[ListSettlementsRequest]) (*connect.Response[ListSettlementsResponse], error) {
	return c.listSettlements.CallUnary(ctx, req)
}

// serviceMux routes the procedures of one service.
func serviceMux(service string, procedures map[string]http.Handler) (string, http.Handler) {
	return "/" + service + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := procedures[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}
