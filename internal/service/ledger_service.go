package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/flow"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/pkg/api"
)

// Coordinator is the part of flow.Coordinator the ledger service drives.
type Coordinator interface {
	Self() models.PartyKey
	Propose(ctx context.Context, req flow.ProposeRequest) (*flow.Result, error)
	Approve(ctx context.Context, ids []uuid.UUID) (*flow.Result, error)
	Split(ctx context.Context, ids []uuid.UUID) (*flow.Result, error)
}

// LedgerService implements the operator-facing LedgerService.
type LedgerService struct {
	coord     Coordinator
	store     storage.Store
	directory identity.Resolver
	names     namer
	pageSize  int
	logger    *slog.Logger
}

var _ api.LedgerServiceHandler = (*LedgerService)(nil)

// NewLedgerService creates a LedgerService. pageSize is the default page
// size of ListEntries.
func NewLedgerService(coord Coordinator, store storage.Store, directory identity.Resolver, pageSize int, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = flow.DefaultPageSize
	}
	return &LedgerService{
		coord:     coord,
		store:     store,
		directory: directory,
		names:     namer{directory: directory},
		pageSize:  pageSize,
		logger:    logger,
	}
}

// finish splits a run error into RPC failure and propagation warnings.
func (s *LedgerService) finish(ctx context.Context, res *flow.Result, err error) ([]string, error) {
	var transportErr *flow.TransportError
	if errors.As(err, &transportErr) {
		s.logger.Warn("Run finished with undelivered copies",
			"run_id", res.Run.ID, "tx_id", transportErr.TxID, "operator", middleware.GetOperator(ctx), "error", err)
		return transportErr.Warnings(), nil
	}
	if err != nil {
		return nil, toConnectError(err)
	}
	s.logger.Info("Run done", "run_id", res.Run.ID, "protocol", res.Run.Protocol, "tx_id", res.Transaction.ID,
		"operator", middleware.GetOperator(ctx))
	return nil, nil
}

// CreateEntry runs Propose.
func (s *LedgerService) CreateEntry(ctx context.Context, req *connect.Request[api.CreateEntryRequest]) (*connect.Response[api.CreateEntryResponse], error) {
	amount, err := decimal.NewFromString(req.Msg.Amount)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid amount %q: %w", req.Msg.Amount, err))
	}
	if len(req.Msg.Beneficiaries) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("at least one beneficiary is required"))
	}
	paidBy := req.Msg.PaidBy
	if paidBy == "" {
		paidBy = string(s.coord.Self())
	}

	res, err := s.coord.Propose(ctx, flow.ProposeRequest{
		Description:   req.Msg.Description,
		Amount:        amount,
		PaidBy:        paidBy,
		Beneficiaries: req.Msg.Beneficiaries,
	})
	warnings, err := s.finish(ctx, res, err)
	if err != nil {
		return nil, err
	}

	return connect.NewResponse(&api.CreateEntryResponse{
		Entry:    s.names.entriesOf(res.Transaction)[0],
		TxID:     res.Transaction.ID,
		Warnings: warnings,
	}), nil
}

// ApproveEntries runs Approve.
func (s *LedgerService) ApproveEntries(ctx context.Context, req *connect.Request[api.ApproveEntriesRequest]) (*connect.Response[api.ApproveEntriesResponse], error) {
	ids, err := parseIDs(req.Msg.IDs)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	res, err := s.coord.Approve(ctx, ids)
	warnings, err := s.finish(ctx, res, err)
	if err != nil {
		return nil, err
	}

	return connect.NewResponse(&api.ApproveEntriesResponse{
		Entries:  s.names.entriesOf(res.Transaction),
		TxID:     res.Transaction.ID,
		Warnings: warnings,
	}), nil
}

// SplitEntries runs Split.
func (s *LedgerService) SplitEntries(ctx context.Context, req *connect.Request[api.SplitEntriesRequest]) (*connect.Response[api.SplitEntriesResponse], error) {
	ids, err := parseIDs(req.Msg.IDs)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	res, err := s.coord.Split(ctx, ids)
	warnings, err := s.finish(ctx, res, err)
	if err != nil {
		return nil, err
	}

	resp := &api.SplitEntriesResponse{
		Entries:  s.names.entriesOf(res.Transaction),
		TxID:     res.Transaction.ID,
		Warnings: warnings,
	}
	for _, out := range res.Transaction.Tx.Outputs {
		if out.Kind() == models.KindSettlement {
			resp.Settlement = s.names.settlement(out.Settlement, res.Transaction.ID)
		}
	}
	return connect.NewResponse(resp), nil
}

// ListEntries returns one page of current entries.
func (s *LedgerService) ListEntries(ctx context.Context, req *connect.Request[api.ListEntriesRequest]) (*connect.Response[api.ListEntriesResponse], error) {
	q := storage.Query{Kind: models.KindBillEntry}
	if req.Msg.State != "" {
		state, err := models.ParseEntryState(req.Msg.State)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		q.EntryState = state
	}

	page := storage.PageSpec{Number: req.Msg.Page, Size: req.Msg.PageSize}
	if page.Number == 0 {
		page.Number = 1
	}
	if page.Size == 0 {
		page.Size = s.pageSize
	}

	result, err := s.store.QueryStates(ctx, q, page)
	if err != nil {
		return nil, toConnectError(err)
	}

	entries := make([]*api.Entry, len(result.States))
	for i, sr := range result.States {
		entries[i] = s.names.entry(sr)
	}
	return connect.NewResponse(&api.ListEntriesResponse{
		Entries:  entries,
		Total:    result.Total,
		Page:     page.Number,
		PageSize: page.Size,
	}), nil
}

// ListParties returns the network map.
func (s *LedgerService) ListParties(ctx context.Context, req *connect.Request[api.ListPartiesRequest]) (*connect.Response[api.ListPartiesResponse], error) {
	parties := s.directory.Parties()
	resp := &api.ListPartiesResponse{
		Self:    s.names.name(s.coord.Self()),
		Parties: make([]*api.Party, len(parties)),
		Notary:  toAPIParty(s.directory.Notary()),
	}
	for i, p := range parties {
		resp.Parties[i] = toAPIParty(p)
	}
	return connect.NewResponse(resp), nil
}

// ListSettlements returns every settlement, the net balances across them and
// the transfers that would clear those balances.
func (s *LedgerService) ListSettlements(ctx context.Context, req *connect.Request[api.ListSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error) {
	q := storage.Query{Kind: models.KindSettlement, Status: storage.StatusAll}
	net := make(map[models.PartyKey]decimal.Decimal)
	resp := &api.ListSettlementsResponse{}

	for number := 1; ; number++ {
		page, err := s.store.QueryStates(ctx, q, storage.PageSpec{Number: number, Size: s.pageSize})
		if err != nil {
			return nil, toConnectError(err)
		}
		for _, sr := range page.States {
			st := sr.Record.Settlement
			resp.Settlements = append(resp.Settlements, s.names.settlement(st, sr.Ref.TxID))
			for k, v := range st.Balances {
				net[k] = net[k].Add(v)
			}
		}
		if len(resp.Settlements) >= page.Total || len(page.States) == 0 {
			break
		}
	}

	resp.Balances = s.names.balances(net)
	resp.Transfers = s.names.transfers(calculator.SimplifyDebts(net))
	return connect.NewResponse(resp), nil
}
