package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/flow"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/pkg/api"
)

// PeerService accepts finalized transactions from counterparties and serves
// recorded ones back. Peers are not operators: trust comes from the
// signatures and the finality token, so the service carries no JWT check.
type PeerService struct {
	receiver flow.Receiver
	logger   *slog.Logger
}

var _ api.PeerServiceHandler = (*PeerService)(nil)

func NewPeerService(receiver flow.Receiver, logger *slog.Logger) *PeerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerService{receiver: receiver, logger: logger}
}

// ReceiveTransaction verifies and records a transaction as a responder.
func (s *PeerService) ReceiveTransaction(ctx context.Context, req *connect.Request[api.ReceiveTransactionRequest]) (*connect.Response[api.ReceiveTransactionResponse], error) {
	var stx ledger.SignedTransaction
	if err := json.Unmarshal(req.Msg.Transaction, &stx); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("failed to decode transaction: %w", err))
	}

	if err := s.receiver.Receive(ctx, &stx); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.ReceiveTransactionResponse{TxID: stx.ID}), nil
}

// GetTransaction serves a recorded transaction by id or by a version it
// consumed.
func (s *PeerService) GetTransaction(ctx context.Context, req *connect.Request[api.GetTransactionRequest]) (*connect.Response[api.GetTransactionResponse], error) {
	var (
		stx *ledger.SignedTransaction
		err error
	)
	switch {
	case req.Msg.ConsumerOf != nil:
		stx, err = s.receiver.Consumer(ctx, ledger.StateRef{TxID: req.Msg.ConsumerOf.TxID, Index: req.Msg.ConsumerOf.Index})
	case req.Msg.TxID != "":
		stx, err = s.receiver.Transaction(ctx, req.Msg.TxID)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("tx_id or consumer_of is required"))
	}
	if err != nil {
		return nil, toConnectError(err)
	}

	raw, err := json.Marshal(stx)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to encode transaction: %w", err))
	}
	return connect.NewResponse(&api.GetTransactionResponse{Transaction: raw}), nil
}

// PeerMessenger is a flow.Messenger delivering over the PeerService RPC to
// each party's directory address.
type PeerMessenger struct {
	httpClient connect.HTTPClient
	opts       []connect.ClientOption

	mu      sync.Mutex
	clients map[string]*api.PeerServiceClient
}

var _ flow.Messenger = (*PeerMessenger)(nil)

func NewPeerMessenger(httpClient connect.HTTPClient, opts ...connect.ClientOption) *PeerMessenger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PeerMessenger{
		httpClient: httpClient,
		opts:       opts,
		clients:    make(map[string]*api.PeerServiceClient),
	}
}

func (m *PeerMessenger) client(address string) *api.PeerServiceClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[address]
	if !ok {
		c = api.NewPeerServiceClient(m.httpClient, address, m.opts...)
		m.clients[address] = c
	}
	return c
}

// Send implements flow.Messenger.
func (m *PeerMessenger) Send(ctx context.Context, to identity.Party, stx *ledger.SignedTransaction) error {
	if to.Address == "" {
		return fmt.Errorf("%w: %s has no address", flow.ErrUnreachable, to.Name)
	}

	raw, err := json.Marshal(stx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	_, err = m.client(to.Address).ReceiveTransaction(ctx, connect.NewRequest(&api.ReceiveTransactionRequest{Transaction: raw}))
	if err == nil {
		return nil
	}
	if unreachable(err) {
		return fmt.Errorf("%w: %s: %w", flow.ErrUnreachable, to.Name, err)
	}
	return fmt.Errorf("%s refused transaction: %w", to.Name, err)
}

// FetchTransaction implements flow.Messenger.
func (m *PeerMessenger) FetchTransaction(ctx context.Context, from identity.Party, txID string) (*ledger.SignedTransaction, error) {
	return m.fetch(ctx, from, &api.GetTransactionRequest{TxID: txID})
}

// FetchConsumer implements flow.Messenger.
func (m *PeerMessenger) FetchConsumer(ctx context.Context, from identity.Party, ref ledger.StateRef) (*ledger.SignedTransaction, error) {
	return m.fetch(ctx, from, &api.GetTransactionRequest{ConsumerOf: &api.StateRef{TxID: ref.TxID, Index: ref.Index}})
}

func (m *PeerMessenger) fetch(ctx context.Context, from identity.Party, req *api.GetTransactionRequest) (*ledger.SignedTransaction, error) {
	if from.Address == "" {
		return nil, fmt.Errorf("%w: %s has no address", flow.ErrUnreachable, from.Name)
	}

	resp, err := m.client(from.Address).GetTransaction(ctx, connect.NewRequest(req))
	switch {
	case err == nil:
	case connect.CodeOf(err) == connect.CodeNotFound:
		return nil, fmt.Errorf("%w: %s: %w", flow.ErrNotFound, from.Name, err)
	case unreachable(err):
		return nil, fmt.Errorf("%w: %s: %w", flow.ErrUnreachable, from.Name, err)
	default:
		return nil, fmt.Errorf("%s refused to serve transaction: %w", from.Name, err)
	}

	var stx ledger.SignedTransaction
	if err := json.Unmarshal(resp.Msg.Transaction, &stx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction from %s: %w", from.Name, err)
	}
	return &stx, nil
}

func unreachable(err error) bool {
	switch connect.CodeOf(err) {
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeCanceled, connect.CodeUnknown:
		return true
	}
	return false
}
