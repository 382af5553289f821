package service

import (
	"context"
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/notary"
	"github.com/mmynk/splitledger/pkg/api"
)

// NotaryService exposes a notary over RPC.
type NotaryService struct {
	notary notary.Notary
}

var _ api.NotaryServiceHandler = (*NotaryService)(nil)

func NewNotaryService(n notary.Notary) *NotaryService {
	return &NotaryService{notary: n}
}

// Finalize consumes the inputs of the requested transaction.
func (s *NotaryService) Finalize(ctx context.Context, req *connect.Request[api.FinalizeRequest]) (*connect.Response[api.FinalizeResponse], error) {
	var stx ledger.SignedTransaction
	if err := json.Unmarshal(req.Msg.Transaction, &stx); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("failed to decode transaction: %w", err))
	}

	token, err := s.notary.Finalize(ctx, &stx)
	if err != nil {
		return nil, notary.ToConnectError(err)
	}

	raw, err := json.Marshal(token)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to encode token: %w", err))
	}
	return connect.NewResponse(&api.FinalizeResponse{Token: raw}), nil
}
