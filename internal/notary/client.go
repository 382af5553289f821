package notary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/pkg/api"
)

// ConflictRefsHeader is the error metadata key carrying the JSON-encoded
// refs of a *ConflictError across the RPC boundary.
const ConflictRefsHeader = "Splitledger-Conflict-Refs"

// Client is a Notary reached over the NotaryService RPC.
type Client struct {
	rpc *api.NotaryServiceClient
}

var _ Notary = (*Client)(nil)

// NewClient creates a client for the notary at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{rpc: api.NewNotaryServiceClient(httpClient, baseURL, opts...)}
}

// Finalize implements Notary.
func (c *Client) Finalize(ctx context.Context, stx *ledger.SignedTransaction) (*ledger.FinalityToken, error) {
	raw, err := json.Marshal(stx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	resp, err := c.rpc.Finalize(ctx, connect.NewRequest(&api.FinalizeRequest{Transaction: raw}))
	if err != nil {
		return nil, FromConnectError(stx.ID, err)
	}

	var token ledger.FinalityToken
	if err := json.Unmarshal(resp.Msg.Token, &token); err != nil {
		return nil, fmt.Errorf("failed to decode finality token: %w", err)
	}
	return &token, nil
}

// ToConnectError translates a Finalize error for the RPC boundary.
func ToConnectError(err error) *connect.Error {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		cerr := connect.NewError(connect.CodeAborted, err)
		if refs, mErr := json.Marshal(conflict.Refs); mErr == nil {
			cerr.Meta().Set(ConflictRefsHeader, string(refs))
		}
		return cerr
	case errors.Is(err, ErrInvalidRequest):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// FromConnectError restores a *ConflictError from an Aborted RPC error.
// Other errors are wrapped unchanged.
func FromConnectError(txID string, err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return fmt.Errorf("notary request failed: %w", err)
	}
	switch cerr.Code() {
	case connect.CodeAborted:
		conflict := &ConflictError{TxID: txID}
		if raw := cerr.Meta().Get(ConflictRefsHeader); raw != "" {
			_ = json.Unmarshal([]byte(raw), &conflict.Refs)
		}
		return conflict
	case connect.CodeInvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, cerr.Message())
	default:
		return fmt.Errorf("notary request failed: %w", err)
	}
}
