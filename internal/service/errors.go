package service

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/flow"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/notary"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/verifier"
)

// toConnectError maps domain errors onto RPC codes. Violations keep their
// reason as the message so callers see why a transition was refused.
func toConnectError(err error) *connect.Error {
	var violation *verifier.Violation
	switch {
	case errors.As(err, &violation):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, notary.ErrConflict):
		return notary.ToConnectError(err)
	case errors.Is(err, flow.ErrUntrusted):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, flow.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, identity.ErrPartyNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, flow.ErrInvalidRequest),
		errors.Is(err, storage.ErrInvalidPage),
		errors.Is(err, notary.ErrInvalidRequest):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
