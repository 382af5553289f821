package auth

import (
	"context"

	"github.com/mmynk/splitledger/internal/models"
)

// Authenticator defines the interface for operator authentication.
// This abstraction allows swapping between different auth methods
// without changing the service layer code.
type Authenticator interface {
	// Register creates or replaces an operator account with the given
	// credential. The credential format depends on the implementation.
	Register(ctx context.Context, username, credential string) (*models.Operator, error)

	// Authenticate verifies the operator's credentials and returns the
	// operator if successful.
	Authenticate(ctx context.Context, username, credential string) (*models.Operator, error)

	// ValidateCredential checks if the credential meets the implementation's requirements.
	ValidateCredential(credential string) error
}
