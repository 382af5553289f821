package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/splitledger/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidHash        = errors.New("password hash is not a bcrypt hash")
)

// OperatorStorage defines the interface for operator persistence.
// This allows the authenticator to be independent of the storage implementation.
type OperatorStorage interface {
	UpsertOperator(ctx context.Context, op *models.Operator) error
	GetOperator(ctx context.Context, username string) (*models.Operator, error)
}

// PasswordAuthenticator implements password-based authentication using bcrypt.
type PasswordAuthenticator struct {
	storage OperatorStorage
}

var _ Authenticator = (*PasswordAuthenticator)(nil)

// NewPasswordAuthenticator creates a new password-based authenticator.
func NewPasswordAuthenticator(storage OperatorStorage) *PasswordAuthenticator {
	return &PasswordAuthenticator{
		storage: storage,
	}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// ValidateCredential checks if the password meets minimum requirements.
func (a *PasswordAuthenticator) ValidateCredential(credential string) error {
	if len(credential) < 8 {
		return ErrWeakPassword
	}
	return nil
}

// Register stores an operator with a hashed password.
func (a *PasswordAuthenticator) Register(ctx context.Context, username, credential string) (*models.Operator, error) {
	if err := a.ValidateCredential(credential); err != nil {
		return nil, err
	}

	hashed, err := HashPassword(credential)
	if err != nil {
		return nil, err
	}
	return a.EnsureOperator(ctx, username, hashed)
}

// EnsureOperator stores an operator from an existing bcrypt hash, as
// provisioned through configuration.
func (a *PasswordAuthenticator) EnsureOperator(ctx context.Context, username, passwordHash string) (*models.Operator, error) {
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}

	op := models.NewOperator(username, passwordHash)
	if err := a.storage.UpsertOperator(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to store operator: %w", err)
	}
	return op, nil
}

// Provision seeds the configured operator from a bcrypt hash or, failing
// that, a plaintext password. It returns nil when neither is set.
func (a *PasswordAuthenticator) Provision(ctx context.Context, username, passwordHash, password string) (*models.Operator, error) {
	switch {
	case passwordHash != "":
		return a.EnsureOperator(ctx, username, passwordHash)
	case password != "":
		return a.Register(ctx, username, password)
	default:
		return nil, nil
	}
}

// Authenticate verifies the username and password, returning the operator if valid.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, username, credential string) (*models.Operator, error) {
	op, err := a.storage.GetOperator(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Compare password hash
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return op, nil
}
