package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

type memoryOperators struct {
	mu  sync.Mutex
	ops map[string]*models.Operator
}

func (m *memoryOperators) UpsertOperator(_ context.Context, op *models.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.Username] = op
	return nil
}

func (m *memoryOperators) GetOperator(_ context.Context, username string) (*models.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[username]
	if !ok {
		return nil, fmt.Errorf("operator %q not found", username)
	}
	return op, nil
}

func TestPasswordAuthenticator(t *testing.T) {
	ctx := context.Background()
	a := NewPasswordAuthenticator(&memoryOperators{ops: map[string]*models.Operator{}})

	if _, err := a.Register(ctx, "admin", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("Expected ErrWeakPassword, got %v", err)
	}
	if _, err := a.Register(ctx, "admin", "password"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "admin", "password", nil},
		{"wrong password", "admin", "passw0rd", ErrInvalidCredentials},
		{"unknown operator", "root", "password", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := a.Authenticate(ctx, tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && op.Username != tt.username {
				t.Errorf("Username = %q, want %q", op.Username, tt.username)
			}
		})
	}
}

func TestEnsureOperator(t *testing.T) {
	ctx := context.Background()
	a := NewPasswordAuthenticator(&memoryOperators{ops: map[string]*models.Operator{}})

	if _, err := a.EnsureOperator(ctx, "admin", "plaintext"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("Expected ErrInvalidHash, got %v", err)
	}

	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if _, err := a.EnsureOperator(ctx, "admin", hash); err != nil {
		t.Fatalf("EnsureOperator failed: %v", err)
	}
	if _, err := a.Authenticate(ctx, "admin", "correct horse"); err != nil {
		t.Errorf("Authenticate failed: %v", err)
	}
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	hash, err := HashPassword("from the hash")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	tests := []struct {
		name      string
		hash      string
		password  string
		wantErr   error
		wantNil   bool
		loginWith string
	}{
		{name: "nothing configured", wantNil: true},
		{name: "hash", hash: hash, loginWith: "from the hash"},
		{name: "password", password: "from the password", loginWith: "from the password"},
		{name: "hash wins", hash: hash, password: "from the password", loginWith: "from the hash"},
		{name: "weak password", password: "short", wantErr: ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewPasswordAuthenticator(&memoryOperators{ops: map[string]*models.Operator{}})
			op, err := a.Provision(ctx, "admin", tt.hash, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Provision failed: %v", err)
			}
			if tt.wantNil {
				if op != nil {
					t.Errorf("Expected no operator, got %v", op.Username)
				}
				return
			}
			if _, err := a.Authenticate(ctx, "admin", tt.loginWith); err != nil {
				t.Errorf("Authenticate failed: %v", err)
			}
		})
	}
}

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("secret", time.Hour, "Alice")
	op := models.NewOperator("admin", "")

	token, expiresAt, err := m.Generate(op)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("Expected a future expiry, got %v", expiresAt)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Operator() != "admin" {
		t.Errorf("Username = %q, want admin", claims.Operator())
	}

	invalid := []struct {
		name    string
		manager *JWTManager
		token   string
	}{
		{"wrong secret", NewJWTManager("other", time.Hour, "Alice"), token},
		{"other issuer", NewJWTManager("secret", time.Hour, "Bob"), token},
		{"garbage", m, "not-a-token"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.manager.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}

	expired := NewJWTManager("secret", -time.Minute, "Alice")
	token, _, err = expired.Generate(op)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := expired.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected expired token to be rejected, got %v", err)
	}
}
