package models

import "time"

// Operator is a local account allowed to drive a node through its command
// surface (create, approve, split). Operators authenticate with a password;
// ledger parties authenticate with signatures.
type Operator struct {
	// Username is the login name (e.g., "admin").
	Username string

	// PasswordHash is the bcrypt hash of the operator's password.
	PasswordHash string

	CreatedAt int64
	UpdatedAt int64
}

// NewOperator creates an operator with the current timestamps.
func NewOperator(username, passwordHash string) *Operator {
	now := time.Now().Unix()
	return &Operator{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
