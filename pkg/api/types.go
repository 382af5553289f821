package api

import (
	"encoding/json"
	"time"
)

// Party is one directory entry.
type Party struct {
	Name    string `json:"name"`
	Key     string `json:"key"`
	Address string `json:"address,omitempty"`
}

// Entry is a bill entry as shown to operators. Parties are named by their
// directory name when known, by key otherwise.
type Entry struct {
	ID            string          `json:"id"`
	State         string          `json:"state"`
	Description   string          `json:"description"`
	Amount        string          `json:"amount"`
	PaidBy        string          `json:"paid_by"`
	Beneficiaries []string        `json:"beneficiaries"`
	Approvers     map[string]bool `json:"approvers"`
	Ref           string          `json:"ref,omitempty"`
}

// Settlement is a settlement record; balances are decimal strings.
type Settlement struct {
	ID       string            `json:"id"`
	TxID     string            `json:"tx_id,omitempty"`
	Balances map[string]string `json:"balances"`
}

// Transfer is one payment that clears part of the net balances.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type CreateEntryRequest struct {
	Description   string   `json:"description"`
	Amount        string   `json:"amount"`
	PaidBy        string   `json:"paid_by"`
	Beneficiaries []string `json:"beneficiaries"`
}

type CreateEntryResponse struct {
	Entry    *Entry   `json:"entry"`
	TxID     string   `json:"tx_id"`
	Warnings []string `json:"warnings,omitempty"`
}

type ApproveEntriesRequest struct {
	IDs []string `json:"ids"`
}

type ApproveEntriesResponse struct {
	Entries  []*Entry `json:"entries"`
	TxID     string   `json:"tx_id"`
	Warnings []string `json:"warnings,omitempty"`
}

type SplitEntriesRequest struct {
	IDs []string `json:"ids"`
}

type SplitEntriesResponse struct {
	Settlement *Settlement `json:"settlement"`
	Entries    []*Entry    `json:"entries"`
	TxID       string      `json:"tx_id"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// ListEntriesRequest filters by state; an empty state lists every unconsumed
// entry. Page is 1-based; zero values select the defaults.
type ListEntriesRequest struct {
	State    string `json:"state,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

type ListEntriesResponse struct {
	Entries  []*Entry `json:"entries"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

type ListPartiesRequest struct{}

type ListPartiesResponse struct {
	Self    string   `json:"self"`
	Parties []*Party `json:"parties"`
	Notary  *Party   `json:"notary"`
}

type ListSettlementsRequest struct{}

type ListSettlementsResponse struct {
	Settlements []*Settlement     `json:"settlements"`
	Balances    map[string]string `json:"balances"`
	Transfers   []*Transfer       `json:"transfers"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReceiveTransactionRequest carries a finalized signed transaction.
type ReceiveTransactionRequest struct {
	Transaction json.RawMessage `json:"transaction"`
}

type ReceiveTransactionResponse struct {
	TxID string `json:"tx_id"`
}

// GetTransactionRequest names a recorded transaction either by id or by a
// record version it consumed.
type GetTransactionRequest struct {
	TxID       string    `json:"tx_id,omitempty"`
	ConsumerOf *StateRef `json:"consumer_of,omitempty"`
}

type GetTransactionResponse struct {
	Transaction json.RawMessage `json:"transaction"`
}

// StateRef points at one output of a transaction.
type StateRef struct {
	TxID  string `json:"tx_id"`
	Index int    `json:"index"`
}

// FinalizeRequest carries a signed transaction without a finality token.
type FinalizeRequest struct {
	Transaction json.RawMessage `json:"transaction"`
}

type FinalizeResponse struct {
	Token json.RawMessage `json:"token"`
}
