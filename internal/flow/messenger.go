package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

// Messenger delivers a finalized transaction to one counterparty and waits
// for its acknowledgment. A nil error means the counterparty verified and
// recorded the transaction.
//
// The fetch methods ask a counterparty for transactions it has recorded. The
// caller verifies whatever comes back.
type Messenger interface {
	Send(ctx context.Context, to identity.Party, stx *ledger.SignedTransaction) error
	FetchTransaction(ctx context.Context, from identity.Party, txID string) (*ledger.SignedTransaction, error)
	FetchConsumer(ctx context.Context, from identity.Party, ref ledger.StateRef) (*ledger.SignedTransaction, error)
}

// Receiver is the responder side of a Messenger.
type Receiver interface {
	Receive(ctx context.Context, stx *ledger.SignedTransaction) error
	Transaction(ctx context.Context, txID string) (*ledger.SignedTransaction, error)
	Consumer(ctx context.Context, ref ledger.StateRef) (*ledger.SignedTransaction, error)
}

// LocalNetwork is an in-process Messenger connecting coordinators directly.
// Transactions are copied through their JSON encoding, as on the wire.
type LocalNetwork struct {
	mu        sync.RWMutex
	receivers map[models.PartyKey]Receiver
	down      map[models.PartyKey]bool
}

var _ Messenger = (*LocalNetwork)(nil)

func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		receivers: make(map[models.PartyKey]Receiver),
		down:      make(map[models.PartyKey]bool),
	}
}

// Register attaches the receiver for key.
func (n *LocalNetwork) Register(key models.PartyKey, r Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receivers[key] = r
}

// SetDown marks key as unreachable (or reachable again).
func (n *LocalNetwork) SetDown(key models.PartyKey, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[key] = down
}

func (n *LocalNetwork) receiver(p identity.Party) (Receiver, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	r, ok := n.receivers[p.Key]
	if !ok || n.down[p.Key] {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, p.Name)
	}
	return r, nil
}

// Send implements Messenger.
func (n *LocalNetwork) Send(ctx context.Context, to identity.Party, stx *ledger.SignedTransaction) error {
	r, err := n.receiver(to)
	if err != nil {
		return err
	}
	copied, err := wireCopy(stx)
	if err != nil {
		return err
	}
	return r.Receive(ctx, copied)
}

// FetchTransaction implements Messenger.
func (n *LocalNetwork) FetchTransaction(ctx context.Context, from identity.Party, txID string) (*ledger.SignedTransaction, error) {
	r, err := n.receiver(from)
	if err != nil {
		return nil, err
	}
	stx, err := r.Transaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	return wireCopy(stx)
}

// FetchConsumer implements Messenger.
func (n *LocalNetwork) FetchConsumer(ctx context.Context, from identity.Party, ref ledger.StateRef) (*ledger.SignedTransaction, error) {
	r, err := n.receiver(from)
	if err != nil {
		return nil, err
	}
	stx, err := r.Consumer(ctx, ref)
	if err != nil {
		return nil, err
	}
	return wireCopy(stx)
}

func wireCopy(stx *ledger.SignedTransaction) (*ledger.SignedTransaction, error) {
	raw, err := json.Marshal(stx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	var copied ledger.SignedTransaction
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &copied, nil
}
