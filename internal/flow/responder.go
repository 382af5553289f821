package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/verifier"
)

// maxResolveDepth bounds how many unseen ancestors a responder fetches
// behind a single input.
const maxResolveDepth = 16

// Receive is the responder side of every protocol. It accepts a finalized
// transaction only if it verifies independently for this party, and records
// nothing otherwise.
func (c *Coordinator) Receive(ctx context.Context, stx *ledger.SignedTransaction) error {
	logger := c.logger.With("tx_id", stx.ID, "command", stx.Tx.Command.Kind)

	err := c.receive(ctx, stx, 0)
	switch {
	case err == nil:
		c.metrics.ObserveReceived(string(stx.Tx.Command.Kind), metrics.OutcomeAccepted)
		logger.Info("Transaction accepted")
	case isRejection(err):
		c.metrics.ObserveReceived(string(stx.Tx.Command.Kind), metrics.OutcomeRejected)
		logger.Warn("Transaction rejected", "error", err)
	default:
		c.metrics.ObserveReceived(string(stx.Tx.Command.Kind), metrics.OutcomeFailed)
		logger.Error("Failed to receive transaction", "error", err)
	}
	return err
}

func isRejection(err error) bool {
	var v *verifier.Violation
	return errors.As(err, &v) || errors.Is(err, ErrUntrusted)
}

// Transaction serves a recorded transaction to a counterparty that is
// catching up.
func (c *Coordinator) Transaction(ctx context.Context, txID string) (*ledger.SignedTransaction, error) {
	stx, err := c.store.GetTransaction(ctx, txID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return stx, err
}

// Consumer serves the recorded transaction that consumed ref.
func (c *Coordinator) Consumer(ctx context.Context, ref ledger.StateRef) (*ledger.SignedTransaction, error) {
	stx, err := c.store.GetConsumer(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return stx, err
}

func (c *Coordinator) receive(ctx context.Context, stx *ledger.SignedTransaction, depth int) error {
	if err := stx.CheckID(); err != nil {
		return fmt.Errorf("%w: %w", ErrUntrusted, err)
	}
	signers, err := stx.VerifySignatures()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUntrusted, err)
	}
	if err := stx.VerifyFinality(c.directory.Notary().Key); err != nil {
		return fmt.Errorf("%w: %w", ErrUntrusted, err)
	}

	participant := false
	for _, k := range stx.Tx.Participants() {
		if k == c.Self() {
			participant = true
			break
		}
	}
	if !participant {
		return fmt.Errorf("%w: %s is not a participant", ErrUntrusted, c.Self())
	}

	for _, in := range stx.Tx.Inputs {
		local, err := c.store.GetState(ctx, in.Ref)
		if errors.Is(err, storage.ErrNotFound) {
			// Versions this party never held are vouched for by the notary
			// alone. Its own versions must come with their history.
			if !holds(in.Record, c.Self()) {
				continue
			}
			local, err = c.resolveInput(ctx, stx, in.Ref, depth)
			if err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("failed to load input %s: %w", in.Ref, err)
		}
		if !local.Record.Equal(in.Record) {
			return fmt.Errorf("%w: input %s differs from the local copy", ErrUntrusted, in.Ref)
		}
	}

	if err := verifier.Verify(stx.Tx.InputRecords(), stx.Tx.Outputs, stx.Tx.Command, signers); err != nil {
		return err
	}

	if err := c.store.RecordTransaction(ctx, stx); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// resolveInput fetches, verifies and records the transaction that produced
// ref, then returns the version it recorded.
func (c *Coordinator) resolveInput(ctx context.Context, stx *ledger.SignedTransaction, ref ledger.StateRef, depth int) (*ledger.StateAndRef, error) {
	if depth >= maxResolveDepth {
		return nil, fmt.Errorf("%w: input %s is more than %d transactions behind", ErrUntrusted, ref, maxResolveDepth)
	}

	sources := append(append([]models.PartyKey{}, stx.Tx.Command.Signers...), stx.Tx.Participants()...)
	producer, err := c.fetch(ctx, sources, func(ctx context.Context, p identity.Party) (*ledger.SignedTransaction, error) {
		return c.messenger.FetchTransaction(ctx, p, ref.TxID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: input %s is unknown here: %w", ErrUntrusted, ref, err)
	}
	if producer.ID != ref.TxID {
		return nil, fmt.Errorf("%w: asked for %s, got %s", ErrUntrusted, ref.TxID, producer.ID)
	}
	if err := c.receive(ctx, producer, depth+1); err != nil {
		return nil, fmt.Errorf("%w: producer of input %s: %w", ErrUntrusted, ref, err)
	}

	local, err := c.store.GetState(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no output %d", ErrUntrusted, ref.TxID, ref.Index)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load input %s: %w", ref, err)
	}
	return local, nil
}

// fetch asks each counterparty in keys, in order, until one answers.
func (c *Coordinator) fetch(ctx context.Context, keys []models.PartyKey, get func(context.Context, identity.Party) (*ledger.SignedTransaction, error)) (*ledger.SignedTransaction, error) {
	var errs []error
	asked := make(map[models.PartyKey]bool, len(keys))
	for _, key := range keys {
		if key == c.Self() || asked[key] {
			continue
		}
		asked[key] = true

		party, err := c.directory.PartyByKey(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stx, err := get(ctx, party)
		if err == nil {
			return stx, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", party.Name, err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no counterparty to ask", ErrNotFound)
	}
	return nil, errors.Join(errs...)
}

func holds(r models.Record, key models.PartyKey) bool {
	for _, k := range r.Participants() {
		if k == key {
			return true
		}
	}
	return false
}
