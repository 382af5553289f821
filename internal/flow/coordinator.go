package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/notary"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/verifier"
)

const (
	DefaultPageSize         = 50
	DefaultMaxParallelSends = 4
)

// Config wires a Coordinator to its collaborators.
type Config struct {
	Self      identity.Signer
	Directory identity.Resolver
	Notary    notary.Notary
	Store     storage.Store
	Messenger Messenger
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	// PageSize is the vault page size used while gathering inputs.
	PageSize int
	// ConflictRetries is how many times a run rebuilds against fresh inputs
	// after losing a finality race.
	ConflictRetries int
	// MaxParallelSends bounds concurrent deliveries during propagation.
	MaxParallelSends int
}

// Coordinator runs protocols on behalf of one party.
type Coordinator struct {
	self      identity.Signer
	directory identity.Resolver
	notary    notary.Notary
	store     storage.Store
	messenger Messenger
	logger    *slog.Logger
	metrics   *metrics.Metrics

	pageSize         int
	conflictRetries  int
	maxParallelSends int
}

var _ Receiver = (*Coordinator)(nil)

// New validates cfg and creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Self == nil:
		return nil, errors.New("flow: Self is required")
	case cfg.Directory == nil:
		return nil, errors.New("flow: Directory is required")
	case cfg.Notary == nil:
		return nil, errors.New("flow: Notary is required")
	case cfg.Store == nil:
		return nil, errors.New("flow: Store is required")
	case cfg.Messenger == nil:
		return nil, errors.New("flow: Messenger is required")
	}

	c := &Coordinator{
		self:             cfg.Self,
		directory:        cfg.Directory,
		notary:           cfg.Notary,
		store:            cfg.Store,
		messenger:        cfg.Messenger,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		pageSize:         cfg.PageSize,
		conflictRetries:  cfg.ConflictRetries,
		maxParallelSends: cfg.MaxParallelSends,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.maxParallelSends <= 0 {
		c.maxParallelSends = DefaultMaxParallelSends
	}
	if c.conflictRetries < 0 {
		c.conflictRetries = 0
	}
	return c, nil
}

// Self returns the key of the party this coordinator acts for.
func (c *Coordinator) Self() models.PartyKey {
	return c.self.PublicKey()
}

// Result is a finished run and the transaction it finalized.
type Result struct {
	Run         *Run
	Transaction *ledger.SignedTransaction
}

// ProposeRequest describes a new shared expense. Parties are directory names
// or keys.
type ProposeRequest struct {
	Description   string
	Amount        decimal.Decimal
	PaidBy        string
	Beneficiaries []string
}

// Propose creates a new entry approved only by this party.
func (c *Coordinator) Propose(ctx context.Context, req ProposeRequest) (*Result, error) {
	return c.execute(ctx, ProtocolPropose, func(ctx context.Context, run *Run) (ledger.Transaction, error) {
		paidBy, err := c.resolve(req.PaidBy)
		if err != nil {
			return ledger.Transaction{}, err
		}
		beneficiaries := make([]models.PartyKey, 0, len(req.Beneficiaries))
		for _, name := range req.Beneficiaries {
			k, err := c.resolve(name)
			if err != nil {
				return ledger.Transaction{}, err
			}
			beneficiaries = append(beneficiaries, k)
		}

		run.enter(StageBuilding)
		entry := models.NewBillEntry(uuid.New(), req.Description, req.Amount, paidBy, beneficiaries, c.Self())
		return c.transaction(ledger.CreateBill, nil, []models.Record{models.BillRecord(entry)}), nil
	})
}

// Approve adds this party's approval to every listed entry.
func (c *Coordinator) Approve(ctx context.Context, ids []uuid.UUID) (*Result, error) {
	return c.execute(ctx, ProtocolApprove, func(ctx context.Context, run *Run) (ledger.Transaction, error) {
		inputs, err := c.gather(ctx, ids)
		if err != nil {
			return ledger.Transaction{}, err
		}

		run.enter(StageBuilding)
		outputs := make([]models.Record, len(inputs))
		for i, in := range inputs {
			outputs[i] = models.BillRecord(in.Record.Bill.WithApproval(c.Self()))
		}
		return c.transaction(ledger.ApproveBill, inputs, outputs), nil
	})
}

// Split settles the listed approved entries into one settlement.
func (c *Coordinator) Split(ctx context.Context, ids []uuid.UUID) (*Result, error) {
	return c.execute(ctx, ProtocolSplit, func(ctx context.Context, run *Run) (ledger.Transaction, error) {
		inputs, err := c.gather(ctx, ids)
		if err != nil {
			return ledger.Transaction{}, err
		}

		run.enter(StageBuilding)
		entries := make([]*models.BillEntry, len(inputs))
		outputs := make([]models.Record, 0, len(inputs)+1)
		for i, in := range inputs {
			entries[i] = in.Record.Bill
			outputs = append(outputs, models.BillRecord(in.Record.Bill.WithState(models.StateSettled)))
		}
		settlement := calculator.ComputeSettlement(entries)
		settlement.ID = uuid.New()
		outputs = append(outputs, models.SettlementRecord(settlement))
		return c.transaction(ledger.Split, inputs, outputs), nil
	})
}

func (c *Coordinator) transaction(kind ledger.CommandKind, inputs []ledger.StateAndRef, outputs []models.Record) ledger.Transaction {
	return ledger.Transaction{
		Inputs:  inputs,
		Outputs: outputs,
		Command: ledger.Command{Kind: kind, Signers: []models.PartyKey{c.Self()}},
		Notary:  c.directory.Notary().Key,
	}
}

type buildFunc func(ctx context.Context, run *Run) (ledger.Transaction, error)

// execute drives one run through its stages. build covers Gathering and
// Building and is called again when a finality conflict is retried.
func (c *Coordinator) execute(ctx context.Context, protocol Protocol, build buildFunc) (*Result, error) {
	run := newRun(protocol)
	logger := c.logger.With("run_id", run.ID, "protocol", protocol)

	res, err := c.attempt(ctx, run, logger, build)

	outcome := metrics.OutcomeDone
	var transportErr *TransportError
	switch {
	case err == nil:
	case errors.As(err, &transportErr):
		outcome = metrics.OutcomePartial
	case run.Stage == StageRejected:
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeFailed
	}
	c.metrics.ObserveRun(string(protocol), outcome, time.Since(run.StartedAt))

	return res, err
}

func (c *Coordinator) attempt(ctx context.Context, run *Run, logger *slog.Logger, build buildFunc) (*Result, error) {
	for {
		run.Attempts++
		run.enter(StageGathering)

		tx, err := build(ctx, run)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidRequest) {
				run.reject(err)
				logger.Warn("Run rejected", "stage", StageGathering, "error", err)
			}
			return &Result{Run: run}, err
		}

		run.enter(StageLocalVerify)
		if err := verifier.Verify(tx.InputRecords(), tx.Outputs, tx.Command, tx.Command.SignerSet()); err != nil {
			run.reject(err)
			logger.Warn("Run rejected", "stage", StageLocalVerify, "error", err)
			return &Result{Run: run}, err
		}

		stx, err := ledger.Sign(tx, c.self)
		if err != nil {
			return &Result{Run: run}, fmt.Errorf("failed to sign transaction: %w", err)
		}
		run.TxID = stx.ID

		run.enter(StageFinalizing)
		token, err := c.notary.Finalize(ctx, stx)
		if err != nil {
			var conflict *notary.ConflictError
			if errors.As(err, &conflict) {
				c.reconcile(ctx, tx.Inputs, conflict.Refs, logger)
			}
			if errors.Is(err, notary.ErrConflict) && run.Attempts <= c.conflictRetries {
				logger.Info("Finality conflict, rebuilding", "tx_id", stx.ID, "attempt", run.Attempts)
				continue
			}
			if errors.Is(err, notary.ErrConflict) || errors.Is(err, notary.ErrInvalidRequest) {
				run.reject(err)
				logger.Warn("Run rejected", "stage", StageFinalizing, "tx_id", stx.ID, "error", err)
				return &Result{Run: run}, err
			}
			return &Result{Run: run}, fmt.Errorf("failed to finalize transaction: %w", err)
		}
		stx.Finality = token

		if err := c.store.RecordTransaction(ctx, stx); err != nil {
			return &Result{Run: run}, fmt.Errorf("failed to record finalized transaction %s: %w", stx.ID, err)
		}
		logger.Info("Transaction finalized", "tx_id", stx.ID, "command", stx.Tx.Command.Kind)

		run.enter(StagePropagating)
		failures := c.propagate(ctx, stx, logger)
		run.enter(StageDone)

		res := &Result{Run: run, Transaction: stx}
		if len(failures) > 0 {
			c.metrics.PropagationFailed(len(failures))
			return res, &TransportError{TxID: stx.ID, Failures: failures}
		}
		return res, nil
	}
}

func (c *Coordinator) resolve(name string) (models.PartyKey, error) {
	p, err := c.directory.ResolveParty(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return p.Key, nil
}

// gather loads the current unconsumed version of every listed entry, in the
// order requested. Duplicated ids are collapsed.
func (c *Coordinator) gather(ctx context.Context, ids []uuid.UUID) ([]ledger.StateAndRef, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no entry ids", ErrInvalidRequest)
	}

	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	q := storage.Query{IDs: unique, Kind: models.KindBillEntry}
	var states []ledger.StateAndRef
	for number := 1; ; number++ {
		page, err := c.store.QueryStates(ctx, q, storage.PageSpec{Number: number, Size: c.pageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to query entries: %w", err)
		}
		states = append(states, page.States...)
		if len(states) >= page.Total || len(page.States) == 0 {
			break
		}
	}

	byID := make(map[uuid.UUID]ledger.StateAndRef, len(states))
	for _, s := range states {
		byID[s.Record.ID()] = s
	}

	var missing []string
	out := make([]ledger.StateAndRef, 0, len(unique))
	for _, id := range unique {
		s, ok := byID[id]
		if !ok {
			missing = append(missing, id.String())
			continue
		}
		out = append(out, s)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: entries %s", ErrNotFound, strings.Join(missing, ", "))
	}
	return out, nil
}

// reconcile records the transactions that consumed the conflicting refs, so
// the next build sees current versions. The holders of each stale input are
// asked in turn. Failures leave the vault no worse than before.
func (c *Coordinator) reconcile(ctx context.Context, inputs []ledger.StateAndRef, refs []ledger.StateRef, logger *slog.Logger) {
	byRef := make(map[ledger.StateRef]ledger.StateAndRef, len(inputs))
	for _, in := range inputs {
		byRef[in.Ref] = in
	}

	for _, ref := range refs {
		in, ok := byRef[ref]
		if !ok {
			continue
		}
		consumer, err := c.fetch(ctx, in.Record.Participants(), func(ctx context.Context, p identity.Party) (*ledger.SignedTransaction, error) {
			return c.messenger.FetchConsumer(ctx, p, ref)
		})
		if err == nil {
			err = c.receive(ctx, consumer, 0)
		}
		if err != nil {
			logger.Warn("Failed to reconcile conflicting input", "ref", ref.String(), "error", err)
			continue
		}
		logger.Info("Reconciled conflicting input", "ref", ref.String(), "consumed_by", consumer.ID)
	}
}

// propagate delivers stx to every other participant and returns the ones
// that did not acknowledge it.
func (c *Coordinator) propagate(ctx context.Context, stx *ledger.SignedTransaction, logger *slog.Logger) []PartyFailure {
	var (
		mu       sync.Mutex
		failures []PartyFailure
	)
	fail := func(p identity.Party, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, PartyFailure{Party: p, Err: err})
	}

	var g errgroup.Group
	g.SetLimit(c.maxParallelSends)
	for _, key := range stx.Tx.Participants() {
		if key == c.Self() {
			continue
		}
		party, err := c.directory.PartyByKey(key)
		if err != nil {
			fail(identity.Party{Name: key.String(), Key: key}, err)
			continue
		}
		g.Go(func() error {
			if err := c.messenger.Send(ctx, party, stx); err != nil {
				logger.Warn("Propagation failed", "tx_id", stx.ID, "party", party.Name, "error", err)
				fail(party, err)
				return nil
			}
			logger.Debug("Propagated", "tx_id", stx.ID, "party", party.Name)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Party.Key < failures[j].Party.Key })
	return failures
}
