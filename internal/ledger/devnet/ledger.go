// Package devnet is an in-process ledger that executes native contract
// programs against badger-backed state. Each ledger transaction runs in one
// badger transaction, so a failing operation discards every write made by the
// transaction.
package devnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/contract"
	"rewardrails/internal/invoke"
	"rewardrails/internal/ledger"
)

type Options struct {
	// Dir holds the badger files. Empty keeps everything in memory.
	Dir       string
	NetworkID string
	Clock     func() time.Time
	Logger    zerolog.Logger
}

type Ledger struct {
	db        *badgerdb.DB
	networkID string
	clock     func() time.Time
	log       zerolog.Logger

	// mu gives every transaction touching the ledger a total order.
	mu       sync.Mutex
	programs map[address.ContractAddress]contract.Program

	faultMu  sync.Mutex
	failNext int
	loseNext int
	conflict int
}

var _ ledger.Ledger = (*Ledger)(nil)

func Open(opts Options) (*Ledger, error) {
	if opts.NetworkID == "" {
		return nil, errors.New("devnet: network id is required")
	}
	bopts := badgerdb.DefaultOptions(opts.Dir)
	if opts.Dir == "" {
		bopts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = newBadgerLogger(opts.Logger)

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("devnet: open state: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		db:        db,
		networkID: opts.NetworkID,
		clock:     clock,
		log:       opts.Logger.With().Str("component", "devnet").Logger(),
		programs:  make(map[address.ContractAddress]contract.Program),
	}, nil
}

func (l *Ledger) Close() error {
	if l.db.IsClosed() {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) NetworkID() string { return l.networkID }

func (l *Ledger) Ping(context.Context) error {
	if l.db.IsClosed() {
		return errorsmod.Wrap(ledger.ErrUnavailable, "state closed")
	}
	return nil
}

// Deploy installs program at addr. Programs are native code, so a reopened
// on-disk ledger needs them deployed again; existing state is kept.
func (l *Ledger) Deploy(addr address.ContractAddress, program contract.Program) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(contractKey(addr), []byte("native"))
	}); err != nil {
		return fmt.Errorf("devnet: deploy %s: %w", addr, err)
	}
	l.programs[addr] = program
	l.log.Info().Str("contract", addr.String()).Msg("contract deployed")
	return nil
}

// Credit mints amount into a's balance.
func (l *Ledger) Credit(a address.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Update(func(txn *badgerdb.Txn) error {
		bal, err := getU64(txn, balanceKey(a))
		if err != nil {
			return err
		}
		if bal+amount < bal {
			return errorsmod.Wrapf(ledger.ErrInsufficientBalance, "credit overflows %s", a)
		}
		return setU64(txn, balanceKey(a), bal+amount)
	})
}

func (l *Ledger) Balance(a address.Address) (uint64, error) {
	var bal uint64
	err := l.db.View(func(txn *badgerdb.Txn) error {
		var err error
		bal, err = getU64(txn, balanceKey(a))
		return err
	})
	return bal, err
}

// FailNext makes the next n submissions fail as unavailable before they are
// looked at.
func (l *Ledger) FailNext(n int) { l.setFault(&l.failNext, n) }

// LoseNextResponse executes the next n submissions normally and then reports
// them as unavailable, as when a response is lost in transit.
func (l *Ledger) LoseNextResponse(n int) { l.setFault(&l.loseNext, n) }

// ConflictNext consumes the source's sequence number ahead of the next n
// submissions, as if another submission from the same account won the race.
func (l *Ledger) ConflictNext(n int) { l.setFault(&l.conflict, n) }

func (l *Ledger) setFault(counter *int, n int) {
	l.faultMu.Lock()
	*counter = n
	l.faultMu.Unlock()
}

func (l *Ledger) takeFault(counter *int) bool {
	l.faultMu.Lock()
	defer l.faultMu.Unlock()
	if *counter > 0 {
		*counter--
		return true
	}
	return false
}

func (l *Ledger) Submit(ctx context.Context, stx invoke.SignedTransaction) (invoke.Hash, error) {
	if err := ctx.Err(); err != nil {
		return invoke.Hash{}, errorsmod.Wrap(ledger.ErrUnavailable, err.Error())
	}
	if l.takeFault(&l.failNext) {
		return invoke.Hash{}, errorsmod.Wrap(ledger.ErrUnavailable, "injected outage")
	}

	hash := stx.Hash(l.networkID)
	tx, err := stx.Verify(l.networkID)
	switch {
	case errors.Is(err, invoke.ErrSignerMismatch):
		return invoke.Hash{}, errorsmod.Wrap(ledger.ErrBadSignature, err.Error())
	case errors.Is(err, invoke.ErrTooManyOperations):
		return invoke.Hash{}, errorsmod.Wrap(ledger.ErrTooManyOperations, err.Error())
	case err != nil:
		return invoke.Hash{}, errorsmod.Wrap(ledger.ErrMalformedTx, err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.takeFault(&l.conflict) {
		if err := l.db.Update(func(txn *badgerdb.Txn) error {
			next, err := getU64(txn, seqKey(tx.Source))
			if err != nil {
				return err
			}
			return setU64(txn, seqKey(tx.Source), next+1)
		}); err != nil {
			return invoke.Hash{}, errorsmod.Wrap(ledger.ErrUnavailable, err.Error())
		}
	}

	if err := l.db.View(func(txn *badgerdb.Txn) error {
		if _, found, err := getBytes(txn, receiptKey(hash)); err != nil {
			return err
		} else if found {
			return errorsmod.Wrapf(ledger.ErrDuplicateTx, "tx %s", hash)
		}
		next, err := getU64(txn, seqKey(tx.Source))
		if err != nil {
			return err
		}
		if tx.Sequence != next {
			return errorsmod.Wrapf(ledger.ErrBadSequence, "account %s expects %d, got %d", tx.Source, next, tx.Sequence)
		}
		return nil
	}); err != nil {
		return invoke.Hash{}, err
	}

	receipt := l.execute(hash, tx)
	l.log.Debug().
		Str("tx_hash", hash.String()).
		Str("source", tx.Source.String()).
		Uint64("sequence", tx.Sequence).
		Bool("success", receipt.Success).
		Str("log", receipt.Log).
		Msg("transaction applied")

	if l.takeFault(&l.loseNext) {
		return invoke.Hash{}, errorsmod.Wrap(ledger.ErrUnavailable, "response lost")
	}
	return hash, nil
}

// execute applies tx and always records a receipt. A failed transaction
// still consumes its sequence number.
func (l *Ledger) execute(hash invoke.Hash, tx invoke.Transaction) *ledger.Receipt {
	now := l.clock()
	receipt := &ledger.Receipt{
		Hash:      hash,
		Source:    tx.Source,
		Sequence:  tx.Sequence,
		Success:   true,
		Timestamp: now,
	}

	err := l.db.Update(func(txn *badgerdb.Txn) error {
		var events []ledger.Event
		for i, op := range tx.Operations {
			prog, ok := l.programs[op.Contract]
			if !ok {
				return errorsmod.Wrapf(ledger.ErrContractNotFound, "operation %d targets %s", i, op.Contract)
			}
			h := &host{txn: txn, source: tx.Source, now: now, self: op.Contract, events: &events}
			out, err := prog.Invoke(h, op.Function, op.Args)
			if err != nil {
				return errorsmod.Wrapf(err, "operation %d (%s)", i, op.Function)
			}
			receipt.Results = append(receipt.Results, out)
		}
		receipt.Events = events
		if err := setU64(txn, seqKey(tx.Source), tx.Sequence+1); err != nil {
			return err
		}
		return putReceipt(txn, receipt)
	})
	if err == nil {
		return receipt
	}

	receipt.FailWith(err)
	if werr := l.db.Update(func(txn *badgerdb.Txn) error {
		if err := setU64(txn, seqKey(tx.Source), tx.Sequence+1); err != nil {
			return err
		}
		return putReceipt(txn, receipt)
	}); werr != nil {
		l.log.Error().Err(werr).Str("tx_hash", hash.String()).Msg("failed to record failed transaction")
	}
	return receipt
}

func (l *Ledger) Receipt(ctx context.Context, hash invoke.Hash) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, errorsmod.Wrap(ledger.ErrUnavailable, err.Error())
	}
	var r *ledger.Receipt
	err := l.db.View(func(txn *badgerdb.Txn) error {
		var err error
		r, err = getReceipt(txn, hash)
		return err
	})
	return r, err
}

func (l *Ledger) Sequence(ctx context.Context, account address.AccountAddress) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errorsmod.Wrap(ledger.ErrUnavailable, err.Error())
	}
	var next uint64
	err := l.db.View(func(txn *badgerdb.Txn) error {
		var err error
		next, err = getU64(txn, seqKey(account))
		return err
	})
	return next, err
}

// Query runs op without a signer against a read-only view of state.
func (l *Ledger) Query(ctx context.Context, op invoke.Operation) (abi.Val, error) {
	if err := ctx.Err(); err != nil {
		return abi.Val{}, errorsmod.Wrap(ledger.ErrUnavailable, err.Error())
	}
	l.mu.Lock()
	prog, ok := l.programs[op.Contract]
	l.mu.Unlock()
	if !ok {
		return abi.Val{}, errorsmod.Wrapf(ledger.ErrContractNotFound, "query targets %s", op.Contract)
	}

	var out abi.Val
	err := l.db.View(func(txn *badgerdb.Txn) error {
		var discard []ledger.Event
		h := &host{txn: txn, now: l.clock(), self: op.Contract, readOnly: true, events: &discard}
		var err error
		out, err = prog.Invoke(h, op.Function, op.Args)
		return err
	})
	return out, err
}
