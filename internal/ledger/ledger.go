// Package ledger defines what the settlement layer needs from a ledger
// network: submission, receipts, sequence numbers and read-only queries.
package ledger

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/invoke"
)

const Codespace = "ledger"

var (
	ErrTxNotFound          = errorsmod.Register(Codespace, 2, "transaction not found")
	ErrBadSequence         = errorsmod.Register(Codespace, 3, "bad sequence number")
	ErrDuplicateTx         = errorsmod.Register(Codespace, 4, "duplicate transaction")
	ErrBadSignature        = errorsmod.Register(Codespace, 5, "bad signature")
	ErrUnavailable         = errorsmod.Register(Codespace, 6, "ledger unavailable")
	ErrTooManyOperations   = errorsmod.Register(Codespace, 7, "too many operations")
	ErrContractNotFound    = errorsmod.Register(Codespace, 8, "contract not found")
	ErrInsufficientBalance = errorsmod.Register(Codespace, 9, "insufficient balance")
	ErrMalformedTx         = errorsmod.Register(Codespace, 10, "malformed transaction")
	ErrReadOnly            = errorsmod.Register(Codespace, 11, "write in read-only query")
)

// Ledger is implemented by the in-process devnet and the EVM gateway adapter.
type Ledger interface {
	// Submit hands a signed transaction to the network and returns its hash.
	// A nil error means accepted for execution, not executed. An error does
	// not prove the transaction was not executed unless it is a validation
	// error returned before execution (bad signature, bad sequence).
	Submit(ctx context.Context, stx invoke.SignedTransaction) (invoke.Hash, error)
	// Receipt returns the execution result or ErrTxNotFound.
	Receipt(ctx context.Context, hash invoke.Hash) (*Receipt, error)
	// Sequence returns the next sequence number the account must use.
	Sequence(ctx context.Context, account address.AccountAddress) (uint64, error)
	// Query runs a read-only operation against current state.
	Query(ctx context.Context, op invoke.Operation) (abi.Val, error)
}

// Event is a raw contract event.
type Event struct {
	Contract address.ContractAddress
	Topic    abi.Symbol
	Data     abi.Val
}

// Receipt records the outcome of an executed transaction. A failed
// transaction consumed its sequence number and moved nothing.
type Receipt struct {
	Hash      invoke.Hash
	Source    address.AccountAddress
	Sequence  uint64
	Success   bool
	Codespace string
	Code      uint32
	Log       string
	Results   []abi.Val
	Events    []Event
	Timestamp time.Time
}

// Err maps a failed receipt back to the registered error so errors.Is works
// on errors that crossed the ledger boundary.
func (r *Receipt) Err() error {
	if r == nil || r.Success {
		return nil
	}
	return errorsmod.ABCIError(r.Codespace, r.Code, r.Log)
}

// FailWith fills the failure fields from an execution error.
func (r *Receipt) FailWith(err error) {
	r.Success = false
	r.Codespace, r.Code, r.Log = errorsmod.ABCIInfo(err, false)
	r.Results = nil
	r.Events = nil
}
