// Package contract implements the escrow program executed by the ledger.
package contract

import (
	"time"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
)

// Host is the ledger environment a program runs in for one operation. All
// writes made through a Host belong to the enclosing transaction and are
// discarded together if any operation in it fails.
type Host interface {
	// Source is the account that signed the transaction.
	Source() address.AccountAddress
	// Now is the ledger time of the transaction.
	Now() time.Time
	// Self is the address of the executing contract.
	Self() address.ContractAddress

	Load(key []byte) ([]byte, bool, error)
	Store(key, value []byte) error

	Balance(a address.Address) (uint64, error)
	Transfer(from, to address.Address, amount uint64) error

	Emit(topic abi.Symbol, data abi.Val)
}

// Program is deployed code the ledger dispatches operations to.
type Program interface {
	Invoke(host Host, function abi.Symbol, args []abi.Val) (abi.Val, error)
}
