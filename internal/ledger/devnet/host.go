package devnet

import (
	"math"
	"time"

	errorsmod "cosmossdk.io/errors"
	badgerdb "github.com/dgraph-io/badger/v3"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/ledger"
)

// host binds one operation to the badger transaction of the enclosing ledger
// transaction.
type host struct {
	txn      *badgerdb.Txn
	source   address.AccountAddress
	now      time.Time
	self     address.ContractAddress
	readOnly bool
	events   *[]ledger.Event
}

func (h *host) Source() address.AccountAddress { return h.source }
func (h *host) Now() time.Time                 { return h.now }
func (h *host) Self() address.ContractAddress  { return h.self }

func (h *host) Load(key []byte) ([]byte, bool, error) {
	return getBytes(h.txn, dataKey(h.self, key))
}

func (h *host) Store(key, value []byte) error {
	if h.readOnly {
		return ledger.ErrReadOnly
	}
	return h.txn.Set(dataKey(h.self, key), value)
}

func (h *host) Balance(a address.Address) (uint64, error) {
	return getU64(h.txn, balanceKey(a))
}

// Transfer may only debit the signer or the executing contract.
func (h *host) Transfer(from, to address.Address, amount uint64) error {
	if h.readOnly {
		return ledger.ErrReadOnly
	}
	if !address.Equal(from, h.self) && !address.Equal(from, h.source) {
		return errorsmod.Wrapf(ledger.ErrInsufficientBalance, "%s cannot debit %s", h.self, from)
	}
	if c, ok := to.(address.ContractAddress); ok {
		if _, deployed, err := getBytes(h.txn, contractKey(c)); err != nil {
			return err
		} else if !deployed {
			return errorsmod.Wrapf(ledger.ErrContractNotFound, "transfer to %s", c)
		}
	}
	if amount == 0 {
		return nil
	}

	fromBal, err := getU64(h.txn, balanceKey(from))
	if err != nil {
		return err
	}
	if fromBal < amount {
		return errorsmod.Wrapf(ledger.ErrInsufficientBalance, "%s holds %d, sends %d", from, fromBal, amount)
	}
	if err := setU64(h.txn, balanceKey(from), fromBal-amount); err != nil {
		return err
	}
	toBal, err := getU64(h.txn, balanceKey(to))
	if err != nil {
		return err
	}
	if toBal > math.MaxUint64-amount {
		return errorsmod.Wrapf(ledger.ErrInsufficientBalance, "balance of %s would overflow", to)
	}
	return setU64(h.txn, balanceKey(to), toBal+amount)
}

func (h *host) Emit(topic abi.Symbol, data abi.Val) {
	*h.events = append(*h.events, ledger.Event{Contract: h.self, Topic: topic, Data: data})
}
