// Package escrow holds the escrow record model shared by the contract and the
// off-chain settlement code.
package escrow

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"rewardrails/internal/address"
)

// ID is the opaque escrow identifier assigned at creation.
type ID [32]byte

// DeriveID computes the id the contract assigns to (funder, reference).
func DeriveID(funder address.AccountAddress, reference string) ID {
	return ID(crypto.Keccak256Hash(funder.Bytes(), []byte(reference)))
}

func (id ID) String() string { return "0x" + hex.EncodeToString(id[:]) }

func (id ID) IsZero() bool { return id == ID{} }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func ParseID(text string) (ID, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(text), "0x"))
	if err != nil {
		return ID{}, fmt.Errorf("parse escrow id: %w", err)
	}
	return IDFromBytes(raw)
}

func IDFromBytes(raw []byte) (ID, error) {
	var id ID
	if len(raw) != len(id) {
		return id, fmt.Errorf("escrow id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// RefundMode is fixed at creation. The ordinals are part of the wire contract.
type RefundMode uint32

const (
	RefundFull    RefundMode = 0
	RefundPartial RefundMode = 1
	RefundCustom  RefundMode = 2
)

func (m RefundMode) Valid() bool { return m <= RefundCustom }

func (m RefundMode) String() string {
	switch m {
	case RefundFull:
		return "full"
	case RefundPartial:
		return "partial"
	case RefundCustom:
		return "custom"
	default:
		return fmt.Sprintf("mode(%d)", uint32(m))
	}
}

func ParseRefundMode(s string) (RefundMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return RefundFull, nil
	case "partial":
		return RefundPartial, nil
	case "custom":
		return RefundCustom, nil
	}
	return 0, fmt.Errorf("unknown refund mode %q", s)
}

type Status uint32

const (
	StatusCreated Status = iota
	StatusFunded
	StatusReleased
	StatusRefunded
	StatusPartiallyRefunded
	StatusFailed
)

var statusNames = [...]string{"created", "funded", "released", "refunded", "partially_refunded", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

func (s Status) Valid() bool { return int(s) < len(statusNames) }

// IsTerminal reports whether no further transition is legal. A partial refund
// moves every locked unit in one transaction, so nothing is left pending.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusPartiallyRefunded, StatusFailed:
		return true
	}
	return false
}

// Payout is one (recipient, amount) pair in the smallest currency unit.
type Payout struct {
	Recipient address.Address
	Amount    uint64
}

var ErrAmountOverflow = errors.New("payout amounts overflow uint64")

// SumPayouts adds the payout amounts, failing instead of wrapping.
func SumPayouts(payouts []Payout) (uint64, error) {
	var total uint64
	for _, p := range payouts {
		sum, carry := bits.Add64(total, p.Amount, 0)
		if carry != 0 {
			return 0, ErrAmountOverflow
		}
		total = sum
	}
	return total, nil
}

// SamePayouts compares two ordered payout lists.
func SamePayouts(a, b []Payout) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Amount != b[i].Amount || !address.Equal(a[i].Recipient, b[i].Recipient) {
			return false
		}
	}
	return true
}

// Record is the on-ledger escrow entity.
type Record struct {
	ID            ID
	Reference     string
	Funder        address.AccountAddress
	Operator      address.Address // nil when the funder settles alone
	Beneficiaries []Payout
	LockedAmount  uint64
	Approved      uint64 // earned share for Partial mode
	RefundMode    RefundMode
	Status        Status
	CreatedAt     time.Time
	FundedAt      time.Time
	SettledAt     time.Time
}

var (
	ErrNoBeneficiaries = errors.New("escrow needs at least one beneficiary")
	ErrZeroAmount      = errors.New("escrow amounts must be positive")
	ErrLockedMismatch  = errors.New("locked amount does not equal the beneficiary total")
)

// Validate checks the record's static invariants.
func (r Record) Validate() error {
	if len(r.Beneficiaries) == 0 {
		return ErrNoBeneficiaries
	}
	if r.LockedAmount == 0 {
		return ErrZeroAmount
	}
	for _, b := range r.Beneficiaries {
		if b.Amount == 0 || b.Recipient == nil {
			return ErrZeroAmount
		}
	}
	total, err := SumPayouts(r.Beneficiaries)
	if err != nil {
		return err
	}
	if total != r.LockedAmount {
		return fmt.Errorf("%w: locked %d, beneficiaries %d", ErrLockedMismatch, r.LockedAmount, total)
	}
	if !r.RefundMode.Valid() {
		return fmt.Errorf("invalid refund mode %d", uint32(r.RefundMode))
	}
	return nil
}

// EventKind classifies settlement events.
type EventKind string

const (
	EventRelease  EventKind = "release"
	EventRefund   EventKind = "refund"
	EventBatchPay EventKind = "batch_pay"
)

func (k EventKind) Valid() bool {
	return k == EventRelease || k == EventRefund || k == EventBatchPay
}

// Event is emitted by every settling transition.
type Event struct {
	EscrowID        ID
	Kind            EventKind
	FinalAmounts    []Payout
	LedgerTimestamp time.Time
	TxHash          string
}
