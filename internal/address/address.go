// Package address resolves textual identifiers into the two address kinds the
// escrow ABI understands: funding/beneficiary accounts and deployed contracts.
package address

import (
	"encoding/hex"
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// Codespace for address errors on the wire.
const Codespace = "address"

var ErrInvalidAddress = errorsmod.Register(Codespace, 2, "invalid address")

// Kind is the wire discriminant of an address value.
type Kind uint32

const (
	KindAccount  Kind = 0
	KindContract Kind = 1
)

const (
	AccountLen  = common.AddressLength
	ContractLen = 32
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindContract:
		return "contract"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Address is either an AccountAddress or a ContractAddress. Callers must
// switch on the concrete type (or Kind) instead of assuming one shape.
type Address interface {
	Kind() Kind
	Bytes() []byte
	String() string
	isAddress()
}

// AccountAddress names a funder, beneficiary or operator account.
type AccountAddress common.Address

func (AccountAddress) Kind() Kind { return KindAccount }

func (a AccountAddress) Bytes() []byte {
	out := make([]byte, AccountLen)
	copy(out, a[:])
	return out
}

// String returns the EIP-55 checksummed form.
func (a AccountAddress) String() string { return common.Address(a).Hex() }

func (a AccountAddress) IsZero() bool { return a == AccountAddress{} }

func (AccountAddress) isAddress() {}

// ContractAddress names a deployed contract.
type ContractAddress [ContractLen]byte

func (ContractAddress) Kind() Kind { return KindContract }

func (c ContractAddress) Bytes() []byte {
	out := make([]byte, ContractLen)
	copy(out, c[:])
	return out
}

// String returns the 0x-prefixed hex form.
func (c ContractAddress) String() string { return "0x" + hex.EncodeToString(c[:]) }

// Compact returns the base58 form.
func (c ContractAddress) Compact() string { return base58.Encode(c[:]) }

func (c ContractAddress) IsZero() bool { return c == ContractAddress{} }

func (ContractAddress) isAddress() {}

// Resolve parses text as an account address first and falls back to the
// contract forms. Both failing yields ErrInvalidAddress.
func Resolve(text string) (Address, error) {
	if acct, err := ParseAccount(text); err == nil {
		return acct, nil
	}
	if contract, err := ParseContract(text); err == nil {
		return contract, nil
	}
	return nil, errorsmod.Wrapf(ErrInvalidAddress, "%q is neither an account nor a contract address", text)
}

// ParseAccount accepts only the checksummed 0x form.
func ParseAccount(text string) (AccountAddress, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "0x") || !common.IsHexAddress(text) {
		return AccountAddress{}, errorsmod.Wrapf(ErrInvalidAddress, "malformed account %q", text)
	}
	addr := common.HexToAddress(text)
	if addr.Hex() != text {
		return AccountAddress{}, errorsmod.Wrapf(ErrInvalidAddress, "bad checksum for account %q", text)
	}
	return AccountAddress(addr), nil
}

// MustAccount is ParseAccount for fixtures and constants.
func MustAccount(text string) AccountAddress {
	a, err := ParseAccount(text)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseContract accepts 64 hex digits (optionally 0x-prefixed) or base58 text
// decoding to exactly 32 bytes.
func ParseContract(text string) (ContractAddress, error) {
	text = strings.TrimSpace(text)
	var out ContractAddress

	hexPart := strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
	if len(hexPart) == 2*ContractLen {
		if raw, err := hex.DecodeString(hexPart); err == nil {
			copy(out[:], raw)
			return out, nil
		}
	}

	if raw, err := base58.Decode(text); err == nil && len(raw) == ContractLen {
		copy(out[:], raw)
		return out, nil
	}
	return out, errorsmod.Wrapf(ErrInvalidAddress, "malformed contract %q", text)
}

// FromRaw rebuilds an address from its wire discriminant and raw bytes.
func FromRaw(kind Kind, raw []byte) (Address, error) {
	switch kind {
	case KindAccount:
		if len(raw) != AccountLen {
			return nil, errorsmod.Wrapf(ErrInvalidAddress, "account address must be %d bytes, got %d", AccountLen, len(raw))
		}
		return AccountAddress(common.BytesToAddress(raw)), nil
	case KindContract:
		if len(raw) != ContractLen {
			return nil, errorsmod.Wrapf(ErrInvalidAddress, "contract address must be %d bytes, got %d", ContractLen, len(raw))
		}
		var c ContractAddress
		copy(c[:], raw)
		return c, nil
	default:
		return nil, errorsmod.Wrapf(ErrInvalidAddress, "unknown address discriminant %d", uint32(kind))
	}
}

// Equal compares two addresses including their kind.
func Equal(a, b Address) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && string(a.Bytes()) == string(b.Bytes())
}

// Key returns a map key unique across both kinds.
func Key(a Address) string {
	return a.Kind().String() + ":" + hex.EncodeToString(a.Bytes())
}
