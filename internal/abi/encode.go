package abi

import (
	errorsmod "cosmossdk.io/errors"

	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
)

// Symbol is a contract function or topic identifier. Symbols are compared
// byte for byte: no case folding, no trimming.
type Symbol string

func (s Symbol) Validate() error {
	if len(s) == 0 || len(s) > MaxSymbolLen {
		return errorsmod.Wrapf(ErrInvalidSymbol, "symbol length %d outside 1..%d", len(s), MaxSymbolLen)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return errorsmod.Wrapf(ErrInvalidSymbol, "symbol %q has invalid character %q", string(s), c)
		}
	}
	return nil
}

func EncodeText(s string) Val { return Val{tag: TagString, str: s} }

func EncodeInt64(i int64) Val { return Val{tag: TagI64, num: uint64(i)} }

func EncodeUint64(u uint64) Val { return Val{tag: TagU64, num: u} }

func EncodeU32(u uint32) Val { return Val{tag: TagU32, num: uint64(u)} }

func EncodeBool(b bool) Val {
	v := Val{tag: TagBool}
	if b {
		v.num = 1
	}
	return v
}

func EncodeBytes(b []byte) Val {
	raw := make([]byte, len(b))
	copy(raw, b)
	return Val{tag: TagBytes, raw: raw}
}

// EncodeFunctionName wraps name as a symbol exactly as given.
func EncodeFunctionName(name string) (Val, error) {
	return EncodeSymbol(Symbol(name))
}

func EncodeSymbol(s Symbol) (Val, error) {
	if err := s.Validate(); err != nil {
		return Val{}, err
	}
	return Val{tag: TagSymbol, str: string(s)}, nil
}

func EncodeAddress(a address.Address) (Val, error) {
	if a == nil {
		return Val{}, errorsmod.Wrap(ErrInvalidAddress, "nil address")
	}
	return Val{tag: TagAddress, addr: a}, nil
}

// EncodeAddressText resolves text and wraps the result.
func EncodeAddressText(text string) (Val, error) {
	a, err := address.Resolve(text)
	if err != nil {
		return Val{}, err
	}
	return EncodeAddress(a)
}

// EncodeRefundMode maps Full, Partial and Custom to 0, 1 and 2.
func EncodeRefundMode(m escrow.RefundMode) (Val, error) {
	switch m {
	case escrow.RefundFull, escrow.RefundPartial, escrow.RefundCustom:
		return EncodeU32(uint32(m)), nil
	}
	return Val{}, errorsmod.Wrapf(ErrInvalidMode, "ordinal %d", uint32(m))
}

// EncodeList keeps the order of values.
func EncodeList(values []Val) (Val, error) {
	if len(values) > MaxVecLen {
		return Val{}, errorsmod.Wrapf(ErrListTooLarge, "%d elements, limit %d", len(values), MaxVecLen)
	}
	vec := make([]Val, len(values))
	copy(vec, values)
	return Val{tag: TagVec, vec: vec}, nil
}

// EncodeOption encodes absent as an empty vec and present as a one-element vec.
func EncodeOption(v *Val) Val {
	if v == nil {
		return Val{tag: TagVec, vec: []Val{}}
	}
	return Val{tag: TagVec, vec: []Val{*v}}
}

// EncodeOptionalAddress is EncodeOption for a possibly nil address.
func EncodeOptionalAddress(a address.Address) (Val, error) {
	if a == nil {
		return EncodeOption(nil), nil
	}
	v, err := EncodeAddress(a)
	if err != nil {
		return Val{}, err
	}
	return EncodeOption(&v), nil
}

// EncodePayout encodes one pair as a two-element vec (recipient, amount).
func EncodePayout(p escrow.Payout) (Val, error) {
	recipient, err := EncodeAddress(p.Recipient)
	if err != nil {
		return Val{}, err
	}
	return EncodeList([]Val{recipient, EncodeUint64(p.Amount)})
}

func EncodePayouts(payouts []escrow.Payout) (Val, error) {
	if len(payouts) > MaxVecLen {
		return Val{}, errorsmod.Wrapf(ErrListTooLarge, "%d payouts, limit %d", len(payouts), MaxVecLen)
	}
	vals := make([]Val, 0, len(payouts))
	for _, p := range payouts {
		v, err := EncodePayout(p)
		if err != nil {
			return Val{}, err
		}
		vals = append(vals, v)
	}
	return EncodeList(vals)
}

// EncodeOptionalPayouts encodes nil as absent; an empty non-nil slice is a
// present, empty list.
func EncodeOptionalPayouts(payouts []escrow.Payout) (Val, error) {
	if payouts == nil {
		return EncodeOption(nil), nil
	}
	v, err := EncodePayouts(payouts)
	if err != nil {
		return Val{}, err
	}
	return EncodeOption(&v), nil
}

func EncodeID(id escrow.ID) Val { return EncodeBytes(id[:]) }
