package abi

import (
	errorsmod "cosmossdk.io/errors"

	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
)

func DecodeText(v Val) (string, error) { return v.AsText() }

func DecodeInt64(v Val) (int64, error) {
	if err := v.expect(TagI64); err != nil {
		return 0, err
	}
	return int64(v.num), nil
}

func DecodeUint64(v Val) (uint64, error) {
	if err := v.expect(TagU64); err != nil {
		return 0, err
	}
	return v.num, nil
}

func DecodeRefundMode(v Val) (escrow.RefundMode, error) {
	n, err := v.AsU32()
	if err != nil {
		return 0, err
	}
	m := escrow.RefundMode(n)
	if !m.Valid() {
		return 0, errorsmod.Wrapf(ErrInvalidMode, "ordinal %d", n)
	}
	return m, nil
}

func DecodeList(v Val) ([]Val, error) {
	vec, err := v.AsVec()
	if err != nil {
		return nil, err
	}
	if len(vec) > MaxVecLen {
		return nil, errorsmod.Wrapf(ErrListTooLarge, "%d elements, limit %d", len(vec), MaxVecLen)
	}
	return vec, nil
}

// DecodeOption returns nil for an empty vec and the element of a one-element
// vec. Any other length is an error.
func DecodeOption(v Val) (*Val, error) {
	vec, err := v.AsVec()
	if err != nil {
		return nil, err
	}
	switch len(vec) {
	case 0:
		return nil, nil
	case 1:
		out := vec[0]
		return &out, nil
	}
	return nil, errorsmod.Wrapf(ErrOptionLength, "got %d elements", len(vec))
}

func DecodeAddress(v Val) (address.Address, error) { return v.AsAddress() }

// DecodeAccount requires the account discriminant.
func DecodeAccount(v Val) (address.AccountAddress, error) {
	a, err := v.AsAddress()
	if err != nil {
		return address.AccountAddress{}, err
	}
	acct, ok := a.(address.AccountAddress)
	if !ok {
		return address.AccountAddress{}, errorsmod.Wrapf(ErrInvalidAddress, "expected account, got %s", a.Kind())
	}
	return acct, nil
}

func DecodeOptionalAddress(v Val) (address.Address, error) {
	inner, err := DecodeOption(v)
	if err != nil || inner == nil {
		return nil, err
	}
	return inner.AsAddress()
}

func DecodePayout(v Val) (escrow.Payout, error) {
	pair, err := v.AsVec()
	if err != nil {
		return escrow.Payout{}, err
	}
	if len(pair) != 2 {
		return escrow.Payout{}, errorsmod.Wrapf(ErrDecode, "payout must have 2 fields, got %d", len(pair))
	}
	recipient, err := pair[0].AsAddress()
	if err != nil {
		return escrow.Payout{}, err
	}
	amount, err := DecodeUint64(pair[1])
	if err != nil {
		return escrow.Payout{}, err
	}
	return escrow.Payout{Recipient: recipient, Amount: amount}, nil
}

func DecodePayouts(v Val) ([]escrow.Payout, error) {
	vec, err := DecodeList(v)
	if err != nil {
		return nil, err
	}
	out := make([]escrow.Payout, 0, len(vec))
	for i, e := range vec {
		p, err := DecodePayout(e)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "payout %d", i)
		}
		out = append(out, p)
	}
	return out, nil
}

// DecodeOptionalPayouts returns nil for absent and a non-nil slice otherwise.
func DecodeOptionalPayouts(v Val) ([]escrow.Payout, error) {
	inner, err := DecodeOption(v)
	if err != nil || inner == nil {
		return nil, err
	}
	return DecodePayouts(*inner)
}

func DecodeID(v Val) (escrow.ID, error) {
	raw, err := v.AsBytes()
	if err != nil {
		return escrow.ID{}, err
	}
	id, err := escrow.IDFromBytes(raw)
	if err != nil {
		return escrow.ID{}, errorsmod.Wrap(ErrDecode, err.Error())
	}
	return id, nil
}
