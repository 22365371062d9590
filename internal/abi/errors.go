package abi

import (
	errorsmod "cosmossdk.io/errors"

	"rewardrails/internal/address"
)

const Codespace = "abi"

// ErrInvalidAddress is shared with the resolver so callers can match either.
var ErrInvalidAddress = address.ErrInvalidAddress

var (
	ErrInvalidMode   = errorsmod.Register(Codespace, 2, "invalid refund mode")
	ErrListTooLarge  = errorsmod.Register(Codespace, 3, "list too large")
	ErrInvalidSymbol = errorsmod.Register(Codespace, 4, "invalid symbol")
	ErrValueTooLarge = errorsmod.Register(Codespace, 5, "value too large")
	ErrTypeMismatch  = errorsmod.Register(Codespace, 6, "type mismatch")
	ErrDecode        = errorsmod.Register(Codespace, 7, "malformed encoding")
	ErrOptionLength  = errorsmod.Register(Codespace, 8, "option must hold at most one value")
)
