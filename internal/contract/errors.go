package contract

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace of escrow contract errors in failed receipts.
const Codespace = "escrow"

var (
	ErrInvalidArgument       = errorsmod.Register(Codespace, 2, "invalid argument")
	ErrUnauthorized          = errorsmod.Register(Codespace, 3, "unauthorized")
	ErrAlreadySettled        = errorsmod.Register(Codespace, 4, "escrow already settled")
	ErrNotFunded             = errorsmod.Register(Codespace, 5, "escrow not funded")
	ErrInsufficientFunds     = errorsmod.Register(Codespace, 6, "insufficient funds")
	ErrSplitExceedsLocked    = errorsmod.Register(Codespace, 7, "split exceeds locked amount")
	ErrNotFound              = errorsmod.Register(Codespace, 8, "escrow not found")
	ErrAlreadyExists         = errorsmod.Register(Codespace, 9, "escrow already exists")
	ErrFundingMismatch       = errorsmod.Register(Codespace, 10, "funding amount does not match locked amount")
	ErrRefundModeNotAllowed  = errorsmod.Register(Codespace, 11, "refund mode does not allow this transition")
	ErrBeneficiaryMismatch   = errorsmod.Register(Codespace, 12, "payouts do not match beneficiaries")
	ErrInvalidSplit          = errorsmod.Register(Codespace, 13, "invalid split")
	ErrAlreadyFunded         = errorsmod.Register(Codespace, 14, "escrow already funded")
	ErrUnknownFunction       = errorsmod.Register(Codespace, 15, "unknown function")
	ErrAmountMismatch        = errorsmod.Register(Codespace, 16, "locked amount does not equal beneficiary total")
	ErrApprovalExceedsLocked = errorsmod.Register(Codespace, 17, "approved amount exceeds locked amount")
)
