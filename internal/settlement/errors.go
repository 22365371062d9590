package settlement

import (
	"context"
	"errors"

	errorsmod "cosmossdk.io/errors"

	"rewardrails/internal/abi"
	"rewardrails/internal/contract"
	"rewardrails/internal/ledger"
	"rewardrails/internal/signer"
)

const Codespace = "settlement"

var (
	ErrInvalidRequest       = errorsmod.Register(Codespace, 2, "invalid settlement request")
	ErrMutationOnRetry      = errorsmod.Register(Codespace, 3, "request differs from the journaled attempt")
	ErrRetryBudgetExhausted = errorsmod.Register(Codespace, 4, "retry budget exhausted")
	ErrOutcomeUnknown       = errorsmod.Register(Codespace, 5, "outcome unknown")
	ErrEffectMissing        = errorsmod.Register(Codespace, 6, "ledger state does not show the expected effect")
	ErrJournalWrite         = errorsmod.Register(Codespace, 7, "journal write failed")
)

// ErrorKind is the stable name reported for a failure.
type ErrorKind string

const (
	KindInvalidAddress        ErrorKind = "InvalidAddress"
	KindInvalidMode           ErrorKind = "InvalidMode"
	KindListTooLarge          ErrorKind = "ListTooLarge"
	KindEncoding              ErrorKind = "EncodingError"
	KindInvalidRequest        ErrorKind = "InvalidRequest"
	KindUnauthorized          ErrorKind = "Unauthorized"
	KindBadSignature          ErrorKind = "BadSignature"
	KindUnknownAccount        ErrorKind = "UnknownAccount"
	KindAlreadySettled        ErrorKind = "AlreadySettled"
	KindNotFunded             ErrorKind = "NotFunded"
	KindInsufficientFunds     ErrorKind = "InsufficientFunds"
	KindSplitExceedsLocked    ErrorKind = "SplitExceedsLocked"
	KindNotFound              ErrorKind = "NotFound"
	KindAlreadyExists         ErrorKind = "AlreadyExists"
	KindAlreadyFunded         ErrorKind = "AlreadyFunded"
	KindFundingMismatch       ErrorKind = "FundingMismatch"
	KindRefundModeNotAllowed  ErrorKind = "RefundModeNotAllowed"
	KindBeneficiaryMismatch   ErrorKind = "BeneficiaryMismatch"
	KindInvalidSplit          ErrorKind = "InvalidSplit"
	KindAmountMismatch        ErrorKind = "AmountMismatch"
	KindApprovalExceedsLocked ErrorKind = "ApprovalExceedsLocked"
	KindInvalidArgument       ErrorKind = "InvalidArgument"
	KindUnknownFunction       ErrorKind = "UnknownFunction"
	KindContractNotFound      ErrorKind = "ContractNotFound"
	KindInsufficientBalance   ErrorKind = "InsufficientBalance"
	KindSequenceConflict      ErrorKind = "SequenceConflict"
	KindNetwork               ErrorKind = "NetworkFault"
	KindMutationOnRetry       ErrorKind = "MutationOnRetry"
	KindRetryBudgetExhausted  ErrorKind = "RetryBudgetExhausted"
	KindOutcomeUnknown        ErrorKind = "OutcomeUnknown"
	KindEffectMissing         ErrorKind = "EffectMissing"
	KindJournalWrite          ErrorKind = "JournalWriteFailed"
	KindInternal              ErrorKind = "Internal"
)

// Class groups error kinds by how the orchestrator reacts to them.
type Class string

const (
	ClassEncoding      Class = "encoding"
	ClassAuthorization Class = "authorization"
	ClassState         Class = "state"
	ClassTransient     Class = "transient"
	ClassInternal      Class = "internal"
)

// Retryable reports whether errors of this class are retried with backoff.
func (c Class) Retryable() bool { return c == ClassTransient }

type classified struct {
	err   error
	kind  ErrorKind
	class Class
}

// Order matters only where one registered error wraps another.
var classes = []classified{
	{abi.ErrInvalidAddress, KindInvalidAddress, ClassEncoding},
	{abi.ErrInvalidMode, KindInvalidMode, ClassEncoding},
	{abi.ErrListTooLarge, KindListTooLarge, ClassEncoding},
	{abi.ErrInvalidSymbol, KindEncoding, ClassEncoding},
	{abi.ErrValueTooLarge, KindEncoding, ClassEncoding},
	{abi.ErrTypeMismatch, KindEncoding, ClassEncoding},
	{abi.ErrDecode, KindEncoding, ClassEncoding},
	{abi.ErrOptionLength, KindEncoding, ClassEncoding},
	{ledger.ErrMalformedTx, KindEncoding, ClassEncoding},
	{ledger.ErrTooManyOperations, KindEncoding, ClassEncoding},
	{ErrInvalidRequest, KindInvalidRequest, ClassEncoding},

	{contract.ErrUnauthorized, KindUnauthorized, ClassAuthorization},
	{ledger.ErrBadSignature, KindBadSignature, ClassAuthorization},
	{signer.ErrUnknownAccount, KindUnknownAccount, ClassAuthorization},

	{contract.ErrAlreadySettled, KindAlreadySettled, ClassState},
	{contract.ErrNotFunded, KindNotFunded, ClassState},
	{contract.ErrInsufficientFunds, KindInsufficientFunds, ClassState},
	{contract.ErrSplitExceedsLocked, KindSplitExceedsLocked, ClassState},
	{contract.ErrNotFound, KindNotFound, ClassState},
	{contract.ErrAlreadyExists, KindAlreadyExists, ClassState},
	{contract.ErrAlreadyFunded, KindAlreadyFunded, ClassState},
	{contract.ErrFundingMismatch, KindFundingMismatch, ClassState},
	{contract.ErrRefundModeNotAllowed, KindRefundModeNotAllowed, ClassState},
	{contract.ErrBeneficiaryMismatch, KindBeneficiaryMismatch, ClassState},
	{contract.ErrInvalidSplit, KindInvalidSplit, ClassState},
	{contract.ErrAmountMismatch, KindAmountMismatch, ClassState},
	{contract.ErrApprovalExceedsLocked, KindApprovalExceedsLocked, ClassState},
	{contract.ErrInvalidArgument, KindInvalidArgument, ClassEncoding},
	{contract.ErrUnknownFunction, KindUnknownFunction, ClassEncoding},
	{ledger.ErrContractNotFound, KindContractNotFound, ClassState},
	{ledger.ErrInsufficientBalance, KindInsufficientBalance, ClassState},
	{ErrMutationOnRetry, KindMutationOnRetry, ClassState},
	{ErrEffectMissing, KindEffectMissing, ClassState},

	{ledger.ErrBadSequence, KindSequenceConflict, ClassTransient},
	{ledger.ErrUnavailable, KindNetwork, ClassTransient},
	{ErrOutcomeUnknown, KindOutcomeUnknown, ClassTransient},
	{ErrJournalWrite, KindJournalWrite, ClassTransient},
	{ErrRetryBudgetExhausted, KindRetryBudgetExhausted, ClassTransient},
}

// Classify maps err to its reported kind and class. Unrecognised errors are
// internal and never retried.
func Classify(err error) (ErrorKind, Class) {
	if err == nil {
		return "", ""
	}
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.kind, c.class
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork, ClassTransient
	}
	return KindInternal, ClassInternal
}
