package settlement

import (
	"encoding/hex"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/crypto"

	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
	"rewardrails/internal/invoke"
)

// Action names one orchestrated transition. Values double as journal key
// suffixes and metric labels.
type Action string

const (
	ActionCreate        Action = "create"
	ActionFund          Action = "fund"
	ActionApprove       Action = "approve"
	ActionRelease       Action = "release"
	ActionRefund        Action = "refund"
	ActionPartialRefund Action = "partial_refund"
	ActionBatchPay      Action = "batch_pay"
	ActionCancel        Action = "cancel"
)

// IsSettlement reports whether a is one of the four settling transitions.
func (a Action) IsSettlement() bool {
	switch a {
	case ActionRelease, ActionRefund, ActionPartialRefund, ActionBatchPay:
		return true
	}
	return false
}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionApprove, ActionRelease, ActionRefund, ActionPartialRefund, ActionBatchPay, ActionCancel:
		return a, nil
	}
	return "", errorsmod.Wrapf(ErrInvalidRequest, "unknown action %q", s)
}

// PayoutSpec is a payout as received from the business layer, before the
// recipient is resolved.
type PayoutSpec struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// Request is one settlement decision against an existing escrow.
type Request struct {
	EscrowID escrow.ID
	Action   Action
	// Caller signs the transaction: the funder or the escrow's operator.
	Caller string
	// Payouts is the beneficiary list for batch_pay.
	Payouts []PayoutSpec
	// Split is the caller-supplied split for a custom partial refund. Nil
	// means absent.
	Split []PayoutSpec
	// Amount is the earned amount for approve.
	Amount uint64
}

// OpenRequest creates and funds a new escrow.
type OpenRequest struct {
	Funder        string
	Reference     string
	LockedAmount  uint64
	Beneficiaries []PayoutSpec
	RefundMode    escrow.RefundMode
	// Operator is optional.
	Operator string
}

func resolvePayouts(specs []PayoutSpec) ([]escrow.Payout, error) {
	if specs == nil {
		return nil, nil
	}
	out := make([]escrow.Payout, 0, len(specs))
	for i, s := range specs {
		addr, err := address.Resolve(s.Recipient)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "payout %d", i)
		}
		out = append(out, escrow.Payout{Recipient: addr, Amount: s.Amount})
	}
	return out, nil
}

func resolveCaller(text string) (address.AccountAddress, error) {
	if strings.TrimSpace(text) == "" {
		return address.AccountAddress{}, errorsmod.Wrap(ErrInvalidRequest, "caller is required")
	}
	return address.ParseAccount(text)
}

// buildOperation turns a request into its escrow call. Resolution and
// encoding failures surface here, before anything is signed.
func buildOperation(calls invoke.EscrowCalls, req Request) (invoke.Operation, address.AccountAddress, error) {
	if req.EscrowID.IsZero() {
		return invoke.Operation{}, address.AccountAddress{}, errorsmod.Wrap(ErrInvalidRequest, "escrow id is required")
	}
	caller, err := resolveCaller(req.Caller)
	if err != nil {
		return invoke.Operation{}, caller, err
	}

	var op invoke.Operation
	switch req.Action {
	case ActionRelease:
		op, err = calls.Release(req.EscrowID, caller)
	case ActionRefund:
		op, err = calls.Refund(req.EscrowID, caller)
	case ActionCancel:
		op, err = calls.Cancel(req.EscrowID, caller)
	case ActionApprove:
		if req.Amount == 0 {
			return op, caller, errorsmod.Wrap(ErrInvalidRequest, "approve needs a positive amount")
		}
		op, err = calls.Approve(req.EscrowID, caller, req.Amount)
	case ActionPartialRefund:
		var split []escrow.Payout
		if split, err = resolvePayouts(req.Split); err != nil {
			return op, caller, err
		}
		op, err = calls.PartialRefund(req.EscrowID, caller, split)
	case ActionBatchPay:
		if len(req.Payouts) == 0 {
			return op, caller, errorsmod.Wrap(ErrInvalidRequest, "batch_pay needs payouts")
		}
		var payouts []escrow.Payout
		if payouts, err = resolvePayouts(req.Payouts); err != nil {
			return op, caller, err
		}
		op, err = calls.BatchPay(req.EscrowID, caller, payouts)
	default:
		return op, caller, errorsmod.Wrapf(ErrInvalidRequest, "unsupported action %q", req.Action)
	}
	return op, caller, err
}

// fingerprint identifies the exact operations of an attempt. Two requests
// with the same fingerprint encode to the same arguments.
func fingerprint(ops ...invoke.Operation) (string, error) {
	var parts [][]byte
	for _, op := range ops {
		b, err := op.Encode()
		if err != nil {
			return "", err
		}
		parts = append(parts, b)
	}
	return hex.EncodeToString(crypto.Keccak256(parts...)), nil
}
