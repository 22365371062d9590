package invoke

import (
	"fmt"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
)

// Escrow contract function names. Argument order per function is fixed; a
// change here is a contract redeployment, not a client fix.
const (
	FnCreate        = "create"         // (funder, reference, locked_amount, beneficiaries, refund_mode, operator?) -> id
	FnFund          = "fund"           // (id, from, amount)
	FnApprove       = "approve"        // (id, caller, amount)
	FnRelease       = "release"        // (id, caller)
	FnRefund        = "refund"         // (id, caller)
	FnPartialRefund = "partial_refund" // (id, caller, split?)
	FnBatchPay      = "batch_pay"      // (id, caller, payouts)
	FnCancel        = "cancel"         // (id, caller)
	FnGet           = "get"            // (id) -> record
)

// EscrowCalls builds operations against one deployed escrow contract.
type EscrowCalls struct {
	Contract address.ContractAddress
}

func NewEscrowCalls(contract address.ContractAddress) EscrowCalls {
	return EscrowCalls{Contract: contract}
}

type CreateParams struct {
	Funder        address.AccountAddress
	Reference     string
	LockedAmount  uint64
	Beneficiaries []escrow.Payout
	RefundMode    escrow.RefundMode
	Operator      address.Address
}

func (c EscrowCalls) Create(p CreateParams) (Operation, error) {
	funder, err := abi.EncodeAddress(p.Funder)
	if err != nil {
		return Operation{}, err
	}
	beneficiaries, err := abi.EncodePayouts(p.Beneficiaries)
	if err != nil {
		return Operation{}, fmt.Errorf("beneficiaries: %w", err)
	}
	mode, err := abi.EncodeRefundMode(p.RefundMode)
	if err != nil {
		return Operation{}, err
	}
	operator, err := abi.EncodeOptionalAddress(p.Operator)
	if err != nil {
		return Operation{}, fmt.Errorf("operator: %w", err)
	}
	return Build(c.Contract, FnCreate,
		funder,
		abi.EncodeText(p.Reference),
		abi.EncodeUint64(p.LockedAmount),
		beneficiaries,
		mode,
		operator,
	)
}

func (c EscrowCalls) Fund(id escrow.ID, from address.AccountAddress, amount uint64) (Operation, error) {
	return c.idCallerCall(FnFund, id, from, abi.EncodeUint64(amount))
}

func (c EscrowCalls) Approve(id escrow.ID, caller address.AccountAddress, amount uint64) (Operation, error) {
	return c.idCallerCall(FnApprove, id, caller, abi.EncodeUint64(amount))
}

func (c EscrowCalls) Release(id escrow.ID, caller address.AccountAddress) (Operation, error) {
	return c.idCallerCall(FnRelease, id, caller)
}

func (c EscrowCalls) Refund(id escrow.ID, caller address.AccountAddress) (Operation, error) {
	return c.idCallerCall(FnRefund, id, caller)
}

// PartialRefund passes split as an optional list; nil means absent.
func (c EscrowCalls) PartialRefund(id escrow.ID, caller address.AccountAddress, split []escrow.Payout) (Operation, error) {
	v, err := abi.EncodeOptionalPayouts(split)
	if err != nil {
		return Operation{}, fmt.Errorf("split: %w", err)
	}
	return c.idCallerCall(FnPartialRefund, id, caller, v)
}

func (c EscrowCalls) BatchPay(id escrow.ID, caller address.AccountAddress, payouts []escrow.Payout) (Operation, error) {
	v, err := abi.EncodePayouts(payouts)
	if err != nil {
		return Operation{}, fmt.Errorf("payouts: %w", err)
	}
	return c.idCallerCall(FnBatchPay, id, caller, v)
}

func (c EscrowCalls) Cancel(id escrow.ID, caller address.AccountAddress) (Operation, error) {
	return c.idCallerCall(FnCancel, id, caller)
}

func (c EscrowCalls) Get(id escrow.ID) (Operation, error) {
	return Build(c.Contract, FnGet, abi.EncodeID(id))
}

func (c EscrowCalls) idCallerCall(fn string, id escrow.ID, caller address.AccountAddress, rest ...abi.Val) (Operation, error) {
	who, err := abi.EncodeAddress(caller)
	if err != nil {
		return Operation{}, err
	}
	args := append([]abi.Val{abi.EncodeID(id), who}, rest...)
	return Build(c.Contract, fn, args...)
}
