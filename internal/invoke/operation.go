// Package invoke assembles contract invocations and the transactions that
// carry them to the ledger.
package invoke

import (
	"errors"
	"fmt"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
)

// Operation invokes one function of one deployed contract.
type Operation struct {
	Contract address.ContractAddress
	Function abi.Symbol
	Args     []abi.Val
}

var ErrNoContract = errors.New("operation target contract is not set")

// Build validates the function symbol and argument count and returns a ready
// to sign operation. It does no I/O.
func Build(contract address.ContractAddress, function string, args ...abi.Val) (Operation, error) {
	if contract.IsZero() {
		return Operation{}, ErrNoContract
	}
	if err := abi.Symbol(function).Validate(); err != nil {
		return Operation{}, err
	}
	if len(args) > abi.MaxVecLen {
		return Operation{}, fmt.Errorf("%s: %w", function, abi.ErrListTooLarge)
	}
	out := make([]abi.Val, len(args))
	copy(out, args)
	return Operation{Contract: contract, Function: abi.Symbol(function), Args: out}, nil
}

// Val encodes the operation as vec[contract, function, vec[args...]].
func (op Operation) Val() (abi.Val, error) {
	target, err := abi.EncodeAddress(op.Contract)
	if err != nil {
		return abi.Val{}, err
	}
	fn, err := abi.EncodeSymbol(op.Function)
	if err != nil {
		return abi.Val{}, err
	}
	args, err := abi.EncodeList(op.Args)
	if err != nil {
		return abi.Val{}, err
	}
	return abi.EncodeList([]abi.Val{target, fn, args})
}

// Encode returns the binary form of the operation.
func (op Operation) Encode() ([]byte, error) {
	v, err := op.Val()
	if err != nil {
		return nil, err
	}
	return abi.Marshal(v)
}

func OperationFromVal(v abi.Val) (Operation, error) {
	fields, err := v.AsVec()
	if err != nil {
		return Operation{}, err
	}
	if len(fields) != 3 {
		return Operation{}, fmt.Errorf("operation has %d fields: %w", len(fields), abi.ErrDecode)
	}
	target, err := fields[0].AsAddress()
	if err != nil {
		return Operation{}, err
	}
	contract, ok := target.(address.ContractAddress)
	if !ok {
		return Operation{}, fmt.Errorf("operation target is an %s address: %w", target.Kind(), abi.ErrInvalidAddress)
	}
	fn, err := fields[1].AsSymbol()
	if err != nil {
		return Operation{}, err
	}
	args, err := abi.DecodeList(fields[2])
	if err != nil {
		return Operation{}, err
	}
	return Operation{Contract: contract, Function: fn, Args: args}, nil
}

func DecodeOperation(b []byte) (Operation, error) {
	v, err := abi.Unmarshal(b)
	if err != nil {
		return Operation{}, err
	}
	return OperationFromVal(v)
}

func (op Operation) String() string {
	return fmt.Sprintf("%s.%s(%d args)", op.Contract, op.Function, len(op.Args))
}
