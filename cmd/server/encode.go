package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
	"rewardrails/internal/invoke"
)

func newEncodeCmd() *cobra.Command {
	var contractText, operator string

	cmd := &cobra.Command{
		Use:   "encode <function> <args...>",
		Short: "Print the canonical encoding of an escrow contract call",
		Long: `Builds an escrow contract invocation and prints it hex-encoded.

  create <funder> <reference> <locked> <full|partial|custom> <recipient:amount>...
  fund <id> <from> <amount>
  approve <id> <caller> <amount>
  release|refund|cancel <id> <caller>
  partial_refund <id> <caller> [recipient:amount...]
  batch_pay <id> <caller> <recipient:amount>...
  get <id>`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contract, err := address.ParseContract(contractText)
			if err != nil {
				return fmt.Errorf("--contract: %w", err)
			}
			op, err := buildOperation(invoke.NewEscrowCalls(contract), operator, args[0], args[1:])
			if err != nil {
				return err
			}
			encoded, err := op.Encode()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(encoded))
			return nil
		},
	}
	cmd.Flags().StringVar(&contractText, "contract", "", "escrow contract address")
	cmd.Flags().StringVar(&operator, "operator", "", "operator address for create")
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

func buildOperation(calls invoke.EscrowCalls, operator, fn string, args []string) (invoke.Operation, error) {
	if fn == invoke.FnCreate {
		return buildCreate(calls, operator, args)
	}

	id, err := escrow.ParseID(args[0])
	if err != nil {
		return invoke.Operation{}, err
	}
	if fn == invoke.FnGet {
		return calls.Get(id)
	}
	if len(args) < 2 {
		return invoke.Operation{}, fmt.Errorf("%s needs <id> <caller>", fn)
	}
	caller, err := address.ParseAccount(args[1])
	if err != nil {
		return invoke.Operation{}, err
	}
	rest := args[2:]

	switch fn {
	case invoke.FnFund, invoke.FnApprove:
		if len(rest) != 1 {
			return invoke.Operation{}, fmt.Errorf("%s needs an amount", fn)
		}
		amount, err := strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			return invoke.Operation{}, fmt.Errorf("amount: %w", err)
		}
		if fn == invoke.FnFund {
			return calls.Fund(id, caller, amount)
		}
		return calls.Approve(id, caller, amount)
	case invoke.FnRelease:
		return calls.Release(id, caller)
	case invoke.FnRefund:
		return calls.Refund(id, caller)
	case invoke.FnCancel:
		return calls.Cancel(id, caller)
	case invoke.FnPartialRefund, invoke.FnBatchPay:
		payouts, err := parsePayouts(rest)
		if err != nil {
			return invoke.Operation{}, err
		}
		if fn == invoke.FnBatchPay {
			return calls.BatchPay(id, caller, payouts)
		}
		return calls.PartialRefund(id, caller, payouts)
	}
	return invoke.Operation{}, fmt.Errorf("unknown function %q", fn)
}

func buildCreate(calls invoke.EscrowCalls, operator string, args []string) (invoke.Operation, error) {
	if len(args) < 4 {
		return invoke.Operation{}, fmt.Errorf("create needs <funder> <reference> <locked> <refund-mode>")
	}
	funder, err := address.ParseAccount(args[0])
	if err != nil {
		return invoke.Operation{}, err
	}
	locked, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return invoke.Operation{}, fmt.Errorf("locked amount: %w", err)
	}
	mode, err := escrow.ParseRefundMode(args[3])
	if err != nil {
		return invoke.Operation{}, err
	}
	beneficiaries, err := parsePayouts(args[4:])
	if err != nil {
		return invoke.Operation{}, err
	}
	params := invoke.CreateParams{
		Funder:        funder,
		Reference:     args[1],
		LockedAmount:  locked,
		Beneficiaries: beneficiaries,
		RefundMode:    mode,
	}
	if operator != "" {
		if params.Operator, err = address.Resolve(operator); err != nil {
			return invoke.Operation{}, fmt.Errorf("operator: %w", err)
		}
	}
	return calls.Create(params)
}

// parsePayouts reads recipient:amount pairs.
func parsePayouts(args []string) ([]escrow.Payout, error) {
	out := make([]escrow.Payout, 0, len(args))
	for _, arg := range args {
		recipient, amountText, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("payout %q: want recipient:amount", arg)
		}
		to, err := address.Resolve(recipient)
		if err != nil {
			return nil, fmt.Errorf("payout %q: %w", arg, err)
		}
		amount, err := strconv.ParseUint(amountText, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("payout %q: %w", arg, err)
		}
		out = append(out, escrow.Payout{Recipient: to, Amount: amount})
	}
	return out, nil
}
