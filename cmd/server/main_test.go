package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
	"rewardrails/internal/invoke"
)

const (
	testContract = "0xe5c7000000000000000000000000000000000000000000000000000000000009"
	testFunder   = "0x1111111111111111111111111111111111111111"
	testBob      = "0x2222222222222222222222222222222222222222"
)

func runEncode(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"encode", "--contract", testContract}, args...))
	err := root.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestEncodeBatchPay(t *testing.T) {
	id := "0x" + strings.Repeat("ab", 32)
	got, err := runEncode(t, "batch_pay", id, testFunder, testBob+":40", testFunder+":2")
	require.NoError(t, err)

	contract, err := address.ParseContract(testContract)
	require.NoError(t, err)
	escrowID, err := escrow.ParseID(id)
	require.NoError(t, err)
	op, err := invoke.NewEscrowCalls(contract).BatchPay(escrowID, address.MustAccount(testFunder), []escrow.Payout{
		{Recipient: address.MustAccount(testBob), Amount: 40},
		{Recipient: address.MustAccount(testFunder), Amount: 2},
	})
	require.NoError(t, err)
	want, err := op.Encode()
	require.NoError(t, err)

	require.Equal(t, hexutil.Encode(want), got)
}

func TestEncodeCreateRoundTrips(t *testing.T) {
	got, err := runEncode(t, "create", testFunder, "campaign-7", "100", "custom", testBob+":100", "--operator", testBob)
	require.NoError(t, err)

	raw, err := hexutil.Decode(got)
	require.NoError(t, err)
	op, err := invoke.DecodeOperation(raw)
	require.NoError(t, err)
	require.Equal(t, invoke.FnCreate, string(op.Function))
}

func TestEncodeRejectsBadInput(t *testing.T) {
	id := "0x" + strings.Repeat("01", 32)
	cases := map[string][]string{
		"unknown function": {"mint", id, testFunder},
		"bad payout":       {"batch_pay", id, testFunder, testBob},
		"bad address":      {"release", id, "0xnothex"},
		"missing amount":   {"approve", id, testFunder},
		"bad refund mode":  {"create", testFunder, "ref", "10", "sometimes"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := runEncode(t, args...)
			require.Error(t, err)
		})
	}
}
