package ethrpc

import (
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/contract"
	"rewardrails/internal/escrow"
	"rewardrails/internal/invoke"
	"rewardrails/internal/ledger"
)

var (
	gateway = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	funder  = address.MustAccount("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	alice   = address.MustAccount("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	escrows = address.ContractAddress{0xe5, 31: 0x01}
)

func offlineClient(t *testing.T) *Client {
	t.Helper()
	c, err := newClient(nil, gateway, Config{NetworkID: "test", Logger: zerolog.Nop()})
	require.NoError(t, err)
	return c
}

func executedLog(t *testing.T, c *Client, hash invoke.Hash, source address.AccountAddress, seq uint64,
	success bool, codespace string, code uint32, log string, results, events []byte) types.Log {
	t.Helper()
	event := c.abi.Events["Executed"]
	data, err := event.Inputs.NonIndexed().Pack(seq, success, codespace, code, log, results, events)
	require.NoError(t, err)
	return types.Log{
		Address: gateway,
		Topics: []common.Hash{
			event.ID,
			common.Hash(hash),
			common.BytesToHash(common.Address(source).Bytes()),
		},
		Data:        data,
		BlockNumber: 7,
	}
}

func TestReceiptFromSuccessfulLog(t *testing.T) {
	c := offlineClient(t)
	id := escrow.DeriveID(funder, "order-1")
	at := time.Unix(1_700_000_100, 0).UTC()

	evData, err := contract.EncodeEvent(id, []escrow.Payout{{Recipient: alice, Amount: 500}}, at)
	require.NoError(t, err)
	results, err := EncodeResults([]abi.Val{abi.EncodeID(id), abi.Void()})
	require.NoError(t, err)
	events, err := EncodeEvents([]ledger.Event{{Contract: escrows, Topic: contract.Topic(escrow.EventRelease), Data: evData}})
	require.NoError(t, err)

	hash := invoke.Hash{0xaa, 31: 0x01}
	lg := executedLog(t, c, hash, funder, 4, true, "", 0, "", results, events)

	r, err := c.receiptFromLog(lg, at)
	require.NoError(t, err)
	assert.Equal(t, hash, r.Hash)
	assert.Equal(t, funder, r.Source)
	assert.EqualValues(t, 4, r.Sequence)
	assert.True(t, r.Success)
	assert.NoError(t, r.Err())
	require.Len(t, r.Results, 2)
	gotID, err := abi.DecodeID(r.Results[0])
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	require.Len(t, r.Events, 1)
	assert.Equal(t, escrows, r.Events[0].Contract)
	ev, err := contract.DecodeEvent(r.Events[0].Topic, r.Events[0].Data)
	require.NoError(t, err)
	assert.Equal(t, escrow.EventRelease, ev.Kind)
	assert.Equal(t, uint64(500), ev.FinalAmounts[0].Amount)
	assert.Equal(t, at, ev.LedgerTimestamp)
}

func TestReceiptFromFailedLog(t *testing.T) {
	c := offlineClient(t)
	codespace, code, log := errorsmod.ABCIInfo(errorsmod.Wrap(contract.ErrAlreadySettled, "escrow 0x01"), false)

	hash := invoke.Hash{0xbb}
	lg := executedLog(t, c, hash, funder, 9, false, codespace, code, log, nil, nil)

	r, err := c.receiptFromLog(lg, time.Now())
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Empty(t, r.Results)
	assert.ErrorIs(t, r.Err(), contract.ErrAlreadySettled)
}

func TestReceiptFromForeignLog(t *testing.T) {
	c := offlineClient(t)
	lg := executedLog(t, c, invoke.Hash{1}, funder, 0, true, "", 0, "", nil, nil)
	lg.Topics[0] = common.Hash{0xde, 0xad}

	_, err := c.receiptFromLog(lg, time.Now())
	assert.Error(t, err)
}

func TestDecodeEventsRejectsAccountEmitter(t *testing.T) {
	acct, err := abi.EncodeAddress(funder)
	require.NoError(t, err)
	topic, err := abi.EncodeSymbol("release")
	require.NoError(t, err)
	item, err := abi.EncodeList([]abi.Val{acct, topic, abi.Void()})
	require.NoError(t, err)
	list, err := abi.EncodeList([]abi.Val{item})
	require.NoError(t, err)

	_, err = decodeEvents(abi.MustMarshal(list))
	assert.Error(t, err)
}

func TestDialValidatesConfig(t *testing.T) {
	_, err := Dial(t.Context(), Config{})
	assert.Error(t, err)
	_, err = Dial(t.Context(), Config{RPCURL: "http://127.0.0.1:1", Gateway: "nope", NetworkID: "x"})
	assert.Error(t, err)
	_, err = Dial(t.Context(), Config{RPCURL: "http://127.0.0.1:1", Gateway: gateway.Hex(), NetworkID: "x"})
	assert.Error(t, err)
}
