package contract

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
	"rewardrails/internal/invoke"
)

var (
	self     = address.ContractAddress{0xe5, 31: 0x01}
	funder   = address.MustAccount("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	alice    = address.MustAccount("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	bob      = address.MustAccount("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	operator = address.MustAccount("0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb")
)

type emitted struct {
	topic abi.Symbol
	data  abi.Val
}

// memHost keeps state in maps and snapshots it per call so a failed call
// leaves nothing behind, like a ledger transaction.
type memHost struct {
	source   address.AccountAddress
	now      time.Time
	store    map[string][]byte
	balances map[string]uint64
	events   []emitted
}

func newMemHost() *memHost {
	return &memHost{
		now:      time.Unix(1_700_000_000, 0).UTC(),
		store:    map[string][]byte{},
		balances: map[string]uint64{},
	}
}

func (m *memHost) Source() address.AccountAddress { return m.source }
func (m *memHost) Now() time.Time                 { return m.now }
func (m *memHost) Self() address.ContractAddress  { return self }

func (m *memHost) Load(key []byte) ([]byte, bool, error) {
	v, ok := m.store[string(key)]
	return v, ok, nil
}

func (m *memHost) Store(key, value []byte) error {
	m.store[string(key)] = value
	return nil
}

func (m *memHost) Balance(a address.Address) (uint64, error) {
	return m.balances[address.Key(a)], nil
}

func (m *memHost) Transfer(from, to address.Address, amount uint64) error {
	if c, ok := to.(address.ContractAddress); ok && c != self {
		return fmt.Errorf("contract %s not deployed", c)
	}
	if m.balances[address.Key(from)] < amount {
		return errors.New("insufficient balance")
	}
	m.balances[address.Key(from)] -= amount
	m.balances[address.Key(to)] += amount
	return nil
}

func (m *memHost) Emit(topic abi.Symbol, data abi.Val) {
	m.events = append(m.events, emitted{topic, data})
}

func (m *memHost) call(t *testing.T, source address.AccountAddress, op invoke.Operation) (abi.Val, error) {
	t.Helper()
	store := make(map[string][]byte, len(m.store))
	for k, v := range m.store {
		store[k] = v
	}
	balances := make(map[string]uint64, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	events := len(m.events)

	m.source = source
	out, err := Escrow{}.Invoke(m, op.Function, op.Args)
	if err != nil {
		m.store, m.balances, m.events = store, balances, m.events[:events]
	}
	return out, err
}

func (m *memHost) balance(a address.Address) uint64 { return m.balances[address.Key(a)] }

var calls = invoke.NewEscrowCalls(self)

func mustOp(t *testing.T) func(invoke.Operation, error) invoke.Operation {
	return func(op invoke.Operation, err error) invoke.Operation {
		t.Helper()
		require.NoError(t, err)
		return op
	}
}

// open creates and funds an escrow, crediting the funder first.
func open(t *testing.T, h *memHost, p invoke.CreateParams) escrow.ID {
	t.Helper()
	op := mustOp(t)
	h.balances[address.Key(p.Funder)] += p.LockedAmount

	out, err := h.call(t, p.Funder, op(calls.Create(p)))
	require.NoError(t, err)
	id, err := abi.DecodeID(out)
	require.NoError(t, err)
	assert.Equal(t, escrow.DeriveID(p.Funder, p.Reference), id)

	_, err = h.call(t, p.Funder, op(calls.Fund(id, p.Funder, p.LockedAmount)))
	require.NoError(t, err)
	return id
}

func lookup(t *testing.T, h *memHost, id escrow.ID) escrow.Record {
	t.Helper()
	out, err := h.call(t, funder, mustOp(t)(calls.Get(id)))
	require.NoError(t, err)
	rec, err := DecodeRecord(out)
	require.NoError(t, err)
	return rec
}

func single(mode escrow.RefundMode, amount uint64) invoke.CreateParams {
	return invoke.CreateParams{
		Funder:        funder,
		Reference:     "contribution-1",
		LockedAmount:  amount,
		Beneficiaries: []escrow.Payout{{Recipient: alice, Amount: amount}},
		RefundMode:    mode,
	}
}

func TestFullRefundScenario(t *testing.T) {
	h := newMemHost()
	id := open(t, h, single(escrow.RefundFull, 1000))
	assert.EqualValues(t, 0, h.balance(funder))
	assert.EqualValues(t, 1000, h.balance(self))

	_, err := h.call(t, funder, mustOp(t)(calls.Refund(id, funder)))
	require.NoError(t, err)

	assert.EqualValues(t, 1000, h.balance(funder))
	assert.EqualValues(t, 0, h.balance(self))
	rec := lookup(t, h, id)
	assert.Equal(t, escrow.StatusRefunded, rec.Status)
	assert.False(t, rec.SettledAt.IsZero())

	require.Len(t, h.events, 1)
	ev, err := DecodeEvent(h.events[0].topic, h.events[0].data)
	require.NoError(t, err)
	assert.Equal(t, escrow.EventRefund, ev.Kind)
	assert.Equal(t, id, ev.EscrowID)
	assert.True(t, escrow.SamePayouts([]escrow.Payout{{Recipient: funder, Amount: 1000}}, ev.FinalAmounts))
}

func TestCustomPartialRefundScenario(t *testing.T) {
	h := newMemHost()
	id := open(t, h, single(escrow.RefundCustom, 500))

	split := []escrow.Payout{{Recipient: funder, Amount: 200}}
	_, err := h.call(t, funder, mustOp(t)(calls.PartialRefund(id, funder, split)))
	require.NoError(t, err)

	assert.EqualValues(t, 200, h.balance(funder))
	assert.EqualValues(t, 300, h.balance(alice))
	assert.EqualValues(t, 0, h.balance(self))
	assert.Equal(t, escrow.StatusPartiallyRefunded, lookup(t, h, id).Status)
}

func TestCustomSplitExceedingLockedMovesNothing(t *testing.T) {
	h := newMemHost()
	id := open(t, h, single(escrow.RefundCustom, 500))

	split := []escrow.Payout{{Recipient: funder, Amount: 400}, {Recipient: bob, Amount: 101}}
	_, err := h.call(t, funder, mustOp(t)(calls.PartialRefund(id, funder, split)))
	assert.ErrorIs(t, err, ErrSplitExceedsLocked)

	assert.EqualValues(t, 500, h.balance(self))
	assert.EqualValues(t, 0, h.balance(funder))
	assert.Equal(t, escrow.StatusFunded, lookup(t, h, id).Status)

	_, err = h.call(t, funder, mustOp(t)(calls.PartialRefund(id, funder, nil)))
	assert.ErrorIs(t, err, ErrInvalidSplit)
}

func TestEscrowContractCannotBePaidFromItself(t *testing.T) {
	h := newMemHost()
	id := open(t, h, single(escrow.RefundCustom, 500))

	split := []escrow.Payout{{Recipient: self, Amount: 500}}
	_, err := h.call(t, funder, mustOp(t)(calls.PartialRefund(id, funder, split)))
	assert.ErrorIs(t, err, ErrInvalidSplit)
	assert.EqualValues(t, 500, h.balance(self))
	assert.Equal(t, escrow.StatusFunded, lookup(t, h, id).Status)

	split = []escrow.Payout{{Recipient: funder, Amount: 100}, {Recipient: self, Amount: 100}}
	_, err = h.call(t, funder, mustOp(t)(calls.PartialRefund(id, funder, split)))
	assert.ErrorIs(t, err, ErrInvalidSplit)
	assert.EqualValues(t, 0, h.balance(funder))

	p := single(escrow.RefundFull, 300)
	p.Reference = "to-self"
	p.Beneficiaries = []escrow.Payout{{Recipient: alice, Amount: 100}, {Recipient: self, Amount: 200}}
	_, err = h.call(t, funder, mustOp(t)(calls.Create(p)))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBatchPayScenario(t *testing.T) {
	h := newMemHost()
	payouts := []escrow.Payout{{Recipient: alice, Amount: 100}, {Recipient: bob, Amount: 150}}
	id := open(t, h, invoke.CreateParams{
		Funder:        funder,
		Reference:     "batch-1",
		LockedAmount:  250,
		Beneficiaries: payouts,
		RefundMode:    escrow.RefundFull,
	})

	op := mustOp(t)(calls.BatchPay(id, funder, payouts))
	_, err := h.call(t, funder, op)
	require.NoError(t, err)
	assert.EqualValues(t, 100, h.balance(alice))
	assert.EqualValues(t, 150, h.balance(bob))
	assert.Equal(t, escrow.StatusReleased, lookup(t, h, id).Status)

	_, err = h.call(t, funder, op)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.EqualValues(t, 100, h.balance(alice))
	assert.EqualValues(t, 150, h.balance(bob))
	assert.Len(t, h.events, 1)
	assert.Equal(t, Topic(escrow.EventBatchPay), h.events[0].topic)
}

func TestReleaseIsIdempotent(t *testing.T) {
	h := newMemHost()
	id := open(t, h, single(escrow.RefundFull, 70))
	op := mustOp(t)(calls.Release(id, funder))

	_, err := h.call(t, funder, op)
	require.NoError(t, err)
	_, err = h.call(t, funder, op)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	assert.EqualValues(t, 70, h.balance(alice))
	assert.Len(t, h.events, 1)
}

func TestBatchPayWithUndeployedRecipientIsAtomic(t *testing.T) {
	h := newMemHost()
	ghost := address.ContractAddress{0xde, 0xad}
	payouts := []escrow.Payout{{Recipient: alice, Amount: 100}, {Recipient: ghost, Amount: 150}}
	id := open(t, h, invoke.CreateParams{
		Funder:        funder,
		Reference:     "batch-2",
		LockedAmount:  250,
		Beneficiaries: payouts,
		RefundMode:    escrow.RefundFull,
	})

	_, err := h.call(t, funder, mustOp(t)(calls.BatchPay(id, funder, payouts)))
	require.Error(t, err)

	assert.EqualValues(t, 0, h.balance(alice))
	assert.EqualValues(t, 250, h.balance(self))
	assert.Equal(t, escrow.StatusFunded, lookup(t, h, id).Status)
	assert.Empty(t, h.events)
}

func TestBatchPayMustMatchBeneficiaries(t *testing.T) {
	h := newMemHost()
	payouts := []escrow.Payout{{Recipient: alice, Amount: 100}, {Recipient: bob, Amount: 150}}
	id := open(t, h, invoke.CreateParams{
		Funder: funder, Reference: "batch-3", LockedAmount: 250, Beneficiaries: payouts,
	})

	swapped := []escrow.Payout{payouts[1], payouts[0]}
	_, err := h.call(t, funder, mustOp(t)(calls.BatchPay(id, funder, swapped)))
	assert.ErrorIs(t, err, ErrBeneficiaryMismatch)
}

func TestPartialModeRefundsUnapprovedRemainder(t *testing.T) {
	h := newMemHost()
	p := invoke.CreateParams{
		Funder:        funder,
		Reference:     "partial-1",
		LockedAmount:  300,
		Beneficiaries: []escrow.Payout{{Recipient: alice, Amount: 100}, {Recipient: bob, Amount: 200}},
		RefundMode:    escrow.RefundPartial,
		Operator:      operator,
	}
	id := open(t, h, p)
	op := mustOp(t)

	_, err := h.call(t, funder, op(calls.Approve(id, funder, 150)))
	assert.ErrorIs(t, err, ErrUnauthorized, "operator set, funder may not approve")

	_, err = h.call(t, operator, op(calls.Approve(id, operator, 301)))
	assert.ErrorIs(t, err, ErrApprovalExceedsLocked)

	_, err = h.call(t, operator, op(calls.Approve(id, operator, 150)))
	require.NoError(t, err)

	_, err = h.call(t, operator, op(calls.PartialRefund(id, operator, []escrow.Payout{{Recipient: funder, Amount: 1}})))
	assert.ErrorIs(t, err, ErrInvalidSplit)

	_, err = h.call(t, operator, op(calls.PartialRefund(id, operator, nil)))
	require.NoError(t, err)

	assert.EqualValues(t, 100, h.balance(alice))
	assert.EqualValues(t, 50, h.balance(bob))
	assert.EqualValues(t, 150, h.balance(funder))
	assert.Equal(t, escrow.StatusPartiallyRefunded, lookup(t, h, id).Status)
}

func TestRefundModeGates(t *testing.T) {
	h := newMemHost()
	op := mustOp(t)

	full := open(t, h, single(escrow.RefundFull, 10))
	_, err := h.call(t, funder, op(calls.PartialRefund(full, funder, []escrow.Payout{{Recipient: funder, Amount: 5}})))
	assert.ErrorIs(t, err, ErrRefundModeNotAllowed)

	p := single(escrow.RefundCustom, 10)
	p.Reference = "custom"
	custom := open(t, h, p)
	_, err = h.call(t, funder, op(calls.Refund(custom, funder)))
	assert.ErrorIs(t, err, ErrRefundModeNotAllowed)
}

func TestAuthorization(t *testing.T) {
	h := newMemHost()
	op := mustOp(t)
	id := open(t, h, single(escrow.RefundFull, 10))

	// signer and caller argument must agree
	_, err := h.call(t, alice, op(calls.Release(id, funder)))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.call(t, alice, op(calls.Release(id, alice)))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.call(t, alice, op(calls.Refund(id, alice)))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualValues(t, 10, h.balance(self))
}

func TestOperatorMayRelease(t *testing.T) {
	h := newMemHost()
	p := single(escrow.RefundFull, 10)
	p.Operator = operator
	id := open(t, h, p)

	_, err := h.call(t, operator, mustOp(t)(calls.Release(id, operator)))
	require.NoError(t, err)
	assert.EqualValues(t, 10, h.balance(alice))
}

func TestCreateAndFundRules(t *testing.T) {
	h := newMemHost()
	op := mustOp(t)
	p := single(escrow.RefundFull, 100)

	mismatch := p
	mismatch.LockedAmount = 99
	_, err := h.call(t, funder, op(calls.Create(mismatch)))
	assert.ErrorIs(t, err, ErrAmountMismatch)

	zero := p
	zero.Beneficiaries = []escrow.Payout{{Recipient: alice, Amount: 100}, {Recipient: bob, Amount: 0}}
	_, err = h.call(t, funder, op(calls.Create(zero)))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = h.call(t, alice, op(calls.Create(p)))
	assert.ErrorIs(t, err, ErrUnauthorized)

	out, err := h.call(t, funder, op(calls.Create(p)))
	require.NoError(t, err)
	id, err := abi.DecodeID(out)
	require.NoError(t, err)

	_, err = h.call(t, funder, op(calls.Create(p)))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = h.call(t, funder, op(calls.Release(id, funder)))
	assert.ErrorIs(t, err, ErrNotFunded)

	_, err = h.call(t, funder, op(calls.Fund(id, funder, 100)))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	h.balances[address.Key(funder)] = 500
	_, err = h.call(t, funder, op(calls.Fund(id, funder, 50)))
	assert.ErrorIs(t, err, ErrFundingMismatch)

	_, err = h.call(t, funder, op(calls.Fund(id, funder, 100)))
	require.NoError(t, err)
	assert.EqualValues(t, 400, h.balance(funder))

	_, err = h.call(t, funder, op(calls.Fund(id, funder, 100)))
	assert.ErrorIs(t, err, ErrAlreadyFunded)
}

func TestCancel(t *testing.T) {
	h := newMemHost()
	op := mustOp(t)
	p := single(escrow.RefundFull, 5)

	out, err := h.call(t, funder, op(calls.Create(p)))
	require.NoError(t, err)
	id, err := abi.DecodeID(out)
	require.NoError(t, err)

	_, err = h.call(t, funder, op(calls.Cancel(id, funder)))
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusFailed, lookup(t, h, id).Status)

	_, err = h.call(t, funder, op(calls.Cancel(id, funder)))
	assert.ErrorIs(t, err, ErrAlreadySettled)

	h.balances[address.Key(funder)] = 5
	_, err = h.call(t, funder, op(calls.Fund(id, funder, 5)))
	assert.ErrorIs(t, err, ErrAlreadySettled)
}

func TestUnknownFunctionAndArity(t *testing.T) {
	h := newMemHost()
	op, err := invoke.Build(self, "withdraw_all")
	require.NoError(t, err)
	_, err = h.call(t, funder, op)
	assert.ErrorIs(t, err, ErrUnknownFunction)

	op, err = invoke.Build(self, invoke.FnRelease, abi.EncodeID(escrow.ID{1}))
	require.NoError(t, err)
	_, err = h.call(t, funder, op)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = h.call(t, funder, mustOp(t)(calls.Get(escrow.ID{9})))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordEncodingRoundTrip(t *testing.T) {
	rec := escrow.Record{
		ID:            escrow.DeriveID(funder, "r"),
		Reference:     "r",
		Funder:        funder,
		Operator:      operator,
		Beneficiaries: []escrow.Payout{{Recipient: alice, Amount: 3}, {Recipient: self, Amount: 4}},
		LockedAmount:  7,
		Approved:      2,
		RefundMode:    escrow.RefundPartial,
		Status:        escrow.StatusFunded,
		CreatedAt:     time.Unix(100, 0).UTC(),
		FundedAt:      time.Unix(200, 0).UTC(),
	}
	v, err := EncodeRecord(rec)
	require.NoError(t, err)
	raw, err := abi.Marshal(v)
	require.NoError(t, err)
	back, err := abi.Unmarshal(raw)
	require.NoError(t, err)

	got, err := DecodeRecord(back)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, address.Equal(rec.Operator, got.Operator))
	assert.True(t, escrow.SamePayouts(rec.Beneficiaries, got.Beneficiaries))
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.True(t, got.SettledAt.IsZero())
}
