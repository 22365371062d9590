package abi

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
)

var (
	alice    = address.MustAccount("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	bob      = address.MustAccount("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	contract = address.ContractAddress{0xca, 0xfe, 31: 0x01}
)

func roundTrip(t *testing.T, v Val) Val {
	t.Helper()
	b, err := Marshal(v)
	require.NoError(t, err)
	out, err := Unmarshal(b)
	require.NoError(t, err)
	require.True(t, v.Equal(out), "round trip changed %s into %s", v, out)
	return out
}

func TestScalarRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "emoji ✓", strings.Repeat("x", 1024)} {
		got, err := DecodeText(roundTrip(t, EncodeText(s)))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for _, i := range []int64{0, 1, -1, math.MinInt64, math.MaxInt64} {
		got, err := DecodeInt64(roundTrip(t, EncodeInt64(i)))
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	for _, u := range []uint64{0, 1, math.MaxUint64} {
		got, err := DecodeUint64(roundTrip(t, EncodeUint64(u)))
		require.NoError(t, err)
		assert.Equal(t, u, got)
	}
	for _, a := range []address.Address{alice, contract} {
		v, err := EncodeAddress(a)
		require.NoError(t, err)
		got, err := DecodeAddress(roundTrip(t, v))
		require.NoError(t, err)
		assert.True(t, address.Equal(a, got))
	}
}

func TestSignedAndUnsignedTagsAreDistinct(t *testing.T) {
	signed := EncodeInt64(-1)
	unsigned := EncodeUint64(math.MaxUint64)
	assert.NotEqual(t, signed.Tag(), unsigned.Tag())
	assert.False(t, signed.Equal(unsigned))

	_, err := DecodeUint64(signed)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = DecodeInt64(unsigned)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRefundModeOrdinalsAreLocked(t *testing.T) {
	for mode, ordinal := range map[escrow.RefundMode]uint32{
		escrow.RefundFull:    0,
		escrow.RefundPartial: 1,
		escrow.RefundCustom:  2,
	} {
		v, err := EncodeRefundMode(mode)
		require.NoError(t, err)
		assert.Equal(t, TagU32, v.Tag())
		n, err := v.AsU32()
		require.NoError(t, err)
		assert.Equal(t, ordinal, n)

		back, err := DecodeRefundMode(roundTrip(t, v))
		require.NoError(t, err)
		assert.Equal(t, mode, back)
	}

	_, err := EncodeRefundMode(escrow.RefundMode(3))
	assert.ErrorIs(t, err, ErrInvalidMode)
	_, err = DecodeRefundMode(EncodeU32(7))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestListOrderAndLimit(t *testing.T) {
	v, err := EncodeList([]Val{EncodeUint64(3), EncodeText("b"), EncodeUint64(1)})
	require.NoError(t, err)
	vec, err := DecodeList(roundTrip(t, v))
	require.NoError(t, err)
	require.Len(t, vec, 3)
	assert.True(t, vec[0].Equal(EncodeUint64(3)))
	assert.True(t, vec[2].Equal(EncodeUint64(1)))

	_, err = EncodeList(make([]Val, MaxVecLen+1))
	assert.ErrorIs(t, err, ErrListTooLarge)
}

func TestOptionEncoding(t *testing.T) {
	absent := EncodeOption(nil)
	got, err := DecodeOption(roundTrip(t, absent))
	require.NoError(t, err)
	assert.Nil(t, got)

	x := EncodeUint64(42)
	present := EncodeOption(&x)
	got, err = DecodeOption(roundTrip(t, present))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(x))

	two, err := EncodeList([]Val{x, x})
	require.NoError(t, err)
	_, err = DecodeOption(two)
	assert.ErrorIs(t, err, ErrOptionLength)
}

func TestPayoutsRoundTrip(t *testing.T) {
	payouts := []escrow.Payout{{Recipient: alice, Amount: 100}, {Recipient: bob, Amount: 150}}
	v, err := EncodePayouts(payouts)
	require.NoError(t, err)
	got, err := DecodePayouts(roundTrip(t, v))
	require.NoError(t, err)
	assert.True(t, escrow.SamePayouts(payouts, got))

	opt, err := EncodeOptionalPayouts(nil)
	require.NoError(t, err)
	none, err := DecodeOptionalPayouts(opt)
	require.NoError(t, err)
	assert.Nil(t, none)

	opt, err = EncodeOptionalPayouts(payouts[:1])
	require.NoError(t, err)
	some, err := DecodeOptionalPayouts(opt)
	require.NoError(t, err)
	assert.Len(t, some, 1)
}

func TestFunctionNameIsExact(t *testing.T) {
	v, err := EncodeFunctionName("batch_pay")
	require.NoError(t, err)
	sym, err := v.AsSymbol()
	require.NoError(t, err)
	assert.Equal(t, Symbol("batch_pay"), sym)

	upper, err := EncodeFunctionName("Batch_Pay")
	require.NoError(t, err)
	assert.False(t, v.Equal(upper))

	for _, bad := range []string{"", "batch pay", "batch-pay", strings.Repeat("a", MaxSymbolLen+1)} {
		_, err := EncodeFunctionName(bad)
		assert.ErrorIs(t, err, ErrInvalidSymbol, bad)
	}
}

func TestEncodeAddressText(t *testing.T) {
	v, err := EncodeAddressText(alice.String())
	require.NoError(t, err)
	a, err := v.AsAddress()
	require.NoError(t, err)
	assert.Equal(t, address.KindAccount, a.Kind())

	v, err = EncodeAddressText(contract.Compact())
	require.NoError(t, err)
	a, err = v.AsAddress()
	require.NoError(t, err)
	assert.Equal(t, address.KindContract, a.Kind())

	_, err = EncodeAddressText("0xnothex")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestUnmarshalRejectsMalformedInput(t *testing.T) {
	good := MustMarshal(EncodeUint64(5))

	_, err := Unmarshal(append(good, 0))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Unmarshal(good[:len(good)-1])
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Unmarshal([]byte{0, 0, 0, 99})
	assert.ErrorIs(t, err, ErrDecode)

	// address with an unknown discriminant
	bad := []byte{0, 0, 0, byte(TagAddress), 0, 0, 0, 7}
	bad = append(bad, make([]byte, 20)...)
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	// vec claiming more elements than the limit
	_, err = Unmarshal([]byte{0, 0, 0, byte(TagVec), 0, 0, 0x10, 0})
	assert.ErrorIs(t, err, ErrListTooLarge)
}
