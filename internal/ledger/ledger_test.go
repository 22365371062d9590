package ledger

import (
	"errors"
	"fmt"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/stretchr/testify/assert"

	"rewardrails/internal/abi"
)

func TestReceiptErrRestoresRegisteredError(t *testing.T) {
	var r Receipt
	r.FailWith(errorsmod.Wrapf(ErrBadSequence, "expected %d", 4))

	assert.Equal(t, Codespace, r.Codespace)
	assert.EqualValues(t, 3, r.Code)
	assert.Contains(t, r.Log, "expected 4")

	err := r.Err()
	assert.ErrorIs(t, err, ErrBadSequence)
	assert.False(t, errors.Is(err, ErrDuplicateTx))

	// codes from another codespace survive the round trip too
	r.FailWith(errorsmod.Wrap(abi.ErrListTooLarge, "payouts"))
	assert.ErrorIs(t, r.Err(), abi.ErrListTooLarge)
}

func TestReceiptErrUnregistered(t *testing.T) {
	var r Receipt
	r.FailWith(fmt.Errorf("plain failure"))
	assert.Error(t, r.Err())

	ok := Receipt{Success: true}
	assert.NoError(t, ok.Err())
	var nilReceipt *Receipt
	assert.NoError(t, nilReceipt.Err())
}
