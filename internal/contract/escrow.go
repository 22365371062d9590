package contract

import (
	"errors"

	errorsmod "cosmossdk.io/errors"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/escrow"
	"rewardrails/internal/invoke"
)

// MaxReferenceLen bounds the business reference stored with a record.
const MaxReferenceLen = 128

var recordPrefix = []byte("escrow/")

// Escrow is the escrow program. It keeps no state of its own; records live
// in host storage.
type Escrow struct{}

type handler struct {
	arity int
	fn    func(h Host, args []abi.Val) (abi.Val, error)
}

var handlers = map[abi.Symbol]handler{
	invoke.FnCreate:        {6, create},
	invoke.FnFund:          {3, fund},
	invoke.FnApprove:       {3, approve},
	invoke.FnRelease:       {2, release},
	invoke.FnRefund:        {2, refund},
	invoke.FnPartialRefund: {3, partialRefund},
	invoke.FnBatchPay:      {3, batchPay},
	invoke.FnCancel:        {2, cancel},
	invoke.FnGet:           {1, get},
}

func (Escrow) Invoke(h Host, function abi.Symbol, args []abi.Val) (abi.Val, error) {
	entry, ok := handlers[function]
	if !ok {
		return abi.Val{}, errorsmod.Wrapf(ErrUnknownFunction, "%q", function)
	}
	if len(args) != entry.arity {
		return abi.Val{}, errorsmod.Wrapf(ErrInvalidArgument, "%s takes %d arguments, got %d", function, entry.arity, len(args))
	}
	return entry.fn(h, args)
}

func create(h Host, args []abi.Val) (abi.Val, error) {
	funder, err := abi.DecodeAccount(args[0])
	if err != nil {
		return abi.Val{}, err
	}
	reference, err := abi.DecodeText(args[1])
	if err != nil {
		return abi.Val{}, err
	}
	locked, err := abi.DecodeUint64(args[2])
	if err != nil {
		return abi.Val{}, err
	}
	beneficiaries, err := abi.DecodePayouts(args[3])
	if err != nil {
		return abi.Val{}, err
	}
	mode, err := abi.DecodeRefundMode(args[4])
	if err != nil {
		return abi.Val{}, err
	}
	operator, err := abi.DecodeOptionalAddress(args[5])
	if err != nil {
		return abi.Val{}, err
	}
	if err := requireAuth(h, funder); err != nil {
		return abi.Val{}, err
	}

	if reference == "" || len(reference) > MaxReferenceLen {
		return abi.Val{}, errorsmod.Wrapf(ErrInvalidArgument, "reference length %d outside 1..%d", len(reference), MaxReferenceLen)
	}

	id := escrow.DeriveID(funder, reference)
	rec := escrow.Record{
		ID:            id,
		Reference:     reference,
		Funder:        funder,
		Operator:      operator,
		Beneficiaries: beneficiaries,
		LockedAmount:  locked,
		RefundMode:    mode,
		Status:        escrow.StatusCreated,
		CreatedAt:     h.Now(),
	}
	if err := rec.Validate(); err != nil {
		if errors.Is(err, escrow.ErrNoBeneficiaries) || errors.Is(err, escrow.ErrZeroAmount) {
			return abi.Val{}, errorsmod.Wrap(ErrInvalidArgument, err.Error())
		}
		return abi.Val{}, errorsmod.Wrap(ErrAmountMismatch, err.Error())
	}
	for i, b := range beneficiaries {
		if address.Equal(b.Recipient, h.Self()) {
			return abi.Val{}, errorsmod.Wrapf(ErrInvalidArgument, "beneficiary %d is the escrow contract", i)
		}
	}

	if _, found, err := loadRecord(h, id); err != nil {
		return abi.Val{}, err
	} else if found {
		return abi.Val{}, errorsmod.Wrapf(ErrAlreadyExists, "escrow %s", id)
	}
	if err := saveRecord(h, rec); err != nil {
		return abi.Val{}, err
	}
	return abi.EncodeID(id), nil
}

func fund(h Host, args []abi.Val) (abi.Val, error) {
	id, err := abi.DecodeID(args[0])
	if err != nil {
		return abi.Val{}, err
	}
	from, err := abi.DecodeAccount(args[1])
	if err != nil {
		return abi.Val{}, err
	}
	amount, err := abi.DecodeUint64(args[2])
	if err != nil {
		return abi.Val{}, err
	}
	if err := requireAuth(h, from); err != nil {
		return abi.Val{}, err
	}
	rec, err := mustLoadRecord(h, id)
	if err != nil {
		return abi.Val{}, err
	}
	if from != rec.Funder {
		return abi.Val{}, errorsmod.Wrapf(ErrUnauthorized, "%s is not the funder of %s", from, id)
	}
	switch {
	case rec.Status == escrow.StatusFunded:
		return abi.Val{}, errorsmod.Wrapf(ErrAlreadyFunded, "escrow %s", id)
	case rec.Status.IsTerminal():
		return abi.Val{}, errorsmod.Wrapf(ErrAlreadySettled, "escrow %s is %s", id, rec.Status)
	case amount != rec.LockedAmount:
		return abi.Val{}, errorsmod.Wrapf(ErrFundingMismatch, "got %d, locked %d", amount, rec.LockedAmount)
	}

	balance, err := h.Balance(from)
	if err != nil {
		return abi.Val{}, err
	}
	if balance < amount {
		return abi.Val{}, errorsmod.Wrapf(ErrInsufficientFunds, "%s holds %d, needs %d", from, balance, amount)
	}
	if err := h.Transfer(from, h.Self(), amount); err != nil {
		return abi.Val{}, err
	}

	rec.Status = escrow.StatusFunded
	rec.FundedAt = h.Now()
	return abi.Void(), saveRecord(h, rec)
}

func approve(h Host, args []abi.Val) (abi.Val, error) {
	rec, caller, err := loadForCaller(h, args)
	if err != nil {
		return abi.Val{}, err
	}
	amount, err := abi.DecodeUint64(args[2])
	if err != nil {
		return abi.Val{}, err
	}
	if err := authorizeRefund(rec, caller); err != nil {
		return abi.Val{}, err
	}
	if err := requireFunded(rec); err != nil {
		return abi.Val{}, err
	}
	if rec.RefundMode != escrow.RefundPartial {
		return abi.Val{}, errorsmod.Wrapf(ErrRefundModeNotAllowed, "approve needs partial mode, escrow is %s", rec.RefundMode)
	}
	if amount > rec.LockedAmount {
		return abi.Val{}, errorsmod.Wrapf(ErrApprovalExceedsLocked, "approved %d, locked %d", amount, rec.LockedAmount)
	}
	rec.Approved = amount
	return abi.Void(), saveRecord(h, rec)
}

func release(h Host, args []abi.Val) (abi.Val, error) {
	rec, caller, err := loadForCaller(h, args)
	if err != nil {
		return abi.Val{}, err
	}
	if err := authorizeRelease(rec, caller); err != nil {
		return abi.Val{}, err
	}
	if err := requireFunded(rec); err != nil {
		return abi.Val{}, err
	}
	return abi.Void(), settle(h, rec, escrow.StatusReleased, escrow.EventRelease, rec.Beneficiaries)
}

func refund(h Host, args []abi.Val) (abi.Val, error) {
	rec, caller, err := loadForCaller(h, args)
	if err != nil {
		return abi.Val{}, err
	}
	if err := authorizeRefund(rec, caller); err != nil {
		return abi.Val{}, err
	}
	if err := requireFunded(rec); err != nil {
		return abi.Val{}, err
	}
	if rec.RefundMode != escrow.RefundFull {
		return abi.Val{}, errorsmod.Wrapf(ErrRefundModeNotAllowed, "full refund on a %s escrow", rec.RefundMode)
	}
	payouts := []escrow.Payout{{Recipient: rec.Funder, Amount: rec.LockedAmount}}
	return abi.Void(), settle(h, rec, escrow.StatusRefunded, escrow.EventRefund, payouts)
}

func partialRefund(h Host, args []abi.Val) (abi.Val, error) {
	rec, caller, err := loadForCaller(h, args)
	if err != nil {
		return abi.Val{}, err
	}
	split, err := abi.DecodeOptionalPayouts(args[2])
	if err != nil {
		return abi.Val{}, err
	}
	if err := authorizeRefund(rec, caller); err != nil {
		return abi.Val{}, err
	}
	if err := requireFunded(rec); err != nil {
		return abi.Val{}, err
	}
	payouts, err := partialPayouts(rec, split, h.Self())
	if err != nil {
		return abi.Val{}, err
	}
	return abi.Void(), settle(h, rec, escrow.StatusPartiallyRefunded, escrow.EventRefund, payouts)
}

// partialPayouts computes every transfer of a partial refund before any of
// them runs.
func partialPayouts(rec escrow.Record, split []escrow.Payout, self address.ContractAddress) ([]escrow.Payout, error) {
	switch rec.RefundMode {
	case escrow.RefundPartial:
		if split != nil {
			return nil, errorsmod.Wrap(ErrInvalidSplit, "partial mode refunds the unapproved remainder and takes no split")
		}
		out := waterfall(rec.Beneficiaries, rec.Approved)
		return append(out, escrow.Payout{Recipient: rec.Funder, Amount: rec.LockedAmount - rec.Approved}), nil

	case escrow.RefundCustom:
		if len(split) == 0 {
			return nil, errorsmod.Wrap(ErrInvalidSplit, "custom mode requires a split")
		}
		for i, p := range split {
			if p.Amount == 0 {
				return nil, errorsmod.Wrapf(ErrInvalidSplit, "split entry %d has a zero amount", i)
			}
			if address.Equal(p.Recipient, self) {
				return nil, errorsmod.Wrapf(ErrInvalidSplit, "split entry %d pays the escrow contract", i)
			}
		}
		total, err := escrow.SumPayouts(split)
		if err != nil {
			return nil, errorsmod.Wrap(ErrSplitExceedsLocked, err.Error())
		}
		if total > rec.LockedAmount {
			return nil, errorsmod.Wrapf(ErrSplitExceedsLocked, "split %d, locked %d", total, rec.LockedAmount)
		}
		out := append([]escrow.Payout{}, split...)
		return append(out, waterfall(rec.Beneficiaries, rec.LockedAmount-total)...), nil
	}
	return nil, errorsmod.Wrapf(ErrRefundModeNotAllowed, "partial refund on a %s escrow", rec.RefundMode)
}

// waterfall hands amount to beneficiaries in list order, each capped at its
// own entry.
func waterfall(beneficiaries []escrow.Payout, amount uint64) []escrow.Payout {
	var out []escrow.Payout
	for _, b := range beneficiaries {
		if amount == 0 {
			break
		}
		share := min(b.Amount, amount)
		out = append(out, escrow.Payout{Recipient: b.Recipient, Amount: share})
		amount -= share
	}
	return out
}

func batchPay(h Host, args []abi.Val) (abi.Val, error) {
	rec, caller, err := loadForCaller(h, args)
	if err != nil {
		return abi.Val{}, err
	}
	payouts, err := abi.DecodePayouts(args[2])
	if err != nil {
		return abi.Val{}, err
	}
	if err := authorizeRelease(rec, caller); err != nil {
		return abi.Val{}, err
	}
	if err := requireFunded(rec); err != nil {
		return abi.Val{}, err
	}
	if !escrow.SamePayouts(payouts, rec.Beneficiaries) {
		return abi.Val{}, errorsmod.Wrapf(ErrBeneficiaryMismatch, "escrow %s", rec.ID)
	}
	return abi.Void(), settle(h, rec, escrow.StatusReleased, escrow.EventBatchPay, payouts)
}

func cancel(h Host, args []abi.Val) (abi.Val, error) {
	rec, caller, err := loadForCaller(h, args)
	if err != nil {
		return abi.Val{}, err
	}
	if err := authorizeRefund(rec, caller); err != nil {
		return abi.Val{}, err
	}
	switch {
	case rec.Status.IsTerminal():
		return abi.Val{}, errorsmod.Wrapf(ErrAlreadySettled, "escrow %s is %s", rec.ID, rec.Status)
	case rec.Status == escrow.StatusFunded:
		return abi.Val{}, errorsmod.Wrapf(ErrAlreadyFunded, "escrow %s holds funds and must be refunded", rec.ID)
	}
	rec.Status = escrow.StatusFailed
	rec.SettledAt = h.Now()
	return abi.Void(), saveRecord(h, rec)
}

func get(h Host, args []abi.Val) (abi.Val, error) {
	id, err := abi.DecodeID(args[0])
	if err != nil {
		return abi.Val{}, err
	}
	rec, err := mustLoadRecord(h, id)
	if err != nil {
		return abi.Val{}, err
	}
	return EncodeRecord(rec)
}

// settle moves funds out of the contract and marks the record terminal. The
// total is checked against the locked amount and the contract balance before
// the first transfer.
func settle(h Host, rec escrow.Record, status escrow.Status, kind escrow.EventKind, payouts []escrow.Payout) error {
	final := make([]escrow.Payout, 0, len(payouts))
	for _, p := range payouts {
		if p.Amount > 0 {
			final = append(final, p)
		}
	}
	total, err := escrow.SumPayouts(final)
	if err != nil || total > rec.LockedAmount {
		return errorsmod.Wrapf(ErrSplitExceedsLocked, "payouts %d, locked %d", total, rec.LockedAmount)
	}
	held, err := h.Balance(h.Self())
	if err != nil {
		return err
	}
	if held < total {
		return errorsmod.Wrapf(ErrInsufficientFunds, "contract holds %d, owes %d", held, total)
	}
	for _, p := range final {
		if err := h.Transfer(h.Self(), p.Recipient, p.Amount); err != nil {
			return err
		}
	}

	now := h.Now()
	rec.Status = status
	rec.SettledAt = now
	if err := saveRecord(h, rec); err != nil {
		return err
	}
	data, err := EncodeEvent(rec.ID, final, now)
	if err != nil {
		return err
	}
	h.Emit(Topic(kind), data)
	return nil
}

func loadForCaller(h Host, args []abi.Val) (escrow.Record, address.AccountAddress, error) {
	id, err := abi.DecodeID(args[0])
	if err != nil {
		return escrow.Record{}, address.AccountAddress{}, err
	}
	caller, err := abi.DecodeAccount(args[1])
	if err != nil {
		return escrow.Record{}, address.AccountAddress{}, err
	}
	if err := requireAuth(h, caller); err != nil {
		return escrow.Record{}, address.AccountAddress{}, err
	}
	rec, err := mustLoadRecord(h, id)
	return rec, caller, err
}

func requireAuth(h Host, caller address.AccountAddress) error {
	if h.Source() != caller {
		return errorsmod.Wrapf(ErrUnauthorized, "transaction signed by %s, caller is %s", h.Source(), caller)
	}
	return nil
}

// authorizeRelease admits the funder and the operator.
func authorizeRelease(rec escrow.Record, caller address.AccountAddress) error {
	if caller == rec.Funder || isOperator(rec, caller) {
		return nil
	}
	return errorsmod.Wrapf(ErrUnauthorized, "%s may not release %s", caller, rec.ID)
}

// authorizeRefund admits the operator when one is set, otherwise the funder.
func authorizeRefund(rec escrow.Record, caller address.AccountAddress) error {
	if rec.Operator != nil {
		if isOperator(rec, caller) {
			return nil
		}
	} else if caller == rec.Funder {
		return nil
	}
	return errorsmod.Wrapf(ErrUnauthorized, "%s may not refund %s", caller, rec.ID)
}

func isOperator(rec escrow.Record, caller address.AccountAddress) bool {
	return rec.Operator != nil && address.Equal(rec.Operator, caller)
}

func requireFunded(rec escrow.Record) error {
	switch {
	case rec.Status.IsTerminal():
		return errorsmod.Wrapf(ErrAlreadySettled, "escrow %s is %s", rec.ID, rec.Status)
	case rec.Status != escrow.StatusFunded:
		return errorsmod.Wrapf(ErrNotFunded, "escrow %s is %s", rec.ID, rec.Status)
	}
	return nil
}

func recordKey(id escrow.ID) []byte {
	return append(append([]byte{}, recordPrefix...), id[:]...)
}

func loadRecord(h Host, id escrow.ID) (escrow.Record, bool, error) {
	raw, found, err := h.Load(recordKey(id))
	if err != nil || !found {
		return escrow.Record{}, false, err
	}
	v, err := abi.Unmarshal(raw)
	if err != nil {
		return escrow.Record{}, false, err
	}
	rec, err := DecodeRecord(v)
	return rec, err == nil, err
}

func mustLoadRecord(h Host, id escrow.ID) (escrow.Record, error) {
	rec, found, err := loadRecord(h, id)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, errorsmod.Wrapf(ErrNotFound, "escrow %s", id)
	}
	return rec, nil
}

func saveRecord(h Host, rec escrow.Record) error {
	v, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	raw, err := abi.Marshal(v)
	if err != nil {
		return err
	}
	return h.Store(recordKey(rec.ID), raw)
}
