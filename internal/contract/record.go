package contract

import (
	"fmt"
	"time"

	"rewardrails/internal/abi"
	"rewardrails/internal/escrow"
)

const recordFields = 12

// EncodeRecord is the stored and returned form of an escrow record.
func EncodeRecord(r escrow.Record) (abi.Val, error) {
	funder, err := abi.EncodeAddress(r.Funder)
	if err != nil {
		return abi.Val{}, err
	}
	operator, err := abi.EncodeOptionalAddress(r.Operator)
	if err != nil {
		return abi.Val{}, err
	}
	beneficiaries, err := abi.EncodePayouts(r.Beneficiaries)
	if err != nil {
		return abi.Val{}, err
	}
	mode, err := abi.EncodeRefundMode(r.RefundMode)
	if err != nil {
		return abi.Val{}, err
	}
	return abi.EncodeList([]abi.Val{
		abi.EncodeID(r.ID),
		abi.EncodeText(r.Reference),
		funder,
		operator,
		beneficiaries,
		abi.EncodeUint64(r.LockedAmount),
		abi.EncodeUint64(r.Approved),
		mode,
		abi.EncodeU32(uint32(r.Status)),
		encodeTime(r.CreatedAt),
		encodeTime(r.FundedAt),
		encodeTime(r.SettledAt),
	})
}

func DecodeRecord(v abi.Val) (escrow.Record, error) {
	f, err := v.AsVec()
	if err != nil {
		return escrow.Record{}, err
	}
	if len(f) != recordFields {
		return escrow.Record{}, fmt.Errorf("record has %d fields: %w", len(f), abi.ErrDecode)
	}

	var r escrow.Record
	if r.ID, err = abi.DecodeID(f[0]); err != nil {
		return r, err
	}
	if r.Reference, err = abi.DecodeText(f[1]); err != nil {
		return r, err
	}
	if r.Funder, err = abi.DecodeAccount(f[2]); err != nil {
		return r, err
	}
	if r.Operator, err = abi.DecodeOptionalAddress(f[3]); err != nil {
		return r, err
	}
	if r.Beneficiaries, err = abi.DecodePayouts(f[4]); err != nil {
		return r, err
	}
	if r.LockedAmount, err = abi.DecodeUint64(f[5]); err != nil {
		return r, err
	}
	if r.Approved, err = abi.DecodeUint64(f[6]); err != nil {
		return r, err
	}
	if r.RefundMode, err = abi.DecodeRefundMode(f[7]); err != nil {
		return r, err
	}
	status, err := f[8].AsU32()
	if err != nil {
		return r, err
	}
	r.Status = escrow.Status(status)
	if !r.Status.Valid() {
		return r, fmt.Errorf("status %d: %w", status, abi.ErrDecode)
	}
	if r.CreatedAt, err = decodeTime(f[9]); err != nil {
		return r, err
	}
	if r.FundedAt, err = decodeTime(f[10]); err != nil {
		return r, err
	}
	if r.SettledAt, err = decodeTime(f[11]); err != nil {
		return r, err
	}
	return r, nil
}

// Times are unix seconds; zero means unset.
func encodeTime(t time.Time) abi.Val {
	if t.IsZero() {
		return abi.EncodeInt64(0)
	}
	return abi.EncodeInt64(t.Unix())
}

func decodeTime(v abi.Val) (time.Time, error) {
	secs, err := abi.DecodeInt64(v)
	if err != nil || secs == 0 {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
