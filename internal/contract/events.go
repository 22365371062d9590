package contract

import (
	"fmt"
	"time"

	"rewardrails/internal/abi"
	"rewardrails/internal/escrow"
)

// Topic returns the event topic symbol for a settlement kind.
func Topic(kind escrow.EventKind) abi.Symbol { return abi.Symbol(kind) }

// EncodeEvent is the event payload: vec[id, final_amounts, ledger_time].
func EncodeEvent(id escrow.ID, final []escrow.Payout, at time.Time) (abi.Val, error) {
	amounts, err := abi.EncodePayouts(final)
	if err != nil {
		return abi.Val{}, err
	}
	return abi.EncodeList([]abi.Val{abi.EncodeID(id), amounts, abi.EncodeInt64(at.Unix())})
}

// DecodeEvent turns a raw contract event back into a settlement event.
func DecodeEvent(topic abi.Symbol, data abi.Val) (escrow.Event, error) {
	kind := escrow.EventKind(topic)
	if !kind.Valid() {
		return escrow.Event{}, fmt.Errorf("unknown event topic %q", topic)
	}
	f, err := data.AsVec()
	if err != nil {
		return escrow.Event{}, err
	}
	if len(f) != 3 {
		return escrow.Event{}, fmt.Errorf("event has %d fields: %w", len(f), abi.ErrDecode)
	}
	id, err := abi.DecodeID(f[0])
	if err != nil {
		return escrow.Event{}, err
	}
	amounts, err := abi.DecodePayouts(f[1])
	if err != nil {
		return escrow.Event{}, err
	}
	secs, err := abi.DecodeInt64(f[2])
	if err != nil {
		return escrow.Event{}, err
	}
	return escrow.Event{
		EscrowID:        id,
		Kind:            kind,
		FinalAmounts:    amounts,
		LedgerTimestamp: time.Unix(secs, 0).UTC(),
	}, nil
}
