package ethrpc

import (
	"fmt"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/ledger"
)

// The gateway reports results as one encoded vec of values and events as an
// encoded vec of vec[contract, topic, data].

func decodeResults(raw []byte) ([]abi.Val, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	v, err := abi.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return v.AsVec()
}

func decodeEvents(raw []byte) ([]ledger.Event, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	v, err := abi.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	items, err := v.AsVec()
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Event, 0, len(items))
	for i, item := range items {
		fields, err := item.AsVec()
		if err != nil {
			return nil, err
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("event %d: want 3 fields, got %d", i, len(fields))
		}
		a, err := fields[0].AsAddress()
		if err != nil {
			return nil, err
		}
		c, ok := a.(address.ContractAddress)
		if !ok {
			return nil, fmt.Errorf("event %d: emitter is not a contract", i)
		}
		topic, err := fields[1].AsSymbol()
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.Event{Contract: c, Topic: topic, Data: fields[2]})
	}
	return out, nil
}

// EncodeResults is the inverse of the gateway's results field.
func EncodeResults(results []abi.Val) ([]byte, error) {
	v, err := abi.EncodeList(results)
	if err != nil {
		return nil, err
	}
	return abi.Marshal(v)
}

// EncodeEvents is the inverse of the gateway's events field.
func EncodeEvents(events []ledger.Event) ([]byte, error) {
	items := make([]abi.Val, 0, len(events))
	for _, ev := range events {
		c, err := abi.EncodeAddress(ev.Contract)
		if err != nil {
			return nil, err
		}
		topic, err := abi.EncodeSymbol(ev.Topic)
		if err != nil {
			return nil, err
		}
		item, err := abi.EncodeList([]abi.Val{c, topic, ev.Data})
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	v, err := abi.EncodeList(items)
	if err != nil {
		return nil, err
	}
	return abi.Marshal(v)
}
