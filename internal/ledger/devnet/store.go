package devnet

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	errorsmod "cosmossdk.io/errors"
	badgerdb "github.com/dgraph-io/badger/v3"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/invoke"
	"rewardrails/internal/ledger"
)

// Key layout.
const (
	prefixSeq      = "seq/"
	prefixBalance  = "bal/"
	prefixContract = "code/"
	prefixData     = "data/"
	prefixReceipt  = "rcpt/"
)

func seqKey(a address.AccountAddress) []byte { return []byte(prefixSeq + address.Key(a)) }

func balanceKey(a address.Address) []byte { return []byte(prefixBalance + address.Key(a)) }

func contractKey(c address.ContractAddress) []byte { return []byte(prefixContract + address.Key(c)) }

func dataKey(c address.ContractAddress, key []byte) []byte {
	out := []byte(prefixData + address.Key(c) + "/")
	return append(out, key...)
}

func receiptKey(h invoke.Hash) []byte { return []byte(prefixReceipt + h.String()) }

func getU64(txn *badgerdb.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, errors.New("corrupt counter value")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func setU64(txn *badgerdb.Txn, key []byte, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return txn.Set(key, b[:])
}

func getBytes(txn *badgerdb.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := item.ValueCopy(nil)
	return raw, err == nil, err
}

// storedReceipt is the on-disk form of a receipt; abi values are kept in
// their binary encoding.
type storedReceipt struct {
	Hash      string        `json:"hash"`
	Source    string        `json:"source"`
	Sequence  uint64        `json:"sequence"`
	Success   bool          `json:"success"`
	Codespace string        `json:"codespace,omitempty"`
	Code      uint32        `json:"code,omitempty"`
	Log       string        `json:"log,omitempty"`
	Results   [][]byte      `json:"results,omitempty"`
	Events    []storedEvent `json:"events,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

type storedEvent struct {
	Contract string `json:"contract"`
	Topic    string `json:"topic"`
	Data     []byte `json:"data"`
}

func putReceipt(txn *badgerdb.Txn, r *ledger.Receipt) error {
	s := storedReceipt{
		Hash:      r.Hash.String(),
		Source:    r.Source.String(),
		Sequence:  r.Sequence,
		Success:   r.Success,
		Codespace: r.Codespace,
		Code:      r.Code,
		Log:       r.Log,
		Timestamp: r.Timestamp.UnixNano(),
	}
	for _, v := range r.Results {
		raw, err := abi.Marshal(v)
		if err != nil {
			return err
		}
		s.Results = append(s.Results, raw)
	}
	for _, e := range r.Events {
		raw, err := abi.Marshal(e.Data)
		if err != nil {
			return err
		}
		s.Events = append(s.Events, storedEvent{Contract: e.Contract.String(), Topic: string(e.Topic), Data: raw})
	}
	blob, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(receiptKey(r.Hash), blob)
}

func getReceipt(txn *badgerdb.Txn, h invoke.Hash) (*ledger.Receipt, error) {
	blob, found, err := getBytes(txn, receiptKey(h))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errorsmod.Wrapf(ledger.ErrTxNotFound, "tx %s", h)
	}
	var s storedReceipt
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, err
	}
	source, err := address.ParseAccount(s.Source)
	if err != nil {
		return nil, err
	}
	r := &ledger.Receipt{
		Hash:      h,
		Source:    source,
		Sequence:  s.Sequence,
		Success:   s.Success,
		Codespace: s.Codespace,
		Code:      s.Code,
		Log:       s.Log,
		Timestamp: time.Unix(0, s.Timestamp).UTC(),
	}
	for _, raw := range s.Results {
		v, err := abi.Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		r.Results = append(r.Results, v)
	}
	for _, e := range s.Events {
		contract, err := address.ParseContract(e.Contract)
		if err != nil {
			return nil, err
		}
		data, err := abi.Unmarshal(e.Data)
		if err != nil {
			return nil, err
		}
		r.Events = append(r.Events, ledger.Event{Contract: contract, Topic: abi.Symbol(e.Topic), Data: data})
	}
	return r, nil
}
