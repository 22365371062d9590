package invoke

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
)

// MaxOperations bounds the operations carried by one transaction.
const MaxOperations = 16

// SignatureLen is the [R || S || V] secp256k1 signature length.
const SignatureLen = crypto.SignatureLength

var (
	ErrNoOperations      = errors.New("transaction has no operations")
	ErrTooManyOperations = fmt.Errorf("transaction exceeds %d operations", MaxOperations)
	ErrSignerMismatch    = errors.New("signature does not match transaction source")
)

// Hash identifies a transaction on a given network.
type Hash [32]byte

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func ParseHash(text string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(text), "0x"))
	if err != nil {
		return h, fmt.Errorf("parse tx hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("tx hash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// Transaction is an ordered batch of operations from one source account. The
// ledger applies all operations or none.
type Transaction struct {
	Source     address.AccountAddress
	Sequence   uint64
	Operations []Operation
}

func (tx Transaction) Validate() error {
	if len(tx.Operations) == 0 {
		return ErrNoOperations
	}
	if len(tx.Operations) > MaxOperations {
		return ErrTooManyOperations
	}
	return nil
}

// Encode returns vec[source, sequence, vec[operations...]] in binary form.
func (tx Transaction) Encode() ([]byte, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	source, err := abi.EncodeAddress(tx.Source)
	if err != nil {
		return nil, err
	}
	ops := make([]abi.Val, 0, len(tx.Operations))
	for i, op := range tx.Operations {
		v, err := op.Val()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, v)
	}
	opList, err := abi.EncodeList(ops)
	if err != nil {
		return nil, err
	}
	body, err := abi.EncodeList([]abi.Val{source, abi.EncodeUint64(tx.Sequence), opList})
	if err != nil {
		return nil, err
	}
	return abi.Marshal(body)
}

func DecodeTransaction(envelope []byte) (Transaction, error) {
	v, err := abi.Unmarshal(envelope)
	if err != nil {
		return Transaction{}, err
	}
	fields, err := v.AsVec()
	if err != nil {
		return Transaction{}, err
	}
	if len(fields) != 3 {
		return Transaction{}, fmt.Errorf("transaction has %d fields: %w", len(fields), abi.ErrDecode)
	}
	source, err := abi.DecodeAccount(fields[0])
	if err != nil {
		return Transaction{}, err
	}
	seq, err := abi.DecodeUint64(fields[1])
	if err != nil {
		return Transaction{}, err
	}
	opVals, err := abi.DecodeList(fields[2])
	if err != nil {
		return Transaction{}, err
	}
	tx := Transaction{Source: source, Sequence: seq, Operations: make([]Operation, 0, len(opVals))}
	for i, ov := range opVals {
		op, err := OperationFromVal(ov)
		if err != nil {
			return Transaction{}, fmt.Errorf("operation %d: %w", i, err)
		}
		tx.Operations = append(tx.Operations, op)
	}
	return tx, tx.Validate()
}

// EnvelopeHash binds an encoded transaction to a network id so a signature
// cannot be replayed on another network.
func EnvelopeHash(networkID string, envelope []byte) Hash {
	return Hash(crypto.Keccak256Hash([]byte(networkID), envelope))
}

func (tx Transaction) Hash(networkID string) (Hash, error) {
	envelope, err := tx.Encode()
	if err != nil {
		return Hash{}, err
	}
	return EnvelopeHash(networkID, envelope), nil
}

// Signer produces recoverable secp256k1 signatures for one account. Key
// custody lives outside this package.
type Signer interface {
	Address() address.AccountAddress
	SignHash(hash []byte) ([]byte, error)
}

// SignedTransaction is what gets submitted. The envelope bytes are signed as
// is; resubmitting the same value is byte-identical.
type SignedTransaction struct {
	Envelope  []byte
	Signature []byte
}

// Sign encodes tx and signs its network hash. The signer must own tx.Source.
func Sign(tx Transaction, networkID string, signer Signer) (SignedTransaction, error) {
	if signer.Address() != tx.Source {
		return SignedTransaction{}, fmt.Errorf("signer %s for source %s: %w", signer.Address(), tx.Source, ErrSignerMismatch)
	}
	envelope, err := tx.Encode()
	if err != nil {
		return SignedTransaction{}, err
	}
	hash := EnvelopeHash(networkID, envelope)
	sig, err := signer.SignHash(hash[:])
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("sign tx: %w", err)
	}
	return SignedTransaction{Envelope: envelope, Signature: sig}, nil
}

func (s SignedTransaction) Hash(networkID string) Hash {
	return EnvelopeHash(networkID, s.Envelope)
}

// Equal reports byte equality of envelope and signature.
func (s SignedTransaction) Equal(o SignedTransaction) bool {
	return bytes.Equal(s.Envelope, o.Envelope) && bytes.Equal(s.Signature, o.Signature)
}

// Verify decodes the envelope and checks that the signature recovers to the
// transaction source.
func (s SignedTransaction) Verify(networkID string) (Transaction, error) {
	tx, err := DecodeTransaction(s.Envelope)
	if err != nil {
		return Transaction{}, err
	}
	if len(s.Signature) != SignatureLen {
		return Transaction{}, fmt.Errorf("signature length %d: %w", len(s.Signature), ErrSignerMismatch)
	}
	hash := s.Hash(networkID)
	pub, err := crypto.SigToPub(hash[:], s.Signature)
	if err != nil {
		return Transaction{}, fmt.Errorf("recover signer: %w", ErrSignerMismatch)
	}
	if address.AccountAddress(crypto.PubkeyToAddress(*pub)) != tx.Source {
		return Transaction{}, ErrSignerMismatch
	}
	return tx, nil
}
