// Package signer holds the injected signing keys for funder and operator
// accounts.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"rewardrails/internal/address"
)

// Key is a secp256k1 private key with its derived account address.
type Key struct {
	priv *ecdsa.PrivateKey
	addr address.AccountAddress
}

func NewKey(priv *ecdsa.PrivateKey) *Key {
	return &Key{priv: priv, addr: address.AccountAddress(crypto.PubkeyToAddress(priv.PublicKey))}
}

// ParseKey accepts a hex private key with or without the 0x prefix.
func ParseKey(hexKey string) (*Key, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKey(priv), nil
}

func GenerateKey() (*Key, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewKey(priv), nil
}

func (k *Key) Address() address.AccountAddress { return k.addr }

// SignHash returns a 65-byte [R || S || V] signature over a 32-byte hash.
func (k *Key) SignHash(hash []byte) ([]byte, error) {
	return crypto.Sign(hash, k.priv)
}

// PrivateKey exposes the raw key for transports that sign their own envelopes.
func (k *Key) PrivateKey() *ecdsa.PrivateKey { return k.priv }
