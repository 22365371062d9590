package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"rewardrails/internal/address"
	"rewardrails/internal/invoke"
)

var ErrUnknownAccount = errors.New("no signing key for account")

// KeySource loads the key for an account from wherever keys are kept.
type KeySource interface {
	LoadKey(ctx context.Context, account address.AccountAddress) (*Key, error)
}

// StaticSource serves keys held in memory.
type StaticSource map[address.AccountAddress]*Key

func NewStaticSource(keys ...*Key) StaticSource {
	s := make(StaticSource, len(keys))
	for _, k := range keys {
		s[k.Address()] = k
	}
	return s
}

func (s StaticSource) LoadKey(_ context.Context, account address.AccountAddress) (*Key, error) {
	k, ok := s[account]
	if !ok {
		return nil, fmt.Errorf("%s: %w", account, ErrUnknownAccount)
	}
	return k, nil
}

// FileSource reads a JSON object of {"<checksummed address>": "<hex key>"} on
// every load, so rotated keys are picked up once the cached entry expires.
type FileSource struct {
	Path string
}

func (f FileSource) LoadKey(_ context.Context, account address.AccountAddress) (*Key, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	hexKey, ok := entries[account.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", account, ErrUnknownAccount)
	}
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, err
	}
	if key.Address() != account {
		return nil, fmt.Errorf("key file entry for %s derives %s", account, key.Address())
	}
	return key, nil
}

// Keyring caches loaded keys per account with a hard expiry. Loads go through
// a single writer lock so one account is never loaded twice concurrently.
type Keyring struct {
	source KeySource
	cache  *expirable.LRU[address.AccountAddress, *Key]
	mu     sync.Mutex
	log    zerolog.Logger
}

func NewKeyring(source KeySource, size int, ttl time.Duration, log zerolog.Logger) *Keyring {
	if size <= 0 {
		size = 64
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	kr := &Keyring{source: source, log: log.With().Str("component", "keyring").Logger()}
	kr.cache = expirable.NewLRU[address.AccountAddress, *Key](size, func(a address.AccountAddress, _ *Key) {
		kr.log.Debug().Str("account", a.String()).Msg("signing key evicted")
	}, ttl)
	return kr
}

// Signer returns the signer for account, loading it on a cache miss.
func (k *Keyring) Signer(ctx context.Context, account address.AccountAddress) (invoke.Signer, error) {
	if key, ok := k.cache.Get(account); ok {
		return key, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.cache.Get(account); ok {
		return key, nil
	}
	key, err := k.source.LoadKey(ctx, account)
	if err != nil {
		return nil, err
	}
	k.cache.Add(account, key)
	return key, nil
}

// Forget drops a cached key, e.g. after the source reports a rotation.
func (k *Keyring) Forget(account address.AccountAddress) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cache.Remove(account)
}

func (k *Keyring) Len() int { return k.cache.Len() }
