package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status of a journaled settlement attempt.
type Status string

const (
	// StatusPending means a transaction was signed and may have been
	// submitted; its outcome has not been established.
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Entry is the journal record for one (escrow id, action) pair. Envelope and
// Signature hold the exact signed bytes so a retry resubmits them unchanged.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Status      Status    `json:"status"`
	TxHash      string    `json:"txHash,omitempty"`
	Envelope    []byte    `json:"envelope,omitempty"`
	Signature   []byte    `json:"signature,omitempty"`
	ErrorKind   string    `json:"errorKind,omitempty"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store abstracts journal persistence. Get returns nil, nil for a missing or
// expired key.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Save(ctx context.Context, key string, entry Entry) error
}

// Key joins an escrow id and an action into a journal key.
func Key(escrowID, action string) string { return escrowID + "/" + action }

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Entry),
		now:  time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	if expired(entry, m.now()) {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// expired reports whether entry is past its expiry. Pending entries never
// expire: dropping one would forget a transaction that may still land.
func expired(entry Entry, now time.Time) bool {
	if entry.Status == StatusPending || entry.ExpiresAt.IsZero() {
		return false
	}
	return now.After(entry.ExpiresAt)
}

// FileStore persists the journal to one JSON file. Suitable for a single
// process; use PostgresStore when several instances share a funder.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Entry
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Entry),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.data[key]
	if !ok {
		return nil, nil
	}
	if expired(entry, time.Now()) {
		delete(f.data, key)
		_ = f.persist()
		return nil, nil
	}
	return &entry, nil
}

func (f *FileStore) Save(_ context.Context, key string, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = entry
	return f.persist()
}
