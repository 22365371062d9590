package idempotency

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if e, _ := store.Get(ctx, "missing"); e != nil {
		t.Fatalf("expected nil for missing key")
	}

	entry := Entry{
		Fingerprint: "fp-1",
		Status:      StatusConfirmed,
		TxHash:      "0xabc",
		Attempts:    2,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	key := Key("0x01", "release")
	if err := store.Save(ctx, key, entry); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := store.Get(ctx, key)
	if got == nil || got.TxHash != "0xabc" || got.Attempts != 2 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	if err := store.Save(ctx, "done", Entry{Status: StatusConfirmed, ExpiresAt: past}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "inflight", Entry{Status: StatusPending, ExpiresAt: past}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if e, _ := store.Get(ctx, "done"); e != nil {
		t.Fatalf("expired confirmed entry should be gone: %+v", e)
	}
	if e, _ := store.Get(ctx, "inflight"); e == nil {
		t.Fatalf("pending entry must survive expiry")
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	entry := Entry{
		Fingerprint: "fp",
		Status:      StatusPending,
		Envelope:    []byte{0x01, 0x02},
		Signature:   []byte{0x03},
		CreatedAt:   time.Unix(0, 0),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := store.Save(ctx, "key", entry); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, "key")
	if got == nil || string(got.Envelope) != string([]byte{0x01, 0x02}) || got.Status != StatusPending {
		t.Fatalf("unexpected entry: %+v", got)
	}
}
