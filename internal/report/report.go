// Package report forwards settlement outcomes to the display-side metadata
// store. Nothing here is read back by the settlement path.
package report

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"rewardrails/internal/escrow"
)

// Failure is a terminal or unresolved settlement outcome surfaced for review.
type Failure struct {
	EscrowID  escrow.ID
	Action    string
	ErrorKind string
	Class     string
	Message   string
	TxHash    string
	Attempts  int
	At        time.Time
}

type Reporter interface {
	RecordEvent(ctx context.Context, ev escrow.Event) error
	RecordFailure(ctx context.Context, f Failure) error
}

// DisplayAmount renders an amount in smallest units with the given number of
// decimals, e.g. 12345 with 2 decimals is "123.45".
func DisplayAmount(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).String()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordEvent(context.Context, escrow.Event) error { return nil }
func (Nop) RecordFailure(context.Context, Failure) error    { return nil }

// Memory keeps reports in process, for tests and the devnet server.
type Memory struct {
	mu       sync.Mutex
	events   []escrow.Event
	failures []Failure
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) RecordEvent(_ context.Context, ev escrow.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) RecordFailure(_ context.Context, f Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

func (m *Memory) Events() []escrow.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]escrow.Event(nil), m.events...)
}

func (m *Memory) Failures() []Failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Failure(nil), m.failures...)
}

// Multi fans out to several reporters and returns the first error after
// trying all of them.
type Multi []Reporter

func (m Multi) RecordEvent(ctx context.Context, ev escrow.Event) error {
	var first error
	for _, r := range m {
		if err := r.RecordEvent(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) RecordFailure(ctx context.Context, f Failure) error {
	var first error
	for _, r := range m {
		if err := r.RecordFailure(ctx, f); err != nil && first == nil {
			first = err
		}
	}
	return first
}
