package billing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/palisade-ai/palisade/engine/core"
)

// Entry is one billable model invocation. Entries are written only for
// requests that completed successfully; denials and failures cost nothing.
type Entry struct {
	RequestID string
	UserID    string
	Scope     core.Scope
	ModelID   string
	Tokens    int
	Cost      decimal.Decimal
	Timestamp time.Time
}

// Ledger records billable usage and answers aggregation queries.
type Ledger interface {
	Record(ctx context.Context, entry Entry) error
	TotalByUser(ctx context.Context, userID string) (decimal.Decimal, error)
	TotalByDivision(ctx context.Context, divisionID string) (decimal.Decimal, error)
	TotalByModel(ctx context.Context, modelID string) (decimal.Decimal, error)
}

// MemoryLedger is an in-memory ledger with running aggregates.
type MemoryLedger struct {
	mu         sync.RWMutex
	entries    []Entry
	byUser     map[string]decimal.Decimal
	byDivision map[string]decimal.Decimal
	byModel    map[string]decimal.Decimal
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byUser:     make(map[string]decimal.Decimal),
		byDivision: make(map[string]decimal.Decimal),
		byModel:    make(map[string]decimal.Decimal),
	}
}

func (l *MemoryLedger) Record(_ context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	l.byUser[entry.UserID] = l.byUser[entry.UserID].Add(entry.Cost)
	l.byDivision[entry.Scope.DivisionID] = l.byDivision[entry.Scope.DivisionID].Add(entry.Cost)
	l.byModel[entry.ModelID] = l.byModel[entry.ModelID].Add(entry.Cost)
	return nil
}

func (l *MemoryLedger) TotalByUser(_ context.Context, userID string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byUser[userID], nil
}

func (l *MemoryLedger) TotalByDivision(_ context.Context, divisionID string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byDivision[divisionID], nil
}

func (l *MemoryLedger) TotalByModel(_ context.Context, modelID string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byModel[modelID], nil
}

// Entries returns a copy of every recorded entry in insertion order.
func (l *MemoryLedger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
