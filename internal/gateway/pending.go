package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilbet/darkmarket/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// PendingTable — correlation-id-keyed outstanding computations
// ──────────────────────────────────────────────────────────────────────────────

// Pending is one outstanding computation: enough context to validate the
// matching callback and attribute it to the original caller.
type Pending struct {
	CorrelationID uint64
	Kind          Kind
	MarketID      uint64
	BetID         uint64
	Caller        uuid.UUID
	SubmittedAt   time.Time
}

// PendingTable tracks in-flight computations by correlation id. An id is
// added exactly once per flight and removed exactly once on terminal
// delivery; reuse while in flight and delivery without a matching entry are
// both protocol errors.
type PendingTable struct {
	mu      sync.Mutex
	entries map[uint64]*Pending
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint64]*Pending)}
}

// Add registers an outstanding computation. Returns ErrDuplicateComputation
// when the correlation id is already in flight.
func (t *PendingTable) Add(p *Pending) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[p.CorrelationID]; exists {
		return domain.ErrDuplicateComputation
	}
	t.entries[p.CorrelationID] = p
	return nil
}

// Take removes and returns the entry for a correlation id. Returns
// ErrUnknownComputation when no matching request is outstanding, so a
// duplicate or orphaned callback can never match twice.
func (t *PendingTable) Take(correlationID uint64) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, exists := t.entries[correlationID]
	if !exists {
		return nil, domain.ErrUnknownComputation
	}
	delete(t.entries, correlationID)
	return p, nil
}

// Len returns the number of outstanding computations.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Overdue returns copies of entries submitted more than age ago. The cluster
// promises no deadline, so overdue entries are reported, never cancelled.
func (t *PendingTable) Overdue(now time.Time, age time.Duration) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Pending
	for _, p := range t.entries {
		if now.Sub(p.SubmittedAt) > age {
			out = append(out, *p)
		}
	}
	return out
}
