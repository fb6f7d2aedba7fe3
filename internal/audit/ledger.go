package audit

import "sync"

// Ledger keeps an in-memory copy of records for quick inspection and tests.
type Ledger struct {
	mu   sync.Mutex
	recs []Record
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{recs: make([]Record, 0, capacity)}
}

// Append stores a record. It never fails; the error return satisfies Sink.
func (l *Ledger) Append(rec Record) error {
	l.mu.Lock()
	l.recs = append(l.recs, rec)
	l.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the recorded trail.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.recs))
	copy(out, l.recs)
	return out
}

// Reset clears all stored records.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.recs = l.recs[:0]
	l.mu.Unlock()
}
