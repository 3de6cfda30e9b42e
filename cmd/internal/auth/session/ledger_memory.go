package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger. Entries do not survive restarts.
type MemoryLedger struct {
	mu      sync.Mutex
	byID    map[string]Entry
	byValue map[string]string
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byID:    make(map[string]Entry),
		byValue: make(map[string]string),
	}
}

// Get returns the live entry for principalID or ErrEntryNotFound.
func (l *MemoryLedger) Get(ctx context.Context, principalID string, now time.Time) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[principalID]
	if !ok || !e.Live(now) {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

// GetByValue returns the live entry holding value or ErrEntryNotFound.
func (l *MemoryLedger) GetByValue(ctx context.Context, value string, now time.Time) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.byValue[value]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	e, ok := l.byID[id]
	if !ok || e.Value != value || !e.Live(now) {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

// Put stores value for principalID unless a live entry already exists.
func (l *MemoryLedger) Put(ctx context.Context, principalID, value string, ttl time.Duration, now time.Time) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if !validPut(principalID, value, ttl) {
		return Entry{}, false, fmt.Errorf("session: ledger put: invalid entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.byID[principalID]; ok {
		if cur.Live(now) {
			return cur, false, nil
		}
		delete(l.byValue, cur.Value)
	}

	e := newEntry(principalID, value, ttl, now)
	l.byID[principalID] = e
	l.byValue[value] = principalID
	return e, true, nil
}

// Delete removes the principal's entry. A missing entry is not an error.
func (l *MemoryLedger) Delete(ctx context.Context, principalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.byID[principalID]; ok {
		delete(l.byValue, e.Value)
		delete(l.byID, principalID)
	}
	return nil
}

// PurgeExpired drops entries expired at now and returns how many it removed.
func (l *MemoryLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for id, e := range l.byID {
		if !e.Live(now) {
			delete(l.byValue, e.Value)
			delete(l.byID, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, live or not.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}
