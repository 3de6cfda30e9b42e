package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// runLedgerConformance exercises the Ledger contract against any backend.
// newLedger must return an empty ledger; pid prefixes keep backends that share
// storage isolated.
func runLedgerConformance(t *testing.T, newLedger func(t *testing.T) Ledger, pid func(string) string) {
	ctx := context.Background()

	t.Run("put then get", func(t *testing.T) {
		l := newLedger(t)
		id := pid("put-get")

		e, created, err := l.Put(ctx, id, id+"/value-1", time.Hour, t0)
		if err != nil || !created {
			t.Fatalf("Put: created=%v err=%v", created, err)
		}
		if !e.ExpiresAt.Equal(t0.Add(time.Hour)) {
			t.Fatalf("unexpected expiry: %v", e.ExpiresAt)
		}

		got, err := l.Get(ctx, id, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Value != id+"/value-1" || got.PrincipalID != id {
			t.Fatalf("unexpected entry: %+v", got)
		}

		byVal, err := l.GetByValue(ctx, id+"/value-1", t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("GetByValue: %v", err)
		}
		if byVal.PrincipalID != id {
			t.Fatalf("unexpected principal: %q", byVal.PrincipalID)
		}
	})

	t.Run("put keeps live entry", func(t *testing.T) {
		l := newLedger(t)
		id := pid("keep")

		if _, _, err := l.Put(ctx, id, id+"/first", time.Hour, t0); err != nil {
			t.Fatalf("Put: %v", err)
		}
		e, created, err := l.Put(ctx, id, id+"/second", time.Hour, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("Put 2: %v", err)
		}
		if created || e.Value != id+"/first" {
			t.Fatalf("expected existing entry, got created=%v value=%q", created, e.Value)
		}
		if _, err := l.GetByValue(ctx, id+"/second", t0.Add(time.Minute)); !errors.Is(err, ErrEntryNotFound) {
			t.Fatalf("losing value must not resolve, got %v", err)
		}
	})

	t.Run("expired entries are invisible and replaceable", func(t *testing.T) {
		l := newLedger(t)
		id := pid("expire")

		if _, _, err := l.Put(ctx, id, id+"/old", time.Minute, t0); err != nil {
			t.Fatalf("Put: %v", err)
		}
		later := t0.Add(time.Minute)
		if _, err := l.Get(ctx, id, later); !errors.Is(err, ErrEntryNotFound) {
			t.Fatalf("expected expired Get to miss, got %v", err)
		}
		if _, err := l.GetByValue(ctx, id+"/old", later); !errors.Is(err, ErrEntryNotFound) {
			t.Fatalf("expected expired GetByValue to miss, got %v", err)
		}

		e, created, err := l.Put(ctx, id, id+"/new", time.Hour, later)
		if err != nil || !created || e.Value != id+"/new" {
			t.Fatalf("expected replacement, got created=%v value=%q err=%v", created, e.Value, err)
		}
		if _, err := l.GetByValue(ctx, id+"/old", later); !errors.Is(err, ErrEntryNotFound) {
			t.Fatalf("replaced value must not resolve, got %v", err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		l := newLedger(t)
		id := pid("delete")

		if _, _, err := l.Put(ctx, id, id+"/gone", time.Hour, t0); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := l.Delete(ctx, id); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := l.Delete(ctx, id); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
		if _, err := l.GetByValue(ctx, id+"/gone", t0); !errors.Is(err, ErrEntryNotFound) {
			t.Fatalf("expected miss after delete, got %v", err)
		}
	})

	t.Run("concurrent put yields one entry", func(t *testing.T) {
		l := newLedger(t)
		id := pid("race")

		const n = 12
		var wg sync.WaitGroup
		results := make([]Entry, n)
		errs := make([]error, n)
		created := make([]bool, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], created[i], errs[i] = l.Put(ctx, id, fmt.Sprintf("%s/v-%d", id, i), time.Hour, t0)
			}(i)
		}
		wg.Wait()

		winners := 0
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("Put %d: %v", i, errs[i])
			}
			if created[i] {
				winners++
			}
			if results[i].Value != results[0].Value {
				t.Fatalf("callers disagree: %q vs %q", results[i].Value, results[0].Value)
			}
		}
		if winners != 1 {
			t.Fatalf("expected one creator, got %d", winners)
		}
	})
}
