package handlers

import (
	"sync"
	"testing"
	"time"
)

func TestIdempotencyStoreReservesOnce(t *testing.T) {
	store := newIdempotencyStore(time.Hour)

	if _, reserved := store.Reserve("key-1", 7); !reserved {
		t.Fatalf("expected first reservation to succeed")
	}
	entry, reserved := store.Reserve("key-1", 7)
	if reserved || !entry.Pending() {
		t.Fatalf("expected pending entry for second caller, got reserved=%v entry=%+v", reserved, entry)
	}

	store.Complete("key-1", "job-1")
	entry, reserved = store.Reserve("key-1", 7)
	if reserved || entry.Pending() || entry.JobID != "job-1" {
		t.Fatalf("expected completed entry, got reserved=%v entry=%+v", reserved, entry)
	}
}

func TestIdempotencyStoreConcurrentReserve(t *testing.T) {
	store := newIdempotencyStore(time.Hour)

	const callers = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		start = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, reserved := store.Reserve("shared", 42); reserved {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one reservation, got %d", wins)
	}
}

func TestIdempotencyStoreReleaseAllowsRetry(t *testing.T) {
	store := newIdempotencyStore(time.Hour)

	store.Reserve("key-2", 1)
	store.Release("key-2")
	if _, reserved := store.Reserve("key-2", 1); !reserved {
		t.Fatalf("expected key to be reservable after release")
	}

	store.Complete("key-2", "job-2")
	store.Release("key-2")
	if entry, reserved := store.Reserve("key-2", 1); reserved || entry.JobID != "job-2" {
		t.Fatalf("release must not drop a completed entry, got reserved=%v entry=%+v", reserved, entry)
	}
}

func TestIdempotencyStoreExpiresEntries(t *testing.T) {
	store := newIdempotencyStore(time.Minute)
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	store.Reserve("key-3", 1)
	store.Complete("key-3", "job-3")

	current = current.Add(2 * time.Minute)
	if _, reserved := store.Reserve("key-3", 1); !reserved {
		t.Fatalf("expected expired key to be reservable again")
	}
}
