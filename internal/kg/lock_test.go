package kg

import (
	"sync"
	"testing"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

func TestMemoryLock(t *testing.T) {
	lock := NewMemoryLock()

	if !lock.Acquire("conv-1") {
		t.Fatalf("first acquire must succeed")
	}
	if lock.Acquire("conv-1") {
		t.Fatalf("second acquire on a held conversation must fail")
	}
	if !lock.Acquire("conv-2") {
		t.Fatalf("other conversations are independent")
	}

	lock.Release("conv-1")
	if !lock.Acquire("conv-1") {
		t.Fatalf("acquire after release must succeed")
	}

	if lock.Acquire("") {
		t.Fatalf("empty conversation id must never lock")
	}
	// Releasing an unheld lock is a no-op.
	lock.Release("conv-404")
}

func TestMemoryLockUnderContention(t *testing.T) {
	lock := NewMemoryLock()
	const workers = 32

	var wg sync.WaitGroup
	wins := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lock.Acquire("conv-1") {
				wins <- 1
			}
		}()
	}
	wg.Wait()
	close(wins)

	total := 0
	for range wins {
		total++
	}
	if total != 1 {
		t.Fatalf("exactly one worker must win the lock, got %d", total)
	}
}

func TestIdempotencyStoreOnlyTrustsTerminalResults(t *testing.T) {
	store := NewIdempotencyStore()
	key := IdempotencyKey("conv-1", "turn-1")

	store.Put(key, &domain.TurnResult{Commit: domain.CommitInfo{Status: domain.StateCommitting}})
	if store.Get(key) != nil {
		t.Fatalf("non-terminal results must not be cached")
	}

	terminal := &domain.TurnResult{OK: true, Commit: domain.CommitInfo{Status: domain.StateCommitted}}
	store.Put(key, terminal)
	if got := store.Get(key); got != terminal {
		t.Fatalf("terminal result not returned")
	}
	if store.Get(IdempotencyKey("conv-1", "turn-2")) != nil {
		t.Fatalf("unknown key must miss")
	}
}
