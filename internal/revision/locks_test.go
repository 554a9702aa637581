package revision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIdentityLocks_Exclusive(t *testing.T) {
	t.Parallel()
	l := newIdentityLocks()
	id := uuid.New()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		inside int
		peak   int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.lock(context.Background(), id)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			peak = max(peak, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("peak holders = %d, want 1", peak)
	}
	if n := l.size(); n != 0 {
		t.Errorf("size after release = %d, want 0", n)
	}
}

func TestIdentityLocks_Independent(t *testing.T) {
	t.Parallel()
	l := newIdentityLocks()

	unlockA, err := l.lock(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.lock(ctx, uuid.New())
	if err != nil {
		t.Fatalf("lock b while a is held: %v", err)
	}
	unlockB()

	if n := l.size(); n != 1 {
		t.Errorf("size = %d, want 1", n)
	}
}

func TestIdentityLocks_ContextDone(t *testing.T) {
	t.Parallel()
	l := newIdentityLocks()
	id := uuid.New()

	unlock, err := l.lock(context.Background(), id)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.lock(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiting lock err = %v, want DeadlineExceeded", err)
	}
	if n := l.size(); n != 1 {
		t.Errorf("size with one holder = %d, want 1", n)
	}

	unlock()
	if n := l.size(); n != 0 {
		t.Errorf("size after release = %d, want 0", n)
	}
}

func TestResolveLatest(t *testing.T) {
	t.Parallel()
	a, b := uuid.New(), uuid.New()
	rows := []AudioRevision{
		{ID: a, Version: 2},
		{ID: b, Version: 1},
		{ID: a, Version: 3},
		{ID: a, Version: 1},
	}
	got := resolveLatest(rows)
	if len(got) != 2 {
		t.Fatalf("resolved %d identities, want 2", len(got))
	}
	if got[a].Version != 3 || got[b].Version != 1 {
		t.Errorf("latest a=%d b=%d, want 3 and 1", got[a].Version, got[b].Version)
	}
}
