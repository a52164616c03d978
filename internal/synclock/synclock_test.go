package synclock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/boddenberg/ledgerlink-go/internal/synclock"
)

func TestAcquire_SingleFlight(t *testing.T) {
	s := synclock.New(time.Minute)

	release, err := s.Acquire("conn-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	_, err = s.Acquire("conn-1")
	var inProgress *domain.ErrSyncInProgress
	if !errors.As(err, &inProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	release()

	if _, err := s.Acquire("conn-1"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestAcquire_IndependentKeys(t *testing.T) {
	s := synclock.New(time.Minute)

	if _, err := s.Acquire("conn-1"); err != nil {
		t.Fatalf("acquire conn-1: %v", err)
	}
	if _, err := s.Acquire("conn-2"); err != nil {
		t.Fatalf("acquire conn-2 should not contend with conn-1: %v", err)
	}
}

func TestAcquire_ExpiredLeaseIsReclaimed(t *testing.T) {
	now := time.Now()
	s := synclock.NewWithClock(time.Minute, func() time.Time { return now })

	if _, err := s.Acquire("conn-1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// Holder crashed; advance past the TTL.
	now = now.Add(2 * time.Minute)

	if _, err := s.Acquire("conn-1"); err != nil {
		t.Fatalf("expected expired lease to be reclaimable, got %v", err)
	}
}

func TestRelease_AfterTakeoverIsNoop(t *testing.T) {
	now := time.Now()
	s := synclock.NewWithClock(time.Minute, func() time.Time { return now })

	staleRelease, err := s.Acquire("conn-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Acquire("conn-1"); err != nil {
		t.Fatalf("takeover acquire: %v", err)
	}

	// The stale holder's release must not drop the new lease.
	staleRelease()
	if !s.Held("conn-1") {
		t.Fatal("stale release dropped the new holder's lease")
	}
}

func TestAcquire_ConcurrentOnlyOneWins(t *testing.T) {
	s := synclock.New(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Acquire("conn-1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
}

func TestAcquireWait_WaitsForRelease(t *testing.T) {
	s := synclock.New(time.Minute)

	release, err := s.Acquire("conn-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := s.AcquireWait(ctx, "conn-1"); err != nil {
		t.Fatalf("AcquireWait should succeed once the lease frees: %v", err)
	}
}

func TestAcquireWait_RespectsContext(t *testing.T) {
	s := synclock.New(time.Minute)

	if _, err := s.Acquire("conn-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := s.AcquireWait(ctx, "conn-1"); err == nil {
		t.Fatal("expected context deadline error")
	}
}
