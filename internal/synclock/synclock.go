// Package synclock implements the per-connection mutual exclusion that
// guarantees at most one in-flight synchronization per connection, across
// scheduled and manual triggers.
//
// Leases are process-local and lease-based: a holder that crashes without
// releasing is healed when the TTL passes, so a stuck connection never
// blocks future syncs permanently. The lock is ephemeral state, not a
// source of truth.
package synclock

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/google/uuid"
)

type lease struct {
	holder    string
	expiresAt time.Time
}

// Store is a keyed lease store. The zero value is not usable; use New.
type Store struct {
	mu     sync.Mutex
	leases map[string]lease
	ttl    time.Duration
	now    func() time.Time
}

// New creates a lease store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		leases: make(map[string]lease),
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewWithClock creates a lease store with a custom clock, for tests.
func NewWithClock(ttl time.Duration, now func() time.Time) *Store {
	s := New(ttl)
	s.now = now
	return s
}

// Acquire attempts to take the lease for connectionID without blocking.
// It returns a release function on success, or *domain.ErrSyncInProgress
// if the lease is held and not expired. An expired lease is reclaimed.
func (s *Store) Acquire(connectionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.leases[connectionID]; ok && now.Before(l.expiresAt) {
		return nil, &domain.ErrSyncInProgress{ConnectionID: connectionID}
	}

	holder := uuid.New().String()
	s.leases[connectionID] = lease{holder: holder, expiresAt: now.Add(s.ttl)}

	return func() { s.release(connectionID, holder) }, nil
}

// AcquireWait polls until the lease for connectionID frees, the current
// holder's TTL passes, or ctx is done. Used by disconnect, which must not
// race an in-flight sync but also must not wait forever: after one full
// TTL the old lease is expired and taken over.
func (s *Store) AcquireWait(ctx context.Context, connectionID string) (func(), error) {
	deadline := s.now().Add(s.ttl)
	for {
		release, err := s.Acquire(connectionID)
		if err == nil {
			return release, nil
		}
		if !s.now().Before(deadline) {
			// TTL elapsed; the holder lease must have expired by now.
			return s.Acquire(connectionID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Held reports whether a live lease exists for connectionID.
func (s *Store) Held(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[connectionID]
	return ok && s.now().Before(l.expiresAt)
}

// release drops the lease only if holder still owns it, so a release
// arriving after TTL takeover cannot drop the new holder's lease.
func (s *Store) release(connectionID, holder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[connectionID]; ok && l.holder == holder {
		delete(s.leases, connectionID)
	}
}
