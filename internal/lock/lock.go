// Package lock provides a Postgres-backed advisory lock service, giving
// the execution engine a cross-process mutex keyed by pos_id. This is the
// wider of the engine's two lock levels — acquired before the in-process
// exec lock — so that two engine instances (or an engine and an
// operational tool) never act on the same position concurrently.
//
// The lock key is an MD5 hash of the string key, truncated into the
// signed 63-bit range Postgres's advisory lock functions accept. The
// derivation is stable across processes and releases, which is what
// makes the cross-process exclusion sound.
//
// Advisory locks are session-scoped, so the connection that ran
// pg_try_advisory_lock must be the one that runs pg_advisory_unlock.
// The service therefore pins a dedicated connection out of the pool for
// every key it holds and returns it only after the unlock.
package lock

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service acquires and releases Postgres advisory locks.
type Service struct {
	pool *pgxpool.Pool

	mu   sync.Mutex
	held map[int64]*pgxpool.Conn // key -> the session holding its lock
}

// New wraps an existing pgx pool.
func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool, held: make(map[int64]*pgxpool.Conn)}
}

// KeyFor derives the advisory lock key for an arbitrary string identifier
// (typically a pos_id). The hash is truncated to fit Postgres's signed
// 64-bit advisory lock key space.
func KeyFor(identifier string) int64 {
	sum := md5.Sum([]byte(identifier))
	v := binary.BigEndian.Uint64(sum[:8])
	return int64(v % (1<<63 - 1))
}

// TryAcquire attempts to take the advisory lock for identifier without
// blocking. It returns false if the lock is already held elsewhere —
// including by this service itself, which never stacks a second session
// on a key it already holds.
func (s *Service) TryAcquire(ctx context.Context, identifier string) (bool, error) {
	key := KeyFor(identifier)

	s.mu.Lock()
	if _, ours := s.held[key]; ours {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("lock: acquire connection for %q: %w", identifier, err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("lock: try advisory lock for %q: %w", identifier, err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	s.mu.Lock()
	if _, raced := s.held[key]; raced {
		// Two goroutines raced TryAcquire for the same key; Postgres
		// let both through only if they shared a session, which pinned
		// connections make impossible — but guard anyway.
		s.mu.Unlock()
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
		return false, nil
	}
	s.held[key] = conn
	s.mu.Unlock()
	return true, nil
}

// Release unlocks identifier on the same session that acquired it and
// returns that connection to the pool. Releasing a key this service
// does not hold is a no-op.
func (s *Service) Release(ctx context.Context, identifier string) error {
	key := KeyFor(identifier)

	s.mu.Lock()
	conn, ours := s.held[key]
	delete(s.held, key)
	s.mu.Unlock()

	if !ours {
		return nil
	}
	defer conn.Release()

	var released bool
	if err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released); err != nil {
		return fmt.Errorf("lock: release advisory lock for %q: %w", identifier, err)
	}
	if !released {
		return fmt.Errorf("lock: session did not hold advisory lock for %q", identifier)
	}
	return nil
}

// HeldCount reports how many keys this service currently holds, for
// tests and diagnostics.
func (s *Service) HeldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}
