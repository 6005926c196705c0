// Package distlock provides a best-effort lock shared by gateway replicas so
// that periodic jobs run on one replica at a time.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is held by at most one owner at a time. A Lock value represents one
// owner and is not meant for concurrent use.
type Lock interface {
	// Acquire tries once and reports whether the lock is now held.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if it is still held by this owner.
	Release(ctx context.Context) error
}

// New picks the strongest available backend: Redis, then a PostgreSQL
// advisory lock, then an in-process lock that only excludes this replica.
func New(rdb *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	switch {
	case rdb != nil:
		return NewRedisLock(rdb, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return NewLocalLock(key)
	}
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a
// session, so the connection that acquired the lock is kept until Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return true, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("reserving connection for advisory lock: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&ok); err != nil {
		conn.Close()
		return false, fmt.Errorf("acquiring advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID); err != nil {
		return fmt.Errorf("releasing advisory lock: %w", err)
	}
	return nil
}

var (
	localMu   sync.Mutex
	localHeld = map[string]bool{}
)

// LocalLock excludes other owners of the same key in this process only.
type LocalLock struct {
	key  string
	held bool
}

func NewLocalLock(key string) *LocalLock { return &LocalLock{key: key} }

func (l *LocalLock) Acquire(context.Context) (bool, error) {
	localMu.Lock()
	defer localMu.Unlock()
	if l.held {
		return true, nil
	}
	if localHeld[l.key] {
		return false, nil
	}
	localHeld[l.key] = true
	l.held = true
	return true, nil
}

func (l *LocalLock) Release(context.Context) error {
	localMu.Lock()
	defer localMu.Unlock()
	if l.held {
		delete(localHeld, l.key)
		l.held = false
	}
	return nil
}
