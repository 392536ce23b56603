package postgresengine

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

const (
	tryAdvisoryLockSQL = "SELECT pg_try_advisory_lock($1)"
	advisoryUnlockSQL  = "SELECT pg_advisory_unlock($1)"
)

// ErrAcquiringLockFailed wraps storage faults while attempting a lock.
var ErrAcquiringLockFailed = errors.New("failed to attempt advisory lock")

// AdvisoryLock implements bookmark.Lock with Postgres session advisory
// locks. Each owned bookmark name pins one pool connection; that connection
// IS the lock session, so losing it releases the lock on the server side.
type AdvisoryLock struct {
	pool   *pgxpool.Pool
	logger eventstore.Logger

	mu   sync.Mutex
	held map[string]*pgxpool.Conn
}

// LockOption defines a functional option for configuring AdvisoryLock.
type LockOption func(*AdvisoryLock) error

// WithLockLogger sets the logger for the AdvisoryLock.
func WithLockLogger(logger eventstore.Logger) LockOption {
	return func(l *AdvisoryLock) error {
		l.logger = logger
		return nil
	}
}

// NewAdvisoryLock creates a lock session backed by the given pool.
func NewAdvisoryLock(pool *pgxpool.Pool, options ...LockOption) (*AdvisoryLock, error) {
	if pool == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	l := &AdvisoryLock{
		pool: pool,
		held: make(map[string]*pgxpool.Conn),
	}

	for _, option := range options {
		if err := option(l); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// TryLock makes a non-blocking attempt to own the given bookmark name.
// Re-locking a name this session already owns reports true.
func (l *AdvisoryLock) TryLock(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, owned := l.held[name]; owned {
		return true, nil
	}

	conn, acquireErr := l.pool.Acquire(ctx)
	if acquireErr != nil {
		return false, errors.Join(ErrAcquiringLockFailed, acquireErr)
	}

	var acquired bool
	if scanErr := conn.QueryRow(ctx, tryAdvisoryLockSQL, lockKeyFor(name)).Scan(&acquired); scanErr != nil {
		conn.Release()
		return false, errors.Join(ErrAcquiringLockFailed, scanErr)
	}

	if !acquired {
		conn.Release()

		if l.logger != nil {
			l.logger.Debug("bookmark lock held elsewhere", "bookmark", name)
		}

		return false, nil
	}

	l.held[name] = conn

	return true, nil
}

// Close releases all locks held by this session and returns their
// connections to the pool. Idempotent.
func (l *AdvisoryLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, conn := range l.held {
		// Explicit unlock keeps the pooled connection reusable; if it fails
		// the release below still severs the session on connection close.
		if _, unlockErr := conn.Exec(context.Background(), advisoryUnlockSQL, lockKeyFor(name)); unlockErr != nil {
			if l.logger != nil {
				l.logger.Warn("failed to release advisory lock", "bookmark", name, "error", unlockErr.Error())
			}
		}

		conn.Release()
		delete(l.held, name)
	}

	return nil
}

// lockKeyFor hashes a bookmark name into the bigint keyspace of Postgres
// advisory locks.
func lockKeyFor(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))

	return int64(h.Sum64()) //nolint:gosec // deliberate wrap-around into the signed keyspace
}

// Ensure the adapters satisfy the bookmark ports.
var (
	_ bookmark.Lock  = (*AdvisoryLock)(nil)
	_ bookmark.Store = (*Store)(nil)
)
