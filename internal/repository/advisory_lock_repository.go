package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// AdvisoryLockRepository serializes fleet-wide work through Postgres advisory
// locks. Acquire is non-blocking; an unacquired lock means another process is
// already doing the work and is never an error. Session locks are released by
// the server if the connection dies, so a crashed sweep cannot deadlock the
// fleet.
type AdvisoryLockRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewAdvisoryLockRepository constructs the coordinator.
func NewAdvisoryLockRepository(db *sqlx.DB, logger *zap.Logger) *AdvisoryLockRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisoryLockRepository{db: db, logger: logger}
}

// WithLock runs task while holding the named lock. It returns acquired=false
// immediately when someone else holds it. The lock is released unconditionally
// after task, and any task error is returned after release.
func (r *AdvisoryLockRepository) WithLock(ctx context.Context, name string, task func(context.Context) error) (bool, error) {
	lockName := strings.TrimSpace(name)
	if lockName == "" {
		return false, nil
	}
	key := LockKey(lockName)

	// Session-level advisory locks belong to one connection; acquire and
	// release must happen on the same one.
	conn, err := r.db.Connx(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	var acquired bool
	if err := conn.GetContext(ctx, &acquired, `SELECT pg_try_advisory_lock($1)`, key); err != nil {
		return false, fmt.Errorf("try advisory lock %s: %w", lockName, err)
	}
	if !acquired {
		return false, nil
	}

	taskErr := task(ctx)

	var released bool
	if err := conn.GetContext(context.WithoutCancel(ctx), &released, `SELECT pg_advisory_unlock($1)`, key); err != nil {
		r.logger.Sugar().Warnw("advisory lock release failed", "lock", lockName, "error", err)
	}

	return true, taskErr
}

// LockKey hashes a lock name into the bigint keyspace Postgres advisory locks
// use. FNV-1a keeps the mapping stable across processes and releases.
func LockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
