package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/pkg/metrics"
)

// Postgres holds a session-level advisory lock on a dedicated pooled
// connection for the duration of fn.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

func (p *Postgres) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for lock %s: %w: %w", name, model.ErrStoreUnavailable, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, name); err != nil {
		return fmt.Errorf("advisory lock %s: %w: %w", name, model.ErrStoreUnavailable, err)
	}
	metrics.RecordLockWait("postgres", time.Since(start))
	p.logger.Debug("Advisory lock acquired", zap.String("lock", name))

	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, name); err != nil {
			// a connection still holding the lock must not go back to the pool
			p.logger.Error("Failed to release advisory lock, closing connection",
				zap.String("lock", name),
				zap.Error(err),
			)
			_ = conn.Conn().Close(unlockCtx)
			return
		}
		p.logger.Debug("Advisory lock released", zap.String("lock", name))
	}()

	return fn(ctx)
}
