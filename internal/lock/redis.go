package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/pkg/metrics"
)

// release only deletes the key if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renew only extends the lease while the key still holds our token
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var errLockHeld = errors.New("lock held")

// Redis is a lease-based lock shared by every process using the same Redis.
// The lease ttl bounds how long a crashed holder blocks others; a live holder
// renews it every ttl/3 until fn returns.
type Redis struct {
	rdb        *redis.Client
	ttl        time.Duration
	renewEvery time.Duration
	maxWait    time.Duration
	logger     *zap.Logger
}

func NewRedis(rdb *redis.Client, ttl, maxWait time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	renewEvery := ttl / 3
	if renewEvery <= 0 {
		renewEvery = ttl
	}
	return &Redis{rdb: rdb, ttl: ttl, renewEvery: renewEvery, maxWait: maxWait, logger: logger}
}

func lockKey(name string) string {
	return "lock:" + name
}

func (r *Redis) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	key := lockKey(name)
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = r.maxWait

	err := backoff.Retry(func() error {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err))
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return fmt.Errorf("acquire lock %s: %w", name, model.ErrProvisioningConflict)
		}
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	metrics.RecordLockWait("redis", time.Since(start))
	r.logger.Debug("Redis lock acquired", zap.String("lock", name))

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.rdb, []string{key}, token).Err(); err != nil {
			r.logger.Warn("Failed to release redis lock, lease will expire",
				zap.String("lock", name),
				zap.Duration("ttl", r.ttl),
				zap.Error(err),
			)
		}
	}()

	fnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.keepAlive(fnCtx, name, key, token, done, cancel)
	}()
	defer func() {
		close(done)
		<-stopped
		cancel()
	}()

	return fn(fnCtx)
}

// keepAlive 定期续租；租约丢失时取消 fn 的 context
func (r *Redis) keepAlive(ctx context.Context, name, key, token string, done <-chan struct{}, lost context.CancelFunc) {
	ticker := time.NewTicker(r.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := renewScript.Run(ctx, r.rdb, []string{key}, token, r.ttl.Milliseconds()).Int()
		if err != nil {
			// transient; the lease still has up to two thirds of its ttl left
			r.logger.Warn("Failed to renew redis lock",
				zap.String("lock", name),
				zap.Error(err),
			)
			continue
		}
		if ok == 0 {
			r.logger.Error("Redis lock lease lost, cancelling holder",
				zap.String("lock", name),
				zap.Duration("ttl", r.ttl),
			)
			lost()
			return
		}
	}
}
