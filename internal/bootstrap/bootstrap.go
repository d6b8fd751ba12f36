// Package bootstrap 组装 server 和 shardctl 共用的存储、锁和服务依赖
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskportal/internal/lock"
	"taskportal/internal/repository"
	"taskportal/internal/repository/postgres"
	"taskportal/internal/service/dedup"
	"taskportal/pkg/config"
	"taskportal/pkg/db"
	"taskportal/pkg/redis"
)

// Deps 进程级依赖，Close 释放连接
type Deps struct {
	Pool   *pgxpool.Pool
	Store  *postgres.Store
	Redis  *goredis.Client
	Locker repository.Locker
}

// Open 连接数据库、确保元数据表存在并选择锁实现。
// needRedis 为 false 且锁后端不是 redis 时不连接 Redis
func Open(ctx context.Context, cfg *config.Config, needRedis bool, logger *zap.Logger) (*Deps, error) {
	pool, err := db.NewConnection(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	d := &Deps{Pool: pool}

	d.Store = postgres.NewStore(pool, logger)
	if err := d.Store.EnsureSchema(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	if needRedis || cfg.Lock.Backend == "redis" {
		d.Redis, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			d.Close()
			return nil, err
		}
		logger.Info("Redis ready", zap.String("addr", cfg.Redis.Addr))
	}

	d.Locker, err = NewLocker(cfg.Lock, pool, d.Redis, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}

// NewLocker 按配置选择项目表锁：postgres（默认）、redis 或 local
func NewLocker(cfg config.LockConfig, pool *pgxpool.Pool, rdb *goredis.Client, logger *zap.Logger) (repository.Locker, error) {
	switch cfg.Backend {
	case "", "postgres":
		if pool == nil {
			return nil, fmt.Errorf("lock backend postgres requires a database pool")
		}
		return lock.NewPostgres(pool, logger), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("lock backend redis requires a redis client")
		}
		return lock.NewRedis(rdb, cfg.TTL, cfg.MaxWait, logger), nil
	case "local":
		logger.Warn("Using in-process lock; concurrent processes are not serialized")
		return lock.NewLocal(), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
}

// MaintenanceDefaults 把配置中的字符串解析为去重选项
func MaintenanceDefaults(cfg config.MaintenanceConfig) (dedup.MaintenanceOptions, error) {
	key, err := dedup.ParseGroupKey(cfg.GroupKey)
	if err != nil {
		return dedup.MaintenanceOptions{}, err
	}
	strategy, err := dedup.ParseStrategy(cfg.Strategy)
	if err != nil {
		return dedup.MaintenanceOptions{}, err
	}
	disposition, err := dedup.ParseDisposition(cfg.Disposition)
	if err != nil {
		return dedup.MaintenanceOptions{}, err
	}
	return dedup.MaintenanceOptions{
		GroupKey:    key,
		Strategy:    strategy,
		Disposition: disposition,
		DryRun:      cfg.DryRun,
	}, nil
}
