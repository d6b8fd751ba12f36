package tables

import (
	"context"
	"time"

	"go.uber.org/zap"

	"taskportal/internal/repository"
	"taskportal/internal/shard"
)

// Service 管理项目专属表：建表、种子复制、阶段同步和拆除。
// 同一项目的所有写操作都在项目锁内执行。
type Service struct {
	store  repository.Store
	locker repository.Locker
	roles  []string
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store repository.Store, locker repository.Locker, roles []string, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		locker: locker,
		roles:  append([]string(nil), roles...),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ProjectTables resolveProjectTables 的结果
type ProjectTables struct {
	Key    shard.TableKey
	Tasks  shard.Table
	Stages shard.Table
}

// ProvisionResult ProvisionAndSeed 的结果
type ProvisionResult struct {
	ProjectID string          `json:"project_id"`
	Created   bool            `json:"created"`
	Seed      SeedResult      `json:"seed"`
	Stages    StageSyncResult `json:"stages"`
}

// withProjectLock 规范化项目 ID 后在项目锁内执行 fn
func (s *Service) withProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context, key shard.TableKey) error) (shard.TableKey, error) {
	key, err := shard.Normalize(projectID)
	if err != nil {
		return shard.TableKey{}, err
	}
	err = s.locker.WithLock(ctx, key.LockName(), func(ctx context.Context) error {
		return fn(ctx, key)
	})
	return key, err
}

// ProvisionAndSeed 在一次加锁内完成建表、种子复制和阶段同步
func (s *Service) ProvisionAndSeed(ctx context.Context, projectID string, taskIDs []string) (ProvisionResult, error) {
	var result ProvisionResult
	key, err := s.withProjectLock(ctx, projectID, func(ctx context.Context, key shard.TableKey) error {
		created, err := s.ensureLocked(ctx, key)
		if err != nil {
			return err
		}
		result.Created = created

		seed, err := s.seedLocked(ctx, key, taskIDs)
		if err != nil {
			return err
		}
		result.Seed = seed

		synced, err := s.syncStagesLocked(ctx, key)
		if err != nil {
			return err
		}
		result.Stages = synced
		return nil
	})
	result.ProjectID = key.ProjectID()
	return result, err
}
