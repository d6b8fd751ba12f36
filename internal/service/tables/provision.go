package tables

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/internal/shard"
	"taskportal/pkg/metrics"
)

// EnsureProjectTables 确保项目的 tasks/stages 专属表存在并已授权，可重复调用
func (s *Service) EnsureProjectTables(ctx context.Context, projectID string) (shard.TableKey, error) {
	return s.withProjectLock(ctx, projectID, func(ctx context.Context, key shard.TableKey) error {
		_, err := s.ensureLocked(ctx, key)
		return err
	})
}

// ensureLocked 调用方持有项目锁。返回本次是否新建了表
func (s *Service) ensureLocked(ctx context.Context, key shard.TableKey) (bool, error) {
	s.logger.Debug("Ensuring project tables", zap.String("project_id", key.ProjectID()))

	createdAny := false
	for _, t := range []shard.Table{key.Tasks(), key.Stages()} {
		created, err := s.createTable(ctx, t)
		if err != nil {
			metrics.IncrementProvision("failed")
			s.logger.Error("Failed to create project table",
				zap.String("project_id", key.ProjectID()),
				zap.String("table", t.Name()),
				zap.Error(err),
			)
			return false, err
		}
		createdAny = createdAny || created

		// GRANT 和策略都是幂等的，每次都重新应用以修复上次中断的授权
		if err := s.store.GrantAccess(ctx, t, s.roles); err != nil {
			metrics.IncrementProvision("failed")
			s.logger.Error("Failed to grant access on project table",
				zap.String("table", t.Name()),
				zap.Strings("roles", s.roles),
				zap.Error(err),
			)
			return false, fmt.Errorf("failed to grant access on %s: %w", t, err)
		}
	}

	if createdAny {
		metrics.IncrementProvision("created")
		s.logger.Info("Project tables provisioned",
			zap.String("project_id", key.ProjectID()),
			zap.String("tasks_table", key.Tasks().Name()),
			zap.String("stages_table", key.Stages().Name()),
		)
	} else {
		metrics.IncrementProvision("existing")
		s.logger.Debug("Project tables already provisioned", zap.String("project_id", key.ProjectID()))
	}
	return createdAny, nil
}

// createTable 并发建表冲突时重新检查一次：表已存在即视为成功
func (s *Service) createTable(ctx context.Context, t shard.Table) (bool, error) {
	created, err := s.store.CreateTableLike(ctx, t)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, model.ErrProvisioningConflict) {
		return false, fmt.Errorf("failed to create %s: %w", t, err)
	}

	exists, checkErr := s.store.TableExists(ctx, t)
	if checkErr != nil {
		return false, fmt.Errorf("failed to re-check %s after conflict: %w", t, checkErr)
	}
	if !exists {
		return false, fmt.Errorf("failed to create %s: %w", t, err)
	}
	s.logger.Info("Project table created concurrently", zap.String("table", t.Name()))
	return false, nil
}

// ResolveProjectTables 查找项目专属表，未创建时返回 ErrNotProvisioned
func (s *Service) ResolveProjectTables(ctx context.Context, projectID string) (ProjectTables, error) {
	key, err := shard.Normalize(projectID)
	if err != nil {
		return ProjectTables{}, err
	}
	if err := s.requireTables(ctx, key, model.ErrNotProvisioned); err != nil {
		return ProjectTables{}, err
	}
	return ProjectTables{Key: key, Tasks: key.Tasks(), Stages: key.Stages()}, nil
}

// requireTables 两张表都存在才返回 nil，否则返回 missing
func (s *Service) requireTables(ctx context.Context, key shard.TableKey, missing error) error {
	for _, t := range []shard.Table{key.Tasks(), key.Stages()} {
		exists, err := s.store.TableExists(ctx, t)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", t, err)
		}
		if !exists {
			return fmt.Errorf("project %s: %w", key.ProjectID(), missing)
		}
	}
	return nil
}

// ListProvisioned 返回所有已创建专属表的项目
func (s *Service) ListProvisioned(ctx context.Context) ([]shard.TableKey, error) {
	keys, err := s.store.ListProjectTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list project tables: %w", err)
	}
	return keys, nil
}
