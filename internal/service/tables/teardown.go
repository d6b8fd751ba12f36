package tables

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taskportal/internal/shard"
	"taskportal/pkg/metrics"
)

// TeardownProject 撤销授权并删除项目专属表，表不存在时为空操作。
// 错误必须返回给调用方，项目删除随之失败
func (s *Service) TeardownProject(ctx context.Context, projectID string) error {
	_, err := s.withProjectLock(ctx, projectID, s.teardownLocked)
	if err != nil {
		metrics.IncrementTeardown("failed")
		return err
	}
	metrics.IncrementTeardown("success")
	return nil
}

func (s *Service) teardownLocked(ctx context.Context, key shard.TableKey) error {
	dropped := 0
	for _, t := range []shard.Table{key.Tasks(), key.Stages()} {
		exists, err := s.store.TableExists(ctx, t)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", t, err)
		}
		if !exists {
			continue
		}
		if err := s.store.RevokeAccess(ctx, t, s.roles); err != nil {
			s.logger.Error("Failed to revoke access", zap.String("table", t.Name()), zap.Error(err))
			return fmt.Errorf("failed to revoke access on %s: %w", t, err)
		}
		if err := s.store.DropTable(ctx, t); err != nil {
			s.logger.Error("Failed to drop table", zap.String("table", t.Name()), zap.Error(err))
			return fmt.Errorf("failed to drop %s: %w", t, err)
		}
		dropped++
	}

	if dropped == 0 {
		s.logger.Debug("No project tables to tear down", zap.String("project_id", key.ProjectID()))
		return nil
	}
	s.logger.Info("Project tables torn down",
		zap.String("project_id", key.ProjectID()),
		zap.Int("dropped", dropped),
	)
	return nil
}
