package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskportal/internal/repository"
	"taskportal/internal/service/tables"
	"taskportal/internal/shard"
	"taskportal/pkg/logger"
	"taskportal/pkg/util"
)

// TableManager 生命周期编排用到的专属表操作
type TableManager interface {
	ProvisionAndSeed(ctx context.Context, projectID string, taskIDs []string) (tables.ProvisionResult, error)
	TeardownProject(ctx context.Context, projectID string) error
}

// Service 把项目生命周期事件映射到专属表操作
type Service struct {
	tables     TableManager
	projects   repository.ProjectRows
	maxElapsed time.Duration
	logger     *zap.Logger
}

func NewService(tables TableManager, projects repository.ProjectRows, retryMaxElapsed time.Duration, logger *zap.Logger) *Service {
	return &Service{
		tables:     tables,
		projects:   projects,
		maxElapsed: retryMaxElapsed,
		logger:     logger,
	}
}

// ProjectCreated 只校验项目 ID，专属表在首次分配任务时才创建
func (s *Service) ProjectCreated(ctx context.Context, projectID string) error {
	key, err := shard.Normalize(projectID)
	if err != nil {
		return err
	}
	logger.WithTrace(ctx, s.logger).Info("Project created, tables will be provisioned on first assignment",
		zap.String("project_id", key.ProjectID()),
	)
	return nil
}

// TasksAssigned 建表并复制任务，冲突和存储不可用时退避重试
func (s *Service) TasksAssigned(ctx context.Context, projectID string, taskIDs []string) (tables.ProvisionResult, error) {
	log := logger.WithTrace(ctx, s.logger)

	var result tables.ProvisionResult
	attempts := 0
	err := util.Retry(ctx, s.maxElapsed, func(ctx context.Context) error {
		attempts++
		var err error
		result, err = s.tables.ProvisionAndSeed(ctx, projectID, taskIDs)
		if err != nil && util.IsTransient(err) {
			log.Warn("Provision and seed failed, retrying",
				zap.String("project_id", projectID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		log.Error("Failed to provision and seed project",
			zap.String("project_id", projectID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return result, err
	}

	log.Info("Tasks assigned to project",
		zap.String("project_id", result.ProjectID),
		zap.Bool("tables_created", result.Created),
		zap.Int("inserted", result.Seed.Inserted),
		zap.Int("updated", result.Seed.Updated),
		zap.Strings("missing", result.Seed.Missing),
		zap.Strings("unmatched_stages", result.Stages.Unmatched),
	)
	return result, nil
}

// ProjectDeleted 先拆除专属表，失败时项目删除也失败
func (s *Service) ProjectDeleted(ctx context.Context, projectID string) error {
	log := logger.WithTrace(ctx, s.logger)

	err := util.Retry(ctx, s.maxElapsed, func(ctx context.Context) error {
		return s.tables.TeardownProject(ctx, projectID)
	})
	if err != nil {
		log.Error("Teardown failed, project deletion aborted",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to tear down project %s: %w", projectID, err)
	}

	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		log.Error("Failed to delete project row",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}

	log.Info("Project deleted", zap.String("project_id", projectID))
	return nil
}
