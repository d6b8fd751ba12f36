package tables

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/internal/repository"
	"taskportal/internal/shard"
	"taskportal/pkg/metrics"
)

// SeedResult 种子复制结果
type SeedResult struct {
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	StagesCopied int `json:"stages_copied"`
	// Missing 全局表中不存在的任务 ID（SourceNotFound，不中断其余任务）
	Missing []string `json:"missing"`
}

// StageSyncResult 阶段同步结果
type StageSyncResult struct {
	Updated       int `json:"updated"`
	AlreadySynced int `json:"already_synced"`
	// Unmatched 阶段标题在项目阶段表中找不到的任务，保留原阶段
	Unmatched []string `json:"unmatched"`
}

// SeedProjectFromGlobal 将指定的全局任务（以及默认阶段）复制到项目专属表。
// 已复制过的任务按 original_task_id 原地更新，不会重复插入
func (s *Service) SeedProjectFromGlobal(ctx context.Context, projectID string, taskIDs []string) (SeedResult, error) {
	var result SeedResult
	_, err := s.withProjectLock(ctx, projectID, func(ctx context.Context, key shard.TableKey) error {
		var err error
		result, err = s.seedLocked(ctx, key, taskIDs)
		return err
	})
	return result, err
}

func (s *Service) seedLocked(ctx context.Context, key shard.TableKey, taskIDs []string) (SeedResult, error) {
	var result SeedResult
	if err := s.requireTables(ctx, key, model.ErrDestinationMissing); err != nil {
		return result, err
	}

	ids := uniqueIDs(taskIDs)
	sources, err := s.store.GetTasks(ctx, shard.GlobalTasks(), wellFormedIDs(ids))
	if err != nil {
		return result, fmt.Errorf("failed to load global tasks: %w", err)
	}
	result.Missing = missingIDs(ids, sources)
	for _, id := range result.Missing {
		s.logger.Warn("Seed source task not found",
			zap.String("project_id", key.ProjectID()),
			zap.String("task_id", id),
			zap.Error(model.ErrSourceNotFound),
		)
	}

	defaults, err := s.defaultStages(ctx, key)
	if err != nil {
		return result, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		result.StagesCopied, result.Inserted, result.Updated = 0, 0, 0

		copied, err := s.copyStages(ctx, tx, key, defaults)
		if err != nil {
			return err
		}
		result.StagesCopied = copied

		inserted, updated, err := s.copyTasks(ctx, tx, key, sources)
		if err != nil {
			return err
		}
		result.Inserted, result.Updated = inserted, updated
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to seed project tables",
			zap.String("project_id", key.ProjectID()),
			zap.Error(err),
		)
		return SeedResult{Missing: result.Missing}, err
	}

	metrics.AddSeedRows("tasks", "inserted", result.Inserted)
	metrics.AddSeedRows("tasks", "updated", result.Updated)
	metrics.AddSeedRows("stages", "inserted", result.StagesCopied)
	s.logger.Info("Seeded project tables",
		zap.String("project_id", key.ProjectID()),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("stages_copied", result.StagesCopied),
		zap.Int("missing", len(result.Missing)),
	)
	return result, nil
}

// defaultStages 全局阶段中不属于任何项目或属于本项目的阶段
func (s *Service) defaultStages(ctx context.Context, key shard.TableKey) ([]model.Stage, error) {
	all, err := s.store.ListStages(ctx, shard.GlobalStages())
	if err != nil {
		return nil, fmt.Errorf("failed to load global stages: %w", err)
	}
	out := make([]model.Stage, 0, len(all))
	for _, st := range all {
		if st.ProjectID == nil || *st.ProjectID == key.ProjectID() {
			out = append(out, st)
		}
	}
	return out, nil
}

// copyStages 按标题跳过项目阶段表中已存在的阶段
func (s *Service) copyStages(ctx context.Context, tx repository.Tx, key shard.TableKey, defaults []model.Stage) (int, error) {
	existing, err := tx.ListStages(ctx, key.Stages())
	if err != nil {
		return 0, fmt.Errorf("failed to list project stages: %w", err)
	}
	titles := make(map[string]bool, len(existing))
	for _, st := range existing {
		titles[model.TitleKey(st.Title)] = true
	}

	now := s.now()
	copied := 0
	for _, src := range defaults {
		title := model.TitleKey(src.Title)
		if titles[title] {
			continue
		}
		titles[title] = true

		dst := src.Clone()
		dst.ID = uuid.NewString()
		dst.ProjectID = model.StringPtr(key.ProjectID())
		dst.CreatedAt = now
		dst.UpdatedAt = now
		if err := tx.UpsertStage(ctx, key.Stages(), dst); err != nil {
			return 0, fmt.Errorf("failed to copy stage %q: %w", src.Title, err)
		}
		copied++
	}
	return copied, nil
}

// copyTasks 先父后子写入，父任务映射到目标表中的副本，找不到副本时清空
func (s *Service) copyTasks(ctx context.Context, tx repository.Tx, key shard.TableKey, sources []model.Task) (int, int, error) {
	if len(sources) == 0 {
		return 0, 0, nil
	}

	lookup := make([]string, 0, len(sources)*2)
	for _, src := range sources {
		lookup = append(lookup, src.ID)
		if src.ParentTaskID != nil {
			lookup = append(lookup, *src.ParentTaskID)
		}
	}
	copies, err := tx.FindByOriginal(ctx, key.Tasks(), uniqueIDs(lookup))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to look up existing copies: %w", err)
	}

	// 源 ID → 目标 ID
	destID := make(map[string]string, len(copies)+len(sources))
	for orig, row := range copies {
		destID[orig] = row.ID
	}
	for _, src := range sources {
		if _, ok := destID[src.ID]; !ok {
			destID[src.ID] = uuid.NewString()
		}
	}

	now := s.now()
	inserted, updated := 0, 0
	for _, src := range parentFirst(sources) {
		dst := src.Clone()
		dst.ID = destID[src.ID]
		dst.OriginalTaskID = model.StringPtr(src.ID)
		dst.ProjectID = model.StringPtr(key.ProjectID())
		dst.ParentTaskID = nil
		if src.ParentTaskID != nil {
			if parent, ok := destID[*src.ParentTaskID]; ok {
				dst.ParentTaskID = model.StringPtr(parent)
			}
		}

		if prev, ok := copies[src.ID]; ok {
			// 只剩已删除副本时保持删除状态，避免复活去重时删掉的行
			dst.CreatedAt = prev.CreatedAt
			dst.Deleted = prev.Deleted
			updated++
		} else {
			dst.CreatedAt = now
			inserted++
		}
		dst.UpdatedAt = now

		if err := tx.UpsertTask(ctx, key.Tasks(), dst); err != nil {
			return 0, 0, fmt.Errorf("failed to copy task %s: %w", src.ID, err)
		}
	}
	return inserted, updated, nil
}

// SyncStageIDs 把项目任务的阶段从全局阶段 ID 改指向同标题的项目阶段
func (s *Service) SyncStageIDs(ctx context.Context, projectID string) (StageSyncResult, error) {
	var result StageSyncResult
	_, err := s.withProjectLock(ctx, projectID, func(ctx context.Context, key shard.TableKey) error {
		var err error
		result, err = s.syncStagesLocked(ctx, key)
		return err
	})
	return result, err
}

func (s *Service) syncStagesLocked(ctx context.Context, key shard.TableKey) (StageSyncResult, error) {
	var result StageSyncResult
	if err := s.requireTables(ctx, key, model.ErrDestinationMissing); err != nil {
		return result, err
	}

	globalStages, err := s.store.ListStages(ctx, shard.GlobalStages())
	if err != nil {
		return result, fmt.Errorf("failed to load global stages: %w", err)
	}
	globalTitle := make(map[string]string, len(globalStages))
	for _, st := range globalStages {
		globalTitle[st.ID] = model.TitleKey(st.Title)
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		result = StageSyncResult{}

		projectStages, err := tx.ListStages(ctx, key.Stages())
		if err != nil {
			return fmt.Errorf("failed to list project stages: %w", err)
		}
		own := make(map[string]bool, len(projectStages))
		byTitle := make(map[string]string, len(projectStages))
		for _, st := range projectStages {
			own[st.ID] = true
			// 按 sort_order 排序，同标题取第一个
			if _, ok := byTitle[model.TitleKey(st.Title)]; !ok {
				byTitle[model.TitleKey(st.Title)] = st.ID
			}
		}

		tasks, err := tx.ListTasks(ctx, key.Tasks(), true)
		if err != nil {
			return fmt.Errorf("failed to list project tasks: %w", err)
		}
		for _, task := range tasks {
			if task.StageID == nil {
				continue
			}
			if own[*task.StageID] {
				result.AlreadySynced++
				continue
			}
			title, ok := globalTitle[*task.StageID]
			target, matched := byTitle[title]
			if !ok || !matched {
				result.Unmatched = append(result.Unmatched, task.ID)
				continue
			}
			if err := tx.UpdateTaskStage(ctx, key.Tasks(), task.ID, model.StringPtr(target)); err != nil {
				return fmt.Errorf("failed to update stage of task %s: %w", task.ID, err)
			}
			result.Updated++
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to sync stage ids",
			zap.String("project_id", key.ProjectID()),
			zap.Error(err),
		)
		return StageSyncResult{}, err
	}

	if len(result.Unmatched) > 0 {
		s.logger.Warn("Some tasks have no matching project stage",
			zap.String("project_id", key.ProjectID()),
			zap.Strings("task_ids", result.Unmatched),
		)
	}
	s.logger.Info("Synced stage ids",
		zap.String("project_id", key.ProjectID()),
		zap.Int("updated", result.Updated),
		zap.Int("already_synced", result.AlreadySynced),
		zap.Int("unmatched", len(result.Unmatched)),
	)
	return result, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// wellFormedIDs 只保留标准格式的 UUID；其余 ID 不可能存在于全局表，按缺失处理，不交给存储层
func wellFormedIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil && len(id) == 36 {
			out = append(out, id)
		}
	}
	return out
}

// missingIDs 保持请求顺序
func missingIDs(requested []string, found []model.Task) []string {
	have := make(map[string]bool, len(found))
	for _, t := range found {
		have[t.ID] = true
	}
	var out []string
	for _, id := range requested {
		if !have[id] {
			out = append(out, id)
		}
	}
	return out
}

// parentFirst 按集合内的层级深度排序，同层按 ID
func parentFirst(tasks []model.Task) []model.Task {
	byID := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	depth := make(map[string]int, len(tasks))
	var depthOf func(id string, seen map[string]bool) int
	depthOf = func(id string, seen map[string]bool) int {
		if d, ok := depth[id]; ok {
			return d
		}
		t := byID[id]
		if t.ParentTaskID == nil || seen[id] {
			return 0
		}
		if _, ok := byID[*t.ParentTaskID]; !ok {
			return 0
		}
		seen[id] = true
		d := depthOf(*t.ParentTaskID, seen) + 1
		depth[id] = d
		return d
	}
	for _, t := range tasks {
		depth[t.ID] = depthOf(t.ID, map[string]bool{})
	}

	out := append([]model.Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		if depth[out[i].ID] != depth[out[j].ID] {
			return depth[out[i].ID] < depth[out[j].ID]
		}
		return out[i].ID < out[j].ID
	})
	return out
}
