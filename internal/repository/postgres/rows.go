package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/internal/repository"
	"taskportal/internal/shard"
)

// rows implements the row-level operations against a pool or a transaction.
type rows struct {
	q      querier
	logger *zap.Logger
}

var _ repository.Tx = rows{}

func scanTask(row pgx.CollectableRow) (model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.ProjectID,
		&t.StageID,
		&t.ParentTaskID,
		&t.HierarchicalNumber,
		&t.Status,
		&t.Priority,
		&t.Assignees,
		&t.DueDate,
		&t.CompletedAt,
		&t.Deleted,
		&t.OriginalTaskID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

func (r rows) queryTasks(ctx context.Context, op string, sql string, args ...any) ([]model.Task, error) {
	rs, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(op, err, false)
	}
	tasks, err := pgx.CollectRows(rs, scanTask)
	if err != nil {
		return nil, mapError(op, err, false)
	}
	return tasks, nil
}

func (r rows) GetTasks(ctx context.Context, t shard.Table, ids []string) ([]model.Task, error) {
	defer observe("get_tasks", t, time.Now())
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryTasks(ctx, "get tasks from "+t.Name(),
		selectTasksSQL(t, "id = ANY($1::uuid[])"), ids)
}

func (r rows) ListTasks(ctx context.Context, t shard.Table, includeDeleted bool) ([]model.Task, error) {
	defer observe("list_tasks", t, time.Now())
	r.logger.Debug("Listing tasks",
		zap.String("table", t.Name()),
		zap.Bool("include_deleted", includeDeleted),
	)
	return r.queryTasks(ctx, "list tasks from "+t.Name(),
		selectTasksSQL(t, "($1 OR NOT deleted)"), includeDeleted)
}

func (r rows) FindByOriginal(ctx context.Context, t shard.Table, originalIDs []string) (map[string]model.Task, error) {
	defer observe("find_by_original", t, time.Now())
	out := make(map[string]model.Task)
	if len(originalIDs) == 0 {
		return out, nil
	}
	tasks, err := r.queryTasks(ctx, "find by original in "+t.Name(),
		findByOriginalSQL(t), originalIDs)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		out[model.Deref(task.OriginalTaskID)] = task
	}
	return out, nil
}

func (r rows) UpsertTask(ctx context.Context, t shard.Table, task model.Task) error {
	defer observe("upsert_task", t, time.Now())
	assignees := task.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	_, err := r.q.Exec(ctx, upsertTaskSQL(t),
		task.ID,
		task.Title,
		task.Description,
		task.ProjectID,
		task.StageID,
		task.ParentTaskID,
		task.HierarchicalNumber,
		task.Status,
		task.Priority,
		assignees,
		task.DueDate,
		task.CompletedAt,
		task.Deleted,
		task.OriginalTaskID,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert task",
			zap.String("table", t.Name()),
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return mapError("upsert task into "+t.Name(), err, false)
	}
	return nil
}

func (r rows) UpdateTaskStage(ctx context.Context, t shard.Table, taskID string, stageID *string) error {
	defer observe("update_stage", t, time.Now())
	tag, err := r.q.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET stage_id = $2::uuid, updated_at = now() WHERE id = $1::uuid`, t.Quoted()),
		taskID, stageID)
	if err != nil {
		return mapError("update stage in "+t.Name(), err, false)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s in %s: %w", taskID, t.Name(), model.ErrNotFound)
	}
	return nil
}

func (r rows) ReparentChildren(ctx context.Context, t shard.Table, from []string, to string) (int64, error) {
	defer observe("reparent", t, time.Now())
	if len(from) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx, reparentSQL(t), from, to)
	if err != nil {
		return 0, mapError("reparent in "+t.Name(), err, false)
	}
	return tag.RowsAffected(), nil
}

func (r rows) CountChildren(ctx context.Context, t shard.Table, parentIDs []string) (int64, error) {
	if len(parentIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := r.q.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE parent_task_id = ANY($1::uuid[])`, t.Quoted()),
		parentIDs).Scan(&n)
	if err != nil {
		return 0, mapError("count children in "+t.Name(), err, false)
	}
	return n, nil
}

func (r rows) DeleteTasks(ctx context.Context, t shard.Table, ids []string) (int64, error) {
	defer observe("delete_tasks", t, time.Now())
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1::uuid[])`, t.Quoted()), ids)
	if err != nil {
		return 0, mapError("delete tasks from "+t.Name(), err, false)
	}
	return tag.RowsAffected(), nil
}

func (r rows) SoftDeleteTasks(ctx context.Context, t shard.Table, ids []string) (int64, error) {
	defer observe("soft_delete_tasks", t, time.Now())
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET deleted = true, updated_at = now() WHERE id = ANY($1::uuid[]) AND NOT deleted`, t.Quoted()),
		ids)
	if err != nil {
		return 0, mapError("soft delete tasks in "+t.Name(), err, false)
	}
	return tag.RowsAffected(), nil
}

func (r rows) ListStages(ctx context.Context, t shard.Table) ([]model.Stage, error) {
	defer observe("list_stages", t, time.Now())
	rs, err := r.q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY sort_order, id`, stageColumns, t.Quoted()))
	if err != nil {
		return nil, mapError("list stages from "+t.Name(), err, false)
	}
	stages, err := pgx.CollectRows(rs, func(row pgx.CollectableRow) (model.Stage, error) {
		var s model.Stage
		err := row.Scan(&s.ID, &s.Title, &s.Description, &s.ProjectID, &s.SortOrder, &s.CreatedAt, &s.UpdatedAt)
		return s, err
	})
	if err != nil {
		return nil, mapError("list stages from "+t.Name(), err, false)
	}
	return stages, nil
}

func (r rows) UpsertStage(ctx context.Context, t shard.Table, s model.Stage) error {
	defer observe("upsert_stage", t, time.Now())
	_, err := r.q.Exec(ctx, upsertStageSQL(t),
		s.ID, s.Title, s.Description, s.ProjectID, s.SortOrder, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert stage",
			zap.String("table", t.Name()),
			zap.String("stage_id", s.ID),
			zap.Error(err),
		)
		return mapError("upsert stage into "+t.Name(), err, false)
	}
	return nil
}
