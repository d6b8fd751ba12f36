package memstore

import (
	"context"
	"fmt"
	"sort"

	"taskportal/internal/model"
	"taskportal/internal/repository"
	"taskportal/internal/shard"
)

// txView applies row operations to one state snapshot. The owning store's
// mutex is held by the caller for the view's whole lifetime.
type txView struct {
	store *Store
	st    *state
}

var _ repository.Tx = (*txView)(nil)

func (v *txView) table(op string, t shard.Table) (*table, error) {
	if err := v.store.check(op); err != nil {
		return nil, err
	}
	tb, ok := v.st.tables[t.Name()]
	if !ok {
		return nil, fmt.Errorf("%s on %s: %w", op, t, model.ErrDestinationMissing)
	}
	return tb, nil
}

func sortTasks(tasks []model.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func (v *txView) GetTasks(ctx context.Context, t shard.Table, ids []string) ([]model.Task, error) {
	tb, err := v.table("GetTasks", t)
	if err != nil {
		return nil, err
	}
	var out []model.Task
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if task, ok := tb.tasks[id]; ok {
			out = append(out, task.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (v *txView) ListTasks(ctx context.Context, t shard.Table, includeDeleted bool) ([]model.Task, error) {
	tb, err := v.table("ListTasks", t)
	if err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(tb.tasks))
	for _, task := range tb.tasks {
		if task.Deleted && !includeDeleted {
			continue
		}
		out = append(out, task.Clone())
	}
	sortTasks(out)
	return out, nil
}

func (v *txView) FindByOriginal(ctx context.Context, t shard.Table, originalIDs []string) (map[string]model.Task, error) {
	tb, err := v.table("FindByOriginal", t)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(originalIDs))
	for _, id := range originalIDs {
		want[id] = true
	}
	out := make(map[string]model.Task)
	for _, task := range tb.tasks {
		orig := model.Deref(task.OriginalTaskID)
		if orig == "" || !want[orig] {
			continue
		}
		if cur, ok := out[orig]; !ok || preferCopy(task, cur) {
			out[orig] = task.Clone()
		}
	}
	return out, nil
}

// preferCopy: live before deleted, then most recently updated, then smallest id.
func preferCopy(a, b model.Task) bool {
	if a.Deleted != b.Deleted {
		return !a.Deleted
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func (v *txView) UpsertTask(ctx context.Context, t shard.Table, task model.Task) error {
	tb, err := v.table("UpsertTask", t)
	if err != nil {
		return err
	}
	if task.ID == "" {
		return fmt.Errorf("upsert into %s: empty task id", t)
	}
	if task.ParentTaskID != nil {
		if _, ok := tb.tasks[*task.ParentTaskID]; !ok && *task.ParentTaskID != task.ID {
			return fmt.Errorf("upsert into %s: parent %s not in table", t, *task.ParentTaskID)
		}
	}
	tb.tasks[task.ID] = task.Clone()
	return nil
}

func (v *txView) UpdateTaskStage(ctx context.Context, t shard.Table, taskID string, stageID *string) error {
	tb, err := v.table("UpdateTaskStage", t)
	if err != nil {
		return err
	}
	task, ok := tb.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s in %s: %w", taskID, t, model.ErrNotFound)
	}
	task.StageID = stageID
	tb.tasks[taskID] = task.Clone()
	return nil
}

func (v *txView) ReparentChildren(ctx context.Context, t shard.Table, from []string, to string) (int64, error) {
	tb, err := v.table("ReparentChildren", t)
	if err != nil {
		return 0, err
	}
	if _, ok := tb.tasks[to]; !ok {
		return 0, fmt.Errorf("new parent %s in %s: %w", to, t, model.ErrNotFound)
	}
	old := toSet(from)
	var n int64
	for id, task := range tb.tasks {
		if task.ParentTaskID == nil || !old[*task.ParentTaskID] {
			continue
		}
		// the new parent cannot become its own parent
		if id == to {
			task.ParentTaskID = nil
		} else {
			task.ParentTaskID = model.StringPtr(to)
		}
		tb.tasks[id] = task
		n++
	}
	return n, nil
}

func (v *txView) CountChildren(ctx context.Context, t shard.Table, parentIDs []string) (int64, error) {
	tb, err := v.table("CountChildren", t)
	if err != nil {
		return 0, err
	}
	parents := toSet(parentIDs)
	var n int64
	for _, task := range tb.tasks {
		if task.ParentTaskID != nil && parents[*task.ParentTaskID] {
			n++
		}
	}
	return n, nil
}

func (v *txView) DeleteTasks(ctx context.Context, t shard.Table, ids []string) (int64, error) {
	tb, err := v.table("DeleteTasks", t)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if _, ok := tb.tasks[id]; ok {
			delete(tb.tasks, id)
			n++
		}
	}
	return n, nil
}

func (v *txView) SoftDeleteTasks(ctx context.Context, t shard.Table, ids []string) (int64, error) {
	tb, err := v.table("SoftDeleteTasks", t)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		task, ok := tb.tasks[id]
		if !ok || task.Deleted {
			continue
		}
		task.Deleted = true
		tb.tasks[id] = task
		n++
	}
	return n, nil
}

func (v *txView) ListStages(ctx context.Context, t shard.Table) ([]model.Stage, error) {
	tb, err := v.table("ListStages", t)
	if err != nil {
		return nil, err
	}
	out := make([]model.Stage, 0, len(tb.stages))
	for _, s := range tb.stages {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *txView) UpsertStage(ctx context.Context, t shard.Table, s model.Stage) error {
	tb, err := v.table("UpsertStage", t)
	if err != nil {
		return err
	}
	if s.ID == "" {
		return fmt.Errorf("upsert into %s: empty stage id", t)
	}
	tb.stages[s.ID] = s.Clone()
	return nil
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
