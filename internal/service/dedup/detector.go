package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/internal/repository"
	"taskportal/internal/shard"
)

// GroupKey 重复分组依据
type GroupKey string

const (
	GroupByTitle        GroupKey = "title"
	GroupByTitleProject GroupKey = "title_project"
	GroupByOriginal     GroupKey = "original"
)

// ParseGroupKey 解析 CLI / HTTP 传入的分组依据，空值为 title
func ParseGroupKey(s string) (GroupKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "title":
		return GroupByTitle, nil
	case "title_project", "title-project", "title+project":
		return GroupByTitleProject, nil
	case "original", "original_task_id", "origin":
		return GroupByOriginal, nil
	}
	return "", fmt.Errorf("unknown group key %q", s)
}

// DuplicateGroup 同一分组键下超过一行的集合
type DuplicateGroup struct {
	Key     string       `json:"key"`
	Size    int          `json:"size"`
	Live    int          `json:"live"`
	Deleted int          `json:"deleted"`
	Rows    []model.Task `json:"rows"`
}

// IDs 按行顺序返回组内任务 ID
func (g DuplicateGroup) IDs() []string {
	ids := make([]string, len(g.Rows))
	for i, r := range g.Rows {
		ids[i] = r.ID
	}
	return ids
}

// LiveRows 返回未软删除的行
func (g DuplicateGroup) LiveRows() []model.Task {
	out := make([]model.Task, 0, g.Live)
	for _, r := range g.Rows {
		if !r.Deleted {
			out = append(out, r)
		}
	}
	return out
}

type Detector struct {
	rows   repository.TaskRows
	logger *zap.Logger
}

func NewDetector(rows repository.TaskRows, logger *zap.Logger) *Detector {
	return &Detector{rows: rows, logger: logger}
}

// FindDuplicates 只读：按 key 分组并返回成员数大于 1 的组，
// 按组大小降序、键升序排列
func (d *Detector) FindDuplicates(ctx context.Context, table shard.Table, key GroupKey, includeDeleted bool) ([]DuplicateGroup, error) {
	keyOf, err := keyFunc(key)
	if err != nil {
		return nil, err
	}

	tasks, err := d.rows.ListTasks(ctx, table, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}

	buckets := make(map[string][]model.Task)
	for _, t := range tasks {
		k, ok := keyOf(t)
		if !ok {
			continue
		}
		buckets[k] = append(buckets[k], t)
	}

	var groups []DuplicateGroup
	for k, rows := range buckets {
		if len(rows) < 2 {
			continue
		}
		g := DuplicateGroup{Key: k, Size: len(rows), Rows: rows}
		for _, r := range rows {
			if r.Deleted {
				g.Deleted++
			} else {
				g.Live++
			}
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Size != groups[j].Size {
			return groups[i].Size > groups[j].Size
		}
		return groups[i].Key < groups[j].Key
	})

	d.logger.Debug("Duplicate scan finished",
		zap.String("table", table.Name()),
		zap.String("group_key", string(key)),
		zap.Int("rows", len(tasks)),
		zap.Int("groups", len(groups)),
	)
	return groups, nil
}

func keyFunc(key GroupKey) (func(model.Task) (string, bool), error) {
	switch key {
	case GroupByTitle:
		return func(t model.Task) (string, bool) {
			return model.TitleKey(t.Title), true
		}, nil
	case GroupByTitleProject:
		return func(t model.Task) (string, bool) {
			return model.TitleKey(t.Title) + "|" + model.Deref(t.ProjectID), true
		}, nil
	case GroupByOriginal:
		return func(t model.Task) (string, bool) {
			orig := model.Deref(t.OriginalTaskID)
			return orig, orig != ""
		}, nil
	}
	return nil, fmt.Errorf("unknown group key %q", key)
}
