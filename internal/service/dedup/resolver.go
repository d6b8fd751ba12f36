package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/internal/repository"
	"taskportal/internal/shard"
)

// ErrNothingToResolve 组内存活行少于两行
var ErrNothingToResolve = errors.New("fewer than two live rows")

// Strategy 保留行选择策略
type Strategy string

const (
	StrategyMostRecentlyUpdated Strategy = "most_recently_updated"
	StrategyOldestCreated       Strategy = "oldest_created"
)

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "most_recently_updated", "latest":
		return StrategyMostRecentlyUpdated, nil
	case "oldest_created", "oldest":
		return StrategyOldestCreated, nil
	}
	return "", fmt.Errorf("unknown survivor strategy %q", s)
}

// Disposition 非保留行的处置方式
type Disposition string

const (
	DispositionSoft Disposition = "soft"
	DispositionHard Disposition = "hard"
)

func ParseDisposition(s string) (Disposition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "soft":
		return DispositionSoft, nil
	case "hard":
		return DispositionHard, nil
	}
	return "", fmt.Errorf("unknown disposition %q", s)
}

type ResolveOptions struct {
	Strategy    Strategy
	Disposition Disposition
}

// Resolution 一个重复组的处理结果
type Resolution struct {
	Key         string      `json:"key"`
	Survivor    string      `json:"survivor"`
	Disposed    []string    `json:"disposed"`
	Reparented  int64       `json:"reparented"`
	Disposition Disposition `json:"disposition"`
	// Downgraded 存储不支持事务性删除，硬删除降级为软删除
	Downgraded bool `json:"downgraded,omitempty"`
}

// Survivor 选出保留行。结果与输入顺序无关
func Survivor(rows []model.Task, strategy Strategy) (model.Task, error) {
	if len(rows) == 0 {
		return model.Task{}, ErrNothingToResolve
	}
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[r.ID] {
			return model.Task{}, fmt.Errorf("row %s appears twice: %w", r.ID, model.ErrAmbiguousSurvivor)
		}
		seen[r.ID] = true
	}

	sorted := append([]model.Task(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch strategy {
		case StrategyOldestCreated:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		default:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
		}
		return a.ID < b.ID
	})
	return sorted[0], nil
}

type Resolver struct {
	store  repository.Store
	logger *zap.Logger
}

func NewResolver(store repository.Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// ResolveDuplicateGroup 保留一行，先把引用其余行的子任务改挂到保留行，再删除其余行。
// 整个过程在一个事务内，任何一步失败都不改动数据
func (r *Resolver) ResolveDuplicateGroup(ctx context.Context, table shard.Table, rows []model.Task, opts ResolveOptions) (Resolution, error) {
	live := make([]model.Task, 0, len(rows))
	for _, row := range rows {
		if !row.Deleted {
			live = append(live, row)
		}
	}
	if len(live) < 2 {
		return Resolution{}, ErrNothingToResolve
	}

	survivor, err := Survivor(live, opts.Strategy)
	if err != nil {
		return Resolution{}, err
	}
	losers := make([]string, 0, len(live)-1)
	for _, row := range live {
		if row.ID != survivor.ID {
			losers = append(losers, row.ID)
		}
	}
	sort.Strings(losers)

	res := Resolution{Survivor: survivor.ID, Disposed: losers, Disposition: opts.Disposition}
	if res.Disposition == "" {
		res.Disposition = DispositionSoft
	}
	if res.Disposition == DispositionHard && !r.store.TransactionalDDL() {
		res.Disposition = DispositionSoft
		res.Downgraded = true
		r.logger.Warn("Store lacks transactional deletes, using soft delete",
			zap.String("table", table.Name()),
			zap.String("survivor", survivor.ID),
		)
	}

	err = r.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := checkStillLive(ctx, tx, table, survivor.ID, losers); err != nil {
			return err
		}

		n, err := tx.ReparentChildren(ctx, table, losers, survivor.ID)
		if err != nil {
			return fmt.Errorf("failed to reparent children of %v: %w: %w", losers, model.ErrReparentFailed, err)
		}
		left, err := tx.CountChildren(ctx, table, losers)
		if err != nil {
			return fmt.Errorf("failed to verify reparenting: %w: %w", model.ErrReparentFailed, err)
		}
		if left != 0 {
			return fmt.Errorf("%d children still reference disposed rows: %w", left, model.ErrReparentFailed)
		}
		res.Reparented = n

		switch res.Disposition {
		case DispositionHard:
			_, err = tx.DeleteTasks(ctx, table, losers)
		default:
			_, err = tx.SoftDeleteTasks(ctx, table, losers)
		}
		if err != nil {
			return fmt.Errorf("failed to %s delete %v: %w", res.Disposition, losers, err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to resolve duplicate group",
			zap.String("table", table.Name()),
			zap.String("survivor", survivor.ID),
			zap.Strings("disposed", losers),
			zap.Error(err),
		)
		return Resolution{}, err
	}

	r.logger.Info("Resolved duplicate group",
		zap.String("table", table.Name()),
		zap.String("survivor", survivor.ID),
		zap.Strings("disposed", losers),
		zap.Int64("reparented", res.Reparented),
		zap.String("disposition", string(res.Disposition)),
	)
	return res, nil
}

// checkStillLive 并发修改后组可能已经不需要处理
func checkStillLive(ctx context.Context, tx repository.Tx, table shard.Table, survivor string, losers []string) error {
	ids := append([]string{survivor}, losers...)
	current, err := tx.GetTasks(ctx, table, ids)
	if err != nil {
		return fmt.Errorf("failed to reload group: %w", err)
	}
	live := make(map[string]bool, len(current))
	for _, t := range current {
		if !t.Deleted {
			live[t.ID] = true
		}
	}
	if !live[survivor] {
		return fmt.Errorf("survivor %s is gone: %w", survivor, ErrNothingToResolve)
	}
	for _, id := range losers {
		if !live[id] {
			return fmt.Errorf("row %s already disposed: %w", id, ErrNothingToResolve)
		}
	}
	return nil
}
