package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskportal/internal/repository"
	"taskportal/internal/shard"
	"taskportal/pkg/metrics"
)

type MaintenanceOptions struct {
	GroupKey       GroupKey    `json:"group_key"`
	DryRun         bool        `json:"dry_run"`
	Strategy       Strategy    `json:"strategy"`
	Disposition    Disposition `json:"disposition"`
	IncludeDeleted bool        `json:"include_deleted"`
}

// GroupSummary 报告中的重复组摘要
type GroupSummary struct {
	Key     string   `json:"key"`
	Size    int      `json:"size"`
	Live    int      `json:"live"`
	Deleted int      `json:"deleted"`
	IDs     []string `json:"ids"`
}

type FailedGroup struct {
	GroupSummary
	Error string `json:"error"`
}

// TableReport 单张表的扫描和处理结果，发现、已处理、失败、跳过分开列出
type TableReport struct {
	Table     string         `json:"table"`
	ProjectID string         `json:"project_id,omitempty"`
	Found     []GroupSummary `json:"found"`
	Resolved  []Resolution   `json:"resolved"`
	Failed    []FailedGroup  `json:"failed"`
	Skipped   []GroupSummary `json:"skipped"`
	// Error 扫描本表失败，其余表照常处理
	Error string `json:"error,omitempty"`
}

type Report struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Options    MaintenanceOptions `json:"options"`
	Tables     []TableReport      `json:"tables"`
}

// Totals 汇总各类组数
type Totals struct {
	Found    int `json:"found"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	// TableErrors 扫描失败的表数
	TableErrors int `json:"table_errors"`
}

func (r *Report) Totals() Totals {
	var t Totals
	for _, tr := range r.Tables {
		t.Found += len(tr.Found)
		t.Resolved += len(tr.Resolved)
		t.Failed += len(tr.Failed)
		t.Skipped += len(tr.Skipped)
		if tr.Error != "" {
			t.TableErrors++
		}
	}
	return t
}

func summarize(g DuplicateGroup) GroupSummary {
	return GroupSummary{Key: g.Key, Size: g.Size, Live: g.Live, Deleted: g.Deleted, IDs: g.IDs()}
}

// Maintenance 扫描全局表和所有项目表并（可选）处理重复组
type Maintenance struct {
	store    repository.Store
	detector *Detector
	resolver *Resolver
	logger   *zap.Logger
	now      func() time.Time
}

func NewMaintenance(store repository.Store, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		store:    store,
		detector: NewDetector(store, logger),
		resolver: NewResolver(store, logger),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Maintenance) Detector() *Detector { return m.detector }

func (m *Maintenance) Resolver() *Resolver { return m.resolver }

// Run 逐表执行。DryRun 只填 Found；单个组失败不影响其他组
func (m *Maintenance) Run(ctx context.Context, opts MaintenanceOptions) (*Report, error) {
	if opts.GroupKey == "" {
		opts.GroupKey = GroupByTitle
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyMostRecentlyUpdated
	}
	if opts.Disposition == "" {
		opts.Disposition = DispositionSoft
	}

	keys, err := m.store.ListProjectTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list project tables: %w", err)
	}
	tables := make([]shard.Table, 0, len(keys)+1)
	tables = append(tables, shard.GlobalTasks())
	for _, k := range keys {
		tables = append(tables, k.Tasks())
	}

	report := &Report{StartedAt: m.now(), Options: opts}
	m.logger.Info("Duplicate maintenance started",
		zap.Int("tables", len(tables)),
		zap.String("group_key", string(opts.GroupKey)),
		zap.Bool("dry_run", opts.DryRun),
	)

	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Tables = append(report.Tables, m.runTable(ctx, t, opts))
	}
	report.FinishedAt = m.now()

	totals := report.Totals()
	metrics.AddDuplicateGroups("found", totals.Found)
	metrics.AddDuplicateGroups("resolved", totals.Resolved)
	metrics.AddDuplicateGroups("failed", totals.Failed)
	metrics.AddDuplicateGroups("skipped", totals.Skipped)
	m.logger.Info("Duplicate maintenance finished",
		zap.Int("found", totals.Found),
		zap.Int("resolved", totals.Resolved),
		zap.Int("failed", totals.Failed),
		zap.Int("skipped", totals.Skipped),
		zap.Int("table_errors", totals.TableErrors),
	)
	return report, nil
}

func (m *Maintenance) runTable(ctx context.Context, t shard.Table, opts MaintenanceOptions) TableReport {
	tr := TableReport{
		Table:     t.Name(),
		ProjectID: t.Key().ProjectID(),
		Found:     []GroupSummary{},
		Resolved:  []Resolution{},
		Failed:    []FailedGroup{},
		Skipped:   []GroupSummary{},
	}

	groups, err := m.detector.FindDuplicates(ctx, t, opts.GroupKey, opts.IncludeDeleted)
	if err != nil {
		m.logger.Error("Duplicate scan failed", zap.String("table", t.Name()), zap.Error(err))
		tr.Error = err.Error()
		return tr
	}

	for _, g := range groups {
		sum := summarize(g)
		tr.Found = append(tr.Found, sum)
		if opts.DryRun {
			continue
		}
		if g.Live < 2 {
			tr.Skipped = append(tr.Skipped, sum)
			continue
		}

		res, err := m.resolver.ResolveDuplicateGroup(ctx, t, g.Rows, ResolveOptions{
			Strategy:    opts.Strategy,
			Disposition: opts.Disposition,
		})
		switch {
		case errors.Is(err, ErrNothingToResolve):
			tr.Skipped = append(tr.Skipped, sum)
		case err != nil:
			tr.Failed = append(tr.Failed, FailedGroup{GroupSummary: sum, Error: err.Error()})
		default:
			res.Key = g.Key
			tr.Resolved = append(tr.Resolved, res)
		}
	}
	return tr
}
