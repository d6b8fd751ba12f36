package dedup

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/internal/repository/memstore"
	"taskportal/internal/shard"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func put(t *testing.T, store *memstore.Store, table shard.Table, title string, mutate ...func(*model.Task)) model.Task {
	t.Helper()
	task := model.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    model.TaskTodo,
		Priority:  model.PriorityMedium,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	for _, m := range mutate {
		m(&task)
	}
	require.NoError(t, store.UpsertTask(context.Background(), table, task))
	return task
}

func updatedAt(d time.Duration) func(*model.Task) {
	return func(t *model.Task) { t.UpdatedAt = t0.Add(d) }
}

func deleted(t *model.Task) { t.Deleted = true }

func get(t *testing.T, store *memstore.Store, table shard.Table, id string) (model.Task, bool) {
	t.Helper()
	rows, err := store.GetTasks(context.Background(), table, []string{id})
	require.NoError(t, err)
	if len(rows) == 0 {
		return model.Task{}, false
	}
	return rows[0], true
}

func TestParseGroupKey(t *testing.T) {
	for in, want := range map[string]GroupKey{
		"":              GroupByTitle,
		"Title":         GroupByTitle,
		"title+project": GroupByTitleProject,
		"title_project": GroupByTitleProject,
		"original":      GroupByOriginal,
	} {
		got, err := ParseGroupKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseGroupKey("status")
	assert.Error(t, err)
}

func TestFindDuplicates_LiveAndDeletedCounts(t *testing.T) {
	store := memstore.New()
	table := shard.GlobalTasks()
	put(t, store, table, "X")
	put(t, store, table, "X")
	put(t, store, table, "X", deleted)
	put(t, store, table, "Y")

	d := NewDetector(store, zap.NewNop())
	ctx := context.Background()

	groups, err := d.FindDuplicates(ctx, table, GroupByTitle, false)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Size)
	assert.Equal(t, 2, groups[0].Live)
	assert.Zero(t, groups[0].Deleted)

	groups, err = d.FindDuplicates(ctx, table, GroupByTitle, true)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 3, groups[0].Size)
	assert.Equal(t, 2, groups[0].Live)
	assert.Equal(t, 1, groups[0].Deleted)
}

func TestFindDuplicates_KeysAndOrdering(t *testing.T) {
	store := memstore.New()
	table := shard.GlobalTasks()
	p1, p2 := uuid.NewString(), uuid.NewString()
	orig := uuid.NewString()

	put(t, store, table, "Beta")
	put(t, store, table, " beta ")
	put(t, store, table, "Alpha", func(tk *model.Task) { tk.ProjectID = &p1 })
	put(t, store, table, "ALPHA", func(tk *model.Task) { tk.ProjectID = &p2 })
	put(t, store, table, "gamma", func(tk *model.Task) { tk.ProjectID = &p1; tk.OriginalTaskID = &orig })
	put(t, store, table, "Gamma", func(tk *model.Task) { tk.ProjectID = &p1; tk.OriginalTaskID = &orig })
	put(t, store, table, "Gamma", func(tk *model.Task) { tk.ProjectID = &p1 })

	d := NewDetector(store, zap.NewNop())
	ctx := context.Background()

	groups, err := d.FindDuplicates(ctx, table, GroupByTitle, false)
	require.NoError(t, err)
	var keys []string
	for _, g := range groups {
		keys = append(keys, g.Key)
	}
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, keys)

	groups, err = d.FindDuplicates(ctx, table, GroupByTitleProject, false)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "gamma|"+p1, groups[0].Key)
	assert.Equal(t, "beta|", groups[1].Key)

	groups, err = d.FindDuplicates(ctx, table, GroupByOriginal, false)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, orig, groups[0].Key)

	_, err = d.FindDuplicates(ctx, table, GroupKey("bogus"), false)
	assert.Error(t, err)
}

func TestFindDuplicates_MissingTable(t *testing.T) {
	d := NewDetector(memstore.New(), zap.NewNop())
	_, err := d.FindDuplicates(context.Background(), shard.MustNormalize(uuid.NewString()).Tasks(), GroupByTitle, false)
	assert.ErrorIs(t, err, model.ErrDestinationMissing)
}

func TestSurvivor_Deterministic(t *testing.T) {
	rows := []model.Task{
		{ID: "c", UpdatedAt: t0.Add(2 * time.Hour), CreatedAt: t0},
		{ID: "b", UpdatedAt: t0.Add(2 * time.Hour), CreatedAt: t0.Add(time.Minute)},
		{ID: "a", UpdatedAt: t0.Add(time.Hour), CreatedAt: t0.Add(-time.Hour)},
		{ID: "d", UpdatedAt: t0, CreatedAt: t0.Add(-time.Hour)},
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		perm := append([]model.Task(nil), rows...)
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		s, err := Survivor(perm, StrategyMostRecentlyUpdated)
		require.NoError(t, err)
		assert.Equal(t, "b", s.ID, "latest update, smaller id on tie")

		s, err = Survivor(perm, StrategyOldestCreated)
		require.NoError(t, err)
		assert.Equal(t, "a", s.ID)
	}

	_, err := Survivor([]model.Task{{ID: "a"}, {ID: "a"}}, StrategyMostRecentlyUpdated)
	assert.ErrorIs(t, err, model.ErrAmbiguousSurvivor)
	_, err = Survivor(nil, StrategyMostRecentlyUpdated)
	assert.ErrorIs(t, err, ErrNothingToResolve)
}

func TestParseStrategyAndDisposition(t *testing.T) {
	s, err := ParseStrategy("most-recently-updated")
	require.NoError(t, err)
	assert.Equal(t, StrategyMostRecentlyUpdated, s)
	s, err = ParseStrategy("oldest_created")
	require.NoError(t, err)
	assert.Equal(t, StrategyOldestCreated, s)
	_, err = ParseStrategy("random")
	assert.Error(t, err)

	dp, err := ParseDisposition("HARD")
	require.NoError(t, err)
	assert.Equal(t, DispositionHard, dp)
	_, err = ParseDisposition("shred")
	assert.Error(t, err)
}

func reparentFixture(t *testing.T) (*memstore.Store, shard.Table, model.Task, model.Task, model.Task) {
	store := memstore.New()
	table := shard.GlobalTasks()
	a := put(t, store, table, "Kickoff", updatedAt(time.Hour))
	b := put(t, store, table, "Kickoff")
	c := put(t, store, table, "Agenda", func(tk *model.Task) { tk.ParentTaskID = model.StringPtr(b.ID) })
	return store, table, a, b, c
}

func TestResolve_ReparentBeforeHardDelete(t *testing.T) {
	store, table, a, b, c := reparentFixture(t)
	r := NewResolver(store, zap.NewNop())

	res, err := r.ResolveDuplicateGroup(context.Background(), table, []model.Task{b, a}, ResolveOptions{Disposition: DispositionHard})
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.Survivor)
	assert.Equal(t, []string{b.ID}, res.Disposed)
	assert.Equal(t, int64(1), res.Reparented)
	assert.False(t, res.Downgraded)

	_, ok := get(t, store, table, b.ID)
	assert.False(t, ok)
	child, ok := get(t, store, table, c.ID)
	require.True(t, ok)
	assert.Equal(t, a.ID, model.Deref(child.ParentTaskID))
}

func TestResolve_ReparentBeforeSoftDelete(t *testing.T) {
	store, table, a, b, c := reparentFixture(t)
	r := NewResolver(store, zap.NewNop())

	_, err := r.ResolveDuplicateGroup(context.Background(), table, []model.Task{a, b}, ResolveOptions{})
	require.NoError(t, err)

	loser, ok := get(t, store, table, b.ID)
	require.True(t, ok)
	assert.True(t, loser.Deleted)
	child, _ := get(t, store, table, c.ID)
	assert.Equal(t, a.ID, model.Deref(child.ParentTaskID))
}

func TestResolve_HardDowngradesWithoutTransactionalDDL(t *testing.T) {
	store, table, a, b, _ := reparentFixture(t)
	store.SetTransactionalDDL(false)
	r := NewResolver(store, zap.NewNop())

	res, err := r.ResolveDuplicateGroup(context.Background(), table, []model.Task{a, b}, ResolveOptions{Disposition: DispositionHard})
	require.NoError(t, err)
	assert.True(t, res.Downgraded)
	assert.Equal(t, DispositionSoft, res.Disposition)

	loser, ok := get(t, store, table, b.ID)
	require.True(t, ok, "row must survive as soft-deleted")
	assert.True(t, loser.Deleted)
}

func TestResolve_ReparentFailureLeavesRowsUntouched(t *testing.T) {
	for _, op := range []string{"ReparentChildren", "CountChildren", "SoftDeleteTasks", "Commit"} {
		t.Run(op, func(t *testing.T) {
			store, table, a, b, c := reparentFixture(t)
			store.FailOn(op, model.ErrStoreUnavailable)
			r := NewResolver(store, zap.NewNop())

			_, err := r.ResolveDuplicateGroup(context.Background(), table, []model.Task{a, b}, ResolveOptions{})
			require.Error(t, err)
			if op == "ReparentChildren" || op == "CountChildren" {
				assert.ErrorIs(t, err, model.ErrReparentFailed)
			}
			store.ClearFaults()

			loser, ok := get(t, store, table, b.ID)
			require.True(t, ok)
			assert.False(t, loser.Deleted)
			child, _ := get(t, store, table, c.ID)
			assert.Equal(t, b.ID, model.Deref(child.ParentTaskID))
		})
	}
}

func TestResolve_NothingToResolve(t *testing.T) {
	store := memstore.New()
	table := shard.GlobalTasks()
	a := put(t, store, table, "X")
	b := put(t, store, table, "X", deleted)
	r := NewResolver(store, zap.NewNop())

	_, err := r.ResolveDuplicateGroup(context.Background(), table, []model.Task{a, b}, ResolveOptions{})
	assert.ErrorIs(t, err, ErrNothingToResolve)

	// rows disposed by someone else since detection
	c := put(t, store, table, "X")
	_, err = store.SoftDeleteTasks(context.Background(), table, []string{c.ID})
	require.NoError(t, err)
	_, err = r.ResolveDuplicateGroup(context.Background(), table, []model.Task{a, c}, ResolveOptions{})
	assert.ErrorIs(t, err, ErrNothingToResolve)
}

func TestMaintenance_DryRunAndResolve(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	global := shard.GlobalTasks()

	t1 := put(t, store, global, "Kickoff")
	t2 := put(t, store, global, "Kickoff", updatedAt(time.Minute))
	put(t, store, global, "Design")

	project := shard.MustNormalize(uuid.NewString())
	_, err := store.CreateTableLike(ctx, project.Tasks())
	require.NoError(t, err)
	_, err = store.CreateTableLike(ctx, project.Stages())
	require.NoError(t, err)
	put(t, store, project.Tasks(), "Review")
	put(t, store, project.Tasks(), "review", deleted)

	m := NewMaintenance(store, zap.NewNop())

	report, err := m.Run(ctx, MaintenanceOptions{DryRun: true, IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, report.Tables, 2)
	assert.Equal(t, shard.GlobalTasksName, report.Tables[0].Table)
	assert.Equal(t, project.ProjectID(), report.Tables[1].ProjectID)
	totals := report.Totals()
	assert.Equal(t, 2, totals.Found)
	assert.Zero(t, totals.Resolved+totals.Failed+totals.Skipped)
	_, ok := get(t, store, global, t1.ID)
	assert.True(t, ok)

	report, err = m.Run(ctx, MaintenanceOptions{IncludeDeleted: true})
	require.NoError(t, err)
	totals = report.Totals()
	assert.Equal(t, 2, totals.Found)
	assert.Equal(t, 1, totals.Resolved)
	assert.Equal(t, 1, totals.Skipped, "one live plus one deleted is not actionable")
	require.Len(t, report.Tables[0].Resolved, 1)
	assert.Equal(t, t2.ID, report.Tables[0].Resolved[0].Survivor)
	assert.Equal(t, "kickoff", report.Tables[0].Resolved[0].Key)

	loser, _ := get(t, store, global, t1.ID)
	assert.True(t, loser.Deleted)

	_, err = json.Marshal(report)
	assert.NoError(t, err)
}

func TestMaintenance_FailedGroupDoesNotStopOthers(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	global := shard.GlobalTasks()
	put(t, store, global, "A")
	put(t, store, global, "A")
	put(t, store, global, "B")
	put(t, store, global, "B")

	store.FailTimes("ReparentChildren", model.ErrStoreUnavailable, 1)
	report, err := NewMaintenance(store, zap.NewNop()).Run(ctx, MaintenanceOptions{})
	require.NoError(t, err)

	tr := report.Tables[0]
	require.Len(t, tr.Failed, 1)
	assert.Equal(t, "a", tr.Failed[0].Key)
	assert.Contains(t, tr.Failed[0].Error, "reparent failed")
	require.Len(t, tr.Resolved, 1)
	assert.Equal(t, "b", tr.Resolved[0].Key)
}

func TestMaintenance_TableScanErrorIsRecorded(t *testing.T) {
	store := memstore.New()
	store.FailTimes("ListTasks", model.ErrStoreUnavailable, 1)

	report, err := NewMaintenance(store, zap.NewNop()).Run(context.Background(), MaintenanceOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals().TableErrors)
	assert.Contains(t, report.Tables[0].Error, "store unavailable")
}
