package tables

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskportal/internal/lock"
	"taskportal/internal/model"
	"taskportal/internal/repository/memstore"
	"taskportal/internal/shard"
)

var (
	roles = []string{"authenticated", "service_role"}
	t0    = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := NewService(store, lock.NewLocal(), roles, zap.NewNop())
	svc.now = func() time.Time { return t0.Add(time.Hour) }
	return svc, store
}

func globalTask(t *testing.T, store *memstore.Store, title string, mutate ...func(*model.Task)) model.Task {
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
	require.NoError(t, store.UpsertTask(context.Background(), shard.GlobalTasks(), task))
	return task
}

func globalStage(t *testing.T, store *memstore.Store, title string, order int, projectID *string) model.Stage {
	t.Helper()
	st := model.Stage{
		ID:        uuid.NewString(),
		Title:     title,
		ProjectID: projectID,
		SortOrder: order,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	require.NoError(t, store.UpsertStage(context.Background(), shard.GlobalStages(), st))
	return st
}

func TestEnsureProjectTables_Idempotent(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	projectID := uuid.NewString()

	for i := 0; i < 5; i++ {
		key, err := svc.EnsureProjectTables(ctx, projectID)
		require.NoError(t, err, "call %d", i+1)
		assert.Equal(t, projectID, key.ProjectID())
	}

	keys, err := svc.ListProvisioned(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, projectID, keys[0].ProjectID())

	key := shard.MustNormalize(projectID)
	assert.Equal(t, roles, store.Grants(key.Tasks()))
	assert.Equal(t, roles, store.Grants(key.Stages()))
}

func TestEnsureProjectTables_Concurrent(t *testing.T) {
	svc, _ := newService(t)
	projectID := uuid.NewString()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.EnsureProjectTables(context.Background(), projectID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestEnsureProjectTables_InvalidIdentifier(t *testing.T) {
	svc, store := newService(t)

	_, err := svc.EnsureProjectTables(context.Background(), `x"; DROP TABLE tasks; --`)
	assert.ErrorIs(t, err, model.ErrInvalidIdentifier)

	keys, err := store.ListProjectTables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestEnsureProjectTables_ConflictRecheck(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.NewString()
	key := shard.MustNormalize(projectID)

	t.Run("table appeared concurrently", func(t *testing.T) {
		svc, store := newService(t)
		_, err := store.CreateTableLike(ctx, key.Tasks())
		require.NoError(t, err)
		store.FailTimes("CreateTableLike", model.ErrProvisioningConflict, 1)

		_, err = svc.EnsureProjectTables(ctx, projectID)
		require.NoError(t, err)
		_, err = svc.ResolveProjectTables(ctx, projectID)
		assert.NoError(t, err)
	})

	t.Run("table still missing", func(t *testing.T) {
		svc, store := newService(t)
		store.FailTimes("CreateTableLike", model.ErrProvisioningConflict, 1)

		_, err := svc.EnsureProjectTables(ctx, projectID)
		assert.ErrorIs(t, err, model.ErrProvisioningConflict)

		// retry observes a clean store and succeeds
		_, err = svc.EnsureProjectTables(ctx, projectID)
		assert.NoError(t, err)
	})
}

func TestEnsureProjectTables_PermissionDenied(t *testing.T) {
	svc, store := newService(t)
	store.FailOn("GrantAccess", model.ErrPermissionDenied)

	_, err := svc.EnsureProjectTables(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
}

func TestResolveProjectTables(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	projectID := uuid.NewString()

	_, err := svc.ResolveProjectTables(ctx, projectID)
	assert.ErrorIs(t, err, model.ErrNotProvisioned)

	_, err = svc.EnsureProjectTables(ctx, projectID)
	require.NoError(t, err)

	pt, err := svc.ResolveProjectTables(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, shard.MustNormalize(projectID).Tasks(), pt.Tasks)
	assert.Equal(t, shard.MustNormalize(projectID).Stages(), pt.Stages)

	_, err = svc.ResolveProjectTables(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, model.ErrInvalidIdentifier)
}

func TestTeardownProject(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	projectID := uuid.NewString()
	key := shard.MustNormalize(projectID)
	t1 := globalTask(t, store, "Kickoff")

	_, err := svc.ProvisionAndSeed(ctx, projectID, []string{t1.ID})
	require.NoError(t, err)

	require.NoError(t, svc.TeardownProject(ctx, projectID))
	_, err = svc.ResolveProjectTables(ctx, projectID)
	assert.ErrorIs(t, err, model.ErrNotProvisioned)
	assert.Empty(t, store.Grants(key.Tasks()))

	// absent tables are a no-op
	require.NoError(t, svc.TeardownProject(ctx, projectID))

	// recreated tables start empty
	_, err = svc.EnsureProjectTables(ctx, projectID)
	require.NoError(t, err)
	rows, err := store.ListTasks(ctx, key.Tasks(), true)
	require.NoError(t, err)
	assert.Empty(t, rows)
	stages, err := store.ListStages(ctx, key.Stages())
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestTeardownProject_FailureIsReported(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	projectID := uuid.NewString()

	_, err := svc.EnsureProjectTables(ctx, projectID)
	require.NoError(t, err)

	store.FailOn("DropTable", model.ErrStoreUnavailable)
	err = svc.TeardownProject(ctx, projectID)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	store.ClearFaults()
	_, err = svc.ResolveProjectTables(ctx, projectID)
	assert.NoError(t, err, "tables must still be there after a failed teardown")
}

func TestWithProjectLock_ReleasedOnError(t *testing.T) {
	svc, _ := newService(t)
	projectID := uuid.NewString()
	boom := errors.New("boom")

	_, err := svc.withProjectLock(context.Background(), projectID, func(context.Context, shard.TableKey) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = svc.EnsureProjectTables(ctx, projectID)
	assert.NoError(t, err)
}
