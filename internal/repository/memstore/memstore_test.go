package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskportal/internal/model"
	"taskportal/internal/repository"
	"taskportal/internal/shard"
)

func newTask(id, title string, created time.Time) model.Task {
	return model.Task{
		ID:        id,
		Title:     title,
		Status:    model.TaskTodo,
		Priority:  model.PriorityMedium,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCreateTableLike_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := shard.MustNormalize(uuid.NewString())

	created, err := s.CreateTableLike(ctx, key.Tasks())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateTableLike(ctx, key.Tasks())
	require.NoError(t, err)
	assert.False(t, created)

	keys, err := s.ListProjectTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shard.TableKey{key}, keys)
}

func TestRowsOnMissingTable(t *testing.T) {
	s := New()
	key := shard.MustNormalize(uuid.NewString())

	_, err := s.ListTasks(context.Background(), key.Tasks(), false)
	assert.ErrorIs(t, err, model.ErrDestinationMissing)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.UpsertTask(ctx, shard.GlobalTasks(), newTask("a", "A", now)))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.DeleteTasks(ctx, shard.GlobalTasks(), []string{"a"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := s.ListTasks(ctx, shard.GlobalTasks(), true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)
}

func TestWithinTx_Commits(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.UpsertTask(ctx, shard.GlobalTasks(), newTask("a", "A", now))
	})
	require.NoError(t, err)

	rows, err := s.GetTasks(ctx, shard.GlobalTasks(), []string{"a", "missing"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFailTimes(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.FailTimes("TableExists", model.ErrStoreUnavailable, 1)

	_, err := s.TableExists(ctx, shard.GlobalTasks())
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	ok, err := s.TableExists(ctx, shard.GlobalTasks())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReparentChildren(t *testing.T) {
	s := New()
	ctx := context.Background()
	g := shard.GlobalTasks()
	now := time.Now()

	require.NoError(t, s.UpsertTask(ctx, g, newTask("a", "X", now)))
	require.NoError(t, s.UpsertTask(ctx, g, newTask("b", "X", now)))
	child := newTask("c", "child", now)
	child.ParentTaskID = model.StringPtr("b")
	require.NoError(t, s.UpsertTask(ctx, g, child))

	n, err := s.ReparentChildren(ctx, g, []string{"b"}, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := s.GetTasks(ctx, g, []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, "a", model.Deref(rows[0].ParentTaskID))

	n, err = s.CountChildren(ctx, g, []string{"b"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDropTable_RemovesGrants(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := shard.MustNormalize(uuid.NewString())

	_, err := s.CreateTableLike(ctx, key.Stages())
	require.NoError(t, err)
	require.NoError(t, s.GrantAccess(ctx, key.Stages(), []string{"authenticated"}))
	assert.Equal(t, []string{"authenticated"}, s.Grants(key.Stages()))

	require.NoError(t, s.DropTable(ctx, key.Stages()))
	assert.Empty(t, s.Grants(key.Stages()))
	ok, err := s.TableExists(ctx, key.Stages())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindByOriginal_PrefersLiveMostRecentCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	g := shard.GlobalTasks()
	now := time.Now()

	older := newTask("a", "X", now)
	older.OriginalTaskID = model.StringPtr("orig")
	newer := newTask("b", "X", now.Add(time.Minute))
	newer.OriginalTaskID = model.StringPtr("orig")
	newer.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpsertTask(ctx, g, older))
	require.NoError(t, s.UpsertTask(ctx, g, newer))

	got, err := s.FindByOriginal(ctx, g, []string{"orig"})
	require.NoError(t, err)
	assert.Equal(t, "b", got["orig"].ID)

	_, err = s.SoftDeleteTasks(ctx, g, []string{"b"})
	require.NoError(t, err)
	got, err = s.FindByOriginal(ctx, g, []string{"orig"})
	require.NoError(t, err)
	assert.Equal(t, "a", got["orig"].ID)

	_, err = s.SoftDeleteTasks(ctx, g, []string{"a"})
	require.NoError(t, err)
	got, err = s.FindByOriginal(ctx, g, []string{"orig"})
	require.NoError(t, err)
	require.Contains(t, got, "orig")
	assert.True(t, got["orig"].Deleted)
}
