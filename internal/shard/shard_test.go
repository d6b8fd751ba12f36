package shard

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskportal/internal/model"
)

func TestNormalize_TableNames(t *testing.T) {
	key, err := Normalize("3F2504E0-4F89-11D3-9A0C-0305E82C3301")
	require.NoError(t, err)

	assert.Equal(t, "3f2504e0-4f89-11d3-9a0c-0305e82c3301", key.ProjectID())
	assert.Equal(t, "project_3f2504e0_4f89_11d3_9a0c_0305e82c3301_tasks", key.Tasks().Name())
	assert.Equal(t, "project_3f2504e0_4f89_11d3_9a0c_0305e82c3301_stages", key.Stages().Name())
	assert.False(t, key.Tasks().IsGlobal())
	assert.Equal(t, GlobalTasks(), key.Tasks().Template())
	assert.Equal(t, GlobalStages(), key.Stages().Template())
}

func TestNormalize_RejectsUnsafeInput(t *testing.T) {
	inputs := []string{
		"",
		"abc",
		"3f2504e0-4f89-11d3-9a0c-0305e82c3301'; DROP TABLE tasks;--",
		"3f2504e0-4f89-11d3-9a0c-0305e82c330'",
		"3f2504e0-4f89-11d3-9a0c;0305e82c3301",
		"{3f2504e0-4f89-11d3-9a0c-0305e82c3301}",
		"urn:uuid:3f2504e0-4f89-11d3-9a0c-0305e82c3301",
		"3f2504e04f8911d39a0c0305e82c3301",
		" 3f2504e0-4f89-11d3-9a0c-0305e82c3301",
	}
	for _, in := range inputs {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, model.ErrInvalidIdentifier, in)
	}
}

func TestNormalize_Injective(t *testing.T) {
	seen := make(map[string]string)
	for i := 0; i < 500; i++ {
		id := uuid.NewString()
		key, err := Normalize(id)
		require.NoError(t, err)
		for _, name := range []string{key.Tasks().Name(), key.Stages().Name()} {
			prev, dup := seen[name]
			require.False(t, dup, "%s and %s both map to %s", prev, id, name)
			seen[name] = id
		}
	}
}

func TestTable_Quoted(t *testing.T) {
	key := MustNormalize("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	assert.Equal(t, `"project_3f2504e0_4f89_11d3_9a0c_0305e82c3301_tasks"`, key.Tasks().Quoted())
	assert.Equal(t, `"tasks"`, GlobalTasks().Quoted())
	assert.Equal(t, `"idx_tasks_title"`, GlobalTasks().QuotedIndex("title"))
}

func TestParseTableName_RoundTrip(t *testing.T) {
	key := MustNormalize(uuid.NewString())

	tbl, ok := ParseTableName(key.Stages().Name())
	require.True(t, ok)
	assert.Equal(t, key.Stages(), tbl)

	tbl, ok = ParseTableName("tasks")
	require.True(t, ok)
	assert.True(t, tbl.IsGlobal())

	_, ok = ParseTableName("project_foo_tasks")
	assert.False(t, ok)
	_, ok = ParseTableName("entrepreneurs")
	assert.False(t, ok)
}

func TestResolveTable(t *testing.T) {
	tbl, err := ResolveTable("global")
	require.NoError(t, err)
	assert.Equal(t, GlobalTasks(), tbl)

	_, err = ResolveTable("nope")
	assert.ErrorIs(t, err, model.ErrInvalidIdentifier)
}

func TestTable_DerivedNamesFitIdentifierLimit(t *testing.T) {
	key := MustNormalize(uuid.NewString())
	for _, tbl := range []Table{key.Tasks(), key.Stages()} {
		for _, tag := range []string{"orig", "parent", "title"} {
			// quoted form carries two extra quote bytes
			assert.LessOrEqual(t, len(tbl.QuotedIndex(tag))-2, 63)
		}
		assert.LessOrEqual(t, len(tbl.QuotedPolicy())-2, 63)
	}
}
