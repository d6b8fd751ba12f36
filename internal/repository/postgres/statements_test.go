package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskportal/internal/shard"
)

const projectID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"

func TestCreateTableStatements_Tasks(t *testing.T) {
	tbl := shard.MustNormalize(projectID).Tasks()
	stmts := createTableStatements(tbl)
	require.Len(t, stmts, 4)

	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "project_3f2504e0_4f89_11d3_9a0c_0305e82c3301_tasks" (LIKE "tasks" INCLUDING DEFAULTS INCLUDING CONSTRAINTS INCLUDING INDEXES)`,
		stmts[0])
	for _, s := range stmts {
		assert.True(t, strings.Contains(s, "IF NOT EXISTS"), s)
		assert.NotContains(t, s, "REFERENCES")
	}
}

func TestCreateTableStatements_Stages(t *testing.T) {
	tbl := shard.MustNormalize(projectID).Stages()
	stmts := createTableStatements(tbl)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], `(LIKE "stages"`)
}

func TestGrantStatements_QuotesRoles(t *testing.T) {
	tbl := shard.MustNormalize(projectID).Tasks()
	stmts := grantStatements(tbl, []string{"authenticated", `evil"; drop table tasks; --`})
	require.NotEmpty(t, stmts)
	assert.Contains(t, stmts[0], `TO "authenticated", "evil""; drop table tasks; --"`)
	assert.Contains(t, stmts[3], "USING (true) WITH CHECK (true)")

	assert.Empty(t, grantStatements(tbl, nil))
}

func TestRevokeStatements(t *testing.T) {
	tbl := shard.MustNormalize(projectID).Stages()
	stmts := revokeStatements(tbl, []string{"service_role"})
	require.Len(t, stmts, 2)
	assert.Equal(t, `REVOKE ALL ON "project_3f2504e0_4f89_11d3_9a0c_0305e82c3301_stages" FROM "service_role"`, stmts[1])
}

func TestDropTableStatement(t *testing.T) {
	tbl := shard.MustNormalize(projectID).Tasks()
	assert.Equal(t, `DROP TABLE IF EXISTS "project_3f2504e0_4f89_11d3_9a0c_0305e82c3301_tasks"`, dropTableStatement(tbl))
}

func TestUpsertTaskSQL_Placeholders(t *testing.T) {
	sql := upsertTaskSQL(shard.GlobalTasks())
	assert.Contains(t, sql, "$16")
	assert.NotContains(t, sql, "$17")
	assert.Contains(t, sql, "ON CONFLICT (id) DO UPDATE")
}

func TestFindByOriginalSQL_LiveRowsFirst(t *testing.T) {
	sql := findByOriginalSQL(shard.GlobalTasks())
	assert.Contains(t, sql, "DISTINCT ON (original_task_id)")
	assert.Contains(t, sql, "ORDER BY original_task_id, deleted, updated_at DESC, id")
}
