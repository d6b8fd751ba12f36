package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"taskportal/internal/shard"
)

// Every statement that names a dynamic table is built here from shard.Table,
// which quotes through a single chokepoint.

const taskColumns = `id, title, description, project_id, stage_id, parent_task_id,
	hierarchical_number, status, priority, assignees, due_date, completed_at,
	deleted, original_task_id, created_at, updated_at`

const stageColumns = `id, title, description, project_id, sort_order, created_at, updated_at`

// globalSchema creates the shared tables the per-project tables are cloned from.
var globalSchema = []string{
	`CREATE TABLE IF NOT EXISTS entrepreneurs (
		id          UUID PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL DEFAULT '',
		phone       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_entrepreneurs_name_ci ON entrepreneurs (lower(btrim(name)))`,
	`CREATE TABLE IF NOT EXISTS projects (
		id              UUID PRIMARY KEY,
		name            TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'active',
		entrepreneur_id UUID REFERENCES entrepreneurs(id) ON DELETE SET NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stages (
		id          UUID PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		project_id  UUID,
		sort_order  INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id                  UUID PRIMARY KEY,
		title               TEXT NOT NULL,
		description         TEXT NOT NULL DEFAULT '',
		project_id          UUID,
		stage_id            UUID,
		parent_task_id      UUID,
		hierarchical_number TEXT,
		status              TEXT NOT NULL DEFAULT 'todo'
			CHECK (status IN ('todo', 'in_progress', 'review', 'done')),
		priority            TEXT NOT NULL DEFAULT 'medium'
			CHECK (priority IN ('low', 'medium', 'high')),
		assignees           TEXT[] NOT NULL DEFAULT '{}',
		due_date            TIMESTAMPTZ,
		completed_at        TIMESTAMPTZ,
		deleted             BOOLEAN NOT NULL DEFAULT false,
		original_task_id    UUID,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks (project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_orig ON tasks (original_task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_task_id)`,
}

// createTableStatements clones the template's columns, defaults, checks and
// primary key. LIKE never copies foreign keys.
func createTableStatements(t shard.Table) []string {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING DEFAULTS INCLUDING CONSTRAINTS INCLUDING INDEXES)`,
			t.Quoted(), t.Template().Quoted()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (title)`, t.QuotedIndex("title"), t.Quoted()),
	}
	if t.Kind() == shard.KindTasks {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (original_task_id)`, t.QuotedIndex("orig"), t.Quoted()),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (parent_task_id)`, t.QuotedIndex("parent"), t.Quoted()),
		)
	}
	return stmts
}

func quoteRoles(roles []string) string {
	quoted := make([]string, len(roles))
	for i, r := range roles {
		quoted[i] = pgx.Identifier{r}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// grantStatements grants row access and installs a permissive policy;
// per-row authorization happens above this layer.
func grantStatements(t shard.Table, roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	r := quoteRoles(roles)
	return []string{
		fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE, DELETE ON %s TO %s`, t.Quoted(), r),
		fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, t.Quoted()),
		fmt.Sprintf(`DROP POLICY IF EXISTS %s ON %s`, t.QuotedPolicy(), t.Quoted()),
		fmt.Sprintf(`CREATE POLICY %s ON %s FOR ALL TO %s USING (true) WITH CHECK (true)`, t.QuotedPolicy(), t.Quoted(), r),
	}
}

func revokeStatements(t shard.Table, roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	return []string{
		fmt.Sprintf(`DROP POLICY IF EXISTS %s ON %s`, t.QuotedPolicy(), t.Quoted()),
		fmt.Sprintf(`REVOKE ALL ON %s FROM %s`, t.Quoted(), quoteRoles(roles)),
	}
}

func dropTableStatement(t shard.Table) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.Quoted())
}

func selectTasksSQL(t shard.Table, where string) string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at, id`, taskColumns, t.Quoted(), where)
}

// findByOriginalSQL 每个 original_task_id 只取一行：未删除优先，其次最近更新，最后最小 id
func findByOriginalSQL(t shard.Table) string {
	return fmt.Sprintf(`SELECT DISTINCT ON (original_task_id) %s FROM %s
		WHERE original_task_id = ANY($1::uuid[])
		ORDER BY original_task_id, deleted, updated_at DESC, id`, taskColumns, t.Quoted())
}

func upsertTaskSQL(t shard.Table) string {
	return fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			project_id = EXCLUDED.project_id,
			stage_id = EXCLUDED.stage_id,
			parent_task_id = EXCLUDED.parent_task_id,
			hierarchical_number = EXCLUDED.hierarchical_number,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			assignees = EXCLUDED.assignees,
			due_date = EXCLUDED.due_date,
			completed_at = EXCLUDED.completed_at,
			deleted = EXCLUDED.deleted,
			original_task_id = EXCLUDED.original_task_id,
			updated_at = EXCLUDED.updated_at`, t.Quoted(), taskColumns)
}

// reparentSQL moves children to the survivor; the survivor itself never
// becomes its own parent.
func reparentSQL(t shard.Table) string {
	return fmt.Sprintf(`UPDATE %s
		SET parent_task_id = CASE WHEN id = $2::uuid THEN NULL ELSE $2::uuid END
		WHERE parent_task_id = ANY($1::uuid[])`, t.Quoted())
}

func upsertStageSQL(t shard.Table) string {
	return fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			project_id = EXCLUDED.project_id,
			sort_order = EXCLUDED.sort_order,
			updated_at = EXCLUDED.updated_at`, t.Quoted(), stageColumns)
}
