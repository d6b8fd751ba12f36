// Package repository defines the store capability contract the table
// sharding subsystem is built on. Implementations live in subpackages.
package repository

import (
	"context"

	"taskportal/internal/model"
	"taskportal/internal/shard"
)

// Schema covers the data-definition side of the contract.
type Schema interface {
	TableExists(ctx context.Context, t shard.Table) (bool, error)
	// CreateTableLike creates t with the column shape of t.Template() if it
	// does not already exist. Reports whether this call created it.
	CreateTableLike(ctx context.Context, t shard.Table) (bool, error)
	DropTable(ctx context.Context, t shard.Table) error
	GrantAccess(ctx context.Context, t shard.Table, roles []string) error
	RevokeAccess(ctx context.Context, t shard.Table, roles []string) error
	// ListProjectTables returns the keys of every project with at least one dedicated table.
	ListProjectTables(ctx context.Context) ([]shard.TableKey, error)
}

type TaskRows interface {
	// GetTasks returns the rows that exist; missing ids are simply absent.
	GetTasks(ctx context.Context, t shard.Table, ids []string) ([]model.Task, error)
	ListTasks(ctx context.Context, t shard.Table, includeDeleted bool) ([]model.Task, error)
	// FindByOriginal maps original_task_id to the row carrying it. When several
	// rows share an origin the live one updated most recently wins (ties on the
	// smallest id); a soft-deleted row is returned only when no live copy exists.
	FindByOriginal(ctx context.Context, t shard.Table, originalIDs []string) (map[string]model.Task, error)
	UpsertTask(ctx context.Context, t shard.Table, task model.Task) error
	UpdateTaskStage(ctx context.Context, t shard.Table, taskID string, stageID *string) error
	// ReparentChildren re-points every row whose parent is in from to the new parent.
	ReparentChildren(ctx context.Context, t shard.Table, from []string, to string) (int64, error)
	CountChildren(ctx context.Context, t shard.Table, parentIDs []string) (int64, error)
	DeleteTasks(ctx context.Context, t shard.Table, ids []string) (int64, error)
	SoftDeleteTasks(ctx context.Context, t shard.Table, ids []string) (int64, error)
}

type StageRows interface {
	ListStages(ctx context.Context, t shard.Table) ([]model.Stage, error)
	UpsertStage(ctx context.Context, t shard.Table, s model.Stage) error
}

type ProjectRows interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// Tx is the row-level surface available inside a transaction.
type Tx interface {
	TaskRows
	StageRows
}

type Store interface {
	Schema
	TaskRows
	StageRows
	ProjectRows
	// WithinTx runs fn in one transaction; a non-nil return rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// TransactionalDDL reports whether row deletes on dynamic tables can be
	// wrapped in a multi-statement transaction.
	TransactionalDDL() bool
	Ping(ctx context.Context) error
}

// Locker is the advisory-lock-by-name primitive.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}
