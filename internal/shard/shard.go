// Package shard derives the names of the per-project task and stage tables.
//
// Every table name that reaches SQL is produced here. Callers never format
// table names themselves; they pass Table values around and ask for Quoted().
package shard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"taskportal/internal/model"
)

const (
	GlobalTasksName  = "tasks"
	GlobalStagesName = "stages"

	projectPrefix = "project_"
	tasksSuffix   = "_tasks"
	stagesSuffix  = "_stages"
)

// canonical hyphenated UUID, case-insensitive
var canonicalUUID = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var projectTableName = regexp.MustCompile(`^project_([0-9a-f]{8}_[0-9a-f]{4}_[0-9a-f]{4}_[0-9a-f]{4}_[0-9a-f]{12})_(tasks|stages)$`)

type Kind int

const (
	KindTasks Kind = iota
	KindStages
)

func (k Kind) String() string {
	if k == KindStages {
		return "stages"
	}
	return "tasks"
}

// TableKey is the normalized form of a project identifier.
type TableKey struct {
	projectID string
	suffix    string
}

// Normalize validates a project identifier and derives its table key.
// Only the 36 character hyphenated UUID form is accepted.
func Normalize(projectID string) (TableKey, error) {
	if !canonicalUUID.MatchString(projectID) {
		return TableKey{}, fmt.Errorf("%w: %q", model.ErrInvalidIdentifier, projectID)
	}
	id, err := uuid.Parse(projectID)
	if err != nil {
		return TableKey{}, fmt.Errorf("%w: %q: %v", model.ErrInvalidIdentifier, projectID, err)
	}
	canonical := id.String()
	return TableKey{
		projectID: canonical,
		suffix:    strings.ReplaceAll(canonical, "-", "_"),
	}, nil
}

// MustNormalize panics on invalid input. Intended for tests and constants.
func MustNormalize(projectID string) TableKey {
	k, err := Normalize(projectID)
	if err != nil {
		panic(err)
	}
	return k
}

func (k TableKey) IsZero() bool { return k.suffix == "" }

// ProjectID returns the canonical lowercase project identifier.
func (k TableKey) ProjectID() string { return k.projectID }

func (k TableKey) Suffix() string { return k.suffix }

func (k TableKey) Tasks() Table {
	return Table{name: projectPrefix + k.suffix + tasksSuffix, kind: KindTasks, key: k}
}

func (k TableKey) Stages() Table {
	return Table{name: projectPrefix + k.suffix + stagesSuffix, kind: KindStages, key: k}
}

// LockName is the advisory lock name guarding this project's tables.
func (k TableKey) LockName() string {
	return "project-tables:" + k.suffix
}

func (k TableKey) String() string { return k.projectID }

// Table identifies either a global table or one project's dedicated table.
type Table struct {
	name string
	kind Kind
	key  TableKey
}

func GlobalTasks() Table  { return Table{name: GlobalTasksName, kind: KindTasks} }
func GlobalStages() Table { return Table{name: GlobalStagesName, kind: KindStages} }

func (t Table) Name() string { return t.name }
func (t Table) Kind() Kind   { return t.kind }

// IsGlobal reports whether the table is one of the shared tables.
func (t Table) IsGlobal() bool { return t.key.IsZero() }

// Key returns the owning project key; zero for global tables.
func (t Table) Key() TableKey { return t.key }

// Template returns the global table whose column shape this table copies.
func (t Table) Template() Table {
	if t.kind == KindStages {
		return GlobalStages()
	}
	return GlobalTasks()
}

// Quoted is the escaping chokepoint for dynamic SQL.
func (t Table) Quoted() string {
	return pgx.Identifier{t.name}.Sanitize()
}

// QuotedIndex returns a quoted index name derived from the table name.
// Tags are kept short so project index names stay within 63 bytes.
func (t Table) QuotedIndex(tag string) string {
	return pgx.Identifier{"idx_" + t.name + "_" + tag}.Sanitize()
}

// QuotedPolicy returns the quoted name of the table's access policy.
func (t Table) QuotedPolicy() string {
	return pgx.Identifier{"p_" + t.name}.Sanitize()
}

func (t Table) String() string { return t.name }

// ParseTableName maps a physical table name back to its Table.
func ParseTableName(name string) (Table, bool) {
	switch name {
	case GlobalTasksName:
		return GlobalTasks(), true
	case GlobalStagesName:
		return GlobalStages(), true
	}
	m := projectTableName.FindStringSubmatch(name)
	if m == nil {
		return Table{}, false
	}
	key, err := Normalize(strings.ReplaceAll(m[1], "_", "-"))
	if err != nil {
		return Table{}, false
	}
	if m[2] == "stages" {
		return key.Stages(), true
	}
	return key.Tasks(), true
}

// ResolveTable maps "global" or a project id to that project's task table.
func ResolveTable(ref string) (Table, error) {
	if ref == "" || ref == "global" {
		return GlobalTasks(), nil
	}
	key, err := Normalize(ref)
	if err != nil {
		return Table{}, err
	}
	return key.Tasks(), nil
}
