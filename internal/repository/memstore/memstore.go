// Package memstore is an in-memory implementation of repository.Store.
//
// It keeps the same contract as the Postgres store, including rollback on
// failed transactions, and lets tests inject failures per operation.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"taskportal/internal/model"
	"taskportal/internal/repository"
	"taskportal/internal/shard"
)

type table struct {
	ref    shard.Table
	tasks  map[string]model.Task
	stages map[string]model.Stage
}

type state struct {
	tables   map[string]*table
	grants   map[string]map[string]bool
	projects map[string]model.Project
}

type fault struct {
	err       error
	remaining int // 0 means every call
}

type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[string]*fault
	txDDL  bool
}

var _ repository.Store = (*Store)(nil)

// New returns a store holding empty global tables.
func New() *Store {
	st := &state{
		tables:   make(map[string]*table),
		grants:   make(map[string]map[string]bool),
		projects: make(map[string]model.Project),
	}
	st.create(shard.GlobalTasks())
	st.create(shard.GlobalStages())
	return &Store{st: st, faults: make(map[string]*fault), txDDL: true}
}

// SetTransactionalDDL toggles what TransactionalDDL reports.
func (s *Store) SetTransactionalDDL(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txDDL = v
}

// FailOn makes every call to op return err until ClearFaults.
func (s *Store) FailOn(op string, err error) {
	s.FailTimes(op, err, 0)
}

// FailTimes makes the next n calls to op return err.
func (s *Store) FailTimes(op string, err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, remaining: n}
}

func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]*fault)
}

// caller holds s.mu
func (s *Store) check(op string) error {
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(s.faults, op)
		}
	}
	return f.err
}

// PutProject inserts or replaces a project row.
func (s *Store) PutProject(p model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.projects[p.ID] = p
}

// Grants returns the roles currently granted on t.
func (s *Store) Grants(t shard.Table) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roles []string
	for r := range s.st.grants[t.Name()] {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

func (s *Store) TransactionalDDL() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txDDL
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check("Ping")
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Begin"); err != nil {
		return err
	}

	view := &txView{store: s, st: s.st.clone()}
	if err := fn(ctx, view); err != nil {
		return err
	}
	if err := s.check("Commit"); err != nil {
		return err
	}
	s.st = view.st
	return nil
}

// --- Schema ---

func (s *Store) TableExists(ctx context.Context, t shard.Table) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("TableExists"); err != nil {
		return false, err
	}
	_, ok := s.st.tables[t.Name()]
	return ok, nil
}

func (s *Store) CreateTableLike(ctx context.Context, t shard.Table) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CreateTableLike"); err != nil {
		return false, err
	}
	if _, ok := s.st.tables[t.Template().Name()]; !ok {
		return false, fmt.Errorf("template %s: %w", t.Template(), model.ErrNotFound)
	}
	if _, ok := s.st.tables[t.Name()]; ok {
		return false, nil
	}
	s.st.create(t)
	return true, nil
}

func (s *Store) DropTable(ctx context.Context, t shard.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DropTable"); err != nil {
		return err
	}
	delete(s.st.tables, t.Name())
	delete(s.st.grants, t.Name())
	return nil
}

func (s *Store) GrantAccess(ctx context.Context, t shard.Table, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GrantAccess"); err != nil {
		return err
	}
	if _, ok := s.st.tables[t.Name()]; !ok {
		return fmt.Errorf("grant on %s: %w", t, model.ErrDestinationMissing)
	}
	g, ok := s.st.grants[t.Name()]
	if !ok {
		g = make(map[string]bool)
		s.st.grants[t.Name()] = g
	}
	for _, r := range roles {
		g[r] = true
	}
	return nil
}

func (s *Store) RevokeAccess(ctx context.Context, t shard.Table, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("RevokeAccess"); err != nil {
		return err
	}
	g := s.st.grants[t.Name()]
	for _, r := range roles {
		delete(g, r)
	}
	return nil
}

func (s *Store) ListProjectTables(ctx context.Context) ([]shard.TableKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListProjectTables"); err != nil {
		return nil, err
	}
	seen := make(map[string]shard.TableKey)
	for _, tb := range s.st.tables {
		if !tb.ref.IsGlobal() {
			seen[tb.ref.Key().Suffix()] = tb.ref.Key()
		}
	}
	keys := make([]shard.TableKey, 0, len(seen))
	for _, k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Suffix() < keys[j].Suffix() })
	return keys, nil
}

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetProject"); err != nil {
		return nil, err
	}
	p, ok := s.st.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteProject"); err != nil {
		return err
	}
	delete(s.st.projects, id)
	return nil
}

// --- Rows, delegated to an always-committed view ---

func (s *Store) direct() *txView { return &txView{store: s, st: s.st} }

func (s *Store) GetTasks(ctx context.Context, t shard.Table, ids []string) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().GetTasks(ctx, t, ids)
}

func (s *Store) ListTasks(ctx context.Context, t shard.Table, includeDeleted bool) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().ListTasks(ctx, t, includeDeleted)
}

func (s *Store) FindByOriginal(ctx context.Context, t shard.Table, originalIDs []string) (map[string]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().FindByOriginal(ctx, t, originalIDs)
}

func (s *Store) UpsertTask(ctx context.Context, t shard.Table, task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpsertTask(ctx, t, task)
}

func (s *Store) UpdateTaskStage(ctx context.Context, t shard.Table, taskID string, stageID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpdateTaskStage(ctx, t, taskID, stageID)
}

func (s *Store) ReparentChildren(ctx context.Context, t shard.Table, from []string, to string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().ReparentChildren(ctx, t, from, to)
}

func (s *Store) CountChildren(ctx context.Context, t shard.Table, parentIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().CountChildren(ctx, t, parentIDs)
}

func (s *Store) DeleteTasks(ctx context.Context, t shard.Table, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeleteTasks(ctx, t, ids)
}

func (s *Store) SoftDeleteTasks(ctx context.Context, t shard.Table, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SoftDeleteTasks(ctx, t, ids)
}

func (s *Store) ListStages(ctx context.Context, t shard.Table) ([]model.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().ListStages(ctx, t)
}

func (s *Store) UpsertStage(ctx context.Context, t shard.Table, st model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpsertStage(ctx, t, st)
}

func (st *state) create(t shard.Table) {
	st.tables[t.Name()] = &table{
		ref:    t,
		tasks:  make(map[string]model.Task),
		stages: make(map[string]model.Stage),
	}
}

func (st *state) clone() *state {
	c := &state{
		tables:   make(map[string]*table, len(st.tables)),
		grants:   make(map[string]map[string]bool, len(st.grants)),
		projects: make(map[string]model.Project, len(st.projects)),
	}
	for name, tb := range st.tables {
		ct := &table{
			ref:    tb.ref,
			tasks:  make(map[string]model.Task, len(tb.tasks)),
			stages: make(map[string]model.Stage, len(tb.stages)),
		}
		for id, task := range tb.tasks {
			ct.tasks[id] = task.Clone()
		}
		for id, stage := range tb.stages {
			ct.stages[id] = stage.Clone()
		}
		c.tables[name] = ct
	}
	for name, g := range st.grants {
		cg := make(map[string]bool, len(g))
		for r := range g {
			cg[r] = true
		}
		c.grants[name] = cg
	}
	for id, p := range st.projects {
		c.projects[id] = p
	}
	return c
}
