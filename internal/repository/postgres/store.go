// Package postgres implements repository.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskportal/internal/model"
	"taskportal/internal/repository"
	"taskportal/internal/shard"
	"taskportal/pkg/metrics"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	rows
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger,
		rows:   rows{q: pool, logger: logger},
	}
}

// EnsureSchema creates the global tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.logger.Info("Ensuring global schema", zap.Int("statements", len(globalSchema)))
	for _, stmt := range globalSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			s.logger.Error("Failed to apply schema statement", zap.Error(err))
			return mapError("ensure schema", err, true)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.pool.Ping(ctx), false)
}

// TransactionalDDL is true: PostgreSQL runs DML on dynamic tables inside
// ordinary transactions.
func (s *Store) TransactionalDDL() bool { return true }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError("begin transaction", err, false)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, rows{q: tx, logger: s.logger}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError("commit transaction", err, false)
	}
	return nil
}

// --- Schema ---

func (s *Store) TableExists(ctx context.Context, t shard.Table) (bool, error) {
	defer observe("table_exists", t, time.Now())
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, t.Name()).Scan(&exists)
	if err != nil {
		return false, mapError("table exists "+t.Name(), err, false)
	}
	return exists, nil
}

func (s *Store) CreateTableLike(ctx context.Context, t shard.Table) (bool, error) {
	defer observe("create_table", t, time.Now())

	existed, err := s.TableExists(ctx, t)
	if err != nil {
		return false, err
	}

	s.logger.Debug("Creating project table",
		zap.String("table", t.Name()),
		zap.String("template", t.Template().Name()),
	)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, mapError("begin create "+t.Name(), err, true)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range createTableStatements(t) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			s.logger.Error("Failed to create project table",
				zap.String("table", t.Name()),
				zap.Error(err),
			)
			return false, mapError("create "+t.Name(), err, true)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, mapError("commit create "+t.Name(), err, true)
	}

	if !existed {
		s.logger.Info("Project table created", zap.String("table", t.Name()))
	}
	return !existed, nil
}

func (s *Store) DropTable(ctx context.Context, t shard.Table) error {
	defer observe("drop_table", t, time.Now())
	if _, err := s.pool.Exec(ctx, dropTableStatement(t)); err != nil {
		s.logger.Error("Failed to drop table", zap.String("table", t.Name()), zap.Error(err))
		return mapError("drop "+t.Name(), err, true)
	}
	s.logger.Info("Table dropped", zap.String("table", t.Name()))
	return nil
}

func (s *Store) GrantAccess(ctx context.Context, t shard.Table, roles []string) error {
	defer observe("grant", t, time.Now())
	return s.execAll(ctx, "grant on "+t.Name(), grantStatements(t, roles))
}

func (s *Store) RevokeAccess(ctx context.Context, t shard.Table, roles []string) error {
	defer observe("revoke", t, time.Now())
	return s.execAll(ctx, "revoke on "+t.Name(), revokeStatements(t, roles))
}

func (s *Store) execAll(ctx context.Context, op string, stmts []string) error {
	if len(stmts) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError(op, err, true)
	}
	defer tx.Rollback(ctx)
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return mapError(op, err, true)
		}
	}
	return mapError(op, tx.Commit(ctx), true)
}

func (s *Store) ListProjectTables(ctx context.Context) ([]shard.TableKey, error) {
	rs, err := s.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name LIKE 'project\_%'
		ORDER BY table_name`)
	if err != nil {
		return nil, mapError("list project tables", err, false)
	}
	names, err := pgx.CollectRows(rs, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("list project tables", err, false)
	}

	seen := make(map[string]bool)
	var keys []shard.TableKey
	for _, name := range names {
		tbl, ok := shard.ParseTableName(name)
		if !ok || tbl.IsGlobal() || seen[tbl.Key().Suffix()] {
			continue
		}
		seen[tbl.Key().Suffix()] = true
		keys = append(keys, tbl.Key())
	}
	return keys, nil
}

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, status, entrepreneur_id, created_at, updated_at
		FROM projects WHERE id = $1::uuid`, id).Scan(
		&p.ID, &p.Name, &p.Status, &p.EntrepreneurID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, mapError("get project", err, false)
	}
	return &p, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1::uuid`, id)
	if err != nil {
		s.logger.Error("Failed to delete project", zap.String("project_id", id), zap.Error(err))
		return mapError("delete project", err, false)
	}
	s.logger.Info("Project deleted",
		zap.String("project_id", id),
		zap.Int64("rows_affected", tag.RowsAffected()),
	)
	return nil
}

func observe(op string, t shard.Table, start time.Time) {
	table := t.Name()
	if !t.IsGlobal() {
		// keep label cardinality bounded
		table = "project_" + t.Kind().String()
	}
	metrics.RecordDBQueryDuration(op, table, time.Since(start))
}
