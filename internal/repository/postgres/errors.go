package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"taskportal/internal/model"
)

// SQLSTATE codes the store translates into the subsystem's error taxonomy.
const (
	codeInsufficientPrivilege = "42501"
	codeDuplicateTable        = "42P07"
	codeDuplicateObject       = "42710"
	codeUniqueViolation       = "23505"
	codeUndefinedTable        = "42P01"
	codeSerializationFailure  = "40001"
	codeDeadlockDetected      = "40P01"
	codeLockNotAvailable      = "55P03"
	codeAdminShutdown         = "57P01"
	codeCrashShutdown         = "57P02"
	codeCannotConnectNow      = "57P03"
)

// mapError wraps err with the matching taxonomy sentinel while keeping the
// driver error reachable through errors.As. ddl marks schema operations,
// where uniqueness and lock failures mean a concurrent provisioning attempt.
func mapError(op string, err error, ddl bool) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeInsufficientPrivilege:
			return fmt.Errorf("%s: %w: %w", op, model.ErrPermissionDenied, err)
		case pgErr.Code == codeUndefinedTable:
			return fmt.Errorf("%s: %w: %w", op, model.ErrDestinationMissing, err)
		case ddl && (pgErr.Code == codeDuplicateTable || pgErr.Code == codeDuplicateObject ||
			pgErr.Code == codeUniqueViolation || pgErr.Code == codeDeadlockDetected ||
			pgErr.Code == codeLockNotAvailable || pgErr.Code == codeSerializationFailure):
			return fmt.Errorf("%s: %w: %w", op, model.ErrProvisioningConflict, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == codeAdminShutdown,
			pgErr.Code == codeCrashShutdown,
			pgErr.Code == codeCannotConnectNow:
			return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
