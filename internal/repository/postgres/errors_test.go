package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"taskportal/internal/model"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		ddl  bool
		want error
	}{
		{"privilege", &pgconn.PgError{Code: "42501"}, true, model.ErrPermissionDenied},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false, model.ErrDestinationMissing},
		{"duplicate table during ddl", &pgconn.PgError{Code: "42P07"}, true, model.ErrProvisioningConflict},
		{"pg_type race during ddl", &pgconn.PgError{Code: "23505"}, true, model.ErrProvisioningConflict},
		{"connection class", &pgconn.PgError{Code: "08006"}, false, model.ErrStoreUnavailable},
		{"shutdown", &pgconn.PgError{Code: "57P01"}, false, model.ErrStoreUnavailable},
		{"deadline", context.DeadlineExceeded, false, model.ErrStoreUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapError("op", tc.err, tc.ddl)
			assert.ErrorIs(t, got, tc.want)
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestMapError_UniqueViolationOutsideDDL(t *testing.T) {
	got := mapError("upsert", &pgconn.PgError{Code: "23505"}, false)
	assert.False(t, errors.Is(got, model.ErrProvisioningConflict))

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(got, &pgErr))
}

func TestMapError_Nil(t *testing.T) {
	assert.NoError(t, mapError("op", nil, true))
}
