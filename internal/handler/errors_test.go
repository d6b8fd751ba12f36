package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"taskportal/internal/model"
	"taskportal/internal/service/dedup"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrInvalidIdentifier, http.StatusBadRequest},
		{fmt.Errorf("project x: %w", model.ErrNotProvisioned), http.StatusNotFound},
		{fmt.Errorf("seed: %w", model.ErrDestinationMissing), http.StatusConflict},
		{model.ErrProvisioningConflict, http.StatusConflict},
		{dedup.ErrNothingToResolve, http.StatusConflict},
		{fmt.Errorf("create: %w", model.ErrPermissionDenied), http.StatusForbidden},
		{model.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}
