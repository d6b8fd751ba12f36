package bootstrap

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskportal/internal/lock"
	"taskportal/internal/service/dedup"
	"taskportal/pkg/config"
)

func TestNewLocker(t *testing.T) {
	logger := zap.NewNop()

	l, err := NewLocker(config.LockConfig{Backend: "local"}, nil, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &lock.Local{}, l)

	_, err = NewLocker(config.LockConfig{Backend: "postgres"}, nil, nil, logger)
	assert.Error(t, err)

	_, err = NewLocker(config.LockConfig{Backend: "redis"}, nil, nil, logger)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	l, err = NewLocker(config.LockConfig{Backend: "redis"}, nil, rdb, logger)
	require.NoError(t, err)
	assert.IsType(t, &lock.Redis{}, l)

	_, err = NewLocker(config.LockConfig{Backend: "zookeeper"}, nil, nil, logger)
	assert.ErrorContains(t, err, "zookeeper")
}

func TestMaintenanceDefaults(t *testing.T) {
	opts, err := MaintenanceDefaults(config.Defaults().Maintenance)
	require.NoError(t, err)
	assert.Equal(t, dedup.MaintenanceOptions{
		GroupKey:    dedup.GroupByTitleProject,
		Strategy:    dedup.StrategyMostRecentlyUpdated,
		Disposition: dedup.DispositionSoft,
		DryRun:      true,
	}, opts)

	_, err = MaintenanceDefaults(config.MaintenanceConfig{Disposition: "shred"})
	assert.Error(t, err)
}
