package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_MergesEnvironmentAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: db.internal
  port: 5432
  user: portal
  password: ${DB_SECRET}
  name: portal
lock:
  backend: postgres
  ttl: 90s
shard:
  roles: [authenticated, "${EXTRA_ROLE}"]
`)
	writeFile(t, dir, "staging.yaml", `
db:
  name: portal_staging
lock:
  backend: redis
`)
	writeFile(t, dir, "secrets.env", "DB_SECRET=\"s3cret\"\nEXTRA_ROLE=reporting\n")

	cfg, err := Load("staging", dir)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, "portal_staging", cfg.DB.Name)
	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, 90*time.Second, cfg.Lock.TTL)
	assert.Equal(t, []string{"authenticated", "reporting"}, cfg.Shard.Roles)
	// untouched defaults survive
	assert.Equal(t, "soft", cfg.Maintenance.Disposition)
	assert.Equal(t, 100, cfg.DB.SlowQueryMS)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  host: a\n")
	t.Setenv("DB_HOST", "b")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("SHARD_ROLES", " app , ,admin")
	t.Setenv("LOCK_BACKEND", "local")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, "b", cfg.DB.Host)
	assert.Equal(t, 6543, cfg.DB.Port)
	assert.Equal(t, []string{"app", "admin"}, cfg.Shard.Roles)
	assert.Equal(t, "local", cfg.Lock.Backend)
}

func TestLoad_MissingBase(t *testing.T) {
	_, err := Load("local", t.TempDir())
	assert.Error(t, err)
}

func TestMergeMaps_Nested(t *testing.T) {
	dst := map[string]interface{}{"db": map[string]interface{}{"host": "a", "port": 1}}
	src := map[string]interface{}{"db": map[string]interface{}{"host": "b"}}
	got := mergeMaps(dst, src)
	assert.Equal(t, map[string]interface{}{"host": "b", "port": 1}, got["db"])
}
