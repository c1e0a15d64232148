package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadLayered_MergesEnvAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  name: hub
  password: ${DB_PASS}
realtime:
  max_attempts: 5
server:
  port: ":8080"
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
realtime:
  base_delay_ms: 500
`)
	writeFile(t, dir, "secrets.env", "# comment\nDB_PASS='s3cret'\n")

	cfg, err := LoadLayered("staging", dir)
	require.NoError(t, err)

	assert.Equal(t, "db.staging", cfg.DB.Host)
	assert.Equal(t, "hub", cfg.DB.Name)
	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, 500, cfg.Realtime.BaseDelayMs)
	assert.Equal(t, 30000, cfg.Realtime.MaxDelayMs)
	assert.Equal(t, 5432, cfg.DB.Port)
}

func TestLoadLayered_MissingBase(t *testing.T) {
	_, err := LoadLayered("local", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, apperr.KindFatalConfig, apperr.KindOf(err))
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "db:\n  host: localhost\n  name: hub\n")
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "config.yaml"))
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("JWT_SECRET", "topsecret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pg.internal", cfg.DB.Host)
	assert.Equal(t, "topsecret", cfg.JWT.Secret)
	assert.Equal(t, "progress_changes", cfg.Realtime.NotifyChannel)
}

func TestValidate(t *testing.T) {
	cfg := &Config{DB: DBConfig{Host: "h", Name: "n"}}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate(false, false))

	err := cfg.Validate(true, false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindFatalConfig, apperr.KindOf(err))

	err = cfg.Validate(false, true)
	assert.Contains(t, err.Error(), "jwt.secret")

	cfg.DB.Host = ""
	assert.Contains(t, cfg.Validate(false, false).Error(), "db.host")
}

func TestMergeMaps_Nested(t *testing.T) {
	dst := map[string]interface{}{"a": map[string]interface{}{"x": 1, "y": 2}, "b": "keep"}
	src := map[string]interface{}{"a": map[string]interface{}{"y": 3}}
	got := mergeMaps(dst, src)
	assert.Equal(t, map[string]interface{}{"x": 1, "y": 3}, got["a"])
	assert.Equal(t, "keep", got["b"])
}
