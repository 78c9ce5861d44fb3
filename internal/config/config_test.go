// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "doorman", cfg.Channel)
	assert.Equal(t, "memory", cfg.Driver.Type)
	assert.True(t, cfg.Filters.Frequency)
	assert.Equal(t, int64(2), cfg.TimeUnitQuota.Second)
	assert.Equal(t, int64(3600), cfg.TimeResetLimit)
	assert.Equal(t, int64(300), cfg.Session.ExpirySeconds)
	assert.False(t, cfg.FailOpen, "default policy is fail closed")
	assert.Empty(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doorman.yaml")
	data := `
channel: test_site
driver:
  type: sqlite
  path: /tmp/doorman.sqlite3
time_unit_quota:
  s: 4
  m: 20
  h: 60
  d: 240
limit_unusual_behavior:
  cookie: 3
  session: 3
  referer: 3
deny_attempt:
  data_circle:
    enable: true
    buffer: 2
  reset_seconds: 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test_site", cfg.Channel)
	assert.Equal(t, "sqlite", cfg.Driver.Type)
	assert.Equal(t, int64(4), cfg.TimeUnitQuota.Second)
	assert.Equal(t, int64(240), cfg.TimeUnitQuota.Day)
	assert.Equal(t, int64(3), cfg.LimitUnusualBehavior.Cookie)
	assert.True(t, cfg.DenyAttempt.DataCircle.Enable)
	assert.Equal(t, int64(2), cfg.DenyAttempt.DataCircle.Buffer)
	assert.Equal(t, int64(5), cfg.DenyAttempt.ResetSeconds)

	// Unset fields keep their defaults.
	assert.Equal(t, int64(3600), cfg.TimeResetLimit)
	assert.Equal(t, "ddd", cfg.CookieName)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.GetKind(err))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channel = "bad channel"
	cfg.Driver = DriverConfig{Type: "sqlite"} // missing path
	cfg.TimeUnitQuota.Second = -1

	errs := cfg.Validate()
	assert.Len(t, errs, 3)
	for _, err := range errs {
		kind := errors.GetKind(err)
		assert.Contains(t, []errors.Kind{errors.KindConfiguration, errors.KindValidation}, kind)
	}
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver.Type = "cassandra"
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unknown driver type")
}
