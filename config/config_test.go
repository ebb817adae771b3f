package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestConfig() *Config {
	c := &Config{}
	c.Auth.Enabled = true
	c.Auth.BcryptCost = 12
	c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	c.Backup.Interval = 5 * time.Minute
	return c
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.API.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, 8*time.Hour, cfg.Auth.JWTExpiry)
	assert.Equal(t, 5*time.Minute, cfg.Backup.Interval)
	assert.Equal(t, 50, cfg.Backup.ManualCap)
	assert.Equal(t, 10, cfg.Backup.AutoCap)

	// Paths derive from the data dir when unset.
	assert.Equal(t, filepath.Join("data", "lumen.db"), cfg.GetSQLitePath())
	assert.Equal(t, filepath.Join("data", "backups"), cfg.GetBackupDir())
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, validateConfig(defaultTestConfig()))

	t.Run("short jwt secret", func(t *testing.T) {
		c := defaultTestConfig()
		c.Auth.JWTSecret = "too-short"
		assert.Error(t, validateConfig(c))
	})

	t.Run("jwt secret ignored when auth disabled", func(t *testing.T) {
		c := defaultTestConfig()
		c.Auth.Enabled = false
		c.Auth.JWTSecret = "too-short"
		assert.NoError(t, validateConfig(c))
	})

	t.Run("bcrypt cost bounds", func(t *testing.T) {
		c := defaultTestConfig()
		c.Auth.BcryptCost = 9
		assert.Error(t, validateConfig(c))
		c.Auth.BcryptCost = 32
		assert.Error(t, validateConfig(c))
		c.Auth.BcryptCost = 10
		assert.NoError(t, validateConfig(c))
	})

	t.Run("backup interval floor", func(t *testing.T) {
		c := defaultTestConfig()
		c.Backup.Interval = 30 * time.Second
		assert.Error(t, validateConfig(c))
		c.Backup.Interval = time.Minute
		assert.NoError(t, validateConfig(c))
	})
}

func TestResolveDataPaths(t *testing.T) {
	t.Run("derives from data dir", func(t *testing.T) {
		c := &Config{}
		c.DataPaths.DataDir = "/tmp/lumen-data"
		c.ResolveDataPaths()
		assert.Equal(t, filepath.Join("/tmp/lumen-data", "lumen.db"), c.DataPaths.SQLitePath)
		assert.Equal(t, filepath.Join("/tmp/lumen-data", "backups"), c.DataPaths.BackupDir)
	})

	t.Run("explicit paths win", func(t *testing.T) {
		c := &Config{}
		c.DataPaths.DataDir = "/tmp/lumen-data"
		c.DataPaths.SQLitePath = "/tmp/elsewhere/db.sqlite"
		c.DataPaths.BackupDir = "/tmp/elsewhere/backups"
		c.ResolveDataPaths()
		assert.Equal(t, "/tmp/elsewhere/db.sqlite", c.DataPaths.SQLitePath)
		assert.Equal(t, "/tmp/elsewhere/backups", c.DataPaths.BackupDir)
	})
}
