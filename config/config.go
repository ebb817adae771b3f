// Package config loads service configuration from file, environment, and
// defaults.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DataPaths holds all data directory and file path configuration. Paths can
// be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (LUMEN_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the database file path (LUMEN_SQLITE_PATH, default: ${DataDir}/lumen.db)
	SQLitePath string `mapstructure:"sqlite_path"`
	// BackupDir is where snapshot artifacts land (LUMEN_BACKUP_DIR, default: ${DataDir}/backups)
	BackupDir string `mapstructure:"backup_dir"`
}

// Config holds all configuration for the clinical record service.
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	API struct {
		Port int  `mapstructure:"port"`
		TLS  bool `mapstructure:"tls"`
		// CertFile and KeyFile are only read when TLS is enabled
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled    bool          `mapstructure:"enabled"`
		BcryptCost int           `mapstructure:"bcrypt_cost"`
		JWTSecret  string        `mapstructure:"jwt_secret"`
		JWTExpiry  time.Duration `mapstructure:"jwt_expiry"`
	} `mapstructure:"auth"`

	Backup struct {
		// Interval between unattended auto backups
		Interval time.Duration `mapstructure:"interval"`
		// ManualCap / AutoCap bound how many artifacts of each kind are retained
		ManualCap int `mapstructure:"manual_cap"`
		AutoCap   int `mapstructure:"auto_cap"`
	} `mapstructure:"backup"`
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir
	viper.SetDefault("data_paths.backup_dir", "")  // Empty = derive from data_dir

	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.cert_file", "server.crt")
	viper.SetDefault("api.key_file", "server.key")

	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.bcrypt_cost", 12)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.jwt_expiry", 8*time.Hour)

	viper.SetDefault("backup.interval", 5*time.Minute)
	viper.SetDefault("backup.manual_cap", 50)
	viper.SetDefault("backup.auto_cap", 10)
}

// loadFromEnv sets up environment variable loading.
func loadFromEnv() {
	viper.SetEnvPrefix("LUMEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Shorter env var names for the common path settings
	_ = viper.BindEnv("data_paths.data_dir", "LUMEN_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "LUMEN_SQLITE_PATH")
	_ = viper.BindEnv("data_paths.backup_dir", "LUMEN_BACKUP_DIR")
	_ = viper.BindEnv("auth.jwt_secret", "LUMEN_JWT_SECRET")
}

// LoadConfig reads configuration from config.yaml (working directory or
// ./config), environment, and defaults, in that precedence order.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	config.ResolveDataPaths()

	return &config, nil
}

func validateConfig(c *Config) error {
	if c.Auth.Enabled && c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters (256 bits)")
	}
	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 10 and 31, got %d", c.Auth.BcryptCost)
	}
	if c.Backup.Interval < time.Minute {
		return fmt.Errorf("backup interval must be at least 1 minute, got %s", c.Backup.Interval)
	}
	return nil
}

// ResolveDataPaths derives unset paths from DataDir.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "lumen.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	if c.DataPaths.BackupDir == "" {
		c.DataPaths.BackupDir = filepath.Join(dataDir, "backups")
	} else if !filepath.IsAbs(c.DataPaths.BackupDir) {
		c.DataPaths.BackupDir = filepath.Clean(c.DataPaths.BackupDir)
	}

	c.DataPaths.DataDir = dataDir
}

// GetDataDir returns the resolved base data directory.
func (c *Config) GetDataDir() string {
	if c.DataPaths.DataDir == "" {
		return "./data"
	}
	return c.DataPaths.DataDir
}

// GetSQLitePath returns the resolved database file path.
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		return filepath.Join(c.GetDataDir(), "lumen.db")
	}
	return c.DataPaths.SQLitePath
}

// GetBackupDir returns the resolved backup artifact directory.
func (c *Config) GetBackupDir() string {
	if c.DataPaths.BackupDir == "" {
		return filepath.Join(c.GetDataDir(), "backups")
	}
	return c.DataPaths.BackupDir
}
