// Package config provides configuration management for the backtest cache.
package config

import (
	"fmt"
	"time"
)

// Storage backend names accepted by StorageConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Policies for lists that have no total order.
const (
	UnsortableReject  = "reject"
	UnsortableExclude = "exclude"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"-"`
	Hashing   HashingConfig   `mapstructure:"hashing" validate:"required"`
	Retention RetentionConfig `mapstructure:"retention"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// StorageConfig selects and tunes the record store.
type StorageConfig struct {
	Backend    string `mapstructure:"backend" validate:"required,backend"`
	Path       string `mapstructure:"path"`
	MaxRecords int    `mapstructure:"max_records" validate:"gte=0"`
	// InMemory runs Badger without touching disk.
	InMemory   bool `mapstructure:"in_memory"`
	SyncWrites bool `mapstructure:"sync_writes"`
}

// DatabaseConfig represents database connection configuration. It is only validated
// when the postgres backend is selected.
type DatabaseConfig struct {
	Host               string `mapstructure:"host" validate:"required"`
	Port               int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Name               string `mapstructure:"name" validate:"required"`
	User               string `mapstructure:"user" validate:"required"`
	Password           string `mapstructure:"password" validate:"required"`
	SSLMode            string `mapstructure:"ssl_mode" validate:"required,oneof=disable require verify-full"`
	MaxConnections     int    `mapstructure:"max_connections" validate:"required,gt=0"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections" validate:"gte=0"`
	Table              string `mapstructure:"table" validate:"required,sqlident"`
}

// HashingConfig controls identity derivation.
type HashingConfig struct {
	UnsortablePolicy string `mapstructure:"unsortable_policy" validate:"required,oneof=reject exclude"`
}

// RetentionConfig schedules age-based cleanup.
type RetentionConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Schedule       string `mapstructure:"schedule" validate:"omitempty,cron"`
	MaxAgeDays     int    `mapstructure:"max_age_days" validate:"gte=0"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"gte=0"`
	// DeleteRatePerSecond caps cleanup deletes. Zero means unthrottled.
	DeleteRatePerSecond float64 `mapstructure:"delete_rate_per_second" validate:"gte=0"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Path    string `mapstructure:"path"`
}

// SecretsConfig points at an AWS Secrets Manager secret overlaid on the loaded file.
type SecretsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Region     string `mapstructure:"region"`
	SecretName string `mapstructure:"secret_name"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging checks if the application is running in staging mode
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RetentionTimeout bounds a single scheduled cleanup run. Zero means no bound.
func (c *Config) RetentionTimeout() time.Duration {
	return time.Duration(c.Retention.TimeoutSeconds) * time.Second
}

// MetricsAddress is the listen address of the health and metrics server.
func (c *Config) MetricsAddress() string {
	return fmt.Sprintf(":%d", c.Metrics.Port)
}
