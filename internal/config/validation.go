package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var sqlIdentPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	// RegisterValidation only fails for empty or reserved tags.
	_ = v.RegisterValidation("environment", validateEnvironment)
	_ = v.RegisterValidation("loglevel", validateLogLevel)
	_ = v.RegisterValidation("backend", validateBackend)
	_ = v.RegisterValidation("cron", validateCron)
	_ = v.RegisterValidation("sqlident", validateSQLIdent)

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	if err := cv.validateStruct(cfg); err != nil {
		return err
	}

	// The database section only matters for the postgres backend.
	if cfg.Storage.Backend == BackendPostgres {
		if err := cv.validateStruct(&cfg.Database); err != nil {
			return err
		}
	}

	return validateCrossField(cfg)
}

func (cv *CustomValidator) validateStruct(s any) error {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return formatValidationErrors(validationErrors)
	}
	return fmt.Errorf("validation failed: %w", err)
}

// validateEnvironment validates the environment field
func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

// validateLogLevel validates the log level field
func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func validateBackend(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case BackendMemory, BackendLevelDB, BackendBadger, BackendPostgres:
		return true
	default:
		return false
	}
}

// validateCron accepts the same five-field expressions the retention scheduler parses.
func validateCron(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}

func validateSQLIdent(fl validator.FieldLevel) bool {
	return sqlIdentPattern.MatchString(fl.Field().String())
}

// validateCrossField performs cross-field validations
func validateCrossField(cfg *Config) error {
	switch cfg.Storage.Backend {
	case BackendLevelDB:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the leveldb backend")
		}
	case BackendBadger:
		if !cfg.Storage.InMemory && strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the badger backend unless in_memory is set")
		}
	case BackendPostgres:
		if cfg.Database.MaxIdleConnections > cfg.Database.MaxConnections {
			return fmt.Errorf("max_idle_connections cannot exceed max_connections")
		}
	}

	if cfg.Retention.Enabled {
		if cfg.Retention.Schedule == "" {
			return fmt.Errorf("retention.schedule is required when retention is enabled")
		}
		if cfg.Retention.MaxAgeDays < 1 {
			return fmt.Errorf("retention.max_age_days must be at least 1 when retention is enabled")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics.port is required when metrics are enabled")
	}

	if cfg.Secrets.Enabled && (cfg.Secrets.Region == "" || cfg.Secrets.SecretName == "") {
		return fmt.Errorf("secrets.region and secrets.secret_name are required when secrets are enabled")
	}

	return ValidateEnvironment(cfg)
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var errMsg string
	for _, fieldError := range validationErrors {
		field := fieldError.StructField()
		tag := fieldError.Tag()
		value := fieldError.Value()

		switch tag {
		case "required":
			errMsg += fmt.Sprintf("- Field '%s' is required\n", field)
		case "min", "max":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: %s constraint violated\n", field, tag)
		case "gt", "gte", "lt", "lte":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: numeric constraint %s violated\n", field, tag)
		case "environment":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: development, staging, production\n", field)
		case "loglevel":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: debug, info, warn, error\n", field)
		case "backend":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: memory, leveldb, badger, postgres, got '%v'\n", field, value)
		case "cron":
			errMsg += fmt.Sprintf("- Field '%s' must be a five-field cron expression, got '%v'\n", field, value)
		case "sqlident":
			errMsg += fmt.Sprintf("- Field '%s' must be a lowercase SQL identifier, got '%v'\n", field, value)
		case "oneof":
			errMsg += fmt.Sprintf("- Field '%s' has invalid value '%v'\n", field, value)
		default:
			errMsg += fmt.Sprintf("- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", errMsg)
}

// ValidateEnvironment validates environment-specific requirements
func ValidateEnvironment(cfg *Config) error {
	if !cfg.IsProduction() {
		return nil
	}
	if cfg.Storage.Backend == BackendMemory {
		return fmt.Errorf("production environment requires a persistent storage backend")
	}
	if cfg.Storage.Backend == BackendPostgres && cfg.Database.SSLMode == "disable" {
		return fmt.Errorf("production environment requires database SSL mode to be 'require' or 'verify-full'")
	}
	if cfg.Storage.Backend == BackendBadger && cfg.Storage.InMemory {
		return fmt.Errorf("production environment cannot run badger in memory")
	}
	return nil
}
