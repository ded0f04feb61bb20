package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "BALANCE"

// Config is the typed application configuration.
type Config struct {
	Logging        LoggingConfig        `mapstructure:"logging"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Server         ServerConfig         `mapstructure:"server"`
	Plaid          PlaidConfig          `mapstructure:"plaid"`
	User           UserConfig           `mapstructure:"user"`
	Import         ImportConfig         `mapstructure:"import"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Monitor        MonitorConfig        `mapstructure:"monitor"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PlaidConfig holds Plaid credentials for statement pulls.
type PlaidConfig struct {
	ClientID    string `mapstructure:"client_id"`
	Secret      string `mapstructure:"secret"`
	Environment string `mapstructure:"environment"`
	AccessToken string `mapstructure:"access_token"`
}

// UserConfig is the principal the CLI acts as.
type UserConfig struct {
	ID             string   `mapstructure:"id"`
	OrganizationID string   `mapstructure:"organization_id"`
	Permissions    []string `mapstructure:"permissions"`
}

// ImportConfig holds statement import defaults.
type ImportConfig struct {
	DuplicateDetection bool `mapstructure:"duplicate_detection"`
	SkipDuplicates     bool `mapstructure:"skip_duplicates"`
	AutoCategorize     bool `mapstructure:"auto_categorize"`
}

// ReconciliationConfig holds reconciliation run defaults.
type ReconciliationConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	AmountTolerance     float64 `mapstructure:"amount_tolerance"`
	DateTolerance       int     `mapstructure:"date_tolerance"`
	BatchSize           int     `mapstructure:"batch_size"`
	Workers             int     `mapstructure:"workers"`
	RequireManualReview bool    `mapstructure:"require_manual_review"`
}

// CacheConfig sizes the cache and its TTL tiers.
type CacheConfig struct {
	MaxSize   int           `mapstructure:"max_size"`
	Margin    int           `mapstructure:"margin"`
	ShortTTL  time.Duration `mapstructure:"short_ttl"`
	MediumTTL time.Duration `mapstructure:"medium_ttl"`
	LongTTL   time.Duration `mapstructure:"long_ttl"`
}

// MonitorConfig sizes the performance monitor.
type MonitorConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", "$HOME/.local/share/balance/balance.db")

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.request_timeout", 60*time.Second)

	v.SetDefault("plaid.environment", "sandbox")

	v.SetDefault("user.id", "local")
	v.SetDefault("user.organization_id", "default")
	v.SetDefault("user.permissions", []string{"admin"})

	v.SetDefault("import.duplicate_detection", true)
	v.SetDefault("import.skip_duplicates", false)
	v.SetDefault("import.auto_categorize", true)

	v.SetDefault("reconciliation.confidence_threshold", 0.8)
	v.SetDefault("reconciliation.amount_tolerance", float64(model.MaxAmountTolerance))
	v.SetDefault("reconciliation.date_tolerance", model.MaxDateTolerance)
	v.SetDefault("reconciliation.batch_size", 100)
	v.SetDefault("reconciliation.workers", 4)
	v.SetDefault("reconciliation.require_manual_review", false)

	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.margin", 100)
	v.SetDefault("cache.short_ttl", 5*time.Minute)
	v.SetDefault("cache.medium_ttl", 30*time.Minute)
	v.SetDefault("cache.long_ttl", 2*time.Hour)

	v.SetDefault("monitor.capacity", 1000)
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, common.NewError(common.CodeConfiguration, "failed to decode configuration",
			fmt.Errorf("%w: %w", common.ErrInvalidConfig, err))
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return invalid("logging.format", "must be console or json")
	}
	if c.Database.Path == "" {
		return invalid("database.path", "is required")
	}
	if err := c.ReconciliationOptions().Validate(); err != nil {
		return invalid("reconciliation", err.Error())
	}
	if c.Reconciliation.Workers < 1 {
		return invalid("reconciliation.workers", "must be at least 1")
	}
	if c.Cache.MaxSize < 1 {
		return invalid("cache.max_size", "must be at least 1")
	}
	if c.Cache.Margin < 0 || c.Cache.Margin >= c.Cache.MaxSize {
		return invalid("cache.margin", "must be between 0 and max_size")
	}
	if c.Cache.ShortTTL <= 0 || c.Cache.MediumTTL <= 0 || c.Cache.LongTTL <= 0 {
		return invalid("cache", "ttls must be positive")
	}
	if c.User.ID == "" {
		return invalid("user.id", "is required")
	}
	if c.User.OrganizationID == "" {
		return invalid("user.organization_id", "is required")
	}
	if c.Monitor.Capacity < 1 {
		return invalid("monitor.capacity", "must be at least 1")
	}
	return nil
}

// ReconciliationOptions converts the configured defaults into run options.
func (c *Config) ReconciliationOptions() model.ReconciliationOptions {
	return model.ReconciliationOptions{
		ConfidenceThreshold: c.Reconciliation.ConfidenceThreshold,
		AmountTolerance:     c.Reconciliation.AmountTolerance,
		DateTolerance:       c.Reconciliation.DateTolerance,
		BatchSize:           c.Reconciliation.BatchSize,
		RequireManualReview: c.Reconciliation.RequireManualReview,
	}
}

// Principal returns the configured CLI user.
func (c *Config) Principal() model.User {
	return model.User{
		ID:             c.User.ID,
		OrganizationID: c.User.OrganizationID,
		Permissions:    c.User.Permissions,
	}
}

func invalid(key, msg string) error {
	return &common.AppError{
		Code:    common.CodeConfiguration,
		Field:   key,
		Message: fmt.Sprintf("invalid configuration %s: %s", key, msg),
		Err:     common.ErrInvalidConfig,
	}
}

// ExpandPath resolves $VAR references and a leading ~ in configured file
// locations such as database.path and sheets.service_account_path.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
