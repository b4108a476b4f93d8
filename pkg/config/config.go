package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read when no explicit path is given.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for mixdb.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis holds the shared read-only flag. Optional: empty host disables it.
	Redis RedisConfig `yaml:"redis"`

	ReadOnly     ReadOnlyConfig     `yaml:"read_only"`
	Import       ImportConfig       `yaml:"import"`
	Canonicalize CanonicalizeConfig `yaml:"canonicalize"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"mixdb"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"mixdb"`
	Schema         string `yaml:"schema" env:"PGSCHEMA" env-default:"public"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"4"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the Redis connection used for the shared read-only flag.
type RedisConfig struct {
	Host        string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port        int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password    string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB          int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	ReadOnlyKey string `yaml:"read_only_key" env:"REDIS_READ_ONLY_KEY" env-default:"mixdb:read_only"`
}

// ReadOnlyConfig is the static read-only switch. When enabled, no write transaction starts.
type ReadOnlyConfig struct {
	Enabled bool `yaml:"enabled" env:"READ_ONLY" env-default:"false"`
}

// ImportConfig tunes validation warnings produced by dataset imports.
type ImportConfig struct {
	// WarnWCMin and WarnWCMax bound the physically plausible water/cement ratio.
	// Ratios outside the range are imported but reported as warnings.
	WarnWCMin float64 `yaml:"warn_wc_min" env:"IMPORT_WARN_WC_MIN" env-default:"0.20"`
	WarnWCMax float64 `yaml:"warn_wc_max" env:"IMPORT_WARN_WC_MAX" env-default:"1.00"`
	// ScreenTextCells enables libinjection screening of free-text cells.
	ScreenTextCells bool `yaml:"screen_text_cells" env:"IMPORT_SCREEN_TEXT_CELLS" env-default:"true"`
}

// CanonicalizeConfig holds material canonicalization settings.
type CanonicalizeConfig struct {
	// AuditDir receives the before/after material snapshots and merge log CSVs.
	AuditDir string `yaml:"audit_dir" env:"CANONICALIZE_AUDIT_DIR" env-default:"audit"`
	// LockTimeout bounds the wait for the exclusive lock on the material table.
	LockTimeout time.Duration `yaml:"lock_timeout" env:"CANONICALIZE_LOCK_TIMEOUT" env-default:"30s"`
	// MaxAttempts is how many times a run is retried after lock timeout or deadlock.
	MaxAttempts int `yaml:"max_attempts" env:"CANONICALIZE_MAX_ATTEMPTS" env-default:"3"`
	// SynonymsFile optionally extends the built-in subtype vocabulary.
	SynonymsFile string `yaml:"synonyms_file" env:"CANONICALIZE_SYNONYMS_FILE" env-default:""`
}

// MetricsConfig controls the Prometheus textfile written after each command.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" env:"METRICS_TEXTFILE_PATH" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom reads configuration from path with environment variable overrides.
// A missing file is not an error: configuration then comes from the environment only.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate checks cross-field constraints that struct tags cannot express.
func (c *Config) validate() error {
	if c.Import.WarnWCMin < 0 || c.Import.WarnWCMax <= c.Import.WarnWCMin {
		return fmt.Errorf("import warn_wc_min (%v) must be >= 0 and below warn_wc_max (%v)",
			c.Import.WarnWCMin, c.Import.WarnWCMax)
	}
	if c.Canonicalize.MaxAttempts < 1 {
		return fmt.Errorf("canonicalize max_attempts must be at least 1")
	}
	if c.Database.Schema == "" {
		return fmt.Errorf("database schema must not be empty")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the Redis address, or empty if Redis is not configured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}
