// Package config provides configuration management for Filewarden.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
}

// ServerConfig holds HTTP server settings for the admin/ops surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds file-registry database settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// SQLite settings (used when Driver is "sqlite")
	Path        string `mapstructure:"path"`
	JournalMode string `mapstructure:"journal_mode"`
	BusyTimeout int    `mapstructure:"busy_timeout"`
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using an embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite"
}

// RedisConfig holds Redis connection settings. Redis backs the distributed
// reconciliation lock; single-node deployments can disable it and fall back
// to in-memory locking.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProviderKind identifies a storage backend variant. The set is closed:
// adding a backend means adding a constant, a config section, and an adapter,
// all matched exhaustively - not a runtime string switch with a default-throw.
type ProviderKind string

const (
	// KindLocal is a local filesystem backend.
	KindLocal ProviderKind = "local"

	// KindS3 is an S3-compatible object store.
	KindS3 ProviderKind = "s3"

	// KindGCS is a Google Cloud Storage blob store.
	KindGCS ProviderKind = "gcs"
)

// ProviderConfig describes one storage backend. Exactly one of the per-kind
// sections must be populated, matching Kind; this is validated at load time,
// not at first use.
type ProviderConfig struct {
	// Name is the unique provider name folders route to.
	Name string `mapstructure:"name"`

	// Kind selects the backend variant.
	Kind ProviderKind `mapstructure:"kind"`

	// Enabled providers accept traffic; disabled ones are kept in config as
	// failover targets but rejected at dispatch.
	Enabled bool `mapstructure:"enabled"`

	Local LocalProviderConfig `mapstructure:"local"`
	S3    S3ProviderConfig    `mapstructure:"s3"`
	GCS   GCSProviderConfig   `mapstructure:"gcs"`
}

// LocalProviderConfig holds local filesystem backend settings.
type LocalProviderConfig struct {
	// Root is the directory all provider paths are resolved under.
	Root string `mapstructure:"root"`
}

// S3ProviderConfig holds S3-compatible object store settings.
type S3ProviderConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// GCSProviderConfig holds Google Cloud Storage settings.
type GCSProviderConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Validate checks the provider configuration for the selected kind.
func (c ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}

	switch c.Kind {
	case KindLocal:
		if c.Local.Root == "" {
			return fmt.Errorf("provider %q: local.root is required", c.Name)
		}
	case KindS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("provider %q: s3.bucket is required", c.Name)
		}
		if c.S3.Region == "" && c.S3.Endpoint == "" {
			return fmt.Errorf("provider %q: s3.region or s3.endpoint is required", c.Name)
		}
	case KindGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("provider %q: gcs.bucket is required", c.Name)
		}
	default:
		return fmt.Errorf("provider %q: unknown kind %q (must be local, s3, or gcs)", c.Name, c.Kind)
	}

	return nil
}

// AccessLevel controls who may read a folder's files. Enforcement lives in
// the calling layers; the governance engine only carries the setting.
type AccessLevel string

const (
	AccessPublic        AccessLevel = "public"
	AccessAuthenticated AccessLevel = "authenticated"
	AccessPrivate       AccessLevel = "private"
)

// FolderConfig describes one logical namespace files are uploaded into.
type FolderConfig struct {
	// Name is the logical folder name clients address.
	Name string `mapstructure:"name"`

	// Subpath is the backend path segment the folder maps to.
	// Defaults to Name.
	Subpath string `mapstructure:"subpath"`

	// Provider routes the folder to a named provider. Empty means the
	// active provider. Routing is static configuration, not runtime state.
	Provider string `mapstructure:"provider"`

	// Access is the folder's access level (public, authenticated, private).
	Access AccessLevel `mapstructure:"access"`

	// AllowedExtensions is the set of permitted file extensions, without
	// dots, lowercase. Empty means any extension is allowed.
	AllowedExtensions []string `mapstructure:"allowed_extensions"`

	// MaxFileSize is the per-file byte ceiling. Zero means unlimited.
	MaxFileSize int64 `mapstructure:"max_file_size"`

	// Quota is the folder's cumulative byte ceiling. Zero means unlimited.
	Quota int64 `mapstructure:"quota"`
}

// EffectiveSubpath returns the backend path segment for the folder.
func (c FolderConfig) EffectiveSubpath() string {
	if c.Subpath != "" {
		return c.Subpath
	}
	return c.Name
}

// ExtensionAllowed reports whether ext (lowercase, no dot) is permitted.
func (c FolderConfig) ExtensionAllowed(ext string) bool {
	if len(c.AllowedExtensions) == 0 {
		return true
	}
	for _, allowed := range c.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// StorageConfig holds the governed storage topology: providers, folders, and
// the global quota.
type StorageConfig struct {
	// ActiveProvider is the provider folders route to by default.
	ActiveProvider string `mapstructure:"active_provider"`

	// Providers is the set of configured backends.
	Providers []ProviderConfig `mapstructure:"providers"`

	// Folders is the set of logical namespaces uploads are admitted into.
	Folders []FolderConfig `mapstructure:"folders"`

	// GlobalQuota is the deployment-wide cumulative byte ceiling.
	// Zero means unlimited.
	GlobalQuota int64 `mapstructure:"global_quota"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if the Prometheus endpoint is exposed.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the Prometheus endpoint.
	Path string `mapstructure:"path"`
}

// ReconcilerConfig holds scheduled reconciliation settings.
type ReconcilerConfig struct {
	// Enabled determines if reconciliation runs on a schedule.
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often scheduled reconciliation runs.
	Interval time.Duration `mapstructure:"interval"`

	// DryRun makes scheduled runs report-only. Defaults to true: destructive
	// cleanup is an explicit operator action.
	DryRun bool `mapstructure:"dry_run"`

	// PageTimeout bounds each backend page fetch and each cleanup delete.
	PageTimeout time.Duration `mapstructure:"page_timeout"`

	// RegistryBatchSize is the keyset page size for full registry fetches.
	RegistryBatchSize int `mapstructure:"registry_batch_size"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with FILEWARDEN_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is acceptable - use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Watch re-reads the config file on change and calls onChange with the new,
// validated configuration. Invalid updates are dropped and reported through
// onError; the running configuration is left untouched. Folder and quota
// rules picked up here take effect on the next check, no restart required.
func Watch(configPath string, onChange func(*Config), onError func(error)) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		onError(fmt.Errorf("error reading config file: %w", err))
		return
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onError(fmt.Errorf("error unmarshaling config: %w", err))
			return
		}
		if err := cfg.Validate(); err != nil {
			onError(fmt.Errorf("invalid configuration: %w", err))
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
}

// newViper builds a viper instance with defaults, env binding, and the config
// file search paths.
func newViper(configPath string) *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FILEWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/filewarden")
	}

	return v
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8420)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "filewarden")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "filewarden")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	// SQLite defaults
	v.SetDefault("database.path", "./data/filewarden.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)

	// Storage defaults
	v.SetDefault("storage.active_provider", "")
	v.SetDefault("storage.global_quota", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Reconciler defaults
	v.SetDefault("reconciler.enabled", false)
	v.SetDefault("reconciler.interval", 1*time.Hour)
	v.SetDefault("reconciler.dry_run", true)
	v.SetDefault("reconciler.page_timeout", 30*time.Second)
	v.SetDefault("reconciler.registry_batch_size", 1000)
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	validDrivers := map[string]bool{"postgres": true, "sqlite": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite'")
	}
	if c.Database.Driver == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	} else if c.Database.Path == "" {
		return fmt.Errorf("database.path is required for sqlite driver")
	}

	if len(c.Storage.Providers) == 0 {
		return fmt.Errorf("storage.providers must define at least one provider")
	}

	providerNames := make(map[string]bool, len(c.Storage.Providers))
	for _, p := range c.Storage.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if providerNames[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		providerNames[p.Name] = true
	}

	if c.Storage.ActiveProvider == "" {
		return fmt.Errorf("storage.active_provider is required")
	}
	if !providerNames[c.Storage.ActiveProvider] {
		return fmt.Errorf("storage.active_provider %q is not a configured provider", c.Storage.ActiveProvider)
	}

	folderNames := make(map[string]bool, len(c.Storage.Folders))
	for _, f := range c.Storage.Folders {
		if f.Name == "" {
			return fmt.Errorf("folder name is required")
		}
		if folderNames[f.Name] {
			return fmt.Errorf("duplicate folder name %q", f.Name)
		}
		folderNames[f.Name] = true

		if f.Provider != "" && !providerNames[f.Provider] {
			return fmt.Errorf("folder %q routes to unknown provider %q", f.Name, f.Provider)
		}

		switch f.Access {
		case AccessPublic, AccessAuthenticated, AccessPrivate, "":
		default:
			return fmt.Errorf("folder %q: access must be public, authenticated, or private", f.Name)
		}

		if f.MaxFileSize < 0 || f.Quota < 0 {
			return fmt.Errorf("folder %q: max_file_size and quota must not be negative", f.Name)
		}
	}

	if c.Storage.GlobalQuota < 0 {
		return fmt.Errorf("storage.global_quota must not be negative")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
