// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/flotsam/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	CORS            CORSConfig      `mapstructure:"cors"`
	FrontendEnabled bool            `mapstructure:"frontend_enabled"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`
	Burst   int     `mapstructure:"burst"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type          string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath     string      `mapstructure:"local_path"`
	ResultsPrefix string      `mapstructure:"results_prefix"`
	S3            S3Config    `mapstructure:"s3"`
	Azure         AzureConfig `mapstructure:"azure"`
	HTTP          HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// DatabaseConfig holds job store configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // SQLite file, ":memory:" for a throwaway store
}

// PipelineConfig holds the detection chain and vectorization settings.
type PipelineConfig struct {
	WindowHeight  int           `mapstructure:"window_height"`
	WindowWidth   int           `mapstructure:"window_width"`
	Offset        int           `mapstructure:"offset"`
	Padding       int           `mapstructure:"padding"`
	DivisibleBy   int           `mapstructure:"divisible_by"`
	Bands         []int         `mapstructure:"bands"`
	RemoveBands   []int         `mapstructure:"remove_bands"`
	Blend         string        `mapstructure:"blend"`
	Sigma         float64       `mapstructure:"sigma"`
	TargetDType   string        `mapstructure:"target_dtype"`
	TargetCRS     int           `mapstructure:"target_crs"`
	Resampling    string        `mapstructure:"resampling"`
	MaskWKT       string        `mapstructure:"mask_wkt"`
	MaskCRS       int           `mapstructure:"mask_crs"`
	Crop          bool          `mapstructure:"crop"`
	Threshold     *float64      `mapstructure:"threshold"`
	VectorizeMode string        `mapstructure:"vectorize_mode"` // point, polygon
	ModelName     string        `mapstructure:"model_name"`
	ModelVersion  string        `mapstructure:"model_version"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	Concurrency   int           `mapstructure:"concurrency"`
	PreviewMaxDim int           `mapstructure:"preview_max_dim"`
}

// InferenceConfig holds predictor configuration.
type InferenceConfig struct {
	Mode           string        `mapstructure:"mode"` // local, remote
	Endpoint       string        `mapstructure:"endpoint"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Rate           float64       `mapstructure:"rate"`
	Burst          int           `mapstructure:"burst"`
	RedBand        int           `mapstructure:"red_band"`
	NIRBand        int           `mapstructure:"nir_band"`
}

// ProjectionConfig holds coordinate transformation configuration.
type ProjectionConfig struct {
	Engine  string `mapstructure:"engine"` // builtin, spatialite
	Workers int    `mapstructure:"workers"`
}

// SyncConfig holds storage scan configuration.
type SyncConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// WatcherConfig holds scene inbox configuration.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Paths    []string      `mapstructure:"paths"` // default: storage.local_path
	Debounce time.Duration `mapstructure:"debounce"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("server.rate_limit.enabled", false)
	viper.SetDefault("server.rate_limit.rate", 50.0)
	viper.SetDefault("server.rate_limit.burst", 100)
	viper.SetDefault("server.cors.allowed_origins", []string{})
	viper.SetDefault("server.frontend_enabled", true)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.results_prefix", "results")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)
	// Empty defaults make the keys visible to environment lookups.
	for _, key := range []string{
		"storage.s3.bucket", "storage.s3.region", "storage.s3.prefix", "storage.s3.endpoint",
		"storage.s3.access_key_id", "storage.s3.secret_access_key",
		"storage.azure.container", "storage.azure.account_name", "storage.azure.account_key",
		"storage.azure.connection_string", "storage.azure.prefix",
		"storage.http.base_url", "storage.http.username", "storage.http.password",
		"inference.endpoint", "pipeline.mask_wkt",
	} {
		viper.SetDefault(key, "")
	}

	// Database defaults
	viper.SetDefault("database.path", "./flotsam.db")

	// Pipeline defaults
	viper.SetDefault("pipeline.window_height", 256)
	viper.SetDefault("pipeline.window_width", 256)
	viper.SetDefault("pipeline.offset", 64)
	viper.SetDefault("pipeline.padding", 0)
	viper.SetDefault("pipeline.divisible_by", 32)
	viper.SetDefault("pipeline.bands", []int{})
	viper.SetDefault("pipeline.remove_bands", []int{})
	viper.SetDefault("pipeline.blend", "smooth_overlap")
	viper.SetDefault("pipeline.sigma", 3.0)
	viper.SetDefault("pipeline.target_dtype", "uint8")
	viper.SetDefault("pipeline.target_crs", 0)
	viper.SetDefault("pipeline.resampling", "nearest")
	viper.SetDefault("pipeline.mask_crs", domain.SRIDWGS84)
	viper.SetDefault("pipeline.threshold", 128.0)
	viper.SetDefault("pipeline.vectorize_mode", "polygon")
	viper.SetDefault("pipeline.model_name", "floating-debris-index")
	viper.SetDefault("pipeline.model_version", "1")
	viper.SetDefault("pipeline.job_timeout", 30*time.Minute)
	viper.SetDefault("pipeline.concurrency", 1)
	viper.SetDefault("pipeline.preview_max_dim", 1024)

	// Inference defaults
	viper.SetDefault("inference.mode", "local")
	viper.SetDefault("inference.timeout", time.Minute)
	viper.SetDefault("inference.max_retries", 3)
	viper.SetDefault("inference.initial_backoff", 500*time.Millisecond)
	viper.SetDefault("inference.max_backoff", 30*time.Second)
	viper.SetDefault("inference.rate", 0.0)
	viper.SetDefault("inference.burst", 1)
	viper.SetDefault("inference.red_band", 4)
	viper.SetDefault("inference.nir_band", 8)

	// Projection defaults
	viper.SetDefault("projection.engine", "builtin")
	viper.SetDefault("projection.workers", 4)

	// Sync defaults
	viper.SetDefault("sync.enabled", true)
	viper.SetDefault("sync.interval", 5*time.Minute)

	// Watcher defaults
	viper.SetDefault("watcher.enabled", true)
	viper.SetDefault("watcher.paths", []string{})
	viper.SetDefault("watcher.debounce", 2*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("FLOTSAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/flotsam")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "invalid port %d", c.Server.Port)
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.Rate <= 0 || c.Server.RateLimit.Burst < 1) {
		return invalid("server.rate_limit", "rate and burst must be positive")
	}

	validators := []func() error{
		c.Storage.Validate,
		c.Pipeline.Validate,
		c.Inference.Validate,
		c.Projection.Validate,
		c.validateServices,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the storage backend settings.
func (c *StorageConfig) Validate() error {
	switch c.Type {
	case "local":
		if c.LocalPath == "" {
			return invalid("storage.local_path", "local storage path is required")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "S3 bucket is required")
		}
		if c.S3.Region == "" {
			return invalid("storage.s3.region", "S3 region is required")
		}
	case "azure":
		if c.Azure.Container == "" {
			return invalid("storage.azure.container", "azure container is required")
		}
		if c.Azure.AccountName == "" && c.Azure.ConnectionString == "" {
			return invalid("storage.azure", "azure account name or connection string is required")
		}
	case "http":
		if c.HTTP.BaseURL == "" {
			return invalid("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		return invalid("storage.type", "unknown storage type %q", c.Type)
	}
	if c.ResultsPrefix == "" {
		return invalid("storage.results_prefix", "results prefix is required")
	}
	return nil
}

// Validate checks the chain parameters.
func (c *PipelineConfig) Validate() error {
	if c.WindowHeight < 1 || c.WindowWidth < 1 {
		return invalid("pipeline.window", "window %dx%d must be positive", c.WindowHeight, c.WindowWidth)
	}
	if c.Offset < 0 || c.Offset >= min(c.WindowHeight, c.WindowWidth) {
		return invalid("pipeline.offset", "offset %d must be in [0, window)", c.Offset)
	}
	if c.Padding < 0 {
		return invalid("pipeline.padding", "padding cannot be negative")
	}
	if c.DivisibleBy < 1 {
		return invalid("pipeline.divisible_by", "must be at least 1")
	}
	for _, b := range append(append([]int(nil), c.Bands...), c.RemoveBands...) {
		if b < 1 {
			return invalid("pipeline.bands", "band %d: bands are 1-based", b)
		}
	}
	switch c.VectorizeMode {
	case "point", "polygon":
	default:
		return invalid("pipeline.vectorize_mode", "unknown mode %q", c.VectorizeMode)
	}
	if c.ModelName == "" {
		return invalid("pipeline.model_name", "model name is required")
	}
	if c.JobTimeout < 0 {
		return invalid("pipeline.job_timeout", "cannot be negative")
	}
	if c.Concurrency < 1 {
		return invalid("pipeline.concurrency", "must be at least 1")
	}
	return nil
}

// Validate checks the predictor settings.
func (c *InferenceConfig) Validate() error {
	switch c.Mode {
	case "local":
		if c.RedBand < 1 || c.NIRBand < 1 || c.RedBand == c.NIRBand {
			return invalid("inference.red_band", "red %d and nir %d must be distinct 1-based bands", c.RedBand, c.NIRBand)
		}
	case "remote":
		if c.Endpoint == "" {
			return invalid("inference.endpoint", "endpoint is required for remote inference")
		}
		if c.MaxRetries < 0 {
			return invalid("inference.max_retries", "cannot be negative")
		}
		if c.Rate < 0 {
			return invalid("inference.rate", "cannot be negative")
		}
	default:
		return invalid("inference.mode", "unknown mode %q", c.Mode)
	}
	return nil
}

// Validate checks the transformation engine.
func (c *ProjectionConfig) Validate() error {
	switch c.Engine {
	case "builtin", "spatialite":
	default:
		return invalid("projection.engine", "unknown engine %q", c.Engine)
	}
	if c.Workers < 1 {
		return invalid("projection.workers", "must be at least 1")
	}
	return nil
}

func (c *Config) validateServices() error {
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		return invalid("sync.interval", "must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalid("metrics.port", "invalid port %d", c.Metrics.Port)
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return invalid("metrics.port", "must differ from server.port")
	}
	if c.Database.Path == "" {
		return invalid("database.path", "database path is required")
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddress returns the metrics server address on the server host.
func (c *Config) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Metrics.Port)
}

// WatchPaths returns the inbox directories, defaulting to the local
// storage root.
func (c *Config) WatchPaths() []string {
	if len(c.Watcher.Paths) > 0 {
		return c.Watcher.Paths
	}
	if c.Storage.Type == "local" {
		return []string{c.Storage.LocalPath}
	}
	return nil
}
