package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when no --config flag is given and the file exists
const DefaultConfigFile = "config.yaml"

// Config represents the application configuration
type Config struct {
	Storage           StorageConfig `yaml:"storage"`
	Sources           []Source      `yaml:"sources"`
	Pool              PoolConfig    `yaml:"pool"`
	Timeouts          Timeouts      `yaml:"timeouts"`
	DeleteAfterUpload bool          `yaml:"delete_after_upload"`
	PauseInterval     time.Duration `yaml:"pause_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	History           string        `yaml:"history"`
	ShowProgress      bool          `yaml:"show_progress"`
}

// StorageConfig represents the S3-compatible endpoint files are uploaded to
type StorageConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	CredentialsFile string `yaml:"credentials_file"`
	Profile         string `yaml:"profile"`
	Region          string `yaml:"region"`
	Secure          bool   `yaml:"secure"`
	ACL             string `yaml:"acl"`
}

// Source is one local folder watched for files and the bucket/prefix
// its files are uploaded to.
type Source struct {
	LocalPath       string           `yaml:"local_path"`
	GlobPattern     string           `yaml:"glob_pattern"`
	Bucket          string           `yaml:"bucket"`
	ObjectKeyRoot   string           `yaml:"object_key_root"`
	MetadataHeaders []MetadataHeader `yaml:"metadata_headers"`
}

// MetadataHeader is a header attached to every object uploaded from a source.
// Headers keep their configured order.
type MetadataHeader struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// PoolConfig sizes the upload worker pool. The admission bound is
// MaximumPoolSize + QueueCapacity.
type PoolConfig struct {
	CorePoolSize    int           `yaml:"core_pool_size"`
	MaximumPoolSize int           `yaml:"maximum_pool_size"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
}

// Timeouts for the storage connection
type Timeouts struct {
	Connection time.Duration `yaml:"connection"`
	Socket     time.Duration `yaml:"socket"`
}

// Bound returns the maximum number of tasks admitted into the pipeline
func (p PoolConfig) Bound() int {
	return p.MaximumPoolSize + p.QueueCapacity
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Secure: true,
			ACL:    "public-read",
		},
		Pool: PoolConfig{
			CorePoolSize:    1,
			MaximumPoolSize: 3,
			QueueCapacity:   3,
			KeepAlive:       time.Minute,
		},
		Timeouts: Timeouts{
			Connection: 50 * time.Second,
			Socket:     120 * time.Second,
		},
		DeleteAfterUpload: true,
		PauseInterval:     2 * time.Second,
		ShutdownTimeout:   2 * time.Minute,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			configFile = DefaultConfigFile
		}
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if flags.Changed("endpoint") {
		v, err := flags.GetString("endpoint")
		cfg.Storage.Endpoint = v
		collect(err)
	}
	if flags.Changed("access-key") {
		v, err := flags.GetString("access-key")
		cfg.Storage.AccessKey = v
		collect(err)
	}
	if flags.Changed("secret-key") {
		v, err := flags.GetString("secret-key")
		cfg.Storage.SecretKey = v
		collect(err)
	}
	if flags.Changed("region") {
		v, err := flags.GetString("region")
		cfg.Storage.Region = v
		collect(err)
	}
	if flags.Changed("secure") {
		v, err := flags.GetBool("secure")
		cfg.Storage.Secure = v
		collect(err)
	}

	if flags.Changed("core-pool-size") {
		v, err := flags.GetInt("core-pool-size")
		cfg.Pool.CorePoolSize = v
		collect(err)
	}
	if flags.Changed("maximum-pool-size") {
		v, err := flags.GetInt("maximum-pool-size")
		cfg.Pool.MaximumPoolSize = v
		collect(err)
	}
	if flags.Changed("queue-capacity") {
		v, err := flags.GetInt("queue-capacity")
		cfg.Pool.QueueCapacity = v
		collect(err)
	}
	if flags.Changed("connection-timeout") {
		v, err := flags.GetDuration("connection-timeout")
		cfg.Timeouts.Connection = v
		collect(err)
	}
	if flags.Changed("socket-timeout") {
		v, err := flags.GetDuration("socket-timeout")
		cfg.Timeouts.Socket = v
		collect(err)
	}

	if flags.Changed("delete-after-upload") {
		v, err := flags.GetBool("delete-after-upload")
		cfg.DeleteAfterUpload = v
		collect(err)
	}
	if flags.Changed("pause-interval") {
		v, err := flags.GetDuration("pause-interval")
		cfg.PauseInterval = v
		collect(err)
	}
	if flags.Changed("log-level") {
		v, err := flags.GetString("log-level")
		cfg.LogLevel = v
		collect(err)
	}
	if flags.Changed("log-format") {
		v, err := flags.GetString("log-format")
		cfg.LogFormat = v
		collect(err)
	}
	if flags.Changed("metrics-addr") {
		v, err := flags.GetString("metrics-addr")
		cfg.MetricsAddr = v
		collect(err)
	}
	if flags.Changed("history") {
		v, err := flags.GetString("history")
		cfg.History = v
		collect(err)
	}
	if flags.Changed("show-progress") {
		v, err := flags.GetBool("show-progress")
		cfg.ShowProgress = v
		collect(err)
	}

	return errors.Join(errs...)
}

// Validate checks the configuration before the pipeline is built
func (c *Config) Validate() error {
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}
	if (c.Storage.AccessKey == "") != (c.Storage.SecretKey == "") {
		return fmt.Errorf("storage access key and secret key must be set together")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	for i, src := range c.Sources {
		if src.LocalPath == "" {
			return fmt.Errorf("source %d: local_path is required", i)
		}
		if src.Bucket == "" {
			return fmt.Errorf("source %d (%s): bucket is required", i, src.LocalPath)
		}
		if src.GlobPattern != "" && !doublestar.ValidatePattern(src.GlobPattern) {
			return fmt.Errorf("source %d (%s): invalid glob pattern %q", i, src.LocalPath, src.GlobPattern)
		}
		for _, h := range src.MetadataHeaders {
			if h.Key == "" {
				return fmt.Errorf("source %d (%s): metadata header key cannot be empty", i, src.LocalPath)
			}
		}
	}

	if c.Pool.CorePoolSize <= 0 {
		return fmt.Errorf("core pool size must be positive")
	}
	if c.Pool.MaximumPoolSize <= 0 {
		return fmt.Errorf("maximum pool size must be positive")
	}
	if c.Pool.CorePoolSize > c.Pool.MaximumPoolSize {
		return fmt.Errorf("maximum pool size (%d) must be greater than or equal to core pool size (%d)",
			c.Pool.MaximumPoolSize, c.Pool.CorePoolSize)
	}
	if c.Pool.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	if c.Pool.KeepAlive < 0 {
		return fmt.Errorf("keep alive cannot be negative")
	}

	if c.Timeouts.Connection <= 0 || c.Timeouts.Socket <= 0 {
		return fmt.Errorf("connection and socket timeouts must be positive")
	}
	if c.PauseInterval <= 0 {
		return fmt.Errorf("pause interval must be positive")
	}

	return nil
}
