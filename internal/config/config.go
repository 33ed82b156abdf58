package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"image-uploader-go/internal/catalog"
	"image-uploader-go/internal/logger"
	"image-uploader-go/internal/presets"
	"image-uploader-go/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// IMAGE_UPLOADER_SERVER_PORT or IMAGE_UPLOADER_STORAGE_BACKEND.
const EnvPrefix = "IMAGE_UPLOADER"

var validate = validator.New()

// Config represents the main configuration structure
type Config struct {
	Server  ServerConfig                `mapstructure:"server"`
	Storage storage.Config              `mapstructure:"storage"`
	Catalog catalog.Config              `mapstructure:"catalog"`
	Logging LoggingConfig               `mapstructure:"logging"`
	Presets map[string]presets.Override `mapstructure:"presets" validate:"-"`
}

// ServerConfig contains HTTP service settings
type ServerConfig struct {
	Port          int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	MaxUploadMB   int64         `mapstructure:"max_upload_mb" validate:"gt=0"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout" validate:"gte=0"`
	Metrics       bool          `mapstructure:"metrics"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	lc := logger.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			MaxUploadMB:   64,
			UploadTimeout: 5 * time.Minute,
			Metrics:       true,
		},
		Storage: storage.Config{
			Backend: storage.BackendMemory,
			Timeout: 30 * time.Second,
			S3: storage.S3Config{
				Region:        "us-east-1",
				PresignExpiry: 24 * time.Hour,
			},
		},
		Catalog: catalog.Config{
			Driver: catalog.DriverMemory,
		},
		Logging: LoggingConfig{
			Level:      lc.Level,
			FilePath:   lc.FilePath,
			MaxSize:    lc.MaxSize,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAge,
			Compress:   lc.Compress,
			Console:    lc.Console,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches the usual locations and falls back to
// defaults when no file exists.
func LoadConfig(configPath string) (*Config, error) {
	return Load(viper.New(), configPath)
}

// Load is LoadConfig against a caller supplied viper instance.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	config := DefaultConfig()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-uploader")
		v.AddConfigPath("/etc/image-uploader")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindDefaults registers every scalar key so environment variables are
// picked up by Unmarshal even when the config file omits the key.
func bindDefaults(v *viper.Viper, c *Config) {
	defaults := map[string]any{
		"server.port":               c.Server.Port,
		"server.max_upload_mb":      c.Server.MaxUploadMB,
		"server.upload_timeout":     c.Server.UploadTimeout,
		"server.metrics":            c.Server.Metrics,
		"storage.backend":           c.Storage.Backend,
		"storage.local_dir":         c.Storage.LocalDir,
		"storage.bucket_url":        c.Storage.BucketURL,
		"storage.prefix":            c.Storage.Prefix,
		"storage.public_base_url":   c.Storage.PublicBaseURL,
		"storage.timeout":           c.Storage.Timeout,
		"storage.s3.bucket":         c.Storage.S3.Bucket,
		"storage.s3.region":         c.Storage.S3.Region,
		"storage.s3.endpoint":       c.Storage.S3.Endpoint,
		"storage.s3.access_key":     c.Storage.S3.AccessKey,
		"storage.s3.secret_key":     c.Storage.S3.SecretKey,
		"storage.s3.presign_expiry": c.Storage.S3.PresignExpiry,
		"catalog.driver":            c.Catalog.Driver,
		"catalog.sqlite.dsn":        c.Catalog.SQLite.DSN,
		"catalog.redis.addr":        c.Catalog.Redis.Addr,
		"catalog.redis.username":    c.Catalog.Redis.Username,
		"catalog.redis.password":    c.Catalog.Redis.Password,
		"catalog.redis.db":          c.Catalog.Redis.DB,
		"catalog.redis.prefix":      c.Catalog.Redis.Prefix,
		"logging.level":             c.Logging.Level,
		"logging.file_path":         c.Logging.FilePath,
		"logging.max_size":          c.Logging.MaxSize,
		"logging.max_backups":       c.Logging.MaxBackups,
		"logging.max_age":           c.Logging.MaxAge,
		"logging.compress":          c.Logging.Compress,
		"logging.console":           c.Logging.Console,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendMemory
	}
	if c.Catalog.Driver == "" {
		c.Catalog.Driver = catalog.DriverMemory
	}

	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case storage.BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case storage.BackendBlob:
		if c.Storage.BucketURL == "" {
			return fmt.Errorf("storage.bucket_url is required for the blob backend")
		}
	case storage.BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	}

	switch c.Catalog.Driver {
	case catalog.DriverSQLite:
		if c.Catalog.SQLite.DSN == "" {
			return fmt.Errorf("catalog.sqlite.dsn is required for the sqlite driver")
		}
	case catalog.DriverRedis:
		if c.Catalog.Redis.Addr == "" {
			return fmt.Errorf("catalog.redis.addr is required for the redis driver")
		}
	}

	if _, err := presets.NewRegistry(c.Presets); err != nil {
		return err
	}
	return nil
}

// Registry builds the preset registry with the configured overrides applied.
func (c *Config) Registry() (*presets.Registry, error) {
	return presets.NewRegistry(c.Presets)
}

// LoggerConfig converts the logging section for logger.NewLogger.
func (c *Config) LoggerConfig() logger.LoggerConfig {
	return logger.LoggerConfig{
		Level:      c.Logging.Level,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
		Console:    c.Logging.Console,
	}
}

// MaxUploadBytes returns the multipart body limit of the HTTP service.
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}
