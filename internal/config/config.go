// Package config provides configuration loading for the media API.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Media     MediaConfig     `mapstructure:"media"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
	// UploadRateLimit is the number of uploads allowed per organization per minute. 0 disables the limiter.
	UploadRateLimit int      `mapstructure:"upload_rate_limit"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the postgres:// form used by the migration runner.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MediaConfig controls image processing and the background usage jobs.
type MediaConfig struct {
	MaxWidth          int           `mapstructure:"max_width"`
	MaxHeight         int           `mapstructure:"max_height"`
	Quality           int           `mapstructure:"quality"`
	ThumbnailSize     int           `mapstructure:"thumbnail_size"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	Folder            string        `mapstructure:"folder"`
	ResetInterval     time.Duration `mapstructure:"reset_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	// ReconcileRate is the number of provider usage calls per second during reconcile.
	ReconcileRate float64 `mapstructure:"reconcile_rate"`
}

// ProvidersConfig holds endpoints and client settings for the storage backends.
type ProvidersConfig struct {
	CloudinaryURL  string        `mapstructure:"cloudinary_url"`
	ImageKitURL    string        `mapstructure:"imagekit_url"`
	ImageKitAPIURL string        `mapstructure:"imagekit_api_url"`
	BackblazeURL   string        `mapstructure:"backblaze_url"`
	B2TokenTTL     time.Duration `mapstructure:"b2_token_ttl"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
}

// SecurityConfig holds secrets used by the service itself.
type SecurityConfig struct {
	// CredentialKey is the base64 encoded 32-byte key sealing storage account credentials.
	CredentialKey string `mapstructure:"credential_key"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/testforge")

	v.SetEnvPrefix("TESTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.BindEnv("security.credential_key", "TESTFORGE_SECURITY_CREDENTIAL_KEY")
	v.BindEnv("redis.password", "TESTFORGE_REDIS_PASSWORD")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.upload_rate_limit", 120)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "testforge")
	v.SetDefault("database.password", "testforge")
	v.SetDefault("database.database", "testforge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Media defaults
	v.SetDefault("media.max_width", 2048)
	v.SetDefault("media.max_height", 2048)
	v.SetDefault("media.quality", 85)
	v.SetDefault("media.thumbnail_size", 200)
	v.SetDefault("media.max_upload_bytes", 100<<20)
	v.SetDefault("media.folder", "testforge")
	v.SetDefault("media.reset_interval", "1h")
	v.SetDefault("media.reconcile_interval", "6h")
	v.SetDefault("media.reconcile_rate", 2.0)

	// Provider defaults
	v.SetDefault("providers.cloudinary_url", "https://api.cloudinary.com/v1_1")
	v.SetDefault("providers.imagekit_url", "https://upload.imagekit.io/api/v1")
	v.SetDefault("providers.imagekit_api_url", "https://api.imagekit.io/v1")
	v.SetDefault("providers.backblaze_url", "https://api.backblazeb2.com")
	v.SetDefault("providers.b2_token_ttl", "19m")
	v.SetDefault("providers.http_timeout", "30s")
}
