package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override values from the TOML file.
const (
	EnvDatabaseDSN = "FLOWPLAY_DATABASE_DSN"
	EnvTokenSecret = "FLOWPLAY_TOKEN_SECRET"
	EnvPort        = "FLOWPLAY_PORT"
	EnvS3AccessKey = "FLOWPLAY_S3_ACCESS_KEY"
	EnvS3SecretKey = "FLOWPLAY_S3_SECRET_KEY"
)

// Storage backends
const (
	BackendInline = "inline"
	BackendLocal  = "local"
	BackendS3     = "s3"
)

const (
	minSecretLength = 32
	minBcryptCost   = 10
	maxUploadMB     = 50
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Uploads  UploadsConfig  `toml:"uploads"`
	Storage  StorageConfig  `toml:"storage"`
	Cache    CacheConfig    `toml:"cache"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port           string `toml:"port"`
	Host           string `toml:"host"`
	EnableCORS     bool   `toml:"enable_cors"`
	RequestLogging bool   `toml:"request_logging"`
	ReadTimeout    int    `toml:"read_timeout_seconds"`
	WriteTimeout   int    `toml:"write_timeout_seconds"`
}

// DatabaseConfig contains database-related configuration.
// DSN is either a sqlite path (optionally prefixed with sqlite://) or a
// postgres:// URL.
type DatabaseConfig struct {
	DSN            string `toml:"dsn"`
	MaxConnections int    `toml:"max_connections"`
}

// AuthConfig contains token and password hashing settings
type AuthConfig struct {
	TokenSecret   string `toml:"token_secret"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
	BcryptCost    int    `toml:"bcrypt_cost"`
}

// UploadsConfig bounds what /tracks/upload accepts
type UploadsConfig struct {
	MaxUploadMB      int      `toml:"max_upload_mb"`
	AllowedMimeTypes []string `toml:"allowed_mime_types"`
}

// StorageConfig selects where audio bytes live
type StorageConfig struct {
	Backend   string   `toml:"backend"`
	LocalPath string   `toml:"local_path"`
	S3        S3Config `toml:"s3"`
}

// S3Config contains settings for an S3-compatible bucket
type S3Config struct {
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// CacheConfig controls the public listing cache
type CacheConfig struct {
	PublicTTLSeconds int `toml:"public_ttl_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
// DSN and token secret are left empty and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "0.0.0.0",
			EnableCORS:     true,
			RequestLogging: true,
			ReadTimeout:    30,
			WriteTimeout:   300,
		},
		Database: DatabaseConfig{
			MaxConnections: 10,
		},
		Auth: AuthConfig{
			TokenTTLHours: 7 * 24,
			BcryptCost:    12,
		},
		Uploads: UploadsConfig{
			MaxUploadMB: maxUploadMB,
			AllowedMimeTypes: []string{
				"audio/mpeg",
				"audio/wav",
				"audio/ogg",
				"audio/m4a",
				"audio/flac",
			},
		},
		Storage: StorageConfig{
			Backend:   BackendInline,
			LocalPath: "./uploads",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Cache: CacheConfig{
			PublicTTLSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies .env and
// environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional
	_ = godotenv.Load()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with any FLOWPLAY_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDatabaseDSN); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := lookup(EnvTokenSecret); ok && v != "" {
		c.Auth.TokenSecret = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		c.Server.Port = v
	}
	if v, ok := lookup(EnvS3AccessKey); ok && v != "" {
		c.Storage.S3.AccessKey = v
	}
	if v, ok := lookup(EnvS3SecretKey); ok && v != "" {
		c.Storage.S3.SecretKey = v
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# FlowPlay Server Configuration
# Secrets (database dsn, token secret, s3 keys) can also be supplied through
# FLOWPLAY_* environment variables or a .env file.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn cannot be empty (set %s)", EnvDatabaseDSN)
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("token secret cannot be empty (set %s)", EnvTokenSecret)
	}
	if len(c.Auth.TokenSecret) < minSecretLength {
		return fmt.Errorf("token secret must be at least %d bytes", minSecretLength)
	}
	if c.Auth.BcryptCost < minBcryptCost {
		return fmt.Errorf("bcrypt cost must be at least %d", minBcryptCost)
	}
	if c.Auth.TokenTTLHours < 1 {
		return fmt.Errorf("token ttl must be at least one hour")
	}

	if c.Uploads.MaxUploadMB < 1 || c.Uploads.MaxUploadMB > maxUploadMB {
		return fmt.Errorf("max upload size must be between 1 and %d MB", maxUploadMB)
	}
	if len(c.Uploads.AllowedMimeTypes) == 0 {
		return fmt.Errorf("at least one allowed mime type must be specified")
	}

	switch c.Storage.Backend {
	case BackendInline:
	case BackendLocal:
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("storage local path cannot be empty")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be inline, local, or s3)", c.Storage.Backend)
	}

	if c.Cache.PublicTTLSeconds < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// TokenTTL returns the token lifetime
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// MaxUploadBytes returns the upload cap in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Uploads.MaxUploadMB) << 20
}

// IsMimeTypeAllowed checks if an upload content type is accepted
func (c *Config) IsMimeTypeAllowed(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, allowed := range c.Uploads.AllowedMimeTypes {
		if allowed == mimeType {
			return true
		}
	}
	return false
}
