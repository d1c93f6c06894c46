package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration.
type Config struct {
	// Backend API (storage REST, auth and RPC share one base URL)
	API APIConfig `mapstructure:"api" json:"api"`

	// Session handling
	Auth AuthConfig `mapstructure:"auth" json:"auth"`

	// Object store backend and local paths
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// S3-compatible backend settings
	S3 S3Config `mapstructure:"s3" json:"s3"`

	Upload UploadConfig `mapstructure:"upload" json:"upload"`
	Search SearchConfig `mapstructure:"search" json:"search"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url" json:"base_url" validate:"required,url"`
	AnonKey    string        `mapstructure:"anon_key" json:"anon_key,omitempty"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`
	UserAgent  string        `mapstructure:"user_agent" json:"user_agent"`
}

// AuthConfig for authentication settings.
type AuthConfig struct {
	Email string `mapstructure:"email" json:"email,omitempty"`

	// Token persistence
	TokenFile string `mapstructure:"token_file" json:"token_file"`
}

// StorageConfig selects the backend and local directories.
type StorageConfig struct {
	Backend          string        `mapstructure:"backend" json:"backend" validate:"oneof=rest s3 memory"`
	PublicBuckets    bool          `mapstructure:"public_buckets" json:"public_buckets"`
	SignedURLTTL     time.Duration `mapstructure:"signed_url_ttl" json:"signed_url_ttl" validate:"gt=0"`
	DataDir          string        `mapstructure:"data_dir" json:"data_dir" validate:"required"`
	StateDir         string        `mapstructure:"state_dir" json:"state_dir"`
	StateBackend     string        `mapstructure:"state_backend" json:"state_backend" validate:"oneof=json sqlite"`
	DownloadDir      string        `mapstructure:"download_dir" json:"download_dir"`
	MaxFileSize      int64         `mapstructure:"max_file_size" json:"max_file_size" validate:"gt=0"`
	ConflictStrategy string        `mapstructure:"conflict_strategy" json:"conflict_strategy" validate:"oneof=overwrite rename skip error"`
}

// S3Config for S3, MinIO or LocalStack.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" json:"endpoint,omitempty"`
	Region          string `mapstructure:"region" json:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" json:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" json:"secret_access_key,omitempty"`
	UsePathStyle    bool   `mapstructure:"use_path_style" json:"use_path_style"`
	BucketPrefix    string `mapstructure:"bucket_prefix" json:"bucket_prefix,omitempty"`
}

// UploadConfig bounds concurrent uploads.
type UploadConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" json:"max_concurrent" validate:"gt=0"`
}

// SearchConfig for the search RPC.
type SearchConfig struct {
	Limit int `mapstructure:"limit" json:"limit" validate:"gt=0"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=text json"`
	File   string `mapstructure:"file" json:"file"`
	Color  bool   `mapstructure:"color" json:"color"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".stowage"

	return &Config{
		API: APIConfig{
			BaseURL:    "http://localhost:54321",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "stowage/1.0",
		},
		Storage: StorageConfig{
			Backend:          "rest",
			PublicBuckets:    false,
			SignedURLTTL:     time.Hour,
			DataDir:          dataDir,
			StateDir:         filepath.Join(dataDir, "state"),
			StateBackend:     "json",
			DownloadDir:      ".",
			MaxFileSize:      100 * 1024 * 1024, // 100MB
			ConflictStrategy: "rename",
		},
		S3: S3Config{
			Region:       "us-east-1",
			UsePathStyle: true,
		},
		Upload: UploadConfig{
			MaxConcurrent: 4,
		},
		Search: SearchConfig{
			Limit: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.Storage.Backend == "s3" && c.S3.Region == "" {
		return errors.New("s3.region is required for the s3 backend")
	}

	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return errors.New("s3.access_key_id and s3.secret_access_key must be set together")
	}

	return nil
}

// formatValidationError converts the first validator failure into a
// config-key oriented message.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}

	e := validationErrs[0]
	key := strings.TrimPrefix(e.Namespace(), "Config.")

	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s is required", key)
	case "gt":
		return fmt.Errorf("%s must be positive", key)
	case "oneof":
		return fmt.Errorf("invalid %s: %v (one of: %s)", key, e.Value(), e.Param())
	case "url":
		return fmt.Errorf("%s must be a URL: %v", key, e.Value())
	default:
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", key, e.Tag(), e.Value())
	}
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.StateDir,
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	if c.Auth.TokenFile != "" {
		dirs = append(dirs, filepath.Dir(c.Auth.TokenFile))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// TokenFilePath resolves the session file, expanding a leading "~/".
func (c *Config) TokenFilePath() string {
	tokenFile := c.Auth.TokenFile
	if tokenFile == "" {
		tokenFile = filepath.Join(c.Storage.StateDir, "auth", "session.json")
	}

	if strings.HasPrefix(tokenFile, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			tokenFile = filepath.Join(homeDir, tokenFile[2:])
		}
	}

	return tokenFile
}
