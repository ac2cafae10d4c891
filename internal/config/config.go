// Package config loads the service configuration: defaults, then an optional yaml file,
// then environment overrides. Secrets are read from the environment only.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/ingest"
	"github.com/tdeslauriers/portfolio/internal/logs"
	"github.com/tdeslauriers/portfolio/internal/pipeline"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/sweep"
	"github.com/tdeslauriers/portfolio/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	BackendLocal = "local"
	BackendMinio = "minio"

	// minimum hs256 signing secret length in bytes
	minSecretBytes = 32
)

// Server is the http listener config.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// Storage selects and configures the rendition store.
type Storage struct {
	Backend string              `yaml:"backend"` // local or minio
	Dir     string              `yaml:"dir"`
	Minio   storage.MinioConfig `yaml:"minio"`

	// PublicBaseURL is prefixed to rendition keys in api responses, eg a cdn.
	// Empty serves them from this service's /images/ route.
	PublicBaseURL string `yaml:"public_base_url"`
}

// Catalog is the badger catalog location.
type Catalog struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// Log configures the root logger.
type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or text
	BufferSize int    `yaml:"buffer_size"`
}

// Sweep configures orphaned rendition cleanup.
type Sweep struct {
	GracePeriod time.Duration `yaml:"grace_period"`
}

// Config is the full service configuration.
type Config struct {
	Server   Server          `yaml:"server"`
	Storage  Storage         `yaml:"storage"`
	Catalog  Catalog         `yaml:"catalog"`
	Pipeline pipeline.Config `yaml:"pipeline"`
	Ingest   ingest.Config   `yaml:"ingest"`
	Auth     auth.Config     `yaml:"auth"`
	Log      Log             `yaml:"log"`
	Sweep    Sweep           `yaml:"sweep"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     2 * time.Minute,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  util.MaxUploadBytes,
		},
		Storage: Storage{
			Backend: BackendLocal,
			Dir:     "data/images",
		},
		Catalog: Catalog{
			Path: "data/catalog",
		},
		Pipeline: pipeline.DefaultConfig(),
		Ingest: ingest.Config{
			Workers:      2,
			MaxFileBytes: util.MaxFileBytes,
		},
		Auth: auth.Config{
			Issuer: auth.DefaultIssuer,
			TTL:    auth.DefaultTTL,
		},
		Log: Log{
			Level:      "info",
			Format:     "json",
			BufferSize: logs.DefaultCapacity,
		},
		Sweep: Sweep{
			GracePeriod: sweep.DefaultGracePeriod,
		},
	}
}

// Load builds the configuration from defaults, the yaml file at path (skipped when path
// is empty) and the environment. A plain ADMIN_PASSWORD is hashed here and never kept.
func Load(path string) (*Config, error) {

	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %v", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if cfg.Auth.PasswordHash == "" {
		if pw, ok := os.LookupEnv("ADMIN_PASSWORD"); ok && pw != "" {
			hash, err := auth.HashPassword(pw)
			if err != nil {
				return nil, err
			}
			cfg.Auth.PasswordHash = hash
		}
	}

	return &cfg, nil
}

// env var -> setter. Parse errors name the variable.
func applyEnv(cfg *Config) error {

	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	int64s := func(dst *int64) func(string) error {
		return func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	setters := []struct {
		name string
		set  func(string) error
	}{
		{"PORTFOLIO_ADDR", str(&cfg.Server.Addr)},
		{"PORTFOLIO_MAX_UPLOAD_BYTES", int64s(&cfg.Server.MaxUploadBytes)},
		{"PORTFOLIO_SHUTDOWN_TIMEOUT", duration(&cfg.Server.ShutdownTimeout)},
		{"PORTFOLIO_STORAGE_BACKEND", str(&cfg.Storage.Backend)},
		{"PORTFOLIO_STORAGE_DIR", str(&cfg.Storage.Dir)},
		{"PORTFOLIO_PUBLIC_BASE_URL", str(&cfg.Storage.PublicBaseURL)},
		{"PORTFOLIO_MINIO_ENDPOINT", str(&cfg.Storage.Minio.Endpoint)},
		{"PORTFOLIO_MINIO_ACCESS_KEY", str(&cfg.Storage.Minio.AccessKey)},
		{"PORTFOLIO_MINIO_SECRET_KEY", str(&cfg.Storage.Minio.SecretKey)},
		{"PORTFOLIO_MINIO_BUCKET", str(&cfg.Storage.Minio.Bucket)},
		{"PORTFOLIO_MINIO_REGION", str(&cfg.Storage.Minio.Region)},
		{"PORTFOLIO_MINIO_USE_SSL", boolean(&cfg.Storage.Minio.UseSSL)},
		{"PORTFOLIO_CATALOG_PATH", str(&cfg.Catalog.Path)},
		{"PORTFOLIO_CATALOG_IN_MEMORY", boolean(&cfg.Catalog.InMemory)},
		{"PORTFOLIO_WORKERS", integer(&cfg.Ingest.Workers)},
		{"PORTFOLIO_MAX_FILE_BYTES", int64s(&cfg.Ingest.MaxFileBytes)},
		{"PORTFOLIO_SECURE_COOKIE", boolean(&cfg.Auth.SecureCookie)},
		{"PORTFOLIO_TOKEN_TTL", duration(&cfg.Auth.TTL)},
		{"PORTFOLIO_LOG_FORMAT", str(&cfg.Log.Format)},
		{"PORTFOLIO_LOG_BUFFER", integer(&cfg.Log.BufferSize)},
		{"PORTFOLIO_SWEEP_GRACE", duration(&cfg.Sweep.GracePeriod)},
		{"LOG_LEVEL", str(&cfg.Log.Level)},
		{"JWT_SECRET", str(&cfg.Auth.Secret)},
		{"ADMIN_USERNAME", str(&cfg.Auth.Username)},
		{"ADMIN_PASSWORD_HASH", str(&cfg.Auth.PasswordHash)},
	}

	for _, s := range setters {
		v, ok := os.LookupEnv(s.name)
		if !ok {
			continue
		}
		if err := s.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid value for %s: %v", s.name, err)
		}
	}

	return nil
}

// Validate checks the storage, catalog, ingestion and logging settings.
func (c *Config) Validate() error {

	var errs []error

	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Dir == "" {
			errs = append(errs, fmt.Errorf("storage dir is required for the local backend"))
		}
	case BackendMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			errs = append(errs, fmt.Errorf("minio endpoint and bucket are required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage backend must be %s or %s, got %q", BackendLocal, BackendMinio, c.Storage.Backend))
	}

	if !c.Catalog.InMemory && c.Catalog.Path == "" {
		errs = append(errs, fmt.Errorf("catalog path is required unless the catalog is in memory"))
	}

	if c.Ingest.Workers < 1 || c.Ingest.Workers > 64 {
		errs = append(errs, fmt.Errorf("ingest workers must be between 1 and 64"))
	}

	if c.Ingest.MaxFileBytes <= 0 || c.Server.MaxUploadBytes < c.Ingest.MaxFileBytes {
		errs = append(errs, fmt.Errorf("max upload bytes must be at least max file bytes, and both positive"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log format must be json or text"))
	}

	return errors.Join(errs...)
}

// ValidateAuth checks the admin credentials and signing secret the server needs.
func (c *Config) ValidateAuth() error {

	var errs []error

	if len(c.Auth.Secret) < minSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretBytes))
	}

	if c.Auth.Username == "" {
		errs = append(errs, fmt.Errorf("ADMIN_USERNAME is required"))
	}

	if c.Auth.PasswordHash == "" {
		errs = append(errs, fmt.Errorf("ADMIN_PASSWORD_HASH or ADMIN_PASSWORD is required"))
	}

	return errors.Join(errs...)
}

// LogLevel parses the configured level name.
func (c *Config) LogLevel() (slog.Level, error) {

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return level, nil
}
