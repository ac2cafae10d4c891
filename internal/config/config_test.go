package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const yamlConfig = `
server:
  addr: ":9090"
  shutdown_timeout: 10s
storage:
  backend: minio
  public_base_url: https://cdn.example.com/images
  minio:
    endpoint: minio:9000
    bucket: portfolio
catalog:
  path: /var/lib/portfolio/catalog
pipeline:
  thumbnail:
    box: 300
    quality: 70
ingest:
  workers: 4
log:
  level: debug
  format: text
sweep:
  grace_period: 2h
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "portfolio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, 400, cfg.Pipeline.Thumbnail.Box)
	assert.Equal(t, 2, cfg.Ingest.Workers)
	assert.Equal(t, time.Hour, cfg.Sweep.GracePeriod)
	assert.NoError(t, cfg.Validate())

	// no credentials configured
	assert.Error(t, cfg.ValidateAuth())
}

func TestLoadYaml(t *testing.T) {

	cfg, err := Load(writeConfig(t, yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, BackendMinio, cfg.Storage.Backend)
	assert.Equal(t, "minio:9000", cfg.Storage.Minio.Endpoint)
	assert.Equal(t, "https://cdn.example.com/images", cfg.Storage.PublicBaseURL)
	assert.Equal(t, 300, cfg.Pipeline.Thumbnail.Box)
	assert.Equal(t, 70, cfg.Pipeline.Thumbnail.Quality)
	assert.Equal(t, 800, cfg.Pipeline.Display.Box) // untouched tiers keep defaults
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 2*time.Hour, cfg.Sweep.GracePeriod)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {

	t.Setenv("PORTFOLIO_ADDR", ":7070")
	t.Setenv("PORTFOLIO_WORKERS", "8")
	t.Setenv("PORTFOLIO_CATALOG_IN_MEMORY", "true")
	t.Setenv("PORTFOLIO_SWEEP_GRACE", "15m")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ADMIN_USERNAME", "curator")
	t.Setenv("ADMIN_PASSWORD", "correct horse battery staple")

	// env wins over the file
	cfg, err := Load(writeConfig(t, yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.True(t, cfg.Catalog.InMemory)
	assert.Equal(t, 15*time.Minute, cfg.Sweep.GracePeriod)
	assert.Equal(t, "warn", cfg.Log.Level)

	require.NotEmpty(t, cfg.Auth.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cfg.Auth.PasswordHash), []byte("correct horse battery staple")))
	assert.NoError(t, cfg.ValidateAuth())
}

func TestLoadErrors(t *testing.T) {

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("PORTFOLIO_WORKERS", "many")
		_, err := Load("")
		assert.ErrorContains(t, err, "PORTFOLIO_WORKERS")
	})
}

func TestValidate(t *testing.T) {

	testCases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, false},
		{"local without dir", func(c *Config) { c.Storage.Dir = "" }, false},
		{"minio without endpoint", func(c *Config) { c.Storage.Backend = BackendMinio }, false},
		{"catalog without path", func(c *Config) { c.Catalog.Path = "" }, false},
		{"in memory catalog without path", func(c *Config) { c.Catalog.Path = ""; c.Catalog.InMemory = true }, true},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }, false},
		{"upload smaller than file", func(c *Config) { c.Server.MaxUploadBytes = 1 }, false},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, false},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if tc.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestValidateAuth(t *testing.T) {

	cfg := Default()
	cfg.Auth.Secret = "short"
	cfg.Auth.Username = "curator"
	cfg.Auth.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	assert.ErrorContains(t, cfg.ValidateAuth(), "JWT_SECRET")

	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.ValidateAuth())
}
