package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/petmind/internal/config"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("PETMIND_HOST")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
}

func TestLoadConfig_CanOverrideHost(t *testing.T) {
	t.Setenv("PETMIND_HOST", "0.0.0.0")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

// TestLoadConfig_Defaults verifies the chat defaults: a memory window of 2
// and retention of inputs over 10 chars.
func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, "local", cfg.Media.Backend)
	assert.Equal(t, 4, cfg.Engine.NumWorkers)
	assert.Equal(t, 2, cfg.Chat.MemoryWindow)
	assert.Equal(t, 10, cfg.Chat.RetainMinLength)
	assert.Equal(t, 6, cfg.Engine.SearchLimit)
	assert.Equal(t, "deepseek-chat", cfg.LLM.OpenAIModel)
	assert.NotEmpty(t, cfg.Chat.FallbackReply)
	assert.Equal(t, 10, cfg.Security.RateLimitRPS)
	assert.Equal(t, 20, cfg.Security.RateLimitBurst)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PETMIND_WORKERS", "8")
	t.Setenv("PETMIND_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("PETMIND_USE_PGVECTOR", "no")
	t.Setenv("PETMIND_MEMORY_WINDOW", "not-a-number")
	t.Setenv("PETMIND_MEDIA_ALLOW_ROOTS", " /srv/photos, ,/mnt/cats ")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.NumWorkers)
	assert.Equal(t, 5*time.Second, cfg.Engine.ShutdownTimeout)
	assert.False(t, cfg.Storage.UsePgvector)
	assert.Equal(t, 2, cfg.Chat.MemoryWindow, "unparseable values fall back to the default")
	assert.Equal(t, []string{"/srv/photos", "/mnt/cats"}, cfg.Media.AllowRoots)
}

func TestLoadConfig_YAMLOverlayWinsOverEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "petmind.yaml")
	yamlBody := `
engine:
  num_workers: 2
  shutdown_timeout: 10s
chat:
  fallback_reply: "Meow."
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	t.Setenv("PETMIND_WORKERS", "16")
	t.Setenv("PETMIND_CONFIG_FILE", path)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Engine.NumWorkers)
	assert.Equal(t, 10*time.Second, cfg.Engine.ShutdownTimeout)
	assert.Equal(t, "Meow.", cfg.Chat.FallbackReply)
	// Keys absent from the file keep their env/default values.
	assert.Equal(t, 1000, cfg.Engine.QueueSize)
}

func TestLoadConfig_MissingOverlayFile(t *testing.T) {
	t.Setenv("PETMIND_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{"defaults", func(c *config.Config) {}, false},
		{"postgres without dsn", func(c *config.Config) { c.Storage.StorageEngine = "postgres" }, true},
		{"postgres with dsn", func(c *config.Config) {
			c.Storage.StorageEngine = "postgres"
			c.Storage.PostgresDSN = "postgres://localhost/petmind"
		}, false},
		{"unknown engine", func(c *config.Config) { c.Storage.StorageEngine = "mongo" }, true},
		{"unknown queue", func(c *config.Config) { c.Queue.Backend = "kafka" }, true},
		{"s3 without bucket", func(c *config.Config) { c.Media.Backend = "s3" }, true},
		{"bad port", func(c *config.Config) { c.Server.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadConfig()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
