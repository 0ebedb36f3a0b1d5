// Package config provides configuration management for petmind.
// It loads settings from environment variables with the PETMIND_ prefix
// and provides sensible defaults for all configuration options.
//
// A .env file in the working directory is loaded before the environment is
// read. When PETMIND_CONFIG_FILE points at a YAML file, its values override
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the petmind application.
// A Config is built once at startup and handed to each component; nothing
// reads the environment after LoadConfig returns.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Media     MediaConfig     `yaml:"media"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Engine    EngineConfig    `yaml:"engine"`
	Chat      ChatConfig      `yaml:"chat"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 6464)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`    // Directory for the SQLite file (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"` // Connection string when engine is postgres
	UsePgvector   bool   `yaml:"use_pgvector"` // Rank inside PostgreSQL with <=> (default: true)
}

// QueueConfig selects the ingestion job queue backend.
type QueueConfig struct {
	Backend       string `yaml:"backend"`        // memory or redis (default: memory)
	RedisAddr     string `yaml:"redis_addr"`     // Redis address (default: localhost:6379)
	RedisPassword string `yaml:"redis_password"` // Redis password
	RedisDB       int    `yaml:"redis_db"`       // Redis database number
	RedisKey      string `yaml:"redis_key"`      // List key for jobs (default: petmind:ingest)
}

// MediaConfig contains object storage configuration.
type MediaConfig struct {
	Backend     string `yaml:"backend"`       // local or s3 (default: local)
	Root        string `yaml:"root"`          // Local media directory (default: ./data/uploads)
	S3Bucket    string `yaml:"s3_bucket"`     // Bucket for uploads when backend is s3
	S3Region    string `yaml:"s3_region"`     // AWS region (default: us-east-1)
	S3Endpoint  string `yaml:"s3_endpoint"`   // Custom endpoint (MinIO, LocalStack)
	S3PathStyle bool   `yaml:"s3_path_style"` // Force path-style addressing
	MaxImageDim int    `yaml:"max_image_dim"` // Longest side after downscale (default: 512)
	MaxUploadMB int    `yaml:"max_upload_mb"` // Upload size limit (default: 10)
	InboxPath   string `yaml:"inbox_path"`    // Drop folder watched by `serve --watch`

	// AllowRoots lists extra directories whose files may be referenced in
	// place by absolute path, e.g. folders imported with `petmind ingest`.
	AllowRoots []string `yaml:"allow_roots"`
}

// LLMConfig contains chat completion provider configuration.
type LLMConfig struct {
	LLMProvider     string        `yaml:"provider"`          // openai, ollama, anthropic (default: openai)
	OpenAIAPIKey    string        `yaml:"openai_api_key"`    // Key for the OpenAI-compatible provider
	OpenAIBaseURL   string        `yaml:"openai_base_url"`   // default: https://api.deepseek.com/v1
	OpenAIModel     string        `yaml:"openai_model"`      // default: deepseek-chat
	OllamaURL       string        `yaml:"ollama_url"`        // default: http://localhost:11434
	OllamaModel     string        `yaml:"ollama_model"`      // default: qwen2.5:7b
	AnthropicAPIKey string        `yaml:"anthropic_api_key"` // Anthropic API key
	AnthropicModel  string        `yaml:"anthropic_model"`   // default: claude-haiku-4-5-20251001
	Timeout         time.Duration `yaml:"timeout"`           // Per-call completion timeout (default: 60s)
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"`        // clip, openai, ollama (default: clip)
	ClipURL       string        `yaml:"clip_url"`        // CLIP service URL (default: http://localhost:51000)
	OpenAIAPIKey  string        `yaml:"openai_api_key"`  // Key for OpenAI embeddings
	OpenAIBaseURL string        `yaml:"openai_base_url"` // default: https://api.openai.com/v1
	Model         string        `yaml:"model"`           // Model name passed to the provider
	Dimension     int           `yaml:"dimension"`       // Expected vector size; 0 accepts any
	Timeout       time.Duration `yaml:"timeout"`         // Per-call embed timeout (default: 30s)
}

// EngineConfig contains ingestion and retrieval settings.
type EngineConfig struct {
	NumWorkers        int           `yaml:"num_workers"`         // Embedding workers (default: 4)
	QueueSize         int           `yaml:"queue_size"`          // In-memory queue capacity (default: 1000)
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`    // Drain wait on shutdown (default: 30s)
	RecoveryBatchSize int           `yaml:"recovery_batch_size"` // Pending records per recovery page (default: 1000)
	QueryCacheSize    int           `yaml:"query_cache_size"`    // Cached text query vectors (default: 256)
	SearchLimit       int           `yaml:"search_limit"`        // Default k for search (default: 6)
}

// ChatConfig contains conversation assembly settings.
type ChatConfig struct {
	MemoryWindow    int    `yaml:"memory_window"`     // Memories per prompt (default: 2)
	MaxPromptChars  int    `yaml:"max_prompt_chars"`  // Prompt budget in characters (default: 4000)
	RetainMinLength int    `yaml:"retain_min_length"` // Inputs longer than this become memories (default: 10)
	FallbackReply   string `yaml:"fallback_reply"`    // Reply when completion fails
}

// SecurityConfig contains API access settings.
type SecurityConfig struct {
	SecurityMode   string `yaml:"mode"`             // development or production (default: development)
	APIToken       string `yaml:"api_token"`        // Bearer token required in production
	RateLimitRPS   int    `yaml:"rate_limit_rps"`   // Sustained requests per second per client (default: 10)
	RateLimitBurst int    `yaml:"rate_limit_burst"` // Burst size per client (default: 20)
}

// LoadConfig loads configuration from a .env file, environment variables and
// an optional YAML overlay, in that order of increasing precedence.
func LoadConfig() (*Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg := buildBaseConfig()

	if path := os.Getenv("PETMIND_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays values from a YAML file. Keys absent from the file keep
// their current values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: PETMIND_POSTGRES_DSN is required for the postgres storage engine")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.StorageEngine)
	}

	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unsupported queue backend %q", c.Queue.Backend)
	}

	switch c.Media.Backend {
	case "local":
	case "s3":
		if c.Media.S3Bucket == "" {
			return errors.New("config: PETMIND_S3_BUCKET is required for the s3 media backend")
		}
	default:
		return fmt.Errorf("config: unsupported media backend %q", c.Media.Backend)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}

	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	dataPath := getEnv("PETMIND_DATA_PATH", "./data")

	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("PETMIND_PORT", 6464),
			Host: getEnv("PETMIND_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("PETMIND_STORAGE_ENGINE", "sqlite"),
			DataPath:      dataPath,
			PostgresDSN:   getEnv("PETMIND_POSTGRES_DSN", ""),
			UsePgvector:   getEnvBool("PETMIND_USE_PGVECTOR", true),
		},
		Queue: QueueConfig{
			Backend:       getEnv("PETMIND_QUEUE_BACKEND", "memory"),
			RedisAddr:     getEnv("PETMIND_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("PETMIND_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("PETMIND_REDIS_DB", 0),
			RedisKey:      getEnv("PETMIND_REDIS_KEY", "petmind:ingest"),
		},
		Media: MediaConfig{
			Backend:     getEnv("PETMIND_MEDIA_BACKEND", "local"),
			Root:        getEnv("PETMIND_MEDIA_ROOT", dataPath+"/uploads"),
			S3Bucket:    getEnv("PETMIND_S3_BUCKET", ""),
			S3Region:    getEnv("PETMIND_S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("PETMIND_S3_ENDPOINT", ""),
			S3PathStyle: getEnvBool("PETMIND_S3_PATH_STYLE", false),
			MaxImageDim: getEnvInt("PETMIND_MAX_IMAGE_DIM", 512),
			MaxUploadMB: getEnvInt("PETMIND_MAX_UPLOAD_MB", 10),
			InboxPath:   getEnv("PETMIND_INBOX_PATH", dataPath+"/inbox"),
			AllowRoots:  getEnvList("PETMIND_MEDIA_ALLOW_ROOTS"),
		},
		LLM: LLMConfig{
			LLMProvider:     getEnv("PETMIND_LLM_PROVIDER", "openai"),
			OpenAIAPIKey:    getEnv("PETMIND_OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("PETMIND_OPENAI_BASE_URL", "https://api.deepseek.com/v1"),
			OpenAIModel:     getEnv("PETMIND_OPENAI_MODEL", "deepseek-chat"),
			OllamaURL:       getEnv("PETMIND_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:     getEnv("PETMIND_OLLAMA_MODEL", "qwen2.5:7b"),
			AnthropicAPIKey: getEnv("PETMIND_ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("PETMIND_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			Timeout:         getEnvDuration("PETMIND_LLM_TIMEOUT", 60*time.Second),
		},
		Embedding: EmbeddingConfig{
			Provider:      getEnv("PETMIND_EMBEDDING_PROVIDER", "clip"),
			ClipURL:       getEnv("PETMIND_CLIP_URL", "http://localhost:51000"),
			OpenAIAPIKey:  getEnv("PETMIND_EMBEDDING_API_KEY", ""),
			OpenAIBaseURL: getEnv("PETMIND_EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			Model:         getEnv("PETMIND_EMBEDDING_MODEL", ""),
			Dimension:     getEnvInt("PETMIND_EMBEDDING_DIMENSION", 0),
			Timeout:       getEnvDuration("PETMIND_EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			NumWorkers:        getEnvInt("PETMIND_WORKERS", 4),
			QueueSize:         getEnvInt("PETMIND_QUEUE_SIZE", 1000),
			ShutdownTimeout:   getEnvDuration("PETMIND_SHUTDOWN_TIMEOUT", 30*time.Second),
			RecoveryBatchSize: getEnvInt("PETMIND_RECOVERY_BATCH_SIZE", 1000),
			QueryCacheSize:    getEnvInt("PETMIND_QUERY_CACHE_SIZE", 256),
			SearchLimit:       getEnvInt("PETMIND_SEARCH_LIMIT", 6),
		},
		Chat: ChatConfig{
			MemoryWindow:    getEnvInt("PETMIND_MEMORY_WINDOW", 2),
			MaxPromptChars:  getEnvInt("PETMIND_MAX_PROMPT_CHARS", 4000),
			RetainMinLength: getEnvInt("PETMIND_RETAIN_MIN_LENGTH", 10),
			FallbackReply:   getEnv("PETMIND_FALLBACK_REPLY", "Woof... I'm tired."),
		},
		Security: SecurityConfig{
			SecurityMode:   getEnv("PETMIND_SECURITY_MODE", "development"),
			APIToken:       getEnv("PETMIND_API_TOKEN", ""),
			RateLimitRPS:   getEnvInt("PETMIND_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("PETMIND_RATE_LIMIT_BURST", 20),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable, dropping blanks.
// getEnvList splits a comma separated environment variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "30s")
// or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
