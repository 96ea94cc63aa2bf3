package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Upload      UploadConfig    `toml:"upload"`
	Chunking    ChunkingConfig  `toml:"chunking"`
	Embedding   EmbeddingConfig `toml:"embedding"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Search      SearchConfig    `toml:"search"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Sweeper     SweeperConfig   `toml:"sweeper"`
	Logging     LoggingConfig   `toml:"logging"`
	Workers     WorkersConfig   `toml:"workers"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	BatchSize         int    `toml:"batch_size"`         // Max messages pulled per poll
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before dead-letter
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	SQLite SQLiteConfig `toml:"sqlite"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SQLiteConfig represents the relational job store configuration
type SQLiteConfig struct {
	Path string `toml:"path"` // Database file path
}

// UploadConfig controls what the upload endpoint accepts
type UploadConfig struct {
	MaxFileSize       int64    `toml:"max_file_size"`      // Maximum upload size in bytes
	AllowedExtensions []string `toml:"allowed_extensions"` // Lowercase extensions including the dot
}

// ChunkingConfig holds the text splitting parameters
type ChunkingConfig struct {
	ChunkSize int `toml:"chunk_size"` // Target chunk size in characters
	Overlap   int `toml:"overlap"`    // Overlap between adjacent chunks in characters
	MinLength int `toml:"min_length"` // Chunks shorter than this are dropped
}

// EmbeddingConfig contains the OpenAI-compatible embedding endpoint configuration
type EmbeddingConfig struct {
	Provider  string `toml:"provider"`   // "openai" or "mock"
	BaseURL   string `toml:"base_url"`   // OpenAI-compatible endpoint base URL
	APIKey    string `toml:"api_key"`    // API key for the embedding endpoint
	Model     string `toml:"model"`      // Embedding model name
	Dimension int    `toml:"dimension"`  // Expected vector dimension
	BatchSize int    `toml:"batch_size"` // Max texts per embedding request
	Timeout   string `toml:"timeout"`    // Request timeout as duration string
}

// ClaudeConfig contains Anthropic Claude API configuration for answer generation
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for answer generation
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 1024)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// LLMProvider represents the answer generation provider type
type LLMProvider string

const (
	// LLMProviderClaude uses the Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
	// LLMProviderOpenAI uses an OpenAI-compatible chat endpoint
	LLMProviderOpenAI LLMProvider = "openai"
	// LLMProviderNone disables generation; answers fall back to extractive snippets
	LLMProviderNone LLMProvider = "none"
)

// LLMConfig selects the answer generation provider
type LLMConfig struct {
	Provider    LLMProvider `toml:"provider"`    // "claude", "openai", or "none"
	Model       string      `toml:"model"`       // Chat model name for the "openai" provider
	Temperature float64     `toml:"temperature"` // Completion temperature for the "openai" provider
}

// SearchConfig contains retrieval defaults
type SearchConfig struct {
	DenseWeight  float64 `toml:"dense_weight"`  // Default dense score weight for hybrid fusion
	SparseWeight float64 `toml:"sparse_weight"` // Default sparse score weight for hybrid fusion
	DefaultTopK  int     `toml:"default_top_k"` // Default result count when the request omits top_k
	MaxTopK      int     `toml:"max_top_k"`     // Upper bound on requested top_k
}

// WebSocketConfig contains configuration for job status streaming
type WebSocketConfig struct {
	PushInterval string `toml:"push_interval"` // How often status snapshots are pushed (default: "1s")
}

// SweeperConfig controls the stale job sweeper
type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`  // Cron schedule format
	MaxAge   string `toml:"max_age"`   // Jobs stuck in a non-terminal state longer than this are failed
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// WorkersConfig contains configuration for worker behavior
type WorkersConfig struct {
	IngestionConcurrency int `toml:"ingestion_concurrency"` // Concurrent ingestion workers
	EmbeddingConcurrency int `toml:"embedding_concurrency"` // Concurrent embedding workers
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in distill.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			BatchSize:         10,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			SQLite: SQLiteConfig{
				Path: "./data/distill.db",
			},
		},
		Upload: UploadConfig{
			MaxFileSize:       50 * 1024 * 1024, // 50MB
			AllowedExtensions: []string{".txt", ".md", ".html", ".pdf"},
		},
		Chunking: ChunkingConfig{
			ChunkSize: 1024,
			Overlap:   128,
			MinLength: 100,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			BaseURL:   "http://localhost:11434/v1",
			Model:     "nomic-embed-text",
			Dimension: 768,
			BatchSize: 16,
			Timeout:   "2m",
		},
		Claude: ClaudeConfig{
			APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   1024,
			Timeout:     "2m",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			Provider: LLMProviderNone, // Extractive answers unless a provider is configured
		},
		Search: SearchConfig{
			DenseWeight:  0.7,
			SparseWeight: 0.3,
			DefaultTopK:  5,
			MaxTopK:      50,
		},
		WebSocket: WebSocketConfig{
			PushInterval: "1s",
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *", // Every 5 minutes
			MaxAge:   "30m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Workers: WorkersConfig{
			IngestionConcurrency: 2,
			EmbeddingConcurrency: 4,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files, later files overriding
// earlier ones. Priority: CLI flags > environment variables > last config file >
// earlier config files > defaults.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: DISTILL_ENV, fallback: GO_ENV)
	if env := os.Getenv("DISTILL_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("DISTILL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DISTILL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("DISTILL_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if batchSize := os.Getenv("DISTILL_QUEUE_BATCH_SIZE"); batchSize != "" {
		if b, err := strconv.Atoi(batchSize); err == nil {
			config.Queue.BatchSize = b
		}
	}
	if visibilityTimeout := os.Getenv("DISTILL_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("DISTILL_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("DISTILL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if sqlitePath := os.Getenv("DISTILL_SQLITE_PATH"); sqlitePath != "" {
		config.Storage.SQLite.Path = sqlitePath
	}

	// Upload configuration
	if maxFileSize := os.Getenv("DISTILL_UPLOAD_MAX_FILE_SIZE"); maxFileSize != "" {
		if mfs, err := strconv.ParseInt(maxFileSize, 10, 64); err == nil {
			config.Upload.MaxFileSize = mfs
		}
	}
	if extensions := os.Getenv("DISTILL_UPLOAD_ALLOWED_EXTENSIONS"); extensions != "" {
		exts := []string{}
		for _, e := range strings.Split(extensions, ",") {
			trimmed := strings.TrimSpace(e)
			if trimmed != "" {
				exts = append(exts, strings.ToLower(trimmed))
			}
		}
		if len(exts) > 0 {
			config.Upload.AllowedExtensions = exts
		}
	}

	// Chunking configuration
	if chunkSize := os.Getenv("DISTILL_CHUNKING_CHUNK_SIZE"); chunkSize != "" {
		if cs, err := strconv.Atoi(chunkSize); err == nil {
			config.Chunking.ChunkSize = cs
		}
	}
	if overlap := os.Getenv("DISTILL_CHUNKING_OVERLAP"); overlap != "" {
		if o, err := strconv.Atoi(overlap); err == nil {
			config.Chunking.Overlap = o
		}
	}
	if minLength := os.Getenv("DISTILL_CHUNKING_MIN_LENGTH"); minLength != "" {
		if ml, err := strconv.Atoi(minLength); err == nil {
			config.Chunking.MinLength = ml
		}
	}

	// Embedding configuration
	if provider := os.Getenv("DISTILL_EMBEDDING_PROVIDER"); provider != "" {
		config.Embedding.Provider = provider
	}
	if baseURL := os.Getenv("DISTILL_EMBEDDING_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}
	if apiKey := os.Getenv("DISTILL_EMBEDDING_API_KEY"); apiKey != "" {
		config.Embedding.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.APIKey = apiKey
	}
	if model := os.Getenv("DISTILL_EMBEDDING_MODEL"); model != "" {
		config.Embedding.Model = model
	}
	if dimension := os.Getenv("DISTILL_EMBEDDING_DIMENSION"); dimension != "" {
		if d, err := strconv.Atoi(dimension); err == nil {
			config.Embedding.Dimension = d
		}
	}
	if batchSize := os.Getenv("DISTILL_EMBEDDING_BATCH_SIZE"); batchSize != "" {
		if b, err := strconv.Atoi(batchSize); err == nil {
			config.Embedding.BatchSize = b
		}
	}
	if timeout := os.Getenv("DISTILL_EMBEDDING_TIMEOUT"); timeout != "" {
		config.Embedding.Timeout = timeout
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("DISTILL_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // DISTILL_ prefix takes priority
	}
	if model := os.Getenv("DISTILL_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if maxTokens := os.Getenv("DISTILL_CLAUDE_MAX_TOKENS"); maxTokens != "" {
		if mt, err := strconv.Atoi(maxTokens); err == nil {
			config.Claude.MaxTokens = mt
		}
	}
	if timeout := os.Getenv("DISTILL_CLAUDE_TIMEOUT"); timeout != "" {
		config.Claude.Timeout = timeout
	}
	if temperature := os.Getenv("DISTILL_CLAUDE_TEMPERATURE"); temperature != "" {
		if t, err := strconv.ParseFloat(temperature, 32); err == nil {
			config.Claude.Temperature = float32(t)
		}
	}

	// LLM provider configuration
	if provider := os.Getenv("DISTILL_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = LLMProvider(provider)
	}
	if model := os.Getenv("DISTILL_LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if temperature := os.Getenv("DISTILL_LLM_TEMPERATURE"); temperature != "" {
		if t, err := strconv.ParseFloat(temperature, 64); err == nil {
			config.LLM.Temperature = t
		}
	}

	// Search configuration
	if denseWeight := os.Getenv("DISTILL_SEARCH_DENSE_WEIGHT"); denseWeight != "" {
		if w, err := strconv.ParseFloat(denseWeight, 64); err == nil {
			config.Search.DenseWeight = w
		}
	}
	if sparseWeight := os.Getenv("DISTILL_SEARCH_SPARSE_WEIGHT"); sparseWeight != "" {
		if w, err := strconv.ParseFloat(sparseWeight, 64); err == nil {
			config.Search.SparseWeight = w
		}
	}
	if defaultTopK := os.Getenv("DISTILL_SEARCH_DEFAULT_TOP_K"); defaultTopK != "" {
		if k, err := strconv.Atoi(defaultTopK); err == nil {
			config.Search.DefaultTopK = k
		}
	}
	if maxTopK := os.Getenv("DISTILL_SEARCH_MAX_TOP_K"); maxTopK != "" {
		if k, err := strconv.Atoi(maxTopK); err == nil {
			config.Search.MaxTopK = k
		}
	}

	// WebSocket configuration
	if pushInterval := os.Getenv("DISTILL_WEBSOCKET_PUSH_INTERVAL"); pushInterval != "" {
		if _, err := time.ParseDuration(pushInterval); err == nil {
			config.WebSocket.PushInterval = pushInterval
		}
	}

	// Sweeper configuration
	if enabled := os.Getenv("DISTILL_SWEEPER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Sweeper.Enabled = e
		}
	}
	if schedule := os.Getenv("DISTILL_SWEEPER_SCHEDULE"); schedule != "" {
		config.Sweeper.Schedule = schedule
	}
	if maxAge := os.Getenv("DISTILL_SWEEPER_MAX_AGE"); maxAge != "" {
		if _, err := time.ParseDuration(maxAge); err == nil {
			config.Sweeper.MaxAge = maxAge
		}
	}

	// Logging configuration
	if level := os.Getenv("DISTILL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("DISTILL_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("DISTILL_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Workers configuration
	if concurrency := os.Getenv("DISTILL_WORKERS_INGESTION_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Workers.IngestionConcurrency = c
		}
	}
	if concurrency := os.Getenv("DISTILL_WORKERS_EMBEDDING_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Workers.EmbeddingConcurrency = c
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ValidateSweeperSchedule validates a cron schedule expression
func ValidateSweeperSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// PollInterval returns the queue poll interval, falling back to 1s on parse errors
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Queue.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// VisibilityTimeout returns the queue visibility timeout, falling back to 5m on parse errors
func (c *Config) VisibilityTimeout() time.Duration {
	d, err := time.ParseDuration(c.Queue.VisibilityTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
