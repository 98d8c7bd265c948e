package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var identRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Article content rules
	Content ContentConfig `yaml:"content"`

	// Lexical/semantic index configuration
	Search SearchConfig `yaml:"search"`

	// Scheduled publication processor
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host          string        `yaml:"host"`
	Port          string        `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	SSLMode       string        `yaml:"sslmode"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns"`
	MaxLifetime   time.Duration `yaml:"max_lifetime"`
	RunMigrations bool          `yaml:"run_migrations"`
}

// ContentConfig holds article content rules
type ContentConfig struct {
	ReadingSpeedWPM int `yaml:"reading_speed_wpm"`
	// PublishRefreshesTimestamp controls whether publishing an already
	// published article moves published_at forward.
	PublishRefreshesTimestamp bool `yaml:"publish_refreshes_timestamp"`
	MaxPageSize               int  `yaml:"max_page_size"`
}

// SearchConfig holds index maintenance and embedding settings
type SearchConfig struct {
	TextSearchConfig     string        `yaml:"text_search_config"`
	EmbeddingEnabled     bool          `yaml:"embedding_enabled"`
	OpenAIAPIKey         string        `yaml:"openai_api_key"`
	OpenAIBaseURL        string        `yaml:"openai_base_url"`
	EmbeddingModel       string        `yaml:"embedding_model"`
	EmbeddingDimensions  int           `yaml:"embedding_dimensions"`
	EmbeddingTimeout     time.Duration `yaml:"embedding_timeout"`
	EmbeddingCacheSize   int           `yaml:"embedding_cache_size"`
	EmbeddingRateLimit   float64       `yaml:"embedding_rate_limit"` // requests per second
	EmbeddingMaxChars    int           `yaml:"embedding_max_chars"`
	ReindexWorkers       int           `yaml:"reindex_workers"`
	HybridSemanticWeight float64       `yaml:"hybrid_semantic_weight"`
}

// SchedulerConfig holds scheduled publication settings
type SchedulerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxWorkers int           `yaml:"max_workers"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "pretty"
}

// Defaults returns the built-in configuration before any file or env overrides
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          "5432",
			User:          "postgres",
			Password:      "postgres",
			Name:          "content_store",
			SSLMode:       "disable",
			MaxOpenConns:  25,
			MaxIdleConns:  5,
			MaxLifetime:   5 * time.Minute,
			RunMigrations: true,
		},
		Content: ContentConfig{
			ReadingSpeedWPM:           200,
			PublishRefreshesTimestamp: true,
			MaxPageSize:               100,
		},
		Search: SearchConfig{
			TextSearchConfig:     "english",
			EmbeddingModel:       "text-embedding-3-large",
			EmbeddingDimensions:  1536,
			EmbeddingTimeout:     10 * time.Second,
			EmbeddingCacheSize:   100,
			EmbeddingRateLimit:   5,
			EmbeddingMaxChars:    8000,
			ReindexWorkers:       4,
			HybridSemanticWeight: 0.5,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Interval:   30 * time.Second,
			BatchSize:  100,
			MaxWorkers: 8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and then
// from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.ReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getIntEnv("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getIntEnv("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.MaxLifetime = getDurationEnv("DB_MAX_LIFETIME", c.Database.MaxLifetime)
	c.Database.RunMigrations = getBoolEnv("DB_RUN_MIGRATIONS", c.Database.RunMigrations)

	c.Content.ReadingSpeedWPM = getIntEnv("READING_SPEED_WPM", c.Content.ReadingSpeedWPM)
	c.Content.PublishRefreshesTimestamp = getBoolEnv("PUBLISH_REFRESHES_TIMESTAMP", c.Content.PublishRefreshesTimestamp)
	c.Content.MaxPageSize = getIntEnv("MAX_PAGE_SIZE", c.Content.MaxPageSize)

	c.Search.TextSearchConfig = getEnv("TEXT_SEARCH_CONFIG", c.Search.TextSearchConfig)
	c.Search.EmbeddingEnabled = getBoolEnv("EMBEDDING_ENABLED", c.Search.EmbeddingEnabled)
	c.Search.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.Search.OpenAIAPIKey)
	c.Search.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.Search.OpenAIBaseURL)
	c.Search.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.Search.EmbeddingModel)
	c.Search.EmbeddingDimensions = getIntEnv("EMBEDDING_DIMENSIONS", c.Search.EmbeddingDimensions)
	c.Search.EmbeddingTimeout = getDurationEnv("EMBEDDING_TIMEOUT", c.Search.EmbeddingTimeout)
	c.Search.EmbeddingCacheSize = getIntEnv("EMBEDDING_CACHE_SIZE", c.Search.EmbeddingCacheSize)
	c.Search.EmbeddingRateLimit = getFloatEnv("EMBEDDING_RATE_LIMIT", c.Search.EmbeddingRateLimit)
	c.Search.EmbeddingMaxChars = getIntEnv("EMBEDDING_MAX_CHARS", c.Search.EmbeddingMaxChars)
	c.Search.ReindexWorkers = getIntEnv("REINDEX_WORKERS", c.Search.ReindexWorkers)
	c.Search.HybridSemanticWeight = getFloatEnv("HYBRID_SEMANTIC_WEIGHT", c.Search.HybridSemanticWeight)

	c.Scheduler.Enabled = getBoolEnv("SCHEDULER_ENABLED", c.Scheduler.Enabled)
	c.Scheduler.Interval = getDurationEnv("SCHEDULER_INTERVAL", c.Scheduler.Interval)
	c.Scheduler.BatchSize = getIntEnv("SCHEDULER_BATCH_SIZE", c.Scheduler.BatchSize)
	c.Scheduler.MaxWorkers = getIntEnv("SCHEDULER_MAX_WORKERS", c.Scheduler.MaxWorkers)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Content.ReadingSpeedWPM < 1 {
		return fmt.Errorf("READING_SPEED_WPM must be at least 1")
	}
	if c.Content.MaxPageSize < 1 {
		return fmt.Errorf("MAX_PAGE_SIZE must be at least 1")
	}
	if c.Search.EmbeddingDimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	if c.Search.HybridSemanticWeight < 0 || c.Search.HybridSemanticWeight > 1 {
		return fmt.Errorf("HYBRID_SEMANTIC_WEIGHT must be between 0 and 1")
	}
	if !identRegex.MatchString(c.Search.TextSearchConfig) {
		return fmt.Errorf("TEXT_SEARCH_CONFIG %q is not a valid configuration name", c.Search.TextSearchConfig)
	}
	if c.Search.EmbeddingEnabled && c.Search.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_ENABLED is true")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
