package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the pipeline treats as policy: thresholds,
// timeouts, truncation limits, TTLs. Nothing in here is hardcoded in
// pipeline logic.
type Config struct {
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	// Model endpoint (local OpenAI-compatible server: llama.cpp, Ollama, ...)
	ModelBaseURL string
	ModelAPIKey  string
	ModelName    string

	// Per-stage inference budgets
	ClassifyTimeout     time.Duration
	ExtractTimeout      time.Duration
	MatchTimeout        time.Duration
	ClassifyMaxTokens   int
	ExtractMaxTokens    int
	MatchMaxTokens      int
	ClassifyBodyLimit   int
	ExtractBodyLimit    int
	ModelConcurrency    int
	InferenceCacheTTL   time.Duration
	BreakerOpenFailures int

	// Preclassifier threshold policy
	AutoApproveThreshold float64
	NeedsReviewThreshold float64
	MinStorageThreshold  float64

	// Content extraction
	MinPartLength    int
	ShortBodyLength  int
	SnippetMaxLength int

	// Batch runner
	GroupWorkers int
	BatchSize    int

	// OAuth - Google (message source)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleTokenFile    string

	// Provider query defaults
	GmailQuery     string
	SyncWindowDays int

	// Body archive retention
	BodyTTL time.Duration

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load reads configuration from the environment (and .env when present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "jobsift"),

		ModelBaseURL: getEnv("MODEL_BASE_URL", "http://127.0.0.1:11434/v1"),
		ModelAPIKey:  getEnv("MODEL_API_KEY", "local"),
		ModelName:    getEnv("MODEL_NAME", "qwen2.5:3b-instruct"),

		ClassifyTimeout:     time.Duration(getEnvInt("CLASSIFY_TIMEOUT_SEC", 8)) * time.Second,
		ExtractTimeout:      time.Duration(getEnvInt("EXTRACT_TIMEOUT_SEC", 25)) * time.Second,
		MatchTimeout:        time.Duration(getEnvInt("MATCH_TIMEOUT_SEC", 8)) * time.Second,
		ClassifyMaxTokens:   getEnvInt("CLASSIFY_MAX_TOKENS", 64),
		ExtractMaxTokens:    getEnvInt("EXTRACT_MAX_TOKENS", 256),
		MatchMaxTokens:      getEnvInt("MATCH_MAX_TOKENS", 32),
		ClassifyBodyLimit:   getEnvInt("CLASSIFY_BODY_LIMIT", 400),
		ExtractBodyLimit:    getEnvInt("EXTRACT_BODY_LIMIT", 3000),
		ModelConcurrency:    getEnvInt("MODEL_CONCURRENCY", 2),
		InferenceCacheTTL:   time.Duration(getEnvInt("INFERENCE_CACHE_TTL_HOUR", 168)) * time.Hour,
		BreakerOpenFailures: getEnvInt("BREAKER_OPEN_FAILURES", 5),

		AutoApproveThreshold: getEnvFloat("AUTO_APPROVE_THRESHOLD", 0.9),
		NeedsReviewThreshold: getEnvFloat("NEEDS_REVIEW_THRESHOLD", 0.7),
		MinStorageThreshold:  getEnvFloat("MIN_STORAGE_THRESHOLD", 0.6),

		MinPartLength:    getEnvInt("MIN_PART_LENGTH", 20),
		ShortBodyLength:  getEnvInt("SHORT_BODY_LENGTH", 200),
		SnippetMaxLength: getEnvInt("SNIPPET_MAX_LENGTH", 500),

		GroupWorkers: getEnvInt("GROUP_WORKERS", 4),
		BatchSize:    getEnvInt("BATCH_SIZE", 50),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://127.0.0.1:8089/oauth/callback"),
		GoogleTokenFile:    getEnv("GOOGLE_TOKEN_FILE", ".gmail-token.json"),

		GmailQuery:     getEnv("GMAIL_QUERY", "category:primary OR category:updates"),
		SyncWindowDays: getEnvInt("SYNC_WINDOW_DAYS", 180),

		BodyTTL: time.Duration(getEnvInt("BODY_TTL_DAYS", 90)) * 24 * time.Hour,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects threshold/budget combinations the pipeline cannot run
// with. Fatal at startup, never per-message.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"AUTO_APPROVE_THRESHOLD": c.AutoApproveThreshold,
		"NEEDS_REVIEW_THRESHOLD": c.NeedsReviewThreshold,
		"MIN_STORAGE_THRESHOLD":  c.MinStorageThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be within [0,1], got %v", name, v)
		}
	}
	if c.NeedsReviewThreshold > c.AutoApproveThreshold {
		return fmt.Errorf("config: NEEDS_REVIEW_THRESHOLD (%v) must not exceed AUTO_APPROVE_THRESHOLD (%v)",
			c.NeedsReviewThreshold, c.AutoApproveThreshold)
	}
	if c.MinStorageThreshold > c.NeedsReviewThreshold {
		return fmt.Errorf("config: MIN_STORAGE_THRESHOLD (%v) must not exceed NEEDS_REVIEW_THRESHOLD (%v)",
			c.MinStorageThreshold, c.NeedsReviewThreshold)
	}
	for name, d := range map[string]time.Duration{
		"CLASSIFY_TIMEOUT_SEC": c.ClassifyTimeout,
		"EXTRACT_TIMEOUT_SEC":  c.ExtractTimeout,
		"MATCH_TIMEOUT_SEC":    c.MatchTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.ModelConcurrency < 1 {
		return fmt.Errorf("config: MODEL_CONCURRENCY must be at least 1")
	}
	if c.GroupWorkers < 1 {
		return fmt.Errorf("config: GROUP_WORKERS must be at least 1")
	}
	if c.ClassifyBodyLimit <= 0 || c.ExtractBodyLimit <= 0 {
		return fmt.Errorf("config: body truncation limits must be positive")
	}
	if c.ModelBaseURL == "" {
		return fmt.Errorf("config: MODEL_BASE_URL must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// LocalModelOnly reports whether the configured endpoint stays on the
// local machine. The pipeline refuses non-local endpoints outside
// development.
func (c *Config) LocalModelOnly() bool {
	return strings.Contains(c.ModelBaseURL, "127.0.0.1") ||
		strings.Contains(c.ModelBaseURL, "localhost") ||
		strings.Contains(c.ModelBaseURL, "[::1]")
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
