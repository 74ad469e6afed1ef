// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	DBQueryTimeout time.Duration
	DBSeed         bool
	PageScopesPath string // empty uses the embedded table

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	ConfirmMaxAttempts   int

	Model           ModelConfig
	Vision          VisionConfig
	Executor        ExecutorConfig
	RateLimit       RateLimitConfig
	MaxRequestBody  int64
	ConversationLog ConversationLogConfig
}

// ModelConfig locates the tool-proposing model service.
type ModelConfig struct {
	Addr           string // empty disables the agent routes
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// VisionConfig locates the multimodal extraction endpoint.
type VisionConfig struct {
	Endpoint   string // empty disables image input
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// ExecutorConfig bounds retries of transient database failures.
type ExecutorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// RateLimitConfig throttles turns per operator.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/fleet.db"),
		DBQueryTimeout: getEnvDuration("DB_QUERY_TIMEOUT", 3*time.Second),
		DBSeed:         getEnvBool("DB_SEED", true),
		PageScopesPath: getEnv("PAGE_SCOPES_PATH", ""),

		SessionTTL:           getEnvDuration("SESSION_TTL", 60*time.Minute),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		ConfirmMaxAttempts:   getEnvInt("CONFIRM_MAX_ATTEMPTS", 3),

		Model: ModelConfig{
			Addr:           getEnv("MODEL_ADDR", ""),
			Timeout:        getEnvDuration("MODEL_TIMEOUT", 30*time.Second),
			ConnectTimeout: getEnvDuration("MODEL_CONNECT_TIMEOUT", 5*time.Second),
		},
		Vision: VisionConfig{
			Endpoint:   strings.TrimRight(getEnv("VISION_ENDPOINT", ""), "/"),
			Model:      getEnv("VISION_MODEL", "llava"),
			Timeout:    getEnvDuration("VISION_TIMEOUT", 45*time.Second),
			MaxRetries: getEnvInt("VISION_MAX_RETRIES", 1),
		},
		Executor: ExecutorConfig{
			MaxRetries: getEnvInt("EXECUTOR_MAX_RETRIES", 3),
			BaseDelay:  getEnvDuration("EXECUTOR_BASE_DELAY", 100*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBody: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 8<<20)),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DBQueryTimeout <= 0 {
		return fmt.Errorf("DB_QUERY_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.ConfirmMaxAttempts <= 0 {
		return fmt.Errorf("CONFIRM_MAX_ATTEMPTS must be > 0")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.Vision.MaxRetries < 0 {
		return fmt.Errorf("VISION_MAX_RETRIES cannot be negative")
	}
	if c.Executor.MaxRetries <= 0 {
		return fmt.Errorf("EXECUTOR_MAX_RETRIES must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AgentEnabled reports whether a model service is configured.
func (c *Config) AgentEnabled() bool {
	return c.Model.Addr != ""
}

// VisionEnabled reports whether image input is configured.
func (c *Config) VisionEnabled() bool {
	return c.Vision.Endpoint != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
