// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string // empty disables the gRPC health server
	FrontendURL     string
	Store           StoreConfig
	Agent           AgentConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	Retry           RetryConfig
	Timeout         TimeoutConfig
	ConversationLog ConversationLogConfig
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend     string // memory, file, sqlite, badger, postgres, s3
	Key         string
	DBPath      string
	BadgerDir   string
	FilePath    string
	PostgresDSN string
	S3          S3Config
}

// S3Config holds object storage settings.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AgentConfig configures the remote agent service.
type AgentConfig struct {
	BaseURL         string
	ClientCacheSize int
	RequestTimeout  time.Duration // non-streaming calls only
}

// RateLimitConfig bounds chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the chat relay stream.
type SSEConfig struct {
	MaxRequestBodySize int64
	KeepaliveInterval  time.Duration
}

// RetryConfig controls SQLite busy retries.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// TimeoutConfig holds operation timeouts.
type TimeoutConfig struct {
	HealthCheck     time.Duration
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxOpenFiles  int
}

// Load reads configuration from environment variables. When CONFIG_FILE
// names a YAML, TOML or JSON file, its keys (lower-case variable names)
// fill in anything the environment leaves unset.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		src.file = v
	}
	return src.load()
}

type source struct {
	file *viper.Viper
}

func (s source) load() (*Config, error) {
	queueSize := s.getInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        s.get("PORT", "8080"),
		GRPCPort:    s.get("GRPC_PORT", ""),
		FrontendURL: s.get("FRONTEND_URL", ""),
		Store: StoreConfig{
			Backend:     strings.ToLower(strings.TrimSpace(s.get("STORE_BACKEND", "sqlite"))),
			Key:         s.get("STORE_KEY", "automl-assistant-storage"),
			DBPath:      s.get("DB_PATH", "./data/automl.db"),
			BadgerDir:   s.get("BADGER_DIR", "./data/badger"),
			FilePath:    s.get("STORE_FILE", "./data/automl-assistant-storage.json"),
			PostgresDSN: s.get("POSTGRES_DSN", ""),
			S3: S3Config{
				Endpoint:  s.get("S3_ENDPOINT", ""),
				Region:    s.get("S3_REGION", ""),
				AccessKey: s.get("S3_ACCESS_KEY", ""),
				SecretKey: s.get("S3_SECRET_KEY", ""),
				Bucket:    s.get("S3_BUCKET", "automl-assistant"),
				UseSSL:    s.getBool("S3_USE_SSL", false),
			},
		},
		Agent: AgentConfig{
			BaseURL:         strings.TrimRight(s.get("AGENT_BASE_URL", "http://localhost:8000/api/v1"), "/"),
			ClientCacheSize: s.getInt("AGENT_CLIENT_CACHE_SIZE", 256),
			RequestTimeout:  s.getDuration("AGENT_REQUEST_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: s.getInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    s.getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			MaxRequestBodySize: int64(s.getInt("SSE_MAX_REQUEST_BODY_SIZE", 1<<20)),
			KeepaliveInterval:  s.getDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     s.getInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: s.getDuration("DB_RETRY_BASE_DELAY", 100*time.Millisecond),
		},
		Timeout: TimeoutConfig{
			HealthCheck:     s.getDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			HealthInterval:  s.getDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			ShutdownTimeout: s.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       s.getBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           s.get("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: s.getBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    s.get("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
			MaxOpenFiles:  s.getInt("CONVERSATION_LOG_MAX_OPEN_FILES", 64),
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
	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.FilePath == "" {
			return fmt.Errorf("STORE_FILE cannot be empty")
		}
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "badger":
		if c.Store.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR cannot be empty")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	case "s3":
		if c.Store.S3.Endpoint == "" || c.Store.S3.AccessKey == "" || c.Store.S3.SecretKey == "" {
			return fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("AGENT_BASE_URL cannot be empty")
	}
	if c.Agent.ClientCacheSize <= 0 {
		return fmt.Errorf("AGENT_CLIENT_CACHE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate limit settings must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("SSE_MAX_REQUEST_BODY_SIZE must be > 0")
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

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func (s source) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	if s.file != nil {
		name := strings.ToLower(key)
		if s.file.IsSet(name) {
			return s.file.GetString(name), true
		}
	}
	return "", false
}

func (s source) get(key, fallback string) string {
	if value, ok := s.lookup(key); ok {
		return value
	}
	return fallback
}

func (s source) getBool(key string, fallback bool) bool {
	value, ok := s.lookup(key)
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

func (s source) getInt(key string, fallback int) int {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func (s source) getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
