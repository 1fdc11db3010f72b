package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultSessionSecret = "supersecretkey"

type Config struct {
	ServiceName string
	Port        string
	LogLevel    string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAITimeout time.Duration

	BreakerEnabled      bool
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration

	SessionSecret       string
	SessionCookieName   string
	SessionCookieSecure bool
	SessionTTL          time.Duration
	SessionBackend      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UploadDir           string
	MaxUploadBytes      int64
	UploadRetention     time.Duration
	UploadSweepInterval time.Duration
	ContextMaxChars     int

	SofficeBin     string
	ConvertTimeout time.Duration

	PostgresDSN string

	NATSURL     string
	NATSSubject string

	APIRateLimitRPS     float64
	APIRateLimitBurst   int
	APIMaxInFlight      int
	APIBackpressureWait time.Duration

	ShutdownTimeout time.Duration
}

// Load reads the environment, after applying a .env file when present.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := loadDotEnv(mustEnv("DOTENV_PATH", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ServiceName: mustEnv("SERVICE_NAME", "docchat"),
		Port:        mustEnv("PORT", "5001"),
		LogLevel:    mustEnv("LOG_LEVEL", "info"),

		OpenAIAPIKey:  mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: mustEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   mustEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAITimeout: mustEnvDuration("OPENAI_TIMEOUT", 120*time.Second),

		BreakerEnabled:      mustEnvBool("BREAKER_ENABLED", true),
		BreakerMinRequests:  mustEnvInt("BREAKER_MIN_REQUESTS", 5),
		BreakerFailureRatio: mustEnvFloat("BREAKER_FAILURE_RATIO", 0.6),
		BreakerOpenTimeout:  mustEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		SessionSecret:       mustEnv("SESSION_SECRET", DefaultSessionSecret),
		SessionCookieName:   mustEnv("SESSION_COOKIE_NAME", "session"),
		SessionCookieSecure: mustEnvBool("SESSION_COOKIE_SECURE", false),
		SessionTTL:          mustEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionBackend:      strings.ToLower(mustEnv("SESSION_BACKEND", "memory")),

		RedisAddr:     mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: mustEnv("REDIS_PASSWORD", ""),
		RedisDB:       mustEnvInt("REDIS_DB", 0),

		UploadDir:           mustEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes:      mustEnvInt64("MAX_UPLOAD_BYTES", 32<<20),
		UploadRetention:     mustEnvDuration("UPLOAD_RETENTION", 24*time.Hour),
		UploadSweepInterval: mustEnvDuration("UPLOAD_SWEEP_INTERVAL", time.Hour),
		ContextMaxChars:     mustEnvInt("CONTEXT_MAX_CHARS", 4000),

		SofficeBin:     mustEnv("SOFFICE_BIN", "soffice"),
		ConvertTimeout: mustEnvDuration("CONVERT_TIMEOUT", 60*time.Second),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:     mustEnv("NATS_URL", ""),
		NATSSubject: mustEnv("NATS_SUBJECT", "documents.uploaded"),

		APIRateLimitRPS:     mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst:   mustEnvInt("API_RATE_LIMIT_BURST", 0),
		APIMaxInFlight:      mustEnvInt("API_MAX_IN_FLIGHT", 0),
		APIBackpressureWait: mustEnvDuration("API_BACKPRESSURE_WAIT", 250*time.Millisecond),

		ShutdownTimeout: mustEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.SessionBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be memory or redis, got %q", c.SessionBackend))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.ContextMaxChars <= 0 {
		errs = append(errs, errors.New("CONTEXT_MAX_CHARS must be positive"))
	}
	if strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("SESSION_SECRET must not be empty"))
	}
	return errors.Join(errs...)
}

func (c Config) UsesDefaultSessionSecret() bool {
	return c.SessionSecret == DefaultSessionSecret
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
