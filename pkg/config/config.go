package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Redis       RedisConfig       `json:"redis"`
	Registry    RegistryConfig    `json:"registry"`
	Breaker     BreakerConfig     `json:"breaker"`
	Retry       RetryConfig       `json:"retry"`
	Degradation DegradationConfig `json:"degradation"`
	Monitoring  MonitoringConfig  `json:"monitoring"`
	Alerting    AlertingConfig    `json:"alerting"`
	Logging     LoggingConfig     `json:"logging"`
	Tracing     TracingConfig     `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// RegistryConfig contains service registry and health check configuration
type RegistryConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `json:"health_check_timeout"`
	HealthCheckPath     string        `json:"health_check_path"`
	StaleAfterIntervals int           `json:"stale_after_intervals"`
}

// BreakerConfig contains circuit breaker defaults
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// RetryConfig contains resilient client retry defaults
type RetryConfig struct {
	MaxRetries     int           `json:"max_retries"`
	BaseDelay      time.Duration `json:"base_delay"`
	CapDelay       time.Duration `json:"cap_delay"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DegradationConfig contains fallback engine configuration
type DegradationConfig struct {
	CacheTTL time.Duration `json:"cache_ttl"`
}

// MonitoringConfig contains the aggregator configuration
type MonitoringConfig struct {
	CollectionInterval time.Duration `json:"collection_interval"`
	MaxSamples         int           `json:"max_samples"`
	DefaultCooldown    time.Duration `json:"default_cooldown"`
}

// AlertingConfig contains notification channel configuration
type AlertingConfig struct {
	SlackWebhookURL string   `json:"slack_webhook_url"`
	SlackChannel    string   `json:"slack_channel"`
	SMTPHost        string   `json:"smtp_host"`
	SMTPPort        int      `json:"smtp_port"`
	SMTPUsername    string   `json:"smtp_username"`
	SMTPPassword    string   `json:"smtp_password"`
	EmailFrom       string   `json:"email_from"`
	EmailTo         []string `json:"email_to"`
	WebhookURL      string   `json:"webhook_url"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Registry: RegistryConfig{
			HealthCheckInterval: getEnvDuration("REGISTRY_HEALTH_CHECK_INTERVAL", 30*time.Second),
			HealthCheckTimeout:  getEnvDuration("REGISTRY_HEALTH_CHECK_TIMEOUT", 5*time.Second),
			HealthCheckPath:     getEnvString("REGISTRY_HEALTH_CHECK_PATH", "/health"),
			StaleAfterIntervals: getEnvInt("REGISTRY_STALE_AFTER_INTERVALS", 3),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxRetries:     getEnvInt("CLIENT_MAX_RETRIES", 3),
			BaseDelay:      getEnvDuration("CLIENT_BASE_DELAY", 100*time.Millisecond),
			CapDelay:       getEnvDuration("CLIENT_CAP_DELAY", 30*time.Second),
			RequestTimeout: getEnvDuration("CLIENT_REQUEST_TIMEOUT", 10*time.Second),
		},
		Degradation: DegradationConfig{
			CacheTTL: getEnvDuration("DEGRADATION_CACHE_TTL", 5*time.Minute),
		},
		Monitoring: MonitoringConfig{
			CollectionInterval: getEnvDuration("MONITORING_COLLECTION_INTERVAL", 30*time.Second),
			MaxSamples:         getEnvInt("MONITORING_MAX_SAMPLES", 1000),
			DefaultCooldown:    getEnvDuration("MONITORING_DEFAULT_COOLDOWN", 15*time.Minute),
		},
		Alerting: AlertingConfig{
			SlackWebhookURL: getEnvString("ALERT_SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnvString("ALERT_SLACK_CHANNEL", "#ops"),
			SMTPHost:        getEnvString("ALERT_SMTP_HOST", ""),
			SMTPPort:        getEnvInt("ALERT_SMTP_PORT", 587),
			SMTPUsername:    getEnvString("ALERT_SMTP_USERNAME", ""),
			SMTPPassword:    getEnvString("ALERT_SMTP_PASSWORD", ""),
			EmailFrom:       getEnvString("ALERT_EMAIL_FROM", ""),
			EmailTo:         getEnvStringSlice("ALERT_EMAIL_TO"),
			WebhookURL:      getEnvString("ALERT_WEBHOOK_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker recovery timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Monitoring.MaxSamples <= 0 {
		return fmt.Errorf("monitoring max samples must be positive")
	}
	return nil
}

// RedisAddr returns the Redis address in host:port form
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
