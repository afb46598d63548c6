package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"persona/backend/pkg/secrets"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port            string `validate:"required,numeric"`
		GRPCPort        string `validate:"omitempty,numeric"`
		Env             string `validate:"oneof=development staging production test"`
		Timeout         time.Duration
		ShutdownTimeout time.Duration `validate:"gt=0"`
	}

	// Database configuration
	Database struct {
		URL            string
		Host           string `validate:"required_without=URL"`
		Port           string
		User           string
		Password       string
		Name           string `validate:"required_without=URL"`
		SSLMode        string
		MaxConns       int `validate:"min=1"`
		MaxIdleConns   int `validate:"min=0"`
		ConnectRetries int `validate:"min=1"`
		RetryDelay     time.Duration
	}

	// Auth configuration. Tokens are issued by the identity provider.
	Auth struct {
		JWTSecret string `validate:"required,min=16"`
		Issuer    string
		Audience  string
	}

	// Security configuration
	Security struct {
		RateLimit      float64 `validate:"gte=0"`
		RateLimitBurst int     `validate:"gte=0"`
		AllowedOrigins []string
		TrustedProxies []string
		MaxBodySize    int64 `validate:"gt=0"`
	}

	// Logging configuration
	Logging struct {
		Level  string `validate:"oneof=debug info warn error"`
		Format string `validate:"oneof=json text"`
	}

	// Tokens holds the pricing and allowance of metered actions
	Tokens struct {
		SignupGrant     int `validate:"min=0"`
		MaxDailyFree    int `validate:"min=0"`
		ChatMessageCost int `validate:"min=0"`
		ImageCost       int `validate:"min=0"`
	}

	// Service endpoints
	Services struct {
		AIServiceURL       string `validate:"omitempty,url"`
		AIAPIKey           string
		AIModel            string
		AITimeout          time.Duration
		TaskServiceURL     string `validate:"omitempty,url"`
		TaskAPIKey         string
		TaskCallbackSecret string
		ImageJobTimeout    time.Duration `validate:"gt=0"`
		ImageReapInterval  time.Duration `validate:"gt=0"`
	}

	// Cache settings
	Cache struct {
		Enabled     bool
		Backend     string `validate:"oneof=memory redis"`
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
		RedisURL    string `validate:"required_if=Backend redis"`
		KeyPrefix   string
	}

	// Observability settings
	Observability struct {
		ServiceName    string
		TracingEnabled bool
	}

	// Feature flags
	Features struct {
		EnableWebSockets        bool
		EnableOpenAPIValidation bool
		// OpenAPISpecPath overrides the embedded API document
		OpenAPISpecPath string
	}
}

// Load reads configuration from the environment (and a .env file when
// present) and validates it.
func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads the configuration without validating it, for callers that
// resolve secrets first
func Read() *Config {
	// a missing .env file is not an error
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.Database.URL = getEnvString("DATABASE_URL", "")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "persona")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 10)
	cfg.Database.ConnectRetries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.Database.RetryDelay = getEnvDuration("DB_RETRY_DELAY", 5*time.Second)

	cfg.Auth.JWTSecret = getEnvString("JWT_SECRET", "")
	cfg.Auth.Issuer = getEnvString("JWT_ISSUER", "")
	cfg.Auth.Audience = getEnvString("JWT_AUDIENCE", "")

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Tokens.SignupGrant = getEnvInt("TOKENS_SIGNUP_GRANT", 100)
	cfg.Tokens.MaxDailyFree = getEnvInt("TOKENS_MAX_DAILY_FREE", 20)
	cfg.Tokens.ChatMessageCost = getEnvInt("TOKENS_CHAT_MESSAGE_COST", 1)
	cfg.Tokens.ImageCost = getEnvInt("TOKENS_IMAGE_COST", 10)

	cfg.Services.AIServiceURL = getEnvString("AI_SERVICE_URL", "")
	cfg.Services.AIAPIKey = getEnvString("AI_API_KEY", "")
	cfg.Services.AIModel = getEnvString("AI_MODEL", "gpt-4o-mini")
	cfg.Services.AITimeout = getEnvDuration("AI_TIMEOUT", 60*time.Second)
	cfg.Services.TaskServiceURL = getEnvString("TASK_SERVICE_URL", "")
	cfg.Services.TaskAPIKey = getEnvString("TASK_API_KEY", "")
	cfg.Services.TaskCallbackSecret = getEnvString("TASK_CALLBACK_SECRET", "")
	cfg.Services.ImageJobTimeout = getEnvDuration("IMAGE_JOB_TIMEOUT", 15*time.Minute)
	cfg.Services.ImageReapInterval = getEnvDuration("IMAGE_REAP_INTERVAL", time.Minute)

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.Backend = getEnvString("CACHE_BACKEND", "memory")
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)
	cfg.Cache.RedisURL = getEnvString("REDIS_URL", "")
	cfg.Cache.KeyPrefix = getEnvString("CACHE_KEY_PREFIX", "persona:")

	cfg.Observability.ServiceName = getEnvString("OTEL_SERVICE_NAME", "persona-backend")
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)

	cfg.Features.EnableWebSockets = getEnvBool("ENABLE_WEBSOCKETS", true)
	cfg.Features.EnableOpenAPIValidation = getEnvBool("ENABLE_OPENAPI_VALIDATION", false)
	cfg.Features.OpenAPISpecPath = getEnvString("OPENAPI_SPEC_PATH", "")

	return cfg
}

// Validate checks the struct tags of the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ResolveSecrets overrides credentials with values held by the secrets
// manager. Values already present in the environment act as defaults.
func (c *Config) ResolveSecrets(ctx context.Context, m secrets.Manager) error {
	c.Auth.JWTSecret = m.GetSecretWithDefault(ctx, "jwt_secret", c.Auth.JWTSecret)
	c.Services.AIAPIKey = m.GetSecretWithDefault(ctx, "ai_api_key", c.Services.AIAPIKey)
	c.Services.TaskAPIKey = m.GetSecretWithDefault(ctx, "task_api_key", c.Services.TaskAPIKey)
	c.Services.TaskCallbackSecret = m.GetSecretWithDefault(ctx, "task_callback_secret", c.Services.TaskCallbackSecret)
	c.Database.Password = m.GetSecretWithDefault(ctx, "db_password", c.Database.Password)
	return c.Validate()
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
