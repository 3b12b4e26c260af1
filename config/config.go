package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"
)

type Config struct {
	ServerPort int
	Env        string
	// TrustProxyHeaders takes the client address from X-Forwarded-For,
	// X-Real-IP or True-Client-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
	Log        LogConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	MQBackend  string
	RabbitMQ   RabbitMQConfig
	PubSub     PubSubConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
	// AdminEmail and AdminPassword, when both set, seed an admin account at
	// startup if none exists with that email.
	AdminEmail    string
	AdminPassword string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

// LoadConfig reads the process environment. Missing required values and
// values that are set but cannot be parsed are reported as a single error so
// the caller can abort startup.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	env := &envReader{}
	cfg := Config{
		ServerPort:        env.Int("SERVER_PORT", 3000),
		Env:               getEnv("ENV", "prod"),
		TrustProxyHeaders: env.Bool("TRUST_PROXY_HEADERS", false),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     env.Int("DB_PORT", 5432),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", ""),
			UseSSL:   env.Bool("DB_USE_SSL", false),
		},
		Auth: AuthConfig{
			JWTSecret:  strings.TrimSpace(getEnv("JWT_SECRET", "")),
			TokenTTL:   env.Duration("JWT_TTL", 72*time.Hour),
			BcryptCost: env.Int("BCRYPT_COST", 10),

			AdminEmail:    strings.TrimSpace(getEnv("ADMIN_EMAIL", "")),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			RPS:   env.Float("RATE_LIMIT_RPS", 5),
			Burst: env.Int("RATE_LIMIT_BURST", 10),
		},
		MQBackend: strings.ToLower(strings.TrimSpace(getEnv("MQ_BACKEND", ""))),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    env.Bool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: env.Bool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   env.Int("RABBITMQ_PREFETCH", 10),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	if err := env.Err(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RequireDatabase reports an error when any connection parameter is unset.
func (c Config) RequireDatabase() error {
	var missing []string
	if c.Database.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Database.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Database.Password == "" {
		missing = append(missing, "DB_PASSWORD")
	}
	if c.Database.DBName == "" {
		missing = append(missing, "DB_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	switch c.MQBackend {
	case "":
	case MQBackendRabbitMQ:
		if strings.TrimSpace(c.RabbitMQ.URL) == "" {
			return errors.New("RABBITMQ_URL is required when MQ_BACKEND=rabbitmq")
		}
	case MQBackendPubSub:
		if strings.TrimSpace(c.PubSub.ProjectID) == "" {
			return errors.New("PUBSUB_PROJECT_ID is required when MQ_BACKEND=pubsub")
		}
	default:
		return fmt.Errorf("unknown MQ_BACKEND %q", c.MQBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and collects one error per variable
// that is set to something it cannot parse. Unset and blank variables take
// the default.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, exists && value != ""
}

func (e *envReader) fail(key, value, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", key, value, want))
}

func (e *envReader) Int(key string, defaultValue int) int {
	valueStr, ok := e.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		e.fail(key, valueStr, "integer")
		return defaultValue
	}
	return value
}

func (e *envReader) Float(key string, defaultValue float64) float64 {
	valueStr, ok := e.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		e.fail(key, valueStr, "number")
		return defaultValue
	}
	return value
}

func (e *envReader) Bool(key string, defaultValue bool) bool {
	valueStr, ok := e.lookup(key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(valueStr) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	e.fail(key, valueStr, "boolean")
	return defaultValue
}

func (e *envReader) Duration(key string, defaultValue time.Duration) time.Duration {
	valueStr, ok := e.lookup(key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		e.fail(key, valueStr, "duration")
		return defaultValue
	}
	return d
}

// Err joins every parse failure, or returns nil.
func (e *envReader) Err() error {
	return errors.Join(e.errs...)
}
