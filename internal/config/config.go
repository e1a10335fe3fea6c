package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"aqi-platform/pkg/database"
)

// Config holds all process configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    database.Config
	Logging     LoggingConfig
	Cache       CacheConfig
	SMTP        SMTPConfig
	Model       ModelConfig
	Security    SecurityConfig
	Kafka       KafkaConfig
	Query       QueryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CorsOrigins  []string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// CacheConfig configures the response cache. An empty RedisAddr selects the
// in-process cache.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// SMTPConfig configures the token email sink
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	Sender        string
	SubjectPrefix string
	QueueSize     int
	Workers       int
}

// ModelConfig configures the forecast model server
type ModelConfig struct {
	ServingURL       string
	Name             string
	Timeout          time.Duration
	FailureThreshold int
	BreakerTimeout   time.Duration
}

// SecurityConfig holds token and notification settings
type SecurityConfig struct {
	TokenSecret          string
	NotificationCooldown time.Duration
}

// KafkaConfig configures the optional request analytics stream. No brokers
// means the stream is disabled.
type KafkaConfig struct {
	Brokers       []string
	RequestsTopic string
}

// QueryConfig holds the range query defaults
type QueryConfig struct {
	ResultCap          int
	DefaultBottomLat   float64
	DefaultTopLat      float64
	DefaultLeftLong    float64
	DefaultRightLong   float64
	DefaultHistoricMin string
	DefaultHistoricMax string
	EarliestDate       string
}

// LoadConfig loads configuration from an optional .env file and the environment
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CorsOrigins:  getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: database.Config{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "openaqi"),
			Password:        getEnv("DB_PASSWORD", "openaqi"),
			Database:        getEnv("DB_NAME", "openaqi"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("CACHE_TTL", time.Hour),
		},
		SMTP: SMTPConfig{
			Host:          getEnv("MAIL_SERVER", "smtp.gmail.com"),
			Port:          getEnvAsInt("MAIL_PORT", 465),
			Username:      getEnv("MAIL_USERNAME", ""),
			Password:      getEnv("MAIL_PASSWORD", ""),
			Sender:        getEnv("MAIL_SENDER", "OpenAQI Support <support@openaqi.io>"),
			SubjectPrefix: getEnv("MAIL_SUBJECT_PREFIX", "[OpenAQI]"),
			QueueSize:     getEnvAsInt("MAIL_QUEUE_SIZE", 100),
			Workers:       getEnvAsInt("MAIL_WORKERS", 2),
		},
		Model: ModelConfig{
			ServingURL:       getEnv("MODEL_SERVING_URL", "http://localhost:8501"),
			Name:             getEnv("MODEL_NAME", "aqi-model-v1"),
			Timeout:          getEnvAsDuration("MODEL_TIMEOUT", 10*time.Second),
			FailureThreshold: getEnvAsInt("MODEL_FAILURE_THRESHOLD", 5),
			BreakerTimeout:   getEnvAsDuration("MODEL_BREAKER_TIMEOUT", 30*time.Second),
		},
		Security: SecurityConfig{
			TokenSecret:          getEnv("SECRET_KEY", ""),
			NotificationCooldown: getEnvAsDuration("NOTIFICATION_COOLDOWN", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsSlice("KAFKA_BROKERS", nil),
			RequestsTopic: getEnv("KAFKA_TOPIC_REQUESTS", "openaqi.requests"),
		},
		Query: QueryConfig{
			ResultCap:          getEnvAsInt("QUERY_RESULT_CAP", 5000),
			DefaultBottomLat:   getEnvAsFloat("QUERY_DEFAULT_BOTTOM_LAT", 38),
			DefaultTopLat:      getEnvAsFloat("QUERY_DEFAULT_TOP_LAT", 40),
			DefaultLeftLong:    getEnvAsFloat("QUERY_DEFAULT_LEFT_LONG", -80),
			DefaultRightLong:   getEnvAsFloat("QUERY_DEFAULT_RIGHT_LONG", -70),
			DefaultHistoricMin: getEnv("QUERY_DEFAULT_HISTORIC_START", "2021-06-30"),
			DefaultHistoricMax: getEnv("QUERY_DEFAULT_HISTORIC_END", "2021-12-31"),
			EarliestDate:       getEnv("QUERY_EARLIEST_DATE", "1980-01-01"),
		},
	}

	if cfg.Security.TokenSecret == "" && cfg.Environment == "development" {
		cfg.Security.TokenSecret = "development-secret"
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive")
	}
	if c.Security.TokenSecret == "" {
		return fmt.Errorf("SECRET_KEY must be set in non-development environments")
	}
	if c.Query.ResultCap <= 0 {
		return fmt.Errorf("QUERY_RESULT_CAP must be positive")
	}
	if c.Query.DefaultBottomLat > c.Query.DefaultTopLat || c.Query.DefaultLeftLong > c.Query.DefaultRightLong {
		return fmt.Errorf("default query bounding box is inverted")
	}
	if c.SMTP.Workers <= 0 || c.SMTP.QueueSize <= 0 {
		return fmt.Errorf("MAIL_WORKERS and MAIL_QUEUE_SIZE must be positive")
	}
	return nil
}

// KafkaEnabled reports whether request records are mirrored to Kafka
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
