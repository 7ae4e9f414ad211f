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

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Batch    BatchConfig
	Breaker  BreakerConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
	Schedule ScheduleConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	UseHTTPS       bool
	CertFile       string
	KeyFile        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string // CORS и WebSocket; пусто = все
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool // применять схему при старте
}

// SecurityConfig - настройки аутентификации операторов
type SecurityConfig struct {
	AuthEnabled bool
	JWTSecret   string
	TokenTTL    time.Duration
}

// BatchConfig - параметры пакетного процессора
type BatchConfig struct {
	Concurrency     int
	PageSize        int
	MaxAttempts     int           // попыток на счёт, включая первую
	RetryBaseDelay  time.Duration // задержка перед второй попыткой
	RetryMaxDelay   time.Duration
	RateLimit       float64 // запросов к источнику в секунду, 0 = без лимита
	RateBurst       int
	RuleSetCacheTTL time.Duration
}

// BreakerConfig - параметры circuit breaker
type BreakerConfig struct {
	Window             int
	Threshold          float64 // доля ошибок в окне
	CoolDown           time.Duration
	CoolDownMultiplier float64
	MaxCoolDown        time.Duration
	ProbeSize          int
}

// KafkaConfig - публикация событий нарушений
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxAttempts  int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// ScheduleConfig - периодический запуск прогона сервером
type ScheduleConfig struct {
	Enabled  bool
	Interval time.Duration
	Group    string // пусто = все группы
}

// Load загружает конфигурацию из переменных окружения
//
// Если переданы пути к .env файлам, они загружаются первыми;
// уже заданные переменные окружения не перезаписываются.
// Отсутствующий файл не считается ошибкой.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:       getEnvAsBool("USE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "riskengine"),
			User:            getEnv("DB_USER", "user"),
			Password:        getEnv("DB_PASSWORD", "password"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Migrate:         getEnvAsBool("DB_MIGRATE", true),
		},
		Security: SecurityConfig{
			AuthEnabled: getEnvAsBool("AUTH_ENABLED", true),
			JWTSecret:   getEnv("JWT_SECRET", ""),
			TokenTTL:    getEnvAsDuration("TOKEN_TTL", 12*time.Hour),
		},
		Batch: BatchConfig{
			Concurrency:     getEnvAsInt("BATCH_CONCURRENCY", 8),
			PageSize:        getEnvAsInt("BATCH_PAGE_SIZE", 500),
			MaxAttempts:     getEnvAsInt("BATCH_MAX_ATTEMPTS", 3),
			RetryBaseDelay:  getEnvAsDuration("BATCH_RETRY_BASE_DELAY", 200*time.Millisecond),
			RetryMaxDelay:   getEnvAsDuration("BATCH_RETRY_MAX_DELAY", 10*time.Second),
			RateLimit:       getEnvAsFloat("BATCH_RATE_LIMIT", 0),
			RateBurst:       getEnvAsInt("BATCH_RATE_BURST", 50),
			RuleSetCacheTTL: getEnvAsDuration("RULESET_CACHE_TTL", 30*time.Second),
		},
		Breaker: BreakerConfig{
			Window:             getEnvAsInt("BREAKER_WINDOW", 10),
			Threshold:          getEnvAsFloat("BREAKER_THRESHOLD", 0.5),
			CoolDown:           getEnvAsDuration("BREAKER_COOL_DOWN", 30*time.Second),
			CoolDownMultiplier: getEnvAsFloat("BREAKER_COOL_DOWN_MULTIPLIER", 2),
			MaxCoolDown:        getEnvAsDuration("BREAKER_MAX_COOL_DOWN", 10*time.Minute),
			ProbeSize:          getEnvAsInt("BREAKER_PROBE_SIZE", 3),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:      getEnvAsList("KAFKA_BROKERS"),
			Topic:        getEnv("KAFKA_TOPIC", "risk.violations"),
			BatchTimeout: getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 50*time.Millisecond),
			WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
			MaxAttempts:  getEnvAsInt("KAFKA_MAX_ATTEMPTS", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
		Schedule: ScheduleConfig{
			Enabled:  getEnvAsBool("SCHEDULE_ENABLED", false),
			Interval: getEnvAsDuration("SCHEDULE_INTERVAL", time.Hour),
			Group:    getEnv("SCHEDULE_GROUP", ""),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateSecurity проверяет параметры аутентификации
func (c *Config) validateSecurity() error {
	if !c.Security.AuthEnabled {
		return nil
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_ENABLED=true")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %v", c.Security.TokenTTL)
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 256 {
		return fmt.Errorf("BATCH_CONCURRENCY must be between 1 and 256, got %d", c.Batch.Concurrency)
	}
	if c.Batch.PageSize < 1 {
		return fmt.Errorf("BATCH_PAGE_SIZE must be positive, got %d", c.Batch.PageSize)
	}
	if c.Batch.MaxAttempts < 1 || c.Batch.MaxAttempts > 10 {
		return fmt.Errorf("BATCH_MAX_ATTEMPTS must be between 1 and 10, got %d", c.Batch.MaxAttempts)
	}
	if c.Batch.RetryBaseDelay <= 0 {
		return fmt.Errorf("BATCH_RETRY_BASE_DELAY must be positive, got %v", c.Batch.RetryBaseDelay)
	}
	if c.Batch.RateLimit < 0 {
		return fmt.Errorf("BATCH_RATE_LIMIT cannot be negative, got %v", c.Batch.RateLimit)
	}
	if c.Batch.RateLimit > 0 && c.Batch.RateBurst < 1 {
		return fmt.Errorf("BATCH_RATE_BURST must be positive when rate limit is set, got %d", c.Batch.RateBurst)
	}

	if c.Breaker.Window < 1 {
		return fmt.Errorf("BREAKER_WINDOW must be positive, got %d", c.Breaker.Window)
	}
	if c.Breaker.Threshold <= 0 || c.Breaker.Threshold >= 1 {
		return fmt.Errorf("BREAKER_THRESHOLD must be between 0 and 1 exclusive, got %v", c.Breaker.Threshold)
	}
	if c.Breaker.CoolDown <= 0 {
		return fmt.Errorf("BREAKER_COOL_DOWN must be positive, got %v", c.Breaker.CoolDown)
	}
	if c.Breaker.CoolDownMultiplier < 1 {
		return fmt.Errorf("BREAKER_COOL_DOWN_MULTIPLIER must be at least 1, got %v", c.Breaker.CoolDownMultiplier)
	}
	if c.Breaker.MaxCoolDown < c.Breaker.CoolDown {
		return fmt.Errorf("BREAKER_MAX_COOL_DOWN must not be less than BREAKER_COOL_DOWN")
	}
	if c.Breaker.ProbeSize < 1 {
		return fmt.Errorf("BREAKER_PROBE_SIZE must be positive, got %d", c.Breaker.ProbeSize)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.Schedule.Enabled && c.Schedule.Interval < time.Minute {
		return fmt.Errorf("SCHEDULE_INTERVAL must be at least 1m, got %v", c.Schedule.Interval)
	}
	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr возвращает адрес HTTP сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" || valueStr == "*" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
