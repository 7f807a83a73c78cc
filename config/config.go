package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Mpesa    MpesaConfig
	Limits   LimitsConfig
	Windows  WindowsConfig
	Phone    PhoneConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MpesaConfig struct {
	Environment    string
	BaseURL        string // overrides the environment-derived URL when set
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string

	RequestTimeout   time.Duration
	RetryAttempts    int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type LimitsConfig struct {
	MinAmount          decimal.Decimal
	MaxAmount          decimal.Decimal
	TransactionsPerDay int

	MessagesPerMinute  int
	MessageBurst       int
	MessageBurstWindow time.Duration

	TransactionsPerMinute  int
	TransactionBurst       int
	TransactionBurstWindow time.Duration
}

type WindowsConfig struct {
	ConfirmationTTL time.Duration
	ExpireInterval  time.Duration
	StaleInterval   time.Duration
	StaleCutoff     time.Duration
	JobLockTTL      time.Duration
}

type PhoneConfig struct {
	// EncryptionKey is a hex-encoded 32-byte AES key.
	EncryptionKey string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "pesatalk"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Mpesa: MpesaConfig{
			Environment:      getEnv("MPESA_ENVIRONMENT", "sandbox"),
			BaseURL:          getEnv("MPESA_BASE_URL", ""),
			ConsumerKey:      getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:   getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:        getEnv("MPESA_SHORT_CODE", ""),
			Passkey:          getEnv("MPESA_PASSKEY", ""),
			CallbackURL:      getEnv("MPESA_CALLBACK_URL", ""),
			RequestTimeout:   getEnvDuration("MPESA_REQUEST_TIMEOUT", 30*time.Second),
			RetryAttempts:    getEnvInt("MPESA_RETRY_ATTEMPTS", 2),
			BreakerThreshold: getEnvInt("MPESA_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvDuration("MPESA_BREAKER_COOLDOWN", 30*time.Second),
		},
		Limits: LimitsConfig{
			MinAmount:          getEnvDecimal("TXN_MIN_AMOUNT", "10"),
			MaxAmount:          getEnvDecimal("TXN_MAX_AMOUNT", "70000"),
			TransactionsPerDay: getEnvInt("TXN_PER_DAY", 50),

			MessagesPerMinute:  getEnvInt("RATE_MESSAGES_PER_MINUTE", 60),
			MessageBurst:       getEnvInt("RATE_MESSAGE_BURST", 10),
			MessageBurstWindow: getEnvDuration("RATE_MESSAGE_BURST_WINDOW", 10*time.Second),

			TransactionsPerMinute:  getEnvInt("RATE_TXN_PER_MINUTE", 5),
			TransactionBurst:       getEnvInt("RATE_TXN_BURST", 3),
			TransactionBurstWindow: getEnvDuration("RATE_TXN_BURST_WINDOW", 10*time.Second),
		},
		Windows: WindowsConfig{
			ConfirmationTTL: getEnvDuration("CONFIRMATION_TTL", 5*time.Minute),
			ExpireInterval:  getEnvDuration("SWEEP_EXPIRE_INTERVAL", time.Minute),
			StaleInterval:   getEnvDuration("SWEEP_STALE_INTERVAL", 5*time.Minute),
			StaleCutoff:     getEnvDuration("SWEEP_STALE_CUTOFF", 5*time.Minute),
			JobLockTTL:      getEnvDuration("SWEEP_LOCK_TTL", 2*time.Minute),
		},
		Phone: PhoneConfig{
			EncryptionKey: getEnv("PHONE_ENCRYPTION_KEY", ""),
		},
	}

	if cfg.Phone.EncryptionKey == "" {
		return nil, fmt.Errorf("PHONE_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultValue)
	return d
}
