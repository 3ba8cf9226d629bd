package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full engine configuration. Values come from environment
// variables with sensible defaults; credentials may instead come from Vault
// (see internal/vault).
type Config struct {
	Server    ServerConfig
	Exchange  ExchangeConfig
	Engine    EngineConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Vault     VaultConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
}

// ExchangeConfig holds Binance USD-M futures connection settings
type ExchangeConfig struct {
	APIKey      string
	SecretKey   string
	BaseURL     string
	TestNet     bool
	CallTimeout time.Duration // per REST call
	MockMode    bool          // simulated exchange, no real orders
}

// EngineConfig holds order orchestration settings
type EngineConfig struct {
	MaxBatchSize     int           // exchange batch order limit per request
	ChunkRetryDelay  time.Duration // backoff before the single chunk retry
	BatchBudget      time.Duration // wall-clock budget per batch
	DefaultLeverage  int           // applied when an intent has no leverage; 0 leaves it unchanged
	MaxNotionalUSDT  float64       // per-order clamp for non-reduce-only intents
	MinNotionalUSDT  float64       // rows below this are dropped
	SnapshotInterval time.Duration // position/price refresh cadence
}

// DatabaseConfig holds PostgreSQL connection settings for the audit ledger
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis connection settings for the approval ticket store
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// VaultConfig holds HashiCorp Vault settings for credential loading
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	SecretPath string
}

// LoggingConfig controls the zerolog root logger
type LoggingConfig struct {
	Level   string // debug, info, warn, error
	Console bool   // human-readable console writer instead of JSON
}

// Load builds the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvIntOrDefault("SERVER_PORT", 8080),
			ProductionMode: getEnvOrDefault("PRODUCTION_MODE", "false") == "true",
		},
		Exchange: ExchangeConfig{
			APIKey:      getEnvOrDefault("BINANCE_API_KEY", ""),
			SecretKey:   getEnvOrDefault("BINANCE_API_SECRET", ""),
			BaseURL:     getEnvOrDefault("BINANCE_FUTURES_BASE", ""),
			TestNet:     getEnvOrDefault("BINANCE_TESTNET", "false") == "true",
			CallTimeout: getEnvDurationOrDefault("EXCHANGE_CALL_TIMEOUT", 15*time.Second),
			MockMode:    getEnvOrDefault("MOCK_MODE", "false") == "true",
		},
		Engine: EngineConfig{
			MaxBatchSize:     getEnvIntOrDefault("ENGINE_MAX_BATCH_SIZE", 5),
			ChunkRetryDelay:  getEnvDurationOrDefault("ENGINE_CHUNK_RETRY_DELAY", 2*time.Second),
			BatchBudget:      getEnvDurationOrDefault("ENGINE_BATCH_BUDGET", 2*time.Minute),
			DefaultLeverage:  getEnvIntOrDefault("ENGINE_DEFAULT_LEVERAGE", 0),
			MaxNotionalUSDT:  getEnvFloatOrDefault("ENGINE_MAX_NOTIONAL_USDT", 100000),
			MinNotionalUSDT:  getEnvFloatOrDefault("ENGINE_MIN_NOTIONAL_USDT", 0),
			SnapshotInterval: getEnvDurationOrDefault("ENGINE_SNAPSHOT_INTERVAL", 10*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvOrDefault("DB_ENABLED", "false") == "true",
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Database: getEnvOrDefault("DB_NAME", "perp_engine"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvOrDefault("REDIS_ENABLED", "false") == "true",
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		},
		Vault: VaultConfig{
			Enabled:    getEnvOrDefault("VAULT_ENABLED", "false") == "true",
			Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
			Token:      getEnvOrDefault("VAULT_TOKEN", ""),
			SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/binance"),
		},
		Logging: LoggingConfig{
			Level:   getEnvOrDefault("LOG_LEVEL", "info"),
			Console: getEnvOrDefault("LOG_CONSOLE", "false") == "true",
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MaxBatchSize < 1 {
		return fmt.Errorf("ENGINE_MAX_BATCH_SIZE must be >= 1, got %d", c.Engine.MaxBatchSize)
	}
	if c.Engine.BatchBudget <= 0 {
		return fmt.Errorf("ENGINE_BATCH_BUDGET must be positive, got %v", c.Engine.BatchBudget)
	}
	if c.Engine.MinNotionalUSDT < 0 {
		return fmt.Errorf("ENGINE_MIN_NOTIONAL_USDT must be >= 0, got %v", c.Engine.MinNotionalUSDT)
	}
	return nil
}

// DSN builds a pgx connection string from the database config.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
