// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Vault     VaultConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host         string
	Port         string `validate:"required,numeric"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// VaultConfig describes the vault this process serves and how it is
// bootstrapped.
type VaultConfig struct {
	Address string `validate:"required,vault_addr"`
	Asset   string `validate:"omitempty,vault_addr"`
	Admin   string `validate:"omitempty,vault_addr"`
	// Store is memory or postgres.
	Store string `validate:"oneof=memory postgres"`

	// Version is the implementation vaultd brings an undeployed or older
	// vault up to at startup. Empty leaves the vault as stored.
	Version string `validate:"omitempty,oneof=V1 V2 V3"`

	DepositFeeBps          int64 `validate:"gte=0,lte=10000"`
	YieldRateBps           int64 `validate:"gte=0,lte=10000"`
	WithdrawalDelaySeconds int64 `validate:"gte=0"`

	// SimSupply, when set, runs an in-process token minting this many base
	// units to the admin. Without it the vault needs an external asset.
	SimSupply string `validate:"omitempty,base_units"`

	EventBuffer int
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "change-this-secret"),
			Expiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
		},
		Vault: VaultConfig{
			Address:                strings.ToLower(getEnv("VAULT_ADDRESS", "")),
			Asset:                  strings.ToLower(getEnv("VAULT_ASSET_ADDRESS", "")),
			Admin:                  strings.ToLower(getEnv("VAULT_ADMIN_ADDRESS", "")),
			Store:                  strings.ToLower(getEnv("VAULT_STORE", "memory")),
			Version:                strings.ToUpper(getEnv("VAULT_VERSION", "")),
			DepositFeeBps:          getInt64Env("VAULT_DEPOSIT_FEE_BPS", 0),
			YieldRateBps:           getInt64Env("VAULT_YIELD_RATE_BPS", 0),
			WithdrawalDelaySeconds: int64(getDurationEnv("VAULT_WITHDRAWAL_DELAY", 0) / time.Second),
			SimSupply:              getEnv("VAULT_SIM_SUPPLY", ""),
			EventBuffer:            getIntEnv("VAULT_EVENT_BUFFER", 64),
		},
		RateLimit: RateLimitConfig{
			Requests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
			Window:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("1h") or plain seconds ("3600").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
