// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port            string
	Env             string // "development", "staging", "production"
	LogLevel        string
	LogFormat       string // "text" or "json"
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimitRPM    int
	RateLimitBurst  int
	OTLPEndpoint    string // tracing disabled when empty

	// Database (optional, uses in-memory stores if not set)
	DatabaseURL string

	// Redis profile cache (optional)
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ProfileCacheTTL time.Duration

	// Core
	BaselineCapacity int
	EventBufferSize  int
	DetectorsFile    string // YAML detector tuning, optional

	// Chain activity scanning (optional)
	RPCURL              string
	ChainID             int64
	Tokens              []string
	SuspiciousContracts []string
	LookbackBlocks      uint64
	WatchWallets        []string
	WatchTenant         string
	WatchInterval       time.Duration
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultRateLimitRPM     = 600
	DefaultRateLimitBurst   = 100
	DefaultBaselineCapacity = 100
	DefaultEventBufferSize  = 1024
	DefaultProfileCacheTTL  = 10 * time.Minute
	DefaultChainID          = 8453 // Base mainnet
	DefaultLookbackBlocks   = 5000
	DefaultWatchInterval    = time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		CORSOrigins:         getEnvList("VIGIL_CORS_ORIGINS"),
		RateLimitRPM:        int(getEnvInt64("VIGIL_RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:      int(getEnvInt64("VIGIL_RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             int(getEnvInt64("REDIS_DB", 0)),
		ProfileCacheTTL:     getEnvDuration("PROFILE_CACHE_TTL", DefaultProfileCacheTTL),
		BaselineCapacity:    int(getEnvInt64("VIGIL_BASELINE_CAPACITY", DefaultBaselineCapacity)),
		EventBufferSize:     int(getEnvInt64("VIGIL_EVENT_BUFFER", DefaultEventBufferSize)),
		DetectorsFile:       os.Getenv("VIGIL_DETECTORS_FILE"),
		RPCURL:              os.Getenv("RPC_URL"),
		ChainID:             getEnvInt64("CHAIN_ID", DefaultChainID),
		Tokens:              getEnvList("VIGIL_CHAIN_TOKENS"),
		SuspiciousContracts: getEnvList("VIGIL_SUSPICIOUS_CONTRACTS"),
		LookbackBlocks:      uint64(getEnvInt64("VIGIL_LOOKBACK_BLOCKS", DefaultLookbackBlocks)),
		WatchWallets:        getEnvList("VIGIL_WATCH_WALLETS"),
		WatchTenant:         os.Getenv("VIGIL_WATCH_TENANT"),
		WatchInterval:       getEnvDuration("VIGIL_WATCH_INTERVAL", DefaultWatchInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}

	if c.BaselineCapacity <= 0 {
		return fmt.Errorf("VIGIL_BASELINE_CAPACITY must be positive")
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("VIGIL_EVENT_BUFFER must be positive")
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("VIGIL_RATE_LIMIT_RPM and VIGIL_RATE_LIMIT_BURST must be positive")
	}

	for _, addr := range append(append([]string{}, c.Tokens...), c.SuspiciousContracts...) {
		if !isAddress(addr) {
			return fmt.Errorf("invalid contract address %q", addr)
		}
	}

	if len(c.WatchWallets) > 0 {
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required when VIGIL_WATCH_WALLETS is set")
		}
		if c.WatchTenant == "" {
			return fmt.Errorf("VIGIL_WATCH_TENANT is required when VIGIL_WATCH_WALLETS is set")
		}
		for _, w := range c.WatchWallets {
			if !isAddress(w) {
				return fmt.Errorf("invalid wallet address %q in VIGIL_WATCH_WALLETS", w)
			}
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ChainEnabled reports whether an RPC endpoint is configured.
func (c *Config) ChainEnabled() bool {
	return c.RPCURL != ""
}

// Helper functions

func isAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
