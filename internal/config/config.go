// Package config loads application configuration from environment variables.
// The resulting value is immutable and passed explicitly into constructors.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Trading TradingConfig
	Quote   QuoteConfig
	Kafka   KafkaConfig

	DatabaseURL string
	RedisURL    string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Host string
}

// TradingConfig carries the trading-engine constants.
type TradingConfig struct {
	MaxLeverage          decimal.Decimal
	LiquidationThreshold decimal.Decimal
	InitialBalance       decimal.Decimal

	// SlippageBps and SlippageDepth parameterize the linear market-impact
	// model; MaxSlippageBps caps it.
	SlippageBps    decimal.Decimal
	SlippageDepth  int64
	MaxSlippageBps decimal.Decimal

	// SaveRetries bounds optimistic-concurrency retries per submission.
	SaveRetries int

	// AutoLiquidate enables system-initiated closing trades when the
	// liquidation sweep flags a position. Off by default: flags are
	// advisory unless the operator opts in.
	AutoLiquidate bool

	// SweepInterval is how often the liquidation sweep re-assesses margin.
	SweepInterval time.Duration
}

// QuoteConfig bounds quote freshness and cache TTLs.
type QuoteConfig struct {
	MaxAge    time.Duration // beyond this a quote is unusable, not merely old
	PriceTTL  time.Duration
	VolumeTTL time.Duration
	HypeTTL   time.Duration
}

// KafkaConfig holds the event producer configuration. Empty brokers disable
// event publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Trading: TradingConfig{
			MaxLeverage:          getDecimal("MAX_LEVERAGE", "5"),
			LiquidationThreshold: getDecimal("LIQUIDATION_THRESHOLD", "0.10"),
			InitialBalance:       getDecimal("INITIAL_BALANCE", "10000"),
			SlippageBps:          getDecimal("SLIPPAGE_BPS", "0"),
			SlippageDepth:        getInt64("SLIPPAGE_DEPTH", 10000),
			MaxSlippageBps:       getDecimal("MAX_SLIPPAGE_BPS", "50"),
			SaveRetries:          int(getInt64("SAVE_RETRIES", 3)),
			AutoLiquidate:        getEnv("AUTO_LIQUIDATE", "false") == "true",
			SweepInterval:        getDuration("LIQUIDATION_SWEEP_INTERVAL", 30*time.Second),
		},
		Quote: QuoteConfig{
			MaxAge:    getDuration("QUOTE_MAX_AGE", 300*time.Second),
			PriceTTL:  getDuration("QUOTE_PRICE_TTL", 300*time.Second),
			VolumeTTL: getDuration("QUOTE_VOLUME_TTL", 1800*time.Second),
			HypeTTL:   getDuration("QUOTE_HYPE_TTL", 900*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "trading-events"),
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDecimal(key, defaultValue string) decimal.Decimal {
	if d, err := decimal.NewFromString(getEnv(key, defaultValue)); err == nil {
		return d
	}
	d, _ := decimal.NewFromString(defaultValue)
	return d
}

func getInt64(key string, defaultValue int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
