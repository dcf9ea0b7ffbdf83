package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xtrntr/tradebot/internal/pricefeed"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // "local" or "prod"
	// AllowedOrigins lists browser origins for CORS and the notification socket
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type DatabaseConfig struct {
	URL   string `mapstructure:"url"`
	Store string `mapstructure:"store"`
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type FeedConfig struct {
	EquityURL string        `mapstructure:"equity_url"`
	CryptoURL string        `mapstructure:"crypto_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RedisConfig with an empty Addr disables the quote cache
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
}

// KafkaConfig with no brokers disables the Kafka notifier
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	GatewaySecretHash string        `mapstructure:"gateway_secret_hash"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.allowed_origins", []string{})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("database.url", "")
	v.SetDefault("database.store", StorePostgres)

	v.SetDefault("scheduler.interval", "60s")

	v.SetDefault("feed.equity_url", pricefeed.DefaultEquityURL)
	v.SetDefault("feed.crypto_url", pricefeed.DefaultCryptoURL)
	v.SetDefault("feed.timeout", pricefeed.DefaultTimeout.String())

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.quote_ttl", "2m")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "trade_notifications")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.gateway_secret_hash", "")
	v.SetDefault("auth.token_ttl", "24h")

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.port", "app.env", "app.allowed_origins")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "database.url", "database.store")
	bindEnv(v, "scheduler.interval")
	bindEnv(v, "feed.equity_url", "feed.crypto_url", "feed.timeout")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.quote_ttl")
	bindEnv(v, "kafka.brokers", "kafka.topic")
	bindEnv(v, "auth.jwt_secret", "auth.gateway_secret_hash", "auth.token_ttl")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	switch c.Database.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Database.Store)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic cannot be empty when brokers are set")
	}
	return nil
}

func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
