// Package config loads service configuration from a YAML file, a .env file and
// environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Log       LogConfig                 `yaml:"log"`
	Database  DatabaseConfig            `yaml:"database"`
	Redis     RedisConfig               `yaml:"redis"`
	Auth      AuthConfig                `yaml:"auth"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Sync      SyncConfig                `yaml:"sync"`
	Tracking  TrackingConfig            `yaml:"tracking"`
	Events    EventsConfig              `yaml:"events"`
	Webhooks  WebhooksConfig            `yaml:"webhooks"`
	Ingress   IngressConfig             `yaml:"ingress"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // memory, sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL     string        `yaml:"url"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type AuthConfig struct {
	Mode        string `yaml:"mode"` // dev, hmac or jwks
	HMACSecret  string `yaml:"hmac_secret"`
	JWKSURL     string `yaml:"jwks_url"`
	TenantClaim string `yaml:"tenant_claim"`
	RoleClaim   string `yaml:"role_claim"`
	BranchClaim string `yaml:"branch_claim"`
}

type ProviderConfig struct {
	Enabled bool `yaml:"enabled"`
	// Secret is the HMAC key or bearer token; bearer tokens may be bcrypt hashes.
	Secret        string            `yaml:"secret"`
	TenantSecrets map[string]string `yaml:"tenant_secrets"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	RateRPS       float64           `yaml:"rate_rps"`
	RateBurst     int               `yaml:"rate_burst"`
	Timeout       time.Duration     `yaml:"timeout"`
}

type SyncConfig struct {
	BatchConcurrency int           `yaml:"batch_concurrency"`
	BatchPause       time.Duration `yaml:"batch_pause"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryBase        time.Duration `yaml:"retry_base"`
	RetryMax         time.Duration `yaml:"retry_max"`
}

type TrackingConfig struct {
	PollInterval            time.Duration `yaml:"poll_interval"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	Retention               time.Duration `yaml:"retention"`
	MaxIdle                 time.Duration `yaml:"max_idle"`
	SubscriberBuffer        int           `yaml:"subscriber_buffer"`
	IllegalTransitionPolicy string        `yaml:"illegal_transition_policy"`
	UnknownStatusPolicy     string        `yaml:"unknown_status_policy"`
}

type EventsConfig struct {
	Broker string      `yaml:"broker"` // memory or redis
	Buffer int         `yaml:"buffer"`
	Kafka  KafkaConfig `yaml:"kafka"`
	MQTT   MQTTConfig  `yaml:"mqtt"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type WebhooksConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type IngressConfig struct {
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Driver: "memory", SQLite: SQLiteConfig{Path: "orderhub.db"}},
		Redis:    RedisConfig{LockTTL: 30 * time.Second},
		Auth:     AuthConfig{Mode: "dev", TenantClaim: "tenant", RoleClaim: "role", BranchClaim: "branch"},
		Providers: map[string]ProviderConfig{
			"careem":    {Enabled: true},
			"talabat":   {Enabled: true},
			"deliveroo": {Enabled: true},
			"jahez":     {Enabled: true, RateRPS: 5, RateBurst: 10, Timeout: 10 * time.Second},
		},
		Sync: SyncConfig{
			BatchConcurrency: 5,
			BatchPause:       250 * time.Millisecond,
			MaxAttempts:      3,
			RetryBase:        200 * time.Millisecond,
			RetryMax:         5 * time.Second,
		},
		Tracking: TrackingConfig{
			PollInterval:            30 * time.Second,
			CleanupInterval:         time.Minute,
			Retention:               10 * time.Minute,
			MaxIdle:                 2 * time.Hour,
			SubscriberBuffer:        16,
			IllegalTransitionPolicy: "ignore",
			UnknownStatusPolicy:     "ignore",
		},
		Events: EventsConfig{
			Broker: "memory",
			Buffer: 256,
			Kafka:  KafkaConfig{Topic: "orderhub.events"},
			MQTT:   MQTTConfig{ClientID: "orderhub", TopicPrefix: "orderhub"},
		},
		Webhooks: WebhooksConfig{MaxAttempts: 10, PollInterval: time.Second, Timeout: 5 * time.Second},
		Ingress:  IngressConfig{RateRPS: 50, RateBurst: 100},
	}
}

// Load reads path over the defaults. A missing file is not an error. A .env
// file in the working directory is loaded first so that overrides can come
// from either source.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Postgres.DSN = v
		c.Database.Driver = "postgres"
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLite.Path = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		c.Auth.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("AUTH_HMAC_SECRET"); v != "" {
		c.Auth.HMACSecret = v
	}
	if v := os.Getenv("AUTH_JWKS_URL"); v != "" {
		c.Auth.JWKSURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.Events.MQTT.Broker = v
	}
	if v := os.Getenv("EVENTS_BROKER"); v != "" {
		c.Events.Broker = v
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Webhooks.MaxAttempts = n
		}
	}
	for id, p := range c.Providers {
		if v := os.Getenv(strings.ToUpper(id) + "_WEBHOOK_SECRET"); v != "" {
			p.Secret = v
			c.Providers[id] = p
		}
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Events.Broker {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis event broker")
		}
	default:
		return fmt.Errorf("unsupported events broker: %s", c.Events.Broker)
	}
	if c.Sync.BatchConcurrency <= 0 {
		return fmt.Errorf("sync.batch_concurrency must be > 0")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be > 0")
	}
	if c.Tracking.PollInterval <= 0 || c.Tracking.CleanupInterval <= 0 {
		return fmt.Errorf("tracking intervals must be > 0")
	}
	return nil
}

// Provider returns the configuration for id, and whether it is enabled.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	p, ok := c.Providers[strings.ToLower(id)]
	return p, ok && p.Enabled
}
