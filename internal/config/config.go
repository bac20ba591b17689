package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Worker    WorkerConfig    `yaml:"worker"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// LedgerConfig points at the account ledger and tunes its circuit breaker.
type LedgerConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
	BreakerWindow  time.Duration `yaml:"breaker_window"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type WorkerConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads yaml file, then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// a missing .env is fine
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = withPassword(c.Postgres.DSN, pw)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if u := os.Getenv("LEDGER_BASE_URL"); u != "" {
		c.Ledger.BaseURL = u
	}
	if p := os.Getenv("SERVER_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			c.Server.Port = port
		}
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
}

// withPassword sets the password of a URL DSN (postgres://...) or appends it
// to a keyword/value DSN.
func withPassword(dsn, pw string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		u.User = url.UserPassword(u.User.Username(), pw)
		return u.String()
	}
	return dsn + " password='" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(pw) + "'"
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8003
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 20
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 30 * time.Second
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "transaction-events"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "transaction-service"
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = 3 * time.Second
	}
	if c.Ledger.BreakerTimeout == 0 {
		c.Ledger.BreakerTimeout = 30 * time.Second
	}
	if c.Ledger.BreakerWindow == 0 {
		c.Ledger.BreakerWindow = 15 * time.Second
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Worker.DrainTimeout == 0 {
		c.Worker.DrainTimeout = 30 * time.Second
	}
	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = time.Second
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}
	if c.Ledger.BaseURL == "" {
		errs = append(errs, errors.New("ledger.base_url is required"))
	}
	return errors.Join(errs...)
}
