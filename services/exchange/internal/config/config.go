package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	base "github.com/vvoyage/exchange-API-tochka/libs/config"
)

const (
	DriverPostgres = "postgres"
	// DriverMemory keeps state in the process only; nothing survives a restart.
	DriverMemory   = "memory"
)

type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	Migrate  bool   `mapstructure:"migrate"`
}

func (d DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type AuthConfig struct {
	AdminToken string `mapstructure:"admin_token"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	// KeyEnv is embedded in generated API keys.
	KeyEnv string `mapstructure:"key_env"`
}

type MatchingConfig struct {
	QuoteTicker           string `mapstructure:"quote_ticker"`
	MaxCandidates         int    `mapstructure:"max_candidates"`
	OrderbookDefaultDepth int    `mapstructure:"orderbook_default_depth"`
	HistoryDefaultLimit   int    `mapstructure:"history_default_limit"`
}

type KafkaTopics struct {
	MatchingEvents string `mapstructure:"matching_events"`
	DeadLetter     string `mapstructure:"dead_letter"`
}

type KafkaConfig struct {
	Enabled  bool        `mapstructure:"enabled"`
	Brokers  []string    `mapstructure:"brokers"`
	ClientID string      `mapstructure:"client_id"`
	Topics   KafkaTopics `mapstructure:"topics"`
}

type RedisConfig struct {
	// Addr empty selects the in-process limiter.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	OrdersPerWindow int           `mapstructure:"orders_per_window"`
	Window          time.Duration `mapstructure:"window"`
}

type Config struct {
	App       base.AppConfig  `mapstructure:",squash"`
	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// TraceEndpoint is the OTLP/HTTP collector; empty uses the SDK default.
	TraceEndpoint string `mapstructure:"trace_endpoint"`
}

// Load reads the file named by EXCH_CONFIG (default config.yaml, may be
// absent) with EXCH_* environment overrides.
func Load() (*Config, error) {
	return LoadFile(base.PathFromEnv())
}

func LoadFile(path string) (*Config, error) {
	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Comma separated lists from the environment arrive as one element.
	cfg.Kafka.Brokers = splitCSV(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "exchange")
	v.SetDefault("db.user", "exchange")
	v.SetDefault("db.password", "exchange")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.migrate", true)

	v.SetDefault("auth.admin_token", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.key_env", "dev")

	v.SetDefault("matching.quote_ticker", "RUB")
	v.SetDefault("matching.max_candidates", 500)
	v.SetDefault("matching.orderbook_default_depth", 10)
	v.SetDefault("matching.history_default_limit", 10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "exchange")
	v.SetDefault("kafka.topics.matching_events", "exchange.matching.events")
	v.SetDefault("kafka.topics.dead_letter", "exchange.dead_letter")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.orders_per_window", 100)
	v.SetDefault("rate_limit.window", "1s")

	v.SetDefault("trace_endpoint", "")
}

func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.Port <= 0 {
			return fmt.Errorf("db.port must be positive")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver must be %s or %s, got %q", DriverPostgres, DriverMemory, c.DB.Driver)
	}
	if c.Matching.QuoteTicker != "RUB" {
		return fmt.Errorf("matching.quote_ticker must be RUB, got %q", c.Matching.QuoteTicker)
	}
	if c.Matching.MaxCandidates <= 0 {
		return fmt.Errorf("matching.max_candidates must be positive")
	}
	if c.Matching.OrderbookDefaultDepth <= 0 || c.Matching.HistoryDefaultLimit <= 0 {
		return fmt.Errorf("matching defaults must be positive")
	}
	if strings.ContainsAny(c.Auth.KeyEnv, "_.") || c.Auth.KeyEnv == "" {
		return fmt.Errorf("auth.key_env must be non-empty without '_' or '.'")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required")
		}
		if c.Kafka.Topics.MatchingEvents == "" {
			return fmt.Errorf("kafka.topics.matching_events required")
		}
	}
	if c.RateLimit.OrdersPerWindow < 0 {
		return fmt.Errorf("rate_limit.orders_per_window must be non-negative")
	}
	if c.RateLimit.OrdersPerWindow > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	return nil
}

func splitCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
