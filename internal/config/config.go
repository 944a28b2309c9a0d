package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pulse-cli/internal/feesplit"
	"github.com/sells-group/pulse-cli/internal/params"
	"github.com/sells-group/pulse-cli/pkg/pulse"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Protocol    ProtocolConfig    `yaml:"protocol" mapstructure:"protocol"`
	Reliability ReliabilityConfig `yaml:"reliability" mapstructure:"reliability"`
	Events      EventsConfig      `yaml:"events" mapstructure:"events"`
	Pulse       PulseConfig       `yaml:"pulse" mapstructure:"pulse"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProtocolConfig is the genesis used the first time a store is opened.
// Once state is persisted the stored parameters win.
type ProtocolConfig struct {
	Owner           string `yaml:"owner" mapstructure:"owner"`
	Sink            string `yaml:"sink" mapstructure:"sink"`
	FeeWallet       string `yaml:"fee_wallet" mapstructure:"fee_wallet"`
	StakeVault      string `yaml:"stake_vault" mapstructure:"stake_vault"`
	TTLSeconds      uint64 `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
	MinSignalAmount uint64 `yaml:"min_signal_amount" mapstructure:"min_signal_amount"`
	AssetDecimals   uint8  `yaml:"asset_decimals" mapstructure:"asset_decimals"`
	FeeBps          uint64 `yaml:"fee_bps" mapstructure:"fee_bps"`
	MinBurnAmount   uint64 `yaml:"min_burn_amount" mapstructure:"min_burn_amount"`
	// RouteSignalFees is opt-in. Off, a signal pays its whole amount to the
	// sink. On, the payment is split by the fee distributor and a signal
	// whose amount fails the distributor minimums is rejected.
	RouteSignalFees bool `yaml:"route_signal_fees" mapstructure:"route_signal_fees"`
}

// ReliabilityConfig sets the score scaling. Units are whole tokens.
type ReliabilityConfig struct {
	VolumeUnitTokens uint64 `yaml:"volume_unit_tokens" mapstructure:"volume_unit_tokens"`
	VolumeWeight     uint64 `yaml:"volume_weight" mapstructure:"volume_weight"`
	StakeUnitTokens  uint64 `yaml:"stake_unit_tokens" mapstructure:"stake_unit_tokens"`
	StakeWeight      uint64 `yaml:"stake_weight" mapstructure:"stake_weight"`
	BronzeAt         uint64 `yaml:"bronze_at" mapstructure:"bronze_at"`
	SilverAt         uint64 `yaml:"silver_at" mapstructure:"silver_at"`
	GoldAt           uint64 `yaml:"gold_at" mapstructure:"gold_at"`
}

// EventsConfig configures the outbox relay.
type EventsConfig struct {
	Driver    string        `yaml:"driver" mapstructure:"driver"`
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	Kafka     KafkaConfig   `yaml:"kafka" mapstructure:"kafka"`
	Redis     RedisConfig   `yaml:"redis" mapstructure:"redis"`
	Retry     RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// RedisConfig configures the Redis stream publisher.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Stream   string `yaml:"stream" mapstructure:"stream"`
	MaxLen   int64  `yaml:"max_len" mapstructure:"max_len"`
}

// RetryConfig configures publish retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the publisher circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PulseConfig configures the hosted Agent Pulse API client.
type PulseConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMs   int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pulse.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("protocol.owner", "")
	v.SetDefault("protocol.fee_wallet", "")
	v.SetDefault("protocol.stake_vault", "")
	v.SetDefault("protocol.sink", "0x000000000000000000000000000000000000dead")
	v.SetDefault("protocol.ttl_seconds", 86400)
	v.SetDefault("protocol.min_signal_amount", 1_000_000)
	v.SetDefault("protocol.asset_decimals", 6)
	v.SetDefault("protocol.fee_bps", feesplit.DefaultFeeBps)
	v.SetDefault("protocol.min_burn_amount", 1_000_000)
	// Opt-in: signals burn their full amount unless fee routing is enabled.
	v.SetDefault("protocol.route_signal_fees", false)
	v.SetDefault("reliability.volume_unit_tokens", 1)
	v.SetDefault("reliability.volume_weight", 1)
	v.SetDefault("reliability.stake_unit_tokens", 1)
	v.SetDefault("reliability.stake_weight", 2)
	v.SetDefault("reliability.bronze_at", 7)
	v.SetDefault("reliability.silver_at", 30)
	v.SetDefault("reliability.gold_at", 90)
	v.SetDefault("events.driver", "log")
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "agent-pulse-events")
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.password", "")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.stream", "pulse:events")
	v.SetDefault("events.redis.max_len", 100000)
	v.SetDefault("events.retry.max_attempts", 3)
	v.SetDefault("events.retry.initial_backoff_ms", 200)
	v.SetDefault("events.retry.max_backoff_ms", 5000)
	v.SetDefault("events.circuit.failure_threshold", 5)
	v.SetDefault("events.circuit.reset_timeout_secs", 30)
	v.SetDefault("pulse.base_url", pulse.DefaultBaseURL)
	v.SetDefault("pulse.timeout_secs", 10)
	v.SetDefault("pulse.max_retries", 2)
	v.SetDefault("pulse.backoff_ms", 250)
	v.SetDefault("pulse.rate_limit", 10)
	v.SetDefault("pulse.concurrency", 8)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration needed to open a store and build a
// genesis engine.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	p := c.Protocol
	for _, f := range []struct{ name, addr string }{
		{"protocol.owner", p.Owner},
		{"protocol.sink", p.Sink},
		{"protocol.fee_wallet", p.FeeWallet},
		{"protocol.stake_vault", p.StakeVault},
	} {
		if _, err := pulse.NormalizeAddress(f.addr); err != nil {
			problems = append(problems, f.name+" is required")
		}
	}
	if p.TTLSeconds == 0 || p.TTLSeconds > params.MaxTTLSeconds {
		problems = append(problems, fmt.Sprintf("protocol.ttl_seconds must be in [1, %d]", params.MaxTTLSeconds))
	}
	if p.AssetDecimals > params.MaxAssetDecimals {
		problems = append(problems, fmt.Sprintf("protocol.asset_decimals must be at most %d", params.MaxAssetDecimals))
	} else if p.MinSignalAmount == 0 || p.MinSignalAmount > params.MaxMinSignalTokens*params.TokenUnit(p.AssetDecimals) {
		problems = append(problems, "protocol.min_signal_amount out of range")
	}
	if p.FeeBps > feesplit.MaxFeeBps {
		problems = append(problems, fmt.Sprintf("protocol.fee_bps must be at most %d", feesplit.MaxFeeBps))
	}

	switch c.Events.Driver {
	case "log", "none":
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			problems = append(problems, "events.kafka.brokers and events.kafka.topic are required")
		}
	case "redis":
		if c.Events.Redis.Addr == "" || c.Events.Redis.Stream == "" {
			problems = append(problems, "events.redis.addr and events.redis.stream are required")
		}
	default:
		problems = append(problems, fmt.Sprintf("events.driver %q must be log, kafka, redis or none", c.Events.Driver))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
