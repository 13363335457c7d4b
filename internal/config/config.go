package config

import (
	"time"

	"github.com/spf13/viper"
)

type ServerCfg struct {
	Port                string `mapstructure:"port"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

type MongoCfg struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaCfg struct {
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
}

type JwtCfg struct {
	Secret string `mapstructure:"secret"`
}

// SyncCfg holds the tunables of the sync pipeline. The numeric values are
// defaults, not contracts; callers read the derived Duration fields.
type SyncCfg struct {
	ReceiptDebounceMillis  int `mapstructure:"receipt_debounce_millis"`
	ReceiptMaxBuffered     int `mapstructure:"receipt_max_buffered"`
	TypingTTLSeconds       int `mapstructure:"typing_ttl_seconds"`
	TypingDebounceMillis   int `mapstructure:"typing_debounce_millis"`
	PresenceTTLSeconds     int `mapstructure:"presence_ttl_seconds"`
	HeartbeatSeconds       int `mapstructure:"heartbeat_seconds"`
	MissedHeartbeats       int `mapstructure:"missed_heartbeats"`
	PollIntervalSeconds    int `mapstructure:"poll_interval_seconds"`
	BackoffInitialMillis   int `mapstructure:"backoff_initial_millis"`
	BackoffCapSeconds      int `mapstructure:"backoff_cap_seconds"`
	BackoffStableSeconds   int `mapstructure:"backoff_stable_seconds"`
}

type Config struct {
	Env    string    `mapstructure:"env"`
	Server ServerCfg `mapstructure:"server"`
	Mongo  MongoCfg  `mapstructure:"mongo"`
	Redis  RedisCfg  `mapstructure:"redis"`
	Kafka  KafkaCfg  `mapstructure:"kafka"`
	JWT    JwtCfg    `mapstructure:"jwt"`
	Sync   SyncCfg   `mapstructure:"sync"`

	// Derived
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ReceiptDebounce time.Duration
	TypingTTL       time.Duration
	TypingDebounce  time.Duration
	PresenceTTL     time.Duration
	Heartbeat       time.Duration
	PollInterval    time.Duration
	BackoffInitial  time.Duration
	BackoffCap      time.Duration
	BackoffStable   time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvPrefix("SYNC")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with all tunables at their defaults, for
// wiring components outside the service entrypoint.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 15
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "sync"
	}
	if cfg.Kafka.EventsTopic == "" {
		cfg.Kafka.EventsTopic = "chat.message.events"
	}
	s := &cfg.Sync
	if s.ReceiptDebounceMillis == 0 {
		s.ReceiptDebounceMillis = 750
	}
	if s.ReceiptMaxBuffered == 0 {
		s.ReceiptMaxBuffered = 100
	}
	if s.TypingTTLSeconds == 0 {
		s.TypingTTLSeconds = 4
	}
	if s.TypingDebounceMillis == 0 {
		s.TypingDebounceMillis = 1500
	}
	if s.PresenceTTLSeconds == 0 {
		s.PresenceTTLSeconds = 10
	}
	if s.HeartbeatSeconds == 0 {
		s.HeartbeatSeconds = 5
	}
	if s.MissedHeartbeats == 0 {
		s.MissedHeartbeats = 3
	}
	if s.PollIntervalSeconds == 0 {
		s.PollIntervalSeconds = 4
	}
	if s.BackoffInitialMillis == 0 {
		s.BackoffInitialMillis = 1000
	}
	if s.BackoffCapSeconds == 0 {
		s.BackoffCapSeconds = 30
	}
	if s.BackoffStableSeconds == 0 {
		s.BackoffStableSeconds = 30
	}

	cfg.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	cfg.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	cfg.ReceiptDebounce = time.Duration(s.ReceiptDebounceMillis) * time.Millisecond
	cfg.TypingTTL = time.Duration(s.TypingTTLSeconds) * time.Second
	cfg.TypingDebounce = time.Duration(s.TypingDebounceMillis) * time.Millisecond
	cfg.PresenceTTL = time.Duration(s.PresenceTTLSeconds) * time.Second
	cfg.Heartbeat = time.Duration(s.HeartbeatSeconds) * time.Second
	cfg.PollInterval = time.Duration(s.PollIntervalSeconds) * time.Second
	cfg.BackoffInitial = time.Duration(s.BackoffInitialMillis) * time.Millisecond
	cfg.BackoffCap = time.Duration(s.BackoffCapSeconds) * time.Second
	cfg.BackoffStable = time.Duration(s.BackoffStableSeconds) * time.Second
}
