package config

import (
	"time"

	"herald/pkg/models"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Deduplication  DeduplicationConfig  `mapstructure:"deduplication"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	BusinessHours  BusinessHoursConfig  `mapstructure:"business_hours"`
	Behavior       BehaviorConfig       `mapstructure:"behavior"`
	Delivery       DeliveryConfig       `mapstructure:"delivery"`
	Rules          RulesConfig          `mapstructure:"rules"`
	Channel        ChannelConfig        `mapstructure:"channel"`
	API            APIConfig            `mapstructure:"api"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"` // "kafka" or empty to disable
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers         []string    `mapstructure:"brokers"`
	GroupID         string      `mapstructure:"group_id"`
	SubmitTopic     string      `mapstructure:"submit_topic"`
	StatusTopic     string      `mapstructure:"status_topic"`
	DLQTopic        string      `mapstructure:"dlq_topic"`
	RuleEventsTopic string      `mapstructure:"rule_events_topic"`
	Retry           RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type QueueConfig struct {
	Backend           string        `mapstructure:"backend"` // "redis" or "memory"
	FallbackOnError   bool          `mapstructure:"fallback_on_error"`
	RestoreOnRecovery bool          `mapstructure:"restore_on_recovery"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
	StatusTTL         time.Duration `mapstructure:"status_ttl"`
	ProbeSchedule     string        `mapstructure:"probe_schedule"`
	Probe             RetryConfig   `mapstructure:"probe"`
}

type DeduplicationConfig struct {
	HashAlgorithm string        `mapstructure:"hash_algorithm"`
	Window        time.Duration `mapstructure:"window"`
	DailyCap      int           `mapstructure:"daily_cap"`
	CheckContent  bool          `mapstructure:"check_content"`
	CheckDailyCap bool          `mapstructure:"check_daily_cap"`
	OnStoreError  string        `mapstructure:"on_store_error"` // "allow" or "deny"
	Timezone      string        `mapstructure:"timezone"`
}

// RateLimitConfig bounds how many messages a tenant may send.
type RateLimitConfig struct {
	HourlyLimit int           `mapstructure:"hourly_limit"`
	DailyLimit  int           `mapstructure:"daily_limit"`
	MinSpacing  time.Duration `mapstructure:"min_spacing"`
	Timezone    string        `mapstructure:"timezone"`
}

type BusinessHoursConfig struct {
	Global    models.BusinessHours             `mapstructure:"global"`
	Overrides map[string]BusinessHoursOverride `mapstructure:"overrides"`
}

// BusinessHoursOverride replaces the global window for one service (rate limiting,
// behavior, rules). InheritGlobal wins when both it and a window are set.
type BusinessHoursOverride struct {
	InheritGlobal bool                 `mapstructure:"inherit_global"`
	Window        models.BusinessHours `mapstructure:"window"`
}

type BehaviorConfig struct {
	DefaultPattern       string                   `mapstructure:"default_pattern"`
	DefaultTypingProfile string                   `mapstructure:"default_typing_profile"`
	Patterns             map[string]PatternConfig `mapstructure:"patterns"`
	TypingProfiles       map[string]float64       `mapstructure:"typing_profiles"` // characters per second
	MaxTyping            time.Duration            `mapstructure:"max_typing"`
	TypingIndicator      bool                     `mapstructure:"typing_indicator"`
}

type PatternConfig struct {
	Min  time.Duration `mapstructure:"min"`
	Max  time.Duration `mapstructure:"max"`
	Base time.Duration `mapstructure:"base"`
}

type DeliveryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	BackoffFactor   float64       `mapstructure:"backoff_factor"`
	BurstWindow     time.Duration `mapstructure:"burst_window"`
	HistorySize     int           `mapstructure:"history_size"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
}

type RulesConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
	GraceMinutes  int    `mapstructure:"grace_minutes"`
	Timezone      string `mapstructure:"timezone"`
}

type ChannelConfig struct {
	Type  string             `mapstructure:"type"` // "http" or "kafka"
	HTTP  HTTPChannelConfig  `mapstructure:"http"`
	Kafka KafkaChannelConfig `mapstructure:"kafka"`
}

type HTTPChannelConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

type KafkaChannelConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type APIConfig struct {
	RateLimit APIRateLimitConfig `mapstructure:"rate_limit"`
}

type APIRateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
