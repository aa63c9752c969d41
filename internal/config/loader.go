package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration populated only from built-in defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.redis.host", "localhost")
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.dial_timeout", 2*time.Second)
	v.SetDefault("database.redis.read_timeout", time.Second)
	v.SetDefault("database.redis.write_timeout", time.Second)

	v.SetDefault("broker.kafka.group_id", "herald-delivery")
	v.SetDefault("broker.kafka.submit_topic", "notification_requests")
	v.SetDefault("broker.kafka.status_topic", "notification_status")
	v.SetDefault("broker.kafka.rule_events_topic", "rule_changes")
	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", time.Second)
	v.SetDefault("broker.kafka.retry.max_interval", 30*time.Second)
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.fallback_on_error", true)
	v.SetDefault("queue.restore_on_recovery", false)
	v.SetDefault("queue.janitor_interval", time.Minute)
	v.SetDefault("queue.status_ttl", 7*24*time.Hour)
	v.SetDefault("queue.probe_schedule", "@every 30s")
	v.SetDefault("queue.probe.max_attempts", 3)
	v.SetDefault("queue.probe.initial_interval", 200*time.Millisecond)
	v.SetDefault("queue.probe.max_interval", 2*time.Second)
	v.SetDefault("queue.probe.multiplier", 2.0)

	v.SetDefault("deduplication.hash_algorithm", "sha256")
	v.SetDefault("deduplication.window", 24*time.Hour)
	v.SetDefault("deduplication.daily_cap", 3)
	v.SetDefault("deduplication.check_content", true)
	v.SetDefault("deduplication.check_daily_cap", true)
	v.SetDefault("deduplication.on_store_error", "allow")
	v.SetDefault("deduplication.timezone", "UTC")

	v.SetDefault("rate_limit.hourly_limit", 60)
	v.SetDefault("rate_limit.daily_limit", 500)
	v.SetDefault("rate_limit.min_spacing", 5*time.Second)
	v.SetDefault("rate_limit.timezone", "UTC")

	v.SetDefault("business_hours.global.enabled", false)
	v.SetDefault("business_hours.global.start", "08:00")
	v.SetDefault("business_hours.global.end", "20:00")
	v.SetDefault("business_hours.global.days", []int{1, 2, 3, 4, 5, 6})
	v.SetDefault("business_hours.global.timezone", "UTC")

	v.SetDefault("behavior.default_pattern", "moderate")
	v.SetDefault("behavior.default_typing_profile", "normal")
	v.SetDefault("behavior.patterns", map[string]interface{}{
		"conservative": map[string]interface{}{"min": 30 * time.Second, "max": 180 * time.Second, "base": 60 * time.Second},
		"moderate":     map[string]interface{}{"min": 15 * time.Second, "max": 90 * time.Second, "base": 30 * time.Second},
		"aggressive":   map[string]interface{}{"min": 5 * time.Second, "max": 45 * time.Second, "base": 12 * time.Second},
	})
	v.SetDefault("behavior.typing_profiles", map[string]interface{}{
		"slow":   3.0,
		"normal": 5.0,
		"fast":   8.0,
	})
	v.SetDefault("behavior.max_typing", 20*time.Second)
	v.SetDefault("behavior.typing_indicator", true)

	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.dispatch_timeout", 30*time.Second)
	v.SetDefault("delivery.poll_interval", 60*time.Second)
	v.SetDefault("delivery.backoff_base", time.Minute)
	v.SetDefault("delivery.backoff_max", 24*time.Hour)
	v.SetDefault("delivery.backoff_factor", 2.0)
	v.SetDefault("delivery.burst_window", 5*time.Minute)
	v.SetDefault("delivery.history_size", 50)
	v.SetDefault("delivery.cleanup_schedule", "@every 5m")

	v.SetDefault("rules.enabled", true)
	v.SetDefault("rules.sweep_schedule", "@every 1m")
	v.SetDefault("rules.grace_minutes", 5)
	v.SetDefault("rules.timezone", "UTC")

	v.SetDefault("channel.type", "http")
	v.SetDefault("channel.http.timeout", 15*time.Second)
	v.SetDefault("channel.kafka.topic", "outbound_messages")

	v.SetDefault("api.rate_limit.enabled", true)
	v.SetDefault("api.rate_limit.rps", 10.0)
	v.SetDefault("api.rate_limit.burst", 20)
	v.SetDefault("api.rate_limit.cleanup_interval", 5*time.Minute)
	v.SetDefault("api.rate_limit.max_age", 10*time.Minute)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", time.Minute)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 3)
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.submit_topic", "BROKER_KAFKA_SUBMIT_TOPIC")
	viper.BindEnv("broker.kafka.status_topic", "BROKER_KAFKA_STATUS_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")
	viper.BindEnv("broker.kafka.rule_events_topic", "BROKER_KAFKA_RULE_EVENTS_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("channel.http.base_url", "CHANNEL_HTTP_BASE_URL")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := splitList(brokersEnv)
		if len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
			if len(cfg.Channel.Kafka.Brokers) == 0 {
				cfg.Channel.Kafka.Brokers = brokers
			}
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
