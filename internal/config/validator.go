package config

import (
	"fmt"
	"strings"
	"time"

	"herald/pkg/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateDatabase(c.Database, c.Queue) },
		func(c *Config) error { return validateQueue(c.Queue) },
		func(c *Config) error { return validateDeduplication(c.Deduplication) },
		func(c *Config) error { return validateRateLimit(c.RateLimit) },
		func(c *Config) error { return validateBusinessHours(c.BusinessHours) },
		func(c *Config) error { return validateBehavior(c.Behavior) },
		func(c *Config) error { return validateDelivery(c.Delivery) },
		func(c *Config) error { return validateChannel(c.Channel) },
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, or empty to disable)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(field string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   field + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 || cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   field,
			Message: "intervals must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   field + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig, queue QueueConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if queue.Backend == "redis" {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required when queue.backend is redis",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateQueue(cfg QueueConfig) error {
	if cfg.Backend != "redis" && cfg.Backend != "memory" {
		return &ValidationError{
			Field:   "queue.backend",
			Message: fmt.Sprintf("invalid backend: %s (valid: redis, memory)", cfg.Backend),
		}
	}

	if cfg.StatusTTL <= 0 {
		return &ValidationError{
			Field:   "queue.status_ttl",
			Message: "status TTL must be positive",
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig) error {
	validAlgorithms := map[string]bool{
		"md5": true, "sha256": true, "sha1": true,
	}
	if cfg.HashAlgorithm != "" && !validAlgorithms[strings.ToLower(cfg.HashAlgorithm)] {
		return &ValidationError{
			Field:   "deduplication.hash_algorithm",
			Message: fmt.Sprintf("invalid hash algorithm: %s (valid: md5, sha256, sha1)", cfg.HashAlgorithm),
		}
	}

	if cfg.Window < 0 {
		return &ValidationError{
			Field:   "deduplication.window",
			Message: "window must be non-negative",
		}
	}

	if cfg.DailyCap < 0 {
		return &ValidationError{
			Field:   "deduplication.daily_cap",
			Message: "daily cap must be non-negative",
		}
	}

	validOnError := map[string]bool{
		"allow": true, "deny": true,
	}
	if cfg.OnStoreError != "" && !validOnError[strings.ToLower(cfg.OnStoreError)] {
		return &ValidationError{
			Field:   "deduplication.on_store_error",
			Message: fmt.Sprintf("invalid on_store_error value: %s (valid: allow, deny)", cfg.OnStoreError),
		}
	}

	return validateTimezone("deduplication.timezone", cfg.Timezone)
}

func validateRateLimit(cfg RateLimitConfig) error {
	if cfg.HourlyLimit < 0 || cfg.DailyLimit < 0 {
		return &ValidationError{
			Field:   "rate_limit",
			Message: "limits must be non-negative (0 disables a limit)",
		}
	}

	if cfg.HourlyLimit > 0 && cfg.DailyLimit > 0 && cfg.HourlyLimit > cfg.DailyLimit {
		return &ValidationError{
			Field:   "rate_limit.hourly_limit",
			Message: "hourly limit cannot exceed the daily limit",
		}
	}

	if cfg.MinSpacing < 0 {
		return &ValidationError{
			Field:   "rate_limit.min_spacing",
			Message: "min_spacing must be non-negative",
		}
	}

	return validateTimezone("rate_limit.timezone", cfg.Timezone)
}

func validateBusinessHours(cfg BusinessHoursConfig) error {
	if cfg.Global.Enabled {
		if err := models.ValidateBusinessHours(&cfg.Global); err != nil {
			return err
		}
		if err := validateTimezone("business_hours.global.timezone", cfg.Global.Timezone); err != nil {
			return err
		}
	}

	for service, override := range cfg.Overrides {
		if override.InheritGlobal || !override.Window.Enabled {
			continue
		}
		if err := models.ValidateBusinessHours(&override.Window); err != nil {
			return fmt.Errorf("business_hours.overrides.%s: %w", service, err)
		}
	}

	return nil
}

func validateBehavior(cfg BehaviorConfig) error {
	if _, ok := cfg.Patterns[cfg.DefaultPattern]; !ok {
		return &ValidationError{
			Field:   "behavior.default_pattern",
			Message: fmt.Sprintf("default pattern %q is not defined", cfg.DefaultPattern),
		}
	}

	for name, p := range cfg.Patterns {
		if p.Min <= 0 || p.Max < p.Min {
			return &ValidationError{
				Field:   "behavior.patterns." + name,
				Message: fmt.Sprintf("need 0 < min <= max, got min=%s max=%s", p.Min, p.Max),
			}
		}
	}

	if _, ok := cfg.TypingProfiles[cfg.DefaultTypingProfile]; !ok {
		return &ValidationError{
			Field:   "behavior.default_typing_profile",
			Message: fmt.Sprintf("default typing profile %q is not defined", cfg.DefaultTypingProfile),
		}
	}

	for name, cps := range cfg.TypingProfiles {
		if cps <= 0 {
			return &ValidationError{
				Field:   "behavior.typing_profiles." + name,
				Message: "characters per second must be positive",
			}
		}
	}

	return nil
}

func validateDelivery(cfg DeliveryConfig) error {
	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "delivery.max_attempts",
			Message: "max_attempts must be at least 1",
		}
	}

	if cfg.DispatchTimeout <= 0 || cfg.PollInterval <= 0 || cfg.BackoffBase <= 0 {
		return &ValidationError{
			Field:   "delivery",
			Message: "dispatch_timeout, poll_interval and backoff_base must be positive",
		}
	}

	if cfg.BackoffMax < cfg.BackoffBase {
		return &ValidationError{
			Field:   "delivery.backoff_max",
			Message: "backoff_max must be at least backoff_base",
		}
	}

	if cfg.BackoffFactor <= 1 {
		return &ValidationError{
			Field:   "delivery.backoff_factor",
			Message: "backoff_factor must be greater than 1",
		}
	}

	if cfg.HistorySize < 1 {
		return &ValidationError{
			Field:   "delivery.history_size",
			Message: "history_size must be positive",
		}
	}

	return nil
}

func validateChannel(cfg ChannelConfig) error {
	switch cfg.Type {
	case "http":
		if cfg.HTTP.BaseURL == "" {
			return &ValidationError{
				Field:   "channel.http.base_url",
				Message: "gateway base URL is required for the http channel",
			}
		}
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return &ValidationError{
				Field:   "channel.kafka",
				Message: "brokers and topic are required for the kafka channel",
			}
		}
	default:
		return &ValidationError{
			Field:   "channel.type",
			Message: fmt.Sprintf("unknown channel type: %s (supported: http, kafka)", cfg.Type),
		}
	}
	return nil
}

func validateTimezone(field, tz string) error {
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("unknown timezone %q", tz),
		}
	}
	return nil
}
