package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

// Key prefixes of the persisted state layout. Every key is namespaced by tenant
// so no two tenants ever share a key.
const (
	KeyPrefixQueue     = "queue:"
	KeyPrefixDup       = "dup:"
	KeyPrefixDailyCap  = "dailycap:"
	KeyPrefixRateCap   = "ratecap:"
	KeyPrefixSpacing   = "spacing:"
	KeyPrefixStatus    = "status:"
	KeyPrefixRuleFired = "rulefired:"
)

const (
	TierPriority = "priority"
	TierRegular  = "regular"
)

const (
	DefaultSubmitTopic = "notification_requests"
	DefaultStatusTopic = "notification_status"
	DefaultSendTopic   = "outbound_messages"
	DefaultRuleTopic   = "rule_changes"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

const (
	DefaultDuplicateWindow = 24 * time.Hour
	DefaultDailyCap        = 3
	DefaultStatusTTL       = 7 * 24 * time.Hour
	DefaultMaxAttempts     = 3
	DefaultPollInterval    = 60 * time.Second
	DefaultDispatchTimeout = 30 * time.Second
	DefaultBackoffBase     = time.Minute
	DefaultBackoffMax      = 24 * time.Hour
	DefaultBurstWindow     = 5 * time.Minute
	DefaultHistorySize     = 50
	DefaultSpacingTTL      = 24 * time.Hour
	DefaultRuleFiredTTL    = 26 * time.Hour
)

const (
	PatternConservative = "conservative"
	PatternModerate     = "moderate"
	PatternAggressive   = "aggressive"
)

const (
	TypingSlow   = "slow"
	TypingNormal = "normal"
	TypingFast   = "fast"
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

const (
	ChannelHTTP  = "http"
	ChannelKafka = "kafka"
)

const (
	SourceAPI   = "api"
	SourceKafka = "kafka"
	SourceRule  = "rule"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

// Business hours override keys.
const (
	HoursServiceDelivery = "delivery"
	HoursServiceRules    = "rules"
)

const (
	StatusPreviewLimit = 10
)

const (
	ServiceName        = "delivery-service"
	DefaultMongoDBName = "herald"
)
