package queuestore

import (
	"fmt"
	"time"

	"herald/internal/constants"
)

func QueueKey(tier Tier, tenantID string) string {
	return fmt.Sprintf("%s%s:%s", constants.KeyPrefixQueue, tier, tenantID)
}

func DupKey(tenantID, recipient, hash string) string {
	return fmt.Sprintf("%s%s:%s:%s", constants.KeyPrefixDup, tenantID, recipient, hash)
}

// DailyCapKey is dated with the caller's local day.
func DailyCapKey(tenantID, recipient, messageType string, day time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", constants.KeyPrefixDailyCap, tenantID, recipient, messageType, day.Format("20060102"))
}

func HourlyCounterKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("%s%s:hourly:%s", constants.KeyPrefixRateCap, tenantID, at.Format("2006010215"))
}

func DailyCounterKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("%s%s:daily:%s", constants.KeyPrefixRateCap, tenantID, at.Format("20060102"))
}

func SpacingKey(tenantID string) string {
	return constants.KeyPrefixSpacing + tenantID
}

func StatusKey(messageID string) string {
	return constants.KeyPrefixStatus + messageID
}

func RuleFiredKey(ruleID string, day time.Time) string {
	return fmt.Sprintf("%s%s:%s", constants.KeyPrefixRuleFired, ruleID, day.Format("20060102"))
}
