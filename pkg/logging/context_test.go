package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTenantID(ctx, "school-1")
	ctx = WithMessageID(ctx, "msg-1")
	ctx = WithServiceName(ctx, "delivery-service")

	assert.Equal(t, []interface{}{
		"tenant_id", "school-1",
		"message_id", "msg-1",
		"service_name", "delivery-service",
	}, GetLogFields(ctx))
	assert.Equal(t, "school-1", GetTenantID(ctx))
	assert.Equal(t, "", GetTraceID(ctx))
}
