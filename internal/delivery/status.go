package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"herald/internal/queuestore"
	"herald/pkg/models"
)

// StatusPublisher receives every status transition, typically to fan it out on a topic.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

func (m *Manager) writeStatus(ctx context.Context, env *models.Envelope, reason string) {
	now := m.clock.Now()
	rec := models.NewStatusRecord(env, reason, now)

	data, err := json.Marshal(rec)
	if err != nil {
		m.logger.ErrorwCtx(ctx, "Failed to encode status record", "message_id", env.ID, "error", err)
		return
	}

	if err := m.store.Set(ctx, queuestore.StatusKey(env.ID), string(data), m.statusTTL); err != nil {
		m.logger.WarnwCtx(ctx, "Failed to write status record",
			"message_id", env.ID,
			"status", env.Status,
			"error", err,
		)
	}

	if m.publisher == nil {
		return
	}
	event := models.StatusEvent{
		MessageID:         env.ID,
		TenantID:          env.TenantID,
		Recipient:         env.Recipient,
		Type:              env.Type,
		Status:            env.Status,
		Attempts:          env.Metadata.Attempts,
		Reason:            reason,
		ProviderMessageID: env.ProviderMessageID,
		Timestamp:         now,
	}
	if err := m.publisher.PublishStatus(ctx, event); err != nil {
		m.logger.WarnwCtx(ctx, "Failed to publish status event",
			"message_id", env.ID,
			"status", env.Status,
			"error", err,
		)
	}
}

func (m *Manager) readStatus(ctx context.Context, messageID string) (models.StatusRecord, error) {
	var rec models.StatusRecord

	raw, err := m.store.Get(ctx, queuestore.StatusKey(messageID))
	if errors.Is(err, queuestore.ErrNotFound) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("failed to read status for %s: %w", messageID, err)
	}

	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, fmt.Errorf("failed to decode status for %s: %w", messageID, err)
	}
	return rec, nil
}
