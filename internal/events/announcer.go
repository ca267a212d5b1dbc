// Package events publishes device-invalidation announcements so downstream
// services can drop their own references to pruned tokens.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-notification-gateway/pkg/dispatch"
)

// Publisher is the subset of the pubsub publisher we use.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PrunedBatch is the announcement payload.
type PrunedBatch struct {
	Tokens   []string  `json:"tokens"`
	PrunedAt time.Time `json:"pruned_at"`
}

// Announcer is a Decorator around a DevicePruner: it forwards the delete and
// then publishes the pruned batch. The announcement is best effort — pruning
// already succeeded, so a publish failure is only logged.
type Announcer struct {
	pruner    dispatch.DevicePruner
	publisher Publisher
	logger    *slog.Logger
}

func NewAnnouncer(pruner dispatch.DevicePruner, publisher Publisher, logger *slog.Logger) *Announcer {
	return &Announcer{
		pruner:    pruner,
		publisher: publisher,
		logger:    logger.With("component", "InvalidationAnnouncer"),
	}
}

func (a *Announcer) DeleteBatch(ctx context.Context, tokens []string) (int, error) {
	deleted, err := a.pruner.DeleteBatch(ctx, tokens)
	if err != nil {
		return deleted, err
	}

	payload, err := json.Marshal(PrunedBatch{Tokens: tokens, PrunedAt: time.Now().UTC()})
	if err != nil {
		a.logger.Error("Failed to encode invalidation announcement.", "err", err)
		return deleted, nil
	}

	result := a.publisher.Publish(ctx, &pubsub.Message{Data: payload})
	if _, pubErr := result.Get(ctx); pubErr != nil {
		a.logger.Error("Failed to publish invalidation announcement.", "err", pubErr)
	}
	return deleted, nil
}
