// Package notify publishes user-facing progress events over Redis Pub/Sub.
// The API process forwards them to authenticated WebSocket clients.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// 消息类型
const (
	TypeIngestStage     = "ingest_stage"
	TypePreviewReady    = "preview_ready"
	TypePreviewFailed   = "preview_failed"
	TypeExportCompleted = "export_completed"
	TypeExportFailed    = "export_failed"
	TypeSaveFailed      = "save_failed"
)

// Message 是推送给前端的统一协议，字段名与前端解析保持一致。
type Message struct {
	Type          string `json:"type"`
	DocumentID    uint   `json:"document_id"`
	Version       int    `json:"version,omitempty"`
	Stage         string `json:"stage,omitempty"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
	URL           string `json:"url,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Publisher delivers a message to every connection of userID.
type Publisher interface {
	Publish(ctx context.Context, userID string, msg Message) error
}

// Channel returns the Redis channel for userID.
func Channel(userID string) string {
	return "user_notify:" + userID
}

type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notify message: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(userID), payload).Err(); err != nil {
		p.logger.Error("publish notify message failed",
			slog.String("type", msg.Type),
			slog.Uint64("document_id", uint64(msg.DocumentID)),
			slog.Any("error", err),
		)
		return fmt.Errorf("publish notify message: %w", err)
	}
	return nil
}

// Discard drops every message. Used by the admin CLI and where no Redis is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, Message) error { return nil }
