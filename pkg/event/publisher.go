package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix はイベントを配信するRedisチャンネルのプレフィックス。
const ChannelPrefix = "bookhub:events:"

// publishTimeout は1件の配信に使う時間の上限。
const publishTimeout = 2 * time.Second

// Channel はエンティティの種類ごとの配信チャンネル名を返す。
func Channel(aggregateType AggregateType) string {
	return ChannelPrefix + strings.ToLower(string(aggregateType))
}

// Publisher はイベントを配信する。
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// RedisPublisher はRedisのPub/Subでイベントを配信する。
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher は新しい RedisPublisher を生成する。
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish はイベントをJSONにしてエンティティの種類ごとのチャンネルに配信する。
func (p *RedisPublisher) Publish(ctx context.Context, e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(e.AggregateType), payload).Err(); err != nil {
		return fmt.Errorf("イベントの配信に失敗: %s: %w", e.EventType, err)
	}
	return nil
}

// NopPublisher は何もしない Publisher。Redisを使わない構成で使用する。
type NopPublisher struct{}

// Publish は何もせずにnilを返す。
func (NopPublisher) Publish(context.Context, *Event) error {
	return nil
}

// Emit はイベントを生成して配信する。
// 配信はリクエストのキャンセルとは独立して行い、失敗はログに記録して呼び出し元には返さない。
func Emit(ctx context.Context, pub Publisher, logger *zap.Logger, aggregateID string, aggregateType AggregateType, eventType Type, data any) {
	e, err := New(aggregateID, aggregateType, eventType, data)
	if err != nil {
		logger.Warn("イベントの生成に失敗しました",
			zap.String("event_type", string(eventType)),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := pub.Publish(ctx, e); err != nil {
		logger.Warn("イベントの配信に失敗しました",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(eventType)),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
		return
	}
	logger.Debug("イベントを配信しました",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(eventType)),
		zap.String("aggregate_id", aggregateID),
	)
}
