package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/config"
	"github.com/01121922383osama/BackendSurvival/internal/models"
)

// Cache 遥测缓存管理器：
// 1. 将标准化遥测发布到 Redis Streams，供下游分析服务消费
// 2. 维护设备最新状态缓存，供看板层直接读取
type Cache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCache 创建缓存管理器
func NewCache(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishTelemetry 发布标准化遥测到 Redis Streams
func (c *Cache) PublishTelemetry(ctx context.Context, record *models.TelemetryRecord, color models.StatusColor) (string, error) {
	payload := map[string]interface{}{
		"device_id":    record.DeviceID,
		"topic":        record.Topic,
		"params":       record.Params,
		"status_color": string(color),
		"received_at":  record.ReceivedAt.Unix(),
	}

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	// 使用 XADD 命令添加消息
	id, err := c.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: c.config.Cache.TelemetryStream,
		Values: map[string]interface{}{
			"data":      string(jsonBytes),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream: %w", err)
	}

	return id, nil
}

// SetDeviceState 更新设备最新状态缓存（设置 TTL）
func (c *Cache) SetDeviceState(ctx context.Context, deviceID string, state map[string]interface{}) error {
	key := c.config.Cache.StateKeyPrefix + deviceID

	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal device state: %w", err)
	}

	err = c.redisClient.Set(
		ctx,
		key,
		jsonData,
		time.Duration(c.config.Cache.StateTTL)*time.Second,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set state cache: %w", err)
	}

	c.logger.Debug("Updated device state cache",
		zap.String("device_id", deviceID),
		zap.String("key", key),
	)

	return nil
}

// GetDeviceState 读取设备最新状态缓存
func (c *Cache) GetDeviceState(ctx context.Context, deviceID string) (map[string]interface{}, error) {
	key := c.config.Cache.StateKeyPrefix + deviceID

	val, err := c.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("device state not found: %s", deviceID)
		}
		return nil, fmt.Errorf("failed to get state cache: %w", err)
	}

	var state map[string]interface{}
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device state: %w", err)
	}

	return state, nil
}
