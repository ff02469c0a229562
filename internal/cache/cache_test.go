package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/config"
	"github.com/01121922383osama/BackendSurvival/internal/models"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Cache) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := &config.Config{}
	cfg.Cache.TelemetryStream = "telemetry:data:stream"
	cfg.Cache.StateKeyPrefix = "device:state:"
	cfg.Cache.StateTTL = 300

	logger := zap.NewNop()
	c := NewCache(cfg, redisClient, logger)

	return mr, redisClient, c
}

func TestCache_PublishTelemetry(t *testing.T) {
	_, redisClient, c := setupTestCache(t)

	record := &models.TelemetryRecord{
		DeviceID:   "ABC123",
		Topic:      "/Radar60FL/ABC123/telemetry",
		ReceivedAt: time.Now(),
		Params:     map[string]string{"fallStatus": "1"},
	}

	ctx := context.Background()
	id, err := c.PublishTelemetry(ctx, record, models.StatusRed)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// 验证流内容
	msgs, err := redisClient.XRange(ctx, "telemetry:data:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload map[string]interface{}
	err = json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &payload)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", payload["device_id"])
	assert.Equal(t, "Red", payload["status_color"])
}

func TestCache_SetAndGetDeviceState(t *testing.T) {
	mr, _, c := setupTestCache(t)

	ctx := context.Background()
	state := map[string]interface{}{
		"isConnected": true,
		"hasAlert":    false,
		"lastStatus":  "Green",
	}

	err := c.SetDeviceState(ctx, "ABC123", state)
	require.NoError(t, err)

	// 验证 TTL 已设置
	ttl := mr.TTL("device:state:ABC123")
	assert.True(t, ttl > 0)

	got, err := c.GetDeviceState(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, true, got["isConnected"])
	assert.Equal(t, "Green", got["lastStatus"])
}

func TestCache_GetDeviceState_NotFound(t *testing.T) {
	_, _, c := setupTestCache(t)

	_, err := c.GetDeviceState(context.Background(), "missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
