package consumer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/models"
	"github.com/01121922383osama/BackendSurvival/internal/repository"
)

// DeviceStore 设备状态存储
type DeviceStore interface {
	GetDeviceBySerialNumber(ctx context.Context, serialNumber string) (*models.DeviceState, error)
	CreateDefaultDevice(ctx context.Context, serialNumber string) (*models.DeviceState, error)
	UpdateDeviceStatus(ctx context.Context, serialNumber string, update models.DeviceStateUpdate) error
}

// TelemetryStore 遥测历史存储
type TelemetryStore interface {
	CreateLog(ctx context.Context, deviceID string, timestamp time.Time, params map[string]string, topic string, statusColor models.StatusColor) (string, error)
}

// AlertNotifier 报警通知器
type AlertNotifier interface {
	Notify(ctx context.Context, device *models.DeviceState, params map[string]string)
}

// Broadcaster 实时广播器
type Broadcaster interface {
	Broadcast(event models.BroadcastEvent)
}

// TelemetryCache 遥测缓存（Redis Streams + 最新状态缓存）
type TelemetryCache interface {
	PublishTelemetry(ctx context.Context, record *models.TelemetryRecord, color models.StatusColor) (string, error)
	SetDeviceState(ctx context.Context, deviceID string, state map[string]interface{}) error
}

// Coordinator 遥测接入协调器
// 每条入站消息执行一遍：标准化 → 分类 → 持久化 → 通知 → 广播。
// 各阶段相互隔离：任何一个阶段失败只记录日志，后续阶段继续基于
// 已算出的中间值执行；持久化失败不压制通知，通知失败不压制广播。
type Coordinator struct {
	devices   DeviceStore
	logs      TelemetryStore
	notifier  AlertNotifier
	broadcast Broadcaster
	cache     TelemetryCache
	logger    *zap.Logger

	// 测试时可替换的时钟
	now func() time.Time
}

// NewCoordinator 创建协调器
func NewCoordinator(
	devices DeviceStore,
	logs TelemetryStore,
	notifier AlertNotifier,
	broadcast Broadcaster,
	cache TelemetryCache,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		devices:   devices,
		logs:      logs,
		notifier:  notifier,
		broadcast: broadcast,
		cache:     cache,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle 处理一条入站 MQTT 消息
// 永不 panic 到 broker 的消息分发路径：所有错误就地记录。
func (c *Coordinator) Handle(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic while handling telemetry message",
				zap.String("topic", topic),
				zap.Any("panic", r),
			)
		}
	}()

	ctx := context.Background()

	// 1. 标准化；丢弃的消息无任何副作用，只留 debug 痕迹
	record, dropReason := Normalize(topic, payload, c.now())
	if dropReason != DropNone {
		c.logger.Debug("Dropped telemetry message",
			zap.String("topic", topic),
			zap.String("reason", string(dropReason)),
		)
		return
	}

	// 2. 分类；收到任何消息即视为设备在线
	color := Classify(record.Params)
	hasAlert := color.IsAlert()

	update := models.DeviceStateUpdate{
		IsConnected:  true,
		HasAlert:     hasAlert,
		AlertMessage: alertMessageFor(record.Params),
		IsFall:       record.Params["fallStatus"] == "1",
		LastStatus:   color,
		LastUpdated:  record.ReceivedAt,
	}

	// 3. 更新设备状态；未注册设备自动建档
	device := c.upsertDeviceState(ctx, record, update)

	// 4. 追加遥测日志（与设备状态更新是否成功无关）
	if _, err := c.logs.CreateLog(ctx, record.DeviceID, record.ReceivedAt, record.Params, record.Topic, color); err != nil {
		c.logger.Error("Failed to append telemetry log",
			zap.String("device_id", record.DeviceID),
			zap.Error(err),
		)
	}

	// 5. 发布到 Redis（流 + 最新状态缓存），尽力而为
	c.publishToCache(ctx, record, color, device, update)

	// 6. 报警通知（仅 Red/Yellow）
	if hasAlert {
		c.notifier.Notify(ctx, device, record.Params)
	}

	// 7. 实时广播（无论是否报警，看板也要展示在线/离线）
	c.broadcast.Broadcast(models.BroadcastEvent{
		Type:      "device_update",
		DeviceID:  record.DeviceID,
		Data:      broadcastData(device, update),
		Timestamp: record.ReceivedAt,
	})
}

// upsertDeviceState 读取或自动创建设备记录，然后应用状态更新
// 存储故障时返回一个合成的内存快照，保证后续阶段仍能执行。
func (c *Coordinator) upsertDeviceState(ctx context.Context, record *models.TelemetryRecord, update models.DeviceStateUpdate) *models.DeviceState {
	device, err := c.devices.GetDeviceBySerialNumber(ctx, record.DeviceID)
	if err != nil && errors.Is(err, repository.ErrDeviceNotFound) {
		device, err = c.devices.CreateDefaultDevice(ctx, record.DeviceID)
	}
	if err != nil {
		c.logger.Error("Failed to load or create device, using in-memory snapshot",
			zap.String("device_id", record.DeviceID),
			zap.Error(err),
		)
		device = defaultSnapshot(record.DeviceID)
	}

	if err := c.devices.UpdateDeviceStatus(ctx, record.DeviceID, update); err != nil {
		c.logger.Error("Failed to persist device state",
			zap.String("device_id", record.DeviceID),
			zap.Error(err),
		)
	}

	// 无论持久化结果如何，快照都反映本条遥测推导出的状态
	device.IsConnected = update.IsConnected
	device.HasAlert = update.HasAlert
	device.AlertMessage = update.AlertMessage
	device.IsFall = update.IsFall
	device.LastStatus = update.LastStatus
	device.LastUpdated = update.LastUpdated

	return device
}

// publishToCache 发布遥测流与最新状态缓存
func (c *Coordinator) publishToCache(ctx context.Context, record *models.TelemetryRecord, color models.StatusColor, device *models.DeviceState, update models.DeviceStateUpdate) {
	if _, err := c.cache.PublishTelemetry(ctx, record, color); err != nil {
		c.logger.Error("Failed to publish telemetry to stream",
			zap.String("device_id", record.DeviceID),
			zap.Error(err),
		)
	}
	if err := c.cache.SetDeviceState(ctx, record.DeviceID, broadcastData(device, update)); err != nil {
		c.logger.Error("Failed to update device state cache",
			zap.String("device_id", record.DeviceID),
			zap.Error(err),
		)
	}
}

// alertMessageFor 推导设备报警消息
func alertMessageFor(params map[string]string) *string {
	var message string
	switch {
	case params["fallStatus"] == "1":
		message = "Fall detected"
	case params["residentStatus"] == "1":
		message = "Resident alert"
	default:
		return nil
	}
	return &message
}

// broadcastData 广播/缓存共用的状态数据
func broadcastData(device *models.DeviceState, update models.DeviceStateUpdate) map[string]interface{} {
	var alertMessage interface{}
	if update.AlertMessage != nil {
		alertMessage = *update.AlertMessage
	}
	return map[string]interface{}{
		"serialNumber": device.SerialNumber,
		"name":         device.Name,
		"location":     device.Location,
		"isConnected":  update.IsConnected,
		"hasAlert":     update.HasAlert,
		"alertMessage": alertMessage,
		"isFall":       update.IsFall,
		"lastStatus":   string(update.LastStatus),
		"lastUpdated":  update.LastUpdated,
	}
}

// defaultSnapshot 存储不可用时的内存设备快照
func defaultSnapshot(serialNumber string) *models.DeviceState {
	return &models.DeviceState{
		SerialNumber:         serialNumber,
		Name:                 "Device " + serialNumber,
		Location:             "Unknown",
		NotificationsEnabled: true,
		Owners:               []string{},
	}
}
