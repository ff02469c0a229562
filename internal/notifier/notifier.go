package notifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/models"
)

// PushSender 单收件人推送发送器
type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// TokenResolver 推送令牌解析器
type TokenResolver interface {
	GetDeviceToken(ctx context.Context, userID string) (string, error)
}

// deliveryResult 单次投递结果（内部使用，对外合同仍是 fire-and-forget）
type deliveryResult struct {
	ownerID   string
	alertType string
	err       error
}

// Notifier 报警通知器
// 对每个命中的报警类型 × 每个 owner 发送一条推送；单个收件人的失败
// 相互隔离，聚合结果只记日志，不向调用方传播。
type Notifier struct {
	tokens TokenResolver
	sender PushSender
	logger *zap.Logger
}

// NewNotifier 创建通知器
func NewNotifier(tokens TokenResolver, sender PushSender, logger *zap.Logger) *Notifier {
	return &Notifier{
		tokens: tokens,
		sender: sender,
		logger: logger,
	}
}

// Notify 根据触发参数向设备所有 owner 发送报警推送
// 同一条记录可能同时命中跌倒和住户两种报警，产生两批通知。
func (n *Notifier) Notify(ctx context.Context, device *models.DeviceState, params map[string]string) {
	if device == nil {
		return
	}
	if !device.NotificationsEnabled {
		n.logger.Debug("Notifications disabled for device, skipping",
			zap.String("device_id", device.SerialNumber),
		)
		return
	}

	events := buildNotificationEvents(device, params)
	if len(events) == 0 {
		return
	}
	if len(device.Owners) == 0 {
		n.logger.Warn("Alert-qualifying telemetry but device has no owners",
			zap.String("device_id", device.SerialNumber),
		)
		return
	}

	results := n.dispatch(ctx, events)

	sent, failed := 0, 0
	for _, r := range results {
		if r.err != nil {
			failed++
			n.logger.Warn("Failed to deliver push notification",
				zap.String("device_id", device.SerialNumber),
				zap.String("owner_id", r.ownerID),
				zap.String("alert_type", r.alertType),
				zap.Error(r.err),
			)
		} else {
			sent++
		}
	}

	n.logger.Info("Alert notifications dispatched",
		zap.String("device_id", device.SerialNumber),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
	)
}

// dispatch 逐收件人投递，失败不中断剩余投递
func (n *Notifier) dispatch(ctx context.Context, events []models.NotificationEvent) []deliveryResult {
	results := make([]deliveryResult, 0, len(events))

	for _, event := range events {
		token, err := n.tokens.GetDeviceToken(ctx, event.OwnerID)
		if err != nil {
			// 没有令牌的 owner 直接跳过，不重试
			results = append(results, deliveryResult{
				ownerID:   event.OwnerID,
				alertType: event.Title,
				err:       fmt.Errorf("no push token: %w", err),
			})
			continue
		}

		err = n.sender.Send(ctx, token, event.Title, event.Body, map[string]string{
			"deviceId": event.DeviceID,
		})
		results = append(results, deliveryResult{
			ownerID:   event.OwnerID,
			alertType: event.Title,
			err:       err,
		})
	}

	return results
}

// buildNotificationEvents 展开 (报警类型 × owner) 的通知事件
func buildNotificationEvents(device *models.DeviceState, params map[string]string) []models.NotificationEvent {
	type alert struct {
		title string
		body  string
	}

	var alerts []alert
	if params["fallStatus"] == "1" {
		alerts = append(alerts, alert{
			title: "Fall Alert!",
			body:  fmt.Sprintf("A fall has been detected for device %s.", device.SerialNumber),
		})
	}
	if params["residentStatus"] == "1" {
		alerts = append(alerts, alert{
			title: "Resident Alert",
			body:  fmt.Sprintf("A resident alert has been triggered for device %s.", device.SerialNumber),
		})
	}

	var events []models.NotificationEvent
	for _, a := range alerts {
		for _, ownerID := range device.Owners {
			events = append(events, models.NotificationEvent{
				OwnerID:  ownerID,
				DeviceID: device.SerialNumber,
				Title:    a.title,
				Body:     a.body,
			})
		}
	}
	return events
}
