package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/config"
)

// fcmMessage FCM HTTP v1 消息体
type fcmMessage struct {
	Message struct {
		Token        string            `json:"token"`
		Notification fcmNotification   `json:"notification"`
		Data         map[string]string `json:"data,omitempty"`
		APNS         *fcmAPNS          `json:"apns,omitempty"`
	} `json:"message"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAPNS struct {
	Payload struct {
		APS struct {
			Sound string `json:"sound"`
		} `json:"aps"`
	} `json:"payload"`
}

// FCMClient FCM 推送客户端（HTTP v1 API）
type FCMClient struct {
	httpClient *resty.Client
	projectID  string
	logger     *zap.Logger
}

// NewFCMClient 创建 FCM 客户端
func NewFCMClient(cfg *config.PushConfig, logger *zap.Logger) *FCMClient {
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.ServiceToken)

	return &FCMClient{
		httpClient: client,
		projectID:  cfg.ProjectID,
		logger:     logger,
	}
}

// Send 向单个推送令牌发送一条通知
func (c *FCMClient) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := fcmMessage{}
	msg.Message.Token = token
	msg.Message.Notification = fcmNotification{Title: title, Body: body}
	msg.Message.Data = data
	apns := &fcmAPNS{}
	apns.Payload.APS.Sound = "default"
	msg.Message.APNS = apns

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(msg).
		Post(fmt.Sprintf("/v1/projects/%s/messages:send", c.projectID))
	if err != nil {
		return fmt.Errorf("failed to call FCM API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("FCM API returned %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Debug("Push notification sent",
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
