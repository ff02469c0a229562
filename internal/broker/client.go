package broker

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/config"
)

// ConnState 连接状态机状态
type ConnState string

const (
	StateDisconnected ConnState = "Disconnected"
	StateConnecting   ConnState = "Connecting"
	StateConnected    ConnState = "Connected"
	StateReconnecting ConnState = "Reconnecting"
)

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte)

// ConnectionStatus 连接状态快照
type ConnectionStatus struct {
	State       ConnState `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
}

// ErrNotConnected 当前未连接，发布失败（调用方自行决定是否重试）
var ErrNotConnected = fmt.Errorf("mqtt client not connected")

// ErrDisposed 客户端已销毁
var ErrDisposed = fmt.Errorf("mqtt client disposed")

// clientFactory 创建底层 MQTT 客户端（测试时替换为伪实现）
type clientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Client MQTT客户端封装
// 维护唯一逻辑连接：clean session、显式状态机、有上限的指数退避重连。
// 状态转换全部在互斥锁内完成，disposed 标志 + 定时器取消保证
// Disconnect 不会与进行中的重连竞争。
type Client struct {
	cfg     *config.MQTTConfig
	logger  *zap.Logger
	factory clientFactory

	mu         sync.Mutex
	paho       mqtt.Client
	state      ConnState
	attempts   int
	disposed   bool
	retryTimer *time.Timer
	handler    MessageHandler
}

// NewClient 创建MQTT客户端（不建立连接，调用 Connect 启动）
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		factory: func(opts *mqtt.ClientOptions) mqtt.Client {
			return mqtt.NewClient(opts)
		},
		state: StateDisconnected,
	}
}

// OnMessage 注册唯一的下游消费者，必须在 Connect 之前调用
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Connect 建立连接并订阅配置的主题过滤器
// 首次连接失败直接返回错误；连接建立后的断开由重连状态机处理。
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dial(); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}
	return nil
}

// dial 执行一次连接尝试，成功后转入 Connected 并重新订阅
func (c *Client) dial() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	// 客户端ID加随机后缀，避免重连时与残留会话冲突
	opts.SetClientID(fmt.Sprintf("%s-%s", c.cfg.ClientID, uuid.New().String()[:8]))
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	// clean session：断线期间的消息不排队（接受的可用性取舍）
	opts.SetCleanSession(true)
	// 重连由本状态机负责，不使用 paho 内置自动重连
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.onConnectionLost(err)
	})

	cli := c.factory(opts)

	token := cli.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout + time.Second) {
		return fmt.Errorf("mqtt connect timed out")
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		cli.Disconnect(0)
		return ErrDisposed
	}
	c.paho = cli
	c.state = StateConnected
	// 连接成功后重置尝试计数
	c.attempts = 0
	c.mu.Unlock()

	if err := c.subscribe(cli); err != nil {
		c.mu.Lock()
		c.paho = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		cli.Disconnect(0)
		return err
	}

	c.logger.Info("Connected to MQTT broker",
		zap.String("broker", c.cfg.Broker),
		zap.String("topic_filter", c.cfg.TopicFilter()),
	)
	return nil
}

// subscribe 订阅通配符主题过滤器
func (c *Client) subscribe(cli mqtt.Client) error {
	filter := c.cfg.TopicFilter()
	token := cli.Subscribe(filter, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(msg.Topic(), msg.Payload())
		}
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", filter, token.Error())
	}
	return nil
}

// onConnectionLost 连接意外断开的回调（含连接超时，处理方式相同）
func (c *Client) onConnectionLost(err error) {
	c.logger.Warn("MQTT connection lost", zap.Error(err))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		c.state = StateDisconnected
		return
	}
	c.paho = nil
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked 安排下一次重连（调用方持锁）
// 延迟 = min(MaxDelay, BaseDelay * 2^attempt)；超过上限转入终态 Disconnected。
func (c *Client) scheduleReconnectLocked() {
	c.attempts++
	if c.attempts > c.cfg.Reconnect.MaxAttempts {
		c.state = StateDisconnected
		c.logger.Error("Max reconnection attempts reached, ingestion offline",
			zap.Int("max_attempts", c.cfg.Reconnect.MaxAttempts),
		)
		return
	}

	c.state = StateReconnecting
	delay := backoffDelay(c.attempts, c.cfg.Reconnect.BaseDelay, c.cfg.Reconnect.MaxDelay)
	c.logger.Info("Scheduling MQTT reconnect",
		zap.Int("attempt", c.attempts),
		zap.Int("max_attempts", c.cfg.Reconnect.MaxAttempts),
		zap.Duration("delay", delay),
	)
	c.retryTimer = time.AfterFunc(delay, c.retryConnect)
}

// retryConnect 定时器触发的重连尝试
func (c *Client) retryConnect() {
	c.mu.Lock()
	if c.disposed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dial(); err != nil {
		c.logger.Warn("MQTT reconnect attempt failed", zap.Error(err))
		c.mu.Lock()
		if !c.disposed {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
	}
}

// backoffDelay 计算第 attempt 次重连的退避延迟
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// Publish 发布消息，未连接时快速失败
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	cli := c.paho
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || cli == nil {
		return ErrNotConnected
	}

	token := cli.Publish(topic, c.cfg.QoS, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// State 当前连接状态
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status 连接状态快照（供运维接口查询）
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionStatus{
		State:       c.state,
		Attempts:    c.attempts,
		MaxAttempts: c.cfg.Reconnect.MaxAttempts,
	}
}

// Disconnect 断开连接并销毁客户端（幂等）
// 取消已排定的重连定时器，之后不再发生任何连接尝试。
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	cli := c.paho
	c.paho = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cli != nil {
		cli.Disconnect(250) // 250ms等待时间
	}
	c.logger.Info("MQTT client disconnected")
}
