package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/config"
)

// ============================================
// 伪 MQTT 客户端（共享 fakeBroker 状态，工厂每次拨号新建实例）
// ============================================

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type publishedMessage struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	mu                sync.Mutex
	connectCalls      int
	failConnect       bool
	published         []publishedMessage
	subscribed        []string
	subscribeCallback mqtt.MessageHandler
	lastOpts          *mqtt.ClientOptions
}

// deliver 模拟 broker 投递一条入站消息
func (b *fakeBroker) deliver(cli mqtt.Client, topic string, payload []byte) {
	b.mu.Lock()
	callback := b.subscribeCallback
	b.mu.Unlock()
	callback(cli, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func (b *fakeBroker) connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectCalls
}

func (b *fakeBroker) setFailConnect(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failConnect = fail
}

// dropConnection 模拟 broker 端断开，触发已注册的 ConnectionLostHandler
func (b *fakeBroker) dropConnection(cli mqtt.Client) {
	b.mu.Lock()
	handler := b.lastOpts.OnConnectionLost
	b.mu.Unlock()
	handler(cli, errors.New("connection reset by peer"))
}

type fakeClient struct {
	broker    *fakeBroker
	connected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.connectCalls++
	if c.broker.failConnect {
		return &fakeToken{err: errors.New("connection refused")}
	}
	c.connected = true
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) { c.connected = false }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.published = append(c.broker.published, publishedMessage{
		topic:   topic,
		payload: payload.([]byte),
	})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.subscribed = append(c.broker.subscribed, topic)
	c.broker.subscribeCallback = callback
	return &fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token      { return &fakeToken{} }
func (c *fakeClient) AddRoute(topic string, h mqtt.MessageHandler) {}
func (c *fakeClient) IsConnected() bool                            { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool                       { return c.connected }
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader      { return mqtt.ClientOptionsReader{} }

func newTestClient(t *testing.T, maxAttempts int) (*Client, *fakeBroker) {
	cfg := &config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "test-client",
		QoS:            1,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: time.Second,
		Namespace:      "Radar60FL",
	}
	cfg.Reconnect.BaseDelay = time.Millisecond
	cfg.Reconnect.MaxDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxAttempts = maxAttempts

	fb := &fakeBroker{}
	c := NewClient(cfg, zap.NewNop())
	c.factory = func(opts *mqtt.ClientOptions) mqtt.Client {
		fb.mu.Lock()
		fb.lastOpts = opts
		fb.mu.Unlock()
		return &fakeClient{broker: fb}
	}
	return c, fb
}

// ============================================
// 状态机测试
// ============================================

func TestConnect_Success(t *testing.T) {
	c, fb := newTestClient(t, 5)

	err := c.Connect()
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, fb.connects())
	assert.Equal(t, []string{"/Radar60FL/#"}, fb.subscribed)
}

func TestConnect_InitialFailure(t *testing.T) {
	c, fb := newTestClient(t, 5)
	fb.setFailConnect(true)

	err := c.Connect()
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestReconnect_AfterConnectionLost(t *testing.T) {
	c, fb := newTestClient(t, 5)
	require.NoError(t, c.Connect())

	fb.dropConnection(&fakeClient{broker: fb})

	// 重连成功后状态恢复 Connected，尝试计数清零
	require.Eventually(t, func() bool {
		return c.State() == StateConnected && fb.connects() == 2
	}, time.Second, time.Millisecond)

	status := c.Status()
	assert.Equal(t, 0, status.Attempts)
}

func TestReconnect_MaxAttemptsReachedIsTerminal(t *testing.T) {
	c, fb := newTestClient(t, 3)
	require.NoError(t, c.Connect())

	fb.setFailConnect(true)
	fb.dropConnection(&fakeClient{broker: fb})

	// 3 次重试全部失败后进入终态 Disconnected
	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, time.Second, time.Millisecond)

	// 初始连接 1 次 + 重试 3 次
	assert.Equal(t, 4, fb.connects())

	// 终态后不再有新的连接尝试
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, fb.connects())
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	c, fb := newTestClient(t, 5)
	// 让挂起的重连定时器远在未来
	c.cfg.Reconnect.BaseDelay = time.Hour
	c.cfg.Reconnect.MaxDelay = time.Hour

	require.NoError(t, c.Connect())
	fb.dropConnection(&fakeClient{broker: fb})
	assert.Equal(t, StateReconnecting, c.State())

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())

	// 定时器已取消，不会再有连接尝试
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fb.connects())

	// Disconnect 幂等
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnect_AfterDisposeReturnsError(t *testing.T) {
	c, _ := newTestClient(t, 5)
	c.Disconnect()

	err := c.Connect()
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestPublish_FailsFastWhenNotConnected(t *testing.T) {
	c, _ := newTestClient(t, 5)

	err := c.Publish("/Radar60FL/ABC123/sys/property/set", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublish_WhenConnected(t *testing.T) {
	c, fb := newTestClient(t, 5)
	require.NoError(t, c.Connect())

	err := c.Publish("/Radar60FL/ABC123/custom", []byte(`{"k":"v"}`))
	require.NoError(t, err)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.published, 1)
	assert.Equal(t, "/Radar60FL/ABC123/custom", fb.published[0].topic)
}

func TestPublishPropertySet_Envelope(t *testing.T) {
	c, fb := newTestClient(t, 5)
	require.NoError(t, c.Connect())

	err := c.PublishPropertySet("ABC123", map[string]interface{}{"ledEnabled": 1})
	require.NoError(t, err)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.published, 1)
	assert.Equal(t, "/Radar60FL/ABC123/sys/property/set", fb.published[0].topic)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(fb.published[0].payload, &envelope))
	assert.Equal(t, "1.0", envelope["version"])
	assert.Equal(t, "set", envelope["method"])
}

func TestOnMessage_DispatchesToHandler(t *testing.T) {
	c, fb := newTestClient(t, 5)

	var gotTopic string
	var gotPayload []byte
	c.OnMessage(func(topic string, payload []byte) {
		gotTopic = topic
		gotPayload = payload
	})
	require.NoError(t, c.Connect())

	// 通过订阅回调模拟一条入站消息
	fb.deliver(&fakeClient{broker: fb}, "/Radar60FL/ABC123/telemetry", []byte(`{"params":{"online":"1"}}`))

	assert.Equal(t, "/Radar60FL/ABC123/telemetry", gotTopic)
	assert.Equal(t, []byte(`{"params":{"online":"1"}}`), gotPayload)
}

// ============================================
// 退避延迟测试
// ============================================

func TestBackoffDelay_MonotonicUpToCap(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(attempt, base, max)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing")
		assert.LessOrEqual(t, d, max, "delay must not exceed cap")
		prev = d
	}

	assert.Equal(t, 2*time.Second, backoffDelay(1, base, max))
	assert.Equal(t, 4*time.Second, backoffDelay(2, base, max))
	assert.Equal(t, 60*time.Second, backoffDelay(6, base, max))
	assert.Equal(t, max, backoffDelay(100, base, max))
}
