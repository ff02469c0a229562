package broadcaster

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/models"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 16
)

// Observer 一个已连接的看板观察者
// 每个连接一个发送队列和一个写协程，保证单连接内事件按广播顺序投递。
type Observer struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 实时广播中心
// 把状态变更事件扇出给当前在线的观察者；不缓存、不重放，
// 晚连接的观察者收不到早前的事件。单个观察者的发送失败只会把
// 它从活跃集合移除，不影响其他观察者。
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	observers map[*Observer]struct{}
}

// NewHub 创建广播中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 看板来源多样，跨域校验由外层网关负责
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		observers: make(map[*Observer]struct{}),
	}
}

// ServeWS 升级 HTTP 连接为 WebSocket 并注册为观察者
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	observer := &Observer{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.observers[observer] = struct{}{}
	count := len(h.observers)
	h.mu.Unlock()

	h.logger.Info("Dashboard observer connected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.Int("observer_count", count),
	)

	go h.writePump(observer)
	go h.readPump(observer)
}

// Broadcast 向所有在线观察者发送事件
// 发送队列已满的慢观察者被视为失效连接，直接移除。
func (h *Hub) Broadcast(event models.BroadcastEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast event",
			zap.String("device_id", event.DeviceID),
			zap.Error(err),
		)
		return
	}

	h.mu.Lock()
	for observer := range h.observers {
		select {
		case observer.send <- data:
		default:
			delete(h.observers, observer)
			close(observer.send)
			h.logger.Warn("Observer send queue full, dropping connection")
		}
	}
	h.mu.Unlock()
}

// ObserverCount 当前在线观察者数量
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close 关闭所有观察者连接
func (h *Hub) Close() {
	h.mu.Lock()
	for observer := range h.observers {
		delete(h.observers, observer)
		close(observer.send)
	}
	h.mu.Unlock()
}

// remove 注销观察者（幂等，close(send) 只发生一次）
func (h *Hub) remove(observer *Observer) {
	h.mu.Lock()
	if _, ok := h.observers[observer]; ok {
		delete(h.observers, observer)
		close(observer.send)
	}
	h.mu.Unlock()
}

// writePump 单连接写协程
func (h *Hub) writePump(observer *Observer) {
	defer observer.conn.Close()

	for data := range observer.send {
		observer.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := observer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("Observer write failed, removing", zap.Error(err))
			h.remove(observer)
			return
		}
	}
}

// readPump 丢弃入站数据，只负责感知连接关闭
func (h *Hub) readPump(observer *Observer) {
	defer func() {
		h.remove(observer)
		observer.conn.Close()
	}()

	observer.conn.SetReadLimit(512)
	for {
		if _, _, err := observer.conn.ReadMessage(); err != nil {
			return
		}
	}
}
