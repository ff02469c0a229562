package models

import "time"

// StatusColor 设备状态颜色（用于存储和 UI 展示）
type StatusColor string

const (
	StatusRed    StatusColor = "Red"    // 检测到跌倒
	StatusYellow StatusColor = "Yellow" // 住户报警
	StatusGreen  StatusColor = "Green"  // 检测到移动/存在信号
	StatusBlue   StatusColor = "Blue"   // 仅有连接/心跳信号
	StatusGrey   StatusColor = "Grey"   // 无可用信号
)

// IsAlert 判断是否为报警状态（Red 或 Yellow）
func (c StatusColor) IsAlert() bool {
	return c == StatusRed || c == StatusYellow
}

// TelemetryRecord 标准化后的遥测记录（每条 MQTT 消息生成一条，不可变）
type TelemetryRecord struct {
	DeviceID   string            `json:"device_id"`
	Topic      string            `json:"topic"`
	ReceivedAt time.Time         `json:"received_at"`
	Params     map[string]string `json:"params"`
}

// DeviceState 设备持久化状态（以 serial_number 为键）
type DeviceState struct {
	SerialNumber         string      `json:"serialNumber"`
	Name                 string      `json:"name"`
	Location             string      `json:"location"`
	IsConnected          bool        `json:"isConnected"`
	HasAlert             bool        `json:"hasAlert"`
	AlertMessage         *string     `json:"alertMessage"`
	IsFall               bool        `json:"isFall"`
	NotificationsEnabled bool        `json:"notificationsEnabled"`
	LastStatus           StatusColor `json:"lastStatus"`
	LastUpdated          time.Time   `json:"lastUpdated"`
	RegistrationDate     time.Time   `json:"registrationDate"`
	Owners               []string    `json:"owners"`
}

// DeviceStateUpdate 遥测驱动的设备状态更新（只更新管道关心的字段）
type DeviceStateUpdate struct {
	IsConnected  bool
	HasAlert     bool
	AlertMessage *string
	IsFall       bool
	LastStatus   StatusColor
	LastUpdated  time.Time
}

// NotificationEvent 推送通知事件（每个 owner × 报警类型 一条，不持久化）
type NotificationEvent struct {
	OwnerID  string `json:"ownerId"`
	DeviceID string `json:"deviceId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// BroadcastEvent 实时广播事件（发送给当前在线的观察者，不缓存不重放）
type BroadcastEvent struct {
	Type      string                 `json:"type"`
	DeviceID  string                 `json:"deviceId"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}
