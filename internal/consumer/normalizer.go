package consumer

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/01121922383osama/BackendSurvival/internal/models"
)

// DropReason 消息被丢弃的原因（静默跳过，不重试，不向上传播）
type DropReason string

const (
	DropNone             DropReason = ""
	DropShortTopic       DropReason = "topic_too_short"
	DropBadPayload       DropReason = "unparseable_payload"
	DropNoParams         DropReason = "missing_params"
	DropNoRecognizedKeys DropReason = "no_recognized_keys"
)

// recognizedKeys 识别的参数键（固定闭集）
// 不在集合内的厂商固件私有字段在标准化阶段即被丢弃，
// 既限定记录大小，也把下游逻辑与固件差异隔离开。
var recognizedKeys = map[string]struct{}{
	"fallStatus":     {},
	"residentStatus": {},
	"motionStatus":   {},
	"movementSigns":  {},
	"someoneExists":  {},
	"online":         {},
	"heartBeat":      {},
}

// rawPayload 设备上报的 JSON 信封
type rawPayload struct {
	Params map[string]interface{} `json:"params"`
}

// Normalize 将原始 MQTT 消息标准化为遥测记录
// 主题形如 /<namespace>/<deviceId>/...，少于 3 段的主题直接丢弃。
// 参数值保持原始字符串，不做数值转换——不同固件版本对布尔值的编码
// 并不一致（"1"/"0" 或 "?"），解释工作留给分类器。
func Normalize(topic string, payload []byte, receivedAt time.Time) (*models.TelemetryRecord, DropReason) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return nil, DropShortTopic
	}
	deviceID := parts[2]

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, DropBadPayload
	}
	if raw.Params == nil {
		return nil, DropNoParams
	}

	params := make(map[string]string)
	for key, value := range raw.Params {
		if _, ok := recognizedKeys[key]; !ok {
			continue
		}
		params[key] = stringifyParam(value)
	}
	if len(params) == 0 {
		return nil, DropNoRecognizedKeys
	}

	return &models.TelemetryRecord{
		DeviceID:   deviceID,
		Topic:      topic,
		ReceivedAt: receivedAt,
		Params:     params,
	}, DropNone
}

// stringifyParam 将 JSON 值转为原始字符串表示
func stringifyParam(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		// 嵌套结构按 JSON 原样保留
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
