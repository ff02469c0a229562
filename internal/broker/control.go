package broker

import (
	"encoding/json"
	"fmt"
)

// propertySetEnvelope 设备属性设置指令信封
type propertySetEnvelope struct {
	Version string                 `json:"version"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

// PublishPropertySet 向设备下发属性设置指令
// 主题形如 /<Namespace>/<deviceId>/sys/property/set
func (c *Client) PublishPropertySet(deviceID string, params map[string]interface{}) error {
	topic := fmt.Sprintf("/%s/%s/sys/property/set", c.cfg.Namespace, deviceID)

	payload, err := json.Marshal(propertySetEnvelope{
		Version: "1.0",
		Method:  "set",
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal property set command: %w", err)
	}

	return c.Publish(topic, payload)
}
