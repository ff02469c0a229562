package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ValidMessage(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"params":{"fallStatus":"1","motionStatus":"0"}}`)

	record, drop := Normalize("/Radar60FL/ABC123/telemetry", payload, now)

	require.Equal(t, DropNone, drop)
	require.NotNil(t, record)
	assert.Equal(t, "ABC123", record.DeviceID)
	assert.Equal(t, "/Radar60FL/ABC123/telemetry", record.Topic)
	assert.Equal(t, now, record.ReceivedAt)
	assert.Equal(t, map[string]string{"fallStatus": "1", "motionStatus": "0"}, record.Params)
}

func TestNormalize_DropShortTopic(t *testing.T) {
	// "/Radar60FL" 只有 2 段
	record, drop := Normalize("/Radar60FL", []byte(`{"params":{"online":"1"}}`), time.Now())

	assert.Equal(t, DropShortTopic, drop)
	assert.Nil(t, record)
}

func TestNormalize_DropBadPayload(t *testing.T) {
	record, drop := Normalize("/Radar60FL/ABC123/telemetry", []byte(`{not json`), time.Now())

	assert.Equal(t, DropBadPayload, drop)
	assert.Nil(t, record)
}

func TestNormalize_DropMissingParams(t *testing.T) {
	record, drop := Normalize("/Radar60FL/ABC123/telemetry", []byte(`{"version":"1.0"}`), time.Now())

	assert.Equal(t, DropNoParams, drop)
	assert.Nil(t, record)
}

func TestNormalize_DropNoRecognizedKeys(t *testing.T) {
	// 识别键交集为空时永远是 Drop，绝不产出部分记录
	payload := []byte(`{"params":{"vendorField":"x","firmwareRev":"2.1"}}`)

	record, drop := Normalize("/Radar60FL/ABC123/telemetry", payload, time.Now())

	assert.Equal(t, DropNoRecognizedKeys, drop)
	assert.Nil(t, record)
}

func TestNormalize_FiltersUnknownKeys(t *testing.T) {
	payload := []byte(`{"params":{"online":"1","vendorField":"x","rssi":"-60"}}`)

	record, drop := Normalize("/Radar60FL/ABC123/telemetry", payload, time.Now())

	require.Equal(t, DropNone, drop)
	assert.Equal(t, map[string]string{"online": "1"}, record.Params)
}

func TestNormalize_StringifiesNonStringValues(t *testing.T) {
	// 部分固件把数值编码为 JSON number 而非字符串
	payload := []byte(`{"params":{"motionStatus":1,"heartBeat":0,"online":true}}`)

	record, drop := Normalize("/Radar60FL/ABC123/telemetry", payload, time.Now())

	require.Equal(t, DropNone, drop)
	assert.Equal(t, "1", record.Params["motionStatus"])
	assert.Equal(t, "0", record.Params["heartBeat"])
	assert.Equal(t, "true", record.Params["online"])
}

func TestNormalize_EmptyParamsObject(t *testing.T) {
	record, drop := Normalize("/Radar60FL/ABC123/telemetry", []byte(`{"params":{}}`), time.Now())

	assert.Equal(t, DropNoRecognizedKeys, drop)
	assert.Nil(t, record)
}
