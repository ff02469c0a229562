package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/models"
)

// ErrDeviceNotFound 设备不存在
var ErrDeviceNotFound = fmt.Errorf("device not found")

// DeviceRepository 设备仓库
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// GetDeviceBySerialNumber 根据序列号获取设备
func (r *DeviceRepository) GetDeviceBySerialNumber(ctx context.Context, serialNumber string) (*models.DeviceState, error) {
	query := `
		SELECT
			serial_number,
			name,
			location,
			is_connected,
			has_alert,
			alert_message,
			is_fall,
			notifications_enabled,
			last_status,
			last_updated,
			registration_date,
			owners
		FROM devices
		WHERE serial_number = $1
		LIMIT 1
	`

	device := &models.DeviceState{}
	var alertMessage sql.NullString
	var lastStatus sql.NullString
	var rawOwners []byte

	err := r.db.QueryRowContext(ctx, query, serialNumber).Scan(
		&device.SerialNumber,
		&device.Name,
		&device.Location,
		&device.IsConnected,
		&device.HasAlert,
		&alertMessage,
		&device.IsFall,
		&device.NotificationsEnabled,
		&lastStatus,
		&device.LastUpdated,
		&device.RegistrationDate,
		&rawOwners,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	if alertMessage.Valid {
		device.AlertMessage = &alertMessage.String
	}
	if lastStatus.Valid {
		device.LastStatus = models.StatusColor(lastStatus.String)
	}

	// owners 字段历史上存在多种编码（JSON 数组或被二次序列化的字符串），
	// 在仓库边界统一解码，管道内部永远只看到 []string
	device.Owners = r.scanOwners(serialNumber, rawOwners)

	return device, nil
}

// CreateDefaultDevice 创建默认设备记录（首次收到未注册设备的遥测时自动注册）
func (r *DeviceRepository) CreateDefaultDevice(ctx context.Context, serialNumber string) (*models.DeviceState, error) {
	now := time.Now()
	device := &models.DeviceState{
		SerialNumber:         serialNumber,
		Name:                 fmt.Sprintf("Device %s", serialNumber),
		Location:             "Unknown",
		IsConnected:          true,
		HasAlert:             false,
		IsFall:               false,
		NotificationsEnabled: true,
		LastUpdated:          now,
		RegistrationDate:     now,
		Owners:               []string{},
	}

	query := `
		INSERT INTO devices (
			serial_number, name, location, is_connected, has_alert,
			alert_message, is_fall, notifications_enabled,
			last_updated, registration_date, owners
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	ownersJSON, err := json.Marshal(device.Owners)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal owners: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		device.SerialNumber,
		device.Name,
		device.Location,
		device.IsConnected,
		device.HasAlert,
		nil,
		device.IsFall,
		device.NotificationsEnabled,
		device.LastUpdated,
		device.RegistrationDate,
		ownersJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	r.logger.Info("Created new device",
		zap.String("serial_number", serialNumber),
	)

	return device, nil
}

// UpdateDeviceStatus 根据遥测更新设备状态
func (r *DeviceRepository) UpdateDeviceStatus(ctx context.Context, serialNumber string, update models.DeviceStateUpdate) error {
	query := `
		UPDATE devices SET
			is_connected = $1,
			has_alert = $2,
			alert_message = $3,
			is_fall = $4,
			last_status = $5,
			last_updated = $6
		WHERE serial_number = $7
	`

	var alertMessage sql.NullString
	if update.AlertMessage != nil {
		alertMessage = sql.NullString{String: *update.AlertMessage, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		update.IsConnected,
		update.HasAlert,
		alertMessage,
		update.IsFall,
		string(update.LastStatus),
		update.LastUpdated,
		serialNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// scanOwners 防御性解码 owners 列
// 解码失败时降级为空集合（记录警告），不让格式问题中断管道
func (r *DeviceRepository) scanOwners(serialNumber string, raw []byte) []string {
	if len(raw) == 0 {
		return []string{}
	}

	var owners []string
	if err := json.Unmarshal(raw, &owners); err == nil {
		return owners
	}

	// 历史数据中 owners 可能被二次序列化为 JSON 字符串
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &owners); err == nil {
			return owners
		}
	}

	r.logger.Warn("Failed to decode device owners, falling back to empty set",
		zap.String("serial_number", serialNumber),
		zap.ByteString("raw_owners", raw),
	)
	return []string{}
}
