package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/models"
)

// TelemetryLogRepository 遥测日志仓库（只追加的持久化历史）
type TelemetryLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTelemetryLogRepository 创建遥测日志仓库
func NewTelemetryLogRepository(db *sql.DB, logger *zap.Logger) *TelemetryLogRepository {
	return &TelemetryLogRepository{
		db:     db,
		logger: logger,
	}
}

// CreateLog 追加一条遥测日志
func (r *TelemetryLogRepository) CreateLog(
	ctx context.Context,
	deviceID string,
	timestamp time.Time,
	params map[string]string,
	topic string,
	statusColor models.StatusColor,
) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}

	logID := uuid.New().String()

	query := `
		INSERT INTO logs (id, device_id, timestamp, params, topic, status_color)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		logID,
		deviceID,
		timestamp,
		paramsJSON,
		topic,
		string(statusColor),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert log: %w", err)
	}

	return logID, nil
}
