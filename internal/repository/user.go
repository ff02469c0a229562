package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = fmt.Errorf("user not found")

// UserRepository 用户仓库（管道只用到推送令牌查询）
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetDeviceToken 获取用户注册的推送令牌
// 用户不存在或未注册令牌时返回 ErrUserNotFound
func (r *UserRepository) GetDeviceToken(ctx context.Context, userID string) (string, error) {
	query := `SELECT device_token FROM users WHERE id = $1 LIMIT 1`

	var token sql.NullString
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&token)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to query user token: %w", err)
	}

	if !token.Valid || token.String == "" {
		return "", ErrUserNotFound
	}

	return token.String, nil
}
