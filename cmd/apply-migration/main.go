package main

import (
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/01121922383osama/BackendSurvival/internal/config"
	"github.com/01121922383osama/BackendSurvival/internal/database"
)

// 接入管道所需的最小表结构
// users/devices 的完整管理由 CRUD 层负责，这里只建管道读写的列。
const schema = `
CREATE TABLE IF NOT EXISTS devices (
    serial_number         TEXT PRIMARY KEY,
    name                  TEXT NOT NULL DEFAULT '',
    location              TEXT NOT NULL DEFAULT 'Unknown',
    is_connected          BOOLEAN NOT NULL DEFAULT FALSE,
    has_alert             BOOLEAN NOT NULL DEFAULT FALSE,
    alert_message         TEXT,
    is_fall               BOOLEAN NOT NULL DEFAULT FALSE,
    notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    last_status           TEXT,
    last_updated          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    registration_date     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    owners                JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS logs (
    id           UUID PRIMARY KEY,
    device_id    TEXT NOT NULL,
    timestamp    TIMESTAMPTZ NOT NULL,
    params       JSONB NOT NULL,
    topic        TEXT NOT NULL,
    status_color TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_logs_device_timestamp ON logs (device_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS users (
    id           TEXT PRIMARY KEY,
    device_token TEXT
);
`

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 执行 SQL
	if _, err := db.Exec(schema); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute schema: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ ingestion tables created successfully!")
}
