package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker         string // 如 "tcp://localhost:1883"
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// 重连策略：延迟 = min(MaxDelay, BaseDelay * 2^attempt)
	Reconnect struct {
		BaseDelay   time.Duration
		MaxDelay    time.Duration
		MaxAttempts int
	}

	// 主题命名空间：订阅 /<Namespace>/#，设备主题形如 /<Namespace>/<deviceId>/...
	Namespace string
}

// TopicFilter 返回订阅用的通配符主题过滤器
func (c *MQTTConfig) TopicFilter() string {
	return fmt.Sprintf("/%s/#", c.Namespace)
}

// PushConfig 推送通知配置（FCM HTTP v1）
type PushConfig struct {
	Enabled      bool
	Endpoint     string // FCM API 基础地址
	ProjectID    string
	ServiceToken string // OAuth2 访问令牌（由外部凭据管理注入）
}

// Config 遥测接入服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Push     PushConfig

	// 实时广播配置
	WebSocket struct {
		ListenAddr string // 如 ":8090"
		Path       string // 如 "/ws"
	}

	// Redis 缓存/流配置
	Cache struct {
		TelemetryStream string // 遥测流名称
		StateKeyPrefix  string // 设备状态缓存键前缀
		StateTTL        int    // 秒
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量优先，全部有默认值，可零配置连接开发环境）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "backend_survival")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "radar-ingest")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.KeepAlive = getEnvDuration("MQTT_KEEPALIVE", 30*time.Second)
	cfg.MQTT.ConnectTimeout = getEnvDuration("MQTT_CONNECT_TIMEOUT", 30*time.Second)
	cfg.MQTT.Reconnect.BaseDelay = getEnvDuration("MQTT_RECONNECT_BASE_DELAY", 1*time.Second)
	cfg.MQTT.Reconnect.MaxDelay = getEnvDuration("MQTT_RECONNECT_MAX_DELAY", 60*time.Second)
	cfg.MQTT.Reconnect.MaxAttempts = getEnvInt("MQTT_RECONNECT_MAX_ATTEMPTS", 5)
	cfg.MQTT.Namespace = getEnv("MQTT_NAMESPACE", "Radar60FL")

	cfg.Push.Enabled = getEnvBool("PUSH_ENABLED", true)
	cfg.Push.Endpoint = getEnv("PUSH_ENDPOINT", "https://fcm.googleapis.com")
	cfg.Push.ProjectID = getEnv("PUSH_PROJECT_ID", "")
	cfg.Push.ServiceToken = getEnv("PUSH_SERVICE_TOKEN", "")

	cfg.WebSocket.ListenAddr = getEnv("WS_LISTEN_ADDR", ":8090")
	cfg.WebSocket.Path = getEnv("WS_PATH", "/ws")

	cfg.Cache.TelemetryStream = getEnv("CACHE_TELEMETRY_STREAM", "telemetry:data:stream")
	cfg.Cache.StateKeyPrefix = getEnv("CACHE_STATE_KEY_PREFIX", "device:state:")
	cfg.Cache.StateTTL = getEnvInt("CACHE_STATE_TTL", 300)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
