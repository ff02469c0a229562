package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/broadcaster"
	"github.com/01121922383osama/BackendSurvival/internal/broker"
	"github.com/01121922383osama/BackendSurvival/internal/cache"
	"github.com/01121922383osama/BackendSurvival/internal/config"
	"github.com/01121922383osama/BackendSurvival/internal/consumer"
	"github.com/01121922383osama/BackendSurvival/internal/database"
	"github.com/01121922383osama/BackendSurvival/internal/notifier"
	"github.com/01121922383osama/BackendSurvival/internal/repository"
)

// IngestService 遥测接入服务
// 组合根：独占持有 broker 连接、数据库、Redis 和广播中心，
// 不使用任何模块级单例。启动前先确认下游存储可达。
type IngestService struct {
	config       *config.Config
	logger       *zap.Logger
	db           *sql.DB
	redis        *redis.Client
	brokerClient *broker.Client
	hub          *broadcaster.Hub
	coordinator  *consumer.Coordinator
	wsServer     *http.Server
}

// NewIngestService 创建遥测接入服务
func NewIngestService(cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := cache.NewRedisClient(&cfg.Redis)
	if err := cache.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 创建Repository
	deviceRepo := repository.NewDeviceRepository(db, logger)
	logRepo := repository.NewTelemetryLogRepository(db, logger)
	userRepo := repository.NewUserRepository(db, logger)

	// 创建报警通知器
	fcmClient := notifier.NewFCMClient(&cfg.Push, logger)
	alertNotifier := notifier.NewNotifier(userRepo, fcmClient, logger)

	// 创建广播中心与缓存
	hub := broadcaster.NewHub(logger)
	telemetryCache := cache.NewCache(cfg, redisClient, logger)

	// 创建协调器与 broker 客户端
	coordinator := consumer.NewCoordinator(deviceRepo, logRepo, alertNotifier, hub, telemetryCache, logger)
	brokerClient := broker.NewClient(&cfg.MQTT, logger)
	brokerClient.OnMessage(coordinator.Handle)

	// WebSocket 服务
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebSocket.Path, hub.ServeWS)
	wsServer := &http.Server{
		Addr:    cfg.WebSocket.ListenAddr,
		Handler: mux,
	}

	return &IngestService{
		config:       cfg,
		logger:       logger,
		db:           db,
		redis:        redisClient,
		brokerClient: brokerClient,
		hub:          hub,
		coordinator:  coordinator,
		wsServer:     wsServer,
	}, nil
}

// Start 启动服务
func (s *IngestService) Start(ctx context.Context) error {
	s.logger.Info("Starting ingest service components")

	// 启动 WebSocket 服务
	go func() {
		s.logger.Info("WebSocket server listening",
			zap.String("addr", s.config.WebSocket.ListenAddr),
			zap.String("path", s.config.WebSocket.Path),
		)
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server error", zap.Error(err))
		}
	}()

	// 连接 MQTT broker 并订阅
	if err := s.brokerClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	s.logger.Info("Ingest service started successfully")
	return nil
}

// Stop 停止服务
func (s *IngestService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ingest service")

	// 断开MQTT（取消所有挂起的重连）
	if s.brokerClient != nil {
		s.brokerClient.Disconnect()
	}

	// 关闭 WebSocket 服务与观察者连接
	if s.wsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.wsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down WebSocket server", zap.Error(err))
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}

	// 关闭Redis
	if s.redis != nil {
		if err := cache.Close(s.redis); err != nil {
			s.logger.Error("Error closing redis", zap.Error(err))
		}
	}

	// 关闭数据库
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database", zap.Error(err))
		}
	}

	s.logger.Info("Ingest service stopped")
	return nil
}

// BrokerStatus 当前 broker 连接状态（供运维查询）
func (s *IngestService) BrokerStatus() broker.ConnectionStatus {
	return s.brokerClient.Status()
}

// PublishPropertySet 向设备下发属性设置指令
func (s *IngestService) PublishPropertySet(deviceID string, params map[string]interface{}) error {
	return s.brokerClient.PublishPropertySet(deviceID, params)
}
