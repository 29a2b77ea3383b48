package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"fieldvisit/common/database"
	mqttcommon "fieldvisit/common/mqtt"
	rediscommon "fieldvisit/common/redis"
	"fieldvisit/internal/config"
	httpapi "fieldvisit/internal/http"
	"fieldvisit/internal/notify"
	"fieldvisit/internal/repository"
	"fieldvisit/internal/service"
	"fieldvisit/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Repositories 数据访问层
type Repositories struct {
	Hierarchy  repository.HierarchyRepository
	Actors     repository.ActorsRepository
	Schedules  repository.SchedulesRepository
	RoutePlans repository.RoutePlansRepository
	Archive    repository.ArchiveRepository
}

// App 组装好的服务（HTTP API、调度进程、命令行共用）
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB          *sql.DB
	RedisClient *redis.Client
	Repos       Repositories

	Hierarchy  *service.HierarchyService
	Schedules  *service.ScheduleService
	Visits     *service.VisitService
	RoutePlans *service.RoutePlanService
	Reports    *service.ReportService

	mqttClient *mqttcommon.Client
}

// New 按配置组装依赖
// DB 未启用或连接失败时使用内存仓库（本地联测）；Redis 不可用时报表不缓存
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	if cfg.DBEnabled {
		if db, err := database.NewPostgresDB(&cfg.Database); err == nil {
			app.DB = db
			logger.Info("DB enabled for fieldvisit")
		} else {
			logger.Warn("DB enabled but connection failed, falling back to memory repositories", zap.Error(err))
		}
	}
	if app.DB != nil {
		app.Repos = Repositories{
			Hierarchy:  repository.NewPostgresHierarchyRepository(app.DB),
			Actors:     repository.NewPostgresActorsRepository(app.DB),
			Schedules:  repository.NewPostgresSchedulesRepository(app.DB),
			RoutePlans: repository.NewPostgresRoutePlansRepository(app.DB),
			Archive:    repository.NewPostgresArchiveRepository(app.DB),
		}
	} else {
		app.Repos = Repositories{
			Hierarchy:  repository.NewMemoryHierarchyRepo(),
			Actors:     repository.NewMemoryActorsRepo(),
			Schedules:  repository.NewMemorySchedulesRepo(),
			RoutePlans: repository.NewMemoryRoutePlansRepo(),
			Archive:    repository.NewMemoryArchiveRepo(),
		}
	}

	var kv store.KV
	if redisClient, err := rediscommon.Connect(ctx, &cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, report cache disabled", zap.Error(err))
	} else {
		app.RedisClient = redisClient
		kv = store.NewRedisKV(redisClient)
	}

	sink, err := app.newSink()
	if err != nil {
		app.Close()
		return nil, err
	}

	loc := cfg.Location()
	app.Hierarchy = service.NewHierarchyService(app.Repos.Hierarchy, logger)
	app.Schedules = service.NewScheduleService(
		app.Repos.Schedules,
		app.Repos.Actors,
		app.Repos.Hierarchy,
		app.Hierarchy,
		service.ScheduleOptions{
			VisitPositions: cfg.Schedule.VisitPositions,
			MaxRetries:     cfg.Schedule.MaxRetries,
			Location:       loc,
		},
		logger,
	)
	app.Visits = service.NewVisitService(app.Schedules, app.Repos.Archive, logger)
	app.RoutePlans = service.NewRoutePlanService(
		app.Repos.RoutePlans,
		app.Repos.Actors,
		app.Schedules,
		app.Repos.Archive,
		sink,
		logger,
	)
	app.Reports = service.NewReportService(app.Repos.Schedules, app.RoutePlans, kv, service.ReportOptions{
		PageSize: cfg.Report.PageSize,
		CacheTTL: cfg.Report.CacheTTL,
		Location: loc,
	}, logger)
	app.Schedules.AddListener(app.Reports)
	app.Visits.AddListener(app.Reports)

	return app, nil
}

// newSink 选择通知出口
func (a *App) newSink() (notify.Sink, error) {
	cfg := a.Config.Notify
	switch cfg.Sink {
	case "", "log":
		return notify.NewLogSink(a.Logger), nil
	case "redis":
		if a.RedisClient == nil {
			a.Logger.Warn("Redis notification sink requested but Redis is unavailable, using log sink")
			return notify.NewLogSink(a.Logger), nil
		}
		return notify.NewRedisStreamSink(a.RedisClient, cfg.Stream), nil
	case "mqtt":
		client, err := mqttcommon.NewClient(&a.Config.MQTT, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		a.mqttClient = client
		return notify.NewMQTTSink(client, cfg.MQTTTopic), nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required for webhook notification sink")
		}
		return notify.NewWebhookSink(cfg.WebhookURL, cfg.WebhookAuth, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported notification sink: %s", cfg.Sink)
	}
}

// Router 注册全部 HTTP 路由
func (a *App) Router() *httpapi.Router {
	router := httpapi.NewRouter(a.Logger)
	router.RegisterHealthRoutes()
	router.RegisterHierarchyRoutes(httpapi.NewHierarchyHandler(a.Hierarchy, a.Logger))
	router.RegisterScheduleRoutes(httpapi.NewScheduleHandler(a.Schedules, a.Visits, a.Logger))
	router.RegisterRoutePlanRoutes(httpapi.NewRoutePlanHandler(a.RoutePlans, a.Logger))
	router.RegisterReportRoutes(httpapi.NewReportHandler(a.Reports, a.Logger))
	return router
}

// Close 释放连接
func (a *App) Close() {
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.RedisClient != nil {
		_ = a.RedisClient.Close()
	}
	if a.DB != nil {
		_ = database.Close(a.DB)
	}
}
