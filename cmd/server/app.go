/*
 * @Description: 应用装配与启动
 * @Author: 安知鱼
 * @Date: 2025-11-10 14:50:00
 * @LastEditTime: 2025-11-12 12:10:10
 * @LastEditors: 安知鱼
 */
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/anzhiyu-c/anheyu-markup/internal/app/middleware"
	"github.com/anzhiyu-c/anheyu-markup/internal/app/task"
	"github.com/anzhiyu-c/anheyu-markup/internal/infra/fetcher"
	"github.com/anzhiyu-c/anheyu-markup/internal/infra/persistence/database"
	"github.com/anzhiyu-c/anheyu-markup/internal/infra/router"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/event"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/version"
	"github.com/anzhiyu-c/anheyu-markup/pkg/config"
	parser_handler "github.com/anzhiyu-c/anheyu-markup/pkg/handler/parser"
	version_handler "github.com/anzhiyu-c/anheyu-markup/pkg/handler/version"
	parser_service "github.com/anzhiyu-c/anheyu-markup/pkg/service/parser"
	"github.com/anzhiyu-c/anheyu-markup/pkg/service/utility"
)

// shutdownTimeout 优雅退出时等待进行中请求的时间
const shutdownTimeout = 10 * time.Second

// App 封装应用的所有核心组件
type App struct {
	cfg        *config.Config
	engine     *gin.Engine
	server     *http.Server
	taskBroker *task.Broker
	watcher    *task.ConfigWatcher
	eventBus   *event.EventBus
	parserSvc  *parser_service.Service
	cacheSvc   utility.CacheService
	redis      *redis.Client
}

func (a *App) PrintBanner() {
	log.Println("--------------------------------------------------------")
	log.Printf(" Anheyu Markup: %s", version.GetVersionString())
	log.Println("--------------------------------------------------------")
}

// NewApp 执行所有的初始化和依赖注入工作
func NewApp(configPath string) (*App, error) {
	// --- Phase 1: 加载外部配置 ---
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	level := slog.LevelInfo
	if cfg.GetBool(config.KeyServerDebug) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// --- Phase 2: 初始化基础设施 ---
	redisClient := database.NewRedisClient(context.Background(), cfg)
	cacheSvc := utility.NewCacheServiceWithFallback(redisClient)
	log.Printf("缓存类型: %s", utility.GetCacheServiceType(cacheSvc))

	httpFetcher := fetcher.New(fetcher.Options{
		Timeout:       cfg.GetDuration(config.KeyFetchTimeout),
		RatePerSecond: float64(cfg.GetInt(config.KeyFetchRate)),
		UserAgent:     cfg.GetString(config.KeyFetchUserAgent),
		MaxBodyBytes:  int64(cfg.GetInt(config.KeyFetchMaxBodyBytes)),
	})
	eventBus := event.NewEventBus(event.DefaultWorkerCount)

	// --- Phase 3: 初始化服务 ---
	medialinkPath := cfg.GetString(config.KeyMedialinkConfig)
	parserSvc, err := parser_service.NewService(context.Background(), parser_service.Options{
		SiteURL:         cfg.GetString(config.KeyParserSiteURL),
		LocalRoutes:     cfg.GetList(config.KeyParserLocalRoutes),
		CutMarker:       cfg.GetString(config.KeyParserCutMarker),
		Budget:          cfg.GetInt(config.KeyParserBudget),
		MaxDepth:        cfg.GetInt(config.KeyParserMaxDepth),
		CacheTTL:        cfg.GetDuration(config.KeyParserCacheTTL),
		PreviewLimit:    cfg.GetInt(config.KeyParserPreviewLimit),
		HighlightStyle:  cfg.GetString(config.KeyParserHighlight),
		DisabledPlugins: cfg.GetList(config.KeyParserDisabled),
		LinkToTitle:     cfg.GetBool(config.KeyParserLinkToTitle),
		LinkToSnippet:   cfg.GetBool(config.KeyParserLinkToSnippet),
		MedialinkConfig: medialinkPath,
		EmojiURL:        cfg.GetString(config.KeyParserEmojiURL),
	}, parser_service.Deps{
		Cache:   cacheSvc,
		Fetcher: httpFetcher,
		Bus:     eventBus,
		Logger:  logger,
	})
	if err != nil {
		eventBus.Shutdown()
		closeRedis(redisClient)
		return nil, fmt.Errorf("初始化解析服务失败: %w", err)
	}

	// --- Phase 4: 后台任务 ---
	taskBroker := task.NewBroker(eventBus, logger, 0)
	if err := taskBroker.RegisterCronJobs(cfg.GetString(config.KeyMedialinkRefresh), medialinkPath); err != nil {
		taskBroker.Stop()
		eventBus.Shutdown()
		closeRedis(redisClient)
		return nil, err
	}
	var watcher *task.ConfigWatcher
	if medialinkPath != "" {
		watcher, err = task.NewConfigWatcher(medialinkPath, eventBus, logger, task.DefaultDebounce)
		if err != nil {
			log.Printf("⚠️  无法监听提供者配置 %s: %v，仅依赖定时刷新", medialinkPath, err)
			watcher = nil
		}
	}

	// --- Phase 5: HTTP ---
	if cfg.GetBool(config.KeyServerDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())
	if err := engine.SetTrustedProxies([]string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}); err != nil {
		log.Printf("⚠️  设置受信任代理失败: %v", err)
	}
	engine.Use(middleware.Cors(cfg.GetList(config.KeyServerAllowOrigins)))

	appRouter := router.NewRouter(
		parser_handler.NewHandler(parserSvc, taskBroker),
		version_handler.NewHandler(),
		router.Options{
			AdminToken: cfg.GetString(config.KeyServerAdminToken),
			RateLimit:  cfg.GetInt(config.KeyServerRateLimit),
		},
	)
	appRouter.Setup(engine)

	return &App{
		cfg:        cfg,
		engine:     engine,
		taskBroker: taskBroker,
		watcher:    watcher,
		eventBus:   eventBus,
		parserSvc:  parserSvc,
		cacheSvc:   cacheSvc,
		redis:      redisClient,
	}, nil
}

func closeRedis(rdb *redis.Client) {
	if rdb != nil {
		log.Println("关闭 Redis 连接...")
		rdb.Close()
	}
}

func (a *App) Config() *config.Config {
	return a.cfg
}

func (a *App) Engine() *gin.Engine {
	return a.engine
}

func (a *App) ParserService() *parser_service.Service {
	return a.parserSvc
}

// Run 启动后台任务并监听端口，ctx 结束后优雅退出
func (a *App) Run(ctx context.Context) error {
	a.taskBroker.Start()
	if a.watcher != nil {
		a.watcher.Start()
	}

	port := a.cfg.GetInt(config.KeyServerPort)
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("应用程序启动成功，正在监听端口: %d", port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("收到退出信号，正在关闭 HTTP 服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

// Stop 按依赖的反序关闭组件
func (a *App) Stop() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.taskBroker != nil {
		a.taskBroker.Stop()
		log.Println("任务调度器已停止。")
	}
	if a.eventBus != nil {
		a.eventBus.Shutdown()
	}
	if stopper, ok := a.cacheSvc.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	closeRedis(a.redis)
}
