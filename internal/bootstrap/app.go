package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"collaborative-codehub/internal/domain"
	httpHandler "collaborative-codehub/internal/handler/http"
	wsHandler "collaborative-codehub/internal/handler/websocket"
	"collaborative-codehub/internal/hub"
	kafkaevents "collaborative-codehub/internal/infra/events/kafka"
	"collaborative-codehub/internal/infra/judge0"
	gormpersistence "collaborative-codehub/internal/infra/persistence/gorm"
	"collaborative-codehub/internal/infra/setup"
	redisstate "collaborative-codehub/internal/infra/state/redis"
	"collaborative-codehub/internal/middleware"
	"collaborative-codehub/internal/repository"
	"collaborative-codehub/internal/service"
	"collaborative-codehub/internal/tasks"
	"collaborative-codehub/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Scheduler   *asynq.Scheduler
	Hub         *hub.Hub
	HttpServer  *http.Server

	events repository.EventPublisher
}

// NewLogger 按环境和级别创建 App 的 logger，同时设置 logrus 的全局 logger
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		// logrus 还未配置，直接写 stderr
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s, Format: %T)", log.GetLevel().String(), log.Formatter)

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	redisClient, err := setup.InitRedis(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)

	var events repository.EventPublisher = repository.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafkaevents.NewPublisher(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("failed to init Kafka publisher: %w", err)
		}
		events = publisher
		log.WithField("topic", cfg.Kafka.Topic).Info("Kafka event publisher initialized")
	} else {
		log.Info("KAFKA_BROKERS not set, room events are not published")
	}
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	roomStore := redisstate.NewRedisRoomStore(redisClient, cfg.KeyPrefix)

	// 5. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	roomService := service.NewRoomService(roomRepo, roomStore, events)
	authority := service.NewAuthorityManager(roomStore, events)
	dispatcher := service.NewExecutionDispatcher(roomStore, judge0.NewClient(cfg.Judge0), events)
	log.Info("Services initialized")

	// 6. 初始化 Hub：每个连接一个房间会话
	sessionDeps := service.SessionDeps{
		Store:      roomStore,
		Authority:  authority,
		Dispatcher: dispatcher,
		Events:     events,
		Debounce:   cfg.Debounce,
	}
	hubInstance := hub.NewHub(func(ctx context.Context, roomID string, id domain.Identity) *service.RoomSession {
		return service.OpenSession(ctx, sessionDeps, roomID, id)
	}, tasks.NewEnqueuer(asynqClient))

	// 7. 初始化 Handlers
	authHandler := httpHandler.NewAuthHandler(authService)
	roomHandler := httpHandler.NewRoomHandler(roomService)
	runHandler := httpHandler.NewRunHandler(dispatcher)
	wsH := wsHandler.NewWebSocketHandler(hubInstance, cfg.WSAllowedOrigins)

	// 8. 初始化 Worker Server 和周期任务
	workerServer := worker.NewWorkerServer(redisClientOpt, roomService, hubInstance, log)
	scheduler := asynq.NewScheduler(redisClientOpt, &asynq.SchedulerOpts{Logger: log})
	entryID, err := scheduler.Register(tasks.ArchiveSweepSpec, tasks.NewArchiveSweepTask(), asynq.Queue("low"))
	if err != nil {
		return nil, fmt.Errorf("register archive sweep: %w", err)
	}
	log.Infof("Periodic archive sweep registered with schedule '%s' (EntryID: %s)", tasks.ArchiveSweepSpec, entryID)

	// 9. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := NewRouter(cfg, log, redisClient, Routes{
		Auth:      authHandler,
		Room:      roomHandler,
		Run:       runHandler,
		WebSocket: wsH,
		Tokens:    authService,
	})
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Scheduler:   scheduler,
		Hub:         hubInstance,
		HttpServer:  httpServer,
		events:      events,
	}, nil
}

// Routes 是路由需要的 handler 集合
type Routes struct {
	Auth      *httpHandler.AuthHandler
	Room      *httpHandler.RoomHandler
	Run       *httpHandler.RunHandler
	WebSocket *wsHandler.WebSocketHandler
	Tokens    middleware.TokenParser
}

// NewRouter 注册中间件和全部路由
func NewRouter(cfg *Config, log *logrus.Logger, redisClient *redis.Client, r Routes) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	limited := router.Group("", middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := limited.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", r.Auth.Register)
		authRoutes.POST("/login", r.Auth.Login)
		authRoutes.GET("/me", middleware.Auth(r.Tokens, false), r.Auth.Me)
	}
	api.GET("/languages", r.Room.ListLanguages)
	api.POST("/run", r.Run.Run)

	roomRoutes := api.Group("/rooms").Use(middleware.Auth(r.Tokens, false))
	{
		roomRoutes.POST("", r.Room.CreateRoom)
		roomRoutes.GET("/:roomId", r.Room.GetRoom)
	}

	wsRoutes := router.Group("/ws").Use(middleware.Auth(r.Tokens, true))
	{
		wsRoutes.GET("/room/:roomId", r.WebSocket.HandleConnection)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()

	go a.AsynqServer.Start()

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.Scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
		}
	}()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止接收新的 HTTP/WebSocket 请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// 2. 关闭现有连接，会话会冲刷未写入的代码并安排归档
	a.Hub.CloseAll()
	if err := a.Hub.Drain(ctx); err != nil {
		a.Log.WithError(err).Warn("Timed out waiting for room sessions to close")
	}

	// 3. 停止周期任务和 Worker
	a.Scheduler.Shutdown()
	a.AsynqServer.Shutdown()

	if err := a.AsynqClient.Close(); err != nil {
		a.Log.Errorf("Error closing Asynq client: %v", err)
	}
	if closer, ok := a.events.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Log.Errorf("Error closing event publisher: %v", err)
		}
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Log.Errorf("Error closing Redis connection: %v", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware 允许配置的前端来源跨域访问
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		// 不记录查询参数，WebSocket 的 token 可能在其中
		path := c.Request.URL.Path
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
