// Package bootstrap wires configuration, infrastructure and components into
// a runnable application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "collaborative-canvas/internal/handler/http"
	wsHandler "collaborative-canvas/internal/handler/websocket"
	"collaborative-canvas/internal/hub"
	gormpersistence "collaborative-canvas/internal/infra/persistence/gorm"
	"collaborative-canvas/internal/infra/setup"
	"collaborative-canvas/internal/middleware"
	"collaborative-canvas/internal/persistence"
	"collaborative-canvas/internal/room"
	"collaborative-canvas/internal/tasks"
	"collaborative-canvas/internal/worker"
)

// Config holds everything loaded from the environment.
type Config struct {
	ServerPort string
	LogLevel   string
	AppEnv     string
	ClientURL  string
	CORSOrigin string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RateLimitMax    int
	RateLimitWindow time.Duration

	RoomGracePeriod time.Duration
	RoomIdleTimeout time.Duration
	MaxSessions     int
}

// LoadConfig reads configuration from the environment, with a .env file as a
// convenience for local development. Redis and MySQL are both optional; with
// neither, the server runs memory-only.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),
		ClientURL:     os.Getenv("CLIENT_URL"),
		CORSOrigin:    os.Getenv("CORS_ALLOWED_ORIGIN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:     os.Getenv("REDIS_KEY_PREFIX"),
		DBUser:        os.Getenv("MYSQL_USER"),
		DBPassword:    os.Getenv("MYSQL_PASSWORD"),
		DBHost:        os.Getenv("MYSQL_HOST"),
		DBPort:        os.Getenv("MYSQL_PORT"),
		DBName:        os.Getenv("MYSQL_DB"),

		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB"))

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.ClientURL == "" {
		cfg.ClientURL = "http://localhost:3000"
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "http://localhost:3000"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "canvas:"
	}

	cfg.RoomGracePeriod = durationEnv("ROOM_GRACE_PERIOD", 5*time.Minute)
	cfg.RoomIdleTimeout = durationEnv("ROOM_IDLE_TIMEOUT", 24*time.Hour)
	if n, err := strconv.Atoi(os.Getenv("ROOM_MAX_SESSIONS")); err == nil && n > 0 {
		cfg.MaxSessions = n
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		logrus.Warnf("Invalid %s '%s', using default %s", key, v, fallback)
	}
	return fallback
}

// App holds the application's components for Start/Shutdown.
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Registry    *room.Registry
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
}

// NewApp loads configuration and wires every component together.
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Info("Configuration loaded")

	app := &App{Config: cfg, Log: log}

	// Durable persistence needs both MySQL (the store) and Redis (the task
	// queue in front of it). With either missing, the server runs
	// memory-only on the Noop adapter; room logic never knows the
	// difference.
	var store persistence.Adapter = persistence.NewNoop()
	durable := cfg.DBUser != "" && cfg.RedisAddr != ""
	if durable {
		db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
		log.Info("Database initialized and migrated")

		app.DB = db
		app.redisClientOpt = asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		app.AsynqClient = asynq.NewClient(app.redisClientOpt)

		gormAdapter := gormpersistence.NewAdapter(db)
		store = persistence.NewAsync(app.AsynqClient, gormAdapter, log)
		app.AsynqServer = worker.NewWorkerServer(app.redisClientOpt, gormAdapter, log)
		log.Info("Durable persistence enabled (MySQL via asynq)")
	} else {
		log.Info("Running memory-only, no durable persistence configured")
	}

	if cfg.RedisAddr != "" {
		redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
		app.RedisClient = redisClient
		log.Info("Redis client initialized")
	}

	registryCfg := room.DefaultRegistryConfig()
	registryCfg.GracePeriod = cfg.RoomGracePeriod
	registryCfg.IdleTimeout = cfg.RoomIdleTimeout
	if cfg.MaxSessions > 0 {
		registryCfg.DefaultSettings.MaxSessions = cfg.MaxSessions
	}
	app.Registry = room.NewRegistry(registryCfg, store, log)
	app.Hub = hub.NewHub(app.Registry, cfg.ClientURL, log)

	wsH := wsHandler.NewHandler(app.Hub, log)
	statsH := httpHandler.NewStatsHandler(app.Registry, app.Hub)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(corsMiddleware(cfg.CORSOrigin))
	if app.RedisClient != nil {
		router.Use(middleware.RateLimit(app.RedisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	}

	router.GET("/ws", wsH.HandleConnection)
	router.GET("/healthz", statsH.Health)
	router.GET("/api/rooms", statsH.ListRooms)

	app.HttpServer = &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	log.Info("Application assembled")
	return app, nil
}

// Start launches the background loops and the HTTP server.
func (a *App) Start() {
	go a.Registry.Run()
	go a.Hub.Run()

	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.registerPeriodicTasks()
	}

	go func() {
		a.Log.Infof("HTTP server listening on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
}

// registerPeriodicTasks schedules the hourly sweep of stale persisted rooms.
func (a *App) registerPeriodicTasks() {
	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	task, err := tasks.NewRoomSweepTask(a.Config.RoomIdleTimeout)
	if err != nil {
		a.Log.Errorf("Failed to build room sweep task: %v", err)
		return
	}
	schedule := "@every 1h"
	entryID, err := a.scheduler.Register(schedule, task, asynq.Queue(tasks.QueueLow))
	if err != nil {
		a.Log.Errorf("Could not register periodic room sweep task: %v", err)
	} else {
		a.Log.Infof("Periodic room sweep registered with schedule '%s' (EntryID: %s)", schedule, entryID)
	}

	go func() {
		if err := a.scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Asynq scheduler stopped with error: %v", err)
		}
	}()
}

// Shutdown stops the components in dependency order: stop accepting work,
// drain the rooms, then close the infrastructure clients.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	a.Hub.Stop()
	a.Registry.Stop()

	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware logs each HTTP request with latency and status.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
		} else if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request handled")
		}
	}
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
