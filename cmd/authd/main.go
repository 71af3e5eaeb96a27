package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"AssetTrackPlatform/internal/events"
	"AssetTrackPlatform/internal/handler"
	"AssetTrackPlatform/internal/middleware"
	"AssetTrackPlatform/internal/pkg/jwt"
	"AssetTrackPlatform/internal/pkg/secretcrypt"
	"AssetTrackPlatform/internal/pkg/totp"
	"AssetTrackPlatform/internal/repository/postgres"
	"AssetTrackPlatform/internal/service"
	"AssetTrackPlatform/pkg/config"
	"AssetTrackPlatform/pkg/database"
	"AssetTrackPlatform/pkg/health"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/metrics"
	"AssetTrackPlatform/pkg/rabbitmq"
	"AssetTrackPlatform/pkg/ratelimit"
	pkgredis "AssetTrackPlatform/pkg/redis"
)

const (
	serviceName    = "auth-service"
	serviceVersion = "v1.0.0"

	shutdownTimeout = 15 * time.Second
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("config/config.yaml"); err == nil {
			configPath = "config/config.yaml"
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	appLogger.Info("Starting auth service",
		logger.String("version", serviceVersion),
		logger.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	dbConfig := database.NewConfig()
	dbConfig.Host = cfg.Database.Host
	dbConfig.Port = cfg.Database.Port
	dbConfig.User = cfg.Database.User
	dbConfig.Password = cfg.Database.Password
	dbConfig.Database = cfg.Database.Name

	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	redisConfig := pkgredis.NewConfig()
	redisConfig.Addr = cfg.Redis.Addr
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB

	redisClient, err := pkgredis.Connect(ctx, redisConfig)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// RabbitMQ: шина событий вторична, без нее сервис продолжает работать
	var eventPublisher events.Publisher = events.NoopPublisher{}

	mqConfig := rabbitmq.NewConfig()
	mqConfig.URL = cfg.RabbitMQ.URL
	mqConfig.Exchange = cfg.RabbitMQ.Exchange
	mqConfig.RoutingKey = cfg.RabbitMQ.RoutingKey
	mqConfig.Queue = cfg.RabbitMQ.Queue

	mqConn, err := rabbitmq.Connect(mqConfig)
	if err != nil {
		appLogger.Warn("RabbitMQ unavailable, security events will not be published", logger.Error(err))
	} else {
		defer mqConn.Close()
		publisher := events.NewRabbitMQPublisher(rabbitmq.NewProducer(mqConn, mqConfig), appLogger)
		defer publisher.Close()
		eventPublisher = publisher
	}

	// Метрики
	appMetrics := metrics.NewMetrics("assettrack")

	// Репозитории
	apiKeyRepo := postgres.NewAPIKeyRepository(db.Pool)
	mfaRepo := postgres.NewMFAMethodRepository(db.Pool)
	sessionRepo := postgres.NewSessionRepository(db.Pool)
	eventRepo := postgres.NewSecurityEventRepository(db.Pool)

	// Криптографические компоненты
	cipher, err := secretcrypt.NewCipher(cfg.Security.MFAEncryptionKey)
	if err != nil {
		appLogger.Error("Invalid MFA encryption key", logger.Error(err))
		os.Exit(1)
	}

	accessTokenDuration, err := time.ParseDuration(cfg.JWT.AccessTokenDuration)
	if err != nil {
		appLogger.Error("Invalid access token duration", logger.Error(err))
		os.Exit(1)
	}
	jwtManager := jwt.NewManager(cfg.JWT.AccessSecret, accessTokenDuration)

	sessionDuration, err := time.ParseDuration(cfg.Security.SessionDuration)
	if err != nil {
		appLogger.Error("Invalid session duration", logger.Error(err))
		os.Exit(1)
	}

	rateLimiter := ratelimit.NewRedisRateLimiter(redisClient.Client)

	// Сервисы
	eventService := service.NewSecurityEventService(eventRepo, eventPublisher, appLogger, appMetrics)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, rateLimiter, eventService, appLogger, appMetrics,
		cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindowSeconds)
	mfaService := service.NewMFAService(mfaRepo, totp.NewGenerator(cfg.Security.TOTPIssuer), cipher,
		eventService, appLogger, appMetrics)
	sessionService := service.NewSessionService(sessionRepo, jwtManager, eventService, appLogger, appMetrics,
		cfg.Security.MaxActiveSessions, sessionDuration)

	// HTTP
	authMiddleware := middleware.NewAuthMiddleware(appLogger, jwtManager, sessionService, apiKeyService)
	requestLimiter := middleware.RateLimitMiddleware(rateLimiter, cfg.Security.RateLimitRequests,
		time.Duration(cfg.Security.RateLimitWindowSeconds)*time.Second, true, appLogger)
	httpHandler := handler.NewHTTPHandler(appLogger, apiKeyService, mfaService, sessionService, eventService)

	apiMux := http.NewServeMux()
	httpHandler.RegisterRoutes(apiMux, authMiddleware.RequireAdmin)

	healthChecker := health.NewCompositeHealthChecker(serviceVersion)
	healthChecker.Register("postgres", db.HealthCheck)
	healthChecker.Register("redis", redisClient.HealthCheck)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("/health", health.Handler(healthChecker))
	rootMux.HandleFunc("/health/live", health.LiveHandler())
	rootMux.Handle("/metrics", metrics.Handler())
	rootMux.Handle("/", middleware.MetricsMiddleware(appMetrics)(authMiddleware.Authenticate(requestLimiter(apiMux))))

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      rootMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("HTTP server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed", logger.Error(err))
			cancel()
		}
	}()

	// Ожидание сигнала завершения
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		appLogger.Info("Received shutdown signal", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", logger.Error(err))
	}

	appLogger.Info("Auth service stopped")
}
