package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"facestream/internal/core/ports"
	"facestream/internal/core/services"
	httphandlers "facestream/internal/handlers/http"
	"facestream/internal/infrastructure/distributed"
	"facestream/internal/infrastructure/framesource"
	"facestream/internal/infrastructure/middleware"
	"facestream/internal/infrastructure/monitoring"
	"facestream/internal/infrastructure/repositories"
	wssignal "facestream/internal/infrastructure/signal"
	"facestream/pkg/config"
	"facestream/pkg/logger"
	"facestream/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", envOr("FACESTREAM_CONFIG", "configs/config.yaml"), "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to build logger", "error", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()

	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		log.Warn("using the default JWT secret; set SECRET_KEY or FACESTREAM_JWT_SECRET")
	}

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		if host, err := os.Hostname(); err == nil {
			instanceID = host + "-" + uuid.NewString()[:8]
		} else {
			instanceID = uuid.NewString()
		}
	}
	log = log.With("instance_id", instanceID)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Repositories
	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing repository factory", "error", err)
		}
	}()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	users, err := repoFactory.CreateUserStore(startupCtx)
	startupCancel()
	if err != nil {
		log.Fatalw("failed to create user store", "error", err)
	}

	source, err := framesource.New(cfg, log)
	if err != nil {
		log.Fatalw("failed to create frame source", "error", err)
	}

	// Metrics
	metrics := services.TeeMetrics{services.NewMetricsService()}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = append(metrics, monitoring.NewPrometheusCollector(nil))
	}

	// Cross-instance events
	var (
		events  ports.EventPublisher = services.NopEvents{}
		cluster *distributed.ClusterView
	)
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()
	if redisClient := repoFactory.RedisClient(); cfg.Events.Enabled && redisClient != nil {
		bus := distributed.NewEventBus(redisClient, instanceID, cfg.Events.Channel, log)
		defer bus.Close()
		cluster = distributed.NewClusterView()
		go func() {
			if err := bus.Subscribe(eventsCtx, cluster.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("event subscription ended", "error", err)
			}
		}()
		events = bus
	} else if cfg.Events.Enabled {
		log.Warn("events enabled but Redis is unavailable; lifecycle events stay local")
	}

	// Services
	credentials := services.NewCredentialService(cfg.Auth.JWTSecret)
	gate := services.NewAccessGate(credentials, users, metrics, cfg.Auth.AccessTokenTTL, log)
	registry := services.NewPipelineRegistry(source, services.RegistryConfig{
		SubscriberBuffer: cfg.Pipeline.SubscriberBuffer,
		IdleEviction:     cfg.Pipeline.IdleEviction,
		IdleGracePeriod:  cfg.Pipeline.IdleGracePeriod,
		OpenTimeout:      cfg.Pipeline.OpenTimeout,
	}, metrics, events, instanceID, log)

	// Health
	checker := monitoring.NewHealthChecker()
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 2*time.Second)
	}
	checker.AddUserStoreCheck(users, "healthcheck", 2*time.Second)

	// Handlers
	var wsServer *wssignal.WebSocketServer
	if cfg.WebSocket.Enabled {
		wsServer = wssignal.NewWebSocketServer(wssignal.Config{
			PingInterval:   cfg.WebSocket.PingInterval,
			PongTimeout:    cfg.WebSocket.PongTimeout,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		}, log)
	}
	contextLogger := logger.NewContextLogger(zapLogger)

	authHandler := httphandlers.NewAuthHandler(gate, middleware.NewLoginRateLimitMiddleware(cfg))
	streamHandler := httphandlers.NewStreamHandler(gate, registry, metrics, events, wsServer, cluster,
		httphandlers.StreamHandlerConfig{WriteTimeout: cfg.Stream.WriteTimeout}, contextLogger)
	healthHandler := httphandlers.NewHealthHandler(checker, nil)

	// Router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.RequestLoggingMiddleware(contextLogger),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg, "/stream/", "/ws/stream/"),
		middleware.ErrorHandlerMiddleware(log),
	)

	authHandler.SetupRoutes(router)
	streamHandler.SetupRoutes(router)
	healthHandler.SetupRoutes(router)

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Streams are unbounded; frame writes carry their own deadline.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting facestream server", "address", cfg.Server.Address, "framesource", cfg.FrameSource.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Closing the registry first ends every open stream, which lets
	// Shutdown drain instead of waiting on unbounded responses.
	registry.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	stopEvents()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer provider", "error", err)
	}
	log.Info("facestream server stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
