package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"
	"ringline/internal/core/services"
	httphandlers "ringline/internal/handlers/http"
	"ringline/internal/infrastructure/distributed"
	"ringline/internal/infrastructure/middleware"
	"ringline/internal/infrastructure/monitoring"
	"ringline/internal/infrastructure/reliability"
	"ringline/internal/infrastructure/repositories"
	"ringline/internal/infrastructure/signal"
	"ringline/pkg/cache"
	"ringline/pkg/circuitbreaker"
	"ringline/pkg/config"
	"ringline/pkg/logger"
	"ringline/pkg/retry"
	"ringline/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "dev"

func main() {
	startTime := time.Now()
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet.
		_, _ = os.Stderr.WriteString("ringline: " + err.Error() + "\n")
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "ringline-signal",
		Version:     version,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	names := cache.New[string](cfg.Contacts.NameCacheTTL)
	defer names.Stop()

	// Contact store
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	var directory ports.ContactDirectory = repoFactory.CreateContactDirectory()
	if client := repoFactory.RedisClient(); client != nil {
		bus := distributed.NewEventBus(client, uuid.NewString(), log)
		notifying := distributed.NewNotifyingDirectory(directory, bus, func(id domain.IdentityID) {
			names.Delete(string(id))
		}, log)
		if err := bus.Subscribe(ctx, notifying.HandleEvent); err != nil {
			log.Warnw("directory events unavailable, display names refresh on cache expiry", "error", err)
		}
		directory = notifying
	}
	if cfg.Contacts.SeedFile != "" {
		n, err := repoFactory.LoadSeed(ctx, cfg.Contacts.SeedFile, directory)
		if err != nil {
			log.Fatalw("failed to load contact seed", "file", cfg.Contacts.SeedFile, "error", err)
		}
		log.Infow("contact seed loaded", "file", cfg.Contacts.SeedFile, "identities", n)
	}

	// Monitoring
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewPrometheusCollector(registry)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Reliability.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Reliability.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Reliability.Retry.MaxDelay
	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.FailureThreshold = cfg.Reliability.CircuitBreaker.MaxFailures
	cbCfg.Timeout = cfg.Reliability.CircuitBreaker.ResetTimeout

	store := reliability.NewContactStoreWrapper(directory, retryCfg, cbCfg, func(s circuitbreaker.State) {
		metrics.SetStoreBreakerState(int(s))
	}, log)

	// Core services
	presence := services.NewPresenceRegistry(services.AttachPolicy(cfg.Signal.DuplicateLogin), metrics, log)
	gate := services.NewAuthorizationGate(store, log)
	sessions := services.NewCallSessions(cfg.Calls.RingTimeout, metrics, log)
	relay := services.NewRelay(presence, metrics, log)
	signaling := services.NewSignalingService(store, presence, gate, sessions, relay, names, metrics, log)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	wsServer := signal.NewWebSocketServer(signaling, authService, signal.OptionsFromConfig(cfg), log)

	health := monitoring.NewHealthChecker()
	health.AddContactStoreCheck(store, 2*time.Second)
	health.AddCheck("repository", repoFactory.HealthCheck, 2*time.Second)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET(cfg.Signal.Path,
		middleware.NewWebSocketConnectLimitMiddleware(cfg),
		gin.WrapF(wsServer.HandleWebSocket),
	)

	api := router.Group("")
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	httphandlers.NewContactHandler(store, presence, gate, authService).SetupRoutes(api)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"online":      presence.Count(),
			"calls":       sessions.Count(),
			"connections": wsServer.ActiveConnections(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":          status.Status,
			"timestamp":       status.Timestamp,
			"checks":          status.Checks,
			"circuit_breaker": store.BreakerState().String(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Infow("Prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}

	// WriteTimeout is left to the signaling write pump for upgraded sockets.
	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting ringline signaling server",
			"address", cfg.Server.Address,
			"signal_path", cfg.Signal.Path,
			"redis", repoFactory.UsingRedis(),
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	log.Info("Shutting down ringline signaling server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}
	// Hijacked sockets are not covered by srv.Shutdown.
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("signaling connections did not drain", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("ringline signaling server stopped")
}
