package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"aqi-platform/internal/config"
	"aqi-platform/internal/handlers"
	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/services"
	"aqi-platform/pkg/cache"
	"aqi-platform/pkg/database"
	"aqi-platform/pkg/events"
	"aqi-platform/pkg/forecaster"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/mailer"
	"aqi-platform/pkg/metrics"
)

const version = "1.0.0"

func newLogger(cfg *config.Config) *logging.StructuredLogger {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Format == "console" {
		return logging.NewConsoleLogger("aqi-api", version, level)
	}
	return logging.NewStructuredLogger("aqi-api", version, level)
}

func newResponseCache(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger) cache.ResponseCache {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewMemoryCache(cfg.Cache.TTL, 10*time.Minute)
	}

	redisCache, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
	if err != nil {
		logger.Warn(ctx, "[STARTUP_WARN] Redis unavailable, using in-process response cache", logging.Fields{
			"redis_addr": cfg.Cache.RedisAddr,
			"error":      err.Error(),
		})
		return cache.NewMemoryCache(cfg.Cache.TTL, 10*time.Minute)
	}
	return redisCache
}

func newPublisher(cfg *config.Config) events.Publisher {
	if !cfg.KafkaEnabled() {
		return events.NopPublisher{}
	}
	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.RequestsTopic)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting AQI API server", logging.Fields{
		"version":       version,
		"environment":   cfg.Environment,
		"server_host":   cfg.Server.Host,
		"server_port":   cfg.Server.Port,
		"db_host":       cfg.Database.Host,
		"db_name":       cfg.Database.Database,
		"kafka_enabled": cfg.KafkaEnabled(),
	})

	metricsCollector := metrics.NewCollector("aqi_platform")

	db, err := database.NewPostgresDB(&cfg.Database, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Repositories
	measurementRepo := repository.NewMeasurementRepository(db, logger, metricsCollector)
	forecastRepo := repository.NewForecastRepository(db, logger, metricsCollector)
	userRepo := repository.NewUserRepository(db, logger, metricsCollector)
	requestRepo := repository.NewRequestRepository(db)

	// Collaborators
	responseCache := newResponseCache(ctx, cfg, logger)
	publisher := newPublisher(cfg)

	notifier := mailer.NewSMTPNotifier(mailer.SMTPConfig{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		Username:      cfg.SMTP.Username,
		Password:      cfg.SMTP.Password,
		Sender:        cfg.SMTP.Sender,
		SubjectPrefix: cfg.SMTP.SubjectPrefix,
	})
	if !notifier.Configured() {
		logger.Warn(ctx, "[STARTUP_WARN] SMTP not configured, token emails will fail", logging.Fields{})
	}
	dispatcher := mailer.NewDispatcher(notifier, cfg.SMTP.QueueSize, cfg.SMTP.Workers, logger, metricsCollector)

	model := forecaster.NewTFServingModel(forecaster.Config{
		ServingURL:       cfg.Model.ServingURL,
		Name:             cfg.Model.Name,
		Timeout:          cfg.Model.Timeout,
		FailureThreshold: cfg.Model.FailureThreshold,
		BreakerTimeout:   cfg.Model.BreakerTimeout,
	}, logger, metricsCollector)

	loadCtx, cancelLoad := context.WithTimeout(ctx, cfg.Model.Timeout)
	if err := model.Load(loadCtx); err != nil {
		logger.Warn(ctx, "[STARTUP_WARN] Forecast model not ready, /predict will fail until it is", logging.Fields{
			"serving_url": cfg.Model.ServingURL,
			"model":       cfg.Model.Name,
			"error":       err.Error(),
		})
	}
	cancelLoad()

	// Services
	queryDefaults := services.QueryDefaults{
		ResultCap: cfg.Query.ResultCap,
		Box: models.BoundingBox{
			BottomLat: cfg.Query.DefaultBottomLat,
			TopLat:    cfg.Query.DefaultTopLat,
			LeftLong:  cfg.Query.DefaultLeftLong,
			RightLong: cfg.Query.DefaultRightLong,
		},
		HistoricFrom: cfg.Query.DefaultHistoricMin,
		HistoricTo:   cfg.Query.DefaultHistoricMax,
		EarliestDate: cfg.Query.EarliestDate,
	}

	accountingService := services.NewAccountingService(requestRepo, publisher, logger, metricsCollector)

	apiHandler := handlers.NewAPIHandler(handlers.Dependencies{
		Access:       services.NewAccessService(userRepo, logger, metricsCollector),
		Accounting:   accountingService,
		Queries:      services.NewQueryService(measurementRepo, forecastRepo, queryDefaults, logger, metricsCollector),
		Measurements: services.NewMeasurementService(measurementRepo, logger, metricsCollector),
		Forecasts:    services.NewForecastService(forecastRepo, logger, metricsCollector),
		Inference:    services.NewInferenceService(model, logger, metricsCollector),
		Provisioning: services.NewProvisioningService(
			userRepo,
			services.NewTokenIssuer(cfg.Security.TokenSecret),
			dispatcher,
			cfg.Security.NotificationCooldown,
			logger,
			metricsCollector,
		),
		Cache:  responseCache,
		Health: measurementRepo,
	}, logger, metricsCollector)

	router := mux.NewRouter()
	apiHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CorsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", handlers.RequestIDHeader},
		ExposedHeaders: []string{handlers.RequestIDHeader, "X-Cache"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handlers.RequestID(corsHandler.Handler(router)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	// Drain background work before closing the stores it writes to
	accountingService.Close()
	dispatcher.Close()

	if err := publisher.Close(); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Failed to close request stream", logging.Fields{}, err)
	}
	if err := responseCache.Close(); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Failed to close response cache", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
