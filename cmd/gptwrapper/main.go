package main

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mluukkai/gptwrapper/internal/engine"
	"github.com/mluukkai/gptwrapper/internal/handlers"
	"github.com/mluukkai/gptwrapper/internal/quota"
	"github.com/mluukkai/gptwrapper/internal/registry"
	"github.com/mluukkai/gptwrapper/internal/store"
	"github.com/mluukkai/gptwrapper/internal/tokenizer"
	"github.com/mluukkai/gptwrapper/pkg/auth"
	"github.com/mluukkai/gptwrapper/pkg/config"
	"github.com/mluukkai/gptwrapper/pkg/database"
	"github.com/mluukkai/gptwrapper/pkg/logging"
	"github.com/mluukkai/gptwrapper/pkg/monitoring"
	"github.com/mluukkai/gptwrapper/pkg/redis"
	"github.com/mluukkai/gptwrapper/pkg/server"
	"github.com/mluukkai/gptwrapper/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("gptwrapper")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting gptwrapper (Usage API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Optional Redis-backed status cache
	redisClient := setupRedis(logger)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("gptwrapper", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("gptwrapper", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  dbURL,
		"JWT_SECRET":    jwtSecret,
		"SERVICE_TOKEN": serviceToken,
	}))

	// Create custom usage metrics
	engineMetrics := &engine.Metrics{
		QuotaChecks:    metricsCollector.NewCounter("quota_checks_total", "Quota checks performed", []string{"scope", "outcome"}),
		TokensRecorded: metricsCollector.NewCounter("tokens_recorded_total", "Tokens recorded against counters", []string{"model"}),
	}
	handlerMetrics := &handlers.Metrics{
		AdminOperations: metricsCollector.NewCounter("admin_operations_total", "Admin operations", []string{"operation", "status"}),
		StatusCache:     metricsCollector.NewCounter("status_cache_total", "Status cache lookups", []string{"result"}),
	}

	// Quota parameters from environment
	quotaConfig := quota.DefaultConfig()
	quotaConfig.BaseTokenLimit = config.GetEnvInt64("DEFAULT_TOKEN_LIMIT", quotaConfig.BaseTokenLimit)
	quotaConfig.PowerUserMultiplier = config.GetEnvInt64("POWER_USER_MULTIPLIER", quotaConfig.PowerUserMultiplier)
	quotaConfig.FreeModel = config.GetEnv("FREE_MODEL", quotaConfig.FreeModel)
	quotaConfig.TikeIam = config.GetEnv("TIKE_IAM", quotaConfig.TikeIam)

	// Wire the store, registry and engine
	usageStore := store.NewPostgres(db, logger)
	serviceRegistry := registry.New(usageStore, nil)
	usageEngine := engine.New(usageStore, serviceRegistry, quotaConfig, logger, engineMetrics)

	// Initialize handlers
	handlers.Init(usageEngine, usageStore, serviceRegistry, logger, handlerMetrics, redisClient, func(model string) tokenizer.Encoding {
		return tokenizer.Heuristic()
	})

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "gptwrapper", healthChecker, metricsCollector)

	// API routes
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/status", handlers.GetStatus)

			admin := protected.Group("/admin")
			admin.Use(auth.AdminOnlyMiddleware())
			{
				admin.GET("/services", handlers.GetChatInstances)
				admin.GET("/usage", handlers.GetUsageRecords)
				admin.PUT("/services/:id/limit", handlers.UpdateChatInstanceLimit)
				admin.DELETE("/usage/:userId/:serviceId", handlers.ResetUsage)
			}
		}

		// Usage accounting endpoints (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/usage/precheck", handlers.PrecheckUsage)
			serviceAPI.POST("/usage/record", handlers.RecordTokenUsage)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("gptwrapper", "8000")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

func setupRedis(logger logging.Logger) *goredis.Client {
	redisURL := config.GetEnv("REDIS_URL", "")
	if redisURL == "" {
		logger.Info("REDIS_URL not set, status cache disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := redis.NewClientFromURL(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, status cache disabled")
		return nil
	}
	logger.Info("Redis status cache enabled")
	return client
}
