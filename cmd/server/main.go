package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"flock/internal/api"
	"flock/internal/api/handlers"
	"flock/internal/api/middleware"
	"flock/internal/engine/jobs"
	"flock/internal/engine/ratelimit"
	"flock/internal/engine/scheduling"
	"flock/internal/engine/webhooks"
	"flock/internal/pkg/logger"
	"flock/internal/platform/audit"
	"flock/internal/platform/auth"
	"flock/internal/platform/config"
	"flock/internal/platform/database"
	"flock/internal/platform/email"
	"flock/internal/platform/repositories"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	globalDB, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to global DB")
	}
	defer globalDB.Close()

	if err := database.InitGlobalSchema(globalDB); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply global schema")
	}

	globalDBWrapper := database.NewGlobalDBWrapper(globalDB)

	tenantDBPool := database.NewTenantDBPool(cfg.Database.Tenant)
	defer tenantDBPool.CloseAll()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	// Repositories
	orgRepo := repositories.NewOrganizationRepository(globalDB)
	userRepo := repositories.NewUserRepository(globalDB)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	auditLog := audit.NewLogger(globalDB)
	mailer := email.NewSender(cfg.Email)

	// Webhook manager: endpoints persisted globally, deliveries in memory.
	// The retry loop runs here too, so a server-only deployment still
	// re-attempts failed deliveries.
	webhookManager := webhooks.NewManager(webhooks.NewSQLEndpointStore(globalDB), cfg.Webhooks)
	webhookManager.StartRetryLoop(cfg.Webhooks.RetryInterval)
	defer webhookManager.StopRetryLoop()

	// Job manager with its executor dependencies.
	jobManager := jobs.NewManager(jobs.ExecutorDeps{
		Mailer:   mailer,
		Redis:    redisClient,
		GlobalDB: globalDB,
		Tenants:  tenantDBPool,
		Webhooks: webhookManager,
	}, cfg.Jobs)
	jobManager.Start()
	defer jobManager.Stop()

	schedulingSvc := scheduling.NewService(userRepo, jobManager, webhookManager)

	// Rate limiting: shared Redis store when available, else in-process.
	var limitStore ratelimit.Store
	if cfg.RateLimit.Store == "redis" && redisClient != nil {
		limitStore = ratelimit.NewRedisStore(redisClient)
	} else {
		memStore := ratelimit.NewMemoryStore()
		memStore.StartSweep(10*time.Minute, time.Hour)
		defer memStore.Stop()
		limitStore = memStore
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, orgRepo, tokenSvc, webhookManager)
	orgHandler := handlers.NewOrgHandler(orgRepo, userRepo, tokenSvc, auditLog, cfg.Database.Tenant.BasePath)
	userHandler := handlers.NewUserHandler(userRepo, auditLog)
	schedulingHandler := handlers.NewSchedulingHandler(schedulingSvc, auditLog)
	webhookHandler := handlers.NewWebhookHandler(webhookManager, auditLog)
	jobHandler := handlers.NewJobHandler(jobManager, auditLog)
	auditHandler := handlers.NewAuditHandler(auditLog)
	healthHandler := handlers.NewHealthHandler(globalDBWrapper, redisClient)
	metricsHandler := handlers.NewMetricsHandler(jobManager, webhookManager)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc)
	tenantMiddleware := middleware.NewTenantMiddleware(orgRepo, tenantDBPool)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limitStore, cfg.RateLimit)

	router := api.NewRouter(&api.Dependencies{
		AuthHandler:       authHandler,
		OrgHandler:        orgHandler,
		UserHandler:       userHandler,
		SchedulingHandler: schedulingHandler,
		WebhookHandler:    webhookHandler,
		JobHandler:        jobHandler,
		AuditHandler:      auditHandler,
		HealthHandler:     healthHandler,
		MetricsHandler:    metricsHandler,
		AuthMiddleware:    authMiddleware,
		TenantMiddleware:  tenantMiddleware,
		RateLimit:         rateLimitMiddleware,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
