package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"flock/internal/engine/jobs"
	"flock/internal/engine/webhooks"
	"flock/internal/pkg/logger"
	"flock/internal/platform/config"
	"flock/internal/platform/database"
	"flock/internal/platform/email"
)

// Standalone worker: runs the job queues and webhook delivery retries
// without the HTTP server. Useful when the API and background work are
// deployed separately.
func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
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

	mailer := email.NewSender(cfg.Email)
	webhookManager := webhooks.NewManager(webhooks.NewSQLEndpointStore(globalDB), cfg.Webhooks)
	webhookManager.StartRetryLoop(cfg.Webhooks.RetryInterval)
	defer webhookManager.StopRetryLoop()

	jobManager := jobs.NewManager(jobs.ExecutorDeps{
		Mailer:   mailer,
		Redis:    redisClient,
		GlobalDB: globalDB,
		Tenants:  tenantDBPool,
		Webhooks: webhookManager,
	}, cfg.Jobs)
	jobManager.Start()
	defer jobManager.Stop()

	log.Info().Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Worker shutting down")
}
