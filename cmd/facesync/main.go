package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"facesync/internal/cache"
	"facesync/internal/config"
	"facesync/internal/database"
	"facesync/internal/feed"
	"facesync/internal/gallery"
	"facesync/internal/handlers"
	"facesync/internal/jobs"
	"facesync/internal/log"
	"facesync/internal/repository"
	"facesync/internal/server"
	"facesync/internal/service"
	"facesync/internal/source"
	"facesync/internal/storage"
	"facesync/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.LogLevel)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.EnsureSchema(ctx, dbPool); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBuckets(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure buckets failed")
	}

	resolver := source.NewResolver(objectStore, &http.Client{Timeout: cfg.Processing.Timeout})
	processing := upload.NewClient(cfg.Processing, resolver, logger)

	images := repository.NewImageRepository(dbPool)
	var liveFeed feed.Feed = feed.NewRedisFeed(redisClient, logger)
	if cfg.Gallery.Feed == "memory" {
		liveFeed = feed.NewHub()
	}
	logger.Info().Str("feed", cfg.Gallery.Feed).Msg("live gallery feed selected")
	writer := service.NewRecordWriter(images, liveFeed, logger)
	pipeline := service.NewPipeline(processing, writer, cfg.Processing.MaxConcurrent, logger)
	views := gallery.NewRegistry()

	handlerSet := handlers.NewHandlerSet(logger, cfg, handlers.Deps{
		Uploads:  pipeline,
		Records:  images,
		Remote:   processing,
		Captures: objectStore,
		Feed:     liveFeed,
		Views:    views,
		Nonces:   redisClient,
		Checks: map[string]handlers.Pinger{
			"postgres": images,
			"redis":    handlers.PingFunc(cache.Check(redisClient)),
			"storage":  objectStore,
		},
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(views, cfg.Gallery.SweepSpec, cfg.Gallery.IdleTTL, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, views, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, views *gallery.Registry, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop()

	// websocket connections outlive Shutdown; release their subscriptions
	if closed := views.CloseAll(); closed > 0 {
		logger.Info().Int("views", closed).Msg("gallery views closed")
	}

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
