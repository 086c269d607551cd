/**
 * @description
 * Entry point for the subscription service. Wires together configuration,
 * storage, RabbitMQ publishing and consumption, the cron scheduler, and the
 * HTTP API, then runs until a termination signal arrives.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/veltra/subscription-service/internal/api"
	"github.com/veltra/subscription-service/internal/app"
	"github.com/veltra/subscription-service/internal/config"
	"github.com/veltra/subscription-service/internal/store"
	"github.com/veltra/subscription-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repository := store.NewRepository()

	var publisher rabbitmq.Publisher = &rabbitmq.FallbackPublisher{}
	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err == nil {
			publisher = producer
			defer producer.Close()
			logger.Info("RabbitMQ producer connected")
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}

	service := app.NewService(repository, publisher)

	if cfg.RabbitMQURL != "" {
		if consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL); err == nil {
			defer consumer.Close()
			usageHandler := app.NewUsageEventHandler(service)
			go func() {
				logger.Info("starting consumer", "queue", app.CreditsConsumedQueue)
				err := consumer.Consume(ctx, app.UsageEventsExchange, app.CreditsConsumedQueue, app.CreditsConsumedRoutingKey, usageHandler.HandleCreditsConsumedEvent)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("consumer stopped", "error", err)
				}
			}()
		} else {
			logger.Warn("failed to connect RabbitMQ consumer, credit consumption events disabled", "error", err)
		}
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		if opts, err := redis.ParseURL(cfg.RedisURL); err != nil {
			logger.Warn("invalid REDIS_URL, rate limiting falls back to in-memory", "error", err)
		} else {
			client := redis.NewClient(opts)
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			pingErr := client.Ping(pingCtx).Err()
			pingCancel()
			if pingErr != nil {
				logger.Warn("failed to connect to Redis, rate limiting falls back to in-memory", "error", pingErr)
				_ = client.Close()
			} else {
				redisClient = client
				defer redisClient.Close()
				logger.Info("Redis connected")
			}
		}
	}

	jobs := app.NewJobs(service, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	// Redis gives a shared counter across replicas; a single instance can
	// run on the in-memory limiter alone.
	rateLimit := api.RateLimitMiddleware(cfg.RateLimitPerMinute)
	if redisClient != nil {
		rateLimit = api.RedisRateLimitMiddleware(redisClient, cfg.RateLimitPerMinute)
	}

	handler := api.NewHandler(service)
	router := api.NewRouter(handler, cfg.ClerkJWKSURL, cfg.InternalAPIKey, rateLimit)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Stop the event consumer, then wait for in-flight cron jobs.
	cancel()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	logger.Info("server stopped")
}
