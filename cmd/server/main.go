package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"import-sourcing/config"
	"import-sourcing/internal/api"
	"import-sourcing/internal/auth"
	"import-sourcing/internal/broker"
	"import-sourcing/internal/paystack"
	"import-sourcing/internal/reasoning"
	"import-sourcing/internal/redisclient"
	"import-sourcing/internal/service"
	"import-sourcing/internal/store"
	"import-sourcing/internal/util"
	"import-sourcing/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting import sourcing service")

	tp, err := util.InitTracer("import-sourcing", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	repo, closeStore := openStore(cfg, logger)
	defer closeStore()

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	eventPublisher := broker.NewEventPublisher(producer)

	reasoningClient := reasoning.NewClient(cfg.Sourcing.APIURL, cfg.Sourcing.APIKey, cfg.Sourcing.Model, cfg.Sourcing.Timeout)
	paystackClient := paystack.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout)

	intakeService := service.NewIntakeService(repo, eventPublisher, redisClient, cfg.Sourcing.DefaultDestination)
	sourcingAgent := service.NewSourcingAgent(repo, reasoningClient, eventPublisher, redisClient, redisClient, service.SourcingConfig{
		Timeout:         cfg.Sourcing.Timeout,
		ClaimStaleAfter: cfg.Sourcing.ClaimStaleAfter,
		Currency:        cfg.Sourcing.Currency,
	})
	orderService := service.NewOrderService(repo, eventPublisher, redisClient)
	paymentService := service.NewPaymentService(repo, paystackClient, eventPublisher, redisClient, redisClient, service.PaymentConfig{
		Currency:      cfg.Payment.Currency,
		CallbackURL:   cfg.Payment.CallbackURL,
		WebhookSecret: cfg.Payment.WebhookSecret,
	})
	trackingService := service.NewTrackingService(repo, eventPublisher, redisClient, redisClient)
	sagaOrchestrator := service.NewSagaOrchestrator(trackingService)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sourcingConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	sourcingWorker := worker.NewSourcingWorker(sourcingConsumer, repo, sourcingAgent)
	go func() {
		if err := sourcingWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Sourcing worker error", zap.Error(err))
		}
	}()

	fulfillmentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.FulfillmentGroup)
	fulfillmentWorker := worker.NewFulfillmentWorker(fulfillmentConsumer, repo, sagaOrchestrator)
	go func() {
		if err := fulfillmentWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Fulfillment worker error", zap.Error(err))
		}
	}()

	recoveryWorker := worker.NewRecoveryWorker(repo, eventPublisher, sagaOrchestrator, cfg.Sourcing.RecoveryInterval, cfg.Sourcing.ClaimStaleAfter)
	go func() {
		if err := recoveryWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Recovery worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(intakeService, orderService, paymentService, trackingService, tokens, repo, redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := sourcingWorker.Stop(); err != nil {
		logger.Error("Failed to stop sourcing worker", zap.Error(err))
	}
	if err := fulfillmentWorker.Stop(); err != nil {
		logger.Error("Failed to stop fulfillment worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openStore connects the configured repository. The memory driver keeps
// everything in process and is meant for local runs.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Repository, func()) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	return db, func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
}
