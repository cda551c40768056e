package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grocery-order-service/config"
	"grocery-order-service/internal/api"
	"grocery-order-service/internal/broker"
	"grocery-order-service/internal/gateway"
	"grocery-order-service/internal/models"
	"grocery-order-service/internal/redisclient"
	"grocery-order-service/internal/service"
	"grocery-order-service/internal/store"
	"grocery-order-service/internal/util"
	"grocery-order-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting grocery order service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.MigrateOnStart {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	orderService := service.NewOrderService(db, eventPublisher, cfg.Business)
	paymentService := service.NewPaymentService(db, redisClient, eventPublisher, cfg.Gateway, cfg.Business)
	if cfg.Gateway.KhaltiSecretKey != "" {
		paymentService.RegisterVerifier(models.GatewayKhalti,
			gateway.NewKhaltiClient(cfg.Gateway.KhaltiBaseURL, cfg.Gateway.KhaltiSecretKey, cfg.Gateway.LookupTimeout))
	} else {
		logger.Warn("KHALTI_SECRET_KEY not set, Khalti callbacks will be rejected")
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	outcomeConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentOutcomes, cfg.Kafka.ConsumerGroup)
	outcomeWorker := worker.NewPaymentOutcomeWorker(outcomeConsumer, paymentService)
	go func() {
		if err := outcomeWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Payment outcome worker error", zap.Error(err))
		}
	}()

	if cfg.Business.PaymentTimeoutSeconds > 0 {
		interval := time.Duration(cfg.Business.SweepIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}
		expiryWorker := worker.NewExpiryWorker(paymentService, interval)
		go func() {
			if err := expiryWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Expiry worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, cfg.Auth, cfg.Gateway, map[string]api.HealthChecker{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := outcomeWorker.Stop(); err != nil {
		logger.Warn("Error stopping payment outcome worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
