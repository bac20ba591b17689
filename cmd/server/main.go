package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/richardliu001/transaction-service/internal/config"
	"github.com/richardliu001/transaction-service/internal/events"
	"github.com/richardliu001/transaction-service/internal/ledger"
	"github.com/richardliu001/transaction-service/internal/logger"
	"github.com/richardliu001/transaction-service/internal/model"
	"github.com/richardliu001/transaction-service/internal/repo"
	"github.com/richardliu001/transaction-service/internal/service"
	httptransport "github.com/richardliu001/transaction-service/internal/transport/http"
	"github.com/richardliu001/transaction-service/internal/worker"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "internal/config/config.yaml"
}

func main() {
	// 1. load config
	cfg, err := config.Load(configPath())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("postgres handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	if err := gdb.AutoMigrate(&model.Transaction{}, &model.OutboxEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis read cache, optional
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		defer rdb.Close()
	}

	// 5. kafka publisher, connects on first publish
	pub := events.NewKafkaPublisher(cfg.Kafka, log)
	defer func() {
		if err := pub.Close(); err != nil {
			log.Errorw("close kafka publisher", "error", err)
		}
	}()

	// 6. repo, ledger, supervisor & service
	repository := repo.NewRepository(gdb, rdb, cfg.Redis.CacheTTL, log)
	ledgerClient := ledger.NewHTTPClient(cfg.Ledger, log)
	sup := worker.NewSupervisor(log, nil)
	svc := service.NewTransferService(repository, ledgerClient, pub, sup, log, service.Options{Topic: cfg.Kafka.Topic})

	// 7. gin router
	handler := httptransport.NewHandler(svc, log, sup.Draining)
	router := httptransport.NewRouter(handler, cfg.RateLimit, log)

	// 8. serve until signalled
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Infof("transaction-server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")

	// 9. stop taking requests, then let in-flight transfers finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown", "error", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout)
	defer cancelDrain()
	if err := sup.Drain(drainCtx); err != nil {
		log.Errorw("drain background transfers", "error", err, "in_flight", sup.InFlight())
	}
	log.Info("transaction-server stopped")
}
