package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/richardliu001/transaction-service/internal/config"
	"github.com/richardliu001/transaction-service/internal/events"
	"github.com/richardliu001/transaction-service/internal/logger"
	"github.com/richardliu001/transaction-service/internal/repo"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "internal/config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	pub := events.NewKafkaPublisher(cfg.Kafka, log)
	defer pub.Close()

	// the relay never reads transactions, so no cache
	repository := repo.NewRepository(gdb, nil, 0, log)
	relay := events.NewRelay(repository, pub, cfg.Outbox.BatchSize, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("transaction-poller started")
	if err := relay.Run(ctx, cfg.Outbox.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("relay stopped", "error", err)
	}
}
