package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/vending-service/internal/config"
	"github.com/richardliu001/vending-service/internal/logger"
	"github.com/richardliu001/vending-service/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
)

// The poller relays transaction lifecycle events from the outbox table to
// Kafka. Delivery is at-least-once; consumers key on the event id.
func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	interval := flag.Duration("interval", time.Second, "outbox poll interval")
	batch := flag.Int("batch", 100, "events per poll")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, "vending-poller")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// the relay never touches redis
	repository := repo.NewRepository(gdb, nil, kw, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	log.Infow("vending-poller started", "topic", cfg.Kafka.Topic, "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			log.Info("vending-poller stopping")
			return
		case <-ticker.C:
		}
		events, err := repository.PollOutbox(ctx, *batch)
		if err != nil {
			log.Errorf("poll outbox: %v", err)
			continue
		}
		for _, evt := range events {
			if err := repository.PublishEvent(ctx, evt); err != nil {
				log.Errorw("publish failed", "id", evt.ID, "event_type", evt.EventType, "error", err)
				continue
			}
			if err := repository.MarkOutboxProcessed(ctx, evt.ID); err != nil {
				log.Errorw("mark processed failed", "id", evt.ID, "error", err)
			} else {
				log.Debugw("event relayed", "id", evt.ID, "event_type", evt.EventType)
			}
		}
	}
}
