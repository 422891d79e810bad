package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"smartattend/internal/audit"
	"smartattend/internal/config"
	"smartattend/internal/logging"
	"smartattend/internal/queue"
	"smartattend/internal/store"
)

// Worker drains audit events off the queue and persists them to Postgres,
// keeping the audit trail out of the check-in hot path.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.Env)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx, cfg.MigrationsDir); err != nil {
		log.Warn("migrations failed", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "smartattend:audit")
	}

	repo := audit.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	log.Info("worker started, waiting for audit events")
	for msg := range messages {
		if msg.Type != audit.MessageType {
			continue
		}
		evt, err := audit.Decode(msg.Body)
		if err != nil {
			log.Warn("bad audit message", zap.Error(err))
			continue
		}
		if err := repo.Insert(ctx, evt); err != nil {
			log.Warn("audit insert failed", zap.String("event_id", evt.ID), zap.Error(err))
			continue
		}
		log.Debug("audit event stored",
			zap.String("event_id", evt.ID),
			zap.String("kind", evt.Kind),
			zap.String("session_id", evt.SessionID))
	}

	log.Info("worker stopped")
}
