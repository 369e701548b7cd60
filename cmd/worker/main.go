package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iliyamo/election-backend/internal/config"
	"github.com/iliyamo/election-backend/internal/mail"
	"github.com/iliyamo/election-backend/internal/queue"
	"github.com/iliyamo/election-backend/internal/ratelimit"
	"github.com/iliyamo/election-backend/internal/utils"
)

// worker drains the OTP and broadcast mail queues.  Run it when the API
// is started with WORKER_INPROCESS=false.
func main() {
	_ = godotenv.Load()

	logger := utils.NewLogger(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")).With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if err != nil {
		log.Fatalf("redis connect: %v", err)
	}
	defer rdb.Close()

	queueCfg := config.LoadQueueConfig()
	mailCfg := config.LoadMailConfig()
	dispatcher := mail.NewDispatcher(mail.NewTransport(mailCfg, logger), mail.Brand{Name: mailCfg.AppName, URL: mailCfg.AppURL})

	logger.Info("worker starting", "dry_run", mailCfg.DryRun)
	queue.RunPools(ctx, queueCfg.URL, dispatcher, ratelimit.New(rdb), logger,
		queue.OTPPolicy(queueCfg), queue.BroadcastPolicy(queueCfg))
	logger.Info("worker stopped")
}
