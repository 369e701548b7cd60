package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/election-backend/internal/cache"
	"github.com/iliyamo/election-backend/internal/config"
	"github.com/iliyamo/election-backend/internal/database"
	"github.com/iliyamo/election-backend/internal/handler"
	"github.com/iliyamo/election-backend/internal/mail"
	"github.com/iliyamo/election-backend/internal/middleware"
	"github.com/iliyamo/election-backend/internal/queue"
	"github.com/iliyamo/election-backend/internal/ratelimit"
	"github.com/iliyamo/election-backend/internal/repository"
	"github.com/iliyamo/election-backend/internal/router"
	"github.com/iliyamo/election-backend/internal/service"
	"github.com/iliyamo/election-backend/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env wins

	cfg := config.Load()
	logger := utils.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("db migrate: %v", err)
		}
	}

	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if err != nil {
		log.Fatalf("redis connect: %v", err)
	}
	defer rdb.Close()

	cacheCfg := config.LoadCacheConfig()
	queueCfg := config.LoadQueueConfig()
	mailCfg := config.LoadMailConfig()

	limiter := ratelimit.New(rdb)
	results := cache.NewResults(cacheCfg, rdb)
	otpPolicy, broadcastPolicy := queue.OTPPolicy(queueCfg), queue.BroadcastPolicy(queueCfg)
	publisher := queue.NewPublisher(queueCfg.URL, logger, otpPolicy, broadcastPolicy)
	defer publisher.Close()

	store := repository.NewMySQLStore(db)
	audit := service.NewAuditor(store, logger)
	brand := mail.Brand{Name: mailCfg.AppName, URL: mailCfg.AppURL}

	otpSvc := service.NewOTPService(store, limiter, publisher, config.LoadOTPConfig(), cfg.JWTSecret, logger)
	authSvc := service.NewAuthService(store, cfg.JWTSecret, time.Duration(cfg.OperatorTTLMin)*time.Minute)
	votingSvc := service.NewVotingService(store, results, logger)
	offlineSvc := service.NewOfflineService(store, results, logger)
	resultsSvc := service.NewResultsService(store)
	broadcastSvc := service.NewBroadcastService(store, publisher, logger)
	usersSvc := service.NewUserAdminService(store, results, cfg.BcryptCost, logger)
	candidatesSvc := service.NewCandidateService(store, results, logger)

	workersDone := make(chan struct{})
	if cfg.WorkerInProcess {
		dispatcher := mail.NewDispatcher(mail.NewTransport(mailCfg, logger), brand)
		go func() {
			defer close(workersDone)
			queue.RunPools(ctx, queueCfg.URL, dispatcher, limiter, logger, otpPolicy, broadcastPolicy)
		}()
	} else {
		close(workersDone)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency, "ip", v.RemoteIP}
			if v.Error != nil {
				logger.Error("request", append(attrs, "err", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))

	router.RegisterRoutes(e, router.Handlers{
		Auth:       handler.NewAuthHandler(otpSvc, authSvc, audit, logger),
		Vote:       handler.NewVoteHandler(votingSvc, resultsSvc, audit, logger),
		Offline:    handler.NewOfflineHandler(offlineSvc, audit, logger),
		Broadcast:  handler.NewBroadcastHandler(broadcastSvc, brand, audit, logger),
		Admin:      handler.NewAdminHandler(usersSvc, audit, logger),
		Candidates: handler.NewCandidateHandler(candidatesSvc, audit, logger),
		Health: handler.Health(map[string]handler.Pinger{
			"mysql": db,
			"redis": handler.RedisPinger(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		}),
	}, router.Options{
		JWTSecret:    cfg.JWTSecret,
		Results:      results,
		MaxCacheBody: cacheCfg.MaxBodyBytes,
		RateLimit:    middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger),
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env, "in_process_workers", cfg.WorkerInProcess)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not stop in time")
	}
}
