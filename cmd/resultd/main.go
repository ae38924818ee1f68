package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/evalhub/results-engine/internal/cache"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/export"
	"github.com/evalhub/results-engine/internal/precalc"
	"github.com/evalhub/results-engine/internal/queue"
	"github.com/evalhub/results-engine/internal/repository"
	"github.com/evalhub/results-engine/internal/server"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("opening database", zap.Error(err))
	}
	defer repository.Close(pool, logger)

	if err := repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout); err != nil {
		logger.Fatal("database health check failed", zap.Error(err))
	}

	cacheClient, err := cache.New(cache.Config{
		URL:         cfg.Redis.URL,
		DialTimeout: cfg.Redis.DialTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("connecting to redis", zap.Error(err))
	}
	defer cacheClient.Close()
	if err := cacheClient.Ping(ctx); err != nil {
		logger.Fatal("redis health check failed", zap.Error(err))
	}

	resultsRepo := repository.NewResultsRepository(pool, logger)
	examsRepo := repository.NewExamRepository(pool, logger)

	store := queue.NewStore(cacheClient.Redis(), cfg.Queue.RecordTTL, logger)
	queueSvc, err := queue.NewService(store, cfg.Queue.MaxRetries, logger)
	if err != nil {
		logger.Fatal("building queue service", zap.Error(err))
	}

	precalcMgr := precalc.NewManager(resultsRepo, examsRepo, cacheClient, cfg.Precalc, logger)
	handlers := queue.NewHandlers(resultsRepo, examsRepo, cacheClient, precalcMgr, store, cfg.Precalc.RankingsTTL, logger)
	workerPool := queue.NewPool(store, handlers, queueSvc, cfg.Queue, logger)

	workerPool.Start(ctx)
	precalcMgr.Start(ctx)

	exportSvc := export.NewService(resultsRepo, examsRepo, logger)
	srv := server.New(queueSvc, precalcMgr, exportSvc, cacheClient, pool, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown interrupted", zap.Error(err))
	}

	workerPool.Wait()
	precalcMgr.Wait()
	logger.Info("stopped")
}
