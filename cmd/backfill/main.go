package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/cache"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/queue"
	repo "github.com/evalhub/results-engine/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// backfill re-enqueues ranking and analytics recomputation for every
// exam with completed results inside a lookback window. Operators run
// it to rebuild caches after an incident or a cold cache start.
func main() {
	var (
		since    = flag.Duration("since", 24*time.Hour, "lookback window for active exams")
		priority = flag.String("priority", "low", "priority lane for the enqueued jobs")
		limit    = flag.Int("limit", 500, "maximum number of exams to backfill")
		dryRun   = flag.Bool("dry-run", false, "list target exams without enqueuing")
	)
	flag.Parse()

	lane := constants.JobPriority(*priority)
	if !constants.ValidPriority(lane) {
		printError("Error: -priority must be one of critical, high, normal, low\n")
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := repo.Open(ctx, repo.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		printError("Error: opening DB: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	cacheClient, err := cache.New(cache.Config{
		URL:         cfg.Redis.URL,
		DialTimeout: cfg.Redis.DialTimeout,
	}, logger)
	if err != nil {
		printError("Error: opening Redis: %v\n", err)
		os.Exit(1)
	}
	defer cacheClient.Close()

	examsRepo := repo.NewExamRepository(pool, logger)
	store := queue.NewStore(cacheClient.Redis(), cfg.Queue.RecordTTL, logger)
	queueSvc, err := queue.NewService(store, cfg.Queue.MaxRetries, logger)
	if err != nil {
		printError("Error: building queue service: %v\n", err)
		os.Exit(1)
	}

	examIDs, err := examsRepo.ActiveExamIDs(ctx, time.Now().Add(-*since), *limit)
	if err != nil {
		printError("Error: listing active exams: %v\n", err)
		os.Exit(1)
	}
	if len(examIDs) == 0 {
		fmt.Println("No active exams in the lookback window, nothing to do.")
		return
	}

	enqueued := 0
	for _, examID := range examIDs {
		if *dryRun {
			fmt.Printf("- would backfill exam %s\n", examID)
			continue
		}
		if _, err := queueSvc.EnqueueRankingUpdate(ctx, examID, lane); err != nil {
			logger.Error("failed to enqueue ranking update", zap.String("exam_id", examID.String()), zap.Error(err))
			continue
		}
		if _, err := queueSvc.EnqueueAnalyticsRefresh(ctx, constants.ScopeExam, &examID, lane); err != nil {
			logger.Error("failed to enqueue analytics refresh", zap.String("exam_id", examID.String()), zap.Error(err))
			continue
		}
		enqueued++
	}

	fmt.Printf("Backfill complete!\n")
	fmt.Printf("- Exams found: %d\n", len(examIDs))
	if *dryRun {
		fmt.Printf("- Dry run: no jobs enqueued\n")
		return
	}
	fmt.Printf("- Exams enqueued: %d\n", enqueued)
	fmt.Printf("- Priority: %s\n", lane)
}
