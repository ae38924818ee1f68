package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/common"
)

// Enqueuer is the slice of the queue API workers use to chain dependent
// jobs after a submission-path job completes.
type Enqueuer interface {
	EnqueueRankingUpdate(ctx context.Context, examID uuid.UUID, priority constants.JobPriority) (string, error)
	EnqueueAnalyticsRefresh(ctx context.Context, scope constants.AnalyticsScope, targetID *uuid.UUID, priority constants.JobPriority) (string, error)
}

// Pool runs a fixed set of workers over the shared job store. Each
// worker polls the lanes in strict priority order, processes one job to
// completion or failure, then re-polls immediately so a lane drains
// before the worker sleeps. Background tickers handle the terminal
// retention sweep and the monitor snapshot.
type Pool struct {
	store    *Store
	handlers *Handlers
	enqueuer Enqueuer
	cfg      common.QueueConfig
	logger   *zap.Logger

	wg   sync.WaitGroup
	once sync.Once
}

func NewPool(store *Store, handlers *Handlers, enqueuer Enqueuer, cfg common.QueueConfig, logger *zap.Logger) *Pool {
	return &Pool{
		store:    store,
		handlers: handlers,
		enqueuer: enqueuer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start launches the workers and background tickers. They all stop when
// ctx is cancelled; Wait blocks until they have drained.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		for i := 1; i <= p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
		p.wg.Add(2)
		go p.sweeper(ctx)
		go p.monitor(ctx)
		p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers))
	})
}

// Wait blocks until every worker and ticker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.logger.Info("worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopped", zap.Int("worker_id", workerID))
			return
		default:
		}

		if err := p.store.PromoteDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
			p.logger.Warn("failed to promote delayed jobs", zap.Int("worker_id", workerID), zap.Error(err))
		}

		job, err := p.store.Acquire(ctx, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("worker stopped", zap.Int("worker_id", workerID))
				return
			}
			p.logger.Warn("failed to acquire job", zap.Int("worker_id", workerID), zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		p.process(ctx, workerID, job)
		// Re-poll immediately: drain the lanes before idling.
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}

// process runs one owned job. Handler errors never escape: they are
// converted into a delayed retry or a terminal failure on the record.
// State writes use a detached context so a shutdown mid-job still gets
// recorded.
func (p *Pool) process(ctx context.Context, workerID int, job *Job) {
	recordCtx := context.WithoutCancel(ctx)
	p.store.IncrActiveWorkers(recordCtx, 1)
	defer p.store.IncrActiveWorkers(recordCtx, -1)

	p.logger.Info("job started",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("retry_count", job.RetryCount))

	start := time.Now()
	jobCtx := common.WithWorkerID(common.WithJobID(ctx, job.ID), workerID)
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, p.cfg.JobTimeout)
		defer cancel()
	}

	err := p.handlers.Handle(jobCtx, job)
	took := time.Since(start)

	if err != nil {
		job.LastError = err.Error()
		job.RetryCount++
		if job.RetryCount < job.MaxRetries {
			delay := time.Duration(job.RetryCount) * p.cfg.BackoffBase
			p.logger.Warn("job failed, scheduling retry",
				zap.Int("worker_id", workerID),
				zap.String("job_id", job.ID),
				zap.Int("retry_count", job.RetryCount),
				zap.Duration("delay", delay),
				zap.Error(err))
			if rerr := p.store.Retry(recordCtx, job, time.Now().Add(delay)); rerr != nil {
				p.logger.Error("failed to schedule retry", zap.String("job_id", job.ID), zap.Error(rerr))
			}
			return
		}
		p.logger.Error("job failed permanently",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID),
			zap.Int("retry_count", job.RetryCount),
			zap.Error(err))
		if ferr := p.store.Fail(recordCtx, job, took); ferr != nil {
			p.logger.Error("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return
	}

	if cerr := p.store.Complete(recordCtx, job, took); cerr != nil {
		p.logger.Error("failed to mark job completed", zap.String("job_id", job.ID), zap.Error(cerr))
		return
	}
	p.logger.Info("job completed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID),
		zap.Duration("took", took))

	p.triggerDependents(recordCtx, job)
}

// triggerDependents chains the recompute jobs that keep leaderboards
// and analytics fresh after the latency-sensitive submission path.
func (p *Pool) triggerDependents(ctx context.Context, job *Job) {
	var examID uuid.UUID
	switch job.Type {
	case constants.JobTypeSubmissionBatch:
		var payload SubmissionBatchPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			p.logger.Error("cannot decode payload for dependents", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		examID = payload.ExamID
	case constants.JobTypeResultCalculation:
		var payload ResultCalculationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			p.logger.Error("cannot decode payload for dependents", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		examID = payload.ExamID
	default:
		return
	}

	if _, err := p.enqueuer.EnqueueRankingUpdate(ctx, examID, constants.PriorityHigh); err != nil {
		p.logger.Error("failed to enqueue ranking update",
			zap.String("job_id", job.ID),
			zap.String("exam_id", examID.String()),
			zap.Error(err))
	}
	if _, err := p.enqueuer.EnqueueAnalyticsRefresh(ctx, constants.ScopeExam, &examID, constants.PriorityNormal); err != nil {
		p.logger.Error("failed to enqueue analytics refresh",
			zap.String("job_id", job.ID),
			zap.String("exam_id", examID.String()),
			zap.Error(err))
	}
}

// sweeper evicts terminal job records past the retention window.
func (p *Pool) sweeper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.store.SweepTerminal(ctx, time.Now().Add(-p.cfg.Retention))
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("retention sweep failed", zap.Error(err))
				}
				continue
			}
			if removed > 0 {
				p.logger.Info("retention sweep evicted jobs", zap.Int("removed", removed))
			}
		}
	}
}

// monitor publishes the queue snapshot for the realtime relay.
func (p *Pool) monitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.PublishSnapshot(ctx, 4*p.cfg.MonitorInterval); err != nil && ctx.Err() == nil {
				p.logger.Warn("failed to publish queue snapshot", zap.Error(err))
			}
		}
	}
}
