package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
)

// Store keeps job records and lane membership in the shared Redis
// substrate. Lane ZSETs are scored by enqueue time so each lane stays
// FIFO; every multi-key mutation goes through one MULTI/EXEC pipeline
// so no partial state is visible to other workers.
type Store struct {
	rdb       *redis.Client
	recordTTL time.Duration
	logger    *zap.Logger
}

func NewStore(rdb *redis.Client, recordTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{
		rdb:       rdb,
		recordTTL: recordTTL,
		logger:    logger,
	}
}

// laneScore orders lane members. Microseconds keep the score exactly
// representable as a float64, which nanoseconds would not.
func laneScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Enqueue persists the record and its lane membership atomically.
func (s *Store) Enqueue(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return common.WrapError(err, "encode job")
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, constants.JobKey(job.ID), raw, s.recordTTL)
	pipe.ZAdd(ctx, constants.LaneKey(job.Priority), redis.Z{Score: laneScore(job.CreatedAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to enqueue job", zap.String("job_id", job.ID), zap.Error(err))
		return common.NewAppError("QUEUE_UNAVAILABLE", "enqueue job", common.ErrUnavailable)
	}
	return nil
}

// Get returns the latest known job state, or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	raw, err := s.rdb.Get(ctx, constants.JobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.NewAppError("JOB_NOT_FOUND", "no such job", common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewAppError("QUEUE_UNAVAILABLE", "load job record", common.ErrUnavailable)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, common.WrapError(err, "decode job record")
	}
	return &job, nil
}

// PromoteDue moves retry-delayed jobs whose ready time has passed back
// into their lane, restoring the original enqueue-time score so the
// (priority, createdAt) dispatch order holds across retries. Every
// worker runs this each poll, so the delayed-set removal is the claim:
// only the pass whose ZRem actually removed the member re-adds it to
// the lane, never a pass working from a stale scan.
func (s *Store) PromoteDue(ctx context.Context, now time.Time) error {
	max := strconv.FormatFloat(laneScore(now), 'f', -1, 64)
	for _, lane := range constants.Lanes {
		due, err := s.rdb.ZRangeByScore(ctx, constants.DelayedKey(lane), &redis.ZRangeBy{
			Min: "-inf",
			Max: max,
		}).Result()
		if err != nil {
			return common.WrapError(err, "scan delayed lane")
		}
		for _, jobID := range due {
			job, err := s.Get(ctx, jobID)
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					// Record already evicted; drop the orphaned member.
					s.rdb.ZRem(ctx, constants.DelayedKey(lane), jobID)
					continue
				}
				return err
			}
			if job.Status.Terminal() {
				// Terminal records are immutable; never put them back
				// in front of a worker.
				s.rdb.ZRem(ctx, constants.DelayedKey(lane), jobID)
				continue
			}
			removed, err := s.rdb.ZRem(ctx, constants.DelayedKey(lane), jobID).Result()
			if err != nil {
				return common.WrapError(err, "claim delayed job")
			}
			if removed == 0 {
				// Another worker promoted it between the scan and here.
				continue
			}
			if err := s.rdb.ZAdd(ctx, constants.LaneKey(lane), redis.Z{Score: laneScore(job.CreatedAt), Member: jobID}).Err(); err != nil {
				return common.WrapError(err, "promote delayed job")
			}
		}
	}
	return nil
}

// Acquire pops the highest-priority ready job and marks it processing.
// Returns (nil, nil) when every lane is empty.
func (s *Store) Acquire(ctx context.Context, now time.Time) (*Job, error) {
	for _, lane := range constants.Lanes {
		for {
			popped, err := s.rdb.ZPopMin(ctx, constants.LaneKey(lane), 1).Result()
			if err != nil {
				return nil, common.NewAppError("QUEUE_UNAVAILABLE", "pop lane", common.ErrUnavailable)
			}
			if len(popped) == 0 {
				break // next lane
			}
			jobID, _ := popped[0].Member.(string)
			job, err := s.Get(ctx, jobID)
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					s.logger.Warn("dropping lane member without record", zap.String("job_id", jobID))
					continue
				}
				// Transient read failure: put the member back at its
				// original score so the job is not stranded, then let
				// the worker back off.
				if aerr := s.rdb.ZAdd(ctx, constants.LaneKey(lane), redis.Z{Score: popped[0].Score, Member: jobID}).Err(); aerr != nil {
					s.logger.Error("failed to restore lane member",
						zap.String("job_id", jobID), zap.Error(aerr))
				}
				return nil, err
			}
			if job.Status.Terminal() {
				// Stale member from a raced promotion; the record is
				// immutable, so the member is dropped, not dispatched.
				s.logger.Warn("discarding lane member with terminal record",
					zap.String("job_id", jobID), zap.String("status", string(job.Status)))
				continue
			}
			started := now.UTC()
			job.Status = constants.JobStatusProcessing
			job.StartedAt = &started
			if err := s.saveWith(ctx, job, func(pipe redis.Pipeliner) {
				pipe.SAdd(ctx, constants.KeyProcessingSet, job.ID)
			}); err != nil {
				return nil, err
			}
			return job, nil
		}
	}
	return nil, nil
}

// Retry re-queues an owned job into the delayed set for its lane.
func (s *Store) Retry(ctx context.Context, job *Job, readyAt time.Time) error {
	job.Status = constants.JobStatusQueued
	job.StartedAt = nil
	return s.saveWith(ctx, job, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, constants.KeyProcessingSet, job.ID)
		pipe.ZAdd(ctx, constants.DelayedKey(job.Priority), redis.Z{Score: laneScore(readyAt), Member: job.ID})
	})
}

// Complete marks an owned job terminal-successful and records timing.
func (s *Store) Complete(ctx context.Context, job *Job, took time.Duration) error {
	return s.finish(ctx, job, constants.JobStatusCompleted, "completed", took)
}

// Fail marks an owned job terminal-failed once its retry budget is gone.
func (s *Store) Fail(ctx context.Context, job *Job, took time.Duration) error {
	return s.finish(ctx, job, constants.JobStatusFailed, "failed", took)
}

func (s *Store) finish(ctx context.Context, job *Job, status constants.JobStatus, counter string, took time.Duration) error {
	done := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &done
	return s.saveWith(ctx, job, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, constants.KeyProcessingSet, job.ID)
		pipe.ZAdd(ctx, constants.KeyTerminalSet, redis.Z{Score: laneScore(done), Member: job.ID})
		pipe.HIncrBy(ctx, constants.KeyQueueStats, counter, 1)
		pipe.HIncrBy(ctx, constants.KeyQueueStats, "processed_total", 1)
		pipe.HIncrBy(ctx, constants.KeyQueueStats, "processing_ms_total", took.Milliseconds())
	})
}

// UpdateProgress persists the owner's progress marker mid-job.
func (s *Store) UpdateProgress(ctx context.Context, job *Job) error {
	return s.saveWith(ctx, job, nil)
}

func (s *Store) saveWith(ctx context.Context, job *Job, extra func(redis.Pipeliner)) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return common.WrapError(err, "encode job")
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, constants.JobKey(job.ID), raw, s.recordTTL)
	if extra != nil {
		extra(pipe)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to save job record", zap.String("job_id", job.ID), zap.Error(err))
		return common.NewAppError("QUEUE_UNAVAILABLE", "save job record", common.ErrUnavailable)
	}
	return nil
}

// IncrActiveWorkers adjusts the busy-worker gauge in the stats hash.
func (s *Store) IncrActiveWorkers(ctx context.Context, delta int64) {
	if err := s.rdb.HIncrBy(ctx, constants.KeyQueueStats, "active_workers", delta).Err(); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to update active worker gauge", zap.Error(err))
	}
}

// Stats assembles the operator view from lane cards, the processing set
// and the lifetime counters.
func (s *Store) Stats(ctx context.Context) (entity.QueueStats, map[string]int64, error) {
	var stats entity.QueueStats
	lanes := make(map[string]int64, len(constants.Lanes))

	var delayed int64
	for _, lane := range constants.Lanes {
		ready, err := s.rdb.ZCard(ctx, constants.LaneKey(lane)).Result()
		if err != nil {
			return stats, nil, common.NewAppError("QUEUE_UNAVAILABLE", "read lane depth", common.ErrUnavailable)
		}
		wait, err := s.rdb.ZCard(ctx, constants.DelayedKey(lane)).Result()
		if err != nil {
			return stats, nil, common.NewAppError("QUEUE_UNAVAILABLE", "read delayed depth", common.ErrUnavailable)
		}
		lanes[string(lane)] = ready + wait
		stats.Queued += ready
		delayed += wait
	}
	stats.QueueLength = stats.Queued + delayed

	processing, err := s.rdb.SCard(ctx, constants.KeyProcessingSet).Result()
	if err != nil {
		return stats, nil, common.NewAppError("QUEUE_UNAVAILABLE", "read processing set", common.ErrUnavailable)
	}
	stats.Processing = processing

	counters, err := s.rdb.HGetAll(ctx, constants.KeyQueueStats).Result()
	if err != nil {
		return stats, nil, common.NewAppError("QUEUE_UNAVAILABLE", "read stats counters", common.ErrUnavailable)
	}
	counter := func(name string) int64 {
		v, _ := strconv.ParseInt(counters[name], 10, 64)
		return v
	}
	stats.Completed = counter("completed")
	stats.Failed = counter("failed")
	stats.ActiveWorkers = counter("active_workers")
	if processed := counter("processed_total"); processed > 0 {
		stats.AverageProcessingTimeMs = float64(counter("processing_ms_total")) / float64(processed)
	}
	return stats, lanes, nil
}

// SweepTerminal drops terminal job records older than the cutoff and
// returns how many were removed.
func (s *Store) SweepTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	max := strconv.FormatFloat(laneScore(cutoff), 'f', -1, 64)
	expired, err := s.rdb.ZRangeByScore(ctx, constants.KeyTerminalSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, common.WrapError(err, "scan terminal set")
	}
	for _, jobID := range expired {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, constants.JobKey(jobID))
		pipe.ZRem(ctx, constants.KeyTerminalSet, jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, common.WrapError(err, "evict terminal job")
		}
	}
	return len(expired), nil
}

// PublishSnapshot writes the monitoring data contract for the realtime
// relay. The short TTL keeps a dead service from serving frozen numbers.
func (s *Store) PublishSnapshot(ctx context.Context, ttl time.Duration) error {
	stats, lanes, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	snap := entity.QueueSnapshot{
		Stats:     stats,
		Lanes:     lanes,
		UpdatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return common.WrapError(err, "encode snapshot")
	}
	if err := s.rdb.Set(ctx, constants.KeyQueueMonitor, raw, ttl).Err(); err != nil {
		return common.WrapError(err, "publish snapshot")
	}
	return nil
}
