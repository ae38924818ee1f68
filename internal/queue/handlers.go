package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/cache"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
	"github.com/evalhub/results-engine/internal/ranking"
	"github.com/evalhub/results-engine/internal/repository"
)

// Recalculator recomputes precalculated aggregates for one scope. The
// precalc manager implements it; the queue only needs this slice of it.
type Recalculator interface {
	RefreshScope(ctx context.Context, scope constants.AnalyticsScope, targetID *uuid.UUID) error
}

// progressEvery bounds how often a batch persists its progress marker.
const progressEvery = 20

// Handlers executes each job type. Every handler is idempotent: results
// are written via upsert on (participant_id, exam_id), leaderboards are
// last-writer-wins cache sets, so re-running after a retry cannot
// duplicate side effects.
type Handlers struct {
	results     repository.ResultsRepository
	exams       repository.ExamRepository
	cache       *cache.Client
	recalc      Recalculator
	store       *Store
	rankingsTTL time.Duration
	logger      *zap.Logger
}

func NewHandlers(
	results repository.ResultsRepository,
	exams repository.ExamRepository,
	cacheClient *cache.Client,
	recalc Recalculator,
	store *Store,
	rankingsTTL time.Duration,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		results:     results,
		exams:       exams,
		cache:       cacheClient,
		recalc:      recalc,
		store:       store,
		rankingsTTL: rankingsTTL,
		logger:      logger,
	}
}

// logFor annotates the handler logger with the job and worker IDs the
// pool tagged the context with.
func (h *Handlers) logFor(ctx context.Context) *zap.Logger {
	logger := h.logger
	if jobID := common.JobIDFromContext(ctx); jobID != "" {
		logger = logger.With(zap.String("job_id", jobID))
	}
	if workerID := common.WorkerIDFromContext(ctx); workerID != 0 {
		logger = logger.With(zap.Int("worker_id", workerID))
	}
	return logger
}

// Handle dispatches on the job's payload variant.
func (h *Handlers) Handle(ctx context.Context, job *Job) error {
	switch job.Type {
	case constants.JobTypeSubmissionBatch:
		var p SubmissionBatchPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return common.WrapError(err, "decode submission batch payload")
		}
		return h.handleSubmissionBatch(ctx, job, p)
	case constants.JobTypeResultCalculation:
		var p ResultCalculationPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return common.WrapError(err, "decode result calculation payload")
		}
		return h.handleResultCalculation(ctx, p)
	case constants.JobTypeRankingUpdate:
		var p RankingUpdatePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return common.WrapError(err, "decode ranking update payload")
		}
		return h.handleRankingUpdate(ctx, p)
	case constants.JobTypeAnalyticsRefresh:
		var p AnalyticsRefreshPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return common.WrapError(err, "decode analytics refresh payload")
		}
		return h.recalc.RefreshScope(ctx, p.Scope, p.TargetID)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// handleSubmissionBatch upserts every submission independently. An item
// failure is recorded and skipped; the batch completes as long as the
// dispatch loop itself finished.
func (h *Handlers) handleSubmissionBatch(ctx context.Context, job *Job, p SubmissionBatchPayload) error {
	meta, err := h.exams.GetExamMeta(ctx, p.ExamID)
	if err != nil {
		return err
	}

	logger := h.logFor(ctx)
	total := len(p.Submissions)
	var failures []ItemFailure
	for i, sub := range p.Submissions {
		if err := h.processSubmission(ctx, meta, sub); err != nil {
			logger.Warn("submission skipped",
				zap.String("participant_id", sub.ParticipantID.String()),
				zap.Error(err))
			failures = append(failures, ItemFailure{ParticipantID: sub.ParticipantID, Error: err.Error()})
		}
		job.Progress = &Progress{
			Current: i + 1,
			Total:   total,
			Message: fmt.Sprintf("processed %d of %d submissions", i+1, total),
		}
		if (i+1)%progressEvery == 0 {
			if err := h.store.UpdateProgress(ctx, job); err != nil {
				logger.Warn("failed to persist progress", zap.Error(err))
			}
		}
	}

	summary := BatchSummary{
		Processed: total - len(failures),
		Failed:    len(failures),
		Failures:  failures,
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return common.WrapError(err, "encode batch summary")
	}
	job.Result = raw
	return nil
}

func (h *Handlers) processSubmission(ctx context.Context, meta *entity.ExamMeta, sub Submission) error {
	if sub.ParticipantID == uuid.Nil {
		return fmt.Errorf("participant_id is missing")
	}
	if sub.Score < 0 || (meta.TotalMarks > 0 && sub.Score > meta.TotalMarks) {
		return fmt.Errorf("score %.2f outside 0..%.2f", sub.Score, meta.TotalMarks)
	}
	result := entity.ExamResult{
		ParticipantID: sub.ParticipantID,
		ExamID:        meta.ID,
		Score:         sub.Score,
		TotalMarks:    meta.TotalMarks,
		StartTime:     sub.StartTime,
		EndTime:       sub.EndTime,
		IsCompleted:   sub.IsCompleted || sub.EndTime != nil,
	}
	if meta.TotalMarks > 0 {
		result.Percentage = sub.Score / meta.TotalMarks * 100
	}
	return h.results.UpsertResult(ctx, result)
}

// handleResultCalculation revalidates one stored result against the
// exam's grading metadata and upserts the corrected row.
func (h *Handlers) handleResultCalculation(ctx context.Context, p ResultCalculationPayload) error {
	meta, err := h.exams.GetExamMeta(ctx, p.ExamID)
	if err != nil {
		return err
	}
	result, err := h.results.GetResult(ctx, p.ParticipantID, p.ExamID)
	if err != nil {
		return err
	}
	result.TotalMarks = meta.TotalMarks
	if meta.TotalMarks > 0 {
		result.Percentage = result.Score / meta.TotalMarks * 100
	} else {
		result.Percentage = 0
	}
	result.IsCompleted = result.IsCompleted || result.EndTime != nil
	return h.results.UpsertResult(ctx, *result)
}

// handleRankingUpdate recomputes one exam's leaderboard and writes it
// to the cache. The write is last-writer-wins on the exam key.
func (h *Handlers) handleRankingUpdate(ctx context.Context, p RankingUpdatePayload) error {
	rows, err := h.results.ListByExam(ctx, p.ExamID)
	if err != nil {
		return err
	}
	ranked := ranking.Rank(ranking.BuildExamEntries(rows))
	envelope, err := entity.WrapAggregate(ranked, time.Now())
	if err != nil {
		return err
	}
	key := constants.KeyExamRankingsPrefix + p.ExamID.String()
	if err := h.cache.SetJSON(ctx, key, envelope, h.rankingsTTL); err != nil {
		return err
	}
	h.logFor(ctx).Info("exam leaderboard refreshed",
		zap.String("exam_id", p.ExamID.String()),
		zap.Int("entries", len(ranked)))
	return nil
}
