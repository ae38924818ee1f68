package queue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
)

// Service is the enqueue-side API the rest of the platform consumes.
// Enqueue never blocks on processing: it validates, persists the job
// and returns its ID.
type Service struct {
	store       *Store
	batchSchema *jsonschema.Schema
	maxRetries  int
	logger      *zap.Logger
}

func NewService(store *Store, maxRetries int, logger *zap.Logger) (*Service, error) {
	schema, err := compileSchema(submissionBatchSchema())
	if err != nil {
		return nil, common.WrapError(err, "compile submission batch schema")
	}
	return &Service{
		store:       store,
		batchSchema: schema,
		maxRetries:  maxRetries,
		logger:      logger,
	}, nil
}

// defaultPriority fills the lane when the caller left it empty.
func defaultPriority(p constants.JobPriority, fallback constants.JobPriority) (constants.JobPriority, error) {
	if p == "" {
		return fallback, nil
	}
	if !constants.ValidPriority(p) {
		return "", common.NewAppError("INVALID_PRIORITY", "unknown priority lane", common.ErrValidation)
	}
	return p, nil
}

// EnqueueSubmissionBatch accepts a batch of submissions for one exam.
// The payload is checked against the batch JSON schema before it is
// persisted; a rejected payload is a caller error, not a failed job.
func (s *Service) EnqueueSubmissionBatch(ctx context.Context, payload SubmissionBatchPayload, priority constants.JobPriority) (string, error) {
	lane, err := defaultPriority(priority, constants.PriorityCritical)
	if err != nil {
		return "", err
	}
	if payload.ExamID == uuid.Nil {
		return "", common.NewAppError("INVALID_PAYLOAD", "exam_id is required", common.ErrValidation)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", common.WrapError(err, "encode batch payload")
	}
	if err := validateAgainst(s.batchSchema, raw); err != nil {
		s.logger.Warn("rejected submission batch", zap.Error(err))
		return "", common.NewAppError("INVALID_PAYLOAD", err.Error(), common.ErrValidation)
	}
	return s.enqueue(ctx, constants.JobTypeSubmissionBatch, payload, lane)
}

// EnqueueResultCalculation recomputes a single stored result.
func (s *Service) EnqueueResultCalculation(ctx context.Context, examID, participantID uuid.UUID, priority constants.JobPriority) (string, error) {
	lane, err := defaultPriority(priority, constants.PriorityHigh)
	if err != nil {
		return "", err
	}
	if examID == uuid.Nil || participantID == uuid.Nil {
		return "", common.NewAppError("INVALID_PAYLOAD", "exam_id and participant_id are required", common.ErrValidation)
	}
	return s.enqueue(ctx, constants.JobTypeResultCalculation, ResultCalculationPayload{
		ExamID:        examID,
		ParticipantID: participantID,
	}, lane)
}

// EnqueueRankingUpdate refreshes one exam's leaderboard.
func (s *Service) EnqueueRankingUpdate(ctx context.Context, examID uuid.UUID, priority constants.JobPriority) (string, error) {
	lane, err := defaultPriority(priority, constants.PriorityHigh)
	if err != nil {
		return "", err
	}
	if examID == uuid.Nil {
		return "", common.NewAppError("INVALID_PAYLOAD", "exam_id is required", common.ErrValidation)
	}
	return s.enqueue(ctx, constants.JobTypeRankingUpdate, RankingUpdatePayload{ExamID: examID}, lane)
}

// EnqueueAnalyticsRefresh recomputes aggregates for a scope; a nil
// target sweeps the whole category.
func (s *Service) EnqueueAnalyticsRefresh(ctx context.Context, scope constants.AnalyticsScope, targetID *uuid.UUID, priority constants.JobPriority) (string, error) {
	lane, err := defaultPriority(priority, constants.PriorityNormal)
	if err != nil {
		return "", err
	}
	if !constants.ValidScope(scope) {
		return "", common.NewAppError("INVALID_PAYLOAD", "unknown analytics scope", common.ErrValidation)
	}
	return s.enqueue(ctx, constants.JobTypeAnalyticsRefresh, AnalyticsRefreshPayload{
		Scope:    scope,
		TargetID: targetID,
	}, lane)
}

func (s *Service) enqueue(ctx context.Context, jobType constants.JobType, payload any, priority constants.JobPriority) (string, error) {
	job, err := NewJob(jobType, payload, priority, s.maxRetries)
	if err != nil {
		return "", err
	}
	if err := s.store.Enqueue(ctx, job); err != nil {
		return "", err
	}
	s.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("type", string(jobType)),
		zap.String("priority", string(priority)))
	return job.ID, nil
}

// GetJobStatus returns the latest known job state or ErrNotFound.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*Job, error) {
	return s.store.Get(ctx, jobID)
}

// GetQueueStats returns the operator view of the queue.
func (s *Service) GetQueueStats(ctx context.Context) (entity.QueueStats, error) {
	stats, _, err := s.store.Stats(ctx)
	return stats, err
}
