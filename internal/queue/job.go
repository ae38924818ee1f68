package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/common"
)

// Job is the persisted envelope for one unit of asynchronous work. Only
// the worker that currently owns a job mutates it; once Status is
// terminal the record is immutable until the retention sweep drops it.
type Job struct {
	ID          string                `json:"id"`
	Type        constants.JobType     `json:"type"`
	Payload     json.RawMessage       `json:"payload"`
	Priority    constants.JobPriority `json:"priority"`
	Status      constants.JobStatus   `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	RetryCount  int                   `json:"retry_count"`
	MaxRetries  int                   `json:"max_retries"`
	LastError   string                `json:"last_error,omitempty"`
	Progress    *Progress             `json:"progress,omitempty"`
	Result      json.RawMessage       `json:"result,omitempty"`
}

// Progress reports how far a batch job has advanced.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// NewJob builds a queued envelope around a typed payload.
func NewJob(jobType constants.JobType, payload any, priority constants.JobPriority, maxRetries int) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, common.WrapError(err, "encode job payload")
	}
	return &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    raw,
		Priority:   priority,
		Status:     constants.JobStatusQueued,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}, nil
}

// Submission is one participant's answer sheet inside a batch.
type Submission struct {
	ParticipantID uuid.UUID  `json:"participant_id"`
	Score         float64    `json:"score"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	IsCompleted   bool       `json:"is_completed"`
}

// SubmissionBatchPayload carries a batch of submissions for one exam.
type SubmissionBatchPayload struct {
	ExamID      uuid.UUID    `json:"exam_id"`
	Submissions []Submission `json:"submissions"`
}

// ResultCalculationPayload recomputes one participant's stored result
// against the exam's grading metadata.
type ResultCalculationPayload struct {
	ExamID        uuid.UUID `json:"exam_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

// RankingUpdatePayload refreshes one exam's leaderboard.
type RankingUpdatePayload struct {
	ExamID uuid.UUID `json:"exam_id"`
}

// AnalyticsRefreshPayload recomputes precalculated aggregates for a
// scope. TargetID is nil for a whole-category sweep.
type AnalyticsRefreshPayload struct {
	Scope    constants.AnalyticsScope `json:"scope"`
	TargetID *uuid.UUID               `json:"target_id,omitempty"`
}

// ItemFailure records one skipped submission inside a batch.
type ItemFailure struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Error         string    `json:"error"`
}

// BatchSummary is stored on the job record when a batch finishes; the
// batch itself completes even when individual items failed.
type BatchSummary struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}
