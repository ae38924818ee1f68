package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
)

// ResultsRepository owns reads and the idempotent upsert of exam_results.
// The table belongs to the platform; this service only issues DML keyed
// by the natural (participant_id, exam_id) pair.
type ResultsRepository interface {
	UpsertResult(ctx context.Context, result entity.ExamResult) error
	GetResult(ctx context.Context, participantID, examID uuid.UUID) (*entity.ExamResult, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]entity.ResultRow, error)
	ListByParticipant(ctx context.Context, participantID uuid.UUID) ([]entity.ResultRow, error)
	ListByClass(ctx context.Context, classID uuid.UUID) ([]entity.ResultRow, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]entity.ResultRow, error)
}

type resultsRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewResultsRepository(pool *pgxpool.Pool, logger *zap.Logger) ResultsRepository {
	return &resultsRepository{
		pool:   pool,
		logger: logger,
	}
}

const upsertResultSQL = `
INSERT INTO exam_results
    (participant_id, exam_id, score, total_marks, percentage, start_time, end_time, is_completed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (participant_id, exam_id) DO UPDATE SET
    score        = EXCLUDED.score,
    total_marks  = EXCLUDED.total_marks,
    percentage   = EXCLUDED.percentage,
    start_time   = EXCLUDED.start_time,
    end_time     = EXCLUDED.end_time,
    is_completed = EXCLUDED.is_completed`

func (r *resultsRepository) UpsertResult(ctx context.Context, result entity.ExamResult) error {
	_, err := r.pool.Exec(ctx, upsertResultSQL,
		result.ParticipantID, result.ExamID, result.Score, result.TotalMarks,
		result.Percentage, result.StartTime, result.EndTime, result.IsCompleted)
	if err != nil {
		r.logger.Error("failed to upsert result",
			zap.String("participant_id", result.ParticipantID.String()),
			zap.String("exam_id", result.ExamID.String()),
			zap.Error(err))
		return common.NewAppError("DB_ERROR", "upsert exam result", common.ErrDatabase)
	}
	return nil
}

func (r *resultsRepository) GetResult(ctx context.Context, participantID, examID uuid.UUID) (*entity.ExamResult, error) {
	var res entity.ExamResult
	err := r.pool.QueryRow(ctx, `
SELECT participant_id, exam_id, score, total_marks, percentage, start_time, end_time, is_completed
FROM exam_results
WHERE participant_id = $1 AND exam_id = $2`, participantID, examID).
		Scan(&res.ParticipantID, &res.ExamID, &res.Score, &res.TotalMarks,
			&res.Percentage, &res.StartTime, &res.EndTime, &res.IsCompleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewAppError("RESULT_NOT_FOUND", "no result for participant and exam", common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get result",
			zap.String("participant_id", participantID.String()),
			zap.String("exam_id", examID.String()),
			zap.Error(err))
		return nil, common.NewAppError("DB_ERROR", "get exam result", common.ErrDatabase)
	}
	return &res, nil
}

// resultRowSQL is the shared projection joining results with the
// membership columns ranking and aggregation group by.
const resultRowSQL = `
SELECT r.participant_id, r.exam_id, r.score, r.total_marks, r.percentage,
       r.start_time, r.end_time, r.is_completed,
       s.roll_number, e.class_id, e.subject_id, e.title
FROM exam_results r
JOIN exams e    ON e.id = r.exam_id
JOIN students s ON s.id = r.participant_id`

func (r *resultsRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]entity.ResultRow, error) {
	return r.listRows(ctx, resultRowSQL+` WHERE r.exam_id = $1 ORDER BY r.start_time`, examID)
}

func (r *resultsRepository) ListByParticipant(ctx context.Context, participantID uuid.UUID) ([]entity.ResultRow, error) {
	return r.listRows(ctx, resultRowSQL+` WHERE r.participant_id = $1 ORDER BY r.start_time`, participantID)
}

func (r *resultsRepository) ListByClass(ctx context.Context, classID uuid.UUID) ([]entity.ResultRow, error) {
	return r.listRows(ctx, resultRowSQL+` WHERE e.class_id = $1 ORDER BY r.start_time`, classID)
}

func (r *resultsRepository) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]entity.ResultRow, error) {
	return r.listRows(ctx, resultRowSQL+` WHERE e.subject_id = $1 ORDER BY r.start_time`, subjectID)
}

func (r *resultsRepository) listRows(ctx context.Context, sql string, args ...any) ([]entity.ResultRow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		r.logger.Error("failed to list result rows", zap.Error(err))
		return nil, common.NewAppError("DB_ERROR", "list result rows", common.ErrDatabase)
	}
	defer rows.Close()

	var out []entity.ResultRow
	for rows.Next() {
		var row entity.ResultRow
		if err := rows.Scan(
			&row.ParticipantID, &row.ExamID, &row.Score, &row.TotalMarks, &row.Percentage,
			&row.StartTime, &row.EndTime, &row.IsCompleted,
			&row.RollNumber, &row.ClassID, &row.SubjectID, &row.ExamTitle,
		); err != nil {
			r.logger.Error("failed to scan result row", zap.Error(err))
			return nil, common.NewAppError("DB_ERROR", "scan result row", common.ErrDatabase)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("result row iteration failed", zap.Error(err))
		return nil, common.NewAppError("DB_ERROR", "iterate result rows", common.ErrDatabase)
	}
	return out, nil
}
