package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
)

// ExamRepository reads exam metadata and selects the "active" targets the
// precalc sweeps recompute: entities with completed results inside a
// lookback window, capped at the category batch size.
type ExamRepository interface {
	GetExamMeta(ctx context.Context, examID uuid.UUID) (*entity.ExamMeta, error)
	ActiveExamIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	ActiveParticipantIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	ActiveClassIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	ActiveSubjectIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

type examRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewExamRepository(pool *pgxpool.Pool, logger *zap.Logger) ExamRepository {
	return &examRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *examRepository) GetExamMeta(ctx context.Context, examID uuid.UUID) (*entity.ExamMeta, error) {
	var meta entity.ExamMeta
	err := r.pool.QueryRow(ctx, `
SELECT id, title, subject_id, class_id, total_marks, passing_marks, starts_at, ends_at
FROM exams
WHERE id = $1`, examID).
		Scan(&meta.ID, &meta.Title, &meta.SubjectID, &meta.ClassID,
			&meta.TotalMarks, &meta.PassingMarks, &meta.StartsAt, &meta.EndsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewAppError("EXAM_NOT_FOUND", "exam does not exist", common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get exam meta", zap.String("exam_id", examID.String()), zap.Error(err))
		return nil, common.NewAppError("DB_ERROR", "get exam meta", common.ErrDatabase)
	}
	return &meta, nil
}

func (r *examRepository) ActiveExamIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
SELECT DISTINCT exam_id FROM exam_results
WHERE is_completed AND end_time >= $1
LIMIT $2`, since, limit)
}

func (r *examRepository) ActiveParticipantIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
SELECT DISTINCT participant_id FROM exam_results
WHERE is_completed AND end_time >= $1
LIMIT $2`, since, limit)
}

func (r *examRepository) ActiveClassIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
SELECT DISTINCT e.class_id
FROM exam_results r JOIN exams e ON e.id = r.exam_id
WHERE r.is_completed AND r.end_time >= $1
LIMIT $2`, since, limit)
}

func (r *examRepository) ActiveSubjectIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
SELECT DISTINCT e.subject_id
FROM exam_results r JOIN exams e ON e.id = r.exam_id
WHERE r.is_completed AND r.end_time >= $1
LIMIT $2`, since, limit)
}

func (r *examRepository) listIDs(ctx context.Context, sql string, since time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, sql, since, limit)
	if err != nil {
		r.logger.Error("failed to list active targets", zap.Error(err))
		return nil, common.NewAppError("DB_ERROR", "list active targets", common.ErrDatabase)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			r.logger.Error("failed to scan target id", zap.Error(err))
			return nil, common.NewAppError("DB_ERROR", "scan target id", common.ErrDatabase)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("target id iteration failed", zap.Error(err))
		return nil, common.NewAppError("DB_ERROR", "iterate target ids", common.ErrDatabase)
	}
	return ids, nil
}
