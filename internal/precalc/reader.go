package precalc

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
)

// Read-side API. A miss is surfaced as ErrNotFound, never back-filled
// inline: the dashboards get "not available yet" and the scheduler (or
// an analytics_refresh job) fills the gap off the request path. The
// returned stale flag tells callers the envelope has outlived the
// category's interval plus the configured cycle slack.

func (m *Manager) GetExamStats(ctx context.Context, examID uuid.UUID) (*entity.CachedAggregate, bool, error) {
	return m.read(ctx, constants.KeyExamStatsPrefix+examID.String(), m.cfg.ExamStatsInterval)
}

func (m *Manager) GetStudentSummary(ctx context.Context, participantID uuid.UUID) (*entity.CachedAggregate, bool, error) {
	return m.read(ctx, constants.KeyStudentSummaryPrefix+participantID.String(), m.cfg.StudentSummaryInterval)
}

func (m *Manager) GetClassRankings(ctx context.Context, classID uuid.UUID) (*entity.CachedAggregate, bool, error) {
	return m.read(ctx, constants.KeyClassRankingsPrefix+classID.String(), m.cfg.ClassRankingsInterval)
}

func (m *Manager) GetSubjectAnalytics(ctx context.Context, subjectID uuid.UUID) (*entity.CachedAggregate, bool, error) {
	return m.read(ctx, constants.KeySubjectAnalyticsPrefix+subjectID.String(), m.cfg.SubjectAnalyticsInterval)
}

// GetExamRankings reads the leaderboard written by ranking_update jobs.
// Its freshness window is the leaderboard TTL rather than a sweep
// interval, since it is event-driven rather than timer-driven.
func (m *Manager) GetExamRankings(ctx context.Context, examID uuid.UUID) (*entity.CachedAggregate, bool, error) {
	return m.read(ctx, constants.KeyExamRankingsPrefix+examID.String(), m.cfg.RankingsTTL)
}

func (m *Manager) read(ctx context.Context, key string, interval time.Duration) (*entity.CachedAggregate, bool, error) {
	var envelope entity.CachedAggregate
	found, err := m.cache.GetJSON(ctx, key, &envelope)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, common.NewAppError("AGGREGATE_NOT_READY", "not available yet", common.ErrNotFound)
	}
	return &envelope, envelope.Stale(interval, m.cfg.CycleSlack, time.Now()), nil
}
