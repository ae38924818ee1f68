package precalc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/cache"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
	"github.com/evalhub/results-engine/internal/repository"
)

// Manager owns the precalculated aggregate layer: one supervised timer
// per category recomputes a bounded batch of recently active targets
// and writes the results into the cache under the category TTL. A
// per-category guard skips a tick that fires while the previous run is
// still executing; the skipped tick is not queued.
type Manager struct {
	results repository.ResultsRepository
	exams   repository.ExamRepository
	cache   *cache.Client
	cfg     common.PrecalcConfig
	logger  *zap.Logger

	categories []*category
	wg         sync.WaitGroup
	once       sync.Once
}

type category struct {
	name     string
	interval time.Duration
	ttl      time.Duration
	running  atomic.Bool
	run      func(ctx context.Context) error
}

func NewManager(
	results repository.ResultsRepository,
	exams repository.ExamRepository,
	cacheClient *cache.Client,
	cfg common.PrecalcConfig,
	logger *zap.Logger,
) *Manager {
	m := &Manager{
		results: results,
		exams:   exams,
		cache:   cacheClient,
		cfg:     cfg,
		logger:  logger,
	}
	m.categories = []*category{
		{name: "exam_stats", interval: cfg.ExamStatsInterval, ttl: cfg.ExamStatsTTL, run: m.sweepExamStats},
		{name: "student_summary", interval: cfg.StudentSummaryInterval, ttl: cfg.StudentSummaryTTL, run: m.sweepStudentSummaries},
		{name: "class_rankings", interval: cfg.ClassRankingsInterval, ttl: cfg.ClassRankingsTTL, run: m.sweepClassRankings},
		{name: "subject_analytics", interval: cfg.SubjectAnalyticsInterval, ttl: cfg.SubjectAnalyticsTTL, run: m.sweepSubjectAnalytics},
	}
	return m
}

// Start launches one timer goroutine per category. They stop when ctx
// is cancelled; Wait blocks until all have exited.
func (m *Manager) Start(ctx context.Context) {
	m.once.Do(func() {
		for _, c := range m.categories {
			m.wg.Add(1)
			go m.loop(ctx, c)
		}
		m.logger.Info("precalc scheduler started", zap.Int("categories", len(m.categories)))
	})
}

// Wait blocks until every category timer has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
	m.logger.Info("precalc scheduler stopped")
}

func (m *Manager) loop(ctx context.Context, c *category) {
	defer m.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.runCategory(ctx, c); err != nil && ctx.Err() == nil {
				m.logger.Warn("category refresh failed", zap.String("category", c.name), zap.Error(err))
			}
		}
	}
}

// runCategory executes one recompute pass under the re-entrancy guard.
func (m *Manager) runCategory(ctx context.Context, c *category) error {
	if !c.running.CompareAndSwap(false, true) {
		m.logger.Info("category refresh still running, skipping tick", zap.String("category", c.name))
		return nil
	}
	defer c.running.Store(false)

	start := time.Now()
	err := c.run(ctx)
	m.logger.Info("category refresh finished",
		zap.String("category", c.name),
		zap.Duration("took", time.Since(start)))
	return err
}

// ForceRefresh runs every category once, concurrently, honoring the
// guards. It returns the first error but lets every category finish.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.categories {
		c := c
		g.Go(func() error {
			return m.runCategory(gctx, c)
		})
	}
	return g.Wait()
}

// RefreshScope recomputes a single target, or sweeps the whole category
// when targetID is nil. This is the entry point analytics_refresh jobs
// dispatch through.
func (m *Manager) RefreshScope(ctx context.Context, scope constants.AnalyticsScope, targetID *uuid.UUID) error {
	switch scope {
	case constants.ScopeExam:
		if targetID == nil {
			return m.sweepExamStats(ctx)
		}
		return m.RefreshExamStats(ctx, *targetID)
	case constants.ScopeStudent:
		if targetID == nil {
			return m.sweepStudentSummaries(ctx)
		}
		return m.RefreshStudentSummary(ctx, *targetID)
	case constants.ScopeClass:
		if targetID == nil {
			return m.sweepClassRankings(ctx)
		}
		return m.RefreshClassRankings(ctx, *targetID)
	case constants.ScopeSubject:
		if targetID == nil {
			return m.sweepSubjectAnalytics(ctx)
		}
		return m.RefreshSubjectAnalytics(ctx, *targetID)
	case constants.ScopeAll:
		return m.ForceRefresh(ctx)
	default:
		return common.NewAppError("INVALID_SCOPE", "unknown analytics scope", common.ErrInvalidInput)
	}
}

// sweep* select the bounded batch of recently active targets and
// recompute each; a single target's failure is logged and skipped, the
// next tick retries it naturally while it stays active.

func (m *Manager) sweepExamStats(ctx context.Context) error {
	ids, err := m.exams.ActiveExamIDs(ctx, time.Now().Add(-m.cfg.Lookback), m.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.RefreshExamStats(ctx, id); err != nil {
			if ctx.Err() != nil {
				return err
			}
			m.logger.Warn("exam stats refresh skipped", zap.String("exam_id", id.String()), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) sweepStudentSummaries(ctx context.Context) error {
	ids, err := m.exams.ActiveParticipantIDs(ctx, time.Now().Add(-m.cfg.Lookback), m.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.RefreshStudentSummary(ctx, id); err != nil {
			if ctx.Err() != nil {
				return err
			}
			m.logger.Warn("student summary refresh skipped", zap.String("participant_id", id.String()), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) sweepClassRankings(ctx context.Context) error {
	ids, err := m.exams.ActiveClassIDs(ctx, time.Now().Add(-m.cfg.Lookback), m.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.RefreshClassRankings(ctx, id); err != nil {
			if ctx.Err() != nil {
				return err
			}
			m.logger.Warn("class rankings refresh skipped", zap.String("class_id", id.String()), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) sweepSubjectAnalytics(ctx context.Context) error {
	ids, err := m.exams.ActiveSubjectIDs(ctx, time.Now().Add(-m.cfg.Lookback), m.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.RefreshSubjectAnalytics(ctx, id); err != nil {
			if ctx.Err() != nil {
				return err
			}
			m.logger.Warn("subject analytics refresh skipped", zap.String("subject_id", id.String()), zap.Error(err))
		}
	}
	return nil
}

// RefreshExamStats recomputes one exam's statistics aggregate.
func (m *Manager) RefreshExamStats(ctx context.Context, examID uuid.UUID) error {
	meta, err := m.exams.GetExamMeta(ctx, examID)
	if err != nil {
		return err
	}
	rows, err := m.results.ListByExam(ctx, examID)
	if err != nil {
		return err
	}
	return m.write(ctx, constants.KeyExamStatsPrefix+examID.String(),
		computeExamStats(meta, rows), m.cfg.ExamStatsTTL)
}

// RefreshStudentSummary recomputes one participant's summary aggregate.
func (m *Manager) RefreshStudentSummary(ctx context.Context, participantID uuid.UUID) error {
	rows, err := m.results.ListByParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	return m.write(ctx, constants.KeyStudentSummaryPrefix+participantID.String(),
		computeStudentSummary(participantID, rows, m.cfg.SummaryWindow), m.cfg.StudentSummaryTTL)
}

// RefreshClassRankings recomputes one class's cumulative leaderboard.
func (m *Manager) RefreshClassRankings(ctx context.Context, classID uuid.UUID) error {
	rows, err := m.results.ListByClass(ctx, classID)
	if err != nil {
		return err
	}
	return m.write(ctx, constants.KeyClassRankingsPrefix+classID.String(),
		computeClassRankings(classID, rows), m.cfg.ClassRankingsTTL)
}

// RefreshSubjectAnalytics recomputes one subject's aggregate.
func (m *Manager) RefreshSubjectAnalytics(ctx context.Context, subjectID uuid.UUID) error {
	rows, err := m.results.ListBySubject(ctx, subjectID)
	if err != nil {
		return err
	}
	return m.write(ctx, constants.KeySubjectAnalyticsPrefix+subjectID.String(),
		computeSubjectAnalytics(subjectID, rows), m.cfg.SubjectAnalyticsTTL)
}

func (m *Manager) write(ctx context.Context, key string, payload any, ttl time.Duration) error {
	envelope, err := entity.WrapAggregate(payload, time.Now())
	if err != nil {
		return err
	}
	return m.cache.SetJSON(ctx, key, envelope, ttl)
}
