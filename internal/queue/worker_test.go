package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/cache"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
	"github.com/evalhub/results-engine/internal/precalc"
)

// fakeStore is an in-memory stand-in for the platform database. It
// implements both repository interfaces so worker tests can observe the
// upserts a job performed.
type fakeStore struct {
	mu      sync.Mutex
	metas   map[uuid.UUID]*entity.ExamMeta
	rows    map[string]entity.ExamResult // participant|exam
	rolls   map[uuid.UUID]string
	upserts int
	metaErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		metas: make(map[uuid.UUID]*entity.ExamMeta),
		rows:  make(map[string]entity.ExamResult),
		rolls: make(map[uuid.UUID]string),
	}
}

func key(participantID, examID uuid.UUID) string {
	return participantID.String() + "|" + examID.String()
}

func (f *fakeStore) UpsertResult(_ context.Context, result entity.ExamResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.rows[key(result.ParticipantID, result.ExamID)] = result
	return nil
}

func (f *fakeStore) GetResult(_ context.Context, participantID, examID uuid.UUID) (*entity.ExamResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.rows[key(participantID, examID)]
	if !ok {
		return nil, common.NewAppError("RESULT_NOT_FOUND", "no result", common.ErrNotFound)
	}
	return &res, nil
}

func (f *fakeStore) list(match func(entity.ExamResult, *entity.ExamMeta) bool) []entity.ResultRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.ResultRow
	for _, res := range f.rows {
		meta := f.metas[res.ExamID]
		if meta == nil || !match(res, meta) {
			continue
		}
		out = append(out, entity.ResultRow{
			ExamResult: res,
			RollNumber: f.rolls[res.ParticipantID],
			ClassID:    meta.ClassID,
			SubjectID:  meta.SubjectID,
			ExamTitle:  meta.Title,
		})
	}
	return out
}

func (f *fakeStore) ListByExam(_ context.Context, examID uuid.UUID) ([]entity.ResultRow, error) {
	return f.list(func(r entity.ExamResult, _ *entity.ExamMeta) bool { return r.ExamID == examID }), nil
}

func (f *fakeStore) ListByParticipant(_ context.Context, participantID uuid.UUID) ([]entity.ResultRow, error) {
	return f.list(func(r entity.ExamResult, _ *entity.ExamMeta) bool { return r.ParticipantID == participantID }), nil
}

func (f *fakeStore) ListByClass(_ context.Context, classID uuid.UUID) ([]entity.ResultRow, error) {
	return f.list(func(_ entity.ExamResult, m *entity.ExamMeta) bool { return m.ClassID == classID }), nil
}

func (f *fakeStore) ListBySubject(_ context.Context, subjectID uuid.UUID) ([]entity.ResultRow, error) {
	return f.list(func(_ entity.ExamResult, m *entity.ExamMeta) bool { return m.SubjectID == subjectID }), nil
}

func (f *fakeStore) GetExamMeta(_ context.Context, examID uuid.UUID) (*entity.ExamMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	meta, ok := f.metas[examID]
	if !ok {
		return nil, common.NewAppError("EXAM_NOT_FOUND", "exam does not exist", common.ErrNotFound)
	}
	return meta, nil
}

func (f *fakeStore) ActiveExamIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id := range f.metas {
		ids = append(ids, id)
	}
	return ids, nil
}
func (f *fakeStore) ActiveParticipantIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeStore) ActiveClassIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeStore) ActiveSubjectIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeRecalc struct {
	mu    sync.Mutex
	calls []constants.AnalyticsScope
	err   error
}

func (f *fakeRecalc) RefreshScope(_ context.Context, scope constants.AnalyticsScope, _ *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scope)
	return f.err
}

func (f *fakeRecalc) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testQueueConfig() common.QueueConfig {
	return common.QueueConfig{
		Workers:         2,
		PollInterval:    5 * time.Millisecond,
		JobTimeout:      time.Second,
		MaxRetries:      3,
		BackoffBase:     time.Millisecond,
		Retention:       time.Hour,
		SweepInterval:   time.Hour,
		MonitorInterval: time.Hour,
		RecordTTL:       48 * time.Hour,
	}
}

type testRig struct {
	store   *Store
	service *Service
	pool    *Pool
	db      *fakeStore
	recalc  Recalculator
	cache   *cache.Client
	cancel  context.CancelFunc
}

func newTestRig(t *testing.T, cfg common.QueueConfig, recalc Recalculator) *testRig {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := zap.NewNop()
	cacheClient := cache.NewWithClient(rdb, logger)
	store := NewStore(rdb, cfg.RecordTTL, logger)
	service, err := NewService(store, cfg.MaxRetries, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	db := newFakeStore()
	if recalc == nil {
		recalc = &fakeRecalc{}
	}
	handlers := NewHandlers(db, db, cacheClient, recalc, store, time.Hour, logger)
	pool := NewPool(store, handlers, service, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})

	return &testRig{store: store, service: service, pool: pool, db: db, recalc: recalc, cache: cacheClient, cancel: cancel}
}

// waitFor polls a condition the way the job is processed: asynchronously.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msg)
		case <-tick.C:
			if cond() {
				return
			}
		}
	}
}

func (r *testRig) jobStatus(t *testing.T, jobID string) *Job {
	t.Helper()
	job, err := r.service.GetJobStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	return job
}

func seedExam(db *fakeStore) uuid.UUID {
	examID := uuid.New()
	db.mu.Lock()
	db.metas[examID] = &entity.ExamMeta{
		ID:           examID,
		Title:        "Unit Test Exam",
		SubjectID:    uuid.New(),
		ClassID:      uuid.New(),
		TotalMarks:   100,
		PassingMarks: 40,
	}
	db.mu.Unlock()
	return examID
}

func submission(score float64, at time.Time) Submission {
	end := at.Add(30 * time.Minute)
	return Submission{
		ParticipantID: uuid.New(),
		Score:         score,
		StartTime:     at,
		EndTime:       &end,
		IsCompleted:   true,
	}
}

func TestBatchJobLifecycle(t *testing.T) {
	rig := newTestRig(t, testQueueConfig(), nil)
	examID := seedExam(rig.db)
	start := time.Now().UTC().Add(-time.Hour)

	jobID, err := rig.service.EnqueueSubmissionBatch(context.Background(), SubmissionBatchPayload{
		ExamID:      examID,
		Submissions: []Submission{submission(90, start), submission(70, start)},
	}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, "batch completion", func() bool {
		return rig.jobStatus(t, jobID).Status == constants.JobStatusCompleted
	})

	job := rig.jobStatus(t, jobID)
	if job.RetryCount != 0 {
		t.Errorf("expected no retries, got %d", job.RetryCount)
	}
	if job.CompletedAt == nil || job.StartedAt == nil {
		t.Errorf("terminal job missing timestamps: %+v", job)
	}
	var summary BatchSummary
	if err := json.Unmarshal(job.Result, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Processed != 2 || summary.Failed != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	rig.db.mu.Lock()
	rowCount := len(rig.db.rows)
	rig.db.mu.Unlock()
	if rowCount != 2 {
		t.Errorf("expected 2 result rows, got %d", rowCount)
	}

	// Dependent jobs: leaderboard written, analytics refresh dispatched.
	waitFor(t, 2*time.Second, "leaderboard write", func() bool {
		var env entity.CachedAggregate
		found, _ := rig.cache.GetJSON(context.Background(), constants.KeyExamRankingsPrefix+examID.String(), &env)
		return found
	})
	recalc := rig.recalc.(*fakeRecalc)
	waitFor(t, 2*time.Second, "analytics refresh", func() bool {
		return recalc.callCount() > 0
	})
}

func TestBatchPartialFailure(t *testing.T) {
	rig := newTestRig(t, testQueueConfig(), nil)
	examID := seedExam(rig.db)
	start := time.Now().UTC().Add(-time.Hour)

	bad := submission(90, start)
	bad.ParticipantID = uuid.Nil

	jobID, err := rig.service.EnqueueSubmissionBatch(context.Background(), SubmissionBatchPayload{
		ExamID:      examID,
		Submissions: []Submission{submission(90, start), bad, submission(70, start)},
	}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, "batch completion", func() bool {
		return rig.jobStatus(t, jobID).Status == constants.JobStatusCompleted
	})

	var summary BatchSummary
	job := rig.jobStatus(t, jobID)
	if err := json.Unmarshal(job.Result, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Processed != 2 || summary.Failed != 1 {
		t.Errorf("expected 2 processed / 1 failed, got %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].ParticipantID != uuid.Nil {
		t.Errorf("unexpected failure record: %+v", summary.Failures)
	}

	rig.db.mu.Lock()
	rowCount := len(rig.db.rows)
	rig.db.mu.Unlock()
	if rowCount != 2 {
		t.Errorf("item failure aborted the batch: %d rows", rowCount)
	}
}

func TestDuplicateBatchIsIdempotent(t *testing.T) {
	rig := newTestRig(t, testQueueConfig(), nil)
	examID := seedExam(rig.db)
	start := time.Now().UTC().Add(-time.Hour)

	sub := submission(90, start)
	payload := SubmissionBatchPayload{ExamID: examID, Submissions: []Submission{sub}}

	first, err := rig.service.EnqueueSubmissionBatch(context.Background(), payload, "")
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	// Duplicate delivery with updated values.
	payload.Submissions[0].Score = 95
	second, err := rig.service.EnqueueSubmissionBatch(context.Background(), payload, "")
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	waitFor(t, 2*time.Second, "both batches", func() bool {
		return rig.jobStatus(t, first).Status == constants.JobStatusCompleted &&
			rig.jobStatus(t, second).Status == constants.JobStatusCompleted
	})

	rig.db.mu.Lock()
	rowCount := len(rig.db.rows)
	row := rig.db.rows[key(sub.ParticipantID, examID)]
	upserts := rig.db.upserts
	rig.db.mu.Unlock()

	if rowCount != 1 {
		t.Fatalf("duplicate delivery produced %d rows, want 1", rowCount)
	}
	if upserts != 2 {
		t.Errorf("expected 2 upsert calls, got %d", upserts)
	}
	if row.Score != 95 {
		t.Errorf("expected latest values to win, got score %v", row.Score)
	}
}

func TestRetryCeilingMarksFailed(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxRetries = 2
	rig := newTestRig(t, cfg, nil)

	// No exam meta seeded: the handler fails deterministically.
	examID := uuid.New()
	rig.db.mu.Lock()
	rig.db.metaErr = errors.New("store unavailable")
	rig.db.mu.Unlock()

	jobID, err := rig.service.EnqueueResultCalculation(context.Background(), examID, uuid.New(), "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 3*time.Second, "terminal failure", func() bool {
		return rig.jobStatus(t, jobID).Status == constants.JobStatusFailed
	})

	job := rig.jobStatus(t, jobID)
	if job.RetryCount != cfg.MaxRetries {
		t.Errorf("expected retry count %d at ceiling, got %d", cfg.MaxRetries, job.RetryCount)
	}
	if job.RetryCount > job.MaxRetries {
		t.Errorf("retry count exceeded budget: %d > %d", job.RetryCount, job.MaxRetries)
	}
	if job.LastError == "" {
		t.Error("terminal failure lost its captured error")
	}

	stats, err := rig.service.GetQueueStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed in stats, got %d", stats.Failed)
	}
}

func TestResultCalculationRecomputes(t *testing.T) {
	rig := newTestRig(t, testQueueConfig(), nil)
	examID := seedExam(rig.db)
	participant := uuid.New()

	// Stored row with a stale percentage.
	start := time.Now().UTC().Add(-time.Hour)
	end := start.Add(time.Hour)
	rig.db.mu.Lock()
	rig.db.rows[key(participant, examID)] = entity.ExamResult{
		ParticipantID: participant,
		ExamID:        examID,
		Score:         50,
		TotalMarks:    50, // wrong: exam totals 100
		Percentage:    100,
		StartTime:     start,
		EndTime:       &end,
		IsCompleted:   true,
	}
	rig.db.mu.Unlock()

	jobID, err := rig.service.EnqueueResultCalculation(context.Background(), examID, participant, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, 2*time.Second, "recalculation", func() bool {
		return rig.jobStatus(t, jobID).Status == constants.JobStatusCompleted
	})

	rig.db.mu.Lock()
	row := rig.db.rows[key(participant, examID)]
	rig.db.mu.Unlock()
	if row.TotalMarks != 100 || row.Percentage != 50 {
		t.Errorf("result not recomputed against exam meta: %+v", row)
	}
}

// End-to-end: a submitted batch flows through the worker, the dependent
// analytics job refreshes the precalculated exam statistics, and the
// read API serves them.
func TestSubmissionToExamStatsFlow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := zap.NewNop()
	cacheClient := cache.NewWithClient(rdb, logger)
	db := newFakeStore()
	examID := seedExam(db)

	manager := precalc.NewManager(db, db, cacheClient, common.PrecalcConfig{
		ExamStatsInterval:        30 * time.Minute,
		ExamStatsTTL:             time.Hour,
		StudentSummaryInterval:   time.Hour,
		StudentSummaryTTL:        2 * time.Hour,
		ClassRankingsInterval:    15 * time.Minute,
		ClassRankingsTTL:         30 * time.Minute,
		SubjectAnalyticsInterval: 2 * time.Hour,
		SubjectAnalyticsTTL:      4 * time.Hour,
		RankingsTTL:              time.Hour,
		Lookback:                 24 * time.Hour,
		BatchSize:                50,
		CycleSlack:               5 * time.Minute,
		SummaryWindow:            10,
	}, logger)

	cfg := testQueueConfig()
	store := NewStore(rdb, cfg.RecordTTL, logger)
	service, err := NewService(store, cfg.MaxRetries, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handlers := NewHandlers(db, db, cacheClient, manager, store, time.Hour, logger)
	pool := NewPool(store, handlers, service, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})

	start := time.Now().UTC().Add(-time.Hour)
	if _, err := service.EnqueueSubmissionBatch(ctx, SubmissionBatchPayload{
		ExamID: examID,
		Submissions: []Submission{
			submission(90, start),
			submission(90, start),
			submission(70, start),
		},
	}, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var stats entity.ExamStats
	waitFor(t, 3*time.Second, "exam stats aggregate", func() bool {
		envelope, _, err := manager.GetExamStats(context.Background(), examID)
		if err != nil {
			return false
		}
		if err := json.Unmarshal(envelope.Payload, &stats); err != nil {
			return false
		}
		return stats.Completed == 3
	})

	if stats.CompletionRate != 100 {
		t.Errorf("expected completion rate 100 (3/3), got %v", stats.CompletionRate)
	}
	if fmt.Sprintf("%.1f", stats.AverageScore) != "83.3" {
		t.Errorf("expected average ≈83.3, got %v", stats.AverageScore)
	}
	var bucketSum int
	for _, b := range stats.Distribution {
		bucketSum += b.Count
	}
	if bucketSum != 3 {
		t.Errorf("expected grade buckets to sum to 3, got %d", bucketSum)
	}
}
