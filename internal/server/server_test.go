package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/cache"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
	"github.com/evalhub/results-engine/internal/export"
	"github.com/evalhub/results-engine/internal/precalc"
	"github.com/evalhub/results-engine/internal/queue"
)

// stubRepo serves a fixed set of result rows and one exam.
type stubRepo struct {
	meta *entity.ExamMeta
	rows []entity.ResultRow
}

func (s *stubRepo) UpsertResult(context.Context, entity.ExamResult) error { return nil }
func (s *stubRepo) GetResult(context.Context, uuid.UUID, uuid.UUID) (*entity.ExamResult, error) {
	return nil, common.NewAppError("RESULT_NOT_FOUND", "no result", common.ErrNotFound)
}
func (s *stubRepo) ListByExam(context.Context, uuid.UUID) ([]entity.ResultRow, error) {
	return s.rows, nil
}
func (s *stubRepo) ListByParticipant(context.Context, uuid.UUID) ([]entity.ResultRow, error) {
	return s.rows, nil
}
func (s *stubRepo) ListByClass(context.Context, uuid.UUID) ([]entity.ResultRow, error) {
	return s.rows, nil
}
func (s *stubRepo) ListBySubject(context.Context, uuid.UUID) ([]entity.ResultRow, error) {
	return s.rows, nil
}
func (s *stubRepo) GetExamMeta(context.Context, uuid.UUID) (*entity.ExamMeta, error) {
	if s.meta == nil {
		return nil, common.NewAppError("EXAM_NOT_FOUND", "exam does not exist", common.ErrNotFound)
	}
	return s.meta, nil
}
func (s *stubRepo) ActiveExamIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}
func (s *stubRepo) ActiveParticipantIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}
func (s *stubRepo) ActiveClassIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}
func (s *stubRepo) ActiveSubjectIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}

type fixture struct {
	server  *Server
	precalc *precalc.Manager
	cache   *cache.Client
	repo    *stubRepo
	examID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := zap.NewNop()
	cacheClient := cache.NewWithClient(rdb, logger)

	examID := uuid.New()
	end := time.Now().UTC().Add(-time.Hour)
	start := end.Add(-time.Hour)
	repo := &stubRepo{
		meta: &entity.ExamMeta{
			ID:           examID,
			Title:        "Midterm",
			SubjectID:    uuid.New(),
			ClassID:      uuid.New(),
			TotalMarks:   100,
			PassingMarks: 40,
		},
	}
	for _, score := range []float64{90, 70} {
		endCopy := end
		repo.rows = append(repo.rows, entity.ResultRow{
			ExamResult: entity.ExamResult{
				ParticipantID: uuid.New(),
				ExamID:        examID,
				Score:         score,
				TotalMarks:    100,
				Percentage:    score,
				StartTime:     start,
				EndTime:       &endCopy,
				IsCompleted:   true,
			},
			RollNumber: "R-" + uuid.NewString()[:4],
			ClassID:    repo.meta.ClassID,
			SubjectID:  repo.meta.SubjectID,
			ExamTitle:  repo.meta.Title,
		})
	}

	store := queue.NewStore(rdb, time.Hour, logger)
	queueSvc, err := queue.NewService(store, 3, logger)
	if err != nil {
		t.Fatalf("queue service: %v", err)
	}
	manager := precalc.NewManager(repo, repo, cacheClient, common.PrecalcConfig{
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
	exportSvc := export.NewService(repo, repo, logger)

	srv := New(queueSvc, manager, exportSvc, cacheClient, nil, logger)
	return &fixture{server: srv, precalc: manager, cache: cacheClient, repo: repo, examID: examID}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestEnqueueRankingUpdateAndReadBack(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/queue/ranking-updates", map[string]string{
		"exam_id": f.examID.String(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	decodeInto(t, rec, &resp)
	if resp.JobID == "" {
		t.Fatal("missing job_id")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/queue/jobs/"+resp.JobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("job status = %d", rec.Code)
	}
	var job queue.Job
	decodeInto(t, rec, &job)
	if job.Status != constants.JobStatusQueued || job.Priority != constants.PriorityHigh {
		t.Errorf("unexpected job: status=%s priority=%s", job.Status, job.Priority)
	}
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		path string
		body any
	}{
		{"bad json", "/api/v1/queue/ranking-updates", "not-json"},
		{"missing exam", "/api/v1/queue/ranking-updates", map[string]string{}},
		{"bad uuid", "/api/v1/queue/ranking-updates", map[string]string{"exam_id": "nope"}},
		{"bad priority", "/api/v1/queue/ranking-updates", map[string]string{
			"exam_id": f.examID.String(), "priority": "urgent",
		}},
		{"bad scope", "/api/v1/queue/analytics-refreshes", map[string]string{"scope": "galaxy"}},
		{"empty batch", "/api/v1/queue/submission-batches", map[string]any{
			"exam_id": f.examID.String(), "submissions": []any{},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tc.path, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAggregateMissReturns404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/exams/"+f.examID.String()+"/stats", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp map[string]string
	decodeInto(t, rec, &resp)
	if !strings.Contains(resp["error"], "not available yet") {
		t.Errorf("unexpected error body: %q", resp["error"])
	}
}

func TestAggregateServedAfterRefresh(t *testing.T) {
	f := newFixture(t)
	if err := f.precalc.RefreshExamStats(context.Background(), f.examID); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/exams/"+f.examID.String()+"/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data        entity.ExamStats `json:"data"`
		LastUpdated time.Time        `json:"last_updated"`
		Stale       bool             `json:"stale"`
	}
	decodeInto(t, rec, &resp)
	if resp.Stale {
		t.Error("fresh aggregate reported stale")
	}
	if resp.LastUpdated.IsZero() {
		t.Error("missing last_updated")
	}
	if resp.Data.Completed != 2 || resp.Data.AverageScore != 80 {
		t.Errorf("unexpected stats: %+v", resp.Data)
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/queue/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats entity.QueueStats
	decodeInto(t, rec, &stats)
	if stats.Queued != 0 || stats.Processing != 0 {
		t.Errorf("expected empty queue, got %+v", stats)
	}
}

func TestJobStatusUnknownReturns404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/queue/jobs/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp map[string]string
	decodeInto(t, rec, &resp)
	// An unknown job is a caller mistake, not a pending aggregate.
	if resp["error"] != "no such job" {
		t.Errorf("error = %q, want %q", resp["error"], "no such job")
	}
}

func TestForceRefreshEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/precalc/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The sweep found no targets but ran; reads still miss.
	rec = f.do(t, http.MethodGet, "/api/v1/exams/"+uuid.NewString()+"/stats", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestInvalidateRankings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	envelope, err := entity.WrapAggregate(json.RawMessage(`{}`), time.Now().UTC())
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.cache.SetJSON(ctx, constants.KeyExamRankingsPrefix+f.examID.String(), envelope, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := f.do(t, http.MethodDelete, "/api/v1/rankings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	decodeInto(t, rec, &resp)
	if resp.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", resp.Deleted)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/exams/"+f.examID.String()+"/rankings", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("rankings survived invalidation: %d", rec.Code)
	}
}

func TestMonitorSnapshotMissReturns404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/monitor/queue", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestExportExamResults(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/exams/"+f.examID.String()+"/results.xlsx", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheet") {
		t.Errorf("unexpected content type %q", ct)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer workbook.Close()
	rows, err := workbook.GetRows("Results")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	// Header plus one row per stored result.
	if len(rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(rows))
	}
}
