package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/internal/cache"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/export"
	"github.com/evalhub/results-engine/internal/precalc"
	"github.com/evalhub/results-engine/internal/queue"
)

// Server exposes the queue API, the cache-read API and the ops surface
// over HTTP. Request handlers only enqueue or read cache; every heavy
// recompute happens in the workers and schedulers behind them.
type Server struct {
	queue   *queue.Service
	precalc *precalc.Manager
	export  *export.Service
	cache   *cache.Client
	pool    *pgxpool.Pool
	logger  *zap.Logger
}

func New(
	queueSvc *queue.Service,
	precalcMgr *precalc.Manager,
	exportSvc *export.Service,
	cacheClient *cache.Client,
	pool *pgxpool.Pool,
	logger *zap.Logger,
) *Server {
	return &Server{
		queue:   queueSvc,
		precalc: precalcMgr,
		export:  exportSvc,
		cache:   cacheClient,
		pool:    pool,
		logger:  logger,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Post("/submission-batches", s.handleEnqueueSubmissionBatch)
			r.Post("/result-calculations", s.handleEnqueueResultCalculation)
			r.Post("/ranking-updates", s.handleEnqueueRankingUpdate)
			r.Post("/analytics-refreshes", s.handleEnqueueAnalyticsRefresh)
			r.Get("/jobs/{jobID}", s.handleJobStatus)
			r.Get("/stats", s.handleQueueStats)
		})

		r.Get("/exams/{examID}/stats", s.handleExamStats)
		r.Get("/exams/{examID}/rankings", s.handleExamRankings)
		r.Get("/exams/{examID}/results.xlsx", s.handleExportExamResults)
		r.Get("/students/{participantID}/summary", s.handleStudentSummary)
		r.Get("/classes/{classID}/rankings", s.handleClassRankings)
		r.Get("/subjects/{subjectID}/analytics", s.handleSubjectAnalytics)

		r.Post("/precalc/refresh", s.handleForceRefresh)
		r.Delete("/rankings", s.handleInvalidateRankings)
		r.Get("/monitor/queue", s.handleMonitorSnapshot)
	})

	return r
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := common.HTTPStatus(err)
	message := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		// The message is what the caller should see; the cause chain
		// stays in the logs.
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		// Do not leak internals to dashboards.
		message = "internal error"
	}
	s.respondJSON(w, status, map[string]string{"error": message})
}

// urlUUID parses a uuid path parameter.
func urlUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, common.NewAppError("INVALID_ID", name+" must be a UUID", common.ErrInvalidInput)
	}
	return id, nil
}

func decodeBody(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return common.NewAppError("INVALID_BODY", "request body is not valid JSON for this endpoint", common.ErrInvalidInput)
	}
	return nil
}
