package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/entity"
	"github.com/evalhub/results-engine/internal/repository"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "cache": "ok"}
	healthy := true

	if err := repository.HealthCheck(r.Context(), s.pool, 2*time.Second); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := s.cache.Ping(r.Context()); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, checks)
}

// handleForceRefresh synchronously reruns every precalc category once.
// Operators and tests use it; dashboards never should.
func (s *Server) handleForceRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.precalc.ForceRefresh(r.Context()); err != nil {
		s.logger.Error("force refresh failed", zap.Error(err))
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleInvalidateRankings(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.cache.DeleteByPrefix(r.Context(), constants.KeyRankingsPrefix)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("rankings invalidated", zap.Int64("deleted", deleted))
	s.respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleMonitorSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap entity.QueueSnapshot
	found, err := s.cache.GetJSON(r.Context(), constants.KeyQueueMonitor, &snap)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !found {
		s.respondError(w, common.NewAppError("SNAPSHOT_NOT_READY", "not available yet", common.ErrNotFound))
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}
