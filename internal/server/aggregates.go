package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/evalhub/results-engine/internal/entity"
)

// aggregateResponse wraps a served aggregate with its freshness flag so
// dashboards can distinguish fresh data from an overdue refresh.
type aggregateResponse struct {
	Data        json.RawMessage `json:"data"`
	LastUpdated time.Time       `json:"last_updated"`
	Stale       bool            `json:"stale"`
}

type aggregateReader func(ctx context.Context, id uuid.UUID) (*entity.CachedAggregate, bool, error)

func (s *Server) serveAggregate(w http.ResponseWriter, r *http.Request, param string, read aggregateReader) {
	id, err := urlUUID(r, param)
	if err != nil {
		s.respondError(w, err)
		return
	}
	envelope, stale, err := read(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, aggregateResponse{
		Data:        envelope.Payload,
		LastUpdated: envelope.LastUpdated,
		Stale:       stale,
	})
}

func (s *Server) handleExamStats(w http.ResponseWriter, r *http.Request) {
	s.serveAggregate(w, r, "examID", s.precalc.GetExamStats)
}

func (s *Server) handleExamRankings(w http.ResponseWriter, r *http.Request) {
	s.serveAggregate(w, r, "examID", s.precalc.GetExamRankings)
}

func (s *Server) handleStudentSummary(w http.ResponseWriter, r *http.Request) {
	s.serveAggregate(w, r, "participantID", s.precalc.GetStudentSummary)
}

func (s *Server) handleClassRankings(w http.ResponseWriter, r *http.Request) {
	s.serveAggregate(w, r, "classID", s.precalc.GetClassRankings)
}

func (s *Server) handleSubjectAnalytics(w http.ResponseWriter, r *http.Request) {
	s.serveAggregate(w, r, "subjectID", s.precalc.GetSubjectAnalytics)
}
