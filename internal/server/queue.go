package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/evalhub/results-engine/constants"
	"github.com/evalhub/results-engine/internal/common"
	"github.com/evalhub/results-engine/internal/queue"
)

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleEnqueueSubmissionBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		queue.SubmissionBatchPayload
		Priority string `json:"priority"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	v := common.NewValidator()
	v.Field("priority", req.Priority, common.Priority)
	if err := v.Error(); err != nil {
		s.respondError(w, err)
		return
	}

	jobID, err := s.queue.EnqueueSubmissionBatch(r.Context(), req.SubmissionBatchPayload, constants.JobPriority(req.Priority))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, enqueueResponse{JobID: jobID})
}

func (s *Server) handleEnqueueResultCalculation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExamID        string `json:"exam_id"`
		ParticipantID string `json:"participant_id"`
		Priority      string `json:"priority"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	v := common.NewValidator()
	v.Field("exam_id", req.ExamID, common.Required, common.UUID)
	v.Field("participant_id", req.ParticipantID, common.Required, common.UUID)
	v.Field("priority", req.Priority, common.Priority)
	if err := v.Error(); err != nil {
		s.respondError(w, err)
		return
	}

	jobID, err := s.queue.EnqueueResultCalculation(r.Context(),
		uuid.MustParse(req.ExamID), uuid.MustParse(req.ParticipantID), constants.JobPriority(req.Priority))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, enqueueResponse{JobID: jobID})
}

func (s *Server) handleEnqueueRankingUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExamID   string `json:"exam_id"`
		Priority string `json:"priority"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	v := common.NewValidator()
	v.Field("exam_id", req.ExamID, common.Required, common.UUID)
	v.Field("priority", req.Priority, common.Priority)
	if err := v.Error(); err != nil {
		s.respondError(w, err)
		return
	}

	jobID, err := s.queue.EnqueueRankingUpdate(r.Context(), uuid.MustParse(req.ExamID), constants.JobPriority(req.Priority))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, enqueueResponse{JobID: jobID})
}

func (s *Server) handleEnqueueAnalyticsRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope    string `json:"scope"`
		TargetID string `json:"target_id"`
		Priority string `json:"priority"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	v := common.NewValidator()
	v.Field("scope", req.Scope, common.Required, common.Scope)
	v.Field("priority", req.Priority, common.Priority)
	if req.TargetID != "" {
		v.Field("target_id", req.TargetID, common.UUID)
	}
	if err := v.Error(); err != nil {
		s.respondError(w, err)
		return
	}

	var target *uuid.UUID
	if req.TargetID != "" {
		id := uuid.MustParse(req.TargetID)
		target = &id
	}
	jobID, err := s.queue.EnqueueAnalyticsRefresh(r.Context(),
		constants.AnalyticsScope(req.Scope), target, constants.JobPriority(req.Priority))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, enqueueResponse{JobID: jobID})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.GetQueueStats(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}
