package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleExportExamResults(w http.ResponseWriter, r *http.Request) {
	examID, err := urlUUID(r, "examID")
	if err != nil {
		s.respondError(w, err)
		return
	}

	data, err := s.export.ExportExamResultsXLSX(r.Context(), examID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%s-results.xlsx"`, examID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to stream export", zap.Error(err))
	}
}
