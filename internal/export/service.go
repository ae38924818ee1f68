package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/internal/ranking"
	"github.com/evalhub/results-engine/internal/repository"
)

// Service produces XLSX bytes for operator exports: a results sheet
// with one row per participant and a standings sheet with the ranked
// leaderboard for the same exam.
type Service struct {
	results repository.ResultsRepository
	exams   repository.ExamRepository
	logger  *zap.Logger
}

func NewService(results repository.ResultsRepository, exams repository.ExamRepository, logger *zap.Logger) *Service {
	return &Service{results: results, exams: exams, logger: logger}
}

// ExportExamResultsXLSX returns a workbook for one exam.
func (s *Service) ExportExamResultsXLSX(ctx context.Context, examID uuid.UUID) ([]byte, error) {
	start := time.Now()

	meta, err := s.exams.GetExamMeta(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("query exam: %w", err)
	}
	rows, err := s.results.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	f := excelize.NewFile()
	const resultsSheet = "Results"
	const standingsSheet = "Standings"
	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(standingsSheet); err != nil {
		return nil, err
	}

	write := func(sheet string, col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	resultHeaders := []string{
		"Roll Number",
		"Participant ID",
		"Score",
		"Total Marks",
		"Percentage",
		"Completed",
		"Started",
		"Finished",
		"Verdict",
	}
	for i, h := range resultHeaders {
		write(resultsSheet, i+1, 1, h)
	}

	row := 2
	for _, r := range rows {
		verdict := "fail"
		if r.Score >= meta.PassingMarks {
			verdict = "pass"
		}
		if !r.IsCompleted {
			verdict = "incomplete"
		}

		write(resultsSheet, 1, row, r.RollNumber)
		write(resultsSheet, 2, row, r.ParticipantID.String())
		write(resultsSheet, 3, row, r.Score)
		write(resultsSheet, 4, row, r.TotalMarks)
		write(resultsSheet, 5, row, fmt.Sprintf("%.1f", r.Percentage))
		write(resultsSheet, 6, row, r.IsCompleted)
		write(resultsSheet, 7, row, r.StartTime.Format(time.RFC3339))
		if r.EndTime != nil {
			write(resultsSheet, 8, row, r.EndTime.Format(time.RFC3339))
		}
		write(resultsSheet, 9, row, verdict)
		row++
	}

	standingHeaders := []string{
		"Position",
		"Roll Number",
		"Participant ID",
		"Score",
		"Percentage",
		"Duration (ms)",
	}
	for i, h := range standingHeaders {
		write(standingsSheet, i+1, 1, h)
	}

	ranked := ranking.Rank(ranking.BuildExamEntries(rows))
	for i, e := range ranked {
		write(standingsSheet, 1, i+2, e.Position)
		write(standingsSheet, 2, i+2, e.RollNumber)
		write(standingsSheet, 3, i+2, e.ParticipantID.String())
		write(standingsSheet, 4, i+2, e.Score)
		write(standingsSheet, 5, i+2, fmt.Sprintf("%.1f", e.Percentage))
		if e.CompletionDurationMs != nil {
			write(standingsSheet, 6, i+2, *e.CompletionDurationMs)
		}
	}

	_ = f.SetColWidth(resultsSheet, "A", "B", 18)
	_ = f.SetColWidth(resultsSheet, "G", "H", 22)
	_ = f.SetColWidth(standingsSheet, "B", "C", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("exam export written",
		zap.String("exam_id", examID.String()),
		zap.Int("rows", len(rows)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), nil
}
