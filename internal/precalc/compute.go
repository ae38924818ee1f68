package precalc

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/evalhub/results-engine/internal/entity"
	"github.com/evalhub/results-engine/internal/ranking"
)

// ClassRankings is the cached payload for one class leaderboard: every
// participant's results grouped and ranked cumulatively.
type ClassRankings struct {
	ClassID      uuid.UUID       `json:"class_id"`
	Participants int             `json:"participants"`
	Entries      []ranking.Entry `json:"entries"`
}

// gradeBounds are the fixed histogram boundaries, highest first. The
// final <60 bucket catches everything below the last bound.
var gradeBounds = []entity.GradeBucket{
	{Range: "95-100", Min: 95},
	{Range: "90-94", Min: 90},
	{Range: "85-89", Min: 85},
	{Range: "80-84", Min: 80},
	{Range: "75-79", Min: 75},
	{Range: "70-74", Min: 70},
	{Range: "65-69", Min: 65},
	{Range: "60-64", Min: 60},
	{Range: "<60", Min: 0},
}

func computeExamStats(meta *entity.ExamMeta, rows []entity.ResultRow) entity.ExamStats {
	stats := entity.ExamStats{
		ExamID:       meta.ID,
		Title:        meta.Title,
		Attempted:    len(rows),
		Distribution: make([]entity.GradeBucket, len(gradeBounds)),
	}
	copy(stats.Distribution, gradeBounds)

	var percentages []float64
	var passed int
	for _, row := range rows {
		if !row.IsCompleted {
			continue
		}
		stats.Completed++
		percentages = append(percentages, row.Percentage)
		if row.Score >= meta.PassingMarks {
			passed++
		}
		for i := range stats.Distribution {
			if row.Percentage >= float64(stats.Distribution[i].Min) {
				stats.Distribution[i].Count++
				break
			}
		}
	}

	if stats.Attempted > 0 {
		stats.CompletionRate = float64(stats.Completed) / float64(stats.Attempted) * 100
	}
	if stats.Completed > 0 {
		stats.AverageScore = mean(percentages)
		stats.MedianScore = median(percentages)
		stats.MinScore = minOf(percentages)
		stats.MaxScore = maxOf(percentages)
		stats.StdDeviation = stddevPop(percentages)
		stats.PassRate = float64(passed) / float64(stats.Completed) * 100
	}
	return stats
}

// letterGrade maps a window-average percentage to a coarse grade.
func letterGrade(avg float64) string {
	switch {
	case avg >= 90:
		return "A"
	case avg >= 80:
		return "B"
	case avg >= 70:
		return "C"
	case avg >= 60:
		return "D"
	default:
		return "F"
	}
}

// trendDeadband is the ± band, in percentage points, inside which the
// improvement trend reads as stable.
const trendDeadband = 5.0

func computeStudentSummary(participantID uuid.UUID, rows []entity.ResultRow, window int) entity.StudentSummary {
	summary := entity.StudentSummary{
		ParticipantID: participantID,
		Trend:         entity.TrendStable,
		Grade:         letterGrade(0),
	}

	var completed []entity.ResultRow
	for _, row := range rows {
		if row.RollNumber != "" && summary.RollNumber == "" {
			summary.RollNumber = row.RollNumber
		}
		if row.IsCompleted {
			completed = append(completed, row)
		}
	}
	summary.ExamsTaken = len(completed)
	if len(completed) == 0 {
		return summary
	}

	// Most recent first; attempts without an end time fall back to
	// their start time for ordering.
	sort.SliceStable(completed, func(i, j int) bool {
		return orderTime(completed[i]).After(orderTime(completed[j]))
	})

	recent := completed
	if len(recent) > window {
		recent = recent[:window]
	}
	summary.WindowSize = len(recent)

	var windowPct []float64
	for _, row := range recent {
		windowPct = append(windowPct, row.Percentage)
		summary.RecentResults = append(summary.RecentResults, entity.RecentResult{
			ExamID:     row.ExamID,
			ExamTitle:  row.ExamTitle,
			Percentage: row.Percentage,
			EndTime:    row.EndTime,
		})
	}
	summary.AveragePercentage = mean(windowPct)
	summary.Grade = letterGrade(summary.AveragePercentage)

	// Newer half against older half with a deadband; too few results
	// stay stable.
	if half := len(recent) / 2; half > 0 {
		diff := mean(windowPct[:half]) - mean(windowPct[half:])
		switch {
		case diff > trendDeadband:
			summary.Trend = entity.TrendImproving
		case diff < -trendDeadband:
			summary.Trend = entity.TrendDeclining
		}
	}

	// Per-subject averages over the lifetime of completed results,
	// first-seen subject order.
	subjectIdx := make(map[uuid.UUID]int)
	var sums []float64
	for _, row := range completed {
		i, ok := subjectIdx[row.SubjectID]
		if !ok {
			i = len(summary.SubjectAverages)
			subjectIdx[row.SubjectID] = i
			summary.SubjectAverages = append(summary.SubjectAverages, entity.SubjectAverage{SubjectID: row.SubjectID})
			sums = append(sums, 0)
		}
		summary.SubjectAverages[i].Exams++
		sums[i] += row.Percentage
	}
	for i := range summary.SubjectAverages {
		summary.SubjectAverages[i].AveragePercentage = sums[i] / float64(summary.SubjectAverages[i].Exams)
	}
	return summary
}

func computeClassRankings(classID uuid.UUID, rows []entity.ResultRow) ClassRankings {
	entries := ranking.Rank(ranking.BuildCumulativeEntries(rows))
	return ClassRankings{
		ClassID:      classID,
		Participants: len(entries),
		Entries:      entries,
	}
}

func computeSubjectAnalytics(subjectID uuid.UUID, rows []entity.ResultRow) entity.SubjectAnalytics {
	analytics := entity.SubjectAnalytics{SubjectID: subjectID}

	exams := make(map[uuid.UUID]struct{})
	classIdx := make(map[uuid.UUID]int)
	var classSums []float64
	var total float64
	for _, row := range rows {
		if !row.IsCompleted {
			continue
		}
		analytics.Results++
		total += row.Percentage
		exams[row.ExamID] = struct{}{}

		i, ok := classIdx[row.ClassID]
		if !ok {
			i = len(analytics.ByClass)
			classIdx[row.ClassID] = i
			analytics.ByClass = append(analytics.ByClass, entity.ClassBreakdown{ClassID: row.ClassID})
			classSums = append(classSums, 0)
		}
		analytics.ByClass[i].Results++
		classSums[i] += row.Percentage
	}
	analytics.Exams = len(exams)
	if analytics.Results > 0 {
		analytics.AveragePercentage = total / float64(analytics.Results)
	}
	for i := range analytics.ByClass {
		analytics.ByClass[i].AveragePercentage = classSums[i] / float64(analytics.ByClass[i].Results)
	}
	return analytics
}

func orderTime(row entity.ResultRow) time.Time {
	if row.EndTime != nil {
		return *row.EndTime
	}
	return row.StartTime
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stddevPop(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
