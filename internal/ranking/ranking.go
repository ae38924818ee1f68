// Package ranking orders participant scores into a deterministic total
// order. It is pure: no I/O, same input always yields the same output.
package ranking

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/evalhub/results-engine/internal/entity"
)

// Entry is one participant's line in a leaderboard. TotalMarks is the
// aggregate score over the matched results (a single exam's score in
// single-exam mode, the sum in cumulative mode). RecentPerformance is
// the percentage of the most recently completed matched result.
type Entry struct {
	ParticipantID        uuid.UUID `json:"participant_id"`
	RollNumber           string    `json:"roll_number,omitempty"`
	TotalMarks           float64   `json:"total_marks"`
	Score                float64   `json:"score"`
	Percentage           float64   `json:"percentage"`
	RecentPerformance    float64   `json:"recent_performance"`
	CompletionDurationMs *int64    `json:"completion_duration_ms,omitempty"`
	ExamCount            int       `json:"exam_count,omitempty"`
	AveragePercentage    float64   `json:"average_percentage,omitempty"`
	Position             int       `json:"position"`
}

// Rank stably sorts entries into leaderboard order and assigns 1-based
// positions. The input slice is not modified.
//
// Ordering, applied in sequence until one criterion separates two
// entries:
//  1. higher TotalMarks
//  2. higher RecentPerformance (missing counts as 0)
//  3. lower CompletionDurationMs; entries without one sort after all
//     entries that have one
//  4. ascending plain-string RollNumber; entries without one sort last
//
// Entries equal on all four keep their original relative order.
func Rank(entries []Entry) []Entry {
	ranked := make([]Entry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return before(ranked[i], ranked[j])
	})
	for i := range ranked {
		ranked[i].Position = i + 1
	}
	return ranked
}

func before(a, b Entry) bool {
	if a.TotalMarks != b.TotalMarks {
		return a.TotalMarks > b.TotalMarks
	}
	if a.RecentPerformance != b.RecentPerformance {
		return a.RecentPerformance > b.RecentPerformance
	}
	switch {
	case a.CompletionDurationMs != nil && b.CompletionDurationMs != nil:
		if *a.CompletionDurationMs != *b.CompletionDurationMs {
			return *a.CompletionDurationMs < *b.CompletionDurationMs
		}
	case a.CompletionDurationMs != nil:
		return true
	case b.CompletionDurationMs != nil:
		return false
	}
	switch {
	case a.RollNumber != "" && b.RollNumber != "":
		if a.RollNumber != b.RollNumber {
			return a.RollNumber < b.RollNumber
		}
	case a.RollNumber != "":
		return true
	case b.RollNumber != "":
		return false
	}
	return false
}

// BuildExamEntries converts one exam's result rows into unranked
// entries. Each participant has at most one row per exam, so a row maps
// straight onto an entry; recent performance is the row's own
// percentage.
func BuildExamEntries(rows []entity.ResultRow) []Entry {
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			ParticipantID:        row.ParticipantID,
			RollNumber:           row.RollNumber,
			TotalMarks:           row.Score,
			Score:                row.Score,
			Percentage:           row.Percentage,
			RecentPerformance:    row.Percentage,
			CompletionDurationMs: row.CompletionDurationMs(),
			ExamCount:            1,
			AveragePercentage:    row.Percentage,
		})
	}
	return entries
}

// BuildCumulativeEntries groups rows by participant for a cross-exam
// leaderboard (class or subject scope). Scores and marks are summed,
// recent performance is the percentage of the participant's most
// recently completed row, and completion duration is the sum over
// completed attempts. Grouping preserves first-seen row order so the
// result is deterministic for a given row sequence.
func BuildCumulativeEntries(rows []entity.ResultRow) []Entry {
	type acc struct {
		entry      Entry
		totalPct   float64
		sumMarks   float64
		durationMs int64
		hasDur     bool
		recentEnd  time.Time
	}
	index := make(map[uuid.UUID]int)
	groups := make([]*acc, 0)

	for _, row := range rows {
		i, ok := index[row.ParticipantID]
		if !ok {
			i = len(groups)
			index[row.ParticipantID] = i
			groups = append(groups, &acc{entry: Entry{
				ParticipantID: row.ParticipantID,
				RollNumber:    row.RollNumber,
			}})
		}
		g := groups[i]
		g.entry.Score += row.Score
		g.entry.TotalMarks += row.Score
		g.sumMarks += row.TotalMarks
		g.totalPct += row.Percentage
		g.entry.ExamCount++
		if ms := row.CompletionDurationMs(); ms != nil {
			g.durationMs += *ms
			g.hasDur = true
		}
		if row.IsCompleted && row.EndTime != nil && row.EndTime.After(g.recentEnd) {
			g.recentEnd = *row.EndTime
			g.entry.RecentPerformance = row.Percentage
		}
	}

	entries := make([]Entry, 0, len(groups))
	for _, g := range groups {
		if g.sumMarks > 0 {
			g.entry.Percentage = g.entry.Score / g.sumMarks * 100
		}
		if g.entry.ExamCount > 0 {
			g.entry.AveragePercentage = g.totalPct / float64(g.entry.ExamCount)
		}
		if g.hasDur {
			ms := g.durationMs
			g.entry.CompletionDurationMs = &ms
		}
		entries = append(entries, g.entry)
	}
	return entries
}
