package entity

import (
	"time"

	"github.com/google/uuid"
)

// GradeBucket is one slot of the fixed score histogram served with exam
// statistics. Buckets keep their display order, which a map would lose.
type GradeBucket struct {
	Range string `json:"range"` // e.g. "90-94", "<60"
	Min   int    `json:"min"`
	Count int    `json:"count"`
}

// ExamStats is the precalculated statistics payload for one exam.
// Score-derived fields are computed over completed attempts only.
type ExamStats struct {
	ExamID         uuid.UUID     `json:"exam_id"`
	Title          string        `json:"title"`
	Attempted      int           `json:"attempted"`
	Completed      int           `json:"completed"`
	CompletionRate float64       `json:"completion_rate"` // percent
	AverageScore   float64       `json:"average_score"`   // mean percentage
	MedianScore    float64       `json:"median_score"`
	MinScore       float64       `json:"min_score"`
	MaxScore       float64       `json:"max_score"`
	StdDeviation   float64       `json:"std_deviation"` // population
	PassRate       float64       `json:"pass_rate"`     // percent, against passing marks
	Distribution   []GradeBucket `json:"distribution"`
}

// SubjectAverage is a per-subject slice of a student summary.
type SubjectAverage struct {
	SubjectID         uuid.UUID `json:"subject_id"`
	Exams             int       `json:"exams"`
	AveragePercentage float64   `json:"average_percentage"`
}

// RecentResult is one row of a student summary's rolling window.
type RecentResult struct {
	ExamID     uuid.UUID  `json:"exam_id"`
	ExamTitle  string     `json:"exam_title"`
	Percentage float64    `json:"percentage"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// StudentSummary is the precalculated per-participant payload: a rolling
// window over the most recent completed results plus derived trend/grade.
type StudentSummary struct {
	ParticipantID     uuid.UUID        `json:"participant_id"`
	RollNumber        string           `json:"roll_number"`
	ExamsTaken        int              `json:"exams_taken"` // completed, lifetime
	WindowSize        int              `json:"window_size"`
	AveragePercentage float64          `json:"average_percentage"`
	Grade             string           `json:"grade"`
	Trend             string           `json:"trend"` // improving | declining | stable
	SubjectAverages   []SubjectAverage `json:"subject_averages"`
	RecentResults     []RecentResult   `json:"recent_results"`
}

// Trend values for StudentSummary.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// ClassBreakdown is one class's slice of a subject analytics payload.
type ClassBreakdown struct {
	ClassID           uuid.UUID `json:"class_id"`
	Results           int       `json:"results"`
	AveragePercentage float64   `json:"average_percentage"`
}

// SubjectAnalytics is the precalculated payload for one subject across all
// of its exams.
type SubjectAnalytics struct {
	SubjectID         uuid.UUID        `json:"subject_id"`
	Exams             int              `json:"exams"`
	Results           int              `json:"results"`
	AveragePercentage float64          `json:"average_percentage"`
	ByClass           []ClassBreakdown `json:"by_class"`
}
