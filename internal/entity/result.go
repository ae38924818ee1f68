package entity

import (
	"time"

	"github.com/google/uuid"
)

// ExamResult represents one participant's authoritative result row for one
// exam, unique per (participant_id, exam_id). The platform owns the table;
// this service upserts and reads it.
type ExamResult struct {
	ParticipantID uuid.UUID  `json:"participant_id"`
	ExamID        uuid.UUID  `json:"exam_id"`
	Score         float64    `json:"score"`
	TotalMarks    float64    `json:"total_marks"`
	Percentage    float64    `json:"percentage"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	IsCompleted   bool       `json:"is_completed"`
}

// CompletionDurationMs returns the wall-clock duration of a completed
// attempt in milliseconds, or nil when the attempt has no end time.
func (r ExamResult) CompletionDurationMs() *int64 {
	if !r.IsCompleted || r.EndTime == nil {
		return nil
	}
	ms := r.EndTime.Sub(r.StartTime).Milliseconds()
	if ms < 0 {
		return nil
	}
	return &ms
}

// ResultRow is the read-side projection of ExamResult joined with the
// membership columns the ranking and aggregation paths group by.
type ResultRow struct {
	ExamResult
	RollNumber string    `json:"roll_number"`
	ClassID    uuid.UUID `json:"class_id"`
	SubjectID  uuid.UUID `json:"subject_id"`
	ExamTitle  string    `json:"exam_title"`
}

// ExamMeta is the exam timing/grading metadata read from the platform's
// exams table. Referenced, never written, by this service.
type ExamMeta struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	SubjectID    uuid.UUID  `json:"subject_id"`
	ClassID      uuid.UUID  `json:"class_id"`
	TotalMarks   float64    `json:"total_marks"`
	PassingMarks float64    `json:"passing_marks"`
	StartsAt     time.Time  `json:"starts_at"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
}
