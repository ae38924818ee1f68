package constants

// JobType is the canonical type tag for queued jobs.
type JobType string

// Stable values (store these exact strings in the job record).
const (
	JobTypeSubmissionBatch   JobType = "submission_batch"
	JobTypeResultCalculation JobType = "result_calculation"
	JobTypeRankingUpdate     JobType = "ranking_update"
	JobTypeAnalyticsRefresh  JobType = "analytics_refresh"
)

// JobStatus is the canonical lifecycle state for queued jobs.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"     // visible to workers (or waiting out a retry delay)
	JobStatusProcessing JobStatus = "processing" // owned by exactly one worker
	JobStatusCompleted  JobStatus = "completed"  // terminal
	JobStatusFailed     JobStatus = "failed"     // terminal, retry budget exhausted
)

// Terminal reports whether a status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobPriority selects one of the four dispatch lanes.
type JobPriority string

const (
	PriorityCritical JobPriority = "critical"
	PriorityHigh     JobPriority = "high"
	PriorityNormal   JobPriority = "normal"
	PriorityLow      JobPriority = "low"
)

// Lanes lists every priority in dispatch order. Workers drain earlier
// lanes before looking at later ones.
var Lanes = []JobPriority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// ValidPriority reports whether p is one of the four lanes.
func ValidPriority(p JobPriority) bool {
	for _, lane := range Lanes {
		if p == lane {
			return true
		}
	}
	return false
}

// AnalyticsScope names the aggregate family an analytics_refresh job targets.
type AnalyticsScope string

const (
	ScopeExam    AnalyticsScope = "exam"
	ScopeStudent AnalyticsScope = "student"
	ScopeClass   AnalyticsScope = "class"
	ScopeSubject AnalyticsScope = "subject"
	ScopeAll     AnalyticsScope = "all"
)

// ValidScope reports whether s is a known analytics scope.
func ValidScope(s AnalyticsScope) bool {
	switch s {
	case ScopeExam, ScopeStudent, ScopeClass, ScopeSubject, ScopeAll:
		return true
	}
	return false
}
