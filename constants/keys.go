package constants

// Redis key layout. Everything the service stores in the shared cache
// substrate hangs off one of these prefixes, so operators can SCAN a
// family without guessing.
const (
	// Job bookkeeping.
	KeyJobRecordPrefix = "jobs:record:"     // + jobID -> JSON job envelope
	KeyLanePrefix      = "queue:lane:"      // + priority -> ZSET jobID scored by createdAt
	KeyDelayedPrefix   = "queue:delayed:"   // + priority -> ZSET jobID scored by readyAt
	KeyProcessingSet   = "queue:processing" // SET of in-flight jobIDs
	KeyTerminalSet     = "queue:terminal"   // ZSET jobID scored by completedAt, drives retention
	KeyQueueStats      = "queue:stats"      // HASH of lifetime counters

	// Served aggregates.
	KeyExamStatsPrefix        = "agg:examstats:"        // + examID
	KeyStudentSummaryPrefix   = "agg:studentsummary:"   // + participantID
	KeyClassRankingsPrefix    = "agg:classrankings:"    // + classID
	KeySubjectAnalyticsPrefix = "agg:subjectanalytics:" // + subjectID

	// Leaderboards written by ranking_update jobs.
	KeyExamRankingsPrefix = "rankings:exam:" // + examID

	// Prefix covering every ranking-flavoured key, for bulk invalidation.
	KeyRankingsPrefix = "rankings:"

	// Queue snapshot consumed by the realtime monitoring relay.
	KeyQueueMonitor = "monitor:queue"
)

// LaneKey returns the ready-lane key for a priority.
func LaneKey(p JobPriority) string { return KeyLanePrefix + string(p) }

// DelayedKey returns the retry-delay key for a priority.
func DelayedKey(p JobPriority) string { return KeyDelayedPrefix + string(p) }

// JobKey returns the record key for a job ID.
func JobKey(id string) string { return KeyJobRecordPrefix + id }
