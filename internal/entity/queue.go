package entity

import "time"

// QueueStats is the operator-facing view of the job queue. Queued counts
// jobs visible to workers right now; QueueLength additionally includes
// jobs waiting out a retry delay.
type QueueStats struct {
	Queued                  int64   `json:"queued"`
	Processing              int64   `json:"processing"`
	Completed               int64   `json:"completed"`
	Failed                  int64   `json:"failed"`
	QueueLength             int64   `json:"queue_length"`
	AverageProcessingTimeMs float64 `json:"average_processing_time_ms"`
	ActiveWorkers           int64   `json:"active_workers"`
}

// QueueSnapshot is the data contract published for the realtime
// monitoring relay: the stats block plus per-lane depths.
type QueueSnapshot struct {
	Stats     QueueStats       `json:"stats"`
	Lanes     map[string]int64 `json:"lanes"`
	UpdatedAt time.Time        `json:"updated_at"`
}
