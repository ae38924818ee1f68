package common

import "context"

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyJobID    contextKey = "job_id"
	ContextKeyWorkerID contextKey = "worker_id"
)

// WithJobID adds the currently processed job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext extracts the job ID from context
func JobIDFromContext(ctx context.Context) string {
	if jobID, ok := ctx.Value(ContextKeyJobID).(string); ok {
		return jobID
	}
	return ""
}

// WithWorkerID tags the context with the worker that owns the job
func WithWorkerID(ctx context.Context, workerID int) context.Context {
	return context.WithValue(ctx, ContextKeyWorkerID, workerID)
}

// WorkerIDFromContext extracts the worker ID from context, 0 when absent
func WorkerIDFromContext(ctx context.Context) int {
	if workerID, ok := ctx.Value(ContextKeyWorkerID).(int); ok {
		return workerID
	}
	return 0
}
