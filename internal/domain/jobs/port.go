package jobs

import (
	"context"
	"time"
)

// Store port for job/user/analysis persistence. All mutations run inside a
// transaction that commits on success and rolls back fully on error.
type Store interface {
	// CreateUserIfAbsent looks a user up by unique email and inserts one when
	// absent. Idempotent by email.
	CreateUserIfAbsent(ctx context.Context, email string, name *string) (string, error)

	// CreateJob inserts a new pending job and returns its id.
	CreateJob(ctx context.Context, userID *string, documentKey, query string) (string, error)

	// GetJob returns ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, id string) (*Job, error)

	// GetAnalysis returns the analysis row for a job, or ErrAnalysisNotFound.
	GetAnalysis(ctx context.Context, jobID string) (*Analysis, error)

	// RecordSuccess atomically inserts the analysis row and marks the job
	// done. The job update is guarded on status=pending: reapplying to an
	// already-terminal job is a no-op and never creates a second analysis.
	RecordSuccess(ctx context.Context, jobID string, a *Analysis) error

	// RecordFailure marks the job errored with a message, guarded the same
	// way as RecordSuccess.
	RecordFailure(ctx context.Context, jobID, message string) error

	// RecordDiagnostics persists a failure diagnostics row. Best effort;
	// independent of the job row transaction.
	RecordDiagnostics(ctx context.Context, e *JobError) error

	// LatestJobs lists the most recent jobs, newest first.
	LatestJobs(ctx context.Context, limit int) ([]*Job, error)
}

// DocumentStore port for the uploaded document bytes.
type DocumentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Task is the queued unit of work. It travels as JSON through the broker.
type Task struct {
	JobID       string    `json:"job_id"`
	DocumentKey string    `json:"document_key"`
	Query       string    `json:"query"`
	UserID      *string   `json:"user_id,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Delivery    int       `json:"delivery"` // redelivery counter, broker-side
}

// Queue port. Delivery is at-least-once: a task may reach a worker more than
// once and consumers must tolerate duplicate execution.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}
