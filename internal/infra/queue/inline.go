package queue

import (
	"context"

	"finanalyzer/internal/domain/jobs"
)

// Processor handles one task. Satisfied by the jobs orchestrator.
type Processor interface {
	Process(ctx context.Context, t jobs.Task) error
}

// Inline runs each task synchronously at enqueue time, in the API process.
// Used in sync-debug mode and in tests; no broker involved.
type Inline struct {
	proc Processor
}

func NewInline(proc Processor) *Inline { return &Inline{proc: proc} }

func (q *Inline) Enqueue(ctx context.Context, t jobs.Task) error {
	return q.proc.Process(ctx, t)
}
