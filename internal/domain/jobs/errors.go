package jobs

import "errors"

// ErrJobNotFound indicates the job id does not exist in the store. At the
// task boundary this is a no-op, not a retryable failure.
var ErrJobNotFound = errors.New("job not found")

// ErrAnalysisNotFound indicates a done job has no persisted analysis row.
var ErrAnalysisNotFound = errors.New("analysis not found")

// ErrAlreadyTerminal indicates a guarded transition was applied to a job that
// already reached done or error. Callers treat it as a safe no-op.
var ErrAlreadyTerminal = errors.New("job already in terminal state")
