package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"

	"finanalyzer/internal/application"
	"finanalyzer/internal/domain/analysis"
	"finanalyzer/internal/domain/jobs"
)

// DefaultQuery is applied when a submission carries no query text.
const DefaultQuery = "Analyze this financial document for investment insights"

// Engine runs one analysis over extracted text. Satisfied by the analysis
// application service; raw is the unparsed model output, kept for
// diagnostics when validation fails.
type Engine interface {
	Analyze(ctx context.Context, query, text string, hints analysis.MetadataHints) (*analysis.Result, string, error)
}

// Intake handles submissions and polling reads at the API boundary.
type Intake struct {
	store jobs.Store
	docs  jobs.DocumentStore
	queue jobs.Queue
	clock application.Clock
	log   *slog.Logger
}

func NewIntake(store jobs.Store, docs jobs.DocumentStore, queue jobs.Queue, log *slog.Logger) *Intake {
	return &Intake{store: store, docs: docs, queue: queue, clock: application.SystemClock{}, log: log}
}

// Submission is one uploaded document plus its optional owner and query.
type Submission struct {
	Filename string
	Data     []byte
	Query    string
	Email    string
	Name     *string
}

// Submit persists the document, upserts the user, creates a pending job and
// enqueues the task. It returns as soon as the task is on the queue; callers
// poll Result for the outcome.
func (s *Intake) Submit(ctx context.Context, sub Submission) (string, error) {
	query := sub.Query
	if query == "" {
		query = DefaultQuery
	}

	key := fmt.Sprintf("documents/financial_document_%s.pdf", uuid.NewString())
	if err := s.docs.Put(ctx, key, sub.Data, "application/pdf"); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}

	var userID *string
	if sub.Email != "" {
		id, err := s.store.CreateUserIfAbsent(ctx, sub.Email, sub.Name)
		if err != nil {
			return "", fmt.Errorf("upsert user: %w", err)
		}
		userID = &id
	}

	jobID, err := s.store.CreateJob(ctx, userID, key, query)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	task := jobs.Task{
		JobID:       jobID,
		DocumentKey: key,
		Query:       query,
		UserID:      userID,
		EnqueuedAt:  s.clock.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		// The job row exists but no worker will ever see it; close it out so
		// polling reports the failure instead of pending forever.
		msg := fmt.Sprintf("failed to enqueue task: %v", err)
		if ferr := s.store.RecordFailure(ctx, jobID, msg); ferr != nil {
			s.log.Error("record enqueue failure",
				slog.String("job_id", jobID),
				slog.String("error", ferr.Error()))
		}
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	s.log.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("document_key", key),
		slog.String("filename", sub.Filename))
	return jobID, nil
}

// ResultView is the polling read for one job. The error key is always
// present, null unless the job failed; result appears only once the job is
// done.
type ResultView struct {
	JobID  string           `json:"job_id"`
	Status jobs.Status      `json:"status"`
	Error  *string          `json:"error"`
	Result *analysis.Result `json:"result,omitempty"`
}

// Result returns the current state of a job, including the full structured
// result once the job is done. Unknown ids yield jobs.ErrJobNotFound.
func (s *Intake) Result(ctx context.Context, jobID string) (*ResultView, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := &ResultView{JobID: j.ID, Status: j.Status, Error: j.Error}
	if j.Status != jobs.StatusDone {
		return view, nil
	}

	a, err := s.store.GetAnalysis(ctx, jobID)
	if errors.Is(err, jobs.ErrAnalysisNotFound) {
		// Done without a row should not happen given the transactional
		// success path; surface the job state with a null result.
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	var res analysis.Result
	if err := json.Unmarshal([]byte(a.ResultJSON), &res); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	view.Result = &res
	return view, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Intake) ListJobs(ctx context.Context, limit int) ([]*jobs.Job, error) {
	return s.store.LatestJobs(ctx, limit)
}

// Orchestrator runs one queued task end to end. It is the task boundary:
// extraction, model and contract failures become terminal job state and are
// never returned to the queue, so deterministic failures are not redelivered.
// Only the inability to write that terminal state propagates, which the
// worker treats as a transient-retry signal.
type Orchestrator struct {
	store     jobs.Store
	docs      jobs.DocumentStore
	extractor analysis.TextExtractor
	engine    Engine
	log       *slog.Logger
}

func NewOrchestrator(store jobs.Store, docs jobs.DocumentStore, extractor analysis.TextExtractor, engine Engine, log *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, docs: docs, extractor: extractor, engine: engine, log: log}
}

func (o *Orchestrator) Process(ctx context.Context, t jobs.Task) error {
	log := o.log.With(slog.String("job_id", t.JobID))

	j, err := o.store.GetJob(ctx, t.JobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		log.Warn("task references unknown job, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if j.Status.Terminal() {
		// Redelivery after a completed run; the row already holds the outcome.
		log.Info("job already terminal, skipping", slog.String("status", string(j.Status)))
		return nil
	}

	data, err := o.docs.Get(ctx, j.DocumentKey)
	if err != nil {
		return o.fail(ctx, log, j.ID, "store", fmt.Sprintf("load document: %v", err), "")
	}

	ext, err := o.extractor.Extract(ctx, data)
	if err != nil {
		return o.fail(ctx, log, j.ID, "extract", err.Error(), "")
	}

	hints := analysis.MetadataHints{
		Source: path.Base(j.DocumentKey),
		Pages:  &ext.Pages,
	}
	res, raw, err := o.engine.Analyze(ctx, j.Query, ext.Text, hints)
	if err != nil {
		phase := "model"
		if errors.Is(err, analysis.ErrInvalidModelOutput) {
			phase = "contract"
		}
		return o.fail(ctx, log, j.ID, phase, err.Error(), raw)
	}

	a, err := jobs.DenormalizeAnalysis(j.ID, res)
	if err != nil {
		return o.fail(ctx, log, j.ID, "store", fmt.Sprintf("serialize result: %v", err), "")
	}

	if err := o.store.RecordSuccess(ctx, j.ID, a); err != nil {
		if errors.Is(err, jobs.ErrAlreadyTerminal) {
			log.Info("lost completion race, keeping existing terminal state")
			return nil
		}
		return fmt.Errorf("record success: %w", err)
	}
	log.Info("job done",
		slog.String("action", derefOr(a.RecommendationAction, "")),
		slog.Int("confidence", derefIntOr(a.Confidence, 0)))
	return nil
}

// fail converts a processing error into terminal job state plus a
// diagnostics row. It returns an error only when the terminal write itself
// fails.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, jobID, phase, message, raw string) error {
	log.Warn("job failed",
		slog.String("phase", phase),
		slog.String("error", message))
	if err := o.store.RecordDiagnostics(ctx, &jobs.JobError{
		JobID:     jobID,
		Phase:     phase,
		Message:   message,
		RawOutput: raw,
	}); err != nil {
		log.Error("record diagnostics", slog.String("error", err.Error()))
	}
	if err := o.store.RecordFailure(ctx, jobID, message); err != nil {
		if errors.Is(err, jobs.ErrAlreadyTerminal) {
			return nil
		}
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func derefIntOr(n *int, fallback int) int {
	if n == nil {
		return fallback
	}
	return *n
}
