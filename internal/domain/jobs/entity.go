package jobs

import (
	"encoding/json"
	"time"

	"finanalyzer/internal/domain/analysis"
)

// Status enum. Transitions are pending -> done or pending -> error, exactly
// once; both are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

// User is created lazily on the first submission carrying an email and is
// never deleted by this service.
type User struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name,omitempty"`
}

// Job is one queued unit of analysis work tied to one uploaded document.
type Job struct {
	ID          string    `json:"id"`
	UserID      *string   `json:"user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Status      Status    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	DocumentKey string    `json:"document_key"`
	Query       string    `json:"query"`
}

// Analysis is the persisted result of successfully processing a Job. At most
// one row exists per job; the full result is kept as a JSON blob alongside
// denormalized scalar columns for filtering.
type Analysis struct {
	ID                   string    `json:"id"`
	JobID                string    `json:"job_id"`
	ResultJSON           string    `json:"result_json"`
	Company              *string   `json:"company,omitempty"`
	Quarter              *string   `json:"quarter,omitempty"`
	Year                 *int      `json:"year,omitempty"`
	RecommendationAction *string   `json:"recommendation_action,omitempty"`
	Confidence           *int      `json:"confidence,omitempty"`
	Pages                *int      `json:"pages,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// JobError is a diagnostics row retained when a job fails; for contract
// violations it keeps the raw model output that did not validate.
type JobError struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Phase     string    `json:"phase"` // extract | model | contract | store
	Message   string    `json:"message"`
	RawOutput string    `json:"raw_output,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DenormalizeAnalysis flattens a validated result into the persisted shape.
func DenormalizeAnalysis(jobID string, res *analysis.Result) (*Analysis, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	action := string(res.Recommendation.Action)
	conf := res.Recommendation.Confidence
	return &Analysis{
		JobID:                jobID,
		ResultJSON:           string(b),
		Company:              res.Metadata.Company,
		Quarter:              res.Metadata.Quarter,
		Year:                 res.Metadata.Year,
		RecommendationAction: &action,
		Confidence:           &conf,
		Pages:                res.Metadata.Pages,
	}, nil
}
