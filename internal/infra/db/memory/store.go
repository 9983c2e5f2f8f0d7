package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"finanalyzer/internal/domain/jobs"
)

// Store is an in-memory jobs.Store. It backs tests and the sync-debug mode
// where no database is configured; nothing survives a restart.
type Store struct {
	mu       sync.Mutex
	users    map[string]*jobs.User // keyed by email
	jobs     map[string]*jobs.Job
	analyses map[string]*jobs.Analysis // keyed by job id
	errors   []*jobs.JobError
	now      func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]*jobs.User),
		jobs:     make(map[string]*jobs.Job),
		analyses: make(map[string]*jobs.Analysis),
		now:      time.Now,
	}
}

func (s *Store) CreateUserIfAbsent(_ context.Context, email string, name *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok {
		return u.ID, nil
	}
	u := &jobs.User{ID: uuid.NewString(), Email: email, Name: name}
	s.users[email] = u
	return u.ID, nil
}

func (s *Store) CreateJob(_ context.Context, userID *string, documentKey, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &jobs.Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		CreatedAt:   s.now().UTC(),
		Status:      jobs.StatusPending,
		DocumentKey: documentKey,
		Query:       query,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *Store) GetJob(_ context.Context, id string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) GetAnalysis(_ context.Context, jobID string) (*jobs.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[jobID]
	if !ok {
		return nil, jobs.ErrAnalysisNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) RecordSuccess(_ context.Context, jobID string, a *jobs.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return jobs.ErrAlreadyTerminal
	}
	cp := *a
	cp.ID = uuid.NewString()
	cp.JobID = jobID
	cp.CreatedAt = s.now().UTC()
	s.analyses[jobID] = &cp
	j.Status = jobs.StatusDone
	return nil
}

func (s *Store) RecordFailure(_ context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return jobs.ErrAlreadyTerminal
	}
	j.Status = jobs.StatusError
	j.Error = &message
	return nil
}

func (s *Store) RecordDiagnostics(_ context.Context, e *jobs.JobError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ID = int64(len(s.errors) + 1)
	cp.CreatedAt = s.now().UTC()
	s.errors = append(s.errors, &cp)
	return nil
}

func (s *Store) LatestJobs(_ context.Context, limit int) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*jobs.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Diagnostics returns recorded failure diagnostics, oldest first. Test hook.
func (s *Store) Diagnostics() []*jobs.JobError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*jobs.JobError, len(s.errors))
	copy(out, s.errors)
	return out
}
