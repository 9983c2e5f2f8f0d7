package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"finanalyzer/internal/domain/jobs"
)

// Store implements jobs.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// EnsureSchema creates the tables when absent. Called once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id         UUID PRIMARY KEY,
  email      TEXT NOT NULL UNIQUE,
  name       TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS jobs (
  id           UUID PRIMARY KEY,
  user_id      UUID NULL,
  created_at   TIMESTAMPTZ NOT NULL,
  status       TEXT NOT NULL,
  error        TEXT NULL,
  document_key TEXT NOT NULL,
  query        TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs (user_id);`,
		`CREATE TABLE IF NOT EXISTS analyses (
  id                    UUID PRIMARY KEY,
  job_id                UUID NOT NULL UNIQUE,
  result_json           TEXT NOT NULL,
  company               TEXT NULL,
  quarter               TEXT NULL,
  year                  INT NULL,
  recommendation_action TEXT NULL,
  confidence            INT NULL,
  pages                 INT NULL,
  created_at            TIMESTAMPTZ NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS job_errors (
  id         BIGSERIAL PRIMARY KEY,
  job_id     UUID NOT NULL,
  phase      TEXT NOT NULL,
  message    TEXT NOT NULL,
  raw_output TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_job_errors_job ON job_errors (job_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateUserIfAbsent(ctx context.Context, email string, name *string) (string, error) {
	const q = `INSERT INTO users (id, email, name, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
RETURNING id;`
	var id string
	err := s.db.QueryRowContext(ctx, q, uuid.NewString(), email, name, time.Now().UTC()).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateJob(ctx context.Context, userID *string, documentKey, query string) (string, error) {
	id := uuid.NewString()
	const q = `INSERT INTO jobs (id, user_id, created_at, status, error, document_key, query)
VALUES ($1,$2,$3,$4,NULL,$5,$6);`
	_, err := s.db.ExecContext(ctx, q, id, userID, time.Now().UTC(), jobs.StatusPending, documentKey, query)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	const q = `SELECT id, user_id, created_at, status, error, document_key, query
FROM jobs WHERE id=$1 LIMIT 1;`
	var j jobs.Job
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&j.ID, &j.UserID, &j.CreatedAt, &j.Status, &j.Error, &j.DocumentKey, &j.Query,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) GetAnalysis(ctx context.Context, jobID string) (*jobs.Analysis, error) {
	const q = `SELECT id, job_id, result_json, company, quarter, year,
       recommendation_action, confidence, pages, created_at
FROM analyses WHERE job_id=$1 LIMIT 1;`
	var a jobs.Analysis
	err := s.db.QueryRowContext(ctx, q, jobID).Scan(
		&a.ID, &a.JobID, &a.ResultJSON, &a.Company, &a.Quarter, &a.Year,
		&a.RecommendationAction, &a.Confidence, &a.Pages, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrAnalysisNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) RecordSuccess(ctx context.Context, jobID string, a *jobs.Analysis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upd = `UPDATE jobs SET status=$1, error=NULL WHERE id=$2 AND status=$3;`
	res, err := tx.ExecContext(ctx, upd, jobs.StatusDone, jobID, jobs.StatusPending)
	if err != nil {
		return err
	}
	if err := s.guard(ctx, tx, res, jobID); err != nil {
		return err
	}

	const ins = `INSERT INTO analyses
  (id, job_id, result_json, company, quarter, year, recommendation_action, confidence, pages, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`
	_, err = tx.ExecContext(ctx, ins,
		uuid.NewString(), jobID, a.ResultJSON, a.Company, a.Quarter, a.Year,
		a.RecommendationAction, a.Confidence, a.Pages, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RecordFailure(ctx context.Context, jobID, message string) error {
	const q = `UPDATE jobs SET status=$1, error=$2 WHERE id=$3 AND status=$4;`
	res, err := s.db.ExecContext(ctx, q, jobs.StatusError, message, jobID, jobs.StatusPending)
	if err != nil {
		return err
	}
	return s.guard(ctx, nil, res, jobID)
}

func (s *Store) RecordDiagnostics(ctx context.Context, e *jobs.JobError) error {
	const q = `INSERT INTO job_errors (job_id, phase, message, raw_output, created_at)
VALUES ($1,$2,$3,$4,$5);`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, q, e.JobID, e.Phase, e.Message, e.RawOutput, created)
	return err
}

func (s *Store) LatestJobs(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT id, user_id, created_at, status, error, document_key, query
FROM jobs ORDER BY created_at DESC, id DESC LIMIT $1;`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*jobs.Job
	for rows.Next() {
		var j jobs.Job
		if err := rows.Scan(&j.ID, &j.UserID, &j.CreatedAt, &j.Status, &j.Error, &j.DocumentKey, &j.Query); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// guard disambiguates a zero-row guarded update: missing job vs terminal job.
func (s *Store) guard(ctx context.Context, tx *sql.Tx, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 0 {
		return nil
	}
	row := func(q string, args ...any) *sql.Row {
		if tx != nil {
			return tx.QueryRowContext(ctx, q, args...)
		}
		return s.db.QueryRowContext(ctx, q, args...)
	}
	var status string
	err = row(`SELECT status FROM jobs WHERE id=$1 LIMIT 1;`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return jobs.ErrAlreadyTerminal
}
