package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"finanalyzer/internal/domain/jobs"
)

// Store implements jobs.Store on MySQL.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// EnsureSchema creates the tables when absent. Called once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id         CHAR(36) PRIMARY KEY,
  email      VARCHAR(255) NOT NULL UNIQUE,
  name       VARCHAR(255) NULL,
  created_at DATETIME NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS jobs (
  id           CHAR(36) PRIMARY KEY,
  user_id      CHAR(36) NULL,
  created_at   DATETIME NOT NULL,
  status       VARCHAR(16) NOT NULL,
  error        TEXT NULL,
  document_key VARCHAR(512) NOT NULL,
  query        TEXT NOT NULL,
  INDEX idx_jobs_created (created_at),
  INDEX idx_jobs_user (user_id)
);`,
		`CREATE TABLE IF NOT EXISTS analyses (
  id                    CHAR(36) PRIMARY KEY,
  job_id                CHAR(36) NOT NULL UNIQUE,
  result_json           MEDIUMTEXT NOT NULL,
  company               VARCHAR(255) NULL,
  quarter               VARCHAR(32) NULL,
  year                  INT NULL,
  recommendation_action VARCHAR(16) NULL,
  confidence            INT NULL,
  pages                 INT NULL,
  created_at            DATETIME NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS job_errors (
  id         BIGINT PRIMARY KEY AUTO_INCREMENT,
  job_id     CHAR(36) NOT NULL,
  phase      VARCHAR(32) NOT NULL,
  message    TEXT NOT NULL,
  raw_output MEDIUMTEXT NULL,
  created_at DATETIME NOT NULL,
  INDEX idx_job_errors_job (job_id)
);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateUserIfAbsent(ctx context.Context, email string, name *string) (string, error) {
	const sel = `SELECT id FROM users WHERE email=? LIMIT 1;`
	var id string
	err := s.db.QueryRowContext(ctx, sel, email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	id = uuid.NewString()
	const ins = `INSERT INTO users (id, email, name, created_at) VALUES (?,?,?,?)
ON DUPLICATE KEY UPDATE id=id;`
	if _, err := s.db.ExecContext(ctx, ins, id, email, name, time.Now().UTC()); err != nil {
		return "", err
	}
	// A concurrent insert may have won the race; read back the canonical id.
	if err := s.db.QueryRowContext(ctx, sel, email).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateJob(ctx context.Context, userID *string, documentKey, query string) (string, error) {
	id := uuid.NewString()
	const q = `INSERT INTO jobs (id, user_id, created_at, status, error, document_key, query)
VALUES (?,?,?,?,NULL,?,?);`
	_, err := s.db.ExecContext(ctx, q, id, userID, time.Now().UTC(), jobs.StatusPending, documentKey, query)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	const q = `SELECT id, user_id, created_at, status, error, document_key, query
FROM jobs WHERE id=? LIMIT 1;`
	row := s.db.QueryRowContext(ctx, q, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrJobNotFound
	}
	return j, err
}

func (s *Store) GetAnalysis(ctx context.Context, jobID string) (*jobs.Analysis, error) {
	const q = `SELECT id, job_id, result_json, company, quarter, year,
       recommendation_action, confidence, pages, created_at
FROM analyses WHERE job_id=? LIMIT 1;`
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

// RecordSuccess inserts the analysis row and flips the job to done in one
// transaction. The update is guarded on status=pending so a redelivered task
// cannot rewrite a terminal job or insert a second analysis.
func (s *Store) RecordSuccess(ctx context.Context, jobID string, a *jobs.Analysis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upd = `UPDATE jobs SET status=?, error=NULL WHERE id=? AND status=?;`
	res, err := tx.ExecContext(ctx, upd, jobs.StatusDone, jobID, jobs.StatusPending)
	if err != nil {
		return err
	}
	if err := guardTransition(ctx, tx, res, jobID); err != nil {
		return err
	}

	const ins = `INSERT INTO analyses
  (id, job_id, result_json, company, quarter, year, recommendation_action, confidence, pages, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?);`
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
	const q = `UPDATE jobs SET status=?, error=? WHERE id=? AND status=?;`
	res, err := s.db.ExecContext(ctx, q, jobs.StatusError, message, jobID, jobs.StatusPending)
	if err != nil {
		return err
	}
	return guardTransitionDB(ctx, s.db, res, jobID)
}

func (s *Store) RecordDiagnostics(ctx context.Context, e *jobs.JobError) error {
	const q = `INSERT INTO job_errors (job_id, phase, message, raw_output, created_at)
VALUES (?,?,?,?,?);`
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
FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
