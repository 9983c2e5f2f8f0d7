package mysql

import (
	"context"
	"database/sql"
	"errors"

	"finanalyzer/internal/domain/jobs"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*jobs.Job, error) {
	var j jobs.Job
	if err := r.Scan(&j.ID, &j.UserID, &j.CreatedAt, &j.Status, &j.Error, &j.DocumentKey, &j.Query); err != nil {
		return nil, err
	}
	return &j, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// A guarded status update matches zero rows either because the job does not
// exist or because it is already terminal; disambiguate with a lookup.
func classifyNoRows(ctx context.Context, q querier, jobID string) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id=? LIMIT 1;`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return jobs.ErrAlreadyTerminal
}

func guardTransition(ctx context.Context, tx *sql.Tx, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return classifyNoRows(ctx, tx, jobID)
	}
	return nil
}

func guardTransitionDB(ctx context.Context, db *sql.DB, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return classifyNoRows(ctx, db, jobID)
	}
	return nil
}
