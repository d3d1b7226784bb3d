package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/duckmesh/duckxfer/internal/jobs"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

const maxListLimit = 500

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping ledger db: %w", err)
	}
	return nil
}

// RecordJob stores a job outcome. Recording the same job twice keeps the
// latest outcome.
func (r *Repository) RecordJob(ctx context.Context, record jobs.Record) error {
	if strings.TrimSpace(record.JobID) == "" {
		return fmt.Errorf("record job: job id is required")
	}
	query := `
INSERT INTO transfer_job (job_id, kind, status, target, record_count, output_location, error_kind, error_message, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
ON CONFLICT (job_id)
DO UPDATE SET status = EXCLUDED.status,
    record_count = EXCLUDED.record_count,
    output_location = EXCLUDED.output_location,
    error_kind = EXCLUDED.error_kind,
    error_message = EXCLUDED.error_message,
    finished_at = EXCLUDED.finished_at`
	if _, err := r.db.ExecContext(ctx, query,
		record.JobID,
		string(record.Kind),
		string(record.Status),
		record.Target,
		record.RecordCount,
		record.OutputLocation,
		record.ErrorKind,
		record.ErrorMessage,
		record.StartedAt,
		record.FinishedAt,
	); err != nil {
		return fmt.Errorf("record job %s: %w", record.JobID, err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, jobID string) (jobs.Record, error) {
	query := `
SELECT job_id, kind, status, target, record_count, COALESCE(output_location, ''), COALESCE(error_kind, ''), COALESCE(error_message, ''), started_at, finished_at
FROM transfer_job
WHERE job_id = $1`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Record{}, jobs.ErrNotFound
		}
		return jobs.Record{}, fmt.Errorf("get job: %w", err)
	}
	return record, nil
}

func (r *Repository) ListJobs(ctx context.Context, filter jobs.ListFilter) ([]jobs.Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = jobs.DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT job_id, kind, status, target, record_count, COALESCE(output_location, ''), COALESCE(error_kind, ''), COALESCE(error_message, ''), started_at, finished_at
FROM transfer_job
WHERE ($1 = '' OR kind = $1)
ORDER BY finished_at DESC, job_id ASC
LIMIT $2`, string(filter.Kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]jobs.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (jobs.Record, error) {
	var (
		record jobs.Record
		kind   string
		status string
	)
	if err := row.Scan(
		&record.JobID,
		&kind,
		&status,
		&record.Target,
		&record.RecordCount,
		&record.OutputLocation,
		&record.ErrorKind,
		&record.ErrorMessage,
		&record.StartedAt,
		&record.FinishedAt,
	); err != nil {
		return jobs.Record{}, err
	}
	record.Kind = transfer.JobKind(kind)
	record.Status = transfer.JobStatus(status)
	return record, nil
}
