package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/duckmesh/duckxfer/internal/transfer"
)

var ErrNotFound = errors.New("jobs: not found")

// Ledger persists the terminal outcome of transfer jobs.
type Ledger interface {
	HealthCheck(ctx context.Context) error
	RecordJob(ctx context.Context, record Record) error
	GetJob(ctx context.Context, jobID string) (Record, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]Record, error)
}

type Record struct {
	JobID          string
	Kind           transfer.JobKind
	Status         transfer.JobStatus
	Target         string
	RecordCount    int64
	OutputLocation string
	ErrorKind      string
	ErrorMessage   string
	StartedAt      time.Time
	FinishedAt     time.Time
}

type ListFilter struct {
	Kind  transfer.JobKind
	Limit int
}

const DefaultListLimit = 50

// FromJob builds the ledger record of a finished job. cause is the error the
// job failed with, if any.
func FromJob(job transfer.Job, cause error) Record {
	record := Record{
		JobID:          job.ID,
		Kind:           job.Kind,
		Status:         job.Status,
		Target:         job.Target,
		RecordCount:    job.RecordsProcessed,
		OutputLocation: job.OutputLocation,
		ErrorMessage:   job.Error,
		StartedAt:      job.StartedAt.UTC(),
		FinishedAt:     job.FinishedAt.UTC(),
	}
	if cause != nil {
		record.Status = transfer.StatusFailed
		record.ErrorKind = string(transfer.KindOf(cause))
		if record.ErrorMessage == "" {
			record.ErrorMessage = cause.Error()
		}
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}
	return record
}
