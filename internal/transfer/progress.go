package transfer

import (
	"context"
	"errors"
	"time"
)

var ErrJobFinished = errors.New("transfer job already finished")

type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

type Event struct {
	Type           EventType `json:"type"`
	JobID          string    `json:"job_id,omitempty"`
	Progress       int       `json:"progress"`
	Processed      int64     `json:"processed,omitempty"`
	Total          int64     `json:"total,omitempty"`
	Complete       bool      `json:"complete,omitempty"`
	RecordCount    int64     `json:"record_count,omitempty"`
	OutputLocation string    `json:"output_location,omitempty"`
	Error          string    `json:"error,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Reporter receives the events of one job in generation order. A returned
// error means the consumer is gone and the transfer must stop.
type Reporter interface {
	Report(ctx context.Context, event Event) error
}

type ReporterFunc func(ctx context.Context, event Event) error

func (f ReporterFunc) Report(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// ChannelReporter delivers events on ch. It blocks until the event is
// received or ctx is done.
func ChannelReporter(ch chan<- Event) Reporter {
	return ReporterFunc(func(ctx context.Context, event Event) error {
		select {
		case ch <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Discard drops every event.
var Discard Reporter = ReporterFunc(func(context.Context, Event) error { return nil })

// Progress drives the event stream of a single job. Progress values never
// decrease and stay below 100 until Complete; exactly one of Complete or Fail
// is emitted.
type Progress struct {
	job      Job
	reporter Reporter
	clock    func() time.Time
	finished bool
}

func NewProgress(job Job, reporter Reporter) *Progress {
	if reporter == nil {
		reporter = Discard
	}
	p := &Progress{job: job, reporter: reporter, clock: time.Now}
	p.job.Status = StatusRunning
	if p.job.StartedAt.IsZero() {
		p.job.StartedAt = p.clock()
	}
	return p
}

func (p *Progress) Job() Job {
	return p.job
}

func (p *Progress) Finished() bool {
	return p.finished
}

func (p *Progress) Update(ctx context.Context, percent int, processed, total int64) error {
	if p.finished {
		return ErrJobFinished
	}
	if percent > 99 {
		percent = 99
	}
	if percent < p.job.PercentComplete {
		percent = p.job.PercentComplete
	}
	p.job.PercentComplete = percent
	p.job.RecordsProcessed = processed
	return p.reporter.Report(ctx, Event{
		Type:      EventProgress,
		JobID:     p.job.ID,
		Progress:  percent,
		Processed: processed,
		Total:     total,
	})
}

func (p *Progress) Complete(ctx context.Context, recordCount int64, location string) error {
	if p.finished {
		return ErrJobFinished
	}
	p.finished = true
	p.job.Status = StatusSucceeded
	p.job.PercentComplete = 100
	p.job.RecordsProcessed = recordCount
	p.job.OutputLocation = location
	p.job.FinishedAt = p.clock()
	return p.reporter.Report(ctx, Event{
		Type:           EventComplete,
		JobID:          p.job.ID,
		Progress:       100,
		Complete:       true,
		RecordCount:    recordCount,
		OutputLocation: location,
	})
}

// Fail emits the terminal error event.
func (p *Progress) Fail(ctx context.Context, cause error) error {
	if p.finished {
		return ErrJobFinished
	}
	p.finished = true
	p.job.Status = StatusFailed
	p.job.FinishedAt = p.clock()
	message := "transfer failed"
	if cause != nil {
		message = cause.Error()
	}
	p.job.Error = message
	return p.reporter.Report(ctx, Event{
		Type:     EventError,
		JobID:    p.job.ID,
		Progress: p.job.PercentComplete,
		Error:    message,
	})
}
