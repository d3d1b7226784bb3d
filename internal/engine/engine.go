package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/duckxfer/internal/exporter"
	"github.com/duckmesh/duckxfer/internal/flatfile"
	"github.com/duckmesh/duckxfer/internal/importer"
	"github.com/duckmesh/duckxfer/internal/jobs"
	"github.com/duckmesh/duckxfer/internal/observability"
	"github.com/duckmesh/duckxfer/internal/schema"
	"github.com/duckmesh/duckxfer/internal/sqlbuild"
	"github.com/duckmesh/duckxfer/internal/store"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

const (
	DefaultPreviewLimit    = 100
	MaxPreviewLimit        = 1000
	DefaultInferSampleRows = 100
)

var ErrLedgerDisabled = errors.New("job ledger is not configured")

type Config struct {
	PreviewLimit    int
	InferSampleRows int
	// ImportMaxBytes bounds the size of an import source. Zero means no bound.
	ImportMaxBytes int64
	Exporter       exporter.Config
	Importer       importer.Config
}

type Dependencies struct {
	Logger      *slog.Logger
	Dialer      store.Dialer
	Destination exporter.Destination
	// Ledger is optional.
	Ledger   jobs.Ledger
	NewJobID func() string
}

// Engine runs transfer operations against stores obtained from its dialer.
// Every call dials its own store and closes it before returning.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	dialer   store.Dialer
	ledger   jobs.Ledger
	newJobID func() string
	exporter *exporter.Exporter
	importer *importer.Writer
}

type Preview struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type ImportOptions struct {
	Format    flatfile.Format
	Delimiter rune
	HasHeader bool
}

func New(cfg Config, deps Dependencies) (*Engine, error) {
	if deps.Dialer == nil {
		return nil, fmt.Errorf("store dialer is required")
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = DefaultPreviewLimit
	}
	if cfg.PreviewLimit > MaxPreviewLimit {
		cfg.PreviewLimit = MaxPreviewLimit
	}
	if cfg.InferSampleRows <= 0 {
		cfg.InferSampleRows = DefaultInferSampleRows
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	newJobID := deps.NewJobID
	if newJobID == nil {
		newJobID = uuid.NewString
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		dialer:   deps.Dialer,
		ledger:   deps.Ledger,
		newJobID: newJobID,
		exporter: exporter.New(cfg.Exporter, deps.Destination),
		importer: importer.NewWriter(cfg.Importer),
	}, nil
}

func (e *Engine) ResolveSchema(ctx context.Context, params transfer.ConnParams, spec transfer.QuerySpec) ([]transfer.ColumnDescriptor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	s, err := e.dial(ctx, params)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return schema.Resolve(ctx, s, spec)
}

// PreviewRows returns the first rows of the projection. limit <= 0 uses the
// configured default; larger limits are capped.
func (e *Engine) PreviewRows(ctx context.Context, params transfer.ConnParams, spec transfer.QuerySpec, columns []transfer.ColumnDescriptor, limit int) (Preview, error) {
	if limit <= 0 {
		limit = e.cfg.PreviewLimit
	}
	if limit > MaxPreviewLimit {
		limit = MaxPreviewLimit
	}
	if err := transfer.ValidateColumns(columns); err != nil {
		return Preview{}, err
	}
	query, err := sqlbuild.BuildProjection(spec, columns, limit)
	if err != nil {
		return Preview{}, err
	}

	s, err := e.dial(ctx, params)
	if err != nil {
		return Preview{}, err
	}
	defer func() { _ = s.Close() }()

	result, err := s.Query(ctx, query)
	if err != nil {
		return Preview{}, fmt.Errorf("preview rows: %w", transfer.QueryError(err))
	}
	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return Preview{Columns: result.Columns, Rows: rows}, nil
}

// ExportToFile streams the projection of spec to the export destination.
// reporter receives the job's events, ending in exactly one terminal event.
func (e *Engine) ExportToFile(ctx context.Context, params transfer.ConnParams, spec transfer.QuerySpec, columns []transfer.ColumnDescriptor, reporter transfer.Reporter) (transfer.Summary, error) {
	progress := transfer.NewProgress(transfer.Job{
		ID:     e.newJobID(),
		Kind:   transfer.JobExport,
		Target: spec.Source(),
	}, reporter)
	e.logStart(ctx, progress.Job())

	var result exporter.Result
	s, err := e.dial(ctx, params)
	if err == nil {
		result, err = e.exporter.Export(ctx, s, exporter.Request{
			JobID:   progress.Job().ID,
			Spec:    spec,
			Columns: columns,
		}, progress)
		_ = s.Close()
	}
	observability.AddTransferBytes(string(transfer.JobExport), result.BytesReceived)

	e.finish(ctx, progress, err)
	summary := transfer.Summary{JobID: progress.Job().ID, RecordCount: result.RecordCount, OutputLocation: result.OutputLocation}
	return summary, err
}

// ImportFromFile loads source into table, creating the table when it does
// not exist.
func (e *Engine) ImportFromFile(ctx context.Context, source io.Reader, opts ImportOptions, params transfer.ConnParams, table string, columns []transfer.ColumnDescriptor, reporter transfer.Reporter) (transfer.Summary, error) {
	progress := transfer.NewProgress(transfer.Job{
		ID:     e.newJobID(),
		Kind:   transfer.JobImport,
		Target: table,
	}, reporter)
	e.logStart(ctx, progress.Job())

	var result importer.Result
	s, err := e.dial(ctx, params)
	if err == nil {
		result, err = e.importer.Write(ctx, s, importer.Request{
			Source:    e.limitSource(source),
			Format:    opts.Format,
			Delimiter: opts.Delimiter,
			HasHeader: opts.HasHeader,
			Table:     table,
			Columns:   columns,
		}, progress)
		_ = s.Close()
	}
	observability.AddImportBatches(result.Batches)

	e.finish(ctx, progress, err)
	summary := transfer.Summary{JobID: progress.Job().ID, RecordCount: result.RecordCount}
	if err == nil {
		summary.OutputLocation = result.Table
	}
	return summary, err
}

func (e *Engine) BuildJoinQuery(primary transfer.TableReference, joins []transfer.JoinClause, filter, orderBy, limit string) (string, error) {
	return sqlbuild.BuildJoinQuery(primary, joins, filter, orderBy, limit)
}

// InferColumns parses source and describes its columns. sampleRows <= 0 uses
// the configured sample size.
func (e *Engine) InferColumns(ctx context.Context, source io.Reader, opts ImportOptions, sampleRows int) ([]transfer.ColumnDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sampleRows <= 0 {
		sampleRows = e.cfg.InferSampleRows
	}
	table, err := flatfile.Read(e.limitSource(source), opts.Format, flatfile.CSVOptions{Delimiter: opts.Delimiter, HasHeader: opts.HasHeader})
	if err != nil {
		return nil, err
	}
	if len(table.Header) == 0 {
		return nil, transfer.Parsef("file has no columns")
	}
	return schema.InferColumns(table, sampleRows), nil
}

// Jobs lists recorded job outcomes, newest first.
func (e *Engine) Jobs(ctx context.Context, filter jobs.ListFilter) ([]jobs.Record, error) {
	if e.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	return e.ledger.ListJobs(ctx, filter)
}

func (e *Engine) Job(ctx context.Context, jobID string) (jobs.Record, error) {
	if e.ledger == nil {
		return jobs.Record{}, ErrLedgerDisabled
	}
	return e.ledger.GetJob(ctx, jobID)
}

func (e *Engine) dial(ctx context.Context, params transfer.ConnParams) (store.Store, error) {
	s, err := e.dialer.Dial(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", params, transfer.ConnectionError(err))
	}
	return s, nil
}

func (e *Engine) limitSource(source io.Reader) io.Reader {
	if source == nil || e.cfg.ImportMaxBytes <= 0 {
		return source
	}
	return &limitedReader{reader: source, remaining: e.cfg.ImportMaxBytes, limit: e.cfg.ImportMaxBytes}
}

func (e *Engine) logStart(ctx context.Context, job transfer.Job) {
	observability.JobLogger(ctx, e.logger, job).InfoContext(ctx, "transfer job started")
}

// finish records metrics and the ledger entry of a terminated job. A job
// that failed before the importer or exporter emitted its terminal event
// gets its error event here.
func (e *Engine) finish(ctx context.Context, progress *transfer.Progress, cause error) {
	if cause != nil && !progress.Finished() {
		_ = progress.Fail(ctx, cause)
	}
	job := progress.Job()
	if cause != nil {
		job.Status = transfer.StatusFailed
	}
	if job.FinishedAt.IsZero() {
		job.FinishedAt = time.Now()
	}
	elapsed := job.FinishedAt.Sub(job.StartedAt)
	observability.ObserveTransfer(string(job.Kind), string(job.Status), job.RecordsProcessed, elapsed)

	logger := observability.JobLogger(ctx, e.logger, job).With(
		slog.String("status", string(job.Status)),
		slog.Int64("records", job.RecordsProcessed),
		slog.Duration("duration", elapsed),
	)
	if cause != nil {
		logger.WarnContext(ctx, "transfer job failed",
			slog.String("error_kind", string(transfer.KindOf(cause))),
			slog.Any("error", cause),
		)
	} else {
		logger.InfoContext(ctx, "transfer job finished", slog.String("output_location", job.OutputLocation))
	}

	if e.ledger == nil {
		return
	}
	// The caller may already be gone; the outcome is still recorded.
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.ledger.RecordJob(ledgerCtx, jobs.FromJob(job, cause)); err != nil {
		logger.ErrorContext(ctx, "record transfer job failed", slog.Any("error", err))
	}
}

// limitedReader fails with a validation error once more than limit bytes
// have been read.
type limitedReader struct {
	reader    io.Reader
	remaining int64
	limit     int64
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if r.remaining < 0 {
		return 0, transfer.Validationf("import source exceeds %d bytes", r.limit)
	}
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.reader.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		return 0, transfer.Validationf("import source exceeds %d bytes", r.limit)
	}
	return n, err
}
