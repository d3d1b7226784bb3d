package exporter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/duckmesh/duckxfer/internal/sqlbuild"
	"github.com/duckmesh/duckxfer/internal/store"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

const (
	DefaultChunkSize = 32 * 1024
	// estimateInterval is the number of lines between progress estimates.
	estimateInterval = 1000
)

type Config struct {
	ChunkSize int
	// CountRows runs a count(*) over the projection before streaming, so that
	// progress is estimated against the real row count.
	CountRows bool
}

type Request struct {
	JobID   string
	Spec    transfer.QuerySpec
	Columns []transfer.ColumnDescriptor
}

type Result struct {
	RecordCount    int64
	OutputLocation string
	BytesReceived  int64
}

// Exporter streams a projection out of the store into a destination sink,
// one CSV line per record.
type Exporter struct {
	chunkSize   int
	countRows   bool
	destination Destination
}

func New(cfg Config, destination Destination) *Exporter {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Exporter{chunkSize: chunkSize, countRows: cfg.CountRows, destination: destination}
}

// Export runs the export and drives progress to its terminal event.
func (e *Exporter) Export(ctx context.Context, s store.Store, req Request, progress *transfer.Progress) (Result, error) {
	result, err := e.export(ctx, s, req, progress)
	if err != nil {
		_ = progress.Fail(ctx, err)
		return result, err
	}
	if err := progress.Complete(ctx, result.RecordCount, result.OutputLocation); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Exporter) export(ctx context.Context, s store.Store, req Request, progress *transfer.Progress) (Result, error) {
	if e.destination == nil {
		return Result{}, transfer.Validationf("export destination is not configured")
	}
	if err := transfer.ValidateColumns(req.Columns); err != nil {
		return Result{}, err
	}
	query, err := sqlbuild.BuildProjection(req.Spec, req.Columns, 0)
	if err != nil {
		return Result{}, err
	}

	var expectedRows int64
	if e.countRows {
		expectedRows, err = countRows(ctx, s, query)
		if err != nil {
			return Result{}, err
		}
	}

	stream, err := s.Stream(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("open export stream: %w", transfer.QueryError(err))
	}
	defer func() { _ = stream.Close() }()

	sink, err := e.destination.Create(ctx, exportName(req.Spec, req.JobID))
	if err != nil {
		return Result{}, fmt.Errorf("create export sink: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sink.Abort()
		}
	}()

	if err := writeHeader(sink, transfer.ColumnNames(transfer.SelectedColumns(req.Columns))); err != nil {
		return Result{}, err
	}

	copier := &lineCopier{
		sink:     sink,
		progress: progress,
		estimate: estimator{expectedRows: expectedRows},
		expected: expectedRows,
	}
	if err := copier.copy(ctx, stream, e.chunkSize); err != nil {
		return Result{RecordCount: copier.records, BytesReceived: copier.bytes}, err
	}

	location, err := sink.Commit(ctx)
	if err != nil {
		return Result{RecordCount: copier.records, BytesReceived: copier.bytes}, fmt.Errorf("finish export: %w", err)
	}
	committed = true
	return Result{RecordCount: copier.records, OutputLocation: location, BytesReceived: copier.bytes}, nil
}

// lineCopier splits the store stream into lines, drops the stream's own
// header once and copies every other line verbatim.
type lineCopier struct {
	sink          Sink
	progress      *transfer.Progress
	estimate      estimator
	expected      int64
	headerSkipped bool
	carry         []byte
	quoted        bool
	records       int64
	bytes         int64
}

func (c *lineCopier) copy(ctx context.Context, stream io.Reader, chunkSize int) error {
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := stream.Read(chunk)
		if n > 0 {
			if err := c.consume(ctx, chunk[:n]); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return c.flushCarry()
		}
		if readErr != nil {
			return fmt.Errorf("read export stream: %w", transfer.QueryError(readErr))
		}
	}
}

// consume splits data into CSV records. A newline inside a quoted field
// belongs to the record; quote state carries over between chunks.
func (c *lineCopier) consume(ctx context.Context, chunk []byte) error {
	data := chunk
	scanned := 0
	if len(c.carry) > 0 {
		scanned = len(c.carry)
		data = append(c.carry, chunk...)
		c.carry = nil
	}
	start := 0
	for i := scanned; i < len(data); i++ {
		switch data[i] {
		case '"':
			c.quoted = !c.quoted
		case '\n':
			if c.quoted {
				continue
			}
			if err := c.line(ctx, data[start:i+1]); err != nil {
				return err
			}
			start = i + 1
		}
	}
	if start < len(data) {
		c.carry = append([]byte(nil), data[start:]...)
	}
	return nil
}

func (c *lineCopier) line(ctx context.Context, line []byte) error {
	c.bytes += int64(len(line))
	if !c.headerSkipped {
		c.headerSkipped = true
		return nil
	}
	if _, err := c.sink.Write(line); err != nil {
		return fmt.Errorf("write export line: %w", err)
	}
	c.records++
	if c.records%estimateInterval != 0 {
		return nil
	}
	return c.progress.Update(ctx, c.estimate.percent(c.bytes, c.records), c.records, c.expected)
}

// flushCarry handles a final line that has no terminating newline.
func (c *lineCopier) flushCarry() error {
	if len(c.carry) == 0 {
		return nil
	}
	line := append(c.carry, '\n')
	c.carry = nil
	c.bytes += int64(len(line) - 1)
	if !c.headerSkipped {
		c.headerSkipped = true
		return nil
	}
	if _, err := c.sink.Write(line); err != nil {
		return fmt.Errorf("write export line: %w", err)
	}
	c.records++
	return nil
}

// estimator guesses the total stream size. Without a row count it assumes the
// stream will reach twice its current size, and only re-estimates once that
// guess has been reached, so the percentage does not stall at 50.
type estimator struct {
	expectedRows int64
	total        int64
}

func (e *estimator) percent(bytesSoFar, linesSoFar int64) int {
	if linesSoFar <= 0 || bytesSoFar <= 0 {
		return 0
	}
	perLine := bytesSoFar / linesSoFar
	switch {
	case e.expectedRows > 0:
		e.total = perLine * e.expectedRows
	case e.total == 0 || bytesSoFar >= e.total:
		e.total = perLine * (linesSoFar * 2)
	}
	if e.total <= 0 {
		return 0
	}
	return int(min(bytesSoFar*100/e.total, 99))
}

func writeHeader(w io.Writer, names []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(names); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}
	return nil
}

func countRows(ctx context.Context, s store.Store, query string) (int64, error) {
	result, err := s.Query(ctx, sqlbuild.BuildCount(query))
	if err != nil {
		return 0, fmt.Errorf("count export rows: %w", transfer.QueryError(err))
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, nil
	}
	switch typed := result.Rows[0][0].(type) {
	case int64:
		return typed, nil
	case int32:
		return int64(typed), nil
	case int:
		return int64(typed), nil
	case uint64:
		return int64(typed), nil
	default:
		return 0, nil
	}
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// exportName derives the output file name from the exported source and job.
func exportName(spec transfer.QuerySpec, jobID string) string {
	base := "query"
	if spec.Mode == transfer.ModeTable {
		base = unsafeNameChars.ReplaceAllString(strings.TrimSpace(spec.TableName), "_")
	}
	base = strings.Trim(base, "._-")
	if base == "" {
		base = "export"
	}
	if len(base) > 64 {
		base = base[:64]
	}
	if jobID == "" {
		return base
	}
	return base + "-" + unsafeNameChars.ReplaceAllString(jobID, "_")
}
