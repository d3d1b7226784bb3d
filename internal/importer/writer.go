package importer

import (
	"context"
	"fmt"
	"io"

	"github.com/duckmesh/duckxfer/internal/flatfile"
	"github.com/duckmesh/duckxfer/internal/schema"
	"github.com/duckmesh/duckxfer/internal/sqlbuild"
	"github.com/duckmesh/duckxfer/internal/store"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

const DefaultBatchSize = 1000

type Config struct {
	BatchSize int
}

type Request struct {
	Source    io.Reader
	Format    flatfile.Format
	Delimiter rune
	HasHeader bool
	Table     string
	Columns   []transfer.ColumnDescriptor
}

type Result struct {
	RecordCount int64
	Batches     int
	Table       string
	Columns     []transfer.ColumnDescriptor
}

// Writer loads flat files into a store table in fixed-size batches. Each
// batch is one INSERT; batches already written stay written when a later one
// fails.
type Writer struct {
	batchSize int
}

func NewWriter(cfg Config) *Writer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{batchSize: batchSize}
}

func (w *Writer) BatchSize() int {
	return w.batchSize
}

// Write runs the import and drives progress to its terminal event.
func (w *Writer) Write(ctx context.Context, s store.Store, req Request, progress *transfer.Progress) (Result, error) {
	result, err := w.write(ctx, s, req, progress)
	if err != nil {
		_ = progress.Fail(ctx, err)
		return result, err
	}
	if err := progress.Complete(ctx, result.RecordCount, result.Table); err != nil {
		return result, err
	}
	return result, nil
}

func (w *Writer) write(ctx context.Context, s store.Store, req Request, progress *transfer.Progress) (Result, error) {
	if err := sqlbuild.ValidateTableName(req.Table); err != nil {
		return Result{}, err
	}
	if err := transfer.ValidateColumns(req.Columns); err != nil {
		return Result{}, err
	}

	table, err := readSource(req)
	if err != nil {
		return Result{}, err
	}
	columns, indexes, err := mapColumns(table, req.Columns, req.HasHeader)
	if err != nil {
		return Result{}, err
	}

	createSQL, err := sqlbuild.BuildCreateTable(req.Table, columns)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.Exec(ctx, createSQL); err != nil {
		return Result{}, fmt.Errorf("create table %s: %w", req.Table, transfer.QueryError(err))
	}

	result := Result{Table: req.Table, Columns: columns}
	total := int64(len(table.Rows))
	for start := 0; start < len(table.Rows); start += w.batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+w.batchSize, len(table.Rows))
		statement, err := sqlbuild.BuildInsert(req.Table, columns, project(table.Rows[start:end], indexes))
		if err != nil {
			return result, fmt.Errorf("batch %d: %w", result.Batches+1, err)
		}
		if _, err := s.Exec(ctx, statement.SQL, statement.Args...); err != nil {
			return result, fmt.Errorf("insert batch %d: %w", result.Batches+1, transfer.QueryError(err))
		}
		result.Batches++
		result.RecordCount += int64(end - start)
		if err := progress.Update(ctx, int(result.RecordCount*100/total), result.RecordCount, total); err != nil {
			return result, err
		}
	}
	return result, nil
}

func readSource(req Request) (flatfile.Table, error) {
	return flatfile.Read(req.Source, req.Format, flatfile.CSVOptions{Delimiter: req.Delimiter, HasHeader: req.HasHeader})
}

// mapColumns resolves each selected column to its source position and fills
// in missing types.
func mapColumns(table flatfile.Table, requested []transfer.ColumnDescriptor, hasHeader bool) ([]transfer.ColumnDescriptor, []int, error) {
	selected := transfer.SelectedColumns(requested)
	columns := make([]transfer.ColumnDescriptor, 0, len(selected))
	indexes := make([]int, 0, len(selected))
	for _, column := range selected {
		index := table.Index(column.Name)
		if index < 0 {
			if hasHeader {
				return nil, nil, transfer.Schemaf("column %q is not in the file header", column.Name)
			}
			return nil, nil, transfer.Schemaf("column %q is outside the file's %d columns", column.Name, len(table.Header))
		}
		if !column.Type.Valid() {
			if index < len(table.Types) && table.Types[index].Valid() {
				column.Type = table.Types[index]
			} else {
				column.Type = schema.InferType(table.Column(index))
			}
		}
		columns = append(columns, column)
		indexes = append(indexes, index)
	}
	return columns, indexes, nil
}

func project(rows [][]string, indexes []int) [][]string {
	projected := make([][]string, len(rows))
	for i, row := range rows {
		record := make([]string, len(indexes))
		for j, index := range indexes {
			if index < len(row) {
				record[j] = row[index]
			}
		}
		projected[i] = record
	}
	return projected
}
