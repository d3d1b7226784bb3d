package store

import (
	"context"
	"io"
	"time"

	"github.com/duckmesh/duckxfer/internal/transfer"
)

type Result struct {
	Columns     []string
	ColumnTypes []string
	Rows        [][]any
	Duration    time.Duration
}

// Store is the capability the transfer engine needs from the columnar store.
type Store interface {
	// Query materializes the full result of sqlText.
	Query(ctx context.Context, sqlText string, args ...any) (Result, error)
	Exec(ctx context.Context, sqlText string, args ...any) (int64, error)
	// Stream returns the result serialized as RFC 4180 CSV, one record per
	// row after a header record. Quoted fields may contain newlines. Closing
	// the reader releases the query.
	Stream(ctx context.Context, sqlText string) (io.ReadCloser, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, params transfer.ConnParams) (Store, error)
}

type DialFunc func(ctx context.Context, params transfer.ConnParams) (Store, error)

func (f DialFunc) Dial(ctx context.Context, params transfer.ConnParams) (Store, error) {
	return f(ctx, params)
}
