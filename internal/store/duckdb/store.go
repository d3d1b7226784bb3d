package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/duckxfer/internal/store"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

type Config struct {
	// DefaultDatabase is used when the connection parameters name no database.
	// Empty or ":memory:" opens an in-memory database.
	DefaultDatabase string
	Threads         int
	PingTimeout     time.Duration
}

type Dialer struct {
	Config Config
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{Config: cfg}
}

func (d *Dialer) Dial(ctx context.Context, params transfer.ConnParams) (store.Store, error) {
	host := strings.ToLower(strings.TrimSpace(params.Host))
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
	default:
		return nil, fmt.Errorf("duckdb store is embedded and cannot reach host %q", params.Host)
	}

	dsn, err := buildDSN(firstNonEmpty(params.Database, d.Config.DefaultDatabase), d.Config.Threads)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	timeout := d.Config.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Store{db: db}, nil
}

type Store struct {
	db *sql.DB
}

// NewWithDB wraps an already opened database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Query(ctx context.Context, sqlText string, args ...any) (store.Result, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return store.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return store.Result{}, fmt.Errorf("query columns: %w", err)
	}
	columnTypes, err := declaredTypes(rows)
	if err != nil {
		return store.Result{}, err
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return store.Result{}, err
		}
		resultRows = append(resultRows, normalizeValues(values, columnTypes))
	}
	if err := rows.Err(); err != nil {
		return store.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return store.Result{
		Columns:     columns,
		ColumnTypes: columnTypes,
		Rows:        resultRows,
		Duration:    time.Since(start),
	}, nil
}

func (s *Store) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("execute statement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

func (s *Store) Stream(ctx context.Context, sqlText string) (io.ReadCloser, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	rows, err := s.db.QueryContext(streamCtx, sqlText)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("execute query: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		cancel()
		return nil, fmt.Errorf("query columns: %w", err)
	}
	columnTypes, err := declaredTypes(rows)
	if err != nil {
		_ = rows.Close()
		cancel()
		return nil, err
	}

	reader, writer := io.Pipe()
	go func() {
		defer func() { _ = rows.Close() }()
		_ = writer.CloseWithError(encodeRows(writer, rows, columns, columnTypes))
	}()
	return &streamReader{PipeReader: reader, cancel: cancel}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type streamReader struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (r *streamReader) Close() error {
	r.cancel()
	return r.PipeReader.Close()
}

func declaredTypes(rows *sql.Rows) ([]string, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("query column types: %w", err)
	}
	names := make([]string, 0, len(types))
	for _, columnType := range types {
		names = append(names, columnType.DatabaseTypeName())
	}
	return names, nil
}

func scanRow(rows *sql.Rows, width int) ([]any, error) {
	values := make([]any, width)
	scanTargets := make([]any, width)
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := rows.Scan(scanTargets...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return values, nil
}

func buildDSN(database string, threads int) (string, error) {
	database = strings.TrimSpace(database)
	if database == ":memory:" {
		database = ""
	}
	if strings.ContainsAny(database, "?#") {
		return "", fmt.Errorf("invalid duckdb database path %q", database)
	}
	if threads <= 0 {
		return database, nil
	}
	query := url.Values{}
	query.Set("threads", strconv.Itoa(threads))
	return database + "?" + query.Encode(), nil
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}
