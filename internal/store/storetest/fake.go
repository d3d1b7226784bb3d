// Package storetest provides an in-memory store.Store that records every
// statement it receives.
package storetest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/duckmesh/duckxfer/internal/store"
)

type Call struct {
	SQL  string
	Args []any
}

type Store struct {
	// Results answers Query calls by exact statement text.
	Results  map[string]store.Result
	QueryErr error
	// ExecErr is consulted before every Exec with the zero-based call index.
	ExecErr func(call int, sqlText string) error
	// StreamBody is served by Stream, at most StreamChunk bytes per Read.
	StreamBody  string
	StreamChunk int
	StreamErr   error

	mu           sync.Mutex
	queries      []Call
	execs        []Call
	streams      []string
	streamClosed bool
	closed       bool
}

func (s *Store) Query(_ context.Context, sqlText string, args ...any) (store.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, Call{SQL: sqlText, Args: args})
	if s.QueryErr != nil {
		return store.Result{}, s.QueryErr
	}
	result, ok := s.Results[sqlText]
	if !ok {
		return store.Result{}, fmt.Errorf("Parser Error: no result for %q", sqlText)
	}
	return result, nil
}

func (s *Store) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	call := len(s.execs)
	s.execs = append(s.execs, Call{SQL: sqlText, Args: args})
	if s.ExecErr != nil {
		if err := s.ExecErr(call, sqlText); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (s *Store) Stream(_ context.Context, sqlText string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append(s.streams, sqlText)
	if s.StreamErr != nil {
		return nil, s.StreamErr
	}
	return &chunkReader{reader: strings.NewReader(s.StreamBody), chunk: s.StreamChunk, owner: s}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) Queries() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.queries...)
}

func (s *Store) Execs() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.execs...)
}

// ExecsWithPrefix returns the Exec calls whose statement starts with prefix.
func (s *Store) ExecsWithPrefix(prefix string) []Call {
	var matched []Call
	for _, call := range s.Execs() {
		if strings.HasPrefix(call.SQL, prefix) {
			matched = append(matched, call)
		}
	}
	return matched
}

func (s *Store) Streams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.streams...)
}

func (s *Store) StreamClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamClosed
}

func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type chunkReader struct {
	reader *strings.Reader
	chunk  int
	owner  *Store
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.chunk > 0 && len(p) > r.chunk {
		p = p[:r.chunk]
	}
	return r.reader.Read(p)
}

func (r *chunkReader) Close() error {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.owner.streamClosed = true
	return nil
}
