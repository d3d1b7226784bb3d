package exporter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/duckmesh/duckxfer/internal/storage"
)

// Sink receives one export file. Exactly one of Commit or Abort is called.
type Sink interface {
	io.Writer
	// Commit finishes the file and returns its location.
	Commit(ctx context.Context) (string, error)
	// Abort releases the sink. Output already written is not rolled back.
	Abort() error
}

type Destination interface {
	Create(ctx context.Context, name string) (Sink, error)
}

// FileDestination writes <Dir>/<name>.csv.
type FileDestination struct {
	Dir string
}

func (d FileDestination) Create(_ context.Context, name string) (Sink, error) {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, name+".csv")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	return &fileSink{file: file, writer: bufio.NewWriter(file), path: path}, nil
}

type fileSink struct {
	file   *os.File
	writer *bufio.Writer
	path   string
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

func (s *fileSink) Commit(context.Context) (string, error) {
	if err := s.writer.Flush(); err != nil {
		_ = s.file.Close()
		return "", err
	}
	if err := s.file.Close(); err != nil {
		return "", err
	}
	return s.path, nil
}

func (s *fileSink) Abort() error {
	_ = s.writer.Flush()
	return s.file.Close()
}

// ObjectStoreDestination spools the export to a local temp file and uploads
// it to exports/<date>/<name>.csv on Commit.
type ObjectStoreDestination struct {
	Store    storage.ObjectStore
	SpoolDir string
	Now      func() time.Time
}

func (d ObjectStoreDestination) Create(_ context.Context, name string) (Sink, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("object store is not configured")
	}
	spool, err := os.CreateTemp(d.SpoolDir, "duckxfer-export-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create export spool: %w", err)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &objectSink{
		store:  d.Store,
		spool:  spool,
		writer: bufio.NewWriter(spool),
		name:   name,
		now:    now,
	}, nil
}

type objectSink struct {
	store  storage.ObjectStore
	spool  *os.File
	writer *bufio.Writer
	name   string
	now    func() time.Time
	size   int64
}

func (s *objectSink) Write(p []byte) (int, error) {
	n, err := s.writer.Write(p)
	s.size += int64(n)
	return n, err
}

func (s *objectSink) Commit(ctx context.Context) (string, error) {
	defer s.discard()
	if err := s.writer.Flush(); err != nil {
		return "", fmt.Errorf("flush export spool: %w", err)
	}
	if _, err := s.spool.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind export spool: %w", err)
	}

	key, err := storage.BuildExportKey(s.name, s.now())
	if err != nil {
		return "", err
	}
	if _, err := s.store.Put(ctx, key, s.spool, s.size, storage.Attributes{
		ContentType: "text/csv",
		Metadata:    map[string]string{"export-name": s.name},
	}); err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	info, err := s.store.Stat(ctx, key)
	if err != nil {
		return "", fmt.Errorf("verify export upload: %w", err)
	}
	if info.Size != s.size {
		_ = s.store.Delete(ctx, key)
		return "", fmt.Errorf("upload export: stored %d bytes, wrote %d", info.Size, s.size)
	}
	return s.store.Location(key), nil
}

func (s *objectSink) Abort() error {
	s.discard()
	return nil
}

func (s *objectSink) discard() {
	_ = s.spool.Close()
	_ = os.Remove(s.spool.Name())
}
