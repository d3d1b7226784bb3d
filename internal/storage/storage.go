// Package storage defines where finished export files end up when they
// leave the local filesystem.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("storage: object not found")

// Object describes a stored export file.
type Object struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
	Modified    time.Time
}

// Attributes travel with an uploaded object.
type Attributes struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, attrs Attributes) (Object, error)
	// Stat returns ErrNotFound when key does not exist.
	Stat(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	// Location renders the externally visible address of key, for example
	// s3://bucket/prefix/key.
	Location(key string) string
}
