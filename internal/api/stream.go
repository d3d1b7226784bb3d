package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/duckmesh/duckxfer/internal/transfer"
)

// eventStream writes job events as NDJSON, one event per line, flushing
// after each. A job that fails before its first event is answered with a
// regular JSON error response instead.
type eventStream struct {
	w       http.ResponseWriter
	encoder *json.Encoder
	flusher http.Flusher
	started bool
	pending *transfer.Event
}

func newEventStream(w http.ResponseWriter) *eventStream {
	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, encoder: json.NewEncoder(w), flusher: flusher}
}

func (s *eventStream) Report(ctx context.Context, event transfer.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.started && event.Type == transfer.EventError {
		s.pending = &event
		return nil
	}
	return s.write(event)
}

func (s *eventStream) write(event transfer.Event) error {
	if !s.started {
		s.started = true
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.WriteHeader(http.StatusOK)
	}
	if err := s.encoder.Encode(event); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// finish completes the response once the job returned.
func (s *eventStream) finish(ctx context.Context, err error) {
	if s.started {
		return
	}
	if err != nil {
		writeTransferError(ctx, s.w, err)
		return
	}
	if s.pending != nil {
		_ = s.write(*s.pending)
	}
}
