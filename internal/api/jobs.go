package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duckmesh/duckxfer/internal/auth"
	"github.com/duckmesh/duckxfer/internal/engine"
	"github.com/duckmesh/duckxfer/internal/jobs"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

type jobResponse struct {
	JobID          string    `json:"job_id"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	Target         string    `json:"target"`
	RecordCount    int64     `json:"record_count"`
	OutputLocation string    `json:"output_location,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

func handleListJobs(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !guard(deps, w, r, auth.RoleTransferReader, auth.RoleTransferWriter) {
		return
	}
	query := r.URL.Query()
	filter := jobs.ListFilter{Kind: transfer.JobKind(strings.ToLower(strings.TrimSpace(query.Get("kind"))))}
	switch filter.Kind {
	case "", transfer.JobExport, transfer.JobImport:
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_KIND", "kind must be export or import", false, nil)
		return
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", false, nil)
			return
		}
		filter.Limit = limit
	}

	records, err := deps.Engine.Jobs(r.Context(), filter)
	if err != nil {
		writeJobError(w, r, err)
		return
	}
	response := make([]jobResponse, 0, len(records))
	for _, record := range records {
		response = append(response, toJobResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": response})
}

func handleGetJob(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !guard(deps, w, r, auth.RoleTransferReader, auth.RoleTransferWriter) {
		return
	}
	record, err := deps.Engine.Job(r.Context(), r.PathValue("job"))
	if err != nil {
		writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(record))
}

func writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrLedgerDisabled):
		writeError(r.Context(), w, http.StatusNotImplemented, "LEDGER_NOT_CONFIGURED", err.Error(), false, nil)
	case errors.Is(err, jobs.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found", false, map[string]any{"job_id": r.PathValue("job")})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "LEDGER_ERROR", "failed to load jobs", true, map[string]any{"details": err.Error()})
	}
}

func toJobResponse(record jobs.Record) jobResponse {
	return jobResponse{
		JobID:          record.JobID,
		Kind:           string(record.Kind),
		Status:         string(record.Status),
		Target:         record.Target,
		RecordCount:    record.RecordCount,
		OutputLocation: record.OutputLocation,
		ErrorKind:      record.ErrorKind,
		ErrorMessage:   record.ErrorMessage,
		StartedAt:      record.StartedAt,
		FinishedAt:     record.FinishedAt,
	}
}
