package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckmesh/duckxfer/internal/auth"
	"github.com/duckmesh/duckxfer/internal/config"
	"github.com/duckmesh/duckxfer/internal/engine"
	"github.com/duckmesh/duckxfer/internal/jobs"
	"github.com/duckmesh/duckxfer/internal/observability"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

const maxJSONBodyBytes = 1 << 20

type ReadinessCheck func(ctx context.Context) error

// TransferEngine is the engine surface the HTTP API exposes.
type TransferEngine interface {
	ResolveSchema(ctx context.Context, params transfer.ConnParams, spec transfer.QuerySpec) ([]transfer.ColumnDescriptor, error)
	PreviewRows(ctx context.Context, params transfer.ConnParams, spec transfer.QuerySpec, columns []transfer.ColumnDescriptor, limit int) (engine.Preview, error)
	ExportToFile(ctx context.Context, params transfer.ConnParams, spec transfer.QuerySpec, columns []transfer.ColumnDescriptor, reporter transfer.Reporter) (transfer.Summary, error)
	ImportFromFile(ctx context.Context, source io.Reader, opts engine.ImportOptions, params transfer.ConnParams, table string, columns []transfer.ColumnDescriptor, reporter transfer.Reporter) (transfer.Summary, error)
	BuildJoinQuery(primary transfer.TableReference, joins []transfer.JoinClause, filter, orderBy, limit string) (string, error)
	InferColumns(ctx context.Context, source io.Reader, opts engine.ImportOptions, sampleRows int) ([]transfer.ColumnDescriptor, error)
	Jobs(ctx context.Context, filter jobs.ListFilter) ([]jobs.Record, error)
	Job(ctx context.Context, jobID string) (jobs.Record, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Engine            TransferEngine
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := map[string]http.HandlerFunc{
		"POST /v1/schema": func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		},
		"POST /v1/preview": func(w http.ResponseWriter, r *http.Request) {
			handlePreview(deps, w, r)
		},
		"POST /v1/join": func(w http.ResponseWriter, r *http.Request) {
			handleJoin(deps, w, r)
		},
		"POST /v1/export": func(w http.ResponseWriter, r *http.Request) {
			handleExport(deps, w, r)
		},
		"POST /v1/import": func(w http.ResponseWriter, r *http.Request) {
			handleImport(deps, w, r)
		},
		"POST /v1/import/infer": func(w http.ResponseWriter, r *http.Request) {
			handleInfer(deps, w, r)
		},
		"GET /v1/jobs": func(w http.ResponseWriter, r *http.Request) {
			handleListJobs(deps, w, r)
		},
		"GET /v1/jobs/{job}": func(w http.ResponseWriter, r *http.Request) {
			handleGetJob(deps, w, r)
		},
	}

	protect := func(h http.Handler) http.Handler { return h }
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protect = func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			}
		} else {
			protect = deps.AuthMiddleware
		}
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, protect(handler))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckLedger(ledger jobs.Ledger) ReadinessCheck {
	return func(ctx context.Context) error {
		if ledger == nil {
			return nil
		}
		return ledger.HealthCheck(ctx)
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func requireAnyRole(r *http.Request, roles ...string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasAnyRole(roles...) {
		return nil
	}
	return fmt.Errorf("missing required role, expected one of %q", roles)
}

// guard runs the checks every transfer route shares. It reports false when a
// response has already been written.
func guard(deps Dependencies, w http.ResponseWriter, r *http.Request, roles ...string) bool {
	if deps.Engine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ENGINE_NOT_CONFIGURED", "transfer engine is not configured", false, nil)
		return false
	}
	if err := requireAnyRole(r, roles...); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeTransferError maps an engine error to its HTTP status by error kind.
func writeTransferError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := transfer.KindOf(err)
	status, code, retryable := transferStatus(err)
	writeError(ctx, w, status, code, err.Error(), retryable, map[string]any{"kind": string(kind)})
}

func transferStatus(err error) (int, string, bool) {
	switch transfer.KindOf(err) {
	case transfer.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR", false
	case transfer.KindSchema:
		return http.StatusBadRequest, "SCHEMA_ERROR", false
	case transfer.KindParse:
		return http.StatusBadRequest, "PARSE_ERROR", false
	case transfer.KindQuery:
		return http.StatusUnprocessableEntity, "QUERY_ERROR", false
	case transfer.KindConnection:
		return http.StatusBadGateway, "CONNECTION_ERROR", true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", true
	}
	return http.StatusInternalServerError, "TRANSFER_FAILED", true
}
