package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/duckxfer/internal/auth"
	"github.com/duckmesh/duckxfer/internal/config"
	"github.com/duckmesh/duckxfer/internal/engine"
	"github.com/duckmesh/duckxfer/internal/flatfile"
	"github.com/duckmesh/duckxfer/internal/jobs"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["service"] != "duckxfer-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"DUCKXFER_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:t1:" + auth.RoleTransferReader)
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	fake := &fakeEngine{}
	h := NewHandler(cfg, Dependencies{AuthMiddleware: auth.Middleware(nil, validator), Engine: fake})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, newJSONRequest(t, "/v1/schema", schemaPayload()))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := newJSONRequest(t, "/v1/schema", schemaPayload())
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body=%s", authResp.Code, authResp.Body.String())
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"DUCKXFER_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Engine: &fakeEngine{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/schema", schemaPayload()))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestImportRequiresWriterRole(t *testing.T) {
	fake := &fakeEngine{}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	req := httptest.NewRequest(http.MethodPost, "/v1/import?table=orders&columns=id", strings.NewReader("id\n1\n"))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{TenantID: "t1", Roles: []string{auth.RoleTransferReader}}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if fake.importCalls != 0 {
		t.Fatalf("import calls = %d, want 0", fake.importCalls)
	}
}

func TestTransferRoutesWithoutEngineReturn501(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/schema", schemaPayload()))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestSchemaEndpointNormalizesMode(t *testing.T) {
	fake := &fakeEngine{}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/schema", map[string]any{
		"query": map[string]any{"raw_query": "SELECT 1 AS one"},
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if fake.lastSpec.Mode != transfer.ModeRaw {
		t.Fatalf("mode = %q, want RAW", fake.lastSpec.Mode)
	}
}

func TestSchemaEndpointRejectsUnknownFields(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: &fakeEngine{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/schema", map[string]any{"tenant": "x"}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "INVALID_JSON" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestTransferErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "validation", err: transfer.Validationf("table name is required"), status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "schema", err: transfer.Schemaf("no columns"), status: http.StatusBadRequest, code: "SCHEMA_ERROR"},
		{name: "parse", err: transfer.Parsef("bad row"), status: http.StatusBadRequest, code: "PARSE_ERROR"},
		{name: "query", err: transfer.QueryError(errors.New("syntax error")), status: http.StatusUnprocessableEntity, code: "QUERY_ERROR"},
		{name: "connection", err: transfer.ConnectionError(errors.New("refused")), status: http.StatusBadGateway, code: "CONNECTION_ERROR"},
		{name: "deadline", err: fmt.Errorf("resolve: %w", context.DeadlineExceeded), status: http.StatusGatewayTimeout, code: "TIMEOUT"},
		{name: "other", err: errors.New("boom"), status: http.StatusInternalServerError, code: "TRANSFER_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeEngine{schemaErr: tc.err}
			h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, newJSONRequest(t, "/v1/schema", schemaPayload()))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if body := decodeBody(t, rr); body["error_code"] != tc.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tc.code)
			}
		})
	}
}

func TestPreviewResolvesSchemaWhenColumnsOmitted(t *testing.T) {
	fake := &fakeEngine{
		schema: []transfer.ColumnDescriptor{
			{Name: "id", Type: transfer.TypeInt32, Selected: true},
			{Name: "total", Type: transfer.TypeFloat64, Selected: true},
		},
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/preview", map[string]any{
		"query": map[string]any{"mode": "table", "table_name": "orders", "columns": []string{"total"}},
		"limit": 5,
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if fake.schemaCalls != 1 {
		t.Fatalf("schema calls = %d, want 1", fake.schemaCalls)
	}
	if fake.lastLimit != 5 {
		t.Fatalf("limit = %d, want 5", fake.lastLimit)
	}
	if len(fake.lastColumns) != 2 || fake.lastColumns[0].Selected || !fake.lastColumns[1].Selected {
		t.Fatalf("columns = %#v", fake.lastColumns)
	}
}

func TestJoinEndpointReturnsQuery(t *testing.T) {
	fake := &fakeEngine{}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/join", map[string]any{
		"primary": map[string]any{"name": "orders", "alias": "o"},
		"joins":   []map[string]any{{"kind": "LEFT", "table": "customers c", "predicate": "o.cid = c.id"}},
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["query"] != "SELECT * FROM orders AS o" {
		t.Fatalf("query = %v", body["query"])
	}
}

func TestExportStreamsEventsAsNDJSON(t *testing.T) {
	fake := &fakeEngine{
		exportEvents: []transfer.Event{
			{Type: transfer.EventProgress, JobID: "job-1", Progress: 50},
			{Type: transfer.EventComplete, JobID: "job-1", Progress: 100, Complete: true, RecordCount: 2, OutputLocation: "exports/orders-job-1.csv"},
		},
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/export", map[string]any{
		"query":   map[string]any{"table_name": "orders"},
		"columns": []map[string]any{{"name": "id", "type": "Int32", "selected": true}},
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Fatalf("content type = %q", got)
	}
	events := decodeEvents(t, rr.Body)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	terminal := 0
	for _, event := range events {
		if event.Terminal() {
			terminal++
		}
	}
	if terminal != 1 || events[1].Type != transfer.EventComplete || events[1].OutputLocation != "exports/orders-job-1.csv" {
		t.Fatalf("events = %#v", events)
	}
	if fake.schemaCalls != 0 {
		t.Fatalf("schema calls = %d, want 0", fake.schemaCalls)
	}
}

func TestExportFailureBeforeStreamingReturnsJSONError(t *testing.T) {
	cause := transfer.ConnectionError(errors.New("connection refused"))
	fake := &fakeEngine{
		exportEvents: []transfer.Event{{Type: transfer.EventError, JobID: "job-1", Error: cause.Error()}},
		exportErr:    cause,
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/export", map[string]any{
		"query":   map[string]any{"table_name": "orders"},
		"columns": []map[string]any{{"name": "id", "type": "Int32", "selected": true}},
	}))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["retryable"] != true {
		t.Fatalf("retryable = %v", body["retryable"])
	}
}

func TestExportFailureMidStreamEndsWithErrorEvent(t *testing.T) {
	cause := transfer.QueryError(errors.New("conversion failed"))
	fake := &fakeEngine{
		exportEvents: []transfer.Event{
			{Type: transfer.EventProgress, JobID: "job-1", Progress: 10},
			{Type: transfer.EventError, JobID: "job-1", Error: cause.Error()},
		},
		exportErr: cause,
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newJSONRequest(t, "/v1/export", map[string]any{
		"query":   map[string]any{"table_name": "orders"},
		"columns": []map[string]any{{"name": "id", "type": "Int32", "selected": true}},
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	events := decodeEvents(t, rr.Body)
	if len(events) != 2 || events[1].Type != transfer.EventError {
		t.Fatalf("events = %#v", events)
	}
}

func TestImportParsesQueryAndConnectionHeader(t *testing.T) {
	fake := &fakeEngine{
		importEvents: []transfer.Event{{Type: transfer.EventComplete, JobID: "job-2", Progress: 100, Complete: true, RecordCount: 1}},
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	req := httptest.NewRequest(http.MethodPost, "/v1/import?table=orders&columns=id,%20name&delimiter=%3B&header=false", strings.NewReader("1;a\n"))
	req.Header.Set(connectionHeader, `{"database":"/tmp/orders.duckdb"}`)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if fake.lastParams.Database != "/tmp/orders.duckdb" {
		t.Fatalf("database = %q", fake.lastParams.Database)
	}
	if fake.lastTable != "orders" {
		t.Fatalf("table = %q", fake.lastTable)
	}
	want := engine.ImportOptions{Format: flatfile.FormatCSV, Delimiter: ';', HasHeader: false}
	if fake.lastOptions != want {
		t.Fatalf("options = %#v, want %#v", fake.lastOptions, want)
	}
	if len(fake.lastColumns) != 2 || fake.lastColumns[1].Name != "name" || !fake.lastColumns[1].Selected {
		t.Fatalf("columns = %#v", fake.lastColumns)
	}
	if string(fake.lastSource) != "1;a\n" {
		t.Fatalf("source = %q", fake.lastSource)
	}
}

func TestImportValidatesRequest(t *testing.T) {
	cases := []struct {
		name   string
		target string
		header string
	}{
		{name: "missing table", target: "/v1/import?columns=id"},
		{name: "missing columns", target: "/v1/import?table=orders"},
		{name: "bad format", target: "/v1/import?table=orders&columns=id&format=xlsx"},
		{name: "bad delimiter", target: "/v1/import?table=orders&columns=id&delimiter=ab"},
		{name: "bad header flag", target: "/v1/import?table=orders&columns=id&header=maybe"},
		{name: "bad connection header", target: "/v1/import?table=orders&columns=id", header: "{"},
		{name: "bad columns json", target: "/v1/import?table=orders&columns=%5B1%5D"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeEngine{}
			h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})
			req := httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader("id\n1\n"))
			if tc.header != "" {
				req.Header.Set(connectionHeader, tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
			}
			if fake.importCalls != 0 {
				t.Fatalf("import calls = %d, want 0", fake.importCalls)
			}
		})
	}
}

func TestInferEndpoint(t *testing.T) {
	fake := &fakeEngine{
		inferred: []transfer.ColumnDescriptor{{Name: "id", Type: transfer.TypeUInt8, Selected: true}},
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	req := httptest.NewRequest(http.MethodPost, "/v1/import/infer?sample=10&format=csv", strings.NewReader("id\n1\n"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if fake.lastSample != 10 {
		t.Fatalf("sample = %d, want 10", fake.lastSample)
	}
	var response schemaResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if len(response.Columns) != 1 || response.Columns[0].Type != transfer.TypeUInt8 {
		t.Fatalf("columns = %#v", response.Columns)
	}

	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, httptest.NewRequest(http.MethodPost, "/v1/import/infer?sample=-1", strings.NewReader("id\n1\n")))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad sample status = %d", bad.Code)
	}
}

func TestJobsEndpoints(t *testing.T) {
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeEngine{
		records: []jobs.Record{{
			JobID:          "job-1",
			Kind:           transfer.JobExport,
			Status:         transfer.StatusSucceeded,
			Target:         "orders",
			RecordCount:    3,
			OutputLocation: "exports/orders-job-1.csv",
			StartedAt:      finished.Add(-time.Second),
			FinishedAt:     finished,
		}},
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	list := httptest.NewRecorder()
	h.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/v1/jobs?kind=EXPORT&limit=10", nil))
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d, body=%s", list.Code, list.Body.String())
	}
	if fake.lastFilter.Kind != transfer.JobExport || fake.lastFilter.Limit != 10 {
		t.Fatalf("filter = %#v", fake.lastFilter)
	}
	var listed struct {
		Jobs []jobResponse `json:"jobs"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listed); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if len(listed.Jobs) != 1 || listed.Jobs[0].RecordCount != 3 {
		t.Fatalf("jobs = %#v", listed.Jobs)
	}

	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil))
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d", get.Code)
	}

	missing := httptest.NewRecorder()
	h.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-9", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", missing.Code)
	}

	badKind := httptest.NewRecorder()
	h.ServeHTTP(badKind, httptest.NewRequest(http.MethodGet, "/v1/jobs?kind=copy", nil))
	if badKind.Code != http.StatusBadRequest {
		t.Fatalf("bad kind status = %d", badKind.Code)
	}
}

func TestJobsEndpointWithoutLedgerReturns501(t *testing.T) {
	fake := &fakeEngine{jobsErr: engine.ErrLedgerDisabled}
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "LEDGER_NOT_CONFIGURED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckObjectStoreConfig(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"DUCKXFER_OBJECTSTORE_ENABLED": "true",
		"DUCKXFER_OBJECTSTORE_BUCKET":  "exports",
	})
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing endpoint error")
	}
	cfg.ObjectStore.Endpoint = "localhost:9000"
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckObjectStoreConfig() error = %v", err)
	}
}

type fakeEngine struct {
	schema       []transfer.ColumnDescriptor
	schemaErr    error
	exportEvents []transfer.Event
	exportErr    error
	importEvents []transfer.Event
	inferred     []transfer.ColumnDescriptor
	records      []jobs.Record
	jobsErr      error

	schemaCalls int
	importCalls int
	lastSpec    transfer.QuerySpec
	lastParams  transfer.ConnParams
	lastColumns []transfer.ColumnDescriptor
	lastLimit   int
	lastTable   string
	lastOptions engine.ImportOptions
	lastSource  []byte
	lastSample  int
	lastFilter  jobs.ListFilter
}

func (f *fakeEngine) ResolveSchema(_ context.Context, params transfer.ConnParams, spec transfer.QuerySpec) ([]transfer.ColumnDescriptor, error) {
	f.schemaCalls++
	f.lastParams = params
	f.lastSpec = spec
	if f.schemaErr != nil {
		return nil, f.schemaErr
	}
	if f.schema == nil {
		return []transfer.ColumnDescriptor{{Name: "one", Type: transfer.TypeInt32, Selected: true}}, nil
	}
	return f.schema, nil
}

func (f *fakeEngine) PreviewRows(_ context.Context, _ transfer.ConnParams, spec transfer.QuerySpec, columns []transfer.ColumnDescriptor, limit int) (engine.Preview, error) {
	f.lastSpec = spec
	f.lastColumns = columns
	f.lastLimit = limit
	return engine.Preview{Columns: transfer.ColumnNames(transfer.SelectedColumns(columns)), Rows: [][]any{}}, nil
}

func (f *fakeEngine) ExportToFile(ctx context.Context, _ transfer.ConnParams, spec transfer.QuerySpec, columns []transfer.ColumnDescriptor, reporter transfer.Reporter) (transfer.Summary, error) {
	f.lastSpec = spec
	f.lastColumns = columns
	for _, event := range f.exportEvents {
		if err := reporter.Report(ctx, event); err != nil {
			return transfer.Summary{}, err
		}
	}
	if f.exportErr != nil {
		return transfer.Summary{}, f.exportErr
	}
	return transfer.Summary{JobID: "job-1"}, nil
}

func (f *fakeEngine) ImportFromFile(ctx context.Context, source io.Reader, opts engine.ImportOptions, params transfer.ConnParams, table string, columns []transfer.ColumnDescriptor, reporter transfer.Reporter) (transfer.Summary, error) {
	f.importCalls++
	data, err := io.ReadAll(source)
	if err != nil {
		return transfer.Summary{}, err
	}
	f.lastSource = data
	f.lastOptions = opts
	f.lastParams = params
	f.lastTable = table
	f.lastColumns = columns
	for _, event := range f.importEvents {
		if err := reporter.Report(ctx, event); err != nil {
			return transfer.Summary{}, err
		}
	}
	return transfer.Summary{JobID: "job-2"}, nil
}

func (f *fakeEngine) BuildJoinQuery(primary transfer.TableReference, _ []transfer.JoinClause, _, _, _ string) (string, error) {
	return "SELECT * FROM " + primary.Name + " AS " + primary.Alias, nil
}

func (f *fakeEngine) InferColumns(_ context.Context, _ io.Reader, opts engine.ImportOptions, sampleRows int) ([]transfer.ColumnDescriptor, error) {
	f.lastOptions = opts
	f.lastSample = sampleRows
	return f.inferred, nil
}

func (f *fakeEngine) Jobs(_ context.Context, filter jobs.ListFilter) ([]jobs.Record, error) {
	f.lastFilter = filter
	if f.jobsErr != nil {
		return nil, f.jobsErr
	}
	return f.records, nil
}

func (f *fakeEngine) Job(_ context.Context, jobID string) (jobs.Record, error) {
	if f.jobsErr != nil {
		return jobs.Record{}, f.jobsErr
	}
	for _, record := range f.records {
		if record.JobID == jobID {
			return record, nil
		}
	}
	return jobs.Record{}, jobs.ErrNotFound
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("duckxfer-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func schemaPayload() map[string]any {
	return map[string]any{"query": map[string]any{"mode": "TABLE", "table_name": "orders"}}
}

func newJSONRequest(t *testing.T, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%s", err, rr.Body.String())
	}
	return body
}

func decodeEvents(t *testing.T, r io.Reader) []transfer.Event {
	t.Helper()
	var events []transfer.Event
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var event transfer.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("decode event %q error = %v", scanner.Text(), err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan events error = %v", err)
	}
	return events
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
