package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/duckmesh/duckxfer/internal/auth"
	"github.com/duckmesh/duckxfer/internal/engine"
	"github.com/duckmesh/duckxfer/internal/flatfile"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

const connectionHeader = "X-Duckxfer-Connection"

type schemaRequest struct {
	Connection transfer.ConnParams `json:"connection"`
	Query      transfer.QuerySpec  `json:"query"`
}

type schemaResponse struct {
	Columns []transfer.ColumnDescriptor `json:"columns"`
}

type projectionRequest struct {
	Connection transfer.ConnParams         `json:"connection"`
	Query      transfer.QuerySpec          `json:"query"`
	Columns    []transfer.ColumnDescriptor `json:"columns"`
	Limit      int                         `json:"limit,omitempty"`
}

type joinRequest struct {
	Primary transfer.TableReference `json:"primary"`
	Joins   []transfer.JoinClause   `json:"joins"`
	Filter  string                  `json:"filter,omitempty"`
	OrderBy string                  `json:"order_by,omitempty"`
	Limit   string                  `json:"limit,omitempty"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !guard(deps, w, r, auth.RoleTransferReader) {
		return
	}
	var request schemaRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	columns, err := deps.Engine.ResolveSchema(r.Context(), request.Connection, normalizeQuery(request.Query))
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{Columns: columns})
}

func handlePreview(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !guard(deps, w, r, auth.RoleTransferReader) {
		return
	}
	var request projectionRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	spec := normalizeQuery(request.Query)
	columns, err := selectColumns(deps, r, request.Connection, spec, request.Columns)
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}
	preview, err := deps.Engine.PreviewRows(r.Context(), request.Connection, spec, columns, request.Limit)
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func handleJoin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !guard(deps, w, r, auth.RoleTransferReader) {
		return
	}
	var request joinRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	query, err := deps.Engine.BuildJoinQuery(request.Primary, request.Joins, request.Filter, request.OrderBy, request.Limit)
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query})
}

func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !guard(deps, w, r, auth.RoleTransferReader) {
		return
	}
	var request projectionRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	spec := normalizeQuery(request.Query)
	columns, err := selectColumns(deps, r, request.Connection, spec, request.Columns)
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}

	stream := newEventStream(w)
	_, err = deps.Engine.ExportToFile(r.Context(), request.Connection, spec, columns, stream)
	stream.finish(r.Context(), err)
}

func handleImport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !guard(deps, w, r, auth.RoleTransferWriter) {
		return
	}
	params, err := connectionFromHeader(r)
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}
	opts, err := importOptionsFromQuery(r)
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}
	query := r.URL.Query()
	table := strings.TrimSpace(query.Get("table"))
	if table == "" {
		writeTransferError(r.Context(), w, transfer.Validationf("table is required"))
		return
	}
	columns, err := columnsFromQuery(query.Get("columns"))
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}

	stream := newEventStream(w)
	_, err = deps.Engine.ImportFromFile(r.Context(), r.Body, opts, params, table, columns, stream)
	stream.finish(r.Context(), err)
}

func handleInfer(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !guard(deps, w, r, auth.RoleTransferReader, auth.RoleTransferWriter) {
		return
	}
	opts, err := importOptionsFromQuery(r)
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}
	sample := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("sample")); raw != "" {
		sample, err = strconv.Atoi(raw)
		if err != nil || sample < 0 {
			writeTransferError(r.Context(), w, transfer.Validationf("invalid sample %q", raw))
			return
		}
	}
	columns, err := deps.Engine.InferColumns(r.Context(), r.Body, opts, sample)
	if err != nil {
		writeTransferError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{Columns: columns})
}

// normalizeQuery fills in the mode from whichever source the request names.
func normalizeQuery(spec transfer.QuerySpec) transfer.QuerySpec {
	spec.Mode = transfer.QueryMode(strings.ToUpper(strings.TrimSpace(string(spec.Mode))))
	if spec.Mode == "" {
		if strings.TrimSpace(spec.TableName) == "" && strings.TrimSpace(spec.RawQuery) != "" {
			spec.Mode = transfer.ModeRaw
		} else {
			spec.Mode = transfer.ModeTable
		}
	}
	return spec
}

// selectColumns returns the request's descriptors, or resolves the schema
// when the request carries none and applies the query's column names.
func selectColumns(deps Dependencies, r *http.Request, params transfer.ConnParams, spec transfer.QuerySpec, columns []transfer.ColumnDescriptor) ([]transfer.ColumnDescriptor, error) {
	if len(columns) > 0 {
		return spec.ApplySelection(columns), nil
	}
	resolved, err := deps.Engine.ResolveSchema(r.Context(), params, spec)
	if err != nil {
		return nil, err
	}
	return spec.ApplySelection(resolved), nil
}

func connectionFromHeader(r *http.Request) (transfer.ConnParams, error) {
	raw := strings.TrimSpace(r.Header.Get(connectionHeader))
	if raw == "" {
		return transfer.ConnParams{}, nil
	}
	var params transfer.ConnParams
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return transfer.ConnParams{}, transfer.Validationf("invalid %s header: %v", connectionHeader, err)
	}
	return params, nil
}

func importOptionsFromQuery(r *http.Request) (engine.ImportOptions, error) {
	query := r.URL.Query()
	format, err := flatfile.ParseFormat(query.Get("format"))
	if err != nil {
		return engine.ImportOptions{}, err
	}
	delimiter, err := flatfile.ParseDelimiter(query.Get("delimiter"))
	if err != nil {
		return engine.ImportOptions{}, err
	}
	hasHeader := true
	if raw := strings.TrimSpace(query.Get("header")); raw != "" {
		hasHeader, err = strconv.ParseBool(raw)
		if err != nil {
			return engine.ImportOptions{}, transfer.Validationf("invalid header flag %q", raw)
		}
	}
	return engine.ImportOptions{Format: format, Delimiter: delimiter, HasHeader: hasHeader}, nil
}

// columnsFromQuery accepts a JSON array of column descriptors, or a comma
// separated list of names, all selected with inferred types.
func columnsFromQuery(raw string) ([]transfer.ColumnDescriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, transfer.Validationf("columns are required")
	}
	if strings.HasPrefix(raw, "[") {
		var columns []transfer.ColumnDescriptor
		if err := json.Unmarshal([]byte(raw), &columns); err != nil {
			return nil, transfer.Validationf("invalid columns: %v", err)
		}
		return columns, nil
	}
	names := strings.Split(raw, ",")
	columns := make([]transfer.ColumnDescriptor, 0, len(names))
	for _, name := range names {
		columns = append(columns, transfer.ColumnDescriptor{Name: strings.TrimSpace(name), Selected: true})
	}
	return columns, nil
}
