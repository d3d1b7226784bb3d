package duckxferctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const connectionHeader = "X-Duckxfer-Connection"

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// request is one prepared API call.
type request struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   io.Reader
	stream bool
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	stdin := defaults.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	fs := flag.NewFlagSet("duckxferctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "duckxfer API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout for non-streaming commands (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, fs.Args()[1:], stdin, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{}
		// Streams run as long as the transfer does.
		if !req.stream {
			client.Timeout = *timeout
		}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}
	resp, err := doRequest(ctx, client, req, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		return printEvents(resp.Body, stdout, stderr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read response: %v\n", err)
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

func buildRequest(command string, args []string, stdin io.Reader, stderr io.Writer) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "schema", "preview", "join", "export":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		fs.SetOutput(stderr)
		bodyPath := fs.String("body", "-", "JSON request body file, - for stdin")
		if err := fs.Parse(args); err != nil {
			return request{}, err
		}
		body, err := readBody(*bodyPath, stdin)
		if err != nil {
			return request{}, err
		}
		if !json.Valid(body) {
			return request{}, fmt.Errorf("%s body is not valid JSON", command)
		}
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		return request{
			method: http.MethodPost,
			path:   "/v1/" + command,
			header: header,
			body:   bytes.NewReader(body),
			stream: command == "export",
		}, nil
	case "import", "infer":
		return buildFileRequest(command, args, stderr)
	case "jobs":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		fs.SetOutput(stderr)
		kind := fs.String("kind", "", "filter by job kind (export|import)")
		limit := fs.Int("limit", 0, "maximum number of jobs")
		if err := fs.Parse(args); err != nil {
			return request{}, err
		}
		query := url.Values{}
		if *kind != "" {
			query.Set("kind", *kind)
		}
		if *limit > 0 {
			query.Set("limit", strconv.Itoa(*limit))
		}
		return request{method: http.MethodGet, path: "/v1/jobs", query: query}, nil
	case "job":
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return request{}, fmt.Errorf("job requires exactly one job id")
		}
		return request{method: http.MethodGet, path: "/v1/jobs/" + url.PathEscape(strings.TrimSpace(args[0]))}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func buildFileRequest(command string, args []string, stderr io.Writer) (request, error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	filePath := fs.String("file", "", "flat file to upload")
	format := fs.String("format", "", "file format (csv|parquet)")
	delimiter := fs.String("delimiter", "", "CSV field delimiter")
	header := fs.Bool("header", true, "first CSV row is a header")
	var table, columns, connection *string
	var sample *int
	if command == "import" {
		table = fs.String("table", "", "destination table")
		columns = fs.String("columns", "", "JSON column descriptors or comma separated names")
		connection = fs.String("connection", "", "JSON connection parameters")
	} else {
		sample = fs.Int("sample", 0, "rows sampled for inference")
	}
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}
	if strings.TrimSpace(*filePath) == "" {
		return request{}, fmt.Errorf("%s requires -file", command)
	}
	file, err := os.Open(*filePath)
	if err != nil {
		return request{}, fmt.Errorf("open %s: %w", *filePath, err)
	}

	query := url.Values{}
	if *format != "" {
		query.Set("format", *format)
	}
	if *delimiter != "" {
		query.Set("delimiter", *delimiter)
	}
	query.Set("header", strconv.FormatBool(*header))
	h := http.Header{}
	h.Set("Content-Type", "application/octet-stream")

	if command == "infer" {
		if *sample > 0 {
			query.Set("sample", strconv.Itoa(*sample))
		}
		return request{method: http.MethodPost, path: "/v1/import/infer", query: query, header: h, body: file}, nil
	}
	query.Set("table", *table)
	query.Set("columns", *columns)
	if strings.TrimSpace(*connection) != "" {
		h.Set(connectionHeader, strings.TrimSpace(*connection))
	}
	return request{method: http.MethodPost, path: "/v1/import", query: query, header: h, body: file, stream: true}, nil
}

func doRequest(ctx context.Context, client *http.Client, r request, endpoint, apiKey string) (*http.Response, error) {
	if closer, ok := r.body.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, r.body)
	if err != nil {
		return nil, err
	}
	for key, values := range r.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "application/json, application/x-ndjson")
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	return client.Do(req)
}

// printEvents copies the event stream line by line and fails when the
// terminal event reports an error.
func printEvents(r io.Reader, stdout, stderr io.Writer) int {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	code := 1
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		_, _ = fmt.Fprintln(stdout, string(line))
		var event struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		switch event.Type {
		case "complete":
			code = 0
		case "error":
			_, _ = fmt.Fprintf(stderr, "transfer failed: %s\n", event.Error)
			code = 1
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = fmt.Fprintf(stderr, "read event stream: %v\n", err)
		return 1
	}
	return code
}

func readBody(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: duckxferctl [flags] <command> [command flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                    GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                     GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema  [-body file]      POST /v1/schema")
	_, _ = fmt.Fprintln(w, "  preview [-body file]      POST /v1/preview")
	_, _ = fmt.Fprintln(w, "  join    [-body file]      POST /v1/join")
	_, _ = fmt.Fprintln(w, "  export  [-body file]      POST /v1/export, prints progress events")
	_, _ = fmt.Fprintln(w, "  import  -file f -table t -columns c [-connection json] [-format] [-delimiter] [-header]")
	_, _ = fmt.Fprintln(w, "  infer   -file f [-sample n] [-format] [-delimiter] [-header]")
	_, _ = fmt.Fprintln(w, "  jobs    [-kind export|import] [-limit n]")
	_, _ = fmt.Fprintln(w, "  job     <job-id>")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
