package duckdb

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/duckxfer/internal/transfer"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := NewDialer(Config{}).Dial(context.Background(), transfer.ConnParams{Database: ":memory:"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s.(*Store)
}

func TestDialRejectsRemoteHost(t *testing.T) {
	_, err := NewDialer(Config{}).Dial(context.Background(), transfer.ConnParams{Host: "db.internal", Port: 9000})
	if err == nil || !strings.Contains(err.Error(), "db.internal") {
		t.Fatalf("Dial() error = %v", err)
	}
}

func TestBuildDSN(t *testing.T) {
	if dsn, err := buildDSN(":memory:", 0); err != nil || dsn != "" {
		t.Fatalf("buildDSN(:memory:) = %q, %v", dsn, err)
	}
	if dsn, err := buildDSN("/data/x.duckdb", 4); err != nil || dsn != "/data/x.duckdb?threads=4" {
		t.Fatalf("buildDSN() = %q, %v", dsn, err)
	}
	if _, err := buildDSN("x.duckdb?access_mode=READ_WRITE", 0); err == nil {
		t.Fatal("expected error for path with query string")
	}
}

func TestExecAndQueryRoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	if _, err := s.Exec(ctx, `CREATE TABLE people ("id" UTINYINT, "name" VARCHAR, "born" DATE)`); err != nil {
		t.Fatalf("Exec(create) error = %v", err)
	}
	affected, err := s.Exec(ctx, `INSERT INTO people VALUES (?, ?, ?), (?, ?, ?)`,
		uint8(1), "alice", time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC),
		uint8(2), "bob", nil,
	)
	if err != nil {
		t.Fatalf("Exec(insert) error = %v", err)
	}
	if affected != 2 {
		t.Fatalf("affected = %d", affected)
	}

	result, err := s.Query(ctx, "SELECT id, name FROM people ORDER BY id")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Columns[1] != "name" || result.ColumnTypes[0] != "UTINYINT" {
		t.Fatalf("columns = %v types = %v", result.Columns, result.ColumnTypes)
	}
	if result.Rows[1][1] != "bob" {
		t.Fatalf("name = %#v", result.Rows[1][1])
	}
}

func TestStreamWritesHeaderAndRows(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	if _, err := s.Exec(ctx, `CREATE TABLE t AS SELECT * FROM (VALUES (1, 'a,b', DATE '2024-03-01', 1.5::DOUBLE), (2, NULL, NULL, 2.0::DOUBLE)) v(id, label, day, score)`); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	stream, err := s.Stream(ctx, "SELECT id, label, day, score FROM t ORDER BY id")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer func() { _ = stream.Close() }()
	body, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	want := "id,label,day,score\n1,\"a,b\",2024-03-01,1.5\n2,,,2\n"
	if string(body) != want {
		t.Fatalf("stream = %q, want %q", body, want)
	}
}

func TestStreamCloseStopsProducer(t *testing.T) {
	s := openMemory(t)
	stream, err := s.Stream(context.Background(), "SELECT range AS n FROM range(1000000)")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	buf := make([]byte, 64)
	if _, err := stream.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := stream.Read(buf); err == nil {
		t.Fatal("Read() after Close should fail")
	}
}

func TestStreamReportsQueryErrors(t *testing.T) {
	s := openMemory(t)
	if _, err := s.Stream(context.Background(), "SELECT * FROM missing_table"); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestFormatValue(t *testing.T) {
	id := uuid.MustParse("5f2b1c3e-8a4d-4e6f-9b0a-1c2d3e4f5a6b")
	uuidBytes := id[:]
	stamp := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	cases := []struct {
		value        any
		databaseType string
		want         string
	}{
		{nil, "VARCHAR", ""},
		{[]byte("raw"), "BLOB", "raw"},
		{true, "BOOLEAN", "true"},
		{float64(0.1), "DOUBLE", "0.1"},
		{float32(2.5), "FLOAT", "2.5"},
		{uint32(42), "UINTEGER", "42"},
		{stamp, "TIMESTAMP", "2024-05-06 07:08:09"},
		{stamp, "DATE", "2024-05-06"},
		{uuidBytes, "UUID", "5f2b1c3e-8a4d-4e6f-9b0a-1c2d3e4f5a6b"},
		{goduckdb.Decimal{Width: 10, Scale: 3, Value: big.NewInt(12345)}, "DECIMAL(10,3)", "12.345"},
		{goduckdb.Decimal{Width: 18, Scale: 2, Value: big.NewInt(-5)}, "DECIMAL(18,2)", "-0.05"},
		{goduckdb.Interval{Days: 3}, "INTERVAL", "3 days"},
		{goduckdb.Interval{Months: 14, Days: 1, Micros: 3_723_500_000}, "INTERVAL", "1 year 2 months 1 day 01:02:03.5"},
		{goduckdb.Interval{Micros: -90_000_000}, "INTERVAL", "-00:01:30"},
		{goduckdb.Interval{}, "INTERVAL", "00:00:00"},
	}
	for _, tc := range cases {
		if got := formatValue(tc.value, tc.databaseType); got != tc.want {
			t.Fatalf("formatValue(%#v, %s) = %q, want %q", tc.value, tc.databaseType, got, tc.want)
		}
	}
}

const typedValuesQuery = `SELECT 12.345::DECIMAL(10,3) AS amount,
	'5f2b1c3e-8a4d-4e6f-9b0a-1c2d3e4f5a6b'::UUID AS u,
	INTERVAL 3 DAY AS iv,
	NULL::DECIMAL(10,2) AS missing`

func TestQueryRendersDriverTypes(t *testing.T) {
	s := openMemory(t)
	result, err := s.Query(context.Background(), typedValuesQuery)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	row := result.Rows[0]
	if row[0] != json.Number("12.345") {
		t.Fatalf("decimal = %#v", row[0])
	}
	if row[1] != "5f2b1c3e-8a4d-4e6f-9b0a-1c2d3e4f5a6b" {
		t.Fatalf("uuid = %#v", row[1])
	}
	if row[2] != "3 days" {
		t.Fatalf("interval = %#v", row[2])
	}
	if row[3] != nil {
		t.Fatalf("null decimal = %#v", row[3])
	}

	encoded, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(encoded) != `[12.345,"5f2b1c3e-8a4d-4e6f-9b0a-1c2d3e4f5a6b","3 days",null]` {
		t.Fatalf("preview row = %s", encoded)
	}
}

func TestStreamRendersDriverTypes(t *testing.T) {
	s := openMemory(t)
	stream, err := s.Stream(context.Background(), typedValuesQuery)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer func() { _ = stream.Close() }()
	body, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	want := "amount,u,iv,missing\n12.345,5f2b1c3e-8a4d-4e6f-9b0a-1c2d3e4f5a6b,3 days,\n"
	if string(body) != want {
		t.Fatalf("stream = %q, want %q", body, want)
	}
}
