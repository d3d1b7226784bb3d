package duckdb

import (
	"bufio"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb/v2"
)

const streamBufferSize = 32 * 1024

// encodeRows writes rows as CSV: a header record of column names, then one
// record per row.
func encodeRows(w io.Writer, rows *sql.Rows, columns, columnTypes []string) error {
	buffered := bufio.NewWriterSize(w, streamBufferSize)
	writer := csv.NewWriter(buffered)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(columns))
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return err
		}
		for i, value := range values {
			record[i] = formatValue(value, columnTypes[i])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return buffered.Flush()
}

func formatValue(value any, databaseType string) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return bytesText(typed, databaseType)
	case goduckdb.Decimal:
		if typed.Value == nil {
			return ""
		}
		return typed.String()
	case goduckdb.Interval:
		return formatInterval(typed)
	case bool:
		return strconv.FormatBool(typed)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int8, int16, int32, int64, int, uint8, uint16, uint32, uint64, uint:
		return fmt.Sprint(typed)
	case *big.Int:
		return typed.String()
	case time.Time:
		return formatTime(typed, databaseType)
	default:
		return fmt.Sprint(typed)
	}
}

func formatTime(value time.Time, databaseType string) string {
	if strings.EqualFold(databaseType, "DATE") {
		return value.Format(time.DateOnly)
	}
	if value.Nanosecond() != 0 {
		return value.Format("2006-01-02 15:04:05.999999")
	}
	return value.Format(time.DateTime)
}
