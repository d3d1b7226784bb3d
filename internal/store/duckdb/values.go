package duckdb

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb/v2"
)

// normalizeValues turns driver values into JSON friendly ones: text for
// strings, UUIDs and intervals, exact numbers for decimals.
func normalizeValues(values []any, columnTypes []string) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		databaseType := ""
		if i < len(columnTypes) {
			databaseType = columnTypes[i]
		}
		switch typed := value.(type) {
		case []byte:
			normalized[i] = bytesText(typed, databaseType)
		case goduckdb.Decimal:
			if typed.Value == nil {
				normalized[i] = nil
				continue
			}
			normalized[i] = json.Number(typed.String())
		case goduckdb.Interval:
			normalized[i] = formatInterval(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// bytesText renders UUID columns, which the driver hands out as 16 raw
// bytes, in their canonical form.
func bytesText(value []byte, databaseType string) string {
	if strings.EqualFold(databaseType, "UUID") {
		if id, err := uuid.FromBytes(value); err == nil {
			return id.String()
		}
	}
	return string(value)
}

// formatInterval renders an interval the way DuckDB casts it to text, e.g.
// "1 year 2 months 3 days 04:05:06.5".
func formatInterval(iv goduckdb.Interval) string {
	var parts []string
	unit := func(n int64, name string) {
		if n == 0 {
			return
		}
		if n != 1 && n != -1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
	}
	unit(int64(iv.Months/12), "year")
	unit(int64(iv.Months%12), "month")
	unit(int64(iv.Days), "day")
	if iv.Micros != 0 || len(parts) == 0 {
		parts = append(parts, formatClock(iv.Micros))
	}
	return strings.Join(parts, " ")
}

func formatClock(micros int64) string {
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}
	const perSecond = int64(1_000_000)
	seconds := micros / perSecond
	clock := fmt.Sprintf("%s%02d:%02d:%02d", sign, seconds/3600, seconds/60%60, seconds%60)
	if fraction := micros % perSecond; fraction != 0 {
		clock += "." + strings.TrimRight(fmt.Sprintf("%06d", fraction), "0")
	}
	return clock
}
