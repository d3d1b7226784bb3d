package schema

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/duckmesh/duckxfer/internal/flatfile"
	"github.com/duckmesh/duckxfer/internal/transfer"
)

const maxInferenceSamples = 10

var (
	numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	integerPattern = regexp.MustCompile(`^[+-]?\d+$`)
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// InferType guesses a column type from up to ten non-empty values. It is a
// heuristic: integers only ever map to the unsigned 8/16/32-bit tags, and
// anything ambiguous falls back to String.
func InferType(values []string) transfer.TypeTag {
	samples := make([]string, 0, maxInferenceSamples)
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		samples = append(samples, trimmed)
		if len(samples) == maxInferenceSamples {
			break
		}
	}
	if len(samples) == 0 {
		return transfer.TypeString
	}

	if allMatch(samples, numericPattern) {
		if !allMatch(samples, integerPattern) {
			return transfer.TypeFloat64
		}
		return narrowestUnsigned(samples)
	}
	if allMatch(samples, datePattern) {
		return transfer.TypeDate
	}
	return transfer.TypeString
}

func allMatch(samples []string, pattern *regexp.Regexp) bool {
	for _, sample := range samples {
		if !pattern.MatchString(sample) {
			return false
		}
	}
	return true
}

func narrowestUnsigned(samples []string) transfer.TypeTag {
	var maximum uint64
	for _, sample := range samples {
		magnitude, err := strconv.ParseUint(strings.TrimLeft(sample, "+-"), 10, 64)
		if err != nil {
			// Overflows uint64; wider than anything the tags below can bound.
			return transfer.TypeUInt32
		}
		if strings.HasPrefix(sample, "-") {
			continue
		}
		maximum = max(maximum, magnitude)
	}
	switch {
	case maximum <= 255:
		return transfer.TypeUInt8
	case maximum <= 65535:
		return transfer.TypeUInt16
	default:
		return transfer.TypeUInt32
	}
}

// InferColumns describes every column of table, all selected. Types declared
// by the source format win over inference.
func InferColumns(table flatfile.Table, sampleRows int) []transfer.ColumnDescriptor {
	rows := table.Rows
	if sampleRows > 0 && len(rows) > sampleRows {
		rows = rows[:sampleRows]
	}
	sample := flatfile.Table{Header: table.Header, Rows: rows}

	columns := make([]transfer.ColumnDescriptor, len(table.Header))
	for i, name := range table.Header {
		tag := transfer.TypeTag("")
		if i < len(table.Types) {
			tag = table.Types[i]
		}
		if !tag.Valid() {
			tag = InferType(sample.Column(i))
		}
		columns[i] = transfer.ColumnDescriptor{Name: name, Type: tag, Selected: true}
	}
	return columns
}

// CanonicalString renders raw the way the engine writes a value of type tag.
// Values that do not parse as tag are returned trimmed but otherwise as is.
func CanonicalString(tag transfer.TypeTag, raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	switch tag {
	case transfer.TypeUInt8, transfer.TypeUInt16, transfer.TypeUInt32, transfer.TypeUInt64:
		if value, err := strconv.ParseUint(strings.TrimPrefix(trimmed, "+"), 10, 64); err == nil {
			return strconv.FormatUint(value, 10)
		}
	case transfer.TypeInt8, transfer.TypeInt16, transfer.TypeInt32, transfer.TypeInt64:
		if value, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return strconv.FormatInt(value, 10)
		}
	case transfer.TypeFloat32:
		if value, err := strconv.ParseFloat(trimmed, 32); err == nil {
			return floatString(value, 32)
		}
	case transfer.TypeFloat64:
		if value, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return floatString(value, 64)
		}
	}
	return trimmed
}

// floatString keeps a fractional part on integral values so that the
// rendering still reads back as a float.
func floatString(value float64, bitSize int) string {
	rendered := strconv.FormatFloat(value, 'f', -1, bitSize)
	if !strings.ContainsAny(rendered, ".NI") {
		rendered += ".0"
	}
	return rendered
}
