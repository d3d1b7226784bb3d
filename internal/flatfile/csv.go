package flatfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/duckmesh/duckxfer/internal/transfer"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", transfer.Validationf("unsupported file format %q", raw)
	}
}

// Table is a fully parsed flat file. Rows are positional and padded to the
// header width.
type Table struct {
	Header []string
	Rows   [][]string
	// Types holds the types declared by the source format, if any, aligned
	// with Header. CSV sources leave it nil.
	Types []transfer.TypeTag
}

func (t Table) Index(name string) int {
	for i, column := range t.Header {
		if column == name {
			return i
		}
	}
	return -1
}

func (t Table) Column(index int) []string {
	values := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if index < len(row) {
			values = append(values, row[index])
		} else {
			values = append(values, "")
		}
	}
	return values
}

type CSVOptions struct {
	Delimiter rune
	HasHeader bool
}

// ParseDelimiter accepts a single character, or "tab"/"\t" for tabs. Empty
// means comma.
func ParseDelimiter(raw string) (rune, error) {
	switch raw {
	case "":
		return ',', nil
	case `\t`, "tab", "TAB", "\t":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(raw)
	if size != len(raw) || !validDelimiter(r) {
		return 0, transfer.Validationf("invalid delimiter %q", raw)
	}
	return r, nil
}

func validDelimiter(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && r != utf8.RuneError && utf8.ValidRune(r)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV parses the whole of r. Headerless files get Column1..ColumnN.
func ReadCSV(r io.Reader, opts CSVOptions) (Table, error) {
	delimiter := opts.Delimiter
	if delimiter == 0 {
		delimiter = ','
	}
	if !validDelimiter(delimiter) {
		return Table{}, transfer.Validationf("invalid delimiter %q", delimiter)
	}

	buffered := bufio.NewReader(r)
	if prefix, err := buffered.Peek(len(utf8BOM)); err == nil && string(prefix) == string(utf8BOM) {
		_, _ = buffered.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(buffered)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, csvParseError(err)
	}

	table := Table{}
	if opts.HasHeader {
		if len(records) == 0 {
			return Table{}, transfer.Parsef("file has no header line")
		}
		header, err := normalizeHeader(records[0])
		if err != nil {
			return Table{}, err
		}
		table.Header = header
		records = records[1:]
	} else {
		width := 0
		for _, record := range records {
			width = max(width, len(record))
		}
		table.Header = positionalHeader(width)
	}

	width := len(table.Header)
	table.Rows = make([][]string, 0, len(records))
	for i, record := range records {
		if len(record) > width {
			line := i + 1
			if opts.HasHeader {
				line++
			}
			return Table{}, transfer.Parsef("record on line %d has %d fields, header has %d", line, len(record), width)
		}
		if len(record) < width {
			padded := make([]string, width)
			copy(padded, record)
			record = padded
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}

func normalizeHeader(record []string) ([]string, error) {
	header := make([]string, len(record))
	seen := make(map[string]struct{}, len(record))
	for i, raw := range record {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("Column%d", i+1)
		}
		if _, ok := seen[name]; ok {
			return nil, transfer.Parsef("duplicate header column %q", name)
		}
		seen[name] = struct{}{}
		header[i] = name
	}
	return header, nil
}

func positionalHeader(width int) []string {
	header := make([]string, width)
	for i := range header {
		header[i] = fmt.Sprintf("Column%d", i+1)
	}
	return header
}

func csvParseError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return transfer.ParseError(fmt.Sprintf("line %d, column %d", parseErr.Line, parseErr.Column), parseErr.Err)
	}
	return readError("read csv", err)
}
