package flatfile

import (
	"bytes"
	"io"

	"github.com/duckmesh/duckxfer/internal/transfer"
)

// Read parses a whole source in the given format. Parquet needs random
// access, so the source is buffered in memory first.
func Read(r io.Reader, format Format, opts CSVOptions) (Table, error) {
	if r == nil {
		return Table{}, transfer.Validationf("import source is required")
	}
	switch format {
	case "", FormatCSV:
		return ReadCSV(r, opts)
	case FormatParquet:
		data, err := io.ReadAll(r)
		if err != nil {
			return Table{}, readError("read parquet source", err)
		}
		return ReadParquet(bytes.NewReader(data), int64(len(data)))
	default:
		return Table{}, transfer.Validationf("unsupported file format %q", format)
	}
}

// readError keeps kinded errors, such as a size limit, as they are.
func readError(message string, err error) error {
	if transfer.KindOf(err) != "" {
		return err
	}
	return transfer.ParseError(message, err)
}
