package flatfile

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/duckxfer/internal/transfer"
)

const parquetReadBatch = 256

// ReadParquet parses a parquet file with a flat schema into a Table. Values
// are rendered the way a CSV export of the same data would carry them.
func ReadParquet(r io.ReaderAt, size int64) (Table, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return Table{}, transfer.ParseError("open parquet", err)
	}

	fields := file.Schema().Fields()
	columns := make([]parquetColumn, len(fields))
	table := Table{
		Header: make([]string, len(fields)),
		Types:  make([]transfer.TypeTag, len(fields)),
	}
	for i, field := range fields {
		if !field.Leaf() || field.Repeated() {
			return Table{}, transfer.Schemaf("parquet column %q is nested or repeated", field.Name())
		}
		columns[i] = newParquetColumn(field)
		table.Header[i] = field.Name()
		table.Types[i] = columns[i].tag
	}

	buffer := make([]parquet.Row, parquetReadBatch)
	for _, group := range file.RowGroups() {
		if err := readRowGroup(group, columns, buffer, &table); err != nil {
			return Table{}, err
		}
	}
	return table, nil
}

func readRowGroup(group parquet.RowGroup, columns []parquetColumn, buffer []parquet.Row, table *Table) error {
	rows := group.Rows()
	defer func() { _ = rows.Close() }()
	for {
		n, err := rows.ReadRows(buffer)
		for _, row := range buffer[:n] {
			record := make([]string, len(columns))
			for _, value := range row {
				index := value.Column()
				if index < 0 || index >= len(columns) {
					continue
				}
				record[index] = columns[index].render(value)
			}
			table.Rows = append(table.Rows, record)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return transfer.ParseError("read parquet rows", err)
		}
	}
}

type parquetColumn struct {
	kind      parquet.Kind
	tag       transfer.TypeTag
	date      bool
	unsigned  bool
	timestamp time.Duration
}

func newParquetColumn(field parquet.Field) parquetColumn {
	column := parquetColumn{kind: field.Type().Kind(), tag: transfer.TypeString}
	logical := field.Type().LogicalType()
	switch column.kind {
	case parquet.Int32:
		column.tag = transfer.TypeInt32
		if logical != nil && logical.Date != nil {
			column.date = true
			column.tag = transfer.TypeDate
		}
		if logical != nil && logical.Integer != nil && !logical.Integer.IsSigned {
			column.unsigned = true
			column.tag = transfer.TypeUInt32
		}
	case parquet.Int64:
		column.tag = transfer.TypeInt64
		if logical != nil && logical.Timestamp != nil {
			column.tag = transfer.TypeDateTime
			switch {
			case logical.Timestamp.Unit.Millis != nil:
				column.timestamp = time.Millisecond
			case logical.Timestamp.Unit.Nanos != nil:
				column.timestamp = time.Nanosecond
			default:
				column.timestamp = time.Microsecond
			}
		}
		if logical != nil && logical.Integer != nil && !logical.Integer.IsSigned {
			column.unsigned = true
			column.tag = transfer.TypeUInt64
		}
	case parquet.Float:
		column.tag = transfer.TypeFloat32
	case parquet.Double:
		column.tag = transfer.TypeFloat64
	}
	return column
}

// instant converts a stored timestamp in the column's unit to UTC.
func (c parquetColumn) instant(n int64) time.Time {
	switch c.timestamp {
	case time.Millisecond:
		return time.UnixMilli(n).UTC()
	case time.Microsecond:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

func (c parquetColumn) render(value parquet.Value) string {
	if value.IsNull() {
		return ""
	}
	switch value.Kind() {
	case parquet.Boolean:
		return strconv.FormatBool(value.Boolean())
	case parquet.Int32:
		switch {
		case c.date:
			return time.Unix(int64(value.Int32())*86400, 0).UTC().Format(time.DateOnly)
		case c.unsigned:
			return strconv.FormatUint(uint64(uint32(value.Int32())), 10)
		}
		return strconv.FormatInt(int64(value.Int32()), 10)
	case parquet.Int64:
		switch {
		case c.timestamp > 0:
			stamp := c.instant(value.Int64())
			if stamp.Nanosecond() != 0 {
				return stamp.Format("2006-01-02 15:04:05.999999999")
			}
			return stamp.Format(time.DateTime)
		case c.unsigned:
			return strconv.FormatUint(uint64(value.Int64()), 10)
		}
		return strconv.FormatInt(value.Int64(), 10)
	case parquet.Float:
		return strconv.FormatFloat(float64(value.Float()), 'f', -1, 32)
	case parquet.Double:
		return strconv.FormatFloat(value.Double(), 'f', -1, 64)
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(value.ByteArray())
	default:
		return ""
	}
}
