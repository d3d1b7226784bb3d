package sqlbuild

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/duckmesh/duckxfer/internal/transfer"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// BuildJoinQuery composes the raw query for a primary table joined to the
// given clauses. Predicates and fragments are forwarded verbatim.
func BuildJoinQuery(primary transfer.TableReference, joins []transfer.JoinClause, filter, orderBy, limit string) (string, error) {
	primaryName := strings.TrimSpace(primary.Name)
	if primaryName == "" {
		return "", transfer.Validationf("primary table is required")
	}
	for i, join := range joins {
		if strings.TrimSpace(join.Table) == "" {
			return "", transfer.Validationf("join %d: table is required", i+1)
		}
		if strings.TrimSpace(join.Predicate) == "" {
			return "", transfer.Validationf("join %d: predicate is required", i+1)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(primaryName)
	if alias := strings.TrimSpace(primary.Alias); alias != "" {
		b.WriteString(" AS ")
		b.WriteString(alias)
	}
	for i, join := range joins {
		kind, err := transfer.ParseJoinKind(string(join.Kind))
		if err != nil {
			return "", transfer.Validationf("join %d: unknown join kind %q", i+1, join.Kind)
		}
		fmt.Fprintf(&b, " %s JOIN %s ON %s", kind, strings.TrimSpace(join.Table), strings.TrimSpace(join.Predicate))
	}
	appendFragment(&b, "WHERE", filter)
	appendFragment(&b, "ORDER BY", orderBy)
	appendFragment(&b, "LIMIT", limit)
	return b.String(), nil
}

// BuildProjection selects the selected columns of spec. limit <= 0 falls back
// to spec.Limit and, when that is blank too, renders no LIMIT.
func BuildProjection(spec transfer.QuerySpec, columns []transfer.ColumnDescriptor, limit int) (string, error) {
	selected := transfer.SelectedColumns(columns)
	if len(selected) == 0 {
		return "", transfer.Validationf("at least one column must be selected")
	}
	columnList, err := quoteColumnList(selected)
	if err != nil {
		return "", err
	}

	var source string
	switch spec.Mode {
	case transfer.ModeTable:
		if err := ValidateTableName(spec.TableName); err != nil {
			return "", err
		}
		source = strings.TrimSpace(spec.TableName)
	case transfer.ModeRaw:
		raw := StripTrailingSemicolons(spec.RawQuery)
		if raw == "" {
			return "", transfer.Validationf("raw query is required")
		}
		source = "(" + raw + ") AS q"
	default:
		return "", transfer.Validationf("unknown query mode %q", spec.Mode)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(columnList)
	b.WriteString(" FROM ")
	b.WriteString(source)
	appendFragment(&b, "WHERE", spec.Filter)
	appendFragment(&b, "ORDER BY", spec.OrderBy)
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	} else {
		appendFragment(&b, "LIMIT", spec.Limit)
	}
	return b.String(), nil
}

// BuildProbe wraps a raw query so that it returns column metadata and no rows.
func BuildProbe(rawQuery string) (string, error) {
	raw := StripTrailingSemicolons(rawQuery)
	if raw == "" {
		return "", transfer.Validationf("raw query is required")
	}
	return "SELECT * FROM (" + raw + ") AS q LIMIT 0", nil
}

func BuildDescribe(table string) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	return "DESCRIBE " + strings.TrimSpace(table), nil
}

func BuildCount(query string) string {
	return "SELECT count(*) FROM (" + StripTrailingSemicolons(query) + ") AS q"
}

func BuildCreateTable(table string, columns []transfer.ColumnDescriptor) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	selected := transfer.SelectedColumns(columns)
	if len(selected) == 0 {
		return "", transfer.Validationf("at least one column must be selected")
	}
	definitions := make([]string, 0, len(selected))
	for _, column := range selected {
		ident, err := QuoteIdent(column.Name)
		if err != nil {
			return "", err
		}
		definitions = append(definitions, ident+" "+column.Type.SQLType())
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", strings.TrimSpace(table), strings.Join(definitions, ", ")), nil
}

// Statement is a parameterized statement with positional "?" placeholders.
type Statement struct {
	SQL   string
	Args  []any
	table string
	cols  []transfer.ColumnDescriptor
	rows  [][]string
}

// BuildInsert renders one multi-row INSERT over the selected columns. Each row
// holds raw values positionally aligned with the selected columns; empty
// values become NULL. Values are bound as typed arguments.
func BuildInsert(table string, columns []transfer.ColumnDescriptor, rows [][]string) (Statement, error) {
	if err := ValidateTableName(table); err != nil {
		return Statement{}, err
	}
	selected := transfer.SelectedColumns(columns)
	if len(selected) == 0 {
		return Statement{}, transfer.Validationf("at least one column must be selected")
	}
	if len(rows) == 0 {
		return Statement{}, transfer.Validationf("at least one row is required")
	}
	columnList, err := quoteColumnList(selected)
	if err != nil {
		return Statement{}, err
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(selected)), ", ") + ")"
	tuples := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(selected))
	for rowIndex, row := range rows {
		if len(row) != len(selected) {
			return Statement{}, transfer.Validationf("row %d: expected %d values, got %d", rowIndex+1, len(selected), len(row))
		}
		for i, column := range selected {
			value, err := ConvertValue(column.Type, row[i])
			if err != nil {
				return Statement{}, transfer.ParseError(fmt.Sprintf("row %d, column %q", rowIndex+1, column.Name), err)
			}
			args = append(args, value)
		}
		tuples = append(tuples, placeholder)
	}

	return Statement{
		SQL:   fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", strings.TrimSpace(table), columnList, strings.Join(tuples, ", ")),
		Args:  args,
		table: strings.TrimSpace(table),
		cols:  selected,
		rows:  rows,
	}, nil
}

// Literal renders the statement with inline literals: NULL for empty values,
// quoted with doubled single quotes for string-like types, bare otherwise.
func (s Statement) Literal() string {
	if s.table == "" {
		return s.SQL
	}
	columnList, _ := quoteColumnList(s.cols)
	tuples := make([]string, 0, len(s.rows))
	for _, row := range s.rows {
		values := make([]string, 0, len(row))
		for i, raw := range row {
			values = append(values, RenderLiteral(s.cols[i].Type, raw))
		}
		tuples = append(tuples, "("+strings.Join(values, ", ")+")")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, columnList, strings.Join(tuples, ", "))
}

func RenderLiteral(tag transfer.TypeTag, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "NULL"
	}
	if tag.Quoted() {
		return QuoteString(raw)
	}
	return strings.TrimSpace(raw)
}

// ConvertValue parses raw into the Go value bound for a column of type tag.
// Empty values convert to nil.
func ConvertValue(tag transfer.TypeTag, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	switch tag {
	case transfer.TypeUInt8, transfer.TypeUInt16, transfer.TypeUInt32, transfer.TypeUInt64:
		value, err := strconv.ParseUint(trimmed, 10, unsignedBits(tag))
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", tag, raw)
		}
		switch tag {
		case transfer.TypeUInt8:
			return uint8(value), nil
		case transfer.TypeUInt16:
			return uint16(value), nil
		case transfer.TypeUInt32:
			return uint32(value), nil
		}
		return value, nil
	case transfer.TypeInt8, transfer.TypeInt16, transfer.TypeInt32, transfer.TypeInt64:
		value, err := strconv.ParseInt(trimmed, 10, signedBits(tag))
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", tag, raw)
		}
		switch tag {
		case transfer.TypeInt8:
			return int8(value), nil
		case transfer.TypeInt16:
			return int16(value), nil
		case transfer.TypeInt32:
			return int32(value), nil
		}
		return value, nil
	case transfer.TypeFloat32:
		value, err := strconv.ParseFloat(trimmed, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", tag, raw)
		}
		return float32(value), nil
	case transfer.TypeFloat64:
		value, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", tag, raw)
		}
		return value, nil
	case transfer.TypeDate:
		value, err := time.Parse(time.DateOnly, trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", tag, raw)
		}
		return value, nil
	case transfer.TypeDateTime:
		for _, layout := range dateTimeLayouts {
			if value, err := time.Parse(layout, trimmed); err == nil {
				return value, nil
			}
		}
		return nil, fmt.Errorf("invalid %s value %q", tag, raw)
	default:
		return raw, nil
	}
}

var dateTimeLayouts = []string{
	time.DateTime,
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

func unsignedBits(tag transfer.TypeTag) int {
	switch tag {
	case transfer.TypeUInt8:
		return 8
	case transfer.TypeUInt16:
		return 16
	case transfer.TypeUInt32:
		return 32
	}
	return 64
}

func signedBits(tag transfer.TypeTag) int {
	switch tag {
	case transfer.TypeInt8:
		return 8
	case transfer.TypeInt16:
		return 16
	case transfer.TypeInt32:
		return 32
	}
	return 64
}

func ValidateTableName(table string) error {
	name := strings.TrimSpace(table)
	if name == "" {
		return transfer.Validationf("table name is required")
	}
	if !tableNamePattern.MatchString(name) {
		return transfer.Validationf("invalid table name %q", table)
	}
	return nil
}

// QuoteIdent double-quotes a column name. Names with control characters are
// rejected.
func QuoteIdent(name string) (string, error) {
	if name == "" {
		return "", transfer.Validationf("column name is required")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", transfer.Validationf("invalid column name %q", name)
		}
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}

func QuoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func quoteColumnList(columns []transfer.ColumnDescriptor) (string, error) {
	quoted := make([]string, 0, len(columns))
	for _, column := range columns {
		ident, err := QuoteIdent(column.Name)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, ident)
	}
	return strings.Join(quoted, ", "), nil
}

func appendFragment(b *strings.Builder, keyword, fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	b.WriteString(" ")
	b.WriteString(keyword)
	b.WriteString(" ")
	b.WriteString(fragment)
}
