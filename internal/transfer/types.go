package transfer

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type TypeTag string

const (
	TypeUInt8    TypeTag = "UInt8"
	TypeUInt16   TypeTag = "UInt16"
	TypeUInt32   TypeTag = "UInt32"
	TypeUInt64   TypeTag = "UInt64"
	TypeInt8     TypeTag = "Int8"
	TypeInt16    TypeTag = "Int16"
	TypeInt32    TypeTag = "Int32"
	TypeInt64    TypeTag = "Int64"
	TypeFloat32  TypeTag = "Float32"
	TypeFloat64  TypeTag = "Float64"
	TypeDate     TypeTag = "Date"
	TypeDateTime TypeTag = "DateTime"
	TypeString   TypeTag = "String"
)

var allTypeTags = []TypeTag{
	TypeUInt8, TypeUInt16, TypeUInt32, TypeUInt64,
	TypeInt8, TypeInt16, TypeInt32, TypeInt64,
	TypeFloat32, TypeFloat64,
	TypeDate, TypeDateTime, TypeString,
}

var duckdbTypeNames = map[TypeTag]string{
	TypeUInt8:    "UTINYINT",
	TypeUInt16:   "USMALLINT",
	TypeUInt32:   "UINTEGER",
	TypeUInt64:   "UBIGINT",
	TypeInt8:     "TINYINT",
	TypeInt16:    "SMALLINT",
	TypeInt32:    "INTEGER",
	TypeInt64:    "BIGINT",
	TypeFloat32:  "FLOAT",
	TypeFloat64:  "DOUBLE",
	TypeDate:     "DATE",
	TypeDateTime: "TIMESTAMP",
	TypeString:   "VARCHAR",
}

// declaredTypeAliases maps upper-cased store type names to tags. Both DuckDB
// spellings and ClickHouse-style names are accepted.
var declaredTypeAliases = map[string]TypeTag{
	"UTINYINT": TypeUInt8, "UINT8": TypeUInt8,
	"USMALLINT": TypeUInt16, "UINT16": TypeUInt16,
	"UINTEGER": TypeUInt32, "UINT32": TypeUInt32,
	"UBIGINT": TypeUInt64, "UINT64": TypeUInt64,
	"TINYINT": TypeInt8, "INT1": TypeInt8, "INT8": TypeInt8,
	"SMALLINT": TypeInt16, "INT2": TypeInt16, "SHORT": TypeInt16, "INT16": TypeInt16,
	"INTEGER": TypeInt32, "INT": TypeInt32, "INT4": TypeInt32, "SIGNED": TypeInt32, "INT32": TypeInt32,
	"BIGINT": TypeInt64, "LONG": TypeInt64, "INT64": TypeInt64,
	"FLOAT": TypeFloat32, "FLOAT4": TypeFloat32, "REAL": TypeFloat32, "FLOAT32": TypeFloat32,
	"DOUBLE": TypeFloat64, "FLOAT8": TypeFloat64, "FLOAT64": TypeFloat64, "DECIMAL": TypeFloat64, "NUMERIC": TypeFloat64,
	"DATE": TypeDate, "DATE32": TypeDate,
	"TIMESTAMP": TypeDateTime, "DATETIME": TypeDateTime, "DATETIME64": TypeDateTime,
	"TIMESTAMP WITH TIME ZONE": TypeDateTime, "TIMESTAMPTZ": TypeDateTime,
	"TIMESTAMP_S": TypeDateTime, "TIMESTAMP_MS": TypeDateTime, "TIMESTAMP_NS": TypeDateTime,
	"VARCHAR": TypeString, "TEXT": TypeString, "STRING": TypeString, "CHAR": TypeString, "BPCHAR": TypeString,
	"UUID": TypeString, "FIXEDSTRING": TypeString,
}

var wrapperTypePattern = regexp.MustCompile(`^(?i)(nullable|lowcardinality)\((.*)\)$`)

// ParseTypeTag maps a store-declared column type to a tag. Unknown names
// fall back to String.
func ParseTypeTag(declared string) TypeTag {
	name := strings.TrimSpace(declared)
	for {
		matches := wrapperTypePattern.FindStringSubmatch(name)
		if len(matches) != 3 {
			break
		}
		name = strings.TrimSpace(matches[2])
	}
	for _, tag := range allTypeTags {
		if name == string(tag) {
			return tag
		}
	}
	upper := strings.ToUpper(name)
	if index := strings.IndexByte(upper, '('); index > 0 {
		upper = strings.TrimSpace(upper[:index])
	}
	if tag, ok := declaredTypeAliases[upper]; ok {
		return tag
	}
	return TypeString
}

func (t TypeTag) Valid() bool {
	_, ok := duckdbTypeNames[t]
	return ok
}

// SQLType returns the DuckDB column type used in DDL.
func (t TypeTag) SQLType() string {
	if name, ok := duckdbTypeNames[t]; ok {
		return name
	}
	return duckdbTypeNames[TypeString]
}

// Quoted reports whether literals of this type are rendered as quoted strings.
func (t TypeTag) Quoted() bool {
	switch t {
	case TypeDate, TypeDateTime, TypeString:
		return true
	}
	return !t.Valid()
}

type ColumnDescriptor struct {
	Name     string  `json:"name"`
	Type     TypeTag `json:"type"`
	Selected bool    `json:"selected"`
}

// ValidateColumns checks name uniqueness and that at least one column is
// selected.
func ValidateColumns(columns []ColumnDescriptor) error {
	seen := make(map[string]struct{}, len(columns))
	selected := 0
	for i, column := range columns {
		if strings.TrimSpace(column.Name) == "" {
			return Validationf("column %d: name is required", i+1)
		}
		if _, ok := seen[column.Name]; ok {
			return Validationf("duplicate column %q", column.Name)
		}
		seen[column.Name] = struct{}{}
		if column.Type != "" && !column.Type.Valid() {
			return Validationf("column %q: unknown type %q", column.Name, column.Type)
		}
		if column.Selected {
			selected++
		}
	}
	if selected == 0 {
		return Validationf("at least one column must be selected")
	}
	return nil
}

func SelectedColumns(columns []ColumnDescriptor) []ColumnDescriptor {
	out := make([]ColumnDescriptor, 0, len(columns))
	for _, column := range columns {
		if column.Selected {
			out = append(out, column)
		}
	}
	return out
}

func ColumnNames(columns []ColumnDescriptor) []string {
	names := make([]string, 0, len(columns))
	for _, column := range columns {
		names = append(names, column.Name)
	}
	return names
}

type TableReference struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
	JoinFull  JoinKind = "FULL"
)

func ParseJoinKind(raw string) (JoinKind, error) {
	kind := JoinKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case "":
		return JoinInner, nil
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		return kind, nil
	default:
		return "", Validationf("unknown join kind %q", raw)
	}
}

type JoinClause struct {
	Kind      JoinKind `json:"kind"`
	Table     string   `json:"table"`
	Predicate string   `json:"predicate"`
}

type QueryMode string

const (
	ModeTable QueryMode = "TABLE"
	ModeRaw   QueryMode = "RAW"
)

type QuerySpec struct {
	Mode      QueryMode `json:"mode"`
	TableName string    `json:"table_name,omitempty"`
	RawQuery  string    `json:"raw_query,omitempty"`
	Columns   []string  `json:"columns,omitempty"`
	Filter    string    `json:"filter,omitempty"`
	OrderBy   string    `json:"order_by,omitempty"`
	Limit     string    `json:"limit,omitempty"`
}

func (s QuerySpec) Validate() error {
	switch s.Mode {
	case ModeTable:
		if strings.TrimSpace(s.TableName) == "" {
			return Validationf("table name is required")
		}
	case ModeRaw:
		if strings.TrimSpace(s.RawQuery) == "" {
			return Validationf("raw query is required")
		}
	default:
		return Validationf("unknown query mode %q", s.Mode)
	}
	return nil
}

// Source returns the table name or raw query the query selects from.
func (s QuerySpec) Source() string {
	if s.Mode == ModeRaw {
		return s.RawQuery
	}
	return s.TableName
}

// ApplySelection marks the descriptors named in s.Columns as selected. An
// empty name list keeps the descriptors' own selection.
func (s QuerySpec) ApplySelection(columns []ColumnDescriptor) []ColumnDescriptor {
	out := append([]ColumnDescriptor(nil), columns...)
	if len(s.Columns) == 0 {
		return out
	}
	wanted := make(map[string]struct{}, len(s.Columns))
	for _, name := range s.Columns {
		wanted[name] = struct{}{}
	}
	for i := range out {
		_, out[i].Selected = wanted[out[i].Name]
	}
	return out
}

type ConnParams struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

func (c ConnParams) String() string {
	host := c.Host
	if host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s:%d/%s", host, c.Port, c.Database)
}

type JobKind string

const (
	JobExport JobKind = "export"
	JobImport JobKind = "import"
)

type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

type Job struct {
	ID               string
	Kind             JobKind
	Status           JobStatus
	Target           string
	RecordsProcessed int64
	PercentComplete  int
	StartedAt        time.Time
	FinishedAt       time.Time
	OutputLocation   string
	Error            string
}

type Summary struct {
	JobID          string `json:"job_id"`
	RecordCount    int64  `json:"record_count"`
	OutputLocation string `json:"output_location"`
}
