package core

import "strings"

type ColumnType int

const (
	StringType ColumnType = iota
	IntType
	FloatType
	BoolType
	TextType
	DateType
	TimestampType
	JsonType
	DecimalType
	BinaryType
	UnknownType
)

var columnTypeNames = map[ColumnType]string{
	StringType:    "STRING",
	IntType:       "INT",
	FloatType:     "FLOAT",
	BoolType:      "BOOL",
	TextType:      "TEXT",
	DateType:      "DATE",
	TimestampType: "TIMESTAMP",
	JsonType:      "JSON",
	DecimalType:   "DECIMAL",
	BinaryType:    "BINARY",
	UnknownType:   "UNKNOWN",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseColumnType maps an engine type name (VARCHAR, BIGINT, DECIMAL(18,3), ...)
// to a ColumnType.
func ParseColumnType(typeName string) ColumnType {
	name := strings.ToUpper(strings.TrimSpace(typeName))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}

	switch name {
	case "VARCHAR", "CHAR", "BPCHAR", "STRING", "UUID", "ENUM":
		return StringType
	case "TEXT":
		return TextType
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT":
		return IntType
	case "FLOAT", "REAL", "DOUBLE":
		return FloatType
	case "DECIMAL", "NUMERIC":
		return DecimalType
	case "BOOLEAN", "BOOL":
		return BoolType
	case "DATE":
		return DateType
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "DATETIME",
		"TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS":
		return TimestampType
	case "JSON":
		return JsonType
	case "BLOB", "BYTEA":
		return BinaryType
	default:
		return UnknownType
	}
}

// Column describes one column of a query result.
type Column struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	EngineType string     `json:"engine_type,omitempty"`
	Nullable   bool       `json:"nullable"`
}

func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText reads a name written by MarshalText. Unknown names decode to
// UnknownType.
func (t *ColumnType) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for columnType, columnTypeName := range columnTypeNames {
		if columnTypeName == name {
			*t = columnType
			return nil
		}
	}
	*t = UnknownType
	return nil
}
