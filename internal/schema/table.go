package schema

import (
	"strconv"
	"strings"
	"time"
)

// ColumnType is the semantic type of a column. It decides both the declared
// SQL type and how stored values are coerced back into Go values.
type ColumnType string

const (
	Integer ColumnType = "INTEGER"
	Double  ColumnType = "DOUBLE"
	Boolean ColumnType = "BOOLEAN"
	Text    ColumnType = "TEXT"
)

// SQLType returns the storage type used in CREATE TABLE.
// Booleans are persisted as the text 'true' or 'false'.
func (t ColumnType) SQLType() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Double:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Column describes one column of an entity table.
type Column struct {
	Name string
	Type ColumnType
	Key  bool
}

// Table is the declarative description of an entity table. Column order is
// significant: it is the order used in every generated statement.
type Table struct {
	Name    string
	Columns []Column
}

// Keys returns the primary key columns in declaration order.
func (t *Table) Keys() []Column {
	var keys []Column
	for _, c := range t.Columns {
		if c.Key {
			keys = append(keys, c)
		}
	}
	return keys
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns all column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Row is one record keyed by column name. Values are int64, float64, bool,
// string or nil.
type Row map[string]any

// Int returns the column as int64, or 0 when absent.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Float returns the column as float64, or 0 when absent.
func (r Row) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// FloatPtr returns the column as *float64, nil when the column is null.
func (r Row) FloatPtr(col string) *float64 {
	if r[col] == nil {
		return nil
	}
	f := r.Float(col)
	return &f
}

// Bool returns the column as bool. Anything but true is false.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	case int64:
		return v != 0
	}
	return false
}

// String returns the column as string, or "" when absent.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Time parses an RFC 3339 column. Unparseable or absent values yield the
// zero time.
func (r Row) Time(col string) time.Time {
	s := r.String(col)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Model is implemented by every cached entity.
type Model interface {
	Table() *Table
	Row() Row
	Scan(Row)
}

// FormatTime renders a timestamp the way it is stored: UTC RFC 3339, or null
// for the zero time. UTC keeps text ordering equal to time ordering.
func FormatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// JoinIDs renders ids as the comma separated text stored in list columns.
func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// SplitIDs parses a comma separated id list, skipping blanks and garbage.
func SplitIDs(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
