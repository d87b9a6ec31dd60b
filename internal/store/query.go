package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

type operator int

const (
	opEquals operator = iota
	opIn
	opNotIn
	opLike
)

// Condition is one term of a WHERE clause. Terms are joined with AND.
type Condition struct {
	Column string
	op     operator
	values []any
}

// Equals matches rows whose column equals v.
func Equals(column string, v any) Condition {
	return Condition{Column: column, op: opEquals, values: []any{v}}
}

// In matches rows whose column is one of vs. An empty list matches nothing.
func In[T any](column string, vs ...T) Condition {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = v
	}
	return Condition{Column: column, op: opIn, values: values}
}

// NotIn matches rows whose column is none of vs. An empty list matches
// every row.
func NotIn[T any](column string, vs ...T) Condition {
	c := In(column, vs...)
	c.op = opNotIn
	return c
}

// Like matches rows whose column matches the SQL LIKE pattern. Backslash
// escapes a literal %, _ or \ in pattern.
func Like(column, pattern string) Condition {
	return Condition{Column: column, op: opLike, values: []any{pattern}}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Contains matches rows whose column contains text literally.
func Contains(column, text string) Condition {
	return Like(column, "%"+likeEscaper.Replace(text)+"%")
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// Order is one sort key.
type Order struct {
	Column    string
	Direction Direction
}

// Asc sorts by column ascending.
func Asc(column string) Order { return Order{Column: column, Direction: Ascending} }

// Desc sorts by column descending.
func Desc(column string) Order { return Order{Column: column, Direction: Descending} }

// Query selects rows. Zero Limit means no limit.
type Query struct {
	Where   []Condition
	OrderBy []Order
	Limit   int
	Offset  int
}

// Where is shorthand for a Query with only conditions.
func Where(conds ...Condition) Query {
	return Query{Where: conds}
}

func columnOf(t *schema.Table, name string) (schema.Column, error) {
	c, ok := t.Column(name)
	if !ok {
		return schema.Column{}, errs.Invalid("column", "%s has no column %s", t.Name, name)
	}
	return c, nil
}

func createStatement(t *schema.Table) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, c.Name+" "+c.Type.SQLType())
	}
	var keys []string
	for _, c := range t.Keys() {
		keys = append(keys, c.Name)
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(defs, ", "))
}

func whereClause(t *schema.Table, conds []Condition) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	terms := make([]string, 0, len(conds))
	var args []any
	for _, cond := range conds {
		col, err := columnOf(t, cond.Column)
		if err != nil {
			return "", nil, err
		}
		switch cond.op {
		case opEquals:
			if cond.values[0] == nil {
				terms = append(terms, col.Name+" IS NULL")
				continue
			}
			terms = append(terms, col.Name+" = ?")
			args = append(args, toStorage(col, cond.values[0]))
		case opIn:
			if len(cond.values) == 0 {
				terms = append(terms, "1 = 0")
				continue
			}
			marks := make([]string, len(cond.values))
			for i, v := range cond.values {
				marks[i] = "?"
				args = append(args, toStorage(col, v))
			}
			terms = append(terms, col.Name+" IN ("+strings.Join(marks, ", ")+")")
		case opNotIn:
			if len(cond.values) == 0 {
				terms = append(terms, "1 = 1")
				continue
			}
			marks := make([]string, len(cond.values))
			for i, v := range cond.values {
				marks[i] = "?"
				args = append(args, toStorage(col, v))
			}
			terms = append(terms, col.Name+" NOT IN ("+strings.Join(marks, ", ")+")")
		case opLike:
			terms = append(terms, col.Name+` LIKE ? ESCAPE '\'`)
			args = append(args, cond.values[0])
		}
	}
	return " WHERE " + strings.Join(terms, " AND "), args, nil
}

func selectStatement(t *schema.Table, q Query) (string, []any, error) {
	where, args, err := whereClause(t, q.Where)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(t.ColumnNames(), ", "))
	b.WriteString(" FROM ")
	b.WriteString(t.Name)
	b.WriteString(where)

	if len(q.OrderBy) > 0 {
		sorts := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			if _, err := columnOf(t, o.Column); err != nil {
				return "", nil, err
			}
			dir := o.Direction
			if dir != Descending {
				dir = Ascending
			}
			sorts[i] = o.Column + " " + string(dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(sorts, ", "))
	}

	switch {
	case q.Limit > 0:
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	case q.Offset > 0:
		b.WriteString(" LIMIT -1")
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	}

	return b.String(), args, nil
}

// upsertStatement writes row by key. Only columns present in row are
// written, so a partial row leaves the other columns untouched on update.
func upsertStatement(t *schema.Table, row schema.Row) (string, []any, error) {
	cols, args, err := rowColumns(t, row)
	if err != nil {
		return "", nil, err
	}

	var keys, updates []string
	for _, c := range t.Columns {
		if c.Key {
			keys = append(keys, c.Name)
			continue
		}
		if _, ok := row[c.Name]; ok {
			updates = append(updates, c.Name+" = excluded."+c.Name)
		}
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO ",
		t.Name, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(keys, ", "))
	if len(updates) == 0 {
		stmt += "NOTHING"
	} else {
		stmt += "UPDATE SET " + strings.Join(updates, ", ")
	}
	return stmt, args, nil
}

// insertStatement inserts a row whose key is not assigned yet; null key
// columns are left out so SQLite assigns them.
func insertStatement(t *schema.Table, row schema.Row) (string, []any, error) {
	cols, args, err := rowColumns(t, row)
	if err != nil {
		return "", nil, err
	}
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(cols, ", "), placeholders(len(cols)))
	return stmt, args, nil
}

func rowColumns(t *schema.Table, row schema.Row) ([]string, []any, error) {
	for name := range row {
		if !t.HasColumn(name) {
			return nil, nil, errs.Invalid("column", "%s has no column %s", t.Name, name)
		}
	}

	var cols []string
	var args []any
	for _, c := range t.Columns {
		v, ok := row[c.Name]
		if !ok || (c.Key && v == nil) {
			continue
		}
		cols = append(cols, c.Name)
		args = append(args, toStorage(c, v))
	}
	if len(cols) == 0 {
		return nil, nil, errs.Invalid("row", "no columns to write into %s", t.Name)
	}
	return cols, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// keyAssigned reports whether every key column holds a value.
func keyAssigned(t *schema.Table, row schema.Row) bool {
	for _, c := range t.Keys() {
		if row[c.Name] == nil {
			return false
		}
	}
	return true
}

// toStorage converts a Go value to its stored form for the column.
func toStorage(c schema.Column, v any) any {
	if v == nil {
		return nil
	}
	switch c.Type {
	case schema.Boolean:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b)
		case string:
			return b
		}
	case schema.Integer:
		switch n := v.(type) {
		case int:
			return int64(n)
		case int32:
			return int64(n)
		case bool:
			if n {
				return int64(1)
			}
			return int64(0)
		}
	case schema.Double:
		switch f := v.(type) {
		case float32:
			return float64(f)
		case int:
			return float64(f)
		case int64:
			return float64(f)
		}
	}
	return v
}

// fromStorage coerces a scanned driver value into the column's Go type.
func fromStorage(c schema.Column, raw any) any {
	if raw == nil {
		return nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch c.Type {
	case schema.Integer:
		switch v := raw.(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil
			}
			return n
		}
	case schema.Double:
		switch v := raw.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil
			}
			return f
		}
	case schema.Boolean:
		switch v := raw.(type) {
		case string:
			return v == "true"
		case int64:
			return v != 0
		case bool:
			return v
		}
	case schema.Text:
		switch v := raw.(type) {
		case string:
			return v
		case int64:
			return strconv.FormatInt(v, 10)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return raw
}
