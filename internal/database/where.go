package database

import (
	"fmt"
	"strings"
)

// WhereBuilder assembles a parameterized WHERE clause. Empty values are
// skipped so optional filters can be added unconditionally.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder creates an empty builder; the first placeholder is $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends "column = $n" unless value is an empty string.
func (w *WhereBuilder) Add(column string, value any) *WhereBuilder {
	if s, ok := value.(string); ok && s == "" {
		return w
	}
	w.conditions = append(w.conditions, fmt.Sprintf("%s = $%d", column, w.argIndex))
	w.args = append(w.args, value)
	w.argIndex++
	return w
}

// AddAny appends "column = ANY($n)" unless values is empty.
func (w *WhereBuilder) AddAny(column string, values []string) *WhereBuilder {
	if len(values) == 0 {
		return w
	}
	w.conditions = append(w.conditions, fmt.Sprintf("%s = ANY($%d)", column, w.argIndex))
	w.args = append(w.args, values)
	w.argIndex++
	return w
}

// Build returns " WHERE ..." (or "") and the arguments.
func (w *WhereBuilder) Build() (string, []any) {
	if len(w.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(w.conditions, " AND "), w.args
}

// Page appends LIMIT and OFFSET placeholders to query and returns the
// extended argument list. A limit of 0 means no limit.
func (w *WhereBuilder) Page(query string, args []any, limit, offset int) (string, []any) {
	idx := w.argIndex
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, limit)
		idx++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, offset)
	}
	return query, args
}
