package db

import (
	"strconv"
	"strings"
)

// Where composes parameterized predicates for optional filters. Clauses use
// '?' as the argument marker; markers are rewritten to $n in order.
type Where struct {
	clauses []string
	args    []any
}

// NewWhere starts a predicate set with a mandatory clause.
func NewWhere(clause string, args ...any) *Where {
	w := &Where{}
	return w.And(clause, args...)
}

// And appends a clause.
func (w *Where) And(clause string, args ...any) *Where {
	var b strings.Builder
	idx := 0
	for _, r := range clause {
		if r == '?' && idx < len(args) {
			w.args = append(w.args, args[idx])
			idx++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(len(w.args)))
			continue
		}
		b.WriteRune(r)
	}
	w.clauses = append(w.clauses, b.String())
	return w
}

// AndIf appends the clause only when cond holds.
func (w *Where) AndIf(cond bool, clause string, args ...any) *Where {
	if !cond {
		return w
	}
	return w.And(clause, args...)
}

// Arg registers a trailing argument (LIMIT, OFFSET) and returns its placeholder.
func (w *Where) Arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

// SQL renders the WHERE clause, or an empty string when no clause exists.
func (w *Where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// Args returns the positional arguments.
func (w *Where) Args() []any {
	return w.args
}
