package retrieval

import (
	"fmt"
	"strings"
)

// builder accumulates SQL text and bound parameters together, so a clause can
// never be appended with the wrong number of arguments.
type builder struct {
	sql    strings.Builder
	params []any
}

func (b *builder) write(s string) {
	b.sql.WriteString(s)
}

// bind appends a clause whose placeholder count must match len(args).
func (b *builder) bind(clause string, args ...any) {
	if n := countPlaceholders(clause); n != len(args) {
		panic(fmt.Sprintf("clause %q has %d placeholders, got %d args", clause, n, len(args)))
	}
	b.sql.WriteString(clause)
	b.params = append(b.params, args...)
}

func (b *builder) String() string { return b.sql.String() }

func countPlaceholders(s string) int {
	return strings.Count(s, "?")
}

// orGroup joins per-value clauses with OR and wraps them in parentheses.
func orGroup(clauses []string) string {
	return "(" + strings.Join(clauses, " OR ") + ")"
}
