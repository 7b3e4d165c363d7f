package klaviyo

import (
	"strings"
	"time"
)

// Predicate is one Klaviyo filter term, e.g. greater-or-equal(datetime,...).
type Predicate struct {
	Op    string
	Field string
	Value string
}

// FilterBuilder composes Klaviyo filter predicates, comma-joined at the
// top level, matching the `greater-or-equal(FIELD,ISO8601Z)` shape of §6.
type FilterBuilder struct {
	predicates []Predicate
}

// NewFilterBuilder returns an empty builder.
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{}
}

// GreaterOrEqual adds `greater-or-equal(field,value)`.
func (b *FilterBuilder) GreaterOrEqual(field string, value time.Time) *FilterBuilder {
	b.predicates = append(b.predicates, Predicate{Op: "greater-or-equal", Field: field, Value: iso8601(value)})
	return b
}

// LessThan adds `less-than(field,value)`.
func (b *FilterBuilder) LessThan(field string, value time.Time) *FilterBuilder {
	b.predicates = append(b.predicates, Predicate{Op: "less-than", Field: field, Value: iso8601(value)})
	return b
}

// Equals adds `equals(field,"value")`.
func (b *FilterBuilder) Equals(field, value string) *FilterBuilder {
	b.predicates = append(b.predicates, Predicate{Op: "equals", Field: field, Value: `"` + value + `"`})
	return b
}

// String renders the comma-joined filter expression, or "" if empty.
func (b *FilterBuilder) String() string {
	if len(b.predicates) == 0 {
		return ""
	}
	parts := make([]string, 0, len(b.predicates))
	for _, p := range b.predicates {
		parts = append(parts, p.Op+"("+p.Field+","+p.Value+")")
	}
	return strings.Join(parts, ",")
}

func iso8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
