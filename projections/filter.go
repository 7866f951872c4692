package projections

import (
	"fmt"
	"strings"
)

// FilterValue is a single field/value predicate used to locate stored projections.
type FilterValue struct {
	field string
	value any
}

func Filter(field string, value any) FilterValue {
	return FilterValue{field: field, value: value}
}

func (f FilterValue) Field() string { return f.field }
func (f FilterValue) Value() any    { return f.value }

func (f FilterValue) String() string {
	return fmt.Sprintf("%s=%v", f.field, f.value)
}

// Filters is a composite key. Order is irrelevant, field names are unique.
type Filters []FilterValue

func (fs Filters) Get(field string) (any, bool) {
	for _, f := range fs {
		if f.field == field {
			return f.value, true
		}
	}
	return nil, false
}

func (fs Filters) Fields() []string {
	fields := make([]string, 0, len(fs))
	for _, f := range fs {
		fields = append(fields, f.field)
	}
	return fields
}

// Map returns the filters as field -> value.
func (fs Filters) Map() map[string]any {
	m := make(map[string]any, len(fs))
	for _, f := range fs {
		m[f.field] = f.value
	}
	return m
}

func (fs Filters) Validate() error {
	seen := make(map[string]struct{}, len(fs))
	for _, f := range fs {
		if f.field == "" {
			return fmt.Errorf("%w: empty field name", ErrMissingKeyField)
		}
		if _, ok := seen[f.field]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateFilterField, f.field)
		}
		seen[f.field] = struct{}{}
	}
	return nil
}

func (fs Filters) String() string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, f.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}
