package projections

import (
	"fmt"
	"reflect"
)

type ActionKind int

const (
	AddNew ActionKind = iota + 1
	Update
	Remove
)

func (k ActionKind) String() string {
	switch k {
	case AddNew:
		return "AddNew"
	case Update:
		return "Update"
	case Remove:
		return "Remove"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Key declares a key field: the projection field Field is matched against the
// event field From. An empty From means the event uses the same field name.
type Key struct {
	Field string
	From  string
}

func Match(field string) Key {
	return Key{Field: field}
}

func (k Key) source() string {
	if k.From == "" {
		return k.Field
	}
	return k.From
}

// Action is what a denormalizer does with events of type E.
type Action[E, P any] struct {
	Kind ActionKind

	// Inject copies same-named event fields into the projection.
	Inject bool

	Keys []Key

	// Filter replaces key based extraction when set.
	Filter func(event E) (Filters, error)

	// Apply runs after injection, before the projection is written. The
	// returned projection is the one stored.
	Apply func(event E, projection P) (P, error)
}

type descriptor[P any] struct {
	eventType reflect.Type
	kind      ActionKind
	inject    bool
	extract   func(event any) (Filters, error)
	apply     func(event any, projection P) (P, error)
}

func (a Action[E, P]) validate() error {
	switch a.Kind {
	case AddNew, Update, Remove:
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidAction, a.Kind)
	}

	if a.Kind != AddNew && len(a.Keys) == 0 && a.Filter == nil {
		return fmt.Errorf("%w: %s needs key fields or a filter", ErrMissingFilter, a.Kind)
	}

	seen := make(map[string]struct{}, len(a.Keys))
	for _, k := range a.Keys {
		if k.Field == "" {
			return fmt.Errorf("%w: key without a projection field", ErrInvalidAction)
		}
		if _, ok := seen[k.Field]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateFilterField, k.Field)
		}
		seen[k.Field] = struct{}{}
	}

	return nil
}

func (a Action[E, P]) compile(eventType reflect.Type) *descriptor[P] {
	d := &descriptor[P]{
		eventType: eventType,
		kind:      a.Kind,
		inject:    a.Inject,
	}

	keys := append([]Key(nil), a.Keys...)
	filter := a.Filter

	d.extract = func(event any) (Filters, error) {
		if filter == nil {
			return extractKeys(event, keys)
		}

		typed, ok := asEvent[E](event)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrUnregisteredEventType, event)
		}

		filters, err := filter(typed)
		if err != nil {
			return nil, err
		}
		if err := filters.Validate(); err != nil {
			return nil, err
		}

		return filters, nil
	}

	if a.Apply != nil {
		apply := a.Apply
		d.apply = func(event any, projection P) (P, error) {
			typed, ok := asEvent[E](event)
			if !ok {
				return projection, fmt.Errorf("%w: %T", ErrUnregisteredEventType, event)
			}
			return apply(typed, projection)
		}
	}

	return d
}

func extractKeys(event any, keys []Key) (Filters, error) {
	if len(keys) == 0 {
		return Filters{}, nil
	}

	v := reflect.ValueOf(event)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: event is nil", ErrMissingKeyField)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrMissingKeyField, v.Type())
	}

	filters := make(Filters, 0, len(keys))
	for _, k := range keys {
		sf, ok := v.Type().FieldByName(k.source())
		if !ok || !sf.IsExported() {
			return nil, fmt.Errorf("%w: %s has no field %s", ErrMissingKeyField, v.Type(), k.source())
		}
		filters = append(filters, Filter(k.Field, v.FieldByIndex(sf.Index).Interface()))
	}

	return filters, nil
}

// asEvent converts event to E, accepting both E and *E for the registered type.
func asEvent[E any](event any) (E, bool) {
	if typed, ok := event.(E); ok {
		return typed, true
	}

	var zero E
	target := reflect.TypeOf((*E)(nil)).Elem()
	v := reflect.ValueOf(event)
	if !v.IsValid() {
		return zero, false
	}

	switch {
	case v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Type() == target:
		return v.Elem().Interface().(E), true
	case target.Kind() == reflect.Pointer && v.Type() == target.Elem():
		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		return ptr.Interface().(E), true
	}

	return zero, false
}

// typeKey strips pointers so E and *E resolve to the same registration.
func typeKey(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// KeyOf reads the named exported fields of v (a struct or a pointer to one)
// as filters. Stores use it to locate the row a projection belongs to.
func KeyOf(v any, fields ...string) (Filters, error) {
	keys := make([]Key, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, Match(f))
	}
	return extractKeys(v, keys)
}
