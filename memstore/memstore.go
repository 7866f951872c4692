// Package memstore provides an in-memory projections.Store used by tests and
// ephemeral deployments.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/MatejaMaric/esdb-denormalizer/projections"
)

var (
	ErrDuplicateKey = errors.New("a projection with the same key already exists")
	ErrNoKeys       = errors.New("store has no key fields")
)

var _ projections.Store[any] = (*Store[any])(nil)

// Store keeps projections in insertion order. Key fields identify the record
// an Update replaces and guard Insert against duplicates. Pointer projections
// are copied on the way in and out, so a caller mutating a read result does
// not change the store until it calls Update.
type Store[P any] struct {
	mu      sync.RWMutex
	keys    []string
	records []P
}

func New[P any](keys ...string) *Store[P] {
	return &Store[P]{keys: keys}
}

func (s *Store[P]) Read(ctx context.Context, filters projections.Filters) ([]P, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []P
	for _, record := range s.records {
		ok, err := matches(record, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, clone(record))
		}
	}

	return res, nil
}

func (s *Store[P]) Insert(ctx context.Context, projection P) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.keys) > 0 {
		key, err := projections.KeyOf(projection, s.keys...)
		if err != nil {
			return err
		}
		for _, record := range s.records {
			if ok, err := matches(record, key); err != nil {
				return err
			} else if ok {
				return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
			}
		}
	}

	s.records = append(s.records, clone(projection))

	return nil
}

func (s *Store[P]) Update(ctx context.Context, projection P) error {
	if len(s.keys) == 0 {
		return ErrNoKeys
	}

	key, err := projections.KeyOf(projection, s.keys...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, record := range s.records {
		ok, err := matches(record, key)
		if err != nil {
			return err
		}
		if ok {
			s.records[i] = clone(projection)
		}
	}

	return nil
}

func (s *Store[P]) Remove(ctx context.Context, filters projections.Filters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, record := range s.records {
		ok, err := matches(record, filters)
		if err != nil {
			return err
		}
		if !ok {
			kept = append(kept, record)
		}
	}

	var zero P
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = zero
	}
	s.records = kept

	return nil
}

// All returns a copy of every stored projection.
func (s *Store[P]) All() []P {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]P, 0, len(s.records))
	for _, record := range s.records {
		res = append(res, clone(record))
	}
	return res
}

func (s *Store[P]) Factory() projections.Factory[P] {
	return projections.Reuse[P](s)
}

// clone copies the struct behind a pointer projection. Value projections are
// already copies.
func clone[P any](record P) P {
	v := reflect.ValueOf(record)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return record
	}

	c := reflect.New(v.Elem().Type())
	c.Elem().Set(v.Elem())

	return c.Interface().(P)
}

func matches(record any, filters projections.Filters) (bool, error) {
	values, err := projections.KeyOf(record, filters.Fields()...)
	if err != nil {
		return false, err
	}

	for i, f := range filters {
		if !equal(values[i].Value(), f.Value()) {
			return false, nil
		}
	}

	return true, nil
}

// equal compares a stored field with a filter value, tolerating differently
// sized numeric types.
func equal(stored, filter any) bool {
	if reflect.DeepEqual(stored, filter) {
		return true
	}

	a, b := reflect.ValueOf(stored), reflect.ValueOf(filter)
	if !a.IsValid() || !b.IsValid() {
		return false
	}

	switch {
	case isInt(a) && isInt(b):
		return a.Int() == b.Int()
	case isUint(a) && isUint(b):
		return a.Uint() == b.Uint()
	case isInt(a) && isUint(b):
		return a.Int() >= 0 && uint64(a.Int()) == b.Uint()
	case isUint(a) && isInt(b):
		return b.Int() >= 0 && a.Uint() == uint64(b.Int())
	case isFloat(a) && isFloat(b):
		return a.Float() == b.Float()
	case a.Kind() == reflect.String && b.Kind() == reflect.String:
		return a.String() == b.String()
	}

	return false
}

func isInt(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloat(v reflect.Value) bool {
	return v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64
}
