package projections

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Injector copies values from an event (or a map) into a projection.
type Injector interface {
	Inject(source, target any) error
}

type InjectorFunc func(source, target any) error

func (f InjectorFunc) Inject(source, target any) error {
	return f(source, target)
}

// FieldInjector copies exported fields with matching names (case-insensitive),
// widening numeric types where needed. A copied field replaces the target's
// value wholesale: slices and maps are not merged and a nil source clears the
// field. Conversions that would lose information fail with
// ErrLossyConversion. Target fields without a counterpart are left untouched.
func FieldInjector() Injector {
	return InjectorFunc(injectFields)
}

func injectFields(source, target any) error {
	values, err := fieldMap(source)
	if err != nil {
		return err
	}

	zeroFields(target, values)

	// The decoder flattens hook errors into strings, so keep the first one to wrap.
	var lossy error
	hook := func(from, to reflect.Value) (any, error) {
		v, err := rejectLossyConversion(from, to)
		if err != nil && lossy == nil {
			lossy = err
		}
		return v, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: false,
		Squash:           true,
		ZeroFields:       true,
		DecodeHook:       mapstructure.DecodeHookFuncValue(hook),
	})
	if err != nil {
		return fmt.Errorf("failed to create the field decoder: %w", err)
	}

	if err := decoder.Decode(values); err != nil {
		if lossy != nil {
			return fmt.Errorf("failed to inject fields into %T: %w", target, lossy)
		}
		return fmt.Errorf("failed to inject fields into %T: %w", target, err)
	}

	return nil
}

// fieldMap flattens only the top level so nested struct values (time.Time and
// friends) are handed to the decoder intact.
func fieldMap(source any) (map[string]any, error) {
	if m, ok := source.(map[string]any); ok {
		return m, nil
	}

	v := reflect.ValueOf(source)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("cannot inject from a nil %T", source)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot inject from %T, expected a struct", source)
	}

	t := v.Type()
	values := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		values[sf.Name] = v.Field(i).Interface()
	}

	return values, nil
}

// zeroFields clears every target field the source names, so nil or shorter
// source values do not leave old contents behind.
func zeroFields(target any, values map[string]any) {
	v := reflect.ValueOf(target)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || !v.CanSet() {
		return
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		for name := range values {
			if strings.EqualFold(name, sf.Name) {
				v.Field(i).Set(reflect.Zero(sf.Type))
				break
			}
		}
	}
}

func rejectLossyConversion(from, to reflect.Value) (any, error) {
	if !from.IsValid() {
		return nil, nil
	}
	if !to.IsValid() {
		return from.Interface(), nil
	}

	lossy := false
	switch {
	case isInt(from) && isInt(to):
		lossy = to.OverflowInt(from.Int())
	case isInt(from) && isUint(to):
		lossy = from.Int() < 0 || to.OverflowUint(uint64(from.Int()))
	case isUint(from) && isUint(to):
		lossy = to.OverflowUint(from.Uint())
	case isUint(from) && isInt(to):
		lossy = from.Uint() > math.MaxInt64 || to.OverflowInt(int64(from.Uint()))
	case isFloat(from) && isFloat(to):
		lossy = to.OverflowFloat(from.Float())
	case isFloat(from) && isInt(to):
		f := from.Float()
		lossy = f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || to.OverflowInt(int64(f))
	case isFloat(from) && isUint(to):
		f := from.Float()
		lossy = f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || to.OverflowUint(uint64(f))
	}

	if lossy {
		return nil, fmt.Errorf("%w: %v (%s) into %s", ErrLossyConversion, from.Interface(), from.Type(), to.Type())
	}

	return from.Interface(), nil
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
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(v reflect.Value) bool {
	return v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64
}
