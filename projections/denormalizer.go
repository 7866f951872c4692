// Package projections folds domain events into read models. A Denormalizer
// declares, per event type, whether a projection is added, updated or removed
// and which key fields locate it; dispatching an event performs the matching
// calls against a Store.
package projections

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
)

type options struct {
	logger       *slog.Logger
	injector     Injector
	requireMatch bool
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithInjector replaces the default FieldInjector.
func WithInjector(injector Injector) Option {
	return func(o *options) { o.injector = injector }
}

// WithRequireMatch makes an Update that matches no projection fail with ErrNoMatch.
func WithRequireMatch() Option {
	return func(o *options) { o.requireMatch = true }
}

// Denormalizer maps event types to actions on projections of type P.
// Register every action with On before dispatching; the registry is not
// synchronized and must not change once events flow.
type Denormalizer[P any] struct {
	actions      map[reflect.Type]*descriptor[P]
	log          *slog.Logger
	injector     Injector
	requireMatch bool
}

func New[P any](opts ...Option) *Denormalizer[P] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.injector == nil {
		o.injector = FieldInjector()
	}

	return &Denormalizer[P]{
		actions:      make(map[reflect.Type]*descriptor[P]),
		log:          o.logger,
		injector:     o.injector,
		requireMatch: o.requireMatch,
	}
}

// On registers the action taken for events of type E. Registering the same
// event type twice fails with ErrDuplicateRegistration.
func On[E, P any](d *Denormalizer[P], action Action[E, P]) error {
	eventType := typeKey(reflect.TypeOf((*E)(nil)).Elem())

	if _, exists := d.actions[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, eventType)
	}

	if err := action.validate(); err != nil {
		return fmt.Errorf("failed to register %s: %w", eventType, err)
	}

	d.actions[eventType] = action.compile(eventType)

	return nil
}

// MustOn is On for construction code, where a bad registration is a programming error.
func MustOn[E, P any](d *Denormalizer[P], action Action[E, P]) {
	if err := On(d, action); err != nil {
		panic(err)
	}
}

func (d *Denormalizer[P]) Handles(event any) bool {
	_, err := d.resolve(event)
	return err == nil
}

// Registered returns the names of the registered event types, sorted.
func (d *Denormalizer[P]) Registered() []string {
	names := make([]string, 0, len(d.actions))
	for t := range d.actions {
		names = append(names, t.String())
	}
	sort.Strings(names)
	return names
}

func (d *Denormalizer[P]) resolve(event any) (*descriptor[P], error) {
	if event == nil {
		return nil, fmt.Errorf("%w: <nil>", ErrUnregisteredEventType)
	}

	eventType := typeKey(reflect.TypeOf(event))
	desc, ok := d.actions[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredEventType, eventType)
	}

	return desc, nil
}

func newProjection[P any]() P {
	var zero P
	t := reflect.TypeOf((*P)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(P)
	}
	return zero
}

// injectTarget returns something the injector can write through: the
// projection itself when P is a pointer, its address otherwise.
func injectTarget[P any](projection *P) any {
	if reflect.TypeOf((*P)(nil)).Elem().Kind() == reflect.Pointer {
		return *projection
	}
	return projection
}
