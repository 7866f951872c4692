package projections

import "context"

// Store is the persistence port the dispatcher calls through. Read must not
// mutate state; Update and Remove on an empty match are valid no-ops.
type Store[P any] interface {
	Read(ctx context.Context, filters Filters) ([]P, error)
	Insert(ctx context.Context, projection P) error
	Update(ctx context.Context, projection P) error
	Remove(ctx context.Context, filters Filters) error
}

// Persistence is a Store handle owned by a single dispatch.
type Persistence[P any] interface {
	Store[P]
	Close() error
}

// Factory creates a fresh Persistence per dispatch. Implementations must return
// independent handles for concurrent calls.
type Factory[P any] interface {
	Create(ctx context.Context) (Persistence[P], error)
}

type FactoryFunc[P any] func(ctx context.Context) (Persistence[P], error)

func (f FactoryFunc[P]) Create(ctx context.Context) (Persistence[P], error) {
	return f(ctx)
}

type nopCloser[P any] struct {
	Store[P]
}

func (nopCloser[P]) Close() error { return nil }

func NopCloser[P any](store Store[P]) Persistence[P] {
	return nopCloser[P]{Store: store}
}

// Reuse returns a Factory that hands out the same store on every call.
func Reuse[P any](store Store[P]) Factory[P] {
	return FactoryFunc[P](func(context.Context) (Persistence[P], error) {
		return NopCloser(store), nil
	})
}
