package projections

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Handle dispatches event against a store that outlives the call.
//
// Errors returned by the store are passed through unchanged, nothing is retried.
func (d *Denormalizer[P]) Handle(ctx context.Context, event any, store Store[P]) error {
	desc, err := d.resolve(event)
	if err != nil {
		return err
	}

	return d.dispatch(ctx, desc, event, store)
}

// HandleWith creates a Persistence for this call only and closes it before
// returning. The factory is not invoked for unregistered events.
func (d *Denormalizer[P]) HandleWith(ctx context.Context, event any, factory Factory[P]) (err error) {
	desc, err := d.resolve(event)
	if err != nil {
		return err
	}

	persistence, err := factory.Create(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := persistence.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close the persistence handle: %w", cerr)
		}
	}()

	return d.dispatch(ctx, desc, event, persistence)
}

// Go runs HandleWith in its own goroutine. The returned channel receives
// exactly one value.
func (d *Denormalizer[P]) Go(ctx context.Context, event any, factory Factory[P]) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- d.HandleWith(ctx, event, factory)
	}()
	return done
}

// HandleAll dispatches independent events concurrently, at most limit at a
// time (no limit when limit <= 0). Each event gets its own handle. The first
// error cancels the remaining dispatches and is returned.
func (d *Denormalizer[P]) HandleAll(ctx context.Context, events []any, factory Factory[P], limit int) error {
	eg, egCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}

	for _, event := range events {
		event := event
		eg.Go(func() error {
			return d.HandleWith(egCtx, event, factory)
		})
	}

	return eg.Wait()
}

func (d *Denormalizer[P]) dispatch(ctx context.Context, desc *descriptor[P], event any, store Store[P]) error {
	filters, err := desc.extract(event)
	if err != nil {
		return fmt.Errorf("failed to extract filters from %s: %w", desc.eventType, err)
	}

	d.log.DebugContext(ctx, "dispatching event",
		"eventType", desc.eventType.String(),
		"action", desc.kind.String(),
		"filters", filters.String(),
	)

	switch desc.kind {
	case AddNew:
		return d.addNew(ctx, desc, event, filters, store)
	case Update:
		return d.update(ctx, desc, event, filters, store)
	case Remove:
		if len(filters) == 0 {
			return fmt.Errorf("%w: remove %s", ErrMissingFilter, desc.eventType)
		}
		return store.Remove(ctx, filters)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAction, desc.kind)
	}
}

func (d *Denormalizer[P]) addNew(ctx context.Context, desc *descriptor[P], event any, filters Filters, store Store[P]) error {
	projection := newProjection[P]()

	if len(filters) > 0 {
		if err := d.injector.Inject(filters.Map(), injectTarget(&projection)); err != nil {
			return fmt.Errorf("failed to seed key fields of a new projection: %w", err)
		}
	}

	if err := d.fill(desc, event, &projection); err != nil {
		return err
	}

	return store.Insert(ctx, projection)
}

func (d *Denormalizer[P]) update(ctx context.Context, desc *descriptor[P], event any, filters Filters, store Store[P]) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: update %s", ErrMissingFilter, desc.eventType)
	}

	matched, err := store.Read(ctx, filters)
	if err != nil {
		return err
	}

	if len(matched) == 0 {
		if d.requireMatch {
			return fmt.Errorf("%w: %s %s", ErrNoMatch, desc.eventType, filters)
		}
		d.log.DebugContext(ctx, "no projection to update",
			"eventType", desc.eventType.String(),
			"filters", filters.String(),
		)
		return nil
	}

	for i := range matched {
		if err := d.fill(desc, event, &matched[i]); err != nil {
			return err
		}
		if err := store.Update(ctx, matched[i]); err != nil {
			return err
		}
	}

	return nil
}

func (d *Denormalizer[P]) fill(desc *descriptor[P], event any, projection *P) error {
	if desc.inject {
		if err := d.injector.Inject(event, injectTarget(projection)); err != nil {
			return fmt.Errorf("failed to inject %s: %w", desc.eventType, err)
		}
	}

	if desc.apply != nil {
		applied, err := desc.apply(event, *projection)
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", desc.eventType, err)
		}
		*projection = applied
	}

	return nil
}
