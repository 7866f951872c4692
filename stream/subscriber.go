package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
	"github.com/MatejaMaric/esdb-denormalizer/events"
	"github.com/MatejaMaric/esdb-denormalizer/projections"
	"github.com/MatejaMaric/esdb-denormalizer/reservation"
)

const (
	maxRetries    = 5
	retryWindow   = 5 * time.Minute
	retryInterval = time.Second
)

var ErrTooManyRetries = errors.New("retried 5 times in the last 5 minutes, failing")

// Handler receives every decoded event together with its recorded form.
type Handler func(ctx context.Context, re esdb.RecordedEvent, event any) error

// Dispatch hands decoded events to a denormalizer, one persistence handle
// per event.
func Dispatch[P any](d *projections.Denormalizer[P], factory projections.Factory[P]) Handler {
	return func(ctx context.Context, re esdb.RecordedEvent, event any) error {
		return d.HandleWith(ctx, event, factory)
	}
}

// Subscriber follows $all filtered to streams starting with one of Prefixes.
// Claims is optional; when set every event is claimed in Redis before it is
// handled and skipped when another consumer already handled it.
type Subscriber struct {
	Client   *esdb.Client
	Logger   *slog.Logger
	Prefixes []string
	Codec    *events.Codec
	Handler  Handler
	Claims   *reservation.Claims

	readyOnce  sync.Once
	closeReady sync.Once
	ready      chan struct{}
	mu         sync.Mutex
	lastPos    esdb.Position
}

// Ready is closed once the subscriber caught up with the newest event that
// existed when Run was called.
func (s *Subscriber) Ready() <-chan struct{} {
	s.init()
	return s.ready
}

func (s *Subscriber) LastPosition() esdb.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPos
}

func (s *Subscriber) init() {
	s.readyOnce.Do(func() {
		s.ready = make(chan struct{})
		if s.Logger == nil {
			s.Logger = slog.Default()
		}
	})
}

// Run blocks until ctx is done or the subscription failed too often.
func (s *Subscriber) Run(ctx context.Context) error {
	s.init()

	notReadyUntil, err := LatestPosition(ctx, s.Client, s.Prefixes)
	if err != nil {
		return fmt.Errorf("failed to find the latest position: %w", err)
	}

	isReady := false
	checkIfReady := func() {
		if !isReady && s.LastPosition().Commit >= notReadyUntil.Commit {
			s.closeReady.Do(func() { close(s.ready) })
			isReady = true
			s.Logger.Debug("ready signal sent", "prefixes", s.Prefixes)
		}
	}

	handleEvent := func(re esdb.RecordedEvent) error {
		if err := s.HandleEvent(ctx, re); err != nil {
			return err
		}

		s.mu.Lock()
		s.lastPos = re.Position
		s.mu.Unlock()

		checkIfReady()

		return nil
	}

	retryCounter := 0
	lastRetry := time.Now()

	handleStream := func() error {
		opts := esdb.SubscribeToAllOptions{
			From: s.from(),
			Filter: &esdb.SubscriptionFilter{
				Type:     esdb.StreamFilterType,
				Prefixes: s.Prefixes,
			},
		}

		err := HandleAllStream(ctx, s.Client, opts, handleEvent)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		s.Logger.Error("handling all stream returned an error", "error", err)

		if time.Since(lastRetry) >= retryWindow {
			s.Logger.Debug("more than 5 minutes passed since last retry, resetting retry counter",
				"lastRetry", lastRetry,
				"retryCounter", retryCounter,
			)
			retryCounter = 0
		}

		if retryCounter >= maxRetries {
			return fmt.Errorf("%w: %w", ErrTooManyRetries, err)
		}

		select {
		case <-ctx.Done():
		case <-time.After(retryInterval):
		}

		lastRetry = time.Now()
		retryCounter++

		return nil
	}

	checkIfReady()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := handleStream(); err != nil {
				return err
			}
		}
	}
}

func (s *Subscriber) from() esdb.AllPosition {
	pos := s.LastPosition()
	if pos == (esdb.Position{}) {
		return esdb.Start{}
	}
	return pos
}

// HandleEvent decodes re and runs the handler on it, inside a claim when
// Claims is set. Event types the codec or the handler do not know are skipped.
func (s *Subscriber) HandleEvent(ctx context.Context, re esdb.RecordedEvent) error {
	s.init()

	event, err := s.Codec.Decode(re)
	if errors.Is(err, events.ErrUnknownEvent) {
		s.Logger.Debug("skipping event of unknown type", "eventType", re.EventType, "streamId", re.StreamID)
		return nil
	}
	if err != nil {
		return err
	}

	if s.Claims == nil {
		return s.handle(ctx, re, event)
	}

	res, err := s.Claims.Claim(ctx, reservation.EventKey(re.StreamID, re.EventNumber))
	switch {
	case errors.Is(err, reservation.ErrAlreadyPersisted):
		s.Logger.Debug("event already handled", "streamId", re.StreamID, "eventNumber", re.EventNumber)
		return nil
	case errors.Is(err, reservation.ErrAlreadyClaimed):
		s.Logger.Warn("event claimed by another consumer", "streamId", re.StreamID, "eventNumber", re.EventNumber)
		return nil
	case err != nil:
		return err
	}

	if err := s.handle(ctx, re, event); err != nil {
		if relErr := s.Claims.Release(ctx, res); relErr != nil {
			s.Logger.Error("failed to release the claim", "key", res.Key, "error", relErr)
		}
		return err
	}

	return s.Claims.Persist(ctx, res)
}

func (s *Subscriber) handle(ctx context.Context, re esdb.RecordedEvent, event any) error {
	err := s.Handler(ctx, re, event)
	if errors.Is(err, projections.ErrUnregisteredEventType) {
		s.Logger.Debug("no action registered for event", "eventType", re.EventType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to handle %s event %d of %s: %w", re.EventType, re.EventNumber, re.StreamID, err)
	}

	s.Logger.Debug("handled event",
		"eventType", re.EventType,
		"streamId", re.StreamID,
		"EventNumber", re.EventNumber,
		"CommitPosition", re.Position.Commit,
		"PreparePosition", re.Position.Prepare,
	)

	return nil
}
