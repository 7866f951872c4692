package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
)

func HandleAllStream(ctx context.Context, esdbClient *esdb.Client, opts esdb.SubscribeToAllOptions, handler func(esdb.RecordedEvent) error) error {
	stream, err := esdbClient.SubscribeToAll(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to subscribe to stream: %w", err)
	}

	if err := HandleSubscription(stream, handler); err != nil {
		stream.Close()
		return err
	}

	if err := stream.Close(); err != nil {
		return fmt.Errorf("closing the stream resulted in an error: %w", err)
	}

	return nil
}

// HandleSubscription feeds appeared events to handler until the subscription
// drops. A drop caused by an error is returned.
func HandleSubscription(stream *esdb.Subscription, handler func(esdb.RecordedEvent) error) error {
	for {
		subEvent := stream.Recv()

		if subEvent.EventAppeared != nil {
			resolved := subEvent.EventAppeared

			if resolved.Event == nil {
				return fmt.Errorf("event at commit %v is nil", resolved.Commit)
			}

			if err := handler(*resolved.Event); err != nil {
				return err
			}
		}

		if subEvent.SubscriptionDropped != nil {
			return subEvent.SubscriptionDropped.Error
		}
	}
}

// Replay reads streamName from the start and hands every event to handler.
// A missing stream replays nothing.
func Replay(ctx context.Context, esdbClient *esdb.Client, streamName string, handler func(esdb.RecordedEvent) error) error {
	ropts := esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}

	stream, err := esdbClient.ReadStream(ctx, streamName, ropts, math.MaxUint64)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read the stream '%s': %w", streamName, err)
	}
	defer stream.Close()

	for {
		resolved, err := stream.Recv()

		if errors.Is(err, io.EOF) || isNotFound(err) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("error while reading events from the stream %s: %w", streamName, err)
		}

		if resolved.Event == nil {
			return fmt.Errorf("event of %s is nil", streamName)
		}

		if err := handler(*resolved.Event); err != nil {
			return fmt.Errorf("the event handler returned an error: %w", err)
		}
	}
}

// LatestPosition returns the $all position of the newest event in a stream
// starting with one of prefixes, or the start position when there is none.
func LatestPosition(ctx context.Context, esdbClient *esdb.Client, prefixes []string) (esdb.Position, error) {
	opts := esdb.ReadAllOptions{
		From:      esdb.End{},
		Direction: esdb.Backwards,
	}
	allStream, err := esdbClient.ReadAll(ctx, opts, math.MaxUint64)
	if err != nil {
		return esdb.Position{}, err
	}
	defer allStream.Close()

	for {
		resolved, err := allStream.Recv()

		if errors.Is(err, io.EOF) {
			return esdb.Position{}, nil
		}

		if err != nil {
			return esdb.Position{}, err
		}

		if resolved.Event == nil {
			continue
		}

		if hasPrefix(resolved.Event.StreamID, prefixes) {
			return resolved.Event.Position, nil
		}
	}
}

func hasPrefix(streamID string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(streamID, p) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	esdbErr, isNil := esdb.FromError(err)
	return !isNil && esdbErr.Code() == esdb.ErrorCodeResourceNotFound
}
