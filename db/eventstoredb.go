package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
	"github.com/MatejaMaric/esdb-denormalizer/events"
	"github.com/MatejaMaric/esdb-denormalizer/projections"
)

const defaultMaxCount uint64 = 16

func ConnectToEventStoreDB(url string) (*esdb.Client, error) {
	esdbConf, err := esdb.ParseConnectionString(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse EventStoreDB connection string: %w", err)
	}

	return esdb.NewClient(esdbConf)
}

func AppendEvent(
	ctx context.Context,
	esdbClient *esdb.Client,
	streamName string,
	eventType events.Event,
	eventData any,
	expectedRevision esdb.ExpectedRevision,
) (*esdb.WriteResult, error) {
	esdbEvent, err := events.Create(eventType, eventData)
	if err != nil {
		return nil, err
	}

	aopts := esdb.AppendToStreamOptions{
		ExpectedRevision: expectedRevision,
	}

	appendResult, err := esdbClient.AppendToStream(ctx, streamName, aopts, esdbEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to append to stream: %w", err)
	}

	return appendResult, nil
}

// StreamStore keeps every projection as a stream of snapshots named
// category-k1-k2. Only the newest snapshot counts, older ones are trimmed
// through the $maxCount stream metadata.
type StreamStore[P any] struct {
	Client   *esdb.Client
	Category events.Stream
	Keys     []string
	MaxCount uint64
}

var _ projections.Store[any] = (*StreamStore[any])(nil)

func NewStreamStore[P any](client *esdb.Client, category events.Stream, keys ...string) *StreamStore[P] {
	return &StreamStore[P]{Client: client, Category: category, Keys: keys, MaxCount: defaultMaxCount}
}

func (s *StreamStore[P]) Read(ctx context.Context, filters projections.Filters) ([]P, error) {
	streamName, err := s.streamFromFilters(filters)
	if err != nil {
		return nil, err
	}

	latest, err := latestEvent(ctx, s.Client, streamName)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}

	var projection P
	if err := json.Unmarshal(latest.Data, &projection); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the state of %s: %w", streamName, err)
	}

	return []P{projection}, nil
}

func (s *StreamStore[P]) Insert(ctx context.Context, projection P) error {
	streamName, err := s.streamFromProjection(projection)
	if err != nil {
		return err
	}

	if _, err := AppendEvent(ctx, s.Client, streamName, events.ProjectionState, projection, esdb.NoStream{}); err != nil {
		return err
	}

	smd := esdb.StreamMetadata{}
	smd.SetMaxCount(s.maxCount())

	_, err = s.Client.SetStreamMetadata(ctx, streamName, esdb.AppendToStreamOptions{}, smd)
	if err != nil {
		return fmt.Errorf("failed to set stream metadata of %s: %w", streamName, err)
	}

	return nil
}

// Update appends a new snapshot. A projection without a stream is left alone.
func (s *StreamStore[P]) Update(ctx context.Context, projection P) error {
	streamName, err := s.streamFromProjection(projection)
	if err != nil {
		return err
	}

	_, err = AppendEvent(ctx, s.Client, streamName, events.ProjectionState, projection, esdb.StreamExists{})
	if isCode(err, esdb.ErrorCodeWrongExpectedVersion) {
		return nil
	}

	return err
}

func (s *StreamStore[P]) Remove(ctx context.Context, filters projections.Filters) error {
	streamName, err := s.streamFromFilters(filters)
	if err != nil {
		return err
	}

	_, err = s.Client.DeleteStream(ctx, streamName, esdb.DeleteStreamOptions{})
	if err == nil || isCode(err, esdb.ErrorCodeResourceNotFound) || isCode(err, esdb.ErrorCodeWrongExpectedVersion) {
		return nil
	}

	return fmt.Errorf("failed to delete stream %s: %w", streamName, err)
}

func (s *StreamStore[P]) maxCount() uint64 {
	if s.MaxCount == 0 {
		return defaultMaxCount
	}
	return s.MaxCount
}

func (s *StreamStore[P]) streamFromProjection(projection P) (string, error) {
	filters, err := projections.KeyOf(projection, s.Keys...)
	if err != nil {
		return "", err
	}
	return s.streamName(filters), nil
}

func (s *StreamStore[P]) streamFromFilters(filters projections.Filters) (string, error) {
	if len(filters) != len(s.Keys) {
		return "", fmt.Errorf("%w: got %s, keys %v", ErrUnsupportedFilter, filters, s.Keys)
	}

	ordered := make(projections.Filters, 0, len(s.Keys))
	for _, k := range s.Keys {
		v, ok := filters.Get(k)
		if !ok {
			return "", fmt.Errorf("%w: got %s, keys %v", ErrUnsupportedFilter, filters, s.Keys)
		}
		ordered = append(ordered, projections.Filter(k, v))
	}

	return s.streamName(ordered), nil
}

func (s *StreamStore[P]) streamName(filters projections.Filters) string {
	parts := make([]string, 0, len(filters)+1)
	parts = append(parts, string(s.Category))
	for _, f := range filters {
		parts = append(parts, fmt.Sprint(f.Value()))
	}
	return strings.Join(parts, "-")
}

// latestEvent returns nil when the stream does not exist.
func latestEvent(ctx context.Context, esdbClient *esdb.Client, streamName string) (*esdb.RecordedEvent, error) {
	ropts := esdb.ReadStreamOptions{
		From:      esdb.End{},
		Direction: esdb.Backwards,
	}

	stream, err := esdbClient.ReadStream(ctx, streamName, ropts, 1)
	if isCode(err, esdb.ErrorCodeResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read the stream '%s': %w", streamName, err)
	}
	defer stream.Close()

	resolved, err := stream.Recv()
	if errors.Is(err, io.EOF) || isCode(err, esdb.ErrorCodeResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error while reading the latest event of %s: %w", streamName, err)
	}

	if resolved.Event == nil {
		return nil, fmt.Errorf("latest event of %s is nil", streamName)
	}

	return resolved.Event, nil
}

func isCode(err error, code esdb.ErrorCode) bool {
	esdbErr, isNil := esdb.FromError(err)
	return !isNil && esdbErr.Code() == code
}
