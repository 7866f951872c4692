package utils

import (
	"encoding/json"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
	"github.com/MatejaMaric/esdb-denormalizer/events"
)

type FakeEvent struct {
	Type events.Event
	Data any
}

// FakeRecordedEvents numbers the events from zero and gives them increasing
// $all positions starting at commit 1.
func FakeRecordedEvents(streamId string, fakes []FakeEvent) []esdb.RecordedEvent {
	var res []esdb.RecordedEvent

	for idx, fe := range fakes {
		jsonData, err := json.Marshal(fe.Data)
		if err != nil {
			panic(err)
		}

		position := uint64(idx + 1)

		re := esdb.RecordedEvent{
			EventType:      string(fe.Type),
			ContentType:    "application/json",
			StreamID:       streamId,
			EventNumber:    uint64(idx),
			Position:       esdb.Position{Commit: position, Prepare: position},
			CreatedDate:    time.Now(),
			Data:           jsonData,
			SystemMetadata: map[string]string{},
			UserMetadata:   []byte{},
		}

		res = append(res, re)
	}

	return res
}
