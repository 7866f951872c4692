package events

import (
	"encoding/json"
	"fmt"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
)

type Stream string

const (
	UserEventsStream Stream = "user_events"
	UserStateStream  Stream = "user_state"
)

func (s Stream) ForUser(username string) string {
	return fmt.Sprintf("%s-%s", s, username)
}

type Event string

const (
	CreateUser  Event = "CreateUser"
	LoginUser   Event = "LoginUser"
	ChangeEmail Event = "ChangeEmail"
	DeleteUser  Event = "DeleteUser"

	// ProjectionState is the event type of snapshots written to state streams.
	ProjectionState Event = "ProjectionState"
)

type CreateUserEvent struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type LoginUserEvent struct {
	Username string `json:"username"`
}

type ChangeEmailEvent struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type DeleteUserEvent struct {
	Username string `json:"username"`
}

func Create(eventType Event, eventData any) (esdb.EventData, error) {
	data, err := json.Marshal(eventData)
	if err != nil {
		return esdb.EventData{}, fmt.Errorf("failed to marshal json: %w", err)
	}

	return esdb.EventData{
		EventType:   string(eventType),
		ContentType: esdb.ContentTypeJson,
		Data:        data,
	}, nil
}

func MustCreate(eventType Event, eventData any) esdb.EventData {
	ed, err := Create(eventType, eventData)
	if err != nil {
		panic(err)
	}
	return ed
}
