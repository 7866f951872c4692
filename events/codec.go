package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Codec turns recorded events back into the Go values they were created from.
type Codec struct {
	types map[Event]reflect.Type
}

func NewCodec() *Codec {
	return &Codec{types: make(map[Event]reflect.Type)}
}

func Register[E any](c *Codec, name Event) error {
	if _, exists := c.types[name]; exists {
		return fmt.Errorf("event type %s is already registered", name)
	}
	c.types[name] = reflect.TypeOf((*E)(nil)).Elem()
	return nil
}

func MustRegister[E any](c *Codec, name Event) {
	if err := Register[E](c, name); err != nil {
		panic(err)
	}
}

func (c *Codec) Decode(re esdb.RecordedEvent) (any, error) {
	t, ok := c.types[Event(re.EventType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, re.EventType)
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(re.Data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event %s: %w", re.EventType, err)
	}

	return ptr.Elem().Interface(), nil
}

func (c *Codec) Names() []string {
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// UserCodec knows every event written to user streams.
func UserCodec() *Codec {
	c := NewCodec()
	MustRegister[CreateUserEvent](c, CreateUser)
	MustRegister[LoginUserEvent](c, LoginUser)
	MustRegister[ChangeEmailEvent](c, ChangeEmail)
	MustRegister[DeleteUserEvent](c, DeleteUser)
	return c
}
