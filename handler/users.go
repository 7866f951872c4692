package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
	"github.com/MatejaMaric/esdb-denormalizer/db"
	"github.com/MatejaMaric/esdb-denormalizer/events"
	"github.com/MatejaMaric/esdb-denormalizer/projections"
	"github.com/MatejaMaric/esdb-denormalizer/stream"
	"golang.org/x/sync/errgroup"
)

var ErrUserNotFound = errors.New("user does not exist")

// userQueryFields maps query parameters onto UserView fields.
var userQueryFields = map[string]string{
	"username": "Username",
	"email":    "Email",
}

func filtersFromQuery(query url.Values) (projections.Filters, error) {
	params := make([]string, 0, len(query))
	for param := range query {
		params = append(params, param)
	}
	sort.Strings(params)

	var filters projections.Filters
	for _, param := range params {
		field, ok := userQueryFields[param]
		if !ok {
			return nil, fmt.Errorf("unknown query parameter %q", param)
		}
		filters = append(filters, projections.Filter(field, query.Get(param)))
	}

	return filters, nil
}

func handleGetUsers(h *HttpHandlerContext, req *http.Request) (int, any, error) {
	filters, err := filtersFromQuery(req.URL.Query())
	if err != nil {
		return http.StatusBadRequest, nil, err
	}

	users, err := h.Users.Read(h.Ctx, filters)
	if err != nil {
		return http.StatusInternalServerError, nil, fmt.Errorf("failed to read users: %w", err)
	}

	if users == nil {
		users = []*events.UserView{}
	}

	return http.StatusOK, users, nil
}

func decodeBody[T any](req *http.Request) (T, error) {
	defer req.Body.Close()

	var v T
	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(&v); err != nil {
		return v, fmt.Errorf("failed to decode request: %w", err)
	}

	return v, nil
}

func appendUserEvent(h *HttpHandlerContext, username string, eventType events.Event, event any, expectedRevision esdb.ExpectedRevision) (int, any, error) {
	if username == "" {
		return http.StatusBadRequest, nil, errors.New("username is required")
	}

	appendRes, err := db.AppendEvent(h.Ctx, h.EsdbClient, events.UserEventsStream.ForUser(username), eventType, event, expectedRevision)
	if esdbErr, isNil := esdb.FromError(err); !isNil {
		switch {
		case esdbErr.Code() == esdb.ErrorCodeWrongExpectedVersion && eventType == events.CreateUser:
			return http.StatusBadRequest, nil, errors.New("user already exists")
		case esdbErr.Code() == esdb.ErrorCodeWrongExpectedVersion, esdbErr.Code() == esdb.ErrorCodeResourceNotFound:
			return http.StatusBadRequest, nil, ErrUserNotFound
		}
		return http.StatusInternalServerError, nil, fmt.Errorf("appending to stream resulted in an error: %w", err)
	}

	h.Log.Debug("successfully appended to stream",
		"eventType", eventType,
		"CommitPosition", appendRes.CommitPosition,
		"PreparePosition", appendRes.PreparePosition,
		"NextExpectedVersion", appendRes.NextExpectedVersion,
	)

	return http.StatusOK, nil, nil
}

func handleCreateUser(h *HttpHandlerContext, req *http.Request) (int, any, error) {
	event, err := decodeBody[events.CreateUserEvent](req)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}

	return appendUserEvent(h, event.Username, events.CreateUser, event, esdb.NoStream{})
}

func handleUserLogin(h *HttpHandlerContext, req *http.Request) (int, any, error) {
	event, err := decodeBody[events.LoginUserEvent](req)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}

	return appendUserEvent(h, event.Username, events.LoginUser, event, esdb.StreamExists{})
}

func handleChangeEmail(h *HttpHandlerContext, req *http.Request) (int, any, error) {
	event, err := decodeBody[events.ChangeEmailEvent](req)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}

	if event.Email == "" {
		return http.StatusBadRequest, nil, errors.New("email is required")
	}

	return appendUserEvent(h, event.Username, events.ChangeEmail, event, esdb.StreamExists{})
}

func handleDeleteUser(h *HttpHandlerContext, req *http.Request) (int, any, error) {
	username := req.URL.Query().Get("username")
	return appendUserEvent(h, username, events.DeleteUser, events.DeleteUserEvent{Username: username}, esdb.StreamExists{})
}

type rebuildRequest struct {
	Usernames []string `json:"usernames"`
}

var ErrNotCaughtUp = errors.New("subscription has not caught up yet")

// handleRebuild drops the projections of the given users and folds their
// event streams again, up to RebuildLimit users at a time. Only the read
// model behind Users is rebuilt. The live subscription keeps writing to it, so
// a rebuild must run while no new events arrive for those users, and it is
// refused until the subscription has caught up.
func handleRebuild(h *HttpHandlerContext, req *http.Request) (int, any, error) {
	if h.Ready != nil {
		select {
		case <-h.Ready:
		default:
			return http.StatusServiceUnavailable, nil, ErrNotCaughtUp
		}
	}

	body, err := decodeBody[rebuildRequest](req)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}

	if len(body.Usernames) == 0 {
		return http.StatusBadRequest, nil, errors.New("usernames are required")
	}

	limit := h.RebuildLimit
	if limit <= 0 {
		limit = 1
	}

	deletes := make([]any, 0, len(body.Usernames))
	for _, username := range body.Usernames {
		deletes = append(deletes, events.DeleteUserEvent{Username: username})
	}

	if err := h.Denormalizer.HandleAll(h.Ctx, deletes, projections.Reuse[*events.UserView](h.Users), limit); err != nil {
		return http.StatusInternalServerError, nil, fmt.Errorf("failed to remove projections: %w", err)
	}

	eg, ctx := errgroup.WithContext(h.Ctx)
	eg.SetLimit(limit)

	for _, username := range body.Usernames {
		username := username
		eg.Go(func() error {
			return replayUser(ctx, h, username)
		})
	}

	if err := eg.Wait(); err != nil {
		return http.StatusInternalServerError, nil, err
	}

	return http.StatusOK, map[string]int{"rebuilt": len(body.Usernames)}, nil
}

func replayUser(ctx context.Context, h *HttpHandlerContext, username string) error {
	return stream.Replay(ctx, h.EsdbClient, events.UserEventsStream.ForUser(username), func(re esdb.RecordedEvent) error {
		event, err := h.Codec.Decode(re)
		if errors.Is(err, events.ErrUnknownEvent) {
			return nil
		}
		if err != nil {
			return err
		}

		err = h.Denormalizer.Handle(ctx, event, h.Users)
		if errors.Is(err, projections.ErrUnregisteredEventType) {
			return nil
		}
		return err
	})
}
