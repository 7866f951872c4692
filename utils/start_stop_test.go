package utils_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MatejaMaric/esdb-denormalizer/utils"
)

func TestStartStop(t *testing.T) {
	errStopped := errors.New("stopped")

	ss := utils.NewStartStop(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return errStopped
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- ss.Start()
	}()

	if err := ss.Stop(time.Second); err != nil {
		t.Fatal(err)
	}

	if err := <-errCh; !errors.Is(err, errStopped) {
		t.Fatalf("unexpected error from Start: %v", err)
	}

	if err := ss.Start(); err == nil {
		t.Fatal("expected an error when starting twice")
	}
}

func TestStartStopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	ss := utils.NewStartStop(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})

	go ss.Start()

	if err := ss.Stop(50 * time.Millisecond); !errors.Is(err, utils.ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got: %v", err)
	}
}

func TestFakeRecordedEvents(t *testing.T) {
	res := utils.FakeRecordedEvents("user_events-test", []utils.FakeEvent{
		{Type: "CreateUser", Data: map[string]string{"username": "test"}},
		{Type: "LoginUser", Data: map[string]string{"username": "test"}},
	})

	if len(res) != 2 {
		t.Fatalf("expected 2 events, got %d", len(res))
	}

	if res[1].EventNumber != 1 || res[1].Position.Commit != 2 {
		t.Fatalf("unexpected numbering: %d at %d", res[1].EventNumber, res[1].Position.Commit)
	}

	if string(res[0].Data) != `{"username":"test"}` {
		t.Fatalf("unexpected data: %s", res[0].Data)
	}
}
