package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrStopTimeout = errors.New("failed to finish within timeout")

// StartStop runs a blocking function until Stop cancels its context.
type StartStop struct {
	ctx          context.Context
	cancel       context.CancelFunc
	doneCh       chan struct{}
	once         sync.Once
	err          error
	blockingFunc func(context.Context) error
}

func NewStartStop(ctx context.Context, blockingFunc func(context.Context) error) *StartStop {
	cancelableCtx, cancel := context.WithCancel(ctx)

	return &StartStop{
		ctx:          cancelableCtx,
		cancel:       cancel,
		doneCh:       make(chan struct{}),
		blockingFunc: blockingFunc,
	}
}

// Start blocks until the function returns. Only the first call runs it.
func (h *StartStop) Start() error {
	started := false
	h.once.Do(func() {
		started = true
		defer close(h.doneCh)
		h.err = h.blockingFunc(h.ctx)
	})
	if !started {
		return errors.New("already started")
	}
	return h.err
}

// Done is closed once the function returns.
func (h *StartStop) Done() <-chan struct{} {
	return h.doneCh
}

func (h *StartStop) Stop(timeout time.Duration) error {
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return ErrStopTimeout
	case <-h.doneCh:
		return nil
	}
}
