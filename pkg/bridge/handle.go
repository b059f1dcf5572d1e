package bridge

import (
	"context"
	"sync/atomic"
)

// Handle is the caller's view of an open stream. It is safe for
// concurrent use.
type Handle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	// err is written once before done is closed.
	err error
}

func newHandle(parent context.Context, id string) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID identifies the stream in logs.
func (h *Handle) ID() string {
	return h.id
}

// Stop aborts the stream without waiting. It may be called any number of
// times, from any goroutine, including from inside a stream callback.
func (h *Handle) Stop() {
	h.cancel()
}

// Done is closed once the stream's terminal Disconnected event has been
// delivered. No callback runs after Done is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close stops the stream and waits for it to finish. Once Close returns
// no further callbacks are invoked for this stream. Close must not be
// called from inside a stream callback, as it would wait on itself; use
// Stop there instead.
//
// The returned error is the one reported by Err.
func (h *Handle) Close() error {
	h.Stop()
	<-h.done
	return h.err
}

// Err returns the transport failure that ended the stream, or nil if it
// ended cleanly or was cancelled. It returns nil until Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// State reports where the stream is in its lifecycle.
func (h *Handle) State() State {
	s := State(h.state.Load())
	if s != StateClosed && h.stopping() {
		return StateClosing
	}
	return s
}

// stopping returns true if Stop() was called or the parent context ended.
func (h *Handle) stopping() bool {
	return h.ctx.Err() != nil
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}
