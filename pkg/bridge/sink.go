package bridge

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/EmilyShepherd/vumi-bridge-go/pkg/metrics"
	"github.com/EmilyShepherd/vumi-bridge-go/types"
)

// Handlers are the consumer callbacks bound to a stream when it is
// opened. Any of them may be nil.
//
// Callbacks for one stream are never called concurrently and always in
// the order the events were produced. They run on the goroutine reading
// the stream, so a slow callback stalls the stream.
type Handlers[T any, PT types.Message[T]] struct {
	// Message receives every successfully decoded object. Returning an
	// error reports it to Error as a *types.CallbackError.
	Message func(PT) error

	// Error receives *types.DecodeError for records that could not be
	// decoded, and *types.CallbackError for failed callbacks.
	Error func(error)

	// Disconnect receives lifecycle events: a TransportError followed by
	// its terminal Disconnected, or a lone terminal Disconnected.
	Disconnect func(types.Disconnect)
}

// sink routes events to Handlers. It is only ever used from the stream's
// own goroutine.
type sink[T any, PT types.Message[T]] struct {
	handlers Handlers[T, PT]
	log      zerolog.Logger
	closed   bool
}

func (s *sink[T, PT]) deliver(e types.Event[T]) {
	if s.closed {
		return
	}
	metrics.RecordEvent(e.Type)

	switch e.Type {
	case types.EventTypeMessage:
		if s.handlers.Message == nil {
			return
		}
		err := protect(func() error {
			return s.handlers.Message(PT(e.Object))
		})
		if err != nil {
			s.reportError(&types.CallbackError{Event: e.Type, Err: err})
		}
	case types.EventTypeDecodeError:
		s.log.Debug().Err(e.Err).Msg("dropping undecodable record")
		s.reportError(e.Err)
	case types.EventTypeTransportError, types.EventTypeDisconnected:
		s.disconnect(e.Disconnect)
	}
}

// deliverBatch hands over every event derived from one chunk. The batch
// is dropped entirely if the stream is stopping, so a concurrent Stop
// never splits a chunk's events either side of the cancelled disconnect.
func (s *sink[T, PT]) deliverBatch(h *Handle, events []types.Event[T]) bool {
	if h.stopping() {
		return false
	}
	for _, e := range events {
		s.deliver(e)
	}
	return true
}

// terminate delivers the final Disconnected event. Nothing is delivered
// after it.
func (s *sink[T, PT]) terminate(d types.Disconnect) {
	if s.closed {
		return
	}
	metrics.RecordDisconnect(d)
	s.deliver(types.Event[T]{Type: types.EventTypeDisconnected, Disconnect: d})
	s.closed = true
}

func (s *sink[T, PT]) reportError(err error) {
	if s.handlers.Error == nil {
		s.log.Warn().Err(err).Msg("stream error with no error handler")
		return
	}
	if cbErr := protect(func() error {
		s.handlers.Error(err)
		return nil
	}); cbErr != nil {
		s.log.Error().Err(cbErr).AnErr("reported", err).Msg("error callback failed")
	}
}

func (s *sink[T, PT]) disconnect(d types.Disconnect) {
	if s.handlers.Disconnect == nil {
		return
	}
	if err := protect(func() error {
		s.handlers.Disconnect(d)
		return nil
	}); err != nil {
		s.log.Error().Err(err).Str("disconnect", d.String()).Msg("disconnect callback failed")
	}
}

// protect runs fn, turning a panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
