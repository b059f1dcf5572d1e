package types

import (
	"fmt"
)

// Message is the constraint every streamed domain object satisfies. The
// pointer type is what gets decoded into and what consumers receive.
type Message[T any] interface {
	*T

	// Validate is the domain constructor check run after JSON decoding.
	// A non-nil error turns the record into a DecodeError.
	Validate() error
}

type EventType string

const (
	EventTypeMessage        EventType = "MESSAGE"
	EventTypeDecodeError    EventType = "DECODE_ERROR"
	EventTypeTransportError EventType = "TRANSPORT_ERROR"
	EventTypeDisconnected   EventType = "DISCONNECTED"
)

const (
	// ReasonClean is the Disconnected reason when the remote ended the
	// response body normally.
	ReasonClean = "clean"

	// ReasonCancelled is the Disconnected reason when the stream was
	// stopped locally.
	ReasonCancelled = "cancelled"
)

// Event represents a single occurrence on a stream. Exactly one of Object,
// Err or Disconnect is meaningful, depending on Type.
type Event[T any] struct {
	Type       EventType
	Object     *T
	Err        error
	Disconnect Disconnect
}

// Disconnect describes a lifecycle event handed to the disconnect
// callback. TransportError disconnects are always followed by a
// Disconnected one carrying the same reason.
type Disconnect struct {
	Type   EventType
	Reason string
	Err    error
}

// Terminal reports whether this is the final event of a stream.
func (d Disconnect) Terminal() bool {
	return d.Type == EventTypeDisconnected
}

// Clean reports whether the remote closed the stream in an orderly way.
func (d Disconnect) Clean() bool {
	return d.Type == EventTypeDisconnected && d.Reason == ReasonClean
}

// Cancelled reports whether the stream was stopped locally.
func (d Disconnect) Cancelled() bool {
	return d.Type == EventTypeDisconnected && d.Reason == ReasonCancelled
}

func (d Disconnect) String() string {
	return fmt.Sprintf("%s(%s)", d.Type, d.Reason)
}

// DecodeError is reported for a single record that could not be turned
// into a domain object. It never ends the stream.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unable to decode record %q: %v", truncate(e.Raw, 64), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CallbackError wraps a failure raised by a consumer callback while an
// event was being delivered.
type CallbackError struct {
	Event EventType
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback failed: %v", e.Event, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
