// Package stream implements the pieces that turn a raw byte stream into
// a sequence of domain objects: an incremental newline-delimited JSON
// decoder, and a queue that lets decoded objects be handed off to
// slower consumers without blocking the reader.
package stream

// UnmarshalFunc hydrates v from a single JSON document.
type UnmarshalFunc func(data []byte, v any) error

// Stream yields values one at a time. Next blocks until a value is
// available and returns io.EOF once the stream is exhausted.
type Stream[T any] interface {
	Next() (T, error)
}
