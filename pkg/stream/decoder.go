package stream

import (
	"bytes"
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/EmilyShepherd/vumi-bridge-go/types"
)

var (
	ErrEmptyRecord    = errors.New("empty record")
	ErrRecordTooLarge = errors.New("record exceeds maximum size")
)

// DefaultUnmarshal behaves like encoding/json.
var DefaultUnmarshal UnmarshalFunc = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal

type DecoderOption func(*decoderOptions)

type decoderOptions struct {
	unmarshal      UnmarshalFunc
	maxRecordBytes int
}

// WithUnmarshal replaces the JSON decoder used for each record.
func WithUnmarshal(fn UnmarshalFunc) DecoderOption {
	return func(opts *decoderOptions) {
		opts.unmarshal = fn
	}
}

// WithMaxRecordBytes caps the size of a single record. Records that grow
// past the limit are reported once with ErrRecordTooLarge and skipped up
// to their terminator. Zero means no limit.
func WithMaxRecordBytes(n int) DecoderOption {
	return func(opts *decoderOptions) {
		opts.maxRecordBytes = n
	}
}

// FrameDecoder splits arbitrarily chunked input into newline terminated
// records and decodes each one into a T.
//
// The decoder holds no I/O state. Its buffer only ever contains the bytes
// after the last newline seen, so a record split across any number of
// Feed calls decodes exactly as if it had arrived in one.
//
// A FrameDecoder is not safe for concurrent use.
type FrameDecoder[T any, PT types.Message[T]] struct {
	opts     decoderOptions
	buf      []byte
	skipping bool
}

func NewFrameDecoder[T any, PT types.Message[T]](opt ...DecoderOption) *FrameDecoder[T, PT] {
	opts := decoderOptions{
		unmarshal: DefaultUnmarshal,
	}
	for _, o := range opt {
		o(&opts)
	}

	return &FrameDecoder[T, PT]{opts: opts}
}

// Feed appends chunk to the buffer and returns an event for every record
// completed by it, in order. Malformed records produce a DecodeError
// event and do not stop the remaining records from being decoded.
func (d *FrameDecoder[T, PT]) Feed(chunk []byte) []types.Event[T] {
	d.buf = append(d.buf, chunk...)

	var events []types.Event[T]
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		record := d.buf[start : start+i]
		start += i + 1

		if d.skipping {
			// Tail of a record already reported as too large.
			d.skipping = false
			continue
		}
		events = append(events, d.decode(record))
	}

	n := copy(d.buf, d.buf[start:])
	d.buf = d.buf[:n]

	if limit := d.opts.maxRecordBytes; limit > 0 && len(d.buf) > limit {
		if !d.skipping {
			events = append(events, decodeError[T](d.buf[:limit], ErrRecordTooLarge))
			d.skipping = true
		}
		d.buf = d.buf[:0]
	}

	return events
}

// Pending returns the number of buffered bytes not yet terminated by a
// newline.
func (d *FrameDecoder[T, PT]) Pending() int {
	return len(d.buf)
}

// Reset drops any unterminated fragment and returns its length. An
// incomplete trailing record is not an error; callers may log it.
func (d *FrameDecoder[T, PT]) Reset() int {
	n := len(d.buf)
	d.buf = d.buf[:0]
	d.skipping = false
	return n
}

func (d *FrameDecoder[T, PT]) decode(record []byte) types.Event[T] {
	if limit := d.opts.maxRecordBytes; limit > 0 && len(record) > limit {
		return decodeError[T](record[:limit], ErrRecordTooLarge)
	}
	if len(bytes.TrimSpace(record)) == 0 {
		return decodeError[T](record, ErrEmptyRecord)
	}

	var t T
	if err := d.opts.unmarshal(record, &t); err != nil {
		return decodeError[T](record, err)
	}
	if err := PT(&t).Validate(); err != nil {
		return decodeError[T](record, err)
	}

	return types.Event[T]{
		Type:   types.EventTypeMessage,
		Object: &t,
	}
}

// decodeError copies record, as the decoder reuses its buffer. Oversized
// records are passed in already cut to the size limit.
func decodeError[T any](record []byte, err error) types.Event[T] {
	return types.Event[T]{
		Type: types.EventTypeDecodeError,
		Err: &types.DecodeError{
			Raw: bytes.Clone(record),
			Err: err,
		},
	}
}
