// Package bridge opens long lived HTTP streams of newline delimited JSON
// and republishes each decoded object to consumer callbacks.
package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/EmilyShepherd/vumi-bridge-go/pkg/client"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/metrics"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/stream"
	"github.com/EmilyShepherd/vumi-bridge-go/types"
)

const defaultReadBufferSize = 32 * 1024

// Doer sends a request and returns the response with its body unread.
// *client.Client implements it.
type Doer interface {
	Do(ctx context.Context, r client.Request) (*http.Response, error)
}

type Option func(opts *options)

type options struct {
	log            zerolog.Logger
	decoderOptions []stream.DecoderOption
	readBufferSize int
}

func WithLogger(log zerolog.Logger) Option {
	return func(opts *options) {
		opts.log = log
	}
}

func WithDecoderOptions(o ...stream.DecoderOption) Option {
	return func(opts *options) {
		opts.decoderOptions = append(opts.decoderOptions, o...)
	}
}

// WithReadBufferSize sets the largest chunk read from the response body
// in one go.
func WithReadBufferSize(n int) Option {
	return func(opts *options) {
		if n > 0 {
			opts.readBufferSize = n
		}
	}
}

// streamWatcher owns one streaming request, its decoder and its sink.
// Everything except the handle is confined to the run goroutine.
type streamWatcher[T any, PT types.Message[T]] struct {
	handle  *Handle
	client  Doer
	req     client.Request
	decoder *stream.FrameDecoder[T, PT]
	sink    *sink[T, PT]
	log     zerolog.Logger
	bufSize int
}

// Open starts streaming req in the background and returns immediately.
//
// Every record of the response body is decoded into a T and handed to
// h.Message; records that fail to decode go to h.Error. The stream ends
// with exactly one Disconnected event: "clean" when the server ends the
// body, "cancelled" after Stop/Close or cancellation of ctx, or the
// failure reason (preceded by a TransportError) when the connection
// fails. The stream is never retried.
func Open[T any, PT types.Message[T]](ctx context.Context, c Doer, req client.Request, h Handlers[T, PT], opt ...Option) *Handle {
	opts := options{
		log:            zerolog.Nop(),
		readBufferSize: defaultReadBufferSize,
	}
	for _, o := range opt {
		o(&opts)
	}

	id := uuid.NewString()
	log := opts.log.With().Str("stream_id", id).Str("url", req.URL).Logger()

	sw := &streamWatcher[T, PT]{
		handle:  newHandle(ctx, id),
		client:  c,
		req:     req,
		decoder: stream.NewFrameDecoder[T, PT](opts.decoderOptions...),
		sink:    &sink[T, PT]{handlers: h, log: log},
		log:     log,
		bufSize: opts.readBufferSize,
	}

	metrics.StreamOpened()
	go sw.run()

	return sw.handle
}

func (sw *streamWatcher[T, PT]) run() {
	defer close(sw.handle.done)
	defer metrics.StreamClosed()

	sw.finish(sw.pump())
}

// pump connects and reads the response body, returning the terminal
// disconnect once the body is closed.
func (sw *streamWatcher[T, PT]) pump() types.Disconnect {
	sw.handle.setState(StateConnecting)
	resp, err := sw.client.Do(sw.handle.ctx, sw.req)
	if err != nil {
		return sw.failed(err)
	}
	defer resp.Body.Close()

	sw.log.Info().Int("status", resp.StatusCode).Msg("stream connected")
	sw.handle.setState(StateStreaming)
	return sw.receive(resp.Body)
}

// receive reads chunks from the body and feeds them through the decoder
// to the sink, until the body ends or the stream is stopped.
func (sw *streamWatcher[T, PT]) receive(body io.Reader) types.Disconnect {
	buf := make([]byte, sw.bufSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			metrics.RecordBytes(n)
			if !sw.sink.deliverBatch(sw.handle, sw.decoder.Feed(buf[:n])) {
				return cancelled()
			}
		}
		if err != nil {
			switch {
			case sw.handle.stopping():
				return cancelled()
			case errors.Is(err, io.EOF):
				return types.Disconnect{Type: types.EventTypeDisconnected, Reason: types.ReasonClean}
			default:
				return sw.failed(err)
			}
		}
	}
}

// failed delivers a TransportError and returns the matching terminal
// disconnect. A failure caused by the stream being stopped is reported
// as a cancellation instead.
func (sw *streamWatcher[T, PT]) failed(err error) types.Disconnect {
	if sw.handle.stopping() {
		return cancelled()
	}

	sw.handle.setState(StateErred)
	sw.log.Warn().Err(err).Msg("stream transport failed")

	d := types.Disconnect{Type: types.EventTypeTransportError, Reason: err.Error(), Err: err}
	sw.sink.deliver(types.Event[T]{Type: types.EventTypeTransportError, Disconnect: d})

	d.Type = types.EventTypeDisconnected
	return d
}

func (sw *streamWatcher[T, PT]) finish(d types.Disconnect) {
	sw.handle.setState(StateClosing)

	if n := sw.decoder.Reset(); n > 0 {
		sw.log.Debug().Int("bytes", n).Msg("discarding incomplete trailing record")
	}

	sw.log.Info().Str("reason", d.Reason).Msg("stream disconnected")
	sw.sink.terminate(d)
	sw.handle.err = d.Err
	sw.handle.setState(StateClosed)
}

func cancelled() types.Disconnect {
	return types.Disconnect{Type: types.EventTypeDisconnected, Reason: types.ReasonCancelled}
}
